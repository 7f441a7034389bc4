package threescale

import (
	"encoding/xml"
	"strings"

	"threescale-authorizer/internal/domain"
)

// UsageReport is one metric/period counter returned by authrep and oauth_authorize.
type UsageReport struct {
	Metric       string
	Period       string
	PeriodStart  string
	PeriodEnd    string
	MaxValue     int64
	CurrentValue int64
}

// Result is a successful authorization answer.
type Result struct {
	Plan         string
	UsageReports []UsageReport
}

// Metrics returns the metric names in the order the backend reported them.
func (r *Result) Metrics() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.UsageReports))
	for _, u := range r.UsageReports {
		out = append(out, u.Metric)
	}
	return out
}

type statusXML struct {
	XMLName      xml.Name         `xml:"status"`
	Authorized   bool             `xml:"authorized"`
	Reason       string           `xml:"reason"`
	Plan         string           `xml:"plan"`
	UsageReports []usageReportXML `xml:"usage_reports>usage_report"`
}

type usageReportXML struct {
	Metric       string `xml:"metric,attr"`
	Period       string `xml:"period,attr"`
	PeriodStart  string `xml:"period_start"`
	PeriodEnd    string `xml:"period_end"`
	MaxValue     int64  `xml:"max_value"`
	CurrentValue int64  `xml:"current_value"`
}

type errorXML struct {
	XMLName xml.Name `xml:"error"`
	Code    string   `xml:"code,attr"`
	Message string   `xml:",chardata"`
}

// parseAuthorization turns an authrep or oauth_authorize response into a Result,
// or an AuthorityError when the backend refused or failed.
func parseAuthorization(op string, status int, body []byte) (*Result, error) {
	var root struct{ XMLName xml.Name }
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, &domain.AuthorityError{Op: op, StatusCode: status, Err: err}
	}

	switch root.XMLName.Local {
	case "error":
		return nil, parseError(op, status, body)
	case "status":
	default:
		return nil, &domain.AuthorityError{Op: op, StatusCode: status, Reason: "unexpected response element " + root.XMLName.Local}
	}

	var s statusXML
	if err := xml.Unmarshal(body, &s); err != nil {
		return nil, &domain.AuthorityError{Op: op, StatusCode: status, Err: err}
	}
	if !s.Authorized || status < 200 || status > 299 {
		return nil, &domain.AuthorityError{Op: op, StatusCode: status, Reason: strings.TrimSpace(s.Reason)}
	}

	res := &Result{Plan: s.Plan}
	for _, u := range s.UsageReports {
		res.UsageReports = append(res.UsageReports, UsageReport{
			Metric:       u.Metric,
			Period:       u.Period,
			PeriodStart:  u.PeriodStart,
			PeriodEnd:    u.PeriodEnd,
			MaxValue:     u.MaxValue,
			CurrentValue: u.CurrentValue,
		})
	}
	return res, nil
}

func parseError(op string, status int, body []byte) error {
	var e errorXML
	if err := xml.Unmarshal(body, &e); err != nil {
		return &domain.AuthorityError{Op: op, StatusCode: status, Err: err}
	}
	return &domain.AuthorityError{
		Op:         op,
		StatusCode: status,
		Code:       e.Code,
		Reason:     strings.TrimSpace(e.Message),
	}
}
