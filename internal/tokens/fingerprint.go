package tokens

import "strings"

// Fingerprint derives the user key cache value from the metrics the authority
// returned, in the order it returned them. The value is only ever compared for
// presence, never parsed back.
func Fingerprint(serviceID string, metrics []string) string {
	var b strings.Builder
	b.WriteString(serviceID)
	b.WriteByte(':')
	for _, m := range metrics {
		b.WriteString("usage['")
		b.WriteString(m)
		b.WriteString("']=1&")
	}
	return b.String()
}
