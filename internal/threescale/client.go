package threescale

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"threescale-authorizer/internal/domain"
	"threescale-authorizer/internal/metrics"
)

const (
	OpAuthRep        = "authrep"
	OpOAuthAuthorize = "oauth_authorize"
	OpReport         = "report"
)

// Config carries the credentials of one 3scale service.
type Config struct {
	Host         string
	ProviderKey  string
	ServiceToken string
	ServiceID    string
	Timeout      time.Duration
}

// Client talks to the 3scale Service Management API. It never retries.
// All calls share one connection pool to the backend host.
type Client struct {
	cfg  Config
	http *fiber.Client
	hc   *fasthttp.HostClient
}

func NewClient(cfg Config) *Client {
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &fiber.Client{UserAgent: "threescale-authorizer"},
		hc:   newHostClient(cfg.Host),
	}
}

// newHostClient builds the pooled client for host. An unparsable host yields nil
// and requests fall back to the per-request client the agent creates.
func newHostClient(host string) *fasthttp.HostClient {
	u, err := url.Parse(host)
	if err != nil || u.Host == "" {
		return nil
	}
	isTLS := strings.EqualFold(u.Scheme, "https")
	addr := u.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		port := "80"
		if isTLS {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	return &fasthttp.HostClient{
		Addr:                addr,
		IsTLS:               isTLS,
		Name:                "threescale-authorizer",
		MaxIdleConnDuration: 90 * time.Second,
	}
}

// AuthRepUserKey authorizes userKey and counts one hit in a single call.
func (c *Client) AuthRepUserKey(ctx context.Context, userKey string) (*Result, error) {
	q := url.Values{}
	q.Set("provider_key", c.cfg.ProviderKey)
	q.Set("service_id", c.cfg.ServiceID)
	q.Set("user_key", userKey)
	q.Set("usage[hits]", "1")

	start := time.Now()
	status, body, err := c.do(ctx, c.cfg.Host+"/transactions/authrep.xml?"+q.Encode(), nil)
	if err != nil {
		err = &domain.AuthorityError{Op: OpAuthRep, Err: err}
		metrics.ObserveAuthority(OpAuthRep, start, err)
		return nil, err
	}
	res, err := parseAuthorization(OpAuthRep, status, body)
	metrics.ObserveAuthority(OpAuthRep, start, err)
	return res, err
}

// OAuthAuthorize authorizes appID without reporting usage.
func (c *Client) OAuthAuthorize(ctx context.Context, appID string) (*Result, error) {
	q := url.Values{}
	q.Set("service_token", c.cfg.ServiceToken)
	q.Set("service_id", c.cfg.ServiceID)
	q.Set("app_id", appID)

	start := time.Now()
	status, body, err := c.do(ctx, c.cfg.Host+"/transactions/oauth_authorize.xml?"+q.Encode(), nil)
	if err != nil {
		err = &domain.AuthorityError{Op: OpOAuthAuthorize, Err: err}
		metrics.ObserveAuthority(OpOAuthAuthorize, start, err)
		return nil, err
	}
	res, err := parseAuthorization(OpOAuthAuthorize, status, body)
	metrics.ObserveAuthority(OpOAuthAuthorize, start, err)
	return res, err
}

// Report records hits for appID. The backend answers 202 Accepted with an empty body.
func (c *Client) Report(ctx context.Context, appID string, hits int) error {
	form := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(form)
	form.Set("service_token", c.cfg.ServiceToken)
	form.Set("service_id", c.cfg.ServiceID)
	form.Set("transactions[0][app_id]", appID)
	form.Set("transactions[0][usage][hits]", strconv.Itoa(hits))

	start := time.Now()
	status, body, err := c.do(ctx, c.cfg.Host+"/transactions.xml", form)
	switch {
	case err != nil:
		err = &domain.AuthorityError{Op: OpReport, Err: err}
	case status < 200 || status > 299:
		if len(body) > 0 {
			err = parseError(OpReport, status, body)
		} else {
			err = &domain.AuthorityError{Op: OpReport, StatusCode: status}
		}
	}
	metrics.ObserveAuthority(OpReport, start, err)
	return err
}

// do performs a GET, or a form POST when form is non-nil. The request timeout is
// capped by the context deadline and a context that ended during the call turns
// the response into an error, so callers never act on a truncated exchange.
func (c *Client) do(ctx context.Context, target string, form *fiber.Args) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return 0, nil, context.DeadlineExceeded
	}

	var agent *fiber.Agent
	if form != nil {
		agent = c.http.Post(target).Form(form)
	} else {
		agent = c.http.Get(target)
	}
	if c.hc != nil {
		agent.HostClient = c.hc
	}
	agent.Timeout(timeout)

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return status, nil, errors.Join(errs...)
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	return status, body, nil
}
