// Package reporter handles the messages the decision engine publishes for cached
// tokens. It re-checks each token with 3scale, counts the hit, and reconciles
// the token cache with the answer.
package reporter

import (
	"context"
	"errors"

	"threescale-authorizer/internal/config"
	"threescale-authorizer/internal/dispatch"
	"threescale-authorizer/internal/domain"
	"threescale-authorizer/internal/infra/logging"
	"threescale-authorizer/internal/metrics"
	"threescale-authorizer/internal/threescale"
	"threescale-authorizer/internal/tokens"
)

// Authority is the part of the 3scale client the reporter needs.
type Authority interface {
	AuthRepUserKey(ctx context.Context, userKey string) (*threescale.Result, error)
	OAuthAuthorize(ctx context.Context, appID string) (*threescale.Result, error)
	Report(ctx context.Context, appID string, hits int) error
}

// Result names what a reporting run did to the cache and upstream.
type Result string

const (
	ResultRefreshed    Result = "refreshed"     // user key re-authorized, fingerprint rewritten
	ResultReported     Result = "reported"      // app authorized and hit reported
	ResultReportFailed Result = "report_failed" // app authorized, usage report rejected
	ResultRevoked      Result = "revoked"       // authorization failed, entry deleted
	ResultInvalid      Result = "invalid"       // message unusable in this mode
)

// Report is the outcome of handling one message.
type Report struct {
	Token  string
	Result Result
	Err    error
}

type Reporter struct {
	mode      config.Mode
	serviceID string
	cache     tokens.Cache
	authority Authority
}

func New(mode config.Mode, serviceID string, cache tokens.Cache, authority Authority) (*Reporter, error) {
	if mode != config.ModeUserKey && mode != config.ModeOAuth {
		return nil, domain.ErrUnknownMode
	}
	return &Reporter{mode: mode, serviceID: serviceID, cache: cache, authority: authority}, nil
}

// Handle processes one message and always returns; failures are carried in the Report.
func (r *Reporter) Handle(ctx context.Context, msg dispatch.Message) Report {
	var rep Report
	switch r.mode {
	case config.ModeOAuth:
		rep = r.handleOAuth(ctx, msg)
	default:
		rep = r.handleUserKey(ctx, msg)
	}

	metrics.Reports.WithLabelValues(string(r.mode), string(rep.Result)).Inc()
	if rep.Err != nil {
		logging.Warn("Reporting finished with errors",
			"mode", r.mode, "token", logging.Redact(rep.Token), "result", rep.Result, "error", rep.Err)
	} else {
		logging.Info("Reporting finished", "mode", r.mode, "token", logging.Redact(rep.Token), "result", rep.Result)
	}
	return rep
}

// Handler adapts the reporter to the stream consumer.
func (r *Reporter) Handler() dispatch.Handler {
	return func(ctx context.Context, msg dispatch.Message) {
		r.Handle(ctx, msg)
	}
}

func (r *Reporter) handleOAuth(ctx context.Context, msg dispatch.Message) Report {
	rep := Report{Token: msg.Token}
	if msg.AppID == "" {
		rep.Result = ResultInvalid
		rep.Err = errors.Join(domain.ErrInvalidMessage, errors.New("oauth message without app_id"))
		return rep
	}

	if _, err := r.authority.OAuthAuthorize(ctx, msg.AppID); err != nil {
		rep.Result = ResultRevoked
		rep.Err = errors.Join(err, r.revoke(ctx, msg.Token))
		return rep
	}

	if err := r.authority.Report(ctx, msg.AppID, 1); err != nil {
		rep.Result = ResultReportFailed
		rep.Err = err
		return rep
	}
	rep.Result = ResultReported
	return rep
}

func (r *Reporter) handleUserKey(ctx context.Context, msg dispatch.Message) Report {
	rep := Report{Token: msg.Token}

	res, err := r.authority.AuthRepUserKey(ctx, msg.Token)
	if err == nil && ctx.Err() != nil {
		err = &domain.AuthorityError{Op: threescale.OpAuthRep, Err: ctx.Err()}
	}
	if err != nil {
		rep.Result = ResultRevoked
		rep.Err = errors.Join(err, r.revoke(ctx, msg.Token))
		return rep
	}

	rep.Result = ResultRefreshed
	if err := r.cache.Set(ctx, msg.Token, tokens.Fingerprint(r.serviceID, res.Metrics())); err != nil {
		metrics.CacheErrors.WithLabelValues("set").Inc()
		rep.Err = err
	}
	return rep
}

// revoke deletes the cache entry of token. Deletion is the only way access is
// withdrawn, so a failure here is surfaced alongside the authority error.
func (r *Reporter) revoke(ctx context.Context, token string) error {
	if err := r.cache.Delete(ctx, token); err != nil {
		metrics.CacheErrors.WithLabelValues("delete").Inc()
		return err
	}
	return nil
}
