// Package authorizer decides whether an inbound token may reach a protected
// resource. Cached tokens are allowed immediately and handed to the async
// reporter; uncached user keys are checked against 3scale synchronously.
package authorizer

import (
	"context"
	"errors"
	"strings"

	"threescale-authorizer/internal/config"
	"threescale-authorizer/internal/dispatch"
	"threescale-authorizer/internal/domain"
	"threescale-authorizer/internal/infra/logging"
	"threescale-authorizer/internal/metrics"
	"threescale-authorizer/internal/policy"
	"threescale-authorizer/internal/threescale"
	"threescale-authorizer/internal/tokens"
)

// Path records how a decision was reached.
type Path string

const (
	PathCacheHit  Path = "cache_hit"
	PathCacheMiss Path = "cache_miss"
	PathAuthority Path = "authority"
	PathNoToken   Path = "no_token"
)

// Outcome is the result of one decision. Err carries every failure observed on
// the way, including those that did not change the effect, such as a failed
// publish after an Allow.
type Outcome struct {
	Effect   policy.Effect
	Path     Path
	Resource string
	Err      error
}

// Allowed reports whether the caller is let through.
func (o Outcome) Allowed() bool { return o.Effect == policy.Allow }

// Response renders the outcome as an API Gateway authorizer response.
func (o Outcome) Response() policy.Response {
	return policy.Render(policy.Principal, o.Effect, o.Resource)
}

// UserKeyAuthority authorizes a user key and counts one hit in the same call.
type UserKeyAuthority interface {
	AuthRepUserKey(ctx context.Context, userKey string) (*threescale.Result, error)
}

// Engine is the decision engine. Its mode is fixed at construction.
type Engine struct {
	mode      config.Mode
	serviceID string
	cache     tokens.Cache
	authority UserKeyAuthority
	publisher dispatch.Publisher

	decide func(ctx context.Context, token string) Outcome
}

// NewEngine builds an engine for mode. The authority is only consulted in user
// key mode and may be nil in OAuth mode.
func NewEngine(mode config.Mode, serviceID string, cache tokens.Cache, authority UserKeyAuthority, publisher dispatch.Publisher) (*Engine, error) {
	e := &Engine{
		mode:      mode,
		serviceID: serviceID,
		cache:     cache,
		authority: authority,
		publisher: publisher,
	}
	switch mode {
	case config.ModeUserKey:
		if authority == nil {
			return nil, errors.New("user key mode needs an authority client")
		}
		e.decide = e.decideUserKey
	case config.ModeOAuth:
		e.decide = e.decideOAuth
	default:
		return nil, domain.ErrUnknownMode
	}
	return e, nil
}

func (e *Engine) Mode() config.Mode { return e.mode }

// Authorize decides whether token may invoke resource.
func (e *Engine) Authorize(ctx context.Context, token, resource string) Outcome {
	var out Outcome
	if strings.TrimSpace(token) == "" {
		out = Outcome{Effect: policy.Deny, Path: PathNoToken, Err: domain.ErrMissingToken}
	} else {
		out = e.decide(ctx, token)
	}
	out.Resource = resource

	metrics.Decisions.WithLabelValues(string(e.mode), string(out.Effect), string(out.Path)).Inc()
	logging.Info("Authorization decision",
		"mode", e.mode,
		"token", logging.Redact(token),
		"effect", out.Effect,
		"path", out.Path,
		"resource", resource,
		"error", out.Err,
	)
	return out
}

// lookup reads the cache. A backend failure is reported as a miss together with
// the error, so the caller can fall through to the miss branch.
func (e *Engine) lookup(ctx context.Context, token string) (string, bool, error) {
	value, found, err := e.cache.Get(ctx, token)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("get").Inc()
		logging.Warn("Token cache lookup failed, treating as miss", "token", logging.Redact(token), "error", err)
		return "", false, err
	}
	return value, found, nil
}

func (e *Engine) publish(ctx context.Context, msg dispatch.Message) error {
	if err := e.publisher.Publish(ctx, msg); err != nil {
		metrics.DispatchFailures.Inc()
		logging.Error("Publishing reporting message failed", "token", logging.Redact(msg.Token), "error", err)
		if !domain.IsDispatchError(err) {
			err = &domain.DispatchError{Err: err}
		}
		return err
	}
	return nil
}

func (e *Engine) decideOAuth(ctx context.Context, token string) Outcome {
	appID, found, cacheErr := e.lookup(ctx, token)
	if !found {
		return Outcome{
			Effect: policy.Deny,
			Path:   PathCacheMiss,
			Err:    errors.Join(domain.ErrTokenNotCached, cacheErr),
		}
	}

	err := e.publish(ctx, dispatch.Message{Token: token, AppID: appID})
	return Outcome{Effect: policy.Allow, Path: PathCacheHit, Err: err}
}

func (e *Engine) decideUserKey(ctx context.Context, token string) Outcome {
	_, found, cacheErr := e.lookup(ctx, token)
	if found {
		err := e.publish(ctx, dispatch.Message{Token: token})
		return Outcome{Effect: policy.Allow, Path: PathCacheHit, Err: err}
	}

	res, err := e.authority.AuthRepUserKey(ctx, token)
	if err == nil && ctx.Err() != nil {
		err = &domain.AuthorityError{Op: threescale.OpAuthRep, Err: ctx.Err()}
	}
	if err != nil {
		logging.Warn("Authority rejected user key", "token", logging.Redact(token), "error", err)
		return Outcome{Effect: policy.Deny, Path: PathAuthority, Err: errors.Join(cacheErr, err)}
	}

	if err := e.cache.Set(ctx, token, tokens.Fingerprint(e.serviceID, res.Metrics())); err != nil {
		metrics.CacheErrors.WithLabelValues("set").Inc()
		logging.Warn("Caching authorized user key failed", "token", logging.Redact(token), "error", err)
		cacheErr = errors.Join(cacheErr, err)
	}
	return Outcome{Effect: policy.Allow, Path: PathAuthority, Err: cacheErr}
}
