package authorizer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threescale-authorizer/internal/config"
	"threescale-authorizer/internal/dispatch"
	"threescale-authorizer/internal/domain"
	"threescale-authorizer/internal/policy"
	"threescale-authorizer/internal/threescale"
)

const resource = "arn:aws:execute-api:eu-west-1:123456789012:abcdef/prod/GET/pets"

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
	getErr  error
	setErr  error
	sets    int
	deletes int
}

func newFakeCache(entries map[string]string) *fakeCache {
	if entries == nil {
		entries = map[string]string{}
	}
	return &fakeCache{entries: entries}
}

func (c *fakeCache) Get(_ context.Context, token string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", false, c.getErr
	}
	v, ok := c.entries[token]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, token, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[token] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.entries, token)
	return nil
}

type fakeAuthority struct {
	calls   []string
	metrics []string
	err     error
	onCall  func()
}

func (a *fakeAuthority) AuthRepUserKey(_ context.Context, userKey string) (*threescale.Result, error) {
	a.calls = append(a.calls, userKey)
	if a.onCall != nil {
		a.onCall()
	}
	if a.err != nil {
		return nil, a.err
	}
	res := &threescale.Result{}
	for _, m := range a.metrics {
		res.UsageReports = append(res.UsageReports, threescale.UsageReport{Metric: m})
	}
	return res, nil
}

type fakePublisher struct {
	published []dispatch.Message
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, msg dispatch.Message) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	return nil
}

func newEngine(t *testing.T, mode config.Mode, cache *fakeCache, auth *fakeAuthority, pub *fakePublisher) *Engine {
	t.Helper()
	var authority UserKeyAuthority
	if auth != nil {
		authority = auth
	}
	e, err := NewEngine(mode, "svc123", cache, authority, pub)
	require.NoError(t, err)
	return e
}

func TestNewEngine_RejectsUnknownMode(t *testing.T) {
	_, err := NewEngine(config.Mode("saml"), "svc123", newFakeCache(nil), &fakeAuthority{}, &fakePublisher{})
	assert.ErrorIs(t, err, domain.ErrUnknownMode)

	_, err = NewEngine(config.ModeUserKey, "svc123", newFakeCache(nil), nil, &fakePublisher{})
	assert.Error(t, err)
}

func TestUserKey_MissAuthorizedCachesFingerprint(t *testing.T) {
	cache := newFakeCache(nil)
	auth := &fakeAuthority{metrics: []string{"hits", "downloads"}}
	pub := &fakePublisher{}
	e := newEngine(t, config.ModeUserKey, cache, auth, pub)

	out := e.Authorize(context.Background(), "abc", resource)

	assert.Equal(t, policy.Allow, out.Effect)
	assert.Equal(t, PathAuthority, out.Path)
	assert.NoError(t, out.Err)
	assert.Equal(t, "svc123:usage['hits']=1&usage['downloads']=1&", cache.entries["abc"])
	assert.Equal(t, []string{"abc"}, auth.calls)
	assert.Empty(t, pub.published, "a miss is reported by the authrep call itself")
	assert.True(t, out.Allowed())
	assert.Equal(t, policy.Allow, out.Response().PolicyDocument.Statement[0].Effect)
	assert.Equal(t, resource, out.Response().PolicyDocument.Statement[0].Resource)
}

func TestUserKey_MissRejectedDeniesWithoutCacheWrite(t *testing.T) {
	cache := newFakeCache(nil)
	auth := &fakeAuthority{err: &domain.AuthorityError{Op: threescale.OpAuthRep, StatusCode: 403, Code: "user_key_invalid"}}
	e := newEngine(t, config.ModeUserKey, cache, auth, &fakePublisher{})

	out := e.Authorize(context.Background(), "nope", resource)

	assert.Equal(t, policy.Deny, out.Effect)
	assert.Equal(t, PathAuthority, out.Path)
	assert.True(t, domain.IsAuthorityError(out.Err))
	assert.Zero(t, cache.sets)
	assert.Empty(t, cache.entries)
	assert.Len(t, auth.calls, 1)
}

func TestUserKey_HitPublishesTokenWithoutAuthorityCall(t *testing.T) {
	cache := newFakeCache(map[string]string{"abc": "svc123:usage['hits']=1&"})
	auth := &fakeAuthority{}
	pub := &fakePublisher{}
	e := newEngine(t, config.ModeUserKey, cache, auth, pub)

	out := e.Authorize(context.Background(), "abc", resource)

	assert.Equal(t, policy.Allow, out.Effect)
	assert.Equal(t, PathCacheHit, out.Path)
	assert.NoError(t, out.Err)
	assert.Equal(t, []dispatch.Message{{Token: "abc"}}, pub.published)
	assert.Empty(t, auth.calls)
	assert.Zero(t, cache.sets)
}

func TestUserKey_DispatchFailureStillAllows(t *testing.T) {
	cache := newFakeCache(map[string]string{"abc": "svc123:"})
	pub := &fakePublisher{err: errors.New("stream unavailable")}
	e := newEngine(t, config.ModeUserKey, cache, &fakeAuthority{}, pub)

	out := e.Authorize(context.Background(), "abc", resource)

	assert.Equal(t, policy.Allow, out.Effect)
	assert.True(t, domain.IsDispatchError(out.Err))
}

func TestUserKey_CacheLookupFailureFallsThroughToAuthority(t *testing.T) {
	cache := newFakeCache(nil)
	cache.getErr = &domain.CacheError{Op: "get", Err: errors.New("connection refused")}
	auth := &fakeAuthority{metrics: []string{"hits"}}
	e := newEngine(t, config.ModeUserKey, cache, auth, &fakePublisher{})

	out := e.Authorize(context.Background(), "abc", resource)

	assert.Equal(t, policy.Allow, out.Effect)
	assert.Equal(t, PathAuthority, out.Path)
	assert.True(t, domain.IsCacheError(out.Err))
	assert.Len(t, auth.calls, 1)
}

func TestUserKey_CacheWriteFailureStillAllows(t *testing.T) {
	cache := newFakeCache(nil)
	cache.setErr = &domain.CacheError{Op: "set", Err: errors.New("readonly replica")}
	e := newEngine(t, config.ModeUserKey, cache, &fakeAuthority{metrics: []string{"hits"}}, &fakePublisher{})

	out := e.Authorize(context.Background(), "abc", resource)

	assert.Equal(t, policy.Allow, out.Effect)
	assert.True(t, domain.IsCacheError(out.Err))
}

func TestUserKey_ContextDoneAfterAuthorityCallSkipsCacheWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := newFakeCache(nil)
	auth := &fakeAuthority{metrics: []string{"hits"}, onCall: cancel}
	e := newEngine(t, config.ModeUserKey, cache, auth, &fakePublisher{})

	out := e.Authorize(ctx, "abc", resource)

	assert.Equal(t, policy.Deny, out.Effect)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Zero(t, cache.sets)
}

func TestOAuth_HitPublishesTokenAndAppID(t *testing.T) {
	cache := newFakeCache(map[string]string{"tok1": "app9"})
	pub := &fakePublisher{}
	e := newEngine(t, config.ModeOAuth, cache, nil, pub)

	out := e.Authorize(context.Background(), "tok1", resource)

	assert.Equal(t, policy.Allow, out.Effect)
	assert.Equal(t, PathCacheHit, out.Path)
	assert.Equal(t, []dispatch.Message{{Token: "tok1", AppID: "app9"}}, pub.published)
}

func TestOAuth_MissDeniesWithoutAuthorityCall(t *testing.T) {
	auth := &fakeAuthority{}
	pub := &fakePublisher{}
	e, err := NewEngine(config.ModeOAuth, "svc123", newFakeCache(nil), auth, pub)
	require.NoError(t, err)

	out := e.Authorize(context.Background(), "tok1", resource)

	assert.Equal(t, policy.Deny, out.Effect)
	assert.Equal(t, PathCacheMiss, out.Path)
	assert.ErrorIs(t, out.Err, domain.ErrTokenNotCached)
	assert.Empty(t, auth.calls)
	assert.Empty(t, pub.published)
}

func TestOAuth_CacheLookupFailureDenies(t *testing.T) {
	cache := newFakeCache(map[string]string{"tok1": "app9"})
	cache.getErr = &domain.CacheError{Op: "get", Err: errors.New("timeout")}
	e := newEngine(t, config.ModeOAuth, cache, nil, &fakePublisher{})

	out := e.Authorize(context.Background(), "tok1", resource)

	assert.Equal(t, policy.Deny, out.Effect)
	assert.True(t, domain.IsCacheError(out.Err))
	assert.ErrorIs(t, out.Err, domain.ErrTokenNotCached)
}

func TestAuthorize_EmptyTokenDenies(t *testing.T) {
	auth := &fakeAuthority{}
	e := newEngine(t, config.ModeUserKey, newFakeCache(nil), auth, &fakePublisher{})

	out := e.Authorize(context.Background(), "  ", resource)

	assert.Equal(t, policy.Deny, out.Effect)
	assert.Equal(t, PathNoToken, out.Path)
	assert.ErrorIs(t, out.Err, domain.ErrMissingToken)
	assert.Empty(t, auth.calls)
}

func TestAuthorize_AtMostOneAuthorityCallPerDecision(t *testing.T) {
	cache := newFakeCache(nil)
	auth := &fakeAuthority{metrics: []string{"hits"}}
	e := newEngine(t, config.ModeUserKey, cache, auth, &fakePublisher{})

	e.Authorize(context.Background(), "abc", resource)
	e.Authorize(context.Background(), "abc", resource)

	assert.Len(t, auth.calls, 1, "the second decision is served from the cache")
}
