package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenNotCached is reported when an OAuth token has no app_id binding in the cache.
	// The caller has to complete the /oauth/token exchange before it is allowed.
	ErrTokenNotCached = errors.New("token not in cache")
	// ErrMissingToken is reported when the inbound request carries no token at all.
	ErrMissingToken = errors.New("missing authorization token")
	// ErrInvalidOpsKey is returned when an ops endpoint is called with an unknown API key.
	ErrInvalidOpsKey = errors.New("invalid api key")
	// ErrUnknownMode is returned for an auth_type that is neither user_key nor oauth.
	ErrUnknownMode = errors.New("unknown auth mode")
	// ErrInvalidMessage is returned when an async reporting message cannot be used.
	ErrInvalidMessage = errors.New("invalid reporting message")
)

// AuthorityError is a rejection or failure reported by the 3scale backend.
type AuthorityError struct {
	Op         string
	StatusCode int
	Code       string
	Reason     string
	Err        error
}

func (e *AuthorityError) Error() string {
	msg := "authority " + e.Op + " failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthorityError) Unwrap() error { return e.Err }

// CacheError wraps a failure of the token cache backend.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string { return "cache " + e.Op + ": " + e.Err.Error() }

func (e *CacheError) Unwrap() error { return e.Err }

// DispatchError wraps a failure to hand a message to the async reporting channel.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string { return "dispatch: " + e.Err.Error() }

func (e *DispatchError) Unwrap() error { return e.Err }

// IsAuthorityError reports whether err carries an AuthorityError.
func IsAuthorityError(err error) bool {
	var ae *AuthorityError
	return errors.As(err, &ae)
}

// IsCacheError reports whether err carries a CacheError.
func IsCacheError(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce)
}

// IsDispatchError reports whether err carries a DispatchError.
func IsDispatchError(err error) bool {
	var de *DispatchError
	return errors.As(err, &de)
}
