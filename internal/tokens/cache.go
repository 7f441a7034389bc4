package tokens

import "context"

// Cache maps a caller token to its cached authorization value: the usage
// fingerprint in user key mode, the app_id in OAuth mode.
//
// Get reports found=false for an absent entry; err is reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, token string) (value string, found bool, err error)
	Set(ctx context.Context, token, value string) error
	Delete(ctx context.Context, token string) error
}
