package port

import "context"

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// DeleteIdempotency releases a claimed key so the same request id can be
	// retried after a failed checkout
	DeleteIdempotency(ctx context.Context, key string) error
}
