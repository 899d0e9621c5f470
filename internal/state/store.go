package state

import "context"

// Store is durable string kv storage. Get reports absence through the bool
// rather than an error so callers can treat missing keys as a normal case.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
