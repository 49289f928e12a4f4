package state

import "context"

// Store is the bot's durable kv state: idempotency-key to order-id
// mappings and finished campaign records.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
