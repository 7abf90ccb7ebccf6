package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers processed event IDs so subscribers can turn
// at-least-once delivery into exactly-once effects.
type IdempotencyStore interface {
	// MarkProcessed records an event as processed with a TTL. It returns
	// true if the event was newly marked, false if it was already recorded.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether an event has already been processed.
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// Close releases the store's resources.
	Close() error
}

// IdempotencyConfig holds configuration for idempotent event handling
type IdempotencyConfig struct {
	// TTL is how long a processed event ID is remembered. After it expires
	// the same event ID would be processed again.
	TTL time.Duration

	// Enabled toggles idempotency checking. When false, every delivery is
	// handled.
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
