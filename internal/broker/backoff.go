package broker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Log-Tools/linepipe/internal/config"
)

// Backoff configures exponential backoff retry behavior
type Backoff struct {
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound for any single delay
	Multiplier   float64       // Growth factor between attempts
	MaxAttempts  int           // 0 retries until the context is cancelled
}

// BackoffFromConfig converts the connect_retry settings
func BackoffFromConfig(cfg config.RetryConfig) Backoff {
	return Backoff{
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
		MaxAttempts:  cfg.MaxAttempts,
	}
}

// Delay returns how long to wait after the given failed attempt (0-based)
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * b.Multiplier)
		if b.MaxDelay > 0 && delay >= b.MaxDelay {
			return b.MaxDelay
		}
	}
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		return b.MaxDelay
	}
	return delay
}

// Retry calls fn until it succeeds, attempts run out or ctx is cancelled.
// The last error from fn is returned when attempts run out.
func Retry(ctx context.Context, b Backoff, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; b.MaxAttempts == 0 || attempt < b.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if b.MaxAttempts != 0 && attempt == b.MaxAttempts-1 {
			break
		}

		delay := b.Delay(attempt)
		log.Printf("⚠️ %s failed (attempt %d): %v; retrying in %s", operation, attempt+1, lastErr, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operation, b.MaxAttempts, lastErr)
}

// WaitForBroker blocks until the cluster answers a metadata request
func WaitForBroker(ctx context.Context, prober MetadataProber, b Backoff, timeoutMs int) error {
	return Retry(ctx, b, "kafka metadata request", func() error {
		metadata, err := prober.GetMetadata(nil, false, timeoutMs)
		if err != nil {
			return err
		}
		log.Printf("✅ Connected to Kafka cluster with %d brokers", len(metadata.Brokers))
		return nil
	})
}
