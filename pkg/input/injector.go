package input

import (
	"context"
	"fmt"
	"time"

	"github.com/keycast/keycast/pkg/logging"
)

// Injector retries failed sends with fixed spacing. Scheduled sends go
// through Inject and abort mid-retry when the run stops; monitor sends go
// through InjectOnce and never retry.
type Injector struct {
	sender   Sender
	attempts int
	delay    time.Duration
	logger   *logging.Logger
}

// NewInjector creates an injector over the given sender. attempts below 1
// is treated as 1. logger may be nil.
func NewInjector(sender Sender, attempts int, delay time.Duration, logger *logging.Logger) *Injector {
	if attempts < 1 {
		attempts = 1
	}
	return &Injector{
		sender:   sender,
		attempts: attempts,
		delay:    delay,
		logger:   logger,
	}
}

// Inject sends the key, retrying on failure. The wait between attempts is
// cut short when ctx is cancelled, so a stopping run never sits out a full
// retry gap.
func (i *Injector) Inject(ctx context.Context, key Key) error {
	var lastErr error

	for attempt := 1; attempt <= i.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = i.sender.Send(key)
		if lastErr == nil {
			return nil
		}

		if i.logger != nil {
			i.logger.Warn("key send attempt failed",
				"key", key.Name,
				"attempt", attempt,
				"max_attempts", i.attempts,
				"error", lastErr.Error())
		}

		if attempt < i.attempts {
			if err := sleepInterruptible(ctx, i.delay); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("send %s failed after %d attempts: %w", key.Name, i.attempts, lastErr)
}

// InjectOnce sends the key with a single attempt
func (i *Injector) InjectOnce(key Key) error {
	if err := i.sender.Send(key); err != nil {
		return fmt.Errorf("send %s: %w", key.Name, err)
	}
	return nil
}

// sleepInterruptible waits for d or until ctx is cancelled
func sleepInterruptible(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
