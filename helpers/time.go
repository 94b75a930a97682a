package helpers

import (
	"context"
	"time"
)

func IntSecondDefault(x int, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x) * time.Second
}

func IntMillisecondDefault(x int, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x) * time.Millisecond
}

// Sleep returns nil after d, context.Canceled on ctx done,
// ErrInterrupted when stopch is closed first.
func Sleep(ctx context.Context, stopch <-chan struct{}, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-tmr.C:
		return nil

	case <-ctx.Done():
		return context.Canceled

	case <-stopch:
		return ErrInterrupted
	}
}
