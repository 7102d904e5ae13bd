package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxConsecutiveFailures = 5

// Supervise runs fn and restarts it when it returns an error, backing off
// exponentially between restarts. After five consecutive failures the task
// is abandoned and an operator-visible error is logged. A nil return from
// fn, or context cancellation, ends supervision normally.
func Supervise(ctx context.Context, name string, fn func(context.Context) error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 300 * time.Second
	bo.MaxElapsedTime = 0

	failures := 0
	for {
		started := time.Now()
		err := fn(ctx)
		if time.Since(started) > time.Minute {
			// a long healthy run breaks the failure streak
			failures = 0
			bo.Reset()
		}
		if ctx.Err() != nil {
			slog.Info("supervised task stopped", slog.String("task", name))
			return
		}
		if err == nil {
			slog.Info("supervised task finished", slog.String("task", name))
			return
		}

		failures++
		if failures >= maxConsecutiveFailures {
			slog.Error("supervised task abandoned after repeated failures",
				slog.String("task", name),
				slog.Int("failures", failures),
				slog.String("error", err.Error()))
			return
		}

		wait := bo.NextBackOff()
		slog.Warn("supervised task failed, restarting",
			slog.String("task", name),
			slog.Int("failures", failures),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// RunPeriodic invokes fn on the given interval under supervision until ctx
// is cancelled. Individual tick errors are logged and counted; a run of
// successful ticks resets the failure count.
func RunPeriodic(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	Supervise(ctx, name, func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					return err
				}
			}
		}
	})
}
