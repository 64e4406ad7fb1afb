package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig bounds a retry task.
type RetryConfig struct {
	Interval   time.Duration
	MaxRetries int
	OnSuccess  func()
	OnFailure  func()
}

// StartRetryTask schedules a recurring probe with a bounded number of
// attempts. The task fires immediately, then once per interval; the first
// successful probe cancels the task and invokes OnSuccess, and after
// MaxRetries attempts without success the task cancels itself and invokes
// OnFailure. A probe error counts as a failed attempt.
//
// There is no separate scheduling machinery here: the whole policy is
// built on StartInterval/StopInterval.
func (s *Supervisor) StartRetryTask(name string, probe func(ctx context.Context) (bool, error), cfg RetryConfig) string {
	attempts := 0
	return s.StartInterval(IntervalConfig{
		Name:      name,
		Interval:  cfg.Interval,
		Immediate: true,
		OnExecute: func(timerID string) error {
			attempts++
			ok, err := probe(context.Background())
			if ok && err == nil {
				s.StopInterval(timerID)
				if cfg.OnSuccess != nil {
					cfg.OnSuccess()
				}
				return nil
			}
			if attempts >= cfg.MaxRetries {
				s.StopInterval(timerID)
				if cfg.OnFailure != nil {
					cfg.OnFailure()
				}
			}
			if err != nil {
				return fmt.Errorf("%s probe attempt %d/%d: %w", name, attempts, cfg.MaxRetries, err)
			}
			return nil
		},
		OnError: func(err error) {
			s.log.Warn(fmt.Sprintf("%s execution failed", name), slog.String("error", err.Error()))
		},
	})
}
