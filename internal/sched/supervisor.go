package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Kind distinguishes recurring timers from single-shot delays.
type Kind string

const (
	KindInterval Kind = "interval"
	KindTimeout  Kind = "timeout"
)

// TimerRecord is a snapshot of one live scheduled unit of work. Records are
// owned by the Supervisor; callers only ever hold the ID.
type TimerRecord struct {
	ID             string
	Kind           Kind
	Name           string
	ScheduledAt    time.Time
	Interval       time.Duration
	ExecutionCount int
	MaxExecutions  int
}

// IntervalConfig describes a recurring timer.
//
// A failing OnExecute is reported through OnError (or the supervisor log)
// and the timer keeps running; a single failed tick never cancels the
// schedule. When ExecutionCount reaches MaxExecutions the timer is removed
// and OnComplete fires exactly once, asynchronously relative to the
// triggering tick.
type IntervalConfig struct {
	Name          string
	Interval      time.Duration
	OnExecute     func(id string) error
	Immediate     bool
	MaxExecutions int
	OnError       func(error)
	OnComplete    func()
}

// Stats aggregates the live registry.
type Stats struct {
	Total           int
	Intervals       int
	Timeouts        int
	OldestAge       time.Duration
	TotalExecutions int
}

type timer struct {
	rec    TimerRecord
	cfg    IntervalConfig
	fn     func(id string) error
	cancel CancelFunc
}

// Supervisor is the single authority for creating, tracking and destroying
// recurring and delayed timers. It is constructed once at startup and
// passed to consumers; there is no package-level instance.
//
// All handler invocations are serialized, including an Immediate interval's
// synchronous first fire and OnComplete dispatches: no two handlers run
// concurrently. An Immediate invocation runs on the caller's goroutine
// before the first period is armed.
type Supervisor struct {
	clock Clock
	log   *slog.Logger

	mu     sync.Mutex
	timers map[string]*timer

	execMu sync.Mutex
}

// New creates a supervisor driven by the given clock.
func New(clock Clock, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		clock:  clock,
		log:    logger.With(slog.String("component", "sched")),
		timers: make(map[string]*timer),
	}
	s.initMetrics()
	return s
}

func (s *Supervisor) initMetrics() {
	meter := otel.Meter("github.com/dictalabs/dicta-core/sched")
	gauge, err := meter.Int64ObservableGauge("dicta.sched.active_timers",
		metric.WithDescription("Number of live timers in the supervisor"))
	if err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		s.mu.Lock()
		n := int64(len(s.timers))
		s.mu.Unlock()
		obs.ObserveInt64(gauge, n)
		return nil
	}, gauge)
	if err != nil {
		s.log.Warn("failed to register metrics callback", slog.String("error", err.Error()))
	}
}

// StartInterval schedules periodic invocation of cfg.OnExecute and returns
// the timer id. An invalid config returns the empty id.
func (s *Supervisor) StartInterval(cfg IntervalConfig) string {
	if cfg.Interval <= 0 || cfg.OnExecute == nil {
		s.log.Warn("rejected interval with invalid config", slog.String("name", cfg.Name))
		return ""
	}
	id := uuid.NewString()
	t := &timer{
		rec: TimerRecord{
			ID:            id,
			Kind:          KindInterval,
			Name:          cfg.Name,
			ScheduledAt:   s.clock.Now(),
			Interval:      cfg.Interval,
			MaxExecutions: cfg.MaxExecutions,
		},
		cfg: cfg,
	}
	s.mu.Lock()
	s.timers[id] = t
	s.mu.Unlock()

	if cfg.Immediate {
		s.execMu.Lock()
		s.fireInterval(id, false)
		s.execMu.Unlock()
	}
	s.armInterval(id)
	return id
}

// StopInterval cancels an interval. It reports false, without side effects,
// for an unknown id or an id that denotes a timeout.
func (s *Supervisor) StopInterval(id string) bool { return s.remove(id, KindInterval) }

// StartTimeout schedules fn to run once after delay. The record is removed
// before fn is invoked, so a lookup by the same id during or after the
// invocation misses. An fn error is reported, never propagated.
func (s *Supervisor) StartTimeout(delay time.Duration, fn func(id string) error) string {
	if fn == nil {
		s.log.Warn("rejected timeout with nil handler")
		return ""
	}
	if delay < 0 {
		delay = 0
	}
	id := uuid.NewString()
	t := &timer{
		rec: TimerRecord{
			ID:          id,
			Kind:        KindTimeout,
			ScheduledAt: s.clock.Now(),
			Interval:    delay,
		},
		fn: fn,
	}
	s.mu.Lock()
	s.timers[id] = t
	t.cancel = s.clock.AfterFunc(delay, func() { s.fireTimeout(id) })
	s.mu.Unlock()
	return id
}

// StopTimeout cancels a pending timeout, symmetric to StopInterval.
func (s *Supervisor) StopTimeout(id string) bool { return s.remove(id, KindTimeout) }

// TaskOptions tunes the recurring-task convenience wrapper.
type TaskOptions struct {
	Immediate     bool
	MaxExecutions int
	OnComplete    func()
}

// ScheduleRecurring wraps StartInterval with a default error report naming
// the task.
func (s *Supervisor) ScheduleRecurring(name string, every time.Duration, task func() error, opts TaskOptions) string {
	return s.StartInterval(IntervalConfig{
		Name:          name,
		Interval:      every,
		OnExecute:     func(string) error { return task() },
		Immediate:     opts.Immediate,
		MaxExecutions: opts.MaxExecutions,
		OnComplete:    opts.OnComplete,
		OnError: func(err error) {
			s.log.Warn(fmt.Sprintf("%s execution failed", name), slog.String("error", err.Error()))
		},
	})
}

// ScheduleDelayed wraps StartTimeout with the same default error report.
func (s *Supervisor) ScheduleDelayed(name string, delay time.Duration, task func() error) string {
	return s.StartTimeout(delay, func(string) error {
		if err := task(); err != nil {
			s.log.Warn(fmt.Sprintf("%s execution failed", name), slog.String("error", err.Error()))
		}
		return nil
	})
}

// ActiveTimers returns a snapshot of every live record. Mutating the result
// does not affect the registry.
func (s *Supervisor) ActiveTimers() []TimerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TimerRecord, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.rec)
	}
	return out
}

// Stats aggregates the live registry.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Total: len(s.timers)}
	var oldest time.Time
	for _, t := range s.timers {
		switch t.rec.Kind {
		case KindInterval:
			st.Intervals++
		case KindTimeout:
			st.Timeouts++
		}
		st.TotalExecutions += t.rec.ExecutionCount
		if oldest.IsZero() || t.rec.ScheduledAt.Before(oldest) {
			oldest = t.rec.ScheduledAt
		}
	}
	if !oldest.IsZero() {
		st.OldestAge = s.clock.Now().Sub(oldest)
	}
	return st
}

// StopAll cancels every tracked timer. Used for full teardown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	cancels := make([]CancelFunc, 0, len(s.timers))
	for _, t := range s.timers {
		if t.cancel != nil {
			cancels = append(cancels, t.cancel)
		}
	}
	s.timers = make(map[string]*timer)
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (s *Supervisor) remove(id string, kind Kind) bool {
	s.mu.Lock()
	t, ok := s.timers[id]
	if !ok || t.rec.Kind != kind {
		s.mu.Unlock()
		return false
	}
	delete(s.timers, id)
	cancel := t.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

func (s *Supervisor) armInterval(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok || t.rec.Kind != KindInterval {
		return
	}
	t.cancel = s.clock.AfterFunc(t.cfg.Interval, func() {
		s.execMu.Lock()
		s.fireInterval(id, true)
		s.execMu.Unlock()
	})
}

func (s *Supervisor) fireInterval(id string, rearm bool) {
	s.mu.Lock()
	t, ok := s.timers[id]
	if !ok || t.rec.Kind != KindInterval {
		s.mu.Unlock()
		return
	}
	onExecute := t.cfg.OnExecute
	onError := t.cfg.OnError
	name := t.rec.Name
	s.mu.Unlock()

	err := s.invoke(id, onExecute)

	// Bookkeeping proceeds exactly as for a successful tick; the handler
	// may have removed its own timer in the meantime.
	s.mu.Lock()
	t, ok = s.timers[id]
	var complete func()
	done := false
	if ok {
		t.rec.ExecutionCount++
		if t.cfg.MaxExecutions > 0 && t.rec.ExecutionCount >= t.cfg.MaxExecutions {
			done = true
			complete = t.cfg.OnComplete
			delete(s.timers, id)
		}
	}
	s.mu.Unlock()

	if err != nil {
		if onError != nil {
			onError(err)
		} else {
			s.log.Warn("interval handler failed",
				slog.String("name", name), slog.String("error", err.Error()))
		}
	}
	if done {
		if complete != nil {
			s.clock.AfterFunc(0, func() {
				s.execMu.Lock()
				complete()
				s.execMu.Unlock()
			})
		}
		return
	}
	if ok && rearm {
		s.armInterval(id)
	}
}

func (s *Supervisor) fireTimeout(id string) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.mu.Lock()
	t, ok := s.timers[id]
	if !ok || t.rec.Kind != KindTimeout {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	fn := t.fn
	s.mu.Unlock()

	if err := s.invoke(id, fn); err != nil {
		s.log.Warn("timeout handler failed", slog.String("error", err.Error()))
	}
}

// invoke runs a handler and converts panics into reported errors so a
// misbehaving handler cannot corrupt the registry or kill sibling timers.
func (s *Supervisor) invoke(id string, fn func(id string) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("timer handler panic: %v", r)
		}
	}()
	return fn(id)
}
