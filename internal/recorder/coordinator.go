package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dictalabs/dicta-core/internal/sched"
)

// ErrorCode identifies coordinator failures on the error-report channel.
type ErrorCode string

const (
	ErrorCodeCapabilityMissing ErrorCode = "capability_missing"
	ErrorCodePermissionDenied  ErrorCode = "permission_denied"
	ErrorCodeRecognition       ErrorCode = "recognition"
	ErrorCodeRestart           ErrorCode = "restart_failed"
)

// State is a value snapshot of the recording session. Paused implies
// Recording; DurationMillis resets to zero exactly when a new session
// starts and only grows while recording and not paused.
type State struct {
	Recording      bool  `json:"recording"`
	Paused         bool  `json:"paused"`
	DurationMillis int64 `json:"duration_ms"`
}

// Config tunes one coordinator instance.
type Config struct {
	Constraints  Constraints
	Recognition  RecognitionConfig
	RestartDelay time.Duration
	DurationPoll time.Duration
	Separator    string
	// MaxRestarts bounds the unexpected-end recovery loop per session.
	// Zero keeps the loop unbounded so long dictation sessions survive
	// repeated recognizer drops.
	MaxRestarts int
}

// Coordinator drives an audio capture stream and a speech recognition
// stream as one logical recording session: it reconciles their independent
// lifecycles, accumulates the transcript across recognition restarts and
// transparently restarts recognition when the platform ends it without an
// explicit stop request.
//
// Handler setters are single-slot: the last registration wins. The
// coordinator is not a multi-subscriber event bus; fan-out belongs to the
// presentation layer.
type Coordinator struct {
	audio     AudioCapture
	factory   RecognizerFactory
	sup       *sched.Supervisor
	log       *slog.Logger
	cfg       Config
	supported bool

	mu              sync.Mutex
	starting        bool
	recording       bool
	paused          bool
	durationMS      int64
	suppressRestart bool
	restarts        int
	stream          StreamHandle
	rec             RecognitionStream
	durationTimer   string
	restartTimer    string

	onTranscript func(text string, final bool)
	onState      func(State)
	onEnd        func()
	onError      func(code ErrorCode, message string)

	transcript *transcriptAccumulator
}

// New builds a coordinator. Recognition support is probed exactly once,
// here.
func New(audio AudioCapture, factory RecognizerFactory, sup *sched.Supervisor, logger *slog.Logger, cfg Config) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 300 * time.Millisecond
	}
	if cfg.DurationPoll <= 0 {
		cfg.DurationPoll = time.Second
	}
	if cfg.Separator == "" {
		cfg.Separator = " "
	}
	return &Coordinator{
		audio:      audio,
		factory:    factory,
		sup:        sup,
		log:        logger.With(slog.String("component", "recorder")),
		cfg:        cfg,
		supported:  factory != nil && factory.Supported(),
		transcript: newTranscriptAccumulator(cfg.Separator),
	}
}

// SetTranscriptHandler registers the transcript consumer (last wins).
func (c *Coordinator) SetTranscriptHandler(fn func(text string, final bool)) {
	c.mu.Lock()
	c.onTranscript = fn
	c.mu.Unlock()
}

// SetStateHandler registers the state consumer (last wins).
func (c *Coordinator) SetStateHandler(fn func(State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// SetEndHandler registers the recognition-end consumer (last wins).
func (c *Coordinator) SetEndHandler(fn func()) {
	c.mu.Lock()
	c.onEnd = fn
	c.mu.Unlock()
}

// SetErrorHandler registers the error-report consumer (last wins). Errors
// are additionally logged.
func (c *Coordinator) SetErrorHandler(fn func(code ErrorCode, message string)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Supported reports whether a recognition capability exists, as computed
// at construction.
func (c *Coordinator) Supported() bool { return c.supported }

// State returns a copy of the current session state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// stateLocked builds the exported snapshot. The pause flag is retained
// internally across a recognition restart, but it is never reported while
// the session is not recording.
func (c *Coordinator) stateLocked() State {
	return State{
		Recording:      c.recording,
		Paused:         c.paused && c.recording,
		DurationMillis: c.durationMS,
	}
}

// Start begins a new session. It returns false, with the failure reported,
// when a session is already active, when recognition is unsupported or when
// the audio stream cannot be acquired; none of those paths leave resources
// behind. A true return means the start was attempted successfully; the
// authoritative recording signal is the state change published once
// recognition confirms its own start.
func (c *Coordinator) Start(ctx context.Context) bool {
	c.mu.Lock()
	if c.recording || c.starting {
		c.mu.Unlock()
		c.log.Warn("start ignored: session already active")
		return false
	}
	if !c.supported {
		c.mu.Unlock()
		c.reportError(ErrorCodeCapabilityMissing, "speech recognition is not available on this platform")
		return false
	}
	c.starting = true
	c.mu.Unlock()

	stream, err := c.audio.Acquire(ctx, c.cfg.Constraints)
	if err != nil {
		c.setStarting(false)
		c.reportError(ErrorCodePermissionDenied, fmt.Sprintf("audio capture unavailable: %v", err))
		return false
	}

	rec, err := c.factory.New(c.cfg.Recognition, Handlers{
		OnStart:  c.handleRecognitionStart,
		OnResult: c.handleResult,
		OnError:  c.handleRecognitionError,
		OnEnd:    c.handleRecognitionEnd,
	})
	if err != nil {
		stopTracks(stream)
		c.setStarting(false)
		c.reportError(ErrorCodeRecognition, fmt.Sprintf("recognition setup failed: %v", err))
		return false
	}

	c.mu.Lock()
	if !c.starting {
		// Stop arrived while the audio device was being acquired.
		c.mu.Unlock()
		stopTracks(stream)
		c.log.Warn("start aborted: stop requested while starting")
		return false
	}
	c.stream = stream
	c.rec = rec
	c.suppressRestart = false
	c.restarts = 0
	c.paused = false
	c.durationMS = 0
	c.mu.Unlock()

	if err := rec.Start(); err != nil {
		stopTracks(stream)
		c.mu.Lock()
		c.stream = nil
		c.rec = nil
		c.starting = false
		c.mu.Unlock()
		c.reportError(ErrorCodeRecognition, fmt.Sprintf("recognition start failed: %v", err))
		return false
	}

	c.startDurationPoll()
	return true
}

// Stop ends the session. It is a pure no-op when no session is active and
// is safe to call repeatedly, from any state, including after a partially
// failed Start.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.recording && !c.starting {
		c.mu.Unlock()
		return
	}
	c.suppressRestart = true
	c.recording = false
	c.starting = false
	c.paused = false
	rec := c.rec
	stream := c.stream
	c.rec = nil
	c.stream = nil
	durationTimer := c.durationTimer
	restartTimer := c.restartTimer
	c.durationTimer = ""
	c.restartTimer = ""
	c.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
	if stream != nil {
		stopTracks(stream)
	}
	if durationTimer != "" {
		c.sup.StopInterval(durationTimer)
	}
	if restartTimer != "" {
		c.sup.StopTimeout(restartTimer)
	}
	c.publishState()
}

// Pause freezes the duration counter and flags the session paused.
// Recognition keeps producing results. No-op unless actively recording.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	if !c.recording || c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = true
	c.mu.Unlock()
	c.publishState()
}

// Resume lifts a pause. No-op unless paused.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = false
	c.mu.Unlock()
	c.publishState()
}

// ClearTranscript atomically resets committed and pending text and emits
// ("", false) exactly once, regardless of prior content.
func (c *Coordinator) ClearTranscript() {
	c.transcript.Clear()
	c.emitTranscript("", false)
}

// Transcript returns the full observed transcript.
func (c *Coordinator) Transcript() string { return c.transcript.Text() }

func (c *Coordinator) handleRecognitionStart() {
	c.mu.Lock()
	c.starting = false
	c.recording = true
	c.mu.Unlock()
	c.publishState()
}

func (c *Coordinator) handleResult(ev ResultEvent) {
	if len(ev.Results) == 0 {
		return
	}
	text, final := flattenResults(ev)
	if final {
		committed := c.transcript.Commit(text)
		c.emitTranscript(committed, true)
		return
	}
	// Interim hypotheses replace the pending text wholesale, empty text
	// included, so a retracted hypothesis cannot linger.
	c.emitTranscript(c.transcript.SetPending(text), false)
}

func (c *Coordinator) handleRecognitionError(code, message string) {
	c.reportError(ErrorCodeRecognition, fmt.Sprintf("%s: %s", code, message))
	c.Stop()
}

func (c *Coordinator) handleRecognitionEnd() {
	c.mu.Lock()
	onEnd := c.onEnd
	wasRecording := c.recording
	c.recording = false
	suppress := c.suppressRestart
	restarts := c.restarts
	c.mu.Unlock()

	if onEnd != nil {
		onEnd()
	}
	c.publishState()

	if !wasRecording || suppress {
		return
	}
	if c.cfg.MaxRestarts > 0 && restarts >= c.cfg.MaxRestarts {
		c.reportError(ErrorCodeRestart, fmt.Sprintf("recognition restart limit reached after %d attempts", restarts))
		c.teardown()
		return
	}
	c.scheduleRestart()
}

// scheduleRestart re-starts the recognition stream only; the audio capture
// stream keeps running so the session survives the platform ending a
// long-lived recognition stream on its own.
func (c *Coordinator) scheduleRestart() {
	c.mu.Lock()
	c.restarts++
	c.mu.Unlock()

	id := c.sup.StartTimeout(c.cfg.RestartDelay, func(string) error {
		c.mu.Lock()
		rec := c.rec
		suppress := c.suppressRestart
		c.restartTimer = ""
		c.mu.Unlock()
		if suppress || rec == nil {
			return nil
		}
		if err := rec.Start(); err != nil {
			c.reportError(ErrorCodeRestart, fmt.Sprintf("recognition restart failed: %v", err))
		}
		return nil
	})

	c.mu.Lock()
	c.restartTimer = id
	c.mu.Unlock()
}

// teardown releases both sub-resources without the not-recording guard of
// Stop; used when the restart loop gives up.
func (c *Coordinator) teardown() {
	c.mu.Lock()
	c.suppressRestart = true
	rec := c.rec
	stream := c.stream
	c.rec = nil
	c.stream = nil
	durationTimer := c.durationTimer
	c.durationTimer = ""
	c.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
	if stream != nil {
		stopTracks(stream)
	}
	if durationTimer != "" {
		c.sup.StopInterval(durationTimer)
	}
}

func (c *Coordinator) startDurationPoll() {
	poll := c.cfg.DurationPoll
	id := c.sup.ScheduleRecurring("recording-duration", poll, func() error {
		c.mu.Lock()
		active := c.recording && !c.paused
		if active {
			c.durationMS += poll.Milliseconds()
		}
		c.mu.Unlock()
		if active {
			c.publishState()
		}
		return nil
	}, sched.TaskOptions{})

	c.mu.Lock()
	c.durationTimer = id
	c.mu.Unlock()
}

func (c *Coordinator) publishState() {
	c.mu.Lock()
	fn := c.onState
	st := c.stateLocked()
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (c *Coordinator) emitTranscript(text string, final bool) {
	c.mu.Lock()
	fn := c.onTranscript
	c.mu.Unlock()
	if fn != nil {
		fn(text, final)
	}
}

func (c *Coordinator) reportError(code ErrorCode, message string) {
	c.log.Warn("recording session error",
		slog.String("code", string(code)), slog.String("detail", message))
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(code, message)
	}
}

func (c *Coordinator) setStarting(v bool) {
	c.mu.Lock()
	c.starting = v
	c.mu.Unlock()
}

// flattenResults joins the first alternative of each result in the batch.
// The batch counts as final only when every result in it is final.
func flattenResults(ev ResultEvent) (string, bool) {
	if len(ev.Results) == 0 {
		return "", false
	}
	var text string
	final := true
	for _, r := range ev.Results {
		if len(r.Alternatives) > 0 {
			text += r.Alternatives[0].Text
		}
		if r.Kind != ResultFinal {
			final = false
		}
	}
	return text, final
}

func stopTracks(stream StreamHandle) {
	for _, track := range stream.Tracks() {
		track.Stop()
	}
}
