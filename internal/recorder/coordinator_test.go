package recorder

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dictalabs/dicta-core/internal/sched"
)

type fakeTrack struct{ stops int }

func (t *fakeTrack) Stop() { t.stops++ }

type fakeStream struct{ tracks []*fakeTrack }

func (s *fakeStream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	for i, tr := range s.tracks {
		out[i] = tr
	}
	return out
}

type fakeCapture struct {
	err       error
	acquired  []*fakeStream
	onAcquire func()
}

func (c *fakeCapture) Acquire(context.Context, Constraints) (StreamHandle, error) {
	if c.onAcquire != nil {
		c.onAcquire()
	}
	if c.err != nil {
		return nil, c.err
	}
	s := &fakeStream{tracks: []*fakeTrack{{}}}
	c.acquired = append(c.acquired, s)
	return s, nil
}

type fakeRecognition struct {
	h        Handlers
	starts   int
	stops    int
	startErr error
}

func (f *fakeRecognition) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	return nil
}

func (f *fakeRecognition) Stop() {
	f.stops++
	if f.h.OnEnd != nil {
		f.h.OnEnd()
	}
}

func (f *fakeRecognition) emitStart() { f.h.OnStart() }
func (f *fakeRecognition) emitEnd()   { f.h.OnEnd() }

func (f *fakeRecognition) emitFinal(text string) {
	f.h.OnResult(ResultEvent{Results: []Result{{
		Kind:         ResultFinal,
		Alternatives: []Alternative{{Text: text, Confidence: 0.9}},
	}}})
}

func (f *fakeRecognition) emitInterim(text string) {
	f.h.OnResult(ResultEvent{Results: []Result{{
		Kind:         ResultInterim,
		Alternatives: []Alternative{{Text: text, Confidence: 0.4}},
	}}})
}

func (f *fakeRecognition) emitError(code, message string) {
	f.h.OnError(code, message)
}

type fakeFactory struct {
	supported bool
	newErr    error
	created   []*fakeRecognition
}

func (f *fakeFactory) Supported() bool { return f.supported }

func (f *fakeFactory) New(_ RecognitionConfig, h Handlers) (RecognitionStream, error) {
	if f.newErr != nil {
		return nil, f.newErr
	}
	rec := &fakeRecognition{h: h}
	f.created = append(f.created, rec)
	return rec, nil
}

type transcriptEvent struct {
	text  string
	final bool
}

type errorEvent struct {
	code    ErrorCode
	message string
}

type harness struct {
	coord   *Coordinator
	capture *fakeCapture
	factory *fakeFactory
	clk     *sched.ManualClock

	transcripts []transcriptEvent
	states      []State
	errors      []errorEvent
	ends        int
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	clk := sched.NewManualClock(time.Unix(1700000000, 0))
	sup := sched.New(clk, slog.Default())
	t.Cleanup(sup.StopAll)

	h := &harness{
		capture: &fakeCapture{},
		factory: &fakeFactory{supported: true},
		clk:     clk,
	}
	h.coord = New(h.capture, h.factory, sup, slog.Default(), cfg)
	h.coord.SetTranscriptHandler(func(text string, final bool) {
		h.transcripts = append(h.transcripts, transcriptEvent{text, final})
	})
	h.coord.SetStateHandler(func(st State) { h.states = append(h.states, st) })
	h.coord.SetErrorHandler(func(code ErrorCode, message string) {
		h.errors = append(h.errors, errorEvent{code, message})
	})
	h.coord.SetEndHandler(func() { h.ends++ })
	return h
}

func (h *harness) rec(t *testing.T) *fakeRecognition {
	t.Helper()
	require.NotEmpty(t, h.factory.created)
	return h.factory.created[len(h.factory.created)-1]
}

func TestSessionHappyPath(t *testing.T) {
	h := newHarness(t, Config{})

	require.True(t, h.coord.Start(context.Background()))
	require.Len(t, h.capture.acquired, 1)
	rec := h.rec(t)
	assert.Equal(t, 1, rec.starts)
	assert.False(t, h.coord.State().Recording, "recording waits for recognition start")

	rec.emitStart()
	assert.True(t, h.coord.State().Recording)

	rec.emitInterim("Hello")
	rec.emitFinal("Hello world")
	require.Len(t, h.transcripts, 2)
	assert.Equal(t, transcriptEvent{"Hello", false}, h.transcripts[0])
	assert.Equal(t, transcriptEvent{"Hello world", true}, h.transcripts[1])
	assert.Equal(t, "Hello world", h.coord.Transcript())

	h.coord.Stop()
	assert.Equal(t, 1, rec.stops)
	assert.Equal(t, 1, h.capture.acquired[0].tracks[0].stops)
	assert.False(t, h.coord.State().Recording)

	// Repeat stop must not touch the released resources again.
	h.coord.Stop()
	assert.Equal(t, 1, rec.stops)
	assert.Equal(t, 1, h.capture.acquired[0].tracks[0].stops)
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	h := newHarness(t, Config{})

	require.True(t, h.coord.Start(context.Background()))
	h.rec(t).emitStart()

	assert.False(t, h.coord.Start(context.Background()))
	assert.Len(t, h.capture.acquired, 1)
	assert.Len(t, h.factory.created, 1)
	assert.Empty(t, h.errors)
}

func TestStopWhenIdleHasNoSideEffects(t *testing.T) {
	h := newHarness(t, Config{})

	h.coord.Stop()
	assert.Empty(t, h.states)
	assert.Empty(t, h.errors)
	assert.Empty(t, h.capture.acquired)
}

func TestUnsupportedCapabilityReportedBeforeAudio(t *testing.T) {
	h := newHarness(t, Config{})
	h.factory.supported = false
	h.coord = New(h.capture, h.factory, nil, slog.Default(), Config{})
	h.coord.SetErrorHandler(func(code ErrorCode, message string) {
		h.errors = append(h.errors, errorEvent{code, message})
	})

	assert.False(t, h.coord.Start(context.Background()))
	require.Len(t, h.errors, 1)
	assert.Equal(t, ErrorCodeCapabilityMissing, h.errors[0].code)
	assert.Empty(t, h.capture.acquired, "audio must not be touched when the capability is missing")
}

func TestAcquireFailureReportsPermissionDenied(t *testing.T) {
	h := newHarness(t, Config{})
	h.capture.err = errors.New("device busy")

	assert.False(t, h.coord.Start(context.Background()))
	require.Len(t, h.errors, 1)
	assert.Equal(t, ErrorCodePermissionDenied, h.errors[0].code)
	assert.Empty(t, h.factory.created)

	// A later start with a healthy device succeeds.
	h.capture.err = nil
	assert.True(t, h.coord.Start(context.Background()))
}

func TestRecognitionSetupFailureReleasesAudio(t *testing.T) {
	h := newHarness(t, Config{})
	h.factory.newErr = errors.New("no backend")

	assert.False(t, h.coord.Start(context.Background()))
	require.Len(t, h.capture.acquired, 1)
	assert.Equal(t, 1, h.capture.acquired[0].tracks[0].stops)
	require.Len(t, h.errors, 1)
	assert.Equal(t, ErrorCodeRecognition, h.errors[0].code)
}

func TestRecognitionRestartsAfterUnexpectedEnd(t *testing.T) {
	h := newHarness(t, Config{RestartDelay: 300 * time.Millisecond})

	require.True(t, h.coord.Start(context.Background()))
	rec := h.rec(t)
	rec.emitStart()

	rec.emitEnd()
	assert.Equal(t, 1, h.ends)
	assert.False(t, h.coord.State().Recording)
	assert.Equal(t, 1, rec.starts, "restart waits out the delay")

	h.clk.Advance(300 * time.Millisecond)
	assert.Equal(t, 2, rec.starts)

	// Capture survives the restart untouched.
	assert.Equal(t, 0, h.capture.acquired[0].tracks[0].stops)
}

func TestNoRestartAfterExplicitStop(t *testing.T) {
	h := newHarness(t, Config{RestartDelay: 300 * time.Millisecond})

	require.True(t, h.coord.Start(context.Background()))
	rec := h.rec(t)
	rec.emitStart()

	// The platform fires an end event as part of stopping.
	h.coord.Stop()
	assert.Equal(t, 1, h.ends)

	h.clk.Advance(time.Minute)
	assert.Equal(t, 1, rec.starts)
}

func TestRestartLimitGivesUp(t *testing.T) {
	h := newHarness(t, Config{RestartDelay: 100 * time.Millisecond, MaxRestarts: 1})

	require.True(t, h.coord.Start(context.Background()))
	rec := h.rec(t)
	rec.emitStart()

	rec.emitEnd()
	h.clk.Advance(100 * time.Millisecond)
	assert.Equal(t, 2, rec.starts)

	rec.emitStart()
	rec.emitEnd()
	h.clk.Advance(time.Minute)
	assert.Equal(t, 2, rec.starts, "no further restarts after the limit")

	require.NotEmpty(t, h.errors)
	assert.Equal(t, ErrorCodeRestart, h.errors[len(h.errors)-1].code)
	assert.Equal(t, 1, h.capture.acquired[0].tracks[0].stops)
}

func TestRecognitionErrorStopsSession(t *testing.T) {
	h := newHarness(t, Config{})

	require.True(t, h.coord.Start(context.Background()))
	rec := h.rec(t)
	rec.emitStart()

	rec.emitError("network", "service unreachable")
	require.Len(t, h.errors, 1)
	assert.Equal(t, ErrorCodeRecognition, h.errors[0].code)
	assert.False(t, h.coord.State().Recording)
	assert.Equal(t, 1, rec.stops)

	h.clk.Advance(time.Minute)
	assert.Equal(t, 1, rec.starts, "no restart after an error stop")
}

func TestTranscriptAccumulatesAcrossRestarts(t *testing.T) {
	h := newHarness(t, Config{RestartDelay: 100 * time.Millisecond})

	require.True(t, h.coord.Start(context.Background()))
	rec := h.rec(t)
	rec.emitStart()
	rec.emitFinal("first thought")

	rec.emitEnd()
	h.clk.Advance(100 * time.Millisecond)
	rec.emitStart()
	rec.emitInterim("second")
	rec.emitFinal("second thought")

	assert.Equal(t, "first thought second thought", h.coord.Transcript())
	last := h.transcripts[len(h.transcripts)-1]
	assert.Equal(t, transcriptEvent{"first thought second thought", true}, last)
}

func TestClearTranscriptEmitsEmptyUpdate(t *testing.T) {
	h := newHarness(t, Config{})

	require.True(t, h.coord.Start(context.Background()))
	rec := h.rec(t)
	rec.emitStart()
	rec.emitFinal("scratch this")

	before := len(h.transcripts)
	h.coord.ClearTranscript()
	require.Len(t, h.transcripts, before+1)
	assert.Equal(t, transcriptEvent{"", false}, h.transcripts[before])
	assert.Equal(t, "", h.coord.Transcript())

	// Clearing an already-empty transcript still notifies.
	h.coord.ClearTranscript()
	assert.Len(t, h.transcripts, before+2)
}

func TestDurationCountsOnlyWhileUnpaused(t *testing.T) {
	h := newHarness(t, Config{DurationPoll: time.Second})

	require.True(t, h.coord.Start(context.Background()))
	h.rec(t).emitStart()

	h.clk.Advance(3 * time.Second)
	assert.Equal(t, int64(3000), h.coord.State().DurationMillis)

	h.coord.Pause()
	assert.True(t, h.coord.State().Paused)
	h.clk.Advance(2 * time.Second)
	assert.Equal(t, int64(3000), h.coord.State().DurationMillis)

	h.coord.Resume()
	h.clk.Advance(time.Second)
	assert.Equal(t, int64(4000), h.coord.State().DurationMillis)
}

func TestDurationResetsOnNewSession(t *testing.T) {
	h := newHarness(t, Config{DurationPoll: time.Second})

	require.True(t, h.coord.Start(context.Background()))
	h.rec(t).emitStart()
	h.clk.Advance(2 * time.Second)
	h.coord.Stop()

	require.True(t, h.coord.Start(context.Background()))
	assert.Equal(t, int64(0), h.coord.State().DurationMillis)
}

func TestPauseResumeGuards(t *testing.T) {
	h := newHarness(t, Config{})

	h.coord.Pause()
	h.coord.Resume()
	assert.Empty(t, h.states, "pause and resume are no-ops when idle")

	require.True(t, h.coord.Start(context.Background()))
	h.rec(t).emitStart()
	h.coord.Resume()
	assert.False(t, h.coord.State().Paused)
}

func TestPauseNeverReportedWithoutRecording(t *testing.T) {
	h := newHarness(t, Config{RestartDelay: 300 * time.Millisecond, DurationPoll: time.Second})

	require.True(t, h.coord.Start(context.Background()))
	rec := h.rec(t)
	rec.emitStart()
	h.clk.Advance(2 * time.Second)
	h.coord.Pause()

	rec.emitEnd()
	st := h.coord.State()
	assert.False(t, st.Recording)
	assert.False(t, st.Paused, "paused must imply recording")

	// The pause carries across the restart and keeps the duration frozen.
	h.clk.Advance(300 * time.Millisecond)
	rec.emitStart()
	st = h.coord.State()
	assert.True(t, st.Recording)
	assert.True(t, st.Paused)
	h.clk.Advance(5 * time.Second)
	assert.Equal(t, int64(2000), h.coord.State().DurationMillis)

	for _, s := range h.states {
		if s.Paused {
			assert.True(t, s.Recording, "published state paired paused with not recording: %+v", s)
		}
	}
}

func TestStopDuringAcquireAbortsStart(t *testing.T) {
	h := newHarness(t, Config{})
	h.capture.onAcquire = func() { h.coord.Stop() }

	assert.False(t, h.coord.Start(context.Background()))
	require.Len(t, h.capture.acquired, 1)
	assert.Equal(t, 1, h.capture.acquired[0].tracks[0].stops, "aborted start must release the stream")
	if len(h.factory.created) > 0 {
		assert.Equal(t, 0, h.rec(t).starts, "recognition must not start after a stop")
	}
	assert.False(t, h.coord.State().Recording)

	// The coordinator is reusable after the aborted attempt.
	h.capture.onAcquire = nil
	assert.True(t, h.coord.Start(context.Background()))
}

func TestEmptyInterimRetractsPendingText(t *testing.T) {
	h := newHarness(t, Config{})

	require.True(t, h.coord.Start(context.Background()))
	rec := h.rec(t)
	rec.emitStart()

	rec.emitFinal("Hello")
	rec.emitInterim("wor")
	assert.Equal(t, "Hello wor", h.coord.Transcript())

	rec.emitInterim("")
	last := h.transcripts[len(h.transcripts)-1]
	assert.Equal(t, transcriptEvent{"Hello", false}, last)
	assert.Equal(t, "Hello", h.coord.Transcript())
}

func TestInterimBatchJoinsAlternatives(t *testing.T) {
	h := newHarness(t, Config{})

	require.True(t, h.coord.Start(context.Background()))
	rec := h.rec(t)
	rec.emitStart()

	rec.h.OnResult(ResultEvent{Results: []Result{
		{Kind: ResultFinal, Alternatives: []Alternative{{Text: "done. "}}},
		{Kind: ResultInterim, Alternatives: []Alternative{{Text: "still going"}}},
	}})

	// A batch with any interim result is reported as interim.
	last := h.transcripts[len(h.transcripts)-1]
	assert.False(t, last.final)
	assert.Equal(t, "done. still going", last.text)
}
