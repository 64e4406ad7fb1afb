package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/recorder"
)

// mockCapture hands out inert streams. Useful when the recognizer process
// captures its own audio and the runtime only tracks session lifecycle.
type mockCapture struct{}

func NewMockCapture() recorder.AudioCapture {
	return &mockCapture{}
}

func (mockCapture) Acquire(context.Context, recorder.Constraints) (recorder.StreamHandle, error) {
	return &streamHandle{tracks: []recorder.Track{&mockTrack{}}}, nil
}

type mockTrack struct{ stopped bool }

func (t *mockTrack) Stop() { t.stopped = true }

// NewCapture builds the audio capture selected by configuration.
func NewCapture(cfg config.CaptureConfig, log *slog.Logger) (recorder.AudioCapture, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockCapture(), nil
	case "exec":
		return NewExecCapture(cfg, log)
	default:
		return nil, fmt.Errorf("unknown capture mode %q", cfg.Mode)
	}
}
