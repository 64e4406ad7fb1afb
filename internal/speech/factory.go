package speech

import (
	"fmt"
	"log/slog"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/recorder"
)

// NewFactory builds the recognizer factory selected by configuration.
func NewFactory(cfg config.RecognitionConfig, log *slog.Logger) (recorder.RecognizerFactory, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockFactory(nil), nil
	case "exec":
		return NewExecFactory(cfg, log)
	default:
		return nil, fmt.Errorf("unknown recognition mode %q", cfg.Mode)
	}
}
