package polish

import (
	"context"
	"fmt"
	"time"

	"github.com/dictalabs/dicta-core/internal/config"
)

// Request describes one transcript cleanup job.
type Request struct {
	RequestID   string
	SessionID   string
	Text        string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Chunk represents streamed polisher output.
type Chunk struct {
	RequestID string
	SessionID string
	Content   string
	Partial   bool
	Latency   time.Duration
}

// Generator defines a pluggable polishing backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// NewGenerator builds the backend selected by configuration.
func NewGenerator(cfg config.PolishConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown polish mode %q", cfg.Mode)
	}
}
