package polish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dictalabs/dicta-core/internal/bus"
	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/protocol"
)

// Service answers polish requests on the bus with exactly one result per
// request, streaming backends accumulated into a single reply.
type Service struct {
	cfg       config.PolishConfig
	bus       *bus.Client
	generator Generator
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	ready     bool
	logger    *slog.Logger
}

func NewService(parent context.Context, cfg config.PolishConfig, busClient *bus.Client, generator Generator, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		generator: generator,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("component", "polish-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectPolishRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe polish requests: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.PolishRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode polish request", slogError(err))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 60*time.Second)
		defer cancel()

		job := Request{
			RequestID:   req.RequestID,
			SessionID:   req.SessionID,
			Text:        req.Text,
			Model:       req.Model,
			MaxTokens:   s.cfg.MaxTokens,
			Temperature: s.cfg.Temperature,
		}

		start := time.Now()
		var polished strings.Builder
		err := s.generator.Generate(ctx, job, func(chunk Chunk) error {
			polished.WriteString(chunk.Content)
			return nil
		})

		result := protocol.PolishResult{
			RequestID: req.RequestID,
			SessionID: req.SessionID,
			Model:     req.Model,
		}
		if err != nil {
			s.logger.Warn("polish generation failed", slogError(err))
			result.Error = err.Error()
		} else {
			result.Text = polished.String()
			s.logger.Info("polish complete",
				slog.String("request_id", req.RequestID),
				slog.Duration("latency", time.Since(start)))
		}

		if err := s.bus.PublishJSON(protocol.SubjectPolishResult, result); err != nil {
			s.logger.Warn("failed to publish polish result", slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
