package notes

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/dictalabs/dicta-core/internal/bus"
	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/journal"
	"github.com/dictalabs/dicta-core/internal/protocol"
)

// Service turns final transcripts into persisted notes. The raw text is
// saved immediately; when auto-polish is on, a polish request goes out and
// the note row is updated once the result arrives.
type Service struct {
	cfg            config.NotesConfig
	bus            *bus.Client
	store          *journal.Store
	logger         *slog.Logger
	subTranscripts *nats.Subscription
	subPolish      *nats.Subscription
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	pending        map[string]journal.Note
	mu             sync.Mutex
	savedCounter   metric.Int64Counter
}

func NewService(parent context.Context, cfg config.NotesConfig, busClient *bus.Client, store *journal.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:     cfg,
		bus:     busClient,
		store:   store,
		logger:  logger.With(slog.String("component", "notes")),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]journal.Note),
	}
	counter, err := otel.Meter("github.com/dictalabs/dicta-core/notes").Int64Counter(
		"dicta.notes.saved", metric.WithDescription("Notes persisted to the journal"))
	if err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	} else {
		s.savedCounter = counter
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTranscriptFinal, s.handleTranscript)
	if err != nil {
		return err
	}
	s.subTranscripts = sub

	subPolish, err := s.bus.Conn().Subscribe(protocol.SubjectPolishResult, s.handlePolishResult)
	if err != nil {
		s.subTranscripts.Drain()
		return err
	}
	s.subPolish = subPolish
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subTranscripts != nil {
		_ = s.subTranscripts.Drain()
	}
	if s.subPolish != nil {
		_ = s.subPolish.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.subTranscripts != nil && s.subPolish != nil)
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		s.logger.Warn("failed to decode transcript", slogError(err))
		return
	}
	text := strings.TrimSpace(transcript.Text)
	if len(text) < s.cfg.MinLength || text == "" {
		return
	}

	note := journal.Note{
		NoteID:    uuid.NewString(),
		SessionID: transcript.SessionID,
		RawText:   text,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()

		if err := s.store.SaveNote(ctx, note); err != nil {
			s.logger.Warn("failed to save note", slogError(err))
			return
		}
		s.publishSaved(note)

		if !s.cfg.AutoPolish {
			return
		}
		s.mu.Lock()
		s.pending[note.NoteID] = note
		s.mu.Unlock()

		req := protocol.PolishRequest{
			RequestID: note.NoteID,
			SessionID: note.SessionID,
			Text:      note.RawText,
		}
		if err := s.bus.PublishJSON(protocol.SubjectPolishRequest, req); err != nil {
			s.logger.Warn("failed to publish polish request", slogError(err))
			s.mu.Lock()
			delete(s.pending, note.NoteID)
			s.mu.Unlock()
		}
	}()
}

func (s *Service) handlePolishResult(msg *nats.Msg) {
	var result protocol.PolishResult
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		s.logger.Warn("failed to decode polish result", slogError(err))
		return
	}

	s.mu.Lock()
	note, ok := s.pending[result.RequestID]
	delete(s.pending, result.RequestID)
	s.mu.Unlock()
	if !ok {
		return
	}
	if result.Error != "" {
		s.logger.Warn("polish failed, keeping raw note",
			slog.String("note_id", note.NoteID),
			slog.String("error", result.Error))
		return
	}

	note.PolishedText = result.Text
	note.Polished = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()

		if err := s.store.SaveNote(ctx, note); err != nil {
			s.logger.Warn("failed to update polished note", slogError(err))
			return
		}
		s.publishSaved(note)
	}()
}

func (s *Service) publishSaved(note journal.Note) {
	if s.savedCounter != nil {
		s.savedCounter.Add(s.ctx, 1)
	}
	text := note.RawText
	if note.Polished {
		text = note.PolishedText
	}
	saved := protocol.NoteSaved{
		NoteID:    note.NoteID,
		SessionID: note.SessionID,
		Text:      text,
		Polished:  note.Polished,
		Timestamp: time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectNoteSaved, saved); err != nil {
		s.logger.Warn("failed to publish note saved", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
