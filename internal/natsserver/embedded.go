package natsserver

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/protocol"
)

const (
	readyTimeout = 5 * time.Second

	// noteStream retains every note.> message so presentation clients that
	// attach mid-session can replay transcripts and saved notes.
	noteStream    = "DICTA_NOTES"
	noteRetention = 72 * time.Hour
)

// EmbeddedBus runs the NATS broker inside the dictad process so a desktop
// install needs no external services.
type EmbeddedBus struct {
	ns  *server.Server
	log *slog.Logger
}

// Start brings up the embedded broker with JetStream enabled and provisions
// the note stream. Returns nil without error when embedded mode is off.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedBus, error) {
	if !cfg.Embedded {
		return nil, nil
	}

	opts := &server.Options{
		ServerName: "dicta-bus",
		// The bus is runtime-internal; it is never exposed off-host.
		Host:               "127.0.0.1",
		Port:               cfg.Port,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: 64 << 20,
		JetStreamMaxStore:  1 << 30,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded bus: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded bus not ready after %s", readyTimeout)
	}

	if err := provisionNoteStream(ns); err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("provision note stream: %w", err)
	}

	log.Info("embedded bus started",
		slog.Int("port", cfg.Port),
		slog.String("store_dir", cfg.StoreDir),
		slog.String("stream", noteStream))

	return &EmbeddedBus{ns: ns, log: log}, nil
}

func provisionNoteStream(ns *server.Server) error {
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     noteStream,
		Subjects: []string{protocol.SubjectAll},
		Storage:  nats.FileStorage,
		MaxAge:   noteRetention,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return err
	}
	return nil
}

// Shutdown stops the broker and waits for it to wind down.
func (e *EmbeddedBus) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded bus")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
