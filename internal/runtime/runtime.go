package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dictalabs/dicta-core/internal/bus"
	"github.com/dictalabs/dicta-core/internal/capture"
	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/journal"
	"github.com/dictalabs/dicta-core/internal/natsserver"
	"github.com/dictalabs/dicta-core/internal/notes"
	"github.com/dictalabs/dicta-core/internal/polish"
	"github.com/dictalabs/dicta-core/internal/protocol"
	"github.com/dictalabs/dicta-core/internal/recorder"
	"github.com/dictalabs/dicta-core/internal/sched"
	"github.com/dictalabs/dicta-core/internal/speech"
)

// Runtime wires the recording coordinator, timer supervisor, journal and
// bus services behind one HTTP control surface.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	embedded  *natsserver.EmbeddedBus
	busClient *bus.Client
	store     *journal.Store
	sup       *sched.Supervisor
	coord     *recorder.Coordinator
	polishSvc *polish.Service
	notesSvc  *notes.Service

	mu        sync.Mutex
	sessionID string
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.shutdownInfra()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	store, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		r.shutdownInfra()
		return fmt.Errorf("failed to open journal: %w", err)
	}
	r.store = store

	r.sup = sched.New(sched.SystemClock(), r.logger)

	if err := r.setupRecorder(); err != nil {
		r.shutdownInfra()
		return err
	}
	if err := r.setupServices(ctx); err != nil {
		r.shutdownInfra()
		return err
	}

	// Retention runs in the background for the life of the process.
	r.sup.ScheduleRecurring("journal-prune", 6*time.Hour, func() error {
		pruneCtx, cancelPrune := context.WithTimeout(context.Background(), time.Minute)
		defer cancelPrune()
		return r.store.Prune(pruneCtx)
	}, sched.TaskOptions{})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.HandleFunc("/v1/session/start", r.handleSessionStart)
	mux.HandleFunc("/v1/session/stop", r.handleSessionStop)
	mux.HandleFunc("/v1/session/pause", r.handleSessionPause)
	mux.HandleFunc("/v1/session/resume", r.handleSessionResume)
	mux.HandleFunc("/v1/state", r.handleState)
	mux.HandleFunc("/v1/transcript", r.handleTranscript)
	mux.HandleFunc("/v1/timers", r.handleTimers)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.coord.Stop()
	if r.notesSvc != nil {
		r.notesSvc.Close()
	}
	if r.polishSvc != nil {
		r.polishSvc.Close()
	}
	r.sup.StopAll()
	r.shutdownInfra()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) shutdownInfra() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("journal close error", slog.String("error", err.Error()))
		}
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
}

func (r *Runtime) setupRecorder() error {
	audio, err := capture.NewCapture(r.cfg.Capture, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build audio capture: %w", err)
	}
	factory, err := speech.NewFactory(r.cfg.Recognition, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build recognizer factory: %w", err)
	}

	r.coord = recorder.New(audio, factory, r.sup, r.logger, recorder.Config{
		Constraints: recorder.Constraints{
			SampleRate: r.cfg.Capture.SampleRate,
			Channels:   r.cfg.Capture.Channels,
			Device:     r.cfg.Capture.Device,
		},
		Recognition: recorder.RecognitionConfig{
			Language:       r.cfg.Recognition.Language,
			Continuous:     r.cfg.Recognition.Continuous,
			InterimResults: r.cfg.Recognition.InterimResults,
		},
		RestartDelay: time.Duration(r.cfg.Session.RestartDelayMS) * time.Millisecond,
		DurationPoll: time.Duration(r.cfg.Session.DurationPollMS) * time.Millisecond,
		Separator:    r.cfg.Session.Separator,
		MaxRestarts:  r.cfg.Session.MaxRestarts,
	})

	r.coord.SetTranscriptHandler(func(text string, final bool) {
		subject := protocol.SubjectTranscriptPartial
		if final {
			subject = protocol.SubjectTranscriptFinal
		}
		msg := protocol.Transcript{
			SessionID: r.currentSession(),
			Text:      text,
			Partial:   !final,
			Timestamp: time.Now().UTC(),
		}
		if err := r.busClient.PublishJSON(subject, msg); err != nil {
			r.logger.Warn("failed to publish transcript", slog.String("error", err.Error()))
		}
	})
	r.coord.SetStateHandler(func(st recorder.State) {
		msg := protocol.SessionState{
			SessionID:  r.currentSession(),
			Recording:  st.Recording,
			Paused:     st.Paused,
			DurationMS: st.DurationMillis,
			Timestamp:  time.Now().UTC(),
		}
		if err := r.busClient.PublishJSON(protocol.SubjectSessionState, msg); err != nil {
			r.logger.Warn("failed to publish session state", slog.String("error", err.Error()))
		}
	})
	r.coord.SetErrorHandler(func(code recorder.ErrorCode, message string) {
		msg := protocol.SessionError{
			SessionID: r.currentSession(),
			Code:      string(code),
			Message:   message,
			Timestamp: time.Now().UTC(),
		}
		if err := r.busClient.PublishJSON(protocol.SubjectSessionError, msg); err != nil {
			r.logger.Warn("failed to publish session error", slog.String("error", err.Error()))
		}
	})
	return nil
}

func (r *Runtime) setupServices(ctx context.Context) error {
	generator, err := polish.NewGenerator(r.cfg.Polish)
	if err != nil {
		return fmt.Errorf("failed to build polish generator: %w", err)
	}
	r.polishSvc = polish.NewService(ctx, r.cfg.Polish, r.busClient, generator, r.logger)
	if err := r.polishSvc.Start(); err != nil {
		return fmt.Errorf("failed to start polish service: %w", err)
	}

	r.notesSvc = notes.NewService(ctx, r.cfg.Notes, r.busClient, r.store, r.logger)
	if err := r.notesSvc.Start(); err != nil {
		return fmt.Errorf("failed to start notes service: %w", err)
	}
	return nil
}

func (r *Runtime) currentSession() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleSessionStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !r.coord.Start(req.Context()) {
		writeJSON(w, http.StatusConflict, map[string]any{"started": false})
		return
	}

	sessionID := uuid.NewString()
	r.mu.Lock()
	r.sessionID = sessionID
	r.mu.Unlock()

	if err := r.store.StartSession(req.Context(), sessionID); err != nil {
		r.logger.Warn("failed to record session start", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, map[string]any{"started": true, "session_id": sessionID})
}

func (r *Runtime) handleSessionStop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := r.coord.State()
	r.coord.Stop()

	sessionID := r.currentSession()
	if sessionID != "" {
		if err := r.store.EndSession(req.Context(), sessionID, st.DurationMillis); err != nil {
			r.logger.Warn("failed to record session end", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true, "session_id": sessionID})
}

func (r *Runtime) handleSessionPause(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.coord.Pause()
	writeJSON(w, http.StatusOK, r.coord.State())
}

func (r *Runtime) handleSessionResume(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.coord.Resume()
	writeJSON(w, http.StatusOK, r.coord.State())
}

func (r *Runtime) handleState(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, r.coord.State())
}

func (r *Runtime) handleTranscript(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"transcript": r.coord.Transcript()})
	case http.MethodDelete:
		r.coord.ClearTranscript()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (r *Runtime) handleTimers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	type timerView struct {
		ID             string `json:"id"`
		Kind           string `json:"kind"`
		Name           string `json:"name"`
		ExecutionCount int    `json:"execution_count"`
		MaxExecutions  int    `json:"max_executions,omitempty"`
	}
	records := r.sup.ActiveTimers()
	views := make([]timerView, 0, len(records))
	for _, rec := range records {
		views = append(views, timerView{
			ID:             rec.ID,
			Kind:           string(rec.Kind),
			Name:           rec.Name,
			ExecutionCount: rec.ExecutionCount,
			MaxExecutions:  rec.MaxExecutions,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"timers": views, "stats": r.sup.Stats()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
