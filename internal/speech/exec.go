package speech

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/recorder"
)

// execFactory spawns an external recognizer process per stream. The process
// reads microphone audio itself and emits one JSON object per line on
// stdout: {"text": "...", "final": true, "confidence": 0.92}.
type execFactory struct {
	cfg     config.RecognitionConfig
	command []string
	log     *slog.Logger
}

type execLine struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence"`
}

func NewExecFactory(cfg config.RecognitionConfig, log *slog.Logger) (recorder.RecognizerFactory, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognition command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("recognition command is empty")
	}
	return &execFactory{cfg: cfg, command: args, log: log.With(slog.String("component", "speech"))}, nil
}

func (f *execFactory) Supported() bool {
	_, err := exec.LookPath(f.command[0])
	return err == nil
}

func (f *execFactory) New(cfg recorder.RecognitionConfig, h recorder.Handlers) (recorder.RecognitionStream, error) {
	args := append([]string{}, f.command...)
	if f.cfg.ModelPath != "" {
		args = append(args, "--model", f.cfg.ModelPath)
	}
	if cfg.Language != "" {
		args = append(args, "--language", cfg.Language)
	}
	if cfg.InterimResults {
		args = append(args, "--interim")
	}
	return &execStream{args: args, h: h, log: f.log}, nil
}

// execStream is one recognizer process. Start may be called again after the
// process exits; each Start spawns a fresh process.
type execStream struct {
	args []string
	h    recorder.Handlers
	log  *slog.Logger

	mu            sync.Mutex
	cmd           *exec.Cmd
	stopRequested bool
}

func (s *execStream) Start() error {
	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		return errors.New("recognizer process already running")
	}

	cmd := exec.Command(s.args[0], s.args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("recognizer stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("start recognizer: %w", err)
	}
	s.cmd = cmd
	s.stopRequested = false
	s.mu.Unlock()

	s.log.Debug("recognizer process started", slog.Int("pid", cmd.Process.Pid))
	if s.h.OnStart != nil {
		s.h.OnStart()
	}
	go s.pump(cmd, stdout)
	return nil
}

func (s *execStream) Stop() {
	s.mu.Lock()
	s.stopRequested = true
	cmd := s.cmd
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (s *execStream) pump(cmd *exec.Cmd, stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var out execLine
		if err := json.Unmarshal(line, &out); err != nil {
			s.log.Warn("recognizer emitted invalid line", slog.String("error", err.Error()))
			continue
		}
		kind := recorder.ResultInterim
		if out.Final {
			kind = recorder.ResultFinal
		}
		if s.h.OnResult != nil {
			s.h.OnResult(recorder.ResultEvent{Results: []recorder.Result{{
				Kind:         kind,
				Alternatives: []recorder.Alternative{{Text: out.Text, Confidence: out.Confidence}},
			}}})
		}
	}

	err := cmd.Wait()
	s.mu.Lock()
	stopped := s.stopRequested
	s.cmd = nil
	s.mu.Unlock()

	if err != nil && !stopped {
		s.log.Warn("recognizer process failed", slog.String("error", err.Error()))
		if s.h.OnError != nil {
			s.h.OnError("process", err.Error())
		}
		return
	}
	if s.h.OnEnd != nil {
		s.h.OnEnd()
	}
}
