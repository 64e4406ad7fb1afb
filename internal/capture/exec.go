package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/recorder"
)

// execCapture acquires audio by spawning an external recorder process
// (arecord, ffmpeg, sox) that writes raw 16-bit PCM to stdout. When a WAV
// directory is configured every session is additionally archived to disk.
type execCapture struct {
	cfg config.CaptureConfig
	cmd []string
	log *slog.Logger
}

func NewExecCapture(cfg config.CaptureConfig, log *slog.Logger) (recorder.AudioCapture, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("capture command is empty")
	}
	return &execCapture{cfg: cfg, cmd: args, log: log.With(slog.String("component", "capture"))}, nil
}

func (c *execCapture) Acquire(ctx context.Context, cons recorder.Constraints) (recorder.StreamHandle, error) {
	sampleRate := cons.SampleRate
	if sampleRate <= 0 {
		sampleRate = c.cfg.SampleRate
	}
	channels := cons.Channels
	if channels <= 0 {
		channels = c.cfg.Channels
	}
	device := cons.Device
	if device == "" {
		device = c.cfg.Device
	}

	args := append([]string{}, c.cmd...)
	if device != "" {
		args = append(args, "--device", device)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture process: %w", err)
	}

	var sink *wavSink
	if c.cfg.WAVDir != "" {
		if err := os.MkdirAll(c.cfg.WAVDir, 0o755); err != nil {
			c.log.Warn("wav archive dir unavailable", slog.String("error", err.Error()))
		} else {
			path := filepath.Join(c.cfg.WAVDir, fmt.Sprintf("capture_%d.wav", time.Now().UnixNano()))
			sink, err = newWAVSink(path, sampleRate, channels)
			if err != nil {
				c.log.Warn("wav archive disabled", slog.String("error", err.Error()))
				sink = nil
			}
		}
	}

	go c.drain(stdout, sink)

	track := &processTrack{cmd: cmd, log: c.log}
	c.log.Info("audio capture acquired",
		slog.Int("sample_rate", sampleRate),
		slog.Int("channels", channels),
		slog.String("device", device))
	return &streamHandle{tracks: []recorder.Track{track}}, nil
}

func (c *execCapture) drain(stdout io.ReadCloser, sink *wavSink) {
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 && sink != nil {
			if werr := sink.Write(buf[:n]); werr != nil {
				c.log.Warn("wav archive write failed", slog.String("error", werr.Error()))
				sink.Close()
				sink = nil
			}
		}
		if err != nil {
			break
		}
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			c.log.Warn("wav archive close failed", slog.String("error", err.Error()))
		}
	}
}

type streamHandle struct {
	tracks []recorder.Track
}

func (s *streamHandle) Tracks() []recorder.Track { return s.tracks }

type processTrack struct {
	cmd  *exec.Cmd
	log  *slog.Logger
	once sync.Once
}

func (t *processTrack) Stop() {
	t.once.Do(func() {
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		_ = t.cmd.Wait()
	})
}
