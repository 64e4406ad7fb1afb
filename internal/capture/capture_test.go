package capture

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/recorder"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMockCaptureAcquires(t *testing.T) {
	capt, err := NewCapture(config.CaptureConfig{Mode: "mock"}, discardLogger())
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	handle, err := capt.Acquire(context.Background(), recorder.Constraints{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	tracks := handle.Tracks()
	if len(tracks) != 1 {
		t.Fatalf("expected one track, got %d", len(tracks))
	}
	tracks[0].Stop()
	if !tracks[0].(*mockTrack).stopped {
		t.Fatal("expected track stopped")
	}
}

func TestNewExecCaptureRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecCapture(config.CaptureConfig{Mode: "exec"}, discardLogger()); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestNewCaptureRejectsUnknownMode(t *testing.T) {
	if _, err := NewCapture(config.CaptureConfig{Mode: "pulse"}, discardLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestWAVSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	sink, err := newWAVSink(path, 16000, 1)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	pcm := make([]byte, 32)
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i*100)))
	}
	if err := sink.Write(pcm); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if dec.SampleRate != 16000 {
		t.Fatalf("expected 16kHz, got %d", dec.SampleRate)
	}
	if len(buf.Data) != 16 {
		t.Fatalf("expected 16 samples, got %d", len(buf.Data))
	}
	if buf.Data[3] != 300 {
		t.Fatalf("unexpected sample value: %d", buf.Data[3])
	}
}

func TestWAVSinkRejectsUnalignedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	sink, err := newWAVSink(path, 16000, 1)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	defer sink.Close()

	if err := sink.Write([]byte{0x01}); err == nil {
		t.Fatal("expected error for odd-length payload")
	}
}
