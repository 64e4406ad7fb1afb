package speech

import (
	"io"
	"log/slog"
	"testing"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/recorder"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMockStreamReplaysScript(t *testing.T) {
	factory := NewMockFactory([]string{"first", "second"})
	if !factory.Supported() {
		t.Fatal("mock factory must always be supported")
	}

	var started, ended int
	var texts []string
	stream, err := factory.New(recorder.RecognitionConfig{}, recorder.Handlers{
		OnStart: func() { started++ },
		OnEnd:   func() { ended++ },
		OnResult: func(ev recorder.ResultEvent) {
			texts = append(texts, ev.Results[0].Alternatives[0].Text)
		},
	})
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}

	if err := stream.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if started != 1 {
		t.Fatalf("expected one start callback, got %d", started)
	}
	if len(texts) != 2 || texts[0] != "first" || texts[1] != "second" {
		t.Fatalf("unexpected script replay: %v", texts)
	}

	stream.Stop()
	stream.Stop()
	if ended != 1 {
		t.Fatalf("expected one end callback, got %d", ended)
	}
}

func TestNewExecFactoryRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecFactory(config.RecognitionConfig{Command: ""}, discardLogger()); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecFactoryBuildsProcessArgs(t *testing.T) {
	f, err := NewExecFactory(config.RecognitionConfig{
		Command:   "whisper-stream --step 500",
		ModelPath: "/models/ggml-base.bin",
	}, discardLogger())
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}

	stream, err := f.New(recorder.RecognitionConfig{Language: "en-US", InterimResults: true}, recorder.Handlers{})
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}

	args := stream.(*execStream).args
	want := []string{"whisper-stream", "--step", "500", "--model", "/models/ggml-base.bin", "--language", "en-US", "--interim"}
	if len(args) != len(want) {
		t.Fatalf("unexpected args: %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d: want %q, got %q", i, want[i], args[i])
		}
	}
}

func TestNewFactoryRejectsUnknownMode(t *testing.T) {
	if _, err := NewFactory(config.RecognitionConfig{Mode: "cloud"}, discardLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
