package speech

import (
	"sync"

	"github.com/dictalabs/dicta-core/internal/recorder"
)

// mockFactory produces streams that replay a fixed script. Useful for
// development without a recognizer binary on the host.
type mockFactory struct {
	script []string
}

func NewMockFactory(script []string) recorder.RecognizerFactory {
	return &mockFactory{script: script}
}

func (f *mockFactory) Supported() bool { return true }

func (f *mockFactory) New(_ recorder.RecognitionConfig, h recorder.Handlers) (recorder.RecognitionStream, error) {
	return &mockStream{script: f.script, h: h}, nil
}

type mockStream struct {
	script []string
	h      recorder.Handlers

	mu      sync.Mutex
	running bool
}

func (s *mockStream) Start() error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	if s.h.OnStart != nil {
		s.h.OnStart()
	}
	for _, line := range s.script {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			break
		}
		if s.h.OnResult != nil {
			s.h.OnResult(recorder.ResultEvent{Results: []recorder.Result{{
				Kind:         recorder.ResultFinal,
				Alternatives: []recorder.Alternative{{Text: line, Confidence: 1}},
			}}})
		}
	}
	return nil
}

func (s *mockStream) Stop() {
	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()

	if running && s.h.OnEnd != nil {
		s.h.OnEnd()
	}
}
