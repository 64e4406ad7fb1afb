package polish

import (
	"context"
	"strings"
	"time"
	"unicode"
)

// mockGenerator applies a deterministic cleanup: filler words removed,
// whitespace collapsed, first letter capitalized, trailing period added.
type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

var fillers = map[string]bool{
	"um":   true,
	"uh":   true,
	"erm":  true,
	"like": false, // too aggressive to strip
}

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	return consumer(Chunk{
		RequestID: req.RequestID,
		SessionID: req.SessionID,
		Content:   cleanup(req.Text),
		Partial:   false,
		Latency:   5 * time.Millisecond,
	})
}

func cleanup(text string) string {
	var kept []string
	for _, word := range strings.Fields(text) {
		if fillers[strings.ToLower(strings.Trim(word, ",."))] {
			continue
		}
		kept = append(kept, word)
	}
	out := strings.Join(kept, " ")
	if out == "" {
		return out
	}
	runes := []rune(out)
	runes[0] = unicode.ToUpper(runes[0])
	out = string(runes)
	if !strings.ContainsRune(".!?", rune(out[len(out)-1])) {
		out += "."
	}
	return out
}
