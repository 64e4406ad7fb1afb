package recorder

import "context"

// Constraints describe the requested audio capture stream.
type Constraints struct {
	SampleRate int
	Channels   int
	Device     string
}

// Track is one live media track inside an acquired stream.
type Track interface {
	Stop()
}

// StreamHandle is a live audio capture stream. The coordinator owns the
// handle for the lifetime of one session and stops every track on exit.
type StreamHandle interface {
	Tracks() []Track
}

// AudioCapture acquires capture streams. Acquire may fail with a
// permission or hardware error.
type AudioCapture interface {
	Acquire(ctx context.Context, c Constraints) (StreamHandle, error)
}

// ResultKind tags a recognition result as confirmed or hypothetical.
type ResultKind string

const (
	ResultInterim ResultKind = "interim"
	ResultFinal   ResultKind = "final"
)

// Alternative is one candidate transcription. Only the first alternative
// of a result is consumed.
type Alternative struct {
	Text       string
	Confidence float64
}

// Result is one entry of a recognition result batch.
type Result struct {
	Kind         ResultKind
	Alternatives []Alternative
}

// ResultEvent carries a batch of results starting at ResultIndex.
type ResultEvent struct {
	ResultIndex int
	Results     []Result
}

// RecognitionConfig mirrors the platform recognition settings.
type RecognitionConfig struct {
	Language       string
	Continuous     bool
	InterimResults bool
}

// Handlers receive recognition lifecycle callbacks. They are wired once
// when the stream is constructed.
type Handlers struct {
	OnStart  func()
	OnResult func(ResultEvent)
	OnError  func(code, message string)
	OnEnd    func()
}

// RecognitionStream is a live speech recognition resource. Start may be
// called again after OnEnd has fired; long-lived platform sessions end
// unilaterally and are restarted in place.
type RecognitionStream interface {
	Start() error
	Stop()
}

// RecognizerFactory constructs recognition streams and reports whether the
// platform exposes the capability at all.
type RecognizerFactory interface {
	Supported() bool
	New(cfg RecognitionConfig, h Handlers) (RecognitionStream, error)
}
