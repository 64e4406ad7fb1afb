package protocol

import "time"

// Transcript carries recognized text for one session, broadcast on the bus.
// Partial transcripts replace each other; final transcripts are the
// accumulated committed text.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// SessionState mirrors the recording session snapshot.
type SessionState struct {
	SessionID  string    `json:"session_id"`
	Recording  bool      `json:"recording"`
	Paused     bool      `json:"paused"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionError reports a session failure with a stable machine code.
type SessionError struct {
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PolishRequest asks the polish service to clean up a raw transcript.
type PolishRequest struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Model     string `json:"model,omitempty"`
}

// PolishResult is the polish service's reply.
type PolishResult struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NoteSaved announces a persisted note.
type NoteSaved struct {
	NoteID    string    `json:"note_id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Polished  bool      `json:"polished"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptPartial = "note.transcript.partial"
	SubjectTranscriptFinal   = "note.transcript.final"
	SubjectSessionState      = "note.session.state"
	SubjectSessionError      = "note.session.error"
	SubjectPolishRequest     = "note.polish.request"
	SubjectPolishResult      = "note.polish.result"
	SubjectNoteSaved         = "note.saved"

	// SubjectAll matches every runtime subject, for stream provisioning.
	SubjectAll = "note.>"
)
