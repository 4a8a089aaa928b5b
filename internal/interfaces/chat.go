package interfaces

import "context"

// ChatMessage is one message forwarded to the generative backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest carries one chat-completion call.
type CompletionRequest struct {
	SystemInstructions string
	Messages           []ChatMessage
	Temperature        float64
	MaxTokens          int
}

// ChatBackend is the black-box completion service. Implementations must
// distinguish transport/API failures (error) from an empty reply
// (ErrEmptyCompletion) so callers can choose fallback behavior.
type ChatBackend interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Intent is the outcome of photo-intent classification over one utterance.
type Intent struct {
	IsRequest  bool
	Categories []string
	Colors     []string
}

// PhotoIntentClassifier decides whether an utterance asks for a photo and
// with which categories. Pluggable so a multi-locale or model-based detector
// can replace the pattern-based one.
type PhotoIntentClassifier interface {
	Classify(text string) Intent
}
