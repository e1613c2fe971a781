package engine

import "context"

// Engine is the local inference backend. The memory core only needs
// embeddings and a short completion for note titles; model management is
// used at startup.
type Engine interface {
	// Chat returns the assistant reply for messages. opts may be nil.
	Chat(ctx context.Context, model string, messages []Message, opts *ChatOptions) (string, error)

	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the named model is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. onProgress may be nil.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
