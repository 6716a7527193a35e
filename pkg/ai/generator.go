package ai

import "context"

// Generator produces raw model output for a prompt. The Ollama client
// implements this; tests substitute fakes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
