package ollama

import (
	"context"
	"fmt"
)

// LoadError describes why the embedding model could not be loaded. It is
// terminal for the process: callers are expected to degrade, not retry.
type LoadError struct {
	Model string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("ollama: load model %s: %v", e.Model, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Provider is an embedding provider backed by one Ollama model. Load must
// succeed before Embed is used; the readiness gate enforces that ordering.
type Provider struct {
	client *Client
	model  string
	dims   int
}

// NewProvider creates a provider for the given embedding model.
func NewProvider(client *Client, model string) *Provider {
	return &Provider{client: client, model: model}
}

// Load verifies the daemon is reachable and the model answers, by running a
// warm-up embed. Ollama loads model weights on first use, so the warm-up also
// pays the cold-start cost here instead of on the first user query.
func (p *Provider) Load(ctx context.Context) (*Handle, error) {
	vec, err := p.client.Embed(ctx, p.model, "warmup")
	if err != nil {
		return nil, &LoadError{Model: p.model, Err: err}
	}
	if len(vec) == 0 {
		return nil, &LoadError{Model: p.model, Err: fmt.Errorf("model returned empty embedding")}
	}
	p.dims = len(vec)
	return &Handle{client: p.client, model: p.model, dims: len(vec)}, nil
}

// Dims returns the vector dimensionality learned by Load, 0 before Load.
func (p *Provider) Dims() int { return p.dims }

// Handle is the loaded-model handle published through the readiness gate.
type Handle struct {
	client *Client
	model  string
	dims   int
}

// Embed converts text to a vector. Valid only after a successful Load.
func (h *Handle) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := h.client.Embed(ctx, h.model, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != h.dims {
		return nil, fmt.Errorf("ollama: dimension drift: got %d want %d", len(vec), h.dims)
	}
	return vec, nil
}

// Dims returns the vector dimensionality.
func (h *Handle) Dims() int { return h.dims }
