package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

func init() {
	Register(model.ProviderLocalHTTP, newLocalHTTP)
}

type localHTTPRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type localHTTPResponse struct {
	Embedding []float64 `json:"embedding"`
}

// newLocalHTTP targets a self-hosted embedding server speaking a minimal
// {text, model} -> {embedding} JSON contract, for deployments that run
// their own inference process behind an HTTP endpoint rather than a
// hosted API. No API key is required.
func newLocalHTTP(cfg model.EmbeddingModelConfig) (Adapter, error) {
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("local-http embedder: api_base_url is required")
	}
	client := &http.Client{Timeout: resolveTimeout(cfg)}
	modelName := cfg.RemoteModelID

	call := func(ctx context.Context, text string) ([]float64, error) {
		body, err := postJSON(ctx, client, cfg.APIBaseURL, nil, localHTTPRequest{Text: text, Model: modelName})
		if err != nil {
			return nil, err
		}
		var resp localHTTPResponse
		if err := decodeJSON(body, &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if len(resp.Embedding) == 0 {
			return nil, fmt.Errorf("no embedding data in response")
		}
		return resp.Embedding, nil
	}
	return newBase(cfg.Dimensions, maxCharsFor(cfg), cfg.Normalize, call), nil
}
