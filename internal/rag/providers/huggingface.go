package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

func init() {
	Register(model.ProviderHuggingFace, newHuggingFace)
}

const defaultHFInferenceURL = "https://api-inference.huggingface.co/pipeline/feature-extraction/"

type hfRequest struct {
	Inputs  string                 `json:"inputs"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// newHuggingFace targets the feature-extraction inference endpoint, which
// returns either a flat vector or a token-by-dimension matrix depending on
// the model's pooling configuration; decodeHFResponse normalizes both.
func newHuggingFace(cfg model.EmbeddingModelConfig) (Adapter, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, fmt.Errorf("huggingface embedder: no API key configured (set %s)", envOrDefault(cfg.APIKeyEnv, "api_key_env in the model config"))
	}
	url := cfg.APIBaseURL
	if url == "" {
		url = defaultHFInferenceURL + cfg.RemoteModelID
	}
	client := &http.Client{Timeout: resolveTimeout(cfg)}

	call := func(ctx context.Context, text string) ([]float64, error) {
		body, err := postJSON(ctx, client, url, map[string]string{
			"Authorization": "Bearer " + apiKey,
		}, hfRequest{Inputs: text, Options: map[string]interface{}{"wait_for_model": true}})
		if err != nil {
			return nil, err
		}
		return decodeHFResponse(body)
	}
	return newBase(cfg.Dimensions, maxCharsFor(cfg), cfg.Normalize, call), nil
}

func decodeHFResponse(body []byte) ([]float64, error) {
	var flat []float64
	if err := decodeJSON(body, &flat); err == nil && len(flat) > 0 {
		return flat, nil
	}
	var matrix [][]float64
	if err := decodeJSON(body, &matrix); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(matrix) == 0 {
		return nil, fmt.Errorf("no embedding data in response")
	}
	return meanPool(matrix), nil
}

// meanPool averages a token x dimension matrix into a single sentence
// vector, the standard pooling strategy for encoder models that return
// per-token hidden states rather than a pre-pooled embedding.
func meanPool(matrix [][]float64) []float64 {
	dims := len(matrix[0])
	out := make([]float64, dims)
	for _, row := range matrix {
		for i := 0; i < dims && i < len(row); i++ {
			out[i] += row[i]
		}
	}
	n := float64(len(matrix))
	for i := range out {
		out[i] /= n
	}
	return out
}
