package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

func init() {
	Register(model.ProviderCohere, newCohere)
}

const defaultCohereEmbeddingURL = "https://api.cohere.ai/v1/embed"

type cohereRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type cohereResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func newCohere(cfg model.EmbeddingModelConfig) (Adapter, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, fmt.Errorf("cohere embedder: no API key configured (set %s)", envOrDefault(cfg.APIKeyEnv, "api_key_env in the model config"))
	}
	url := cfg.APIBaseURL
	if url == "" {
		url = defaultCohereEmbeddingURL
	}
	modelName := cfg.RemoteModelID
	if modelName == "" {
		modelName = "embed-english-v3.0"
	}
	inputType := "search_document"
	if cfg.Options != nil {
		if v, ok := cfg.Options["input_type"].(string); ok && v != "" {
			inputType = v
		}
	}
	client := &http.Client{Timeout: resolveTimeout(cfg)}

	call := func(ctx context.Context, text string) ([]float64, error) {
		body, err := postJSON(ctx, client, url, map[string]string{
			"Authorization": "Bearer " + apiKey,
		}, cohereRequest{Texts: []string{text}, Model: modelName, InputType: inputType})
		if err != nil {
			return nil, err
		}
		var resp cohereResponse
		if err := decodeJSON(body, &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if len(resp.Embeddings) == 0 {
			return nil, fmt.Errorf("no embedding data in response")
		}
		return resp.Embeddings[0], nil
	}
	return newBase(cfg.Dimensions, maxCharsFor(cfg), cfg.Normalize, call), nil
}
