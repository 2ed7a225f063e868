package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

func init() {
	Register(model.ProviderGoogle, newGoogle)
}

const defaultGoogleEmbeddingURL = "https://generativelanguage.googleapis.com/v1beta/models/"

type googleContentPart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Parts []googleContentPart `json:"parts"`
}

type googleRequest struct {
	Model   string        `json:"model"`
	Content googleContent `json:"content"`
}

type googleResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

func newGoogle(cfg model.EmbeddingModelConfig) (Adapter, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, fmt.Errorf("google embedder: no API key configured (set %s)", envOrDefault(cfg.APIKeyEnv, "api_key_env in the model config"))
	}
	modelName := cfg.RemoteModelID
	if modelName == "" {
		modelName = "embedding-001"
	}
	url := cfg.APIBaseURL
	if url == "" {
		url = fmt.Sprintf("%s%s:embedContent?key=%s", defaultGoogleEmbeddingURL, modelName, apiKey)
	}
	client := &http.Client{Timeout: resolveTimeout(cfg)}

	call := func(ctx context.Context, text string) ([]float64, error) {
		body, err := postJSON(ctx, client, url, nil, googleRequest{
			Model:   "models/" + modelName,
			Content: googleContent{Parts: []googleContentPart{{Text: text}}},
		})
		if err != nil {
			return nil, err
		}
		var resp googleResponse
		if err := decodeJSON(body, &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if len(resp.Embedding.Values) == 0 {
			return nil, fmt.Errorf("no embedding data in response")
		}
		return resp.Embedding.Values, nil
	}
	return newBase(cfg.Dimensions, maxCharsFor(cfg), cfg.Normalize, call), nil
}
