package providers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

func init() {
	Register(model.ProviderOpenAI, newOpenAI)
	Register(model.ProviderAzureOpenAI, newAzure)
}

const defaultOpenAIEmbeddingURL = "https://api.openai.com/v1/embeddings"

type openAIRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func newOpenAI(cfg model.EmbeddingModelConfig) (Adapter, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, fmt.Errorf("openai embedder: no API key configured (set %s)", envOrDefault(cfg.APIKeyEnv, "api_key_env in the model config"))
	}
	url := cfg.APIBaseURL
	if url == "" {
		url = defaultOpenAIEmbeddingURL
	}
	modelName := cfg.RemoteModelID
	if modelName == "" {
		modelName = "text-embedding-3-small"
	}
	client := &http.Client{Timeout: resolveTimeout(cfg)}

	call := func(ctx context.Context, text string) ([]float64, error) {
		body, err := postJSON(ctx, client, url, map[string]string{
			"Authorization": "Bearer " + apiKey,
		}, openAIRequest{Input: text, Model: modelName})
		if err != nil {
			return nil, err
		}
		return decodeOpenAILike(body)
	}
	return newBase(cfg.Dimensions, maxCharsFor(cfg), cfg.Normalize, call), nil
}

// newAzure reuses the OpenAI wire format: Azure OpenAI deployments expose
// the same request/response shape behind a deployment-scoped URL and an
// api-key header instead of a bearer token.
func newAzure(cfg model.EmbeddingModelConfig) (Adapter, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, fmt.Errorf("azure embedder: no API key configured (set %s)", envOrDefault(cfg.APIKeyEnv, "api_key_env in the model config"))
	}
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("azure embedder: api_base_url is required")
	}
	client := &http.Client{Timeout: resolveTimeout(cfg)}
	modelName := cfg.RemoteModelID

	call := func(ctx context.Context, text string) ([]float64, error) {
		body, err := postJSON(ctx, client, cfg.APIBaseURL, map[string]string{
			"api-key": apiKey,
		}, openAIRequest{Input: text, Model: modelName})
		if err != nil {
			return nil, err
		}
		return decodeOpenAILike(body)
	}
	return newBase(cfg.Dimensions, maxCharsFor(cfg), cfg.Normalize, call), nil
}

func decodeOpenAILike(body []byte) ([]float64, error) {
	var resp openAIResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data in response")
	}
	return resp.Data[0].Embedding, nil
}

func resolveAPIKey(cfg model.EmbeddingModelConfig) string {
	name := cfg.APIKeyEnv
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

func envOrDefault(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

func resolveTimeout(cfg model.EmbeddingModelConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return 30 * time.Second
}

// maxCharsFor reads an optional "max_chars" override from the model's
// options; providers without one fall back to a generous default rather
// than rejecting long input, per the truncate-not-reject contract.
func maxCharsFor(cfg model.EmbeddingModelConfig) int {
	if cfg.Options != nil {
		if v, ok := cfg.Options["max_chars"]; ok {
			if f, ok := v.(float64); ok {
				return int(f)
			}
			if i, ok := v.(int); ok {
				return i
			}
		}
	}
	return 32000
}
