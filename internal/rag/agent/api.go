package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
)

// APIConnector calls a configurable HTTP endpoint and walks a dotted
// JSON path to a list of items, per spec.md §4.12.
type APIConnector struct {
	Client *http.Client
}

func (a *APIConnector) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

func (a *APIConnector) Run(ctx context.Context, cfg model.AgentConfig) ([]*model.Document, error) {
	method := stringOption(cfg, "method", http.MethodGet)

	var body io.Reader
	if raw, ok := cfg.Options["body"]; ok {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, rerr.New("api.Run", rerr.ConfigInvalid, fmt.Errorf("encode body: %w", err))
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.SourceURL, body)
	if err != nil {
		return nil, rerr.New("api.Run", rerr.ConfigInvalid, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := cfg.Options["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if q, ok := cfg.Options["params"].(map[string]interface{}); ok {
		query := req.URL.Query()
		for k, v := range q {
			query.Set(k, fmt.Sprintf("%v", v))
		}
		req.URL.RawQuery = query.Encode()
	}
	if err := a.applyAuth(cfg, req); err != nil {
		return nil, err
	}

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return nil, rerr.New("api.Run", rerr.RemoteUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, rerr.New("api.Run", rerr.SourceAuth, fmt.Errorf("status %d calling %s", resp.StatusCode, cfg.SourceURL))
	}
	if resp.StatusCode >= 500 {
		return nil, rerr.New("api.Run", rerr.RemoteUnavailable, fmt.Errorf("status %d calling %s", resp.StatusCode, cfg.SourceURL))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, rerr.New("api.Run", rerr.Transient, err)
	}

	dataPath := stringOption(cfg, "data_path", "")
	items := gjson.ParseBytes(raw)
	if dataPath != "" {
		items = items.Get(dataPath)
	}
	if !items.IsArray() {
		return nil, rerr.New("api.Run", rerr.ConfigInvalid, fmt.Errorf("data_path %q did not resolve to a list", dataPath))
	}

	textField := stringOption(cfg, "text_field", "")
	titleField := stringOption(cfg, "title_field", "")

	var docs []*model.Document
	for i, item := range items.Array() {
		if cfg.MaxItems > 0 && len(docs) >= cfg.MaxItems {
			break
		}
		text := item.Raw
		if textField != "" {
			if v := item.Get(textField); v.Exists() {
				text = v.String()
			}
		}
		metadata := map[string]interface{}{"source": "api", "index": i}
		if titleField != "" {
			if v := item.Get(titleField); v.Exists() {
				metadata["title"] = v.String()
			}
		}
		docs = append(docs, &model.Document{
			ID:       fmt.Sprintf("%s#%d", cfg.AgentID, i),
			Text:     text,
			Metadata: metadata,
		})
	}
	return capMaxItems(docs, cfg.MaxItems), nil
}

func (a *APIConnector) applyAuth(cfg model.AgentConfig, req *http.Request) error {
	authType := stringOption(cfg, "auth_type", "")
	switch authType {
	case "", "none":
		return nil
	case "bearer":
		token := cfg.Credentials["token"]
		if token == "" {
			return rerr.New("api.applyAuth", rerr.SourceAuth, fmt.Errorf("bearer auth requires a token credential"))
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case "basic":
		user, pass := cfg.Credentials["username"], cfg.Credentials["password"]
		if user == "" {
			return rerr.New("api.applyAuth", rerr.SourceAuth, fmt.Errorf("basic auth requires a username credential"))
		}
		req.SetBasicAuth(user, pass)
	case "api_key":
		key := cfg.Credentials["api_key"]
		header := stringOption(cfg, "api_key_header", "X-API-Key")
		if key == "" {
			return rerr.New("api.applyAuth", rerr.SourceAuth, fmt.Errorf("api_key auth requires an api_key credential"))
		}
		req.Header.Set(header, key)
	default:
		return rerr.New("api.applyAuth", rerr.ConfigInvalid, fmt.Errorf("unknown auth_type %q", authType))
	}
	return nil
}
