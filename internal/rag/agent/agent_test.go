package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
)

func TestRegistryResolvesBuiltinAgentTypes(t *testing.T) {
	for _, agentType := range []string{"web_crawler", "rss", "api", "filesystem", "database", "email"} {
		runner, ok := New(agentType)
		assert.True(t, ok, agentType)
		assert.NotNil(t, runner, agentType)
	}
	_, ok := New("does_not_exist")
	assert.False(t, ok)
}

func TestRegisterAddsCustomAgent(t *testing.T) {
	called := false
	Register("custom_test_agent", func() Runner {
		return RunnerFunc(func(ctx context.Context, cfg model.AgentConfig) ([]*model.Document, error) {
			called = true
			return nil, nil
		})
	})
	runner, ok := New("custom_test_agent")
	require.True(t, ok)
	_, err := runner.Run(context.Background(), model.AgentConfig{})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestCapMaxItemsTruncates(t *testing.T) {
	docs := []*model.Document{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	assert.Len(t, capMaxItems(docs, 2), 2)
	assert.Len(t, capMaxItems(docs, 0), 3)
	assert.Len(t, capMaxItems(docs, 10), 3)
}

func TestSinceLastRun(t *testing.T) {
	cfg := model.AgentConfig{}
	assert.True(t, sinceLastRun(cfg, time.Now()))

	cfg.LastRun = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, sinceLastRun(cfg, cfg.LastRun.Add(-time.Hour)))
	assert.True(t, sinceLastRun(cfg, cfg.LastRun.Add(time.Hour)))
}

func TestOptionHelpers(t *testing.T) {
	cfg := model.AgentConfig{Options: map[string]interface{}{
		"name":   "value",
		"count":  float64(3),
		"on":     true,
		"things": []interface{}{"a", "b"},
	}}
	assert.Equal(t, "value", stringOption(cfg, "name", "fallback"))
	assert.Equal(t, "fallback", stringOption(cfg, "missing", "fallback"))
	assert.Equal(t, 3, intOption(cfg, "count", 0))
	assert.Equal(t, 7, intOption(cfg, "missing", 7))
	assert.True(t, boolOption(cfg, "on", false))
	assert.False(t, boolOption(cfg, "missing", false))
	assert.Equal(t, []string{"a", "b"}, stringSliceOption(cfg, "things"))
	assert.Nil(t, stringSliceOption(cfg, "missing"))
}

func TestHasAnyExt(t *testing.T) {
	assert.True(t, hasAnyExt("/a/b/c.md", []string{"md", "txt"}))
	assert.True(t, hasAnyExt("/a/b/c.TXT", []string{".txt"}))
	assert.False(t, hasAnyExt("/a/b/c.png", []string{"md", "txt"}))
}

func TestFilesystemAgentReadsMatchingFilesAndRespectsMaxItems(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("beta"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.png"), []byte("ignore"), 0o644))

	agent := &FilesystemAgent{}
	docs, err := agent.Run(context.Background(), model.AgentConfig{
		AgentID:   "fs1",
		SourceURL: dir,
		MaxItems:  1,
		Options:   map[string]interface{}{"extensions": []interface{}{"md"}},
	})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, "filesystem", docs[0].Metadata["source"])
}

func TestFilesystemAgentSkipsUnchangedFilesWhenCheckingMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.md")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	agent := &FilesystemAgent{}
	docs, err := agent.Run(context.Background(), model.AgentConfig{
		SourceURL: dir,
		LastRun:   time.Now(),
		Options:   map[string]interface{}{"check_mtime": true},
	})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestAPIConnectorWalksDataPathAndAppliesBearerAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"body": "first", "headline": "one"},
				{"body": "second", "headline": "two"},
			},
		})
	}))
	defer srv.Close()

	agent := &APIConnector{Client: srv.Client()}
	docs, err := agent.Run(context.Background(), model.AgentConfig{
		AgentID:     "api1",
		SourceURL:   srv.URL,
		Credentials: map[string]string{"token": "secret"},
		Options: map[string]interface{}{
			"auth_type":   "bearer",
			"data_path":   "results",
			"text_field":  "body",
			"title_field": "headline",
		},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "first", docs[0].Text)
	assert.Equal(t, "one", docs[0].Metadata["title"])
}

func TestAPIConnectorRequiresBearerToken(t *testing.T) {
	agent := &APIConnector{}
	_, err := agent.Run(context.Background(), model.AgentConfig{
		SourceURL: "http://example.invalid",
		Options:   map[string]interface{}{"auth_type": "bearer"},
	})
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.SourceAuth))
}

func TestDatabaseAgentRejectsUnsupportedDriver(t *testing.T) {
	agent := &DatabaseAgent{}
	_, err := agent.Run(context.Background(), model.AgentConfig{
		Options: map[string]interface{}{"driver": "oracle", "query": "select 1"},
	})
	require.Error(t, err)
}

func TestDatabaseAgentRejectsStubbedDrivers(t *testing.T) {
	agent := &DatabaseAgent{}
	_, err := agent.Run(context.Background(), model.AgentConfig{
		Options: map[string]interface{}{"driver": "mysql", "query": "select 1"},
	})
	require.Error(t, err)
}

func TestDatabaseAgentRequiresQuery(t *testing.T) {
	agent := &DatabaseAgent{}
	_, err := agent.Run(context.Background(), model.AgentConfig{
		Options: map[string]interface{}{"driver": "postgres"},
	})
	require.Error(t, err)
}

func TestEmailAgentRequiresCredentials(t *testing.T) {
	agent := &EmailAgent{}
	_, err := agent.Run(context.Background(), model.AgentConfig{SourceURL: "imap.example.com:993"})
	require.Error(t, err)
}
