package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeksss/modularmind-rag/internal/rag/agent"
	"github.com/teeksss/modularmind-rag/internal/rag/chunk"
	"github.com/teeksss/modularmind-rag/internal/rag/index"
	"github.com/teeksss/modularmind-rag/internal/rag/metric"
	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
	"github.com/teeksss/modularmind-rag/internal/rag/store"
)

type fakeEmbedder struct{}

func (fakeEmbedder) CreateEmbedding(ctx context.Context, text, modelID string) ([]float64, error) {
	return []float64{1, 0, 0}, nil
}

func (fakeEmbedder) CreateBatchEmbeddings(ctx context.Context, texts []string, modelID string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0, 0}
	}
	return out, nil
}

func (fakeEmbedder) DefaultModel() string { return "test-model" }

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	st := store.New(t.TempDir())
	adapter, err := index.New("hnsw", 3, metric.Cosine, nil)
	require.NoError(t, err)
	require.NoError(t, st.AddShard(context.Background(), "test-model", adapter, 3, metric.Cosine))

	m := New(Config{
		ConfigPath: t.TempDir(),
		MaxJobs:    5,
		Store:      st,
		Embedder:   fakeEmbedder{},
		Chunker:    chunk.New(chunk.WithMode(chunk.Paragraph)),
	})
	require.NoError(t, m.Load())
	return m
}

func registerSucceedingAgent(t *testing.T, agentType string, docs []*model.Document) {
	t.Helper()
	agent.Register(agentType, func() agent.Runner {
		return agent.RunnerFunc(func(ctx context.Context, cfg model.AgentConfig) ([]*model.Document, error) {
			return docs, nil
		})
	})
}

func registerFailingAgent(t *testing.T, agentType string, err error) {
	t.Helper()
	agent.Register(agentType, func() agent.Runner {
		return agent.RunnerFunc(func(ctx context.Context, cfg model.AgentConfig) ([]*model.Document, error) {
			return nil, err
		})
	})
}

func TestAddAgentAssignsIDAndRejectsBadSchedule(t *testing.T) {
	m := newTestManager(t)

	id, err := m.AddAgent(model.AgentConfig{Name: "no-id", AgentType: "custom"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = m.AddAgent(model.AgentConfig{Name: "bad", AgentType: "custom", Schedule: "weekly:monday"})
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.ScheduleInvalid))
}

func TestRunAgentSuccessPipelineChunksAndStores(t *testing.T) {
	agentType := fmt.Sprintf("test-success-%d", time.Now().UnixNano())
	registerSucceedingAgent(t, agentType, []*model.Document{
		{ID: "doc-1", Text: "first paragraph of content.\n\nsecond paragraph here."},
	})

	m := newTestManager(t)
	id, err := m.AddAgent(model.AgentConfig{Name: "ok", AgentType: agentType})
	require.NoError(t, err)

	jobID, err := m.RunAgent(context.Background(), id, true)
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	run, ok := m.GetResult(id)
	require.True(t, ok)
	assert.True(t, run.Success)
	assert.Equal(t, 1, run.ItemCount)

	cfg, ok := m.GetAgent(id)
	require.True(t, ok)
	assert.Equal(t, 0, cfg.ErrorCount)
	assert.False(t, cfg.LastRun.IsZero())
}

func TestRunAgentFailureIncrementsErrorCount(t *testing.T) {
	agentType := fmt.Sprintf("test-fail-%d", time.Now().UnixNano())
	registerFailingAgent(t, agentType, rerr.New("test", rerr.RemoteUnavailable, fmt.Errorf("boom")))

	m := newTestManager(t)
	id, err := m.AddAgent(model.AgentConfig{Name: "flaky", AgentType: agentType})
	require.NoError(t, err)

	_, err = m.RunAgent(context.Background(), id, true)
	require.NoError(t, err) // RunAgent itself doesn't fail; the job result carries the error

	run, ok := m.GetResult(id)
	require.True(t, ok)
	assert.False(t, run.Success)

	cfg, ok := m.GetAgent(id)
	require.True(t, ok)
	assert.Equal(t, 1, cfg.ErrorCount)
}

func TestRunAgentAutoDisablesAfterErrorThreshold(t *testing.T) {
	agentType := fmt.Sprintf("test-threshold-%d", time.Now().UnixNano())
	registerFailingAgent(t, agentType, rerr.New("test", rerr.Transient, fmt.Errorf("boom")))

	m := newTestManager(t)
	id, err := m.AddAgent(model.AgentConfig{Name: "doomed", AgentType: agentType, Enabled: true})
	require.NoError(t, err)

	for i := 0; i < errorThreshold; i++ {
		_, err := m.RunAgent(context.Background(), id, true)
		require.NoError(t, err)
	}

	cfg, ok := m.GetAgent(id)
	require.True(t, ok)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, errorThreshold, cfg.ErrorCount)
}

func TestRunAgentRejectsUnknownAgentID(t *testing.T) {
	m := newTestManager(t)
	_, err := m.RunAgent(context.Background(), "missing", true)
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.NotFound))
}

func TestUpdateAgentAppliesMutationAndReschedules(t *testing.T) {
	m := newTestManager(t)
	id, err := m.AddAgent(model.AgentConfig{Name: "orig", AgentType: "custom"})
	require.NoError(t, err)

	updated, err := m.UpdateAgent(id, func(c *model.AgentConfig) {
		c.Name = "renamed"
		c.Schedule = "interval:5m"
		c.Enabled = true
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	cfg, ok := m.GetAgent(id)
	require.True(t, ok)
	assert.Equal(t, "renamed", cfg.Name)
}

func TestDeleteAgentRemovesFromRegistry(t *testing.T) {
	m := newTestManager(t)
	id, err := m.AddAgent(model.AgentConfig{Name: "temp", AgentType: "custom"})
	require.NoError(t, err)

	ok, err := m.DeleteAgent(id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, found := m.GetAgent(id)
	assert.False(t, found)
}

func TestListAgentsReflectsState(t *testing.T) {
	m := newTestManager(t)
	_, err := m.AddAgent(model.AgentConfig{Name: "a", AgentType: "custom"})
	require.NoError(t, err)
	_, err = m.AddAgent(model.AgentConfig{Name: "b", AgentType: "custom"})
	require.NoError(t, err)

	list := m.ListAgents()
	assert.Len(t, list, 2)
}
