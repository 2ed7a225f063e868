// Package ingest implements the ingestion manager (spec.md C14): the
// agent registry (add/update/delete/get/list/status/result) and the
// run_agent pipeline that turns a source agent's Documents into stored
// Chunks. Grounded on the original Python SourceAgentManager
// (source_agent_manager.py), generalized from its threading.Thread +
// schedule-library pairing to the internal/rag/schedule.Scheduler built
// for C13.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teeksss/modularmind-rag/internal/rag/agent"
	"github.com/teeksss/modularmind-rag/internal/rag/chunk"
	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
	"github.com/teeksss/modularmind-rag/internal/rag/schedule"
	"github.com/teeksss/modularmind-rag/internal/rag/store"
)

// errorThreshold is the consecutive-failure count at which an agent is
// auto-disabled, per spec.md §4.12 ("after a threshold (e.g. 5)").
const errorThreshold = 5

// Config wires the ingestion manager to its collaborators.
type Config struct {
	ConfigPath string
	MaxJobs    int
	Store      *store.Store
	Embedder   store.Embedder
	Chunker    *chunk.Chunker
}

// Summary is the flattened view returned by List, mirroring the fields
// the original manager's list_agents exposes.
type Summary struct {
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	AgentType string    `json:"agent_type"`
	Enabled   bool      `json:"enabled"`
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"last_run"`
	Status    string    `json:"status"`
	SourceURL string    `json:"source_url"`
}

// Status is the detailed view returned by Status.
type Status struct {
	AgentID    string     `json:"agent_id"`
	Name       string     `json:"name"`
	State      string     `json:"status"`
	Enabled    bool       `json:"enabled"`
	LastRun    time.Time  `json:"last_run"`
	ErrorCount int        `json:"error_count"`
	LastResult *model.AgentRun `json:"last_result,omitempty"`
}

// Manager owns the agent registry. Mutations (Add/Update/Delete/run
// bookkeeping) take mu; reads go through an atomic snapshot so List/Get
// never block on a mutation in flight, matching spec.md §4.14's
// "reads are lock-free" requirement. mu itself is a plain sync.Mutex,
// not a reentrant lock: internal helpers that run while mu is held
// never call back into a public, lock-taking method, so reentrancy is
// never required.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	agents atomic.Value // map[string]*model.AgentConfig, replaced wholesale on every mutation

	results   sync.Map // agentID -> *model.AgentRun
	scheduler *schedule.Scheduler
}

// New builds a Manager. Call Load to populate the registry from disk
// and Start to begin the scheduler's tick loop.
func New(cfg Config) *Manager {
	m := &Manager{cfg: cfg}
	m.agents.Store(map[string]*model.AgentConfig{})
	m.scheduler = schedule.New(m.runAgentJob, cfg.MaxJobs)
	return m
}

func (m *Manager) snapshot() map[string]*model.AgentConfig {
	return m.agents.Load().(map[string]*model.AgentConfig)
}

// replace installs a new registry snapshot built from the current one
// plus mutate. Callers must hold mu.
func (m *Manager) replace(mutate func(next map[string]*model.AgentConfig)) {
	current := m.snapshot()
	next := make(map[string]*model.AgentConfig, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	mutate(next)
	m.agents.Store(next)
}

// Start begins the scheduler's one-second tick loop.
func (m *Manager) Start(ctx context.Context) {
	m.scheduler.Start(ctx)
}

// Shutdown stops the tick loop and joins in-flight workers with a
// 2-second grace period, per spec.md §4.13.
func (m *Manager) Shutdown() {
	m.scheduler.Stop()
}

// Load reads every `<agent_id>.json` file under cfg.ConfigPath into the
// registry, mirroring the Python manager's _load_configs.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.ConfigPath == "" {
		return nil
	}
	entries, err := os.ReadDir(m.cfg.ConfigPath)
	if os.IsNotExist(err) {
		return os.MkdirAll(m.cfg.ConfigPath, 0o755)
	}
	if err != nil {
		return rerr.New("ingest.Load", rerr.Transient, err)
	}

	m.replace(func(next map[string]*model.AgentConfig) {
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(m.cfg.ConfigPath, entry.Name()))
			if err != nil {
				continue
			}
			var cfg model.AgentConfig
			if err := json.Unmarshal(raw, &cfg); err != nil {
				continue
			}
			next[cfg.AgentID] = &cfg
			if cfg.Enabled && cfg.Schedule != "" {
				_ = m.scheduler.Schedule(cfg.AgentID, cfg.Schedule)
			}
		}
	})
	return nil
}

func (m *Manager) saveConfig(cfg *model.AgentConfig) error {
	if m.cfg.ConfigPath == "" {
		return nil
	}
	if err := os.MkdirAll(m.cfg.ConfigPath, 0o755); err != nil {
		return rerr.New("ingest.saveConfig", rerr.Transient, err)
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return rerr.New("ingest.saveConfig", rerr.Transient, err)
	}
	path := filepath.Join(m.cfg.ConfigPath, cfg.AgentID+".json")
	return os.WriteFile(path, raw, 0o644)
}

// AddAgent registers a new agent, assigning an id if cfg.AgentID is
// empty. The schedule grammar is validated up front: invalid schedules
// are rejected here rather than surfacing later from the scheduler.
func (m *Manager) AddAgent(cfg model.AgentConfig) (string, error) {
	if cfg.Schedule != "" {
		if _, err := schedule.Parse(cfg.Schedule); err != nil {
			return "", err
		}
	}
	if cfg.AgentID == "" {
		cfg.AgentID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cfg
	m.replace(func(next map[string]*model.AgentConfig) {
		next[stored.AgentID] = &stored
	})
	if err := m.saveConfig(&stored); err != nil {
		return "", err
	}
	if stored.Enabled && stored.Schedule != "" {
		_ = m.scheduler.Schedule(stored.AgentID, stored.Schedule)
	}
	return stored.AgentID, nil
}

// UpdateAgent applies mutate to a copy of the existing config and
// persists the result. A closure stands in for the original's
// dict-of-updates-via-setattr, which has no direct idiomatic Go
// equivalent without reflection.
func (m *Manager) UpdateAgent(agentID string, mutate func(*model.AgentConfig)) (*model.AgentConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.snapshot()[agentID]
	if !ok {
		return nil, rerr.New("ingest.UpdateAgent", rerr.NotFound, fmt.Errorf("agent %s not found", agentID))
	}
	updated := *existing
	mutate(&updated)
	if updated.Schedule != "" {
		if _, err := schedule.Parse(updated.Schedule); err != nil {
			return nil, err
		}
	}

	m.replace(func(next map[string]*model.AgentConfig) {
		next[agentID] = &updated
	})
	if err := m.saveConfig(&updated); err != nil {
		return nil, err
	}

	m.scheduler.Unschedule(agentID)
	if updated.Enabled && updated.Schedule != "" {
		_ = m.scheduler.Schedule(agentID, updated.Schedule)
	}
	return &updated, nil
}

// DeleteAgent removes an agent, stopping it first if it is running.
func (m *Manager) DeleteAgent(agentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.snapshot()[agentID]; !ok {
		return false, nil
	}
	m.scheduler.StopAgent(agentID)
	m.scheduler.Unschedule(agentID)

	m.replace(func(next map[string]*model.AgentConfig) {
		delete(next, agentID)
	})
	m.results.Delete(agentID)

	if m.cfg.ConfigPath != "" {
		path := filepath.Join(m.cfg.ConfigPath, agentID+".json")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return true, rerr.New("ingest.DeleteAgent", rerr.Transient, err)
		}
	}
	return true, nil
}

// GetAgent returns the current config for agentID.
func (m *Manager) GetAgent(agentID string) (*model.AgentConfig, bool) {
	cfg, ok := m.snapshot()[agentID]
	return cfg, ok
}

// ListAgents returns a summary of every registered agent.
func (m *Manager) ListAgents() []Summary {
	snap := m.snapshot()
	out := make([]Summary, 0, len(snap))
	for id, cfg := range snap {
		out = append(out, Summary{
			AgentID:   id,
			Name:      cfg.Name,
			AgentType: cfg.AgentType,
			Enabled:   cfg.Enabled,
			Schedule:  cfg.Schedule,
			LastRun:   cfg.LastRun,
			Status:    m.stateFor(cfg),
			SourceURL: cfg.SourceURL,
		})
	}
	return out
}

func (m *Manager) stateFor(cfg *model.AgentConfig) string {
	if !cfg.Enabled {
		return "disabled"
	}
	if m.scheduler.IsRunning(cfg.AgentID) {
		return "running"
	}
	if v, ok := m.results.Load(cfg.AgentID); ok {
		if run := v.(*model.AgentRun); !run.Success {
			return "error"
		}
	}
	return "idle"
}

// GetStatus returns the detailed status view for agentID.
func (m *Manager) GetStatus(agentID string) (Status, error) {
	cfg, ok := m.snapshot()[agentID]
	if !ok {
		return Status{}, rerr.New("ingest.GetStatus", rerr.NotFound, fmt.Errorf("agent %s not found", agentID))
	}
	st := Status{
		AgentID:    agentID,
		Name:       cfg.Name,
		State:      m.stateFor(cfg),
		Enabled:    cfg.Enabled,
		LastRun:    cfg.LastRun,
		ErrorCount: cfg.ErrorCount,
	}
	if v, ok := m.results.Load(agentID); ok {
		st.LastResult = v.(*model.AgentRun)
	}
	return st, nil
}

// GetResult returns the most recent AgentRun recorded for agentID.
func (m *Manager) GetResult(agentID string) (*model.AgentRun, bool) {
	v, ok := m.results.Load(agentID)
	if !ok {
		return nil, false
	}
	return v.(*model.AgentRun), true
}

// RunAgent dispatches one run of agentID through the scheduler, which
// enforces the AlreadyRunning re-entrancy rule.
func (m *Manager) RunAgent(ctx context.Context, agentID string, sync bool) (string, error) {
	if _, ok := m.GetAgent(agentID); !ok {
		return "", rerr.New("ingest.RunAgent", rerr.NotFound, fmt.Errorf("agent %s not found", agentID))
	}
	return m.scheduler.RunAgent(ctx, agentID, sync)
}

// StopAgent is advisory; see schedule.Scheduler.StopAgent.
func (m *Manager) StopAgent(agentID string) bool {
	return m.scheduler.StopAgent(agentID)
}

// runAgentJob is the scheduler's RunFunc: invoke the runner, chunk the
// documents, hand them to the store, and record the outcome.
func (m *Manager) runAgentJob(ctx context.Context, agentID string) error {
	cfg, ok := m.GetAgent(agentID)
	if !ok {
		return rerr.New("ingest.runAgentJob", rerr.NotFound, fmt.Errorf("agent %s not found", agentID))
	}

	run := &model.AgentRun{
		JobID:     fmt.Sprintf("job_%s_%d", agentID, time.Now().UnixNano()),
		AgentID:   agentID,
		StartTime: time.Now(),
	}

	runner, ok := agent.New(cfg.AgentType)
	if !ok {
		m.finishRun(run, 0, rerr.New("ingest.runAgentJob", rerr.ConfigInvalid, fmt.Errorf("unknown agent_type %q", cfg.AgentType)))
		return nil
	}

	docs, err := runner.Run(ctx, *cfg)
	if err != nil {
		m.finishRun(run, 0, err)
		return nil
	}

	chunks := m.documentsToChunks(docs)
	if m.cfg.Store != nil && len(chunks) > 0 {
		if err := m.cfg.Store.AddBatch(ctx, chunks, m.cfg.Embedder); err != nil {
			m.finishRun(run, 0, err)
			return nil
		}
	}

	run.Documents = docs
	m.finishRun(run, len(docs), nil)
	return nil
}

func (m *Manager) documentsToChunks(docs []*model.Document) []*model.Chunk {
	var chunks []*model.Chunk
	for _, doc := range docs {
		if m.cfg.Chunker == nil {
			chunks = append(chunks, &model.Chunk{
				ID:         model.ChunkID(doc.ID, 0),
				DocumentID: doc.ID,
				Text:       doc.Text,
				Metadata:   doc.Metadata,
			})
			continue
		}
		pieces := m.cfg.Chunker.Chunk(doc.Text)
		for i, text := range pieces {
			chunks = append(chunks, &model.Chunk{
				ID:         model.ChunkID(doc.ID, i),
				DocumentID: doc.ID,
				Text:       text,
				Metadata:   doc.Metadata,
			})
		}
	}
	return chunks
}

// finishRun records the AgentRun and updates the agent's LastRun /
// ErrorCount bookkeeping, auto-disabling the agent once error_count
// reaches errorThreshold per spec.md §4.12.
func (m *Manager) finishRun(run *model.AgentRun, itemCount int, runErr error) {
	run.EndTime = time.Now()
	run.Success = runErr == nil
	run.ItemCount = itemCount
	if runErr != nil {
		run.ErrorMessage = runErr.Error()
	}
	m.results.Store(run.AgentID, run)

	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.snapshot()[run.AgentID]
	if !ok {
		return
	}
	updated := *existing
	if runErr != nil {
		updated.ErrorCount++
		if updated.ErrorCount >= errorThreshold {
			updated.Enabled = false
			m.scheduler.Unschedule(run.AgentID)
		}
	} else {
		updated.ErrorCount = 0
		updated.LastRun = run.EndTime
	}
	m.replace(func(next map[string]*model.AgentConfig) {
		next[run.AgentID] = &updated
	})
	_ = m.saveConfig(&updated)
}
