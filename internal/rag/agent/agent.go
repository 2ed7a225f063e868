// Package agent implements the seven source-agent variants of C12: web
// crawler, RSS, API connector, filesystem, database, email and custom.
// Grounded on the teacher's rag.Loader (rag/load.go) for the HTTP/file
// conventions (configurable client, timeout, context-bounded requests)
// generalized from "download to a temp path" to "yield Documents",
// which is what an ingestion source needs to produce.
package agent

import (
	"context"
	"time"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

// Runner is the uniform contract every source agent implements. Run
// yields documents discovered since cfg.LastRun (when the agent
// supports incremental mode) and respects cfg.MaxItems.
type Runner interface {
	Run(ctx context.Context, cfg model.AgentConfig) ([]*model.Document, error)
}

// RunnerFunc adapts a plain function to the Runner interface, letting
// callers Register a custom agent_type without declaring a named type.
type RunnerFunc func(ctx context.Context, cfg model.AgentConfig) ([]*model.Document, error)

func (f RunnerFunc) Run(ctx context.Context, cfg model.AgentConfig) ([]*model.Document, error) {
	return f(ctx, cfg)
}

// RunnerFactory constructs a Runner for one agent_type.
type RunnerFactory func() Runner

var factories = map[string]RunnerFactory{}

// Register adds a runner factory under an agent_type name.
func Register(agentType string, f RunnerFactory) {
	factories[agentType] = f
}

// New constructs a Runner for the given agent_type.
func New(agentType string) (Runner, bool) {
	f, ok := factories[agentType]
	if !ok {
		return nil, false
	}
	return f(), true
}

func init() {
	Register("web_crawler", func() Runner { return &WebCrawler{} })
	Register("rss", func() Runner { return &RSSAgent{} })
	Register("api", func() Runner { return &APIConnector{} })
	Register("filesystem", func() Runner { return &FilesystemAgent{} })
	Register("database", func() Runner { return &DatabaseAgent{} })
	Register("email", func() Runner { return &EmailAgent{} })
}

// capMaxItems truncates docs to cfg.MaxItems when that's set (>0).
func capMaxItems(docs []*model.Document, maxItems int) []*model.Document {
	if maxItems > 0 && len(docs) > maxItems {
		return docs[:maxItems]
	}
	return docs
}

// sinceLastRun reports whether t is after cfg.LastRun, or true when the
// agent has never run (zero LastRun means "full sync").
func sinceLastRun(cfg model.AgentConfig, t time.Time) bool {
	if cfg.LastRun.IsZero() {
		return true
	}
	return t.After(cfg.LastRun)
}

func stringOption(cfg model.AgentConfig, key, fallback string) string {
	if cfg.Options == nil {
		return fallback
	}
	if v, ok := cfg.Options[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func intOption(cfg model.AgentConfig, key string, fallback int) int {
	if cfg.Options == nil {
		return fallback
	}
	switch v := cfg.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func boolOption(cfg model.AgentConfig, key string, fallback bool) bool {
	if cfg.Options == nil {
		return fallback
	}
	if v, ok := cfg.Options[key].(bool); ok {
		return v
	}
	return fallback
}

func stringSliceOption(cfg model.AgentConfig, key string) []string {
	if cfg.Options == nil {
		return nil
	}
	v, ok := cfg.Options[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
