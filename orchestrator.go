package raggo

import (
	"context"
	"fmt"
	"strings"

	"github.com/teilomillet/gollm"

	"github.com/teeksss/modularmind-rag/internal/rag/embedding"
	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/prompt"
	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
	"github.com/teeksss/modularmind-rag/internal/rag/router"
	"github.com/teeksss/modularmind-rag/internal/rag/sparse"
	"github.com/teeksss/modularmind-rag/internal/rag/store"
)

// defaultQueryTemperature is the generation temperature used when the
// caller does not override it, per spec.md §4.11.
const defaultQueryTemperature = 0.3

// sourceSnippetChars is the maximum length of a source snippet surfaced
// alongside an answer; sources never carry the full chunk text.
const sourceSnippetChars = 100

// EngineConfig configures the generator side of the orchestrator: which
// provider/key gollm uses to build an LLM client per query.
type EngineConfig struct {
	Provider        string
	APIKey          string
	DefaultLLMModel string
}

// Engine is the RAG orchestrator (spec.md C11): it wires the vector
// store facade, the embedding service, the model router and the prompt
// renderer together into the query(q, ...) pipeline. Grounded on the
// teacher's root RAG type (rag.go), generalized from a single Milvus
// VectorDB + single embedding provider to the multi-backend, multi-model
// stack the rest of this module builds.
type Engine struct {
	store    *store.Store
	embedder *embedding.Service
	router   *router.Router
	prompts  *prompt.Renderer
	config   EngineConfig
}

// NewEngine assembles an Engine from its already-constructed
// components. router may be nil, in which case a query without an
// EmbeddingModel uses the embedding service's default model.
func NewEngine(st *store.Store, embedder *embedding.Service, rtr *router.Router, prompts *prompt.Renderer, cfg EngineConfig) *Engine {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	return &Engine{store: st, embedder: embedder, router: rtr, prompts: prompts, config: cfg}
}

// QueryOptions carries the per-call overrides to Query.
type QueryOptions struct {
	ContextLimit   int
	Filter         map[string]interface{}
	IncludeSources bool
	LLMModel       string
	EmbeddingModel string
	Temperature    *float64
	TopP           *float64
}

// SourceSnippet is one retrieved chunk surfaced alongside an answer. It
// never carries more than a short preview of the chunk text.
type SourceSnippet struct {
	ChunkID string  `json:"chunk_id"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// QueryResult is the return shape of Query, per spec.md §4.11.
type QueryResult struct {
	Answer         string          `json:"answer"`
	Sources        []SourceSnippet `json:"sources,omitempty"`
	LLMModel       string          `json:"llm_model"`
	EmbeddingModel string          `json:"embedding_model"`
}

// Query runs the full retrieve-then-generate pipeline: hybrid search,
// context assembly, template selection with a plain-prompt fallback,
// and a generation call with a caller-overridable temperature/top_p.
func (e *Engine) Query(ctx context.Context, q string, opts QueryOptions) (*QueryResult, error) {
	limit := opts.ContextLimit
	if limit <= 0 {
		limit = 5
	}

	embeddingModel := opts.EmbeddingModel
	if embeddingModel == "" && e.router != nil {
		embeddingModel = e.router.SelectModelForText(q)
	}

	hits, err := e.store.HybridSearch(ctx, q, limit, opts.Filter, embeddingModel, e.embedder, sparse.DefaultAlpha)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: hybrid search: %w", err)
	}
	if embeddingModel == "" {
		embeddingModel = e.embedder.DefaultModel()
	}

	contextText := buildContext(hits)

	question := strings.TrimSpace(q)
	promptText, err := e.renderPrompt(contextText, question)
	if err != nil {
		return nil, err
	}

	llmModel := opts.LLMModel
	if llmModel == "" {
		llmModel = e.config.DefaultLLMModel
	}

	temperature := defaultQueryTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	answer, err := e.generate(ctx, llmModel, temperature, opts.TopP, promptText)
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Answer: answer, LLMModel: llmModel, EmbeddingModel: embeddingModel}
	if opts.IncludeSources {
		result.Sources = buildSources(hits)
	}
	return result, nil
}

func buildContext(hits []model.SearchResult) string {
	var sb strings.Builder
	for i, h := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s", i+1, h.Chunk.Text)
	}
	return sb.String()
}

func buildSources(hits []model.SearchResult) []SourceSnippet {
	sources := make([]SourceSnippet, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, SourceSnippet{
			ChunkID: h.Chunk.ID,
			Snippet: snippet(h.Chunk.Text, sourceSnippetChars),
			Score:   h.Score,
		})
	}
	return sources
}

func snippet(text string, maxChars int) string {
	r := []rune(text)
	if len(r) <= maxChars {
		return text
	}
	return string(r[:maxChars])
}

func (e *Engine) renderPrompt(contextText, question string) (string, error) {
	if _, ok := e.prompts.Get("question_answer"); ok {
		rendered, err := e.prompts.Render("question_answer", "", map[string]interface{}{
			"context":  contextText,
			"question": question,
		})
		if err != nil {
			return "", rerr.New("orchestrator.Query", rerr.TemplateInvalid, err)
		}
		return rendered, nil
	}
	return prompt.FallbackPrompt(contextText, question), nil
}

func (e *Engine) generate(ctx context.Context, llmModel string, temperature float64, topP *float64, promptText string) (string, error) {
	var (
		llm gollm.LLM
		err error
	)
	if topP != nil {
		llm, err = gollm.NewLLM(
			gollm.SetProvider(e.config.Provider),
			gollm.SetModel(llmModel),
			gollm.SetAPIKey(e.config.APIKey),
			gollm.SetTemperature(temperature),
			gollm.SetTopP(*topP),
		)
	} else {
		llm, err = gollm.NewLLM(
			gollm.SetProvider(e.config.Provider),
			gollm.SetModel(llmModel),
			gollm.SetAPIKey(e.config.APIKey),
			gollm.SetTemperature(temperature),
		)
	}
	if err != nil {
		return "", rerr.New("orchestrator.Query", rerr.ConfigInvalid, fmt.Errorf("build generator: %w", err))
	}
	answer, err := llm.Generate(ctx, gollm.NewPrompt(promptText))
	if err != nil {
		return "", rerr.New("orchestrator.Query", rerr.Transport, fmt.Errorf("generate: %w", err))
	}
	return answer, nil
}
