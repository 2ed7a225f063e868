// Package router implements the model router (spec.md C5): it decides
// which embedding model(s) to use for a given text by language and domain
// detection, with an ensemble mode that fuses multiple models' vectors.
// Grounded on the original ModelRouter (services/embedding/model_router.py):
// select_model_for_text, select_models_for_text and the two ensemble
// fusion strategies are ported behavior-for-behavior.
package router

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/teeksss/modularmind-rag/internal/rag/logx"
)

// Embedder is the subset of the embedding service the router depends on,
// kept narrow so router tests don't need a real provider-backed service.
type Embedder interface {
	CreateEmbedding(ctx context.Context, text, modelID string) ([]float64, error)
	DefaultModel() string
}

// EnsembleMethod selects how multiple models' vectors are fused.
type EnsembleMethod string

const (
	WeightedAverage EnsembleMethod = "weighted_average"
	Concatenate     EnsembleMethod = "concatenate"
)

// Config configures routing behavior.
type Config struct {
	DefaultModelID   string
	FallbackModelID  string
	LanguageModels   map[string]string // language code -> model id
	DomainModels     map[string]string // domain -> model id
	ModelWeights     map[string]float64
	EnableAutoRouting bool
	EnableEnsemble    bool
	EnsembleMethod    EnsembleMethod
}

// Router selects one or more embedding models for a piece of text and can
// fuse their outputs into a single ensemble vector.
type Router struct {
	cfg      Config
	embedder Embedder

	mu            sync.Mutex
	languageCache map[string]string
}

// New creates a Router. embedder may be nil for routing-decision-only use
// (e.g. tests that only exercise select_model_for_text).
func New(cfg Config, embedder Embedder) *Router {
	if cfg.EnsembleMethod == "" {
		cfg.EnsembleMethod = WeightedAverage
	}
	return &Router{cfg: cfg, embedder: embedder, languageCache: make(map[string]string)}
}

func (r *Router) defaultModel() string {
	if r.cfg.DefaultModelID != "" {
		return r.cfg.DefaultModelID
	}
	if r.embedder != nil {
		return r.embedder.DefaultModel()
	}
	return ""
}

// SelectModelForText returns the single best model id for text.
func (r *Router) SelectModelForText(text string) string {
	if !r.cfg.EnableAutoRouting {
		return r.defaultModel()
	}
	if len(strings.TrimSpace(text)) < 10 {
		return r.defaultModel()
	}

	if lang := r.detectLanguage(text); lang != "" {
		if id, ok := r.cfg.LanguageModels[lang]; ok && id != "" {
			return id
		}
	}
	if domain := detectDomain(text); domain != "" {
		if id, ok := r.cfg.DomainModels[domain]; ok && id != "" {
			return id
		}
	}
	if r.cfg.DefaultModelID != "" {
		return r.cfg.DefaultModelID
	}
	if r.cfg.FallbackModelID != "" {
		return r.cfg.FallbackModelID
	}
	return r.defaultModel()
}

// SelectModelsForText returns the set of models to use for ensemble
// embedding: language pick, domain pick, topped up with default/fallback/
// any available model until at least 2 are present (capped at 3).
func (r *Router) SelectModelsForText(text string, availableModels []string) []string {
	if !r.cfg.EnableEnsemble {
		return []string{r.SelectModelForText(text)}
	}

	selected := make(map[string]struct{})
	if lang := r.detectLanguage(text); lang != "" {
		if id, ok := r.cfg.LanguageModels[lang]; ok && id != "" {
			selected[id] = struct{}{}
		}
	}
	if domain := detectDomain(text); domain != "" {
		if id, ok := r.cfg.DomainModels[domain]; ok && id != "" {
			selected[id] = struct{}{}
		}
	}

	if len(selected) < 2 {
		if r.cfg.DefaultModelID != "" {
			selected[r.cfg.DefaultModelID] = struct{}{}
		}
		if len(selected) < 2 && r.cfg.FallbackModelID != "" {
			selected[r.cfg.FallbackModelID] = struct{}{}
		}
		if len(selected) < 2 {
			for _, id := range availableModels {
				if _, ok := selected[id]; ok {
					continue
				}
				selected[id] = struct{}{}
				if len(selected) >= 3 {
					break
				}
			}
		}
	}

	out := make([]string, 0, len(selected))
	for id := range selected {
		out = append(out, id)
	}
	return out
}

// ComputeEnsembleEmbedding embeds text with every model in modelsToUse (or
// the router's own selection if empty) and fuses the results.
func (r *Router) ComputeEnsembleEmbedding(ctx context.Context, text string, modelsToUse []string, availableModels []string, logger logx.Logger) ([]float64, error) {
	if logger == nil {
		logger = logx.Nop
	}
	models := modelsToUse
	if len(models) == 0 {
		models = r.SelectModelsForText(text, availableModels)
	}
	if len(models) == 0 {
		return nil, nil
	}

	embeddings := make(map[string][]float64)
	for _, id := range models {
		v, err := r.embedder.CreateEmbedding(ctx, text, id)
		if err != nil {
			logger.Error("ensemble embedding failed for model", "model_id", id, "err", err)
			continue
		}
		embeddings[id] = v
	}
	if len(embeddings) == 0 {
		logger.Warn("no model produced an embedding for ensemble")
		return nil, nil
	}
	if len(embeddings) == 1 {
		for _, v := range embeddings {
			return v, nil
		}
	}

	switch r.cfg.EnsembleMethod {
	case Concatenate:
		return concatenate(embeddings), nil
	default:
		return weightedAverage(embeddings, r.cfg.ModelWeights, logger), nil
	}
}

func weightedAverage(embeddings map[string][]float64, weights map[string]float64, logger logx.Logger) []float64 {
	dims := -1
	mismatched := false
	var largestModel string
	largestDim := -1
	for id, v := range embeddings {
		if dims == -1 {
			dims = len(v)
		} else if len(v) != dims {
			mismatched = true
		}
		if len(v) > largestDim {
			largestDim = len(v)
			largestModel = id
		}
	}
	if mismatched {
		logger.Error("ensemble embeddings have mismatched dimensions, falling back to largest vector")
		return embeddings[largestModel]
	}

	resolved := make(map[string]float64, len(embeddings))
	var total float64
	for id := range embeddings {
		w, ok := weights[id]
		if !ok || w <= 0 {
			w = 1.0
		}
		resolved[id] = w
		total += w
	}
	if total <= 0 {
		for id := range resolved {
			resolved[id] = 1.0 / float64(len(resolved))
		}
	} else {
		for id := range resolved {
			resolved[id] /= total
		}
	}

	out := make([]float64, dims)
	for id, v := range embeddings {
		w := resolved[id]
		for i, x := range v {
			out[i] += x * w
		}
	}
	return normalize(out)
}

func concatenate(embeddings map[string][]float64) []float64 {
	ids := make([]string, 0, len(embeddings))
	for id := range embeddings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []float64
	for _, id := range ids {
		out = append(out, embeddings[id]...)
	}
	const maxDims = 5000
	if len(out) > maxDims {
		step := len(out) / 2000
		if step < 1 {
			step = 1
		}
		decimated := make([]float64, 0, len(out)/step+1)
		for i := 0; i < len(out); i += step {
			decimated = append(decimated, out[i])
		}
		out = decimated
	}
	return normalize(out)
}

func normalize(v []float64) []float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// detectLanguage is a lightweight stopword-overlap heuristic: no
// language-id library appears anywhere in the retrieved example pack, so
// this stays on the standard library rather than fabricating a
// dependency. Results are cached per call site by the first 100
// characters of text, mirroring the hash-of-prefix cache in the original
// router.
func (r *Router) detectLanguage(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 20 {
		return ""
	}
	prefix := trimmed
	if len(prefix) > 100 {
		prefix = prefix[:100]
	}

	r.mu.Lock()
	if lang, ok := r.languageCache[prefix]; ok {
		r.mu.Unlock()
		return lang
	}
	r.mu.Unlock()

	lang := guessLanguage(trimmed)
	if lang == "" {
		return ""
	}
	if _, supported := r.cfg.LanguageModels[lang]; !supported {
		return ""
	}

	r.mu.Lock()
	r.languageCache[prefix] = lang
	r.mu.Unlock()
	return lang
}

var stopwordsByLang = map[string][]string{
	"en": {"the", "and", "is", "are", "of", "to", "in", "that", "for", "with"},
	"tr": {"bir", "bu", "ve", "ile", "için", "olan", "de", "da", "gibi"},
	"de": {"der", "die", "das", "und", "ist", "nicht", "mit", "für"},
	"fr": {"le", "la", "les", "et", "est", "pour", "avec", "des"},
	"es": {"el", "la", "los", "las", "y", "es", "para", "con"},
}

func guessLanguage(text string) string {
	lower := strings.ToLower(text)
	words := strings.Fields(lower)
	if len(words) == 0 {
		return ""
	}
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}

	bestLang := ""
	bestScore := 0
	for lang, stopwords := range stopwordsByLang {
		score := 0
		for _, sw := range stopwords {
			if _, ok := wordSet[sw]; ok {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestLang = lang
		}
	}
	if bestScore == 0 {
		return ""
	}
	return bestLang
}

var domainKeywords = map[string][]string{
	"finance": {"finance", "financial", "money", "banking", "investment", "stock", "market", "economy", "economic", "currency", "profit", "loss", "budget", "tax", "interest rate"},
	"legal":   {"legal", "law", "lawyer", "attorney", "court", "judge", "lawsuit", "plaintiff", "defendant", "jurisdiction", "statute", "regulation", "compliance", "contract", "litigation"},
	"medical": {"medical", "medicine", "health", "doctor", "patient", "hospital", "clinic", "disease", "symptom", "diagnosis", "treatment", "prescription", "surgery", "physician", "pharmacy"},
	"tech":    {"technology", "tech", "computer", "software", "hardware", "internet", "web", "cloud", "data", "programming", "algorithm", "database", "network", "server", "security", "ai", "code"},
}

// detectDomain votes keyword occurrences per domain and requires at least
// 2 matching occurrences total before picking a winner, per spec.md §4.5.
func detectDomain(text string) string {
	lower := strings.ToLower(text)
	bestDomain := ""
	bestScore := 0
	for domain, keywords := range domainKeywords {
		score := 0
		for _, kw := range keywords {
			score += countWholeWord(lower, kw)
		}
		if score > bestScore {
			bestScore = score
			bestDomain = domain
		}
	}
	if bestScore < 2 {
		return ""
	}
	return bestDomain
}

func countWholeWord(text, word string) int {
	pattern := `\b` + regexp.QuoteMeta(word) + `\b`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0
	}
	return len(re.FindAllString(text, -1))
}
