// Package prompt implements the template renderer (spec.md C10): named,
// versioned templates rendered against a variable map, with a small set
// of Jinja-style filters layered onto Go's text/template pipeline (the
// idiomatic Go equivalent of Jinja's `{{ value|filter }}` chaining —
// text/template's own `{{ .value | filter }}` pipeline is the same
// mechanism with an explicit dot). Grounded on the teacher's prompt
// construction in rag.go/contextual_rag.go/simple_rag.go, which builds
// prompts with fmt.Sprintf and hands them to gollm.NewPrompt; this
// package generalises that into data-driven templates while keeping
// gollm as the thing that ultimately receives the rendered string.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
)

// ChatMessage is one entry of a rendered chat template.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// promptsFile is the JSON table file PromptTemplates persist to, written
// under whatever directory WithPersistence names.
const promptsFile = "prompts.json"

// Renderer holds a registry of named prompt templates and renders them
// against caller-supplied variables.
type Renderer struct {
	mu         sync.RWMutex
	templates  map[string]*model.PromptTemplate
	persistDir string
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithPersistence makes the Renderer load prompts.json from dir at
// construction, and rewrite it on every successful Register.
func WithPersistence(dir string) Option {
	return func(r *Renderer) { r.persistDir = dir }
}

// New creates a Renderer, loading prompts.json from a configured
// persistence directory if one exists.
func New(opts ...Option) *Renderer {
	r := &Renderer{templates: make(map[string]*model.PromptTemplate)}
	for _, opt := range opts {
		opt(r)
	}
	if r.persistDir != "" {
		_ = r.Load()
	}
	return r
}

// Register adds or replaces a named template. Validation both parses the
// template source and test-renders it against t.DefaultParameters, so a
// template referencing a variable with no matching default is rejected
// here rather than failing later at Render under missingkey=error
// (spec.md §3, §4.10, §8). If the Renderer is configured with
// WithPersistence, a successful Register rewrites prompts.json.
func (r *Renderer) Register(t model.PromptTemplate) error {
	if err := r.registerLocked(t); err != nil {
		return err
	}
	if r.persistDir != "" {
		if err := r.Save(); err != nil {
			return rerr.New("prompt.Register", rerr.Transient, err)
		}
	}
	return nil
}

func (r *Renderer) registerLocked(t model.PromptTemplate) error {
	if t.ID == "" {
		return rerr.New("prompt.Register", rerr.TemplateInvalid, fmt.Errorf("template id is required"))
	}
	if err := r.validate(t.ID, t.Template, t.DefaultParameters); err != nil {
		return rerr.New("prompt.Register", rerr.TemplateInvalid, err)
	}
	for modelID, src := range t.ModelSpecificVersions {
		if err := r.validate(t.ID+":"+modelID, src, t.DefaultParameters); err != nil {
			return rerr.New("prompt.Register", rerr.TemplateInvalid, err)
		}
	}
	cp := t
	r.mu.Lock()
	r.templates[t.ID] = &cp
	r.mu.Unlock()
	return nil
}

// Save writes every registered template to prompts.json under the
// configured persistence directory. A no-op if none was configured.
func (r *Renderer) Save() error {
	if r.persistDir == "" {
		return nil
	}
	r.mu.RLock()
	list := make([]model.PromptTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		list = append(list, *t)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	if err := os.MkdirAll(r.persistDir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.persistDir, promptsFile), raw, 0o644)
}

// Load reads prompts.json from the configured persistence directory and
// registers every template it contains, skipping persistence on each
// individual Register (the table file is already the one on disk).
// Missing prompts.json is not an error.
func (r *Renderer) Load() error {
	if r.persistDir == "" {
		return nil
	}
	raw, err := os.ReadFile(filepath.Join(r.persistDir, promptsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var list []model.PromptTemplate
	if err := json.Unmarshal(raw, &list); err != nil {
		return err
	}
	for _, t := range list {
		if err := r.registerLocked(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a registered template by id.
func (r *Renderer) Get(id string) (*model.PromptTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	return t, ok
}

func (r *Renderer) parse(name, src string) (*template.Template, error) {
	return template.New(name).Funcs(filterFuncs).Option("missingkey=error").Parse(src)
}

// validate parses src and test-renders it against defaults, discarding the
// output. It fails with the missing field named if defaults don't cover
// every variable src references.
func (r *Renderer) validate(name, src string, defaults map[string]interface{}) error {
	tmpl, err := r.parse(name, src)
	if err != nil {
		return err
	}
	if err := tmpl.Execute(io.Discard, defaults); err != nil {
		return fmt.Errorf("renders with default_parameters: %w", err)
	}
	return nil
}

func (r *Renderer) sourceFor(t *model.PromptTemplate, modelID string) string {
	if modelID != "" {
		if src, ok := t.ModelSpecificVersions[modelID]; ok {
			return src
		}
	}
	return t.Template
}

func mergeVars(defaults, vars map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(defaults)+len(vars))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	return merged
}

// Render selects the template (the per-model override when modelID
// matches one exactly, otherwise the base template), merges caller variables over the
// template's defaults, and executes it. A variable referenced in the
// template but present in neither vars nor the template's defaults
// fails rendering, per spec.md §4.10.
func (r *Renderer) Render(id, modelID string, vars map[string]interface{}) (string, error) {
	t, ok := r.Get(id)
	if !ok {
		return "", rerr.New("prompt.Render", rerr.TemplateInvalid, fmt.Errorf("template %q not registered", id))
	}
	src := r.sourceFor(t, modelID)
	tmpl, err := r.parse(id, src)
	if err != nil {
		return "", rerr.New("prompt.Render", rerr.TemplateInvalid, err)
	}
	merged := mergeVars(t.DefaultParameters, vars)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, merged); err != nil {
		return "", rerr.New("prompt.Render", rerr.TemplateInvalid, err)
	}
	return buf.String(), nil
}

// RenderChat renders a chat template and validates that its output
// parses as a JSON array of {role, content} objects.
func (r *Renderer) RenderChat(id, modelID string, vars map[string]interface{}) ([]ChatMessage, error) {
	rendered, err := r.Render(id, modelID, vars)
	if err != nil {
		return nil, err
	}
	var messages []ChatMessage
	if err := json.Unmarshal([]byte(rendered), &messages); err != nil {
		return nil, rerr.New("prompt.RenderChat", rerr.TemplateInvalid, fmt.Errorf("chat template did not render valid JSON: %w", err))
	}
	for i, m := range messages {
		if m.Role == "" {
			return nil, rerr.New("prompt.RenderChat", rerr.TemplateInvalid, fmt.Errorf("message %d missing role", i))
		}
	}
	return messages, nil
}

var filterFuncs = template.FuncMap{
	"strip":       func(s string) string { return strings.TrimSpace(s) },
	"title":       titleCase,
	"upper":       strings.ToUpper,
	"lower":       strings.ToLower,
	"capitalize":  capitalize,
	"join":        joinFilter,
	"first":       firstFilter,
	"last":        lastFilter,
	"truncate":    truncateFilter,
	"format_json": formatJSON,
	"bullet_list": bulletList,
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + strings.ToLower(string(r[1:]))
}

func toStrings(list interface{}) []string {
	switch v := list.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = fmt.Sprintf("%v", item)
		}
		return out
	default:
		return nil
	}
}

func joinFilter(sep string, list interface{}) string {
	return strings.Join(toStrings(list), sep)
}

func firstFilter(list interface{}) string {
	items := toStrings(list)
	if len(items) == 0 {
		return ""
	}
	return items[0]
}

func lastFilter(list interface{}) string {
	items := toStrings(list)
	if len(items) == 0 {
		return ""
	}
	return items[len(items)-1]
}

func truncateFilter(n int, suffix string, s string) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + suffix
}

func formatJSON(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func bulletList(bullet string, list interface{}) string {
	items := toStrings(list)
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = bullet + " " + item
	}
	return strings.Join(lines, "\n")
}

// DefaultTemplates returns the built-in templates C11 expects to find:
// question_answer, rendered with {context, question}.
func DefaultTemplates() []model.PromptTemplate {
	return []model.PromptTemplate{
		{
			ID:   "question_answer",
			Type: model.TemplateQA,
			Template: "Use the following context to answer the question. If the context does not contain the answer, say so.\n" +
				"Context:\n{{.context}}\n\nQuestion: {{.question}}\n\nAnswer:",
			DefaultParameters: map[string]interface{}{"context": "", "question": ""},
		},
	}
}

// FallbackPrompt is the plain prompt C11 falls back to when no
// question_answer template is registered, matching spec.md §4.11's
// literal wording.
func FallbackPrompt(context, question string) string {
	return fmt.Sprintf("Use the following context…\nContext:\n%s\n\nQuestion: %s\n\nAnswer:", context, question)
}

// SortedIDs returns every registered template id, sorted, mostly useful
// for diagnostics and tests.
func (r *Renderer) SortedIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
