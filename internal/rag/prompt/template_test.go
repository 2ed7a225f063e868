package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

func TestRenderAppliesFilters(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(model.PromptTemplate{
		ID:                "greeting",
		Template:          "{{.name | strip | title}}: {{.tags | join \", \"}}",
		DefaultParameters: map[string]interface{}{"name": "", "tags": []string{}},
	}))

	out, err := r.Render("greeting", "", map[string]interface{}{
		"name": "  bob  ",
		"tags": []string{"go", "rag"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bob: go, rag", out)
}

func TestRegisterRejectsVariableWithNoDefault(t *testing.T) {
	r := New()
	err := r.Register(model.PromptTemplate{
		ID:       "strict",
		Template: "Hello {{.name}}",
	})
	assert.Error(t, err)
	_, ok := r.Get("strict")
	assert.False(t, ok)
}

func TestRenderUsesDefaultParameters(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(model.PromptTemplate{
		ID:                "with-default",
		Template:          "Hello {{.name}}",
		DefaultParameters: map[string]interface{}{"name": "World"},
	}))

	out, err := r.Render("with-default", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello World", out)
}

func TestRenderModelSpecificOverride(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(model.PromptTemplate{
		ID:       "over",
		Template: "generic {{.x}}",
		ModelSpecificVersions: map[string]string{
			"gpt-4": "gpt4-specific {{.x}}",
		},
		DefaultParameters: map[string]interface{}{"x": ""},
	}))

	out, err := r.Render("over", "gpt-4", map[string]interface{}{"x": "1"})
	require.NoError(t, err)
	assert.Equal(t, "gpt4-specific 1", out)

	out, err = r.Render("over", "other-model", map[string]interface{}{"x": "1"})
	require.NoError(t, err)
	assert.Equal(t, "generic 1", out)
}

func TestRenderChatValidatesRoleContentShape(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(model.PromptTemplate{
		ID: "chat",
		Template: `[{"role":"system","content":"{{.sys}}"},` +
			`{"role":"user","content":"{{.question}}"}]`,
		DefaultParameters: map[string]interface{}{"sys": "", "question": ""},
	}))

	messages, err := r.RenderChat("chat", "", map[string]interface{}{"sys": "be terse", "question": "hi"})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "hi", messages[1].Content)
}

func TestRenderChatRejectsNonListOutput(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(model.PromptTemplate{ID: "bad-chat", Template: `{"role":"user"}`}))

	_, err := r.RenderChat("bad-chat", "", nil)
	assert.Error(t, err)
}

func TestTruncateAndBulletListFilters(t *testing.T) {
	assert.Equal(t, "hel...", truncateFilter(3, "...", "hello"))
	assert.Equal(t, "- a\n- b", bulletList("-", []string{"a", "b"}))
}

func TestPersistenceRoundTripsThroughPromptsJSON(t *testing.T) {
	dir := t.TempDir()
	r := New(WithPersistence(dir))
	require.NoError(t, r.Register(model.PromptTemplate{
		ID:                "greeting",
		Template:          "Hello {{.name}}",
		DefaultParameters: map[string]interface{}{"name": "World"},
	}))

	if _, err := os.Stat(filepath.Join(dir, "prompts.json")); err != nil {
		t.Fatalf("expected prompts.json to exist: %v", err)
	}

	r2 := New(WithPersistence(dir))
	tmpl, ok := r2.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "Hello {{.name}}", tmpl.Template)

	out, err := r2.Render("greeting", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello World", out)
}

func TestDefaultTemplatesRegisterCleanly(t *testing.T) {
	r := New()
	for _, tmpl := range DefaultTemplates() {
		require.NoError(t, r.Register(tmpl))
	}
	out, err := r.Render("question_answer", "", map[string]interface{}{
		"context":  "[1] some fact",
		"question": "what fact?",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "what fact?")
}
