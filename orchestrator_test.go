package raggo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/prompt"
)

func TestBuildContextNumbersChunksInOrder(t *testing.T) {
	hits := []model.SearchResult{
		{Chunk: &model.Chunk{ID: "a", Text: "first chunk"}},
		{Chunk: &model.Chunk{ID: "b", Text: "second chunk"}},
	}
	got := buildContext(hits)
	assert.Equal(t, "[1] first chunk\n\n[2] second chunk", got)
}

func TestBuildSourcesTruncatesToSnippetLength(t *testing.T) {
	longText := ""
	for i := 0; i < 200; i++ {
		longText += "x"
	}
	hits := []model.SearchResult{{Chunk: &model.Chunk{ID: "a", Text: longText}, Score: 0.5}}
	sources := buildSources(hits)
	require.Len(t, sources, 1)
	assert.Len(t, sources[0].Snippet, sourceSnippetChars)
	assert.Equal(t, 0.5, sources[0].Score)
}

func TestRenderPromptUsesQuestionAnswerTemplateWhenRegistered(t *testing.T) {
	e := &Engine{prompts: prompt.New()}
	require.NoError(t, e.prompts.Register(prompt.DefaultTemplates()[0]))

	out, err := e.renderPrompt("[1] fact", "what fact?")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] fact")
	assert.Contains(t, out, "what fact?")
}

func TestRenderPromptFallsBackWhenNoTemplateRegistered(t *testing.T) {
	e := &Engine{prompts: prompt.New()}

	out, err := e.renderPrompt("[1] fact", "what fact?")
	require.NoError(t, err)
	assert.Equal(t, prompt.FallbackPrompt("[1] fact", "what fact?"), out)
}

func TestSnippetDoesNotTruncateShortText(t *testing.T) {
	assert.Equal(t, "short", snippet("short", 100))
}
