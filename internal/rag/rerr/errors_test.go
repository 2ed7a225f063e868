package rerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesOpKindAndCause(t *testing.T) {
	err := New("store.Search", NotFound, fmt.Errorf("chunk missing"))
	assert.Equal(t, "store.Search: NotFound: chunk missing", err.Error())
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := New("schedule.Parse", ScheduleInvalid, nil)
	assert.Equal(t, "schedule.Parse: ScheduleInvalid", err.Error())
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := New("op", Transient, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	err := New("agent.Run", SourceAuth, fmt.Errorf("bad credentials"))
	wrapped := fmt.Errorf("pipeline failed: %w", err)
	assert.True(t, Is(wrapped, SourceAuth))
	assert.False(t, Is(wrapped, RateLimited))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(fmt.Errorf("plain"), Unknown))
}

func TestWithDetailsAttachesContext(t *testing.T) {
	err := New("embedding.AddModel", ProviderAuth, fmt.Errorf("missing key")).
		WithDetails(map[string]interface{}{"model_id": "m1"})
	assert.Equal(t, "m1", err.Details["model_id"])
}

func TestKindStringRoundTrip(t *testing.T) {
	assert.Equal(t, "MissingDependency", MissingDependency.String())
	assert.Equal(t, "Unknown", Kind(999).String())
}
