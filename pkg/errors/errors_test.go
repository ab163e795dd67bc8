package errors

import (
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	err := New(KindConfig, "missing profile")
	require.NotNil(t, err)
	assert.Equal(t, KindConfig, err.Kind)
	assert.Equal(t, "missing profile", err.Message)
	assert.False(t, err.Retryable)
	assert.False(t, err.Timestamp.IsZero())
}

func TestRetryableDefaults(t *testing.T) {
	t.Parallel()

	assert.True(t, New(KindIO, "timeout").Retryable)
	assert.False(t, New(KindConfig, "bad config").Retryable)
	assert.False(t, New(KindIntegrity, "hash mismatch").Retryable)
}

func TestWithRetryableOverride(t *testing.T) {
	t.Parallel()

	err := New(KindIO, "not found").WithRetryable(false)
	assert.False(t, err.Retryable)
}

func TestFatal(t *testing.T) {
	t.Parallel()

	fatalKinds := []Kind{KindConfig, KindAuth, KindBusyProfile, KindInternal}
	for _, k := range fatalKinds {
		assert.True(t, Fatal(k), "%s should be fatal", k)
	}

	localizedKinds := []Kind{KindIO, KindIntegrity, KindTransform, KindNotFound, KindCancelled}
	for _, k := range localizedKinds {
		assert.False(t, Fatal(k), "%s should be localized, not fatal", k)
	}
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := New(KindNotFound, "file does not exist").
		WithComponent("walker").
		WithOperation("stat").
		WithPath("a.txt").
		WithProfile("documents")

	got := err.Error()
	assert.Contains(t, got, "[walker:stat]")
	assert.Contains(t, got, "profile=documents")
	assert.Contains(t, got, "path=a.txt")
	assert.Contains(t, got, "NOT_FOUND: file does not exist")
}

func TestUnwrapAndIs(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("underlying cause")
	err := New(KindIO, "write failed").WithCause(cause)

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, stderrors.Is(err, New(KindIO, "anything")))
	assert.False(t, stderrors.Is(err, New(KindAuth, "anything")))
	assert.False(t, err.Is(cause))
}

func TestJSON(t *testing.T) {
	t.Parallel()

	err := New(KindTransform, "gzip failed").WithComponent("transform")

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(err.JSON()), &parsed))
	assert.Equal(t, "TRANSFORM", parsed["kind"])
	assert.Equal(t, "gzip failed", parsed["message"])
	assert.Equal(t, "transform", parsed["component"])
}
