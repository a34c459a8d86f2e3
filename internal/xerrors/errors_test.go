package xerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")
	me := New(CodeChunkNotFound, "chunk not found: abc123", originalErr)

	require.NotNil(t, me)
	assert.Equal(t, originalErr, errors.Unwrap(me))
	assert.True(t, errors.Is(me, originalErr))
}

func TestMemoryError_Error_ReturnsFormattedMessage(t *testing.T) {
	err := New(CodeChunkNotFound, "chunk not found", nil)
	assert.Equal(t, "[STORAGE_CHUNK_NOT_FOUND] chunk not found", err.Error())
}

func TestMemoryError_Is_MatchesByCode(t *testing.T) {
	err1 := New(CodeChunkNotFound, "chunk A not found", nil)
	err2 := New(CodeChunkNotFound, "chunk B not found", nil)
	assert.True(t, errors.Is(err1, err2))
}

func TestMemoryError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(CodeChunkNotFound, "chunk not found", nil)
	err2 := New(CodeConfigInvalid, "config invalid", nil)
	assert.False(t, errors.Is(err1, err2))
}

func TestMemoryError_WithDetails_AddsContext(t *testing.T) {
	err := New(CodeChunkNotFound, "chunk not found", nil)
	err = err.WithDetail("chunk_id", "abc123")
	err = err.WithDetail("session_id", "sess-1")

	assert.Equal(t, "abc123", err.Details["chunk_id"])
	assert.Equal(t, "sess-1", err.Details["session_id"])
}

func TestMemoryError_WithSuggestion_AddsSuggestion(t *testing.T) {
	err := New(CodeQueryTimeout, "query exceeded budget", nil)
	err = err.WithSuggestion("narrow the token budget or retry")
	assert.Equal(t, "narrow the token budget or retry", err.Suggestion)
}

func TestMemoryError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{CodeDBOpenFailed, CategoryStorage},
		{CodeChunkNotFound, CategoryStorage},
		{CodeParseFailed, CategoryIngestion},
		{CodeEmbedFailed, CategoryIngestion},
		{CodeVectorSearchFailed, CategoryRetrieval},
		{CodeQueryTimeout, CategoryRetrieval},
		{CodeClusterFailed, CategoryCluster},
		{CodeConfigInvalid, CategoryConfig},
		{CodeHookFailed, CategoryHook},
		{CodeInternal, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestMemoryError_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{CodeDBOpenFailed, SeverityFatal},
		{CodeDBLocked, SeverityFatal},
		{CodeChunkNotFound, SeverityError},
		{CodeQueryTimeout, SeverityWarning},
		{CodeEmbedFailed, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestMemoryError_RetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{CodeDBLocked, true},
		{CodeQueryTimeout, true},
		{CodeHookTimeout, true},
		{CodeEmbedFailed, true},
		{CodeChunkNotFound, false},
		{CodeConfigInvalid, false},
		{CodeDBOpenFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesMemoryErrorFromError(t *testing.T) {
	originalErr := errors.New("something went wrong")
	me := Wrap(CodeInternal, originalErr)

	require.NotNil(t, me)
	assert.Equal(t, CodeInternal, me.Code)
	assert.Equal(t, "something went wrong", me.Message)
	assert.Equal(t, originalErr, me.Cause)
}

func TestWrap_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(CodeInternal, nil))
}

func TestConfigError_CreatesConfigCategoryError(t *testing.T) {
	err := ConfigError("invalid yaml syntax", nil)
	assert.Equal(t, CategoryConfig, err.Category)
	assert.Contains(t, err.Code, "CONFIG")
}

func TestStorageError_CreatesStorageCategoryError(t *testing.T) {
	err := StorageError("cannot open database", nil)
	assert.Equal(t, CategoryStorage, err.Category)
}

func TestRetrievalError_CreatesRetrievalCategoryError(t *testing.T) {
	err := RetrievalError("vector search failed", nil)
	assert.Equal(t, CategoryRetrieval, err.Category)
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"retryable MemoryError", New(CodeQueryTimeout, "timeout", nil), true},
		{"non-retryable MemoryError", New(CodeChunkNotFound, "not found", nil), false},
		{"wrapped retryable error", Wrap(CodeDBLocked, errors.New("wrapped")), true},
		{"standard error", errors.New("standard error"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"fatal db open error", New(CodeDBOpenFailed, "open failed", nil), true},
		{"fatal db locked error", New(CodeDBLocked, "locked", nil), true},
		{"non-fatal error", New(CodeChunkNotFound, "not found", nil), false},
		{"standard error", errors.New("standard error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}
