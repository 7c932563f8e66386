package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeNotFound, "missing")
	wrapped := fmt.Errorf("lookup: %w", Wrap(CodeNotFound, stdErrors.New("io"), "other message"))

	assert.True(t, stdErrors.Is(wrapped, sentinel))
	assert.False(t, stdErrors.Is(wrapped, New(CodeConflict, "")))
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.Equal(t, CodeUnknown, CodeOf(stdErrors.New("plain")))
}

func TestRegisteredAttributes(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityWarning, Retryable: true})

	err := New(code, "")
	assert.Equal(t, "custom", err.Message())
	assert.True(t, RetryableError(err))
	assert.Equal(t, SeverityWarning, SeverityOf(err))

	overridden := New(code, "x", WithRetryable(false), WithSeverity(SeverityInfo))
	assert.False(t, overridden.Retryable())
	assert.Equal(t, SeverityInfo, overridden.Severity())
}

func TestUnknownCodeFallsBack(t *testing.T) {
	err := New(Code("NEVER_REGISTERED"), "")
	assert.Equal(t, "unknown error", err.Message())
	assert.Equal(t, SeverityCritical, err.Severity())
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "No agents enabled.", UserMessage(New(CodeInvalidArgument, "No agents enabled.")))
	assert.Equal(t, "storage failure: disk full",
		UserMessage(Wrap(CodeStorageFailure, stdErrors.New("disk full"), "")))
	assert.Equal(t, "plain", UserMessage(stdErrors.New("plain")))
	assert.Empty(t, UserMessage(nil))
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(CodeConflict, "dup", WithMetadata("id", "qa"))
	md := err.Metadata()
	md["id"] = "changed"
	assert.Equal(t, "qa", err.Metadata()["id"])
}
