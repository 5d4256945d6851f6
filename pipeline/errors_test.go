package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyNilError(t *testing.T) {
	assert.Nil(t, Classify(ErrorClassParse, nil))
}

func TestClassifyAndClassOf(t *testing.T) {
	cause := errors.New("boom")
	err := Classify(ErrorClassTransientRemote, cause)
	require.Error(t, err)

	class, ok := ClassOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrorClassTransientRemote, class)
	assert.True(t, errors.Is(err, cause) || errors.Unwrap(err) == cause)
}

func TestClassOfWrapped(t *testing.T) {
	cause := Classify(ErrorClassReferential, errors.New("missing fk"))
	wrapped := fmt.Errorf("load entity: %w", cause)

	class, ok := ClassOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrorClassReferential, class)
}

func TestClassOfUnclassified(t *testing.T) {
	_, ok := ClassOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestTruncateWithinLimit(t *testing.T) {
	msg := "short message"
	assert.Equal(t, msg, Truncate(msg))
}

func TestTruncateOverLimit(t *testing.T) {
	msg := strings.Repeat("x", ErrorMessageLimit+500)
	got := Truncate(msg)
	assert.Len(t, got, ErrorMessageLimit)
	assert.Equal(t, strings.Repeat("x", ErrorMessageLimit), got)
}
