package violation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelIdentity(t *testing.T) {
	sentinel := Structural("duplicate_account")

	wrapped := fmt.Errorf("create account: %w", sentinel)
	assert.True(t, errors.Is(wrapped, sentinel))

	kind, ok := KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindStructural, kind)
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("boom"))
	assert.False(t, ok)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "structural", KindStructural.String())
	assert.Equal(t, "state", KindState.String())
	assert.Equal(t, "environment", KindEnvironment.String())
}
