package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAndCodes(t *testing.T) {
	cause := errors.New("boom")

	t.Run("wrap nil yields nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
	})

	t.Run("message includes cause", func(t *testing.T) {
		err := Wrap(cause, CodeStageExecution, "stage failed")
		assert.Equal(t, "stage failed: boom", err.Error())
		assert.True(t, Is(err, cause))
	})

	t.Run("code survives fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(CodeValidation, "missing field"))
		assert.Equal(t, CodeValidation, CodeOf(err))
		assert.True(t, HasCode(err, CodeValidation))
		assert.False(t, HasCode(err, CodeTimeout))
	})

	t.Run("nested codes are all visible", func(t *testing.T) {
		inner := New(CodeTimeout, "deadline")
		err := Wrap(inner, CodeStageExecution, "stage failed")
		require.Equal(t, CodeStageExecution, CodeOf(err))
		assert.True(t, HasCode(err, CodeTimeout))
	})

	t.Run("uncoded errors are internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(cause))
		assert.False(t, HasCode(cause, CodeInternal))
	})
}
