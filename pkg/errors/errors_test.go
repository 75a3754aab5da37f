package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := Clone(ErrJoin, "classroom code not recognised")
	wrapped := fmt.Errorf("join: %w", err)

	assert.True(t, errors.Is(wrapped, ErrJoin))
	assert.False(t, errors.Is(wrapped, ErrGateway))
}

func TestWrapAsKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := WrapAs(ErrGateway, cause, "failed to load classroom details")

	assert.Equal(t, ErrGateway.Code, err.Code)
	assert.Equal(t, ErrGateway.Status, err.Status)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to load classroom details: dial tcp: refused", err.Error())
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	err := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Nil(t, FromError(nil))
}
