package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneStillMatchesSentinel(t *testing.T) {
	err := Clone(ErrValidation, "template already assigned")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrTransport))
	assert.Equal(t, "template already assigned", err.Error())
}

func TestWrapAsKeepsCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := WrapAs(cause, ErrTransport, "push failed")
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, http.StatusBadGateway, err.Status)
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	err := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Nil(t, FromError(nil))

	wrapped := fmt.Errorf("outer: %w", ErrShareInactive)
	assert.Equal(t, ErrShareInactive.Code, FromError(wrapped).Code)
}
