package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("resolve actor: %w", BadGateway(errors.New("dial tcp"), "remote unreachable"))

	assert.Equal(t, KindBadGateway, KindOf(err))
	assert.Equal(t, http.StatusBadGateway, KindOf(err).Status())
	assert.True(t, Is(err, KindBadGateway))
	assert.Equal(t, "remote unreachable", Message(err))
}

func TestUnclassifiedIsInternal(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, KindOf(err).Status())
	assert.False(t, Is(nil, KindInternal))
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		err  *Error
		code int
	}{
		{BadRequest("bad %s", "handle"), http.StatusBadRequest},
		{Unauthorized("no signature"), http.StatusUnauthorized},
		{NotFound("no profile"), http.StatusNotFound},
		{Internal(nil, "key"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Kind.Status())
		})
	}
}
