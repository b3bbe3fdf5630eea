package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("%w: bad email", ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: event is cancelled", ErrInvalidState), http.StatusBadRequest},
		{ErrUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("edit event: %w", ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("%w: event", ErrNotFound), http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{fmt.Errorf("register: %w", fmt.Errorf("%w: retry", ErrConcurrentModification)), http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Status(tt.err), "%v", tt.err)
	}
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(ErrNotFound))
	assert.False(t, IsClientError(errors.New("db down")))
	assert.False(t, IsClientError(nil))
}
