package apierr

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := New(KindConflict, "app busy")
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, KindBackendPermanent, KindOf(errors.New("plain")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(KindBackendTransient, "reset")))
	assert.True(t, Retryable(New(KindTaskQueueError, "db down")))
	assert.False(t, Retryable(New(KindInvalidPayload, "bad")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindConflict))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindTemplateError))
	assert.Equal(t, http.StatusNotImplemented, HTTPStatus(KindNotSupported))
}

func TestProblemWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	err := Wrap(KindHookError, "timeout", errors.New("deadline exceeded"))
	require.NoError(t, ProblemFor(err).WriteJSON(rec))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "deadline exceeded")
}

func TestIs(t *testing.T) {
	err := Wrap(KindBootstrapError, "image exit 1", errors.New("exit status 1"))
	assert.True(t, Is(err, KindBootstrapError))
	assert.False(t, Is(err, KindConflict))
}
