package errors

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/descent/internal/logging"
	"github.com/copyleftdev/descent/internal/optimization"
)

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))

	base := stderrors.New("disk on fire")
	err := Wrap(base, "load problem").WithOperation("Load").WithComponent("optctl")
	assert.Equal(t, "load problem: operation=Load, component=optctl: disk on fire", err.Error())
	assert.True(t, Is(err, base))
	assert.NotEmpty(t, err.StackTrace())

	again := Wrapf(err, "attempt %d", 2)
	assert.Same(t, err, again)
	assert.Equal(t, "attempt 2", again.Message)
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{optimization.NewError(optimization.KindInvalidArgument, "bad"), http.StatusBadRequest},
		{optimization.DimensionError("solver", "Resolve", 1, 2), http.StatusBadRequest},
		{Wrap(optimization.NewError(optimization.KindUnsupportedConstraint, "no"), "start"), http.StatusBadRequest},
		{optimization.NewError(optimization.KindNonFiniteValue, "nan"), http.StatusUnprocessableEntity},
		{optimization.NewError(optimization.KindSingularSystem, "pivot"), http.StatusInternalServerError},
		{NotFound("job %s not found", "x"), http.StatusNotFound},
		{stderrors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), "%v", tc.err)
	}

	wrapped := Wrap(optimization.NewError(optimization.KindInfeasibleStart, "x0"), "start")
	assert.Equal(t, "infeasible start", Kind(wrapped))
	var oe *optimization.Error
	assert.True(t, As(wrapped, &oe))
	assert.True(t, Is(wrapped, optimization.ErrInfeasibleStart))
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.InfoLevel, &buf)
	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("solver exploded")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/optimize", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var body Body
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "Internal Server Error", body.Error)
	assert.Contains(t, buf.String(), "solver exploded")
}

func TestErrorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.InfoLevel, &buf)
	h := ErrorHandler(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Respond(w, optimization.NewError(optimization.KindInvalidArgument, "unknown method"))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/optimize", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, buf.String(), "Request rejected")

	var body Body
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "invalid argument", body.Kind)
}
