package errors

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/seqopt/internal/logging"
	"github.com/copyleftdev/seqopt/internal/optimization"
)

func TestErrorFormatting(t *testing.T) {
	err := Wrap(stderrors.New("disk full"), "save session").
		WithOperation("Store.Put").
		WithComponent("server")
	assert.Equal(t, "save session: operation=Store.Put, component=server: disk full", err.Error())
	assert.NotEmpty(t, err.StackTrace())

	assert.Equal(t, "bad id 7", Errorf("bad id %d", 7).Error())
	assert.Nil(t, Wrap(nil, "ignored"))
	assert.Nil(t, Wrapf(nil, "ignored %d", 1))
}

func TestWrapKeepsChain(t *testing.T) {
	inner := New("inner")
	outer := Wrapf(fmt.Errorf("context: %w", inner), "outer %s", "call")

	assert.Equal(t, inner.Stack, outer.Stack)
	assert.True(t, Is(outer, inner))

	var target *Error
	require.True(t, As(fmt.Errorf("x: %w", outer), &target))
	assert.Equal(t, "outer call", target.Message)
	assert.Equal(t, fmt.Errorf("context: %w", inner).Error(), Unwrap(outer).Error())

	wrapped := Wrap(optimization.DataContractErrorf("rows differ"), "observe")
	assert.True(t, Is(wrapped, optimization.ErrDataContract))
	assert.False(t, Is(wrapped, optimization.ErrConfiguration))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"unknown name", &optimization.UnknownNameError{Registry: "optimizer", Name: "x"}, http.StatusUnprocessableEntity},
		{"unknown task", fmt.Errorf("%w: %w", ErrNotFound, &optimization.UnknownNameError{Registry: "task", Name: "x"}), http.StatusNotFound},
		{"not found", Wrap(ErrNotFound, "session"), http.StatusNotFound},
		{"conflict", ErrConflict, http.StatusConflict},
		{"data contract", optimization.DataContractErrorf("bad"), http.StatusBadRequest},
		{"bad request", Wrap(ErrBadRequest, "decode"), http.StatusBadRequest},
		{"configuration", optimization.ConfigErrorf("bad"), http.StatusUnprocessableEntity},
		{"dimension", optimization.WrapError(optimization.ErrDimension, "unset"), http.StatusUnprocessableEntity},
		{"numerical", optimization.WrapError(optimization.ErrNumerical, "singular"), http.StatusServiceUnavailable},
		{"deadline", fmt.Errorf("evaluate: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"other", stderrors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.DebugLevel, &buf)

	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks?x=1", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Internal Server Error", body["error"])

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Recovered from panic", entry["message"])
	assert.Equal(t, "kaboom", entry["error"])
	assert.Equal(t, "/api/v1/tasks", entry["path"])
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		status    int
		wantLevel string
	}{
		{http.StatusOK, ""},
		{http.StatusNotFound, "WARN"},
		{http.StatusBadGateway, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			h := ErrorHandler(logging.New(logging.DebugLevel, &buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/rpc", nil))

			if tt.wantLevel == "" {
				assert.Zero(t, buf.Len())
				return
			}
			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.EqualValues(t, tt.status, entry["status"])
		})
	}
}
