package httpadapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lyzr/workflowcore/internal/registry"
	"github.com/stretchr/testify/require"
)

func TestExecuteReturnsBodyAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := New(5 * time.Second)
	result, err := a.Execute(registry.AdapterContext{
		Context:        context.Background(),
		ResolvedConfig: map[string]any{"url": srv.URL, "method": "GET"},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	out := result.Output.(map[string]any)
	require.Equal(t, 200, out["statusCode"])
	require.Equal(t, `{"ok":true}`, out["body"])
}

func TestExecuteMarksServerErrorsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := New(5 * time.Second)
	result, err := a.Execute(registry.AdapterContext{
		Context:        context.Background(),
		ResolvedConfig: map[string]any{"url": srv.URL},
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.True(t, result.Retryable)
}

func TestExecuteMarksClientErrorsNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := New(5 * time.Second)
	result, err := a.Execute(registry.AdapterContext{
		Context:        context.Background(),
		ResolvedConfig: map[string]any{"url": srv.URL},
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.False(t, result.Retryable)
}

func TestExecuteRejectsMissingURL(t *testing.T) {
	a := New(5 * time.Second)
	result, err := a.Execute(registry.AdapterContext{
		Context:        context.Background(),
		ResolvedConfig: map[string]any{},
	})
	require.NoError(t, err)
	require.False(t, result.Success)
}

func TestExecuteRejectsSSRFTargets(t *testing.T) {
	a := New(5 * time.Second)
	result, err := a.Execute(registry.AdapterContext{
		Context:        context.Background(),
		ResolvedConfig: map[string]any{"url": "http://localhost:9999/admin"},
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.ErrorMessage, "blocked")
}

func TestExecuteRejectsNonHTTPScheme(t *testing.T) {
	a := New(5 * time.Second)
	result, err := a.Execute(registry.AdapterContext{
		Context:        context.Background(),
		ResolvedConfig: map[string]any{"url": "file:///etc/passwd"},
	})
	require.NoError(t, err)
	require.False(t, result.Success)
}
