package server

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/ctxview/internal/config"
	"github.com/wesm/ctxview/internal/db"
	"github.com/wesm/ctxview/internal/source"
)

// newInternalServer returns a Server with no workspace and no CLI,
// backed by a throwaway database.
func newInternalServer(
	t *testing.T, writeTimeout time.Duration, opts ...Option,
) *Server {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := config.Config{
		Host:         "127.0.0.1",
		DataDir:      dir,
		DBPath:       filepath.Join(dir, "runs.db"),
		WriteTimeout: writeTimeout,
	}
	return New(cfg, source.NewSet(source.Layout{}), database, nil, opts...)
}

// withHandlerDelay sleeps before every handler behind withTimeout.
func withHandlerDelay(d time.Duration) Option {
	return func(s *Server) { s.handlerDelay = d }
}

// timedOut reports whether resp is the JSON 503 written by
// withTimeout, consuming the body.
func timedOut(resp *http.Response) bool {
	if resp.StatusCode != http.StatusServiceUnavailable {
		return false
	}
	var je jsonError
	if err := json.NewDecoder(resp.Body).Decode(&je); err != nil {
		return false
	}
	return je.Error == "request timed out"
}

func requireTimedOut(t *testing.T, resp *http.Response) {
	t.Helper()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode,
		"body: %s", body)
	assert.JSONEq(t, timeoutBody, string(body))
}
