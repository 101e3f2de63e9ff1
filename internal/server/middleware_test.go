package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentTypeWrapper(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		write  func(http.ResponseWriter)
		status int
		ctype  string
		body   string
	}{
		"fills missing type on 503": {
			write: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"error":"busy"}`))
			},
			status: http.StatusServiceUnavailable,
			ctype:  "application/json",
			body:   `{"error":"busy"}`,
		},
		"keeps handler type on 503": {
			write: func(w http.ResponseWriter) {
				w.Header().Set("Content-Type", "text/event-stream")
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			status: http.StatusServiceUnavailable,
			ctype:  "text/event-stream",
		},
		"implicit 200 untouched": {
			write: func(w http.ResponseWriter) {
				w.Write([]byte("plain"))
			},
			status: http.StatusOK,
			body:   "plain",
		},
		"second WriteHeader ignored": {
			write: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusNotFound)
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			status: http.StatusNotFound,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.write(&contentTypeWrapper{
				ResponseWriter: rec,
				contentType:    "application/json",
				triggerStatus:  http.StatusServiceUnavailable,
			})

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.body, rec.Body.String())
			if tc.ctype != "" {
				assert.Equal(t, tc.ctype, rec.Header().Get("Content-Type"))
			} else {
				assert.NotEqual(t, "application/json",
					rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()
	srv := newInternalServer(t, 10*time.Millisecond)

	blocked := srv.withTimeout(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	ts := httptest.NewServer(blocked)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	requireTimedOut(t, resp)
}

func TestWithTimeout_FastHandler(t *testing.T) {
	t.Parallel()
	srv := newInternalServer(t, time.Second)

	h := srv.withTimeout(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusTeapot, map[string]string{"ok": "yes"})
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.JSONEq(t, `{"ok":"yes"}`, rec.Body.String())
}

// Every short route sits behind withTimeout; the event stream and
// the metrics scrape do not.
func TestRouteTimeouts(t *testing.T) {
	t.Parallel()
	srv := newInternalServer(t, 10*time.Millisecond,
		withHandlerDelay(100*time.Millisecond))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	bounded := []string{
		"/api/v1/sources",
		"/api/v1/sources/context/children",
		"/api/v1/sources/changes/content?path=a",
		"/api/v1/cli/ops",
		"/api/v1/runs",
		"/api/v1/config/workspace",
		"/api/v1/version",
	}
	for _, path := range bounded {
		t.Run(path, func(t *testing.T) {
			resp, err := ts.Client().Get(ts.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.True(t, timedOut(resp), "%s was not bounded", path)
		})
	}

	t.Run("/metrics", func(t *testing.T) {
		resp, err := ts.Client().Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
