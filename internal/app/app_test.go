package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hermes/internal/automation"
)

// The metrics middleware registers collectors on the process-wide
// Prometheus registry, so every test shares one Application.
var (
	testAppOnce sync.Once
	testApp     *Application
	testAppErr  error
)

func testApplication(t *testing.T) *Application {
	t.Helper()
	testAppOnce.Do(func() {
		testApp, testAppErr = New(filepath.Join(t.TempDir(), "no-such-config.yaml"))
	})
	require.NoError(t, testAppErr)
	return testApp
}

func doJSON(t *testing.T, a *Application, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, path, reader)
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.Server.ServeHTTP(w, r)
	return w
}

func TestApplicationDefaultsWhenConfigMissing(t *testing.T) {
	a := testApplication(t)
	assert.Equal(t, 8080, a.Config.Server.Port)
	assert.NotNil(t, a.Server)
	assert.NotNil(t, a.Runner)
}

func TestHealthEndpoint(t *testing.T) {
	a := testApplication(t)
	w := doJSON(t, a, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
	assert.NotEmpty(t, body["uptime"])
}

func TestRunCommandEndpoint(t *testing.T) {
	a := testApplication(t)
	w := doJSON(t, a, http.MethodPost, "/commands/echo-test",
		`{"command":"sh","args":["-c","echo hi"]}`)

	require.Equal(t, http.StatusOK, w.Code)

	var result automation.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "hi\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunCommandEndpointValidation(t *testing.T) {
	a := testApplication(t)

	t.Run("malformed body", func(t *testing.T) {
		w := doJSON(t, a, http.MethodPost, "/commands/bad", `{not json`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing command", func(t *testing.T) {
		w := doJSON(t, a, http.MethodPost, "/commands/bad", `{"args":["x"]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unstartable command", func(t *testing.T) {
		w := doJSON(t, a, http.MethodPost, "/commands/ghost",
			`{"command":"definitely-not-a-binary-4f2c"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestProcessEndpoints(t *testing.T) {
	a := testApplication(t)

	_, err := a.Runner.Run(context.Background(), "finished-job", "sh", []string{"-c", "exit 5"}, automation.Options{})
	require.NoError(t, err)

	t.Run("status", func(t *testing.T) {
		w := doJSON(t, a, http.MethodGet, "/processes/finished-job", "")
		require.Equal(t, http.StatusOK, w.Code)

		var status automation.Status
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.Equal(t, "finished-job", status.Label)
		assert.False(t, status.Running)
		assert.Equal(t, 5, status.ExitCode)
	})

	t.Run("list includes the job", func(t *testing.T) {
		w := doJSON(t, a, http.MethodGet, "/processes", "")
		require.Equal(t, http.StatusOK, w.Code)

		var list []automation.Status
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		labels := make([]string, 0, len(list))
		for _, s := range list {
			labels = append(labels, s.Label)
		}
		assert.Contains(t, labels, "finished-job")
	})

	t.Run("unknown label", func(t *testing.T) {
		w := doJSON(t, a, http.MethodGet, "/processes/unknown", "")
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = doJSON(t, a, http.MethodDelete, "/processes/unknown", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestKillEndpoint(t *testing.T) {
	a := testApplication(t)

	h, err := a.Runner.Start(context.Background(), "long-job", "sh", []string{"-c", "sleep 30"}, automation.Options{})
	require.NoError(t, err)

	w := doJSON(t, a, http.MethodDelete, "/processes/long-job", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err = h.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, h.Running())
}

func TestMetricsEndpoint(t *testing.T) {
	a := testApplication(t)

	// Drive at least one request through the pipeline first so the
	// request counters exist.
	doJSON(t, a, http.MethodGet, "/healthz", "")

	w := doJSON(t, a, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hermes_requests_total")
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}

func TestRequestIDAppliedByPipeline(t *testing.T) {
	a := testApplication(t)

	w := doJSON(t, a, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set("X-Request-ID", "caller-id")
	rec := httptest.NewRecorder()
	a.Server.ServeHTTP(rec, r)
	assert.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}
