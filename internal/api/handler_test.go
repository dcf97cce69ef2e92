package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/nodegraph/internal/api"
	"github.com/gyaneshwarpardhi/nodegraph/internal/codec"
	"github.com/gyaneshwarpardhi/nodegraph/internal/config"
	"github.com/gyaneshwarpardhi/nodegraph/internal/engine"
	"github.com/gyaneshwarpardhi/nodegraph/internal/nodes"
	"github.com/gyaneshwarpardhi/nodegraph/internal/registry"
	"github.com/gyaneshwarpardhi/nodegraph/internal/store"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := registry.New()
	nodes.Register(reg)
	ctx, cancel := context.WithCancel(context.Background())
	eng := engine.New(ctx, reg, config.EngineConf{QueueDepth: 16, TickTimeoutMs: 2000, BufferSize: 16})
	st, err := store.NewFileStore(t.TempDir(), codec.FormatYAML, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(api.New(eng, st, "default", nil))
	t.Cleanup(func() {
		srv.Close()
		eng.Shutdown()
		cancel()
	})
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, contentType, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func loadDouble(t *testing.T, srv *httptest.Server) {
	t.Helper()
	data, err := os.ReadFile("../../configs/graphs/double.yaml")
	require.NoError(t, err)
	resp, body := do(t, srv, http.MethodPut, "/v1/graph", "application/yaml", string(data))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 3, body["nodes"])
	assert.EqualValues(t, 2, body["connections"])
}

func TestTickEndpoint(t *testing.T) {
	srv := newServer(t)
	loadDouble(t, srv)

	resp, body := do(t, srv, http.MethodPost, "/v1/ticks", "application/json", `{"id":"t1","input":5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "t1", body["tick_id"])
	assert.Equal(t, []any{10.0}, body["results"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = do(t, srv, http.MethodPost, "/v1/ticks", "application/json", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTickBatchEndpoint(t *testing.T) {
	srv := newServer(t)
	resp, body := do(t, srv, http.MethodPost, "/v1/ticks/batch", "application/json", `[{"input":1},{"input":2}]`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 2, body["queued"])

	resp, _ = do(t, srv, http.MethodPost, "/v1/ticks/batch", "application/json", `[]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGraphEndpoints(t *testing.T) {
	srv := newServer(t)
	loadDouble(t, srv)

	resp, body := do(t, srv, http.MethodGet, "/v1/graph", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["nodes"], 3)
	assert.Len(t, body["connections"], 2)

	resp, _ = do(t, srv, http.MethodGet, "/v1/graph?format=yaml", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	resp, _ = do(t, srv, http.MethodPut, "/v1/graph", "application/json", `{"version":"2.0"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestNodeAndConnectionEndpoints(t *testing.T) {
	srv := newServer(t)
	loadDouble(t, srv)

	resp, body := do(t, srv, http.MethodPost, "/v1/nodes", "application/json", `{"type":"sink","id":"extra","label":"Extra"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "extra", body["id"])
	assert.Equal(t, "output", body["category"])
	inputs := body["inputs"].([]any)
	require.Len(t, inputs, 1)
	inputID := inputs[0].(map[string]any)["id"].(string)

	resp, _ = do(t, srv, http.MethodPost, "/v1/connections", "application/json",
		`{"output_attr_id":"double-out","input_attr_id":"`+inputID+`"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_, body = do(t, srv, http.MethodPost, "/v1/ticks", "application/json", `{"input":3}`)
	assert.Equal(t, []any{6.0, 6.0}, body["results"])

	resp, _ = do(t, srv, http.MethodDelete, "/v1/connections", "application/json",
		`{"output_attr_id":"double-out","input_attr_id":"`+inputID+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/v1/connections", "application/json",
		`{"output_attr_id":"nope","input_attr_id":"`+inputID+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/v1/nodes", "application/json", `{"type":"sink","id":"extra"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodPost, "/v1/nodes", "application/json", `{"type":"teleporter"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodDelete, "/v1/nodes/extra", "", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodDelete, "/v1/nodes/extra", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/v1/nodes", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["nodes"], 3)
	assert.EqualValues(t, 1, body["ticks"])
}

func TestStoreEndpoints(t *testing.T) {
	srv := newServer(t)
	loadDouble(t, srv)

	resp, body := do(t, srv, http.MethodPost, "/v1/graph/save?name=snap", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "snap", body["saved"])

	resp, body = do(t, srv, http.MethodPost, "/v1/graph/save", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "default", body["saved"])

	_, body = do(t, srv, http.MethodGet, "/v1/graphs", "", "")
	assert.Equal(t, []any{"default", "snap"}, body["graphs"])

	resp, body = do(t, srv, http.MethodPost, "/v1/graphs/snap/load", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, body["nodes"])

	resp, _ = do(t, srv, http.MethodPost, "/v1/graphs/absent/load", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProbesAndTypes(t *testing.T) {
	srv := newServer(t)

	resp, body := do(t, srv, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = do(t, srv, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])

	resp, body = do(t, srv, http.MethodGet, "/v1/node-types", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["types"], "scale")

	resp, _ = do(t, srv, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
