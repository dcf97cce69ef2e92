package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/nodegraph/internal/codec"
	"github.com/gyaneshwarpardhi/nodegraph/internal/engine"
	"github.com/gyaneshwarpardhi/nodegraph/internal/graph"
	"github.com/gyaneshwarpardhi/nodegraph/internal/metrics"
	"github.com/gyaneshwarpardhi/nodegraph/internal/store"
)

const (
	maxBatchSize = 100
	maxBodyBytes = 4 << 20
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng       *engine.Engine
	store     store.Store
	graphName string
	mux       *http.ServeMux
}

// New creates an HTTP handler and registers all routes. graphName is the
// store record used by POST /v1/graph/save when no name is given.
func New(eng *engine.Engine, st store.Store, graphName string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{eng: eng, store: st, graphName: graphName, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/ticks", h.tick)
	h.mux.HandleFunc("POST /v1/ticks/batch", h.tickBatch)
	h.mux.HandleFunc("GET /v1/graph", h.getGraph)
	h.mux.HandleFunc("PUT /v1/graph", h.putGraph)
	h.mux.HandleFunc("POST /v1/graph/save", h.saveGraph)
	h.mux.HandleFunc("GET /v1/graphs", h.listGraphs)
	h.mux.HandleFunc("POST /v1/graphs/{name}/load", h.loadGraph)
	h.mux.HandleFunc("GET /v1/nodes", h.listNodes)
	h.mux.HandleFunc("POST /v1/nodes", h.createNode)
	h.mux.HandleFunc("DELETE /v1/nodes/{id}", h.deleteNode)
	h.mux.HandleFunc("POST /v1/connections", h.connect)
	h.mux.HandleFunc("DELETE /v1/connections", h.disconnect)
	h.mux.HandleFunc("GET /v1/node-types", h.nodeTypes)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(logger, h.mux)
}

// POST /v1/ticks — run one tick synchronously.
func (h *Handler) tick(w http.ResponseWriter, r *http.Request) {
	var req engine.TickRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	req.ReceivedAt = time.Now()

	res, err := h.eng.Tick(r.Context(), &req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/ticks/batch — queue up to 100 ticks.
func (h *Handler) tickBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []*engine.TickRequest
	if err := decodeJSON(r, &reqs); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one tick")
		return
	}
	if len(reqs) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(reqs), maxBatchSize))
		return
	}

	now := time.Now()
	queued := 0
	for _, req := range reqs {
		if req == nil {
			continue
		}
		req.ReceivedAt = now
		if h.eng.TickAsync(req) {
			queued++
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   uuid.NewString(),
		"total":    len(reqs),
		"queued":   queued,
		"rejected": len(reqs) - queued,
	})
}

// GET /v1/graph — export the graph (?format=yaml for YAML).
func (h *Handler) getGraph(w http.ResponseWriter, r *http.Request) {
	snap, err := h.eng.Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if f := r.URL.Query().Get("format"); f != "" && f != string(codec.FormatJSON) {
		format, err := codec.ParseFormat(f)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		data, err := codec.Marshal(snap.Record, format)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, snap.Record)
}

// PUT /v1/graph — replace the graph with the posted record (JSON or YAML).
func (h *Handler) putGraph(w http.ResponseWriter, r *http.Request) {
	format := codec.FormatJSON
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		format = codec.FormatYAML
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := codec.Unmarshal(data, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.eng.Replace(r.Context(), rec)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /v1/graph/save?name= — persist the graph in the store.
func (h *Handler) saveGraph(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = h.graphName
	}
	snap, err := h.eng.Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := h.store.Save(r.Context(), name, snap.Record); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"saved": name,
		"nodes": len(snap.Record.Nodes),
	})
}

// GET /v1/graphs — list stored records.
func (h *Handler) listGraphs(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"graphs": names})
}

// POST /v1/graphs/{name}/load — replace the graph with a stored record.
func (h *Handler) loadGraph(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Load(r.Context(), r.PathValue("name"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	report, err := h.eng.Replace(r.Context(), rec)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GET /v1/nodes — node states after the last tick.
func (h *Handler) listNodes(w http.ResponseWriter, r *http.Request) {
	snap, err := h.eng.Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": snap.Nodes,
		"ticks": snap.Ticks,
	})
}

// createNodeRequest mirrors the persisted node fields a client may set.
type createNodeRequest struct {
	Type         string         `json:"type"`
	ID           string         `json:"id"`
	Label        string         `json:"label"`
	Priority     *int           `json:"priority"`
	SelfExecute  *bool          `json:"self_execute"`
	InternalData map[string]any `json:"internal_data"`
	Position     *graph.Point   `json:"position"`
}

// POST /v1/nodes — create a node from a registered type.
func (h *Handler) createNode(w http.ResponseWriter, r *http.Request) {
	var req createNodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "node type is required")
		return
	}
	if req.Label == "" {
		req.Label = req.Type
	}

	var created codec.NodeRecord
	err := h.eng.Mutate(r.Context(), func(g *graph.Graph) error {
		n, err := h.eng.Registry().Create(req.Type, req.Label)
		if err != nil {
			return err
		}
		if req.ID != "" {
			if err := n.SetID(req.ID); err != nil {
				return err
			}
		}
		if req.Priority != nil {
			n.SetPriority(*req.Priority)
		}
		if req.SelfExecute != nil {
			n.SetSelfExecute(*req.SelfExecute)
		}
		if req.Position != nil {
			n.SetPosition(*req.Position)
		}
		for k, v := range req.InternalData {
			n.SetValue(k, v)
		}
		if err := g.AddNode(n); err != nil {
			return err
		}
		created = codec.ExportNode(n)
		return nil
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// DELETE /v1/nodes/{id}
func (h *Handler) deleteNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.eng.Mutate(r.Context(), func(g *graph.Graph) error {
		return g.RemoveNodeByID(id)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/connections
func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	h.changeConnection(w, r, (*graph.Graph).ConnectByID, http.StatusCreated)
}

// DELETE /v1/connections
func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	h.changeConnection(w, r, (*graph.Graph).DisconnectByID, http.StatusOK)
}

func (h *Handler) changeConnection(w http.ResponseWriter, r *http.Request, op func(*graph.Graph, string, string) error, status int) {
	var req codec.ConnectionRecord
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.OutputAttrID == "" || req.InputAttrID == "" {
		writeError(w, http.StatusBadRequest, "output_attr_id and input_attr_id are required")
		return
	}
	err := h.eng.Mutate(r.Context(), func(g *graph.Graph) error {
		return op(g, req.OutputAttrID, req.InputAttrID)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, status, req)
}

// GET /v1/node-types
func (h *Handler) nodeTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"types": h.eng.Registry().Types()})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if the engine queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}
