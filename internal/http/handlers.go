package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/dim-aggregator/internal/config"
	"github.com/fairyhunter13/dim-aggregator/internal/dim"
	httpopenapi "github.com/fairyhunter13/dim-aggregator/internal/http/openapi"
	"github.com/fairyhunter13/dim-aggregator/internal/model"
	"github.com/fairyhunter13/dim-aggregator/internal/obs"
	"github.com/fairyhunter13/dim-aggregator/internal/queue"
	"github.com/fairyhunter13/dim-aggregator/internal/store"
)

const maxEventBytes = 1 << 20

type App struct {
	Cfg      config.Config
	Store    store.Store
	Registry *dim.Registry
	Manager  *queue.Manager
	closing  atomic.Bool
	started  time.Time
}

type ack struct {
	Status      string `json:"status"`
	RequestID   string `json:"request_id"`
	Sequence    uint64 `json:"sequence"`
	DimType     string `json:"dim_type"`
	ID          int64  `json:"id"`
	ReceivedAt  string `json:"received_at"`
	QueueDepth  int    `json:"queue_depth"`
	BacklogSize int    `json:"backlog_size"`
	WorkerCount int    `json:"worker_count"`
}

func NewApp(cfg config.Config, st store.Store, reg *dim.Registry, m *queue.Manager) *App {
	return &App{Cfg: cfg, Store: st, Registry: reg, Manager: m, started: time.Now()}
}

func (a *App) StartShutdown() {
	a.closing.Store(true)
	a.Manager.CloseIntake()
}

func (a *App) postEventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if a.closing.Load() || a.Manager.IsShuttingDown() {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		WriteJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected application/json")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	var n model.Notification
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&n); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if n.DimType == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "dim_type is required")
		return
	}
	if _, ok := a.Registry.Lookup(n.DimType); !ok {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "unknown dim_type "+strconv.Quote(n.DimType))
		return
	}
	id, err := n.EntityID()
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	d, ok := a.Manager.Submit(body, "http")
	if !ok {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	ac := ack{
		Status:      "accepted",
		RequestID:   RequestIDFromContext(r.Context()),
		Sequence:    d.Sequence,
		DimType:     n.DimType,
		ID:          id,
		ReceivedAt:  d.ReceivedAt.Format(time.RFC3339),
		QueueDepth:  a.Manager.QueueDepth(),
		BacklogSize: a.Manager.BacklogSize(),
		WorkerCount: a.Manager.WorkerCount(),
	}
	WriteJSON(w, http.StatusAccepted, ac)
	obs.Logger.Info("event_accepted",
		"request_id", ac.RequestID,
		"sequence", ac.Sequence,
		"dim_type", ac.DimType,
		"id", ac.ID,
		"queue_depth", ac.QueueDepth,
		"backlog_size", ac.BacklogSize,
		"worker_count", ac.WorkerCount,
	)
}

// getDimHandler serves GET /dims/{dim_type}/{id}.
func (a *App) getDimHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/dims/")
	dimType, rawID, found := strings.Cut(rest, "/")
	if !found || dimType == "" || rawID == "" {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	prefix, ok := a.Registry.Prefix(dimType)
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "not_found", "unknown dim_type")
		return
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "id must be an integer")
		return
	}
	val, err := a.Store.Get(r.Context(), store.DimKey(prefix, id))
	if err != nil {
		obs.Logger.Error("dim_read_failed", "dim_type", dimType, "id", id, "error", err)
		WriteJSONError(w, http.StatusBadGateway, "store_error", "")
		return
	}
	if val == "" {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, val)
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.Store.Ping(ctx); err != nil {
		status := "store_unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "store_timeout"
		}
		WriteJSONError(w, http.StatusServiceUnavailable, status, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	enq, proc, backlog, depth := a.Manager.QueueMetrics()
	m := map[string]any{
		"events_enqueued":  enq,
		"events_processed": proc,
		"backlog_size":     backlog,
		"queue_depth":      depth,
		"backlog_age_ms":   a.Manager.BacklogAge().Milliseconds(),
		"worker_count":     a.Manager.WorkerCount(),
		"dim_types":        a.Registry.Tags(),
		"uptime_sec":       time.Since(a.started).Seconds(),
	}
	WriteJSON(w, http.StatusOK, m)
}

func (a *App) openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(httpopenapi.YAML)
}

func (a *App) docsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	html := `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>Dimension Aggregator API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui'
      });
    </script>
  </body>
</html>`
	_, _ = w.Write([]byte(html))
}
