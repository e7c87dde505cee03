package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"aqueduct_food/map-go/internal/catalog"
	"aqueduct_food/map-go/internal/layers"
	"aqueduct_food/map-go/internal/metrics"
	"aqueduct_food/map-go/internal/surface"
)

type layerCatalog interface {
	Lookup(id string) (layers.Spec, error)
	Layers() []layers.Spec
	Palette() layers.Palette
}

type layerManager interface {
	AddLayer(spec layers.Spec, opts layers.Options) error
	RemoveLayer(id string)
	RemoveLayers()
	SetZoom(zoom float64)
	Snapshot(ctx context.Context) (layers.Status, error)
}

type mapSurface interface {
	Snapshot() []surface.Layer
	SetView(center orb.Point, zoom float64)
	SetZoom(zoom float64)
	Fire(h layers.Handle, kind layers.EventKind) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators served over HTTP. DB may be nil when no
// database-backed provider is configured.
type Deps struct {
	Catalog layerCatalog
	Manager layerManager
	Surface mapSurface
	DB      pinger
	Metrics *metrics.Metrics
}

type Handler struct {
	log     zerolog.Logger
	catalog layerCatalog
	manager layerManager
	surface mapSurface
	db      pinger
	metrics *metrics.Metrics
}

func NewHandler(log zerolog.Logger, deps Deps) *Handler {
	return &Handler{
		log:     log,
		catalog: deps.Catalog,
		manager: deps.Manager,
		surface: deps.Surface,
		db:      deps.DB,
		metrics: deps.Metrics,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Get("/catalog", h.handleCatalog)

			r.Route("/map", func(r chi.Router) {
				r.Get("/", h.handleGetMap)
				r.Put("/view", h.handleSetView)
				r.Post("/handles/{handle}/events", h.handleTileEvent)
			})

			r.Route("/layers", func(r chi.Router) {
				r.Post("/", h.handleAddLayer)
				r.Delete("/", h.handleRemoveLayers)
				r.Delete("/{id}", h.handleRemoveLayer)
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), time.Since(start))

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}
	if _, err := h.manager.Snapshot(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "manager_unavailable", "layer manager not running", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

type catalogResponse struct {
	Palette layers.Palette `json:"palette"`
	Layers  []layers.Spec  `json:"layers"`
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, catalogResponse{
		Palette: h.catalog.Palette(),
		Layers:  h.catalog.Layers(),
	})
}

type mapResponse struct {
	layers.Status
	Layers []surface.Layer `json:"layers"`
}

func (h *Handler) handleGetMap(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	st, err := h.manager.Snapshot(ctx)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "manager_unavailable", "layer manager not running", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, mapResponse{Status: st, Layers: h.surface.Snapshot()})
}

type viewUpdate struct {
	Zoom   *float64    `json:"zoom"`
	Center *[2]float64 `json:"center,omitempty"`
}

func (h *Handler) handleSetView(w http.ResponseWriter, r *http.Request) {
	var req viewUpdate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	if req.Zoom == nil || *req.Zoom < 0 {
		h.writeError(w, http.StatusBadRequest, "validation_error", "zoom must be a non-negative number", nil)
		return
	}

	if req.Center != nil {
		center := orb.Point(*req.Center)
		if center.Lon() < -180 || center.Lon() > 180 || center.Lat() < -90 || center.Lat() > 90 {
			h.writeError(w, http.StatusBadRequest, "validation_error", "center must be [lon, lat]", nil)
			return
		}
		h.surface.SetView(center, *req.Zoom)
	} else {
		h.surface.SetZoom(*req.Zoom)
	}
	h.manager.SetZoom(*req.Zoom)
	h.writeJSON(w, http.StatusAccepted, map[string]any{"zoom": *req.Zoom})
}

type layerRequest struct {
	ID      string            `json:"id"`
	Filters map[string]string `json:"filters,omitempty"`
}

func (h *Handler) handleAddLayer(w http.ResponseWriter, r *http.Request) {
	var req layerRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "id is required", nil)
		return
	}

	spec, err := h.catalog.Lookup(req.ID)
	if errors.Is(err, catalog.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "layer not found", map[string]any{"id": req.ID})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("layer_id", req.ID).Msg("catalog lookup failed")
		h.writeError(w, http.StatusInternalServerError, "catalog_error", "failed to look up layer", nil)
		return
	}

	filters := layers.DefaultFilters()
	for k, v := range req.Filters {
		filters[k] = v
	}

	if err := h.manager.AddLayer(spec, layers.Options{Filters: filters}); err != nil {
		switch {
		case errors.Is(err, layers.ErrUnknownCrop),
			errors.Is(err, layers.ErrInvalidSpec),
			errors.Is(err, layers.ErrUnknownProvider),
			errors.Is(err, layers.ErrUnsupportedCategory):
			h.writeError(w, http.StatusUnprocessableEntity, "layer_rejected", err.Error(), map[string]any{"id": req.ID})
		default:
			h.log.Error().Err(err).Str("layer_id", req.ID).Msg("add layer failed")
			h.writeError(w, http.StatusInternalServerError, "layer_error", "failed to add layer", nil)
		}
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{"id": req.ID, "status": "loading"})
}

func (h *Handler) handleRemoveLayer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.manager.RemoveLayer(id)
	h.writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": "removing"})
}

func (h *Handler) handleRemoveLayers(w http.ResponseWriter, r *http.Request) {
	h.manager.RemoveLayers()
	h.writeJSON(w, http.StatusAccepted, map[string]any{"status": "removing"})
}

type tileEvent struct {
	Type layers.EventKind `json:"type"`
}

func (h *Handler) handleTileEvent(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(chi.URLParam(r, "handle"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "handle must be a positive integer", nil)
		return
	}

	var req tileEvent
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	if req.Type != layers.EventLoad && req.Type != layers.EventTileError {
		h.writeError(w, http.StatusBadRequest, "validation_error", "type must be load or tileerror", nil)
		return
	}

	if err := h.surface.Fire(layers.Handle(n), req.Type); err != nil {
		if errors.Is(err, surface.ErrUnknownHandle) {
			h.writeError(w, http.StatusNotFound, "not_found", "layer handle not found", map[string]any{"handle": n})
			return
		}
		h.writeError(w, http.StatusInternalServerError, "surface_error", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
