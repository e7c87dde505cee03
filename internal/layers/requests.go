package layers

import (
	"context"
	"time"

	"github.com/paulmach/orb/geojson"
)

const (
	outcomeSuccess   = "success"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// begin makes a new request the current one for its category, cancelling
// the request it supersedes, and marks the layer as loading.
func (m *Manager) begin(spec Spec) *request {
	if prev, ok := m.inflight[spec.Category]; ok {
		m.abandon(prev)
	}

	m.nextToken++
	ctx, cancel := context.WithCancel(m.ctx)
	req := &request{
		token:    m.nextToken,
		id:       spec.ID,
		category: spec.Category,
		provider: spec.Provider,
		ctx:      ctx,
		cancel:   cancel,
	}
	m.inflight[spec.Category] = req
	m.loading.add(spec.ID, req.token)
	return req
}

// abandon cancels req. Abandonment is a terminal resolution for the layer
// it targeted, not a failure.
func (m *Manager) abandon(req *request) {
	req.cancel()
	delete(m.inflight, req.category)
	m.loading.remove(req.id, req.token)
	m.metrics.IncLayerRequest(string(req.provider), req.category, outcomeCancelled)
	m.log.Debug().Str("layer_id", req.id).Str("category", req.category).Msg("layer request superseded")
}

func (m *Manager) finish(req *request, outcome string) {
	if m.inflight[req.category] == req {
		delete(m.inflight, req.category)
	}
	req.cancel()
	m.metrics.IncLayerRequest(string(req.provider), req.category, outcome)
}

func (m *Manager) fail(req *request, err error, msg string) {
	m.finish(req, outcomeError)
	m.loading.remove(req.id, req.token)
	m.log.Error().Err(err).
		Str("layer_id", req.id).
		Str("category", req.category).
		Str("provider", string(req.provider)).
		Msg(msg)
}

// async runs work off the loop. The continuation it returns is run on the
// loop only if req is still the current request of its category; stale
// completions are dropped.
func (m *Manager) async(req *request, stage string, work func(ctx context.Context) func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		start := time.Now()
		cont := work(req.ctx)
		m.metrics.ObserveLayerQuery(string(req.provider), stage, time.Since(start))

		m.box.push(func() {
			if m.inflight[req.category] != req {
				return
			}
			cont()
		})
	}()
}

// registerTiles registers the layer with the tile service and attaches the
// resulting tile layer. Loading ends on the layer's first load or tileerror
// event.
func (m *Manager) registerTiles(req *request, b Backend, spec Spec, filters Filters, cartocss string) {
	cfg := mapConfig(spec, filters, cartocss)
	z := spec.zIndex()

	m.async(req, "instantiate", func(ctx context.Context) func() {
		tileURL, err := b.Maps.Instantiate(ctx, spec.Account, cfg)
		return func() {
			if err != nil {
				m.fail(req, err, "tile registration failed")
				return
			}
			m.finish(req, outcomeSuccess)

			h := m.attach(spec.ID, SurfaceLayer{
				ID:      spec.ID,
				Kind:    SurfaceTiles,
				TileURL: tileURL,
			}, m.tileEvents)
			m.surface.SetZIndex(h, z)
			m.awaiting[h] = pendingLoad{id: spec.ID, token: req.token}
		}
	})
}

// fetchLegend resolves the legend bucket, renders it into the layer style
// and continues with the tile registration.
func (m *Manager) fetchLegend(req *request, b Backend, spec Spec, filters Filters, color string) {
	sql := converterFor(spec.Category).convert(spec.Legend.SQL, filters, spec.Legend.Params, spec.Legend.SQLParams)

	m.async(req, "legend", func(ctx context.Context) func() {
		rows, err := b.SQL.Query(ctx, spec.Account, sql)
		var bucket Bucket
		if err == nil {
			bucket, err = bucketFromRows(rows)
		}
		return func() {
			if err != nil {
				m.fail(req, err, "legend query failed")
				return
			}
			css := RenderStyle(spec.Layer.CartoCSS, StyleParams{Bucket: bucket, Color: color})
			m.registerTiles(req, b, spec, filters, css)
		}
	})
}

// fetchMarkers loads the marker features, caches them and draws the subset
// for the current zoom. Marker layers have no paint event, so loading ends
// as soon as the data arrives.
func (m *Manager) fetchMarkers(req *request, b Backend, spec Spec, filters Filters) {
	sql := converterFor(spec.Category).convert(spec.Layer.SQL, filters, spec.Layer.Params, spec.Layer.SQLParams)

	m.async(req, "sql", func(ctx context.Context) func() {
		rows, err := b.SQL.Query(ctx, spec.Account, sql)
		var fc *geojson.FeatureCollection
		if err == nil {
			fc, err = featuresFromRows(rows)
		}
		return func() {
			if err != nil {
				m.fail(req, err, "marker query failed")
				return
			}
			m.finish(req, outcomeSuccess)
			m.markers[spec.ID] = fc
			m.drawMarkers(spec.ID)
			m.loading.remove(spec.ID, req.token)
		}
	})
}
