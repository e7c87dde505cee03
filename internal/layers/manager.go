package layers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"aqueduct_food/map-go/internal/metrics"
)

// Config wires a Manager to its query backends.
type Config struct {
	Backends map[Provider]Backend
	Palette  Palette
	// Zoom is the map zoom marker layers are filtered for until SetZoom.
	Zoom float64
	// OnAllClear runs on the manager loop each time the last loading layer
	// resolves.
	OnAllClear func()
	Metrics    *metrics.Metrics
}

// Manager adds, replaces and removes layers on a Surface.
//
// All state is owned by the goroutine running Run. Public methods only post
// work to it, so they are safe to call from any goroutine, before or after
// Run starts.
type Manager struct {
	log      zerolog.Logger
	surface  Surface
	backends map[Provider]Backend
	palette  Palette
	metrics  *metrics.Metrics

	box     *mailbox
	running atomic.Bool
	wg      sync.WaitGroup

	ctx       context.Context
	zoom      float64
	nextToken uint64
	rendered  map[string]Handle
	markers   map[string]*geojson.FeatureCollection
	inflight  map[string]*request
	awaiting  map[Handle]pendingLoad
	loading   *loadingSet
}

// request is the single in-flight request of a category.
type request struct {
	token    uint64
	id       string
	category string
	provider Provider
	ctx      context.Context
	cancel   context.CancelFunc
}

// pendingLoad is a tile layer whose first paint has not been reported yet.
type pendingLoad struct {
	id    string
	token uint64
}

// Status is a point-in-time view of the manager state.
type Status struct {
	Zoom     float64           `json:"zoom"`
	Loading  []string          `json:"loading"`
	Rendered map[string]Handle `json:"rendered"`
	InFlight map[string]string `json:"in_flight"`
}

func New(log zerolog.Logger, surface Surface, cfg Config) *Manager {
	backends := make(map[Provider]Backend, len(cfg.Backends))
	for p, b := range cfg.Backends {
		backends[p] = b
	}
	palette := make(Palette, len(cfg.Palette))
	for k, v := range cfg.Palette {
		palette[k] = v
	}

	m := &Manager{
		log:      log.With().Str("component", "layers").Logger(),
		surface:  surface,
		backends: backends,
		palette:  palette,
		metrics:  cfg.Metrics,
		box:      newMailbox(),
		ctx:      context.Background(),
		zoom:     cfg.Zoom,
		rendered: map[string]Handle{},
		markers:  map[string]*geojson.FeatureCollection{},
		inflight: map[string]*request{},
		awaiting: map[Handle]pendingLoad{},
	}
	m.loading = newLoadingSet(func() {
		m.metrics.IncAllClear()
		m.log.Debug().Msg("all layers loaded")
		if cfg.OnAllClear != nil {
			cfg.OnAllClear()
		}
	})
	return m
}

// Run processes posted work until ctx is done. In-flight requests are
// cancelled on exit and Run waits for their goroutines.
func (m *Manager) Run(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		m.log.Warn().Msg("layer manager already running")
		return
	}
	m.ctx = ctx
	defer m.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			for _, category := range sortedKeys(m.inflight) {
				m.inflight[category].cancel()
				delete(m.inflight, category)
			}
			return
		case <-m.box.ready:
			for _, fn := range m.box.drain() {
				m.handle(fn)
			}
		}
	}
}

func (m *Manager) handle(fn func()) {
	m.loading.begin()
	fn()
	m.loading.settle()
	m.metrics.SetLayerCounts(m.loading.len(), len(m.rendered))
}

// AddLayer submits spec for rendering with opts. The returned error only
// reports specs that can never be served; query outcomes show up on the
// surface and through the all-clear callback.
func (m *Manager) AddLayer(spec Spec, opts Options) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	backend, ok := m.backends[spec.Provider]
	if !ok {
		return fmt.Errorf("%w: %q is not configured", ErrUnknownProvider, spec.Provider)
	}
	kind := spec.Kind()
	if !backend.supports(kind) {
		return fmt.Errorf("%w: %s cannot serve %s layer %s", ErrUnsupportedCategory, spec.Provider, kind, spec.ID)
	}

	filters := opts.Filters.clone()
	var color string
	if kind == KindLegend {
		color, ok = m.palette.Color(filters["crop"])
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCrop, filters["crop"])
		}
	}

	m.box.push(func() {
		req := m.begin(spec)
		switch kind {
		case KindMarkers:
			m.fetchMarkers(req, backend, spec, filters)
		case KindLegend:
			m.fetchLegend(req, backend, spec, filters, color)
		default:
			m.registerTiles(req, backend, spec, filters, "")
		}
	})
	return nil
}

// RemoveLayer detaches the layer id from the surface. Unknown ids are
// ignored.
func (m *Manager) RemoveLayer(id string) {
	m.box.push(func() {
		m.detach(id)
		delete(m.markers, id)
	})
}

// RemoveLayers detaches every layer, cancels every in-flight request and
// empties the loading set.
func (m *Manager) RemoveLayers() {
	m.box.push(func() {
		for _, category := range sortedKeys(m.inflight) {
			m.abandon(m.inflight[category])
		}
		for _, id := range sortedKeys(m.rendered) {
			m.detach(id)
		}
		m.markers = map[string]*geojson.FeatureCollection{}
		m.awaiting = map[Handle]pendingLoad{}
		m.loading.reset()
	})
}

// SetZoom redraws cached marker layers for zoom without querying again.
func (m *Manager) SetZoom(zoom float64) {
	m.box.push(func() {
		if zoom == m.zoom {
			return
		}
		m.zoom = zoom
		for _, id := range sortedKeys(m.markers) {
			m.drawMarkers(id)
		}
	})
}

// Snapshot returns the manager state once all previously posted work ran.
func (m *Manager) Snapshot(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	m.box.push(func() {
		reply <- m.status()
	})
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (m *Manager) status() Status {
	st := Status{
		Zoom:     m.zoom,
		Loading:  m.loading.ids(),
		Rendered: make(map[string]Handle, len(m.rendered)),
		InFlight: make(map[string]string, len(m.inflight)),
	}
	for id, h := range m.rendered {
		st.Rendered[id] = h
	}
	for category, req := range m.inflight {
		st.InFlight[category] = req.id
	}
	return st
}

// attach replaces whatever is drawn for id with l.
func (m *Manager) attach(id string, l SurfaceLayer, sink EventSink) Handle {
	m.detach(id)
	h := m.surface.AddLayer(l, sink)
	m.rendered[id] = h
	return h
}

func (m *Manager) detach(id string) bool {
	h, ok := m.rendered[id]
	if !ok {
		return false
	}
	m.surface.RemoveLayer(h)
	delete(m.rendered, id)

	// A removed tile layer never paints, so its pending load is over.
	if p, ok := m.awaiting[h]; ok {
		delete(m.awaiting, h)
		m.loading.remove(p.id, p.token)
	}
	return true
}

func (m *Manager) drawMarkers(id string) {
	fc, ok := m.markers[id]
	if !ok {
		return
	}
	m.attach(id, SurfaceLayer{
		ID:       id,
		Kind:     SurfaceMarkers,
		Features: FilterByZoom(fc, m.zoom),
		Cluster:  true,
	}, nil)
}

func (m *Manager) tileEvents(ev Event) {
	m.box.push(func() {
		p, ok := m.awaiting[ev.Handle]
		if !ok {
			return
		}
		delete(m.awaiting, ev.Handle)
		m.loading.remove(p.id, p.token)
		m.log.Debug().Str("layer_id", p.id).Str("event", string(ev.Kind)).Msg("tile layer settled")
	})
}

func sortedKeys[V any](in map[string]V) []string {
	out := make([]string, 0, len(in))
	for k := range in {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
