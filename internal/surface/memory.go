// Package surface keeps the server-side view of the map the web frontend
// renders: which layers are attached, in what order, and whether their tiles
// have painted.
package surface

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog"

	"aqueduct_food/map-go/internal/layers"
)

var ErrUnknownHandle = errors.New("unknown layer handle")

const maxZoom = 22

// Layer is one attached layer as reported to API clients.
type Layer struct {
	Handle     layers.Handle              `json:"handle"`
	ID         string                     `json:"id"`
	Kind       layers.SurfaceKind         `json:"kind"`
	TileURL    string                     `json:"tile_url,omitempty"`
	ZIndex     int                        `json:"z_index"`
	Cluster    bool                       `json:"cluster,omitempty"`
	Features   *geojson.FeatureCollection `json:"features,omitempty"`
	Loaded     bool                       `json:"loaded"`
	TileErrors int                        `json:"tile_errors,omitempty"`
}

type entry struct {
	layer Layer
	sink  layers.EventSink
}

// Memory implements layers.Surface in process. Tile events come from the
// frontend through Fire, or from the optional first-tile probe.
type Memory struct {
	log   zerolog.Logger
	probe *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	next   layers.Handle
	layers map[layers.Handle]*entry
	center orb.Point
	zoom   float64
}

// New returns an empty surface. A non-nil probe client makes the surface
// fetch the tile under the map center for every tile layer and report the
// outcome as that layer's first event.
func New(log zerolog.Logger, probe *http.Client) *Memory {
	ctx, cancel := context.WithCancel(context.Background())
	return &Memory{
		log:    log.With().Str("component", "surface").Logger(),
		probe:  probe,
		ctx:    ctx,
		cancel: cancel,
		layers: map[layers.Handle]*entry{},
	}
}

func (m *Memory) AddLayer(l layers.SurfaceLayer, sink layers.EventSink) layers.Handle {
	m.mu.Lock()
	m.next++
	h := m.next
	m.layers[h] = &entry{
		layer: Layer{
			Handle:   h,
			ID:       l.ID,
			Kind:     l.Kind,
			TileURL:  l.TileURL,
			Cluster:  l.Cluster,
			Features: l.Features,
			Loaded:   l.Kind == layers.SurfaceMarkers,
		},
		sink: sink,
	}
	center, zoom := m.center, m.zoom
	m.mu.Unlock()

	if m.probe != nil && l.Kind == layers.SurfaceTiles && l.TileURL != "" {
		t := maptile.At(center, clampZoom(zoom))
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.probeTile(h, TileURL(l.TileURL, t))
		}()
	}
	return h
}

func (m *Memory) RemoveLayer(h layers.Handle) {
	m.mu.Lock()
	delete(m.layers, h)
	m.mu.Unlock()
}

func (m *Memory) SetZIndex(h layers.Handle, z int) {
	m.mu.Lock()
	if e, ok := m.layers[h]; ok {
		e.layer.ZIndex = z
	}
	m.mu.Unlock()
}

// SetView moves the map. Only later probes use the new view.
func (m *Memory) SetView(center orb.Point, zoom float64) {
	m.mu.Lock()
	m.center, m.zoom = center, zoom
	m.mu.Unlock()
}

// SetZoom changes the zoom and keeps the current center.
func (m *Memory) SetZoom(zoom float64) {
	m.mu.Lock()
	m.zoom = zoom
	m.mu.Unlock()
}

// Fire reports a tile event for h to the sink registered with it.
func (m *Memory) Fire(h layers.Handle, kind layers.EventKind) error {
	switch kind {
	case layers.EventLoad, layers.EventTileError:
	default:
		return errors.New("unknown event type: " + string(kind))
	}

	m.mu.Lock()
	e, ok := m.layers[h]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownHandle
	}
	if kind == layers.EventLoad {
		e.layer.Loaded = true
	} else {
		e.layer.TileErrors++
	}
	sink := e.sink
	m.mu.Unlock()

	if sink != nil {
		sink(layers.Event{Handle: h, Kind: kind})
	}
	return nil
}

// Snapshot returns the attached layers ordered by handle.
func (m *Memory) Snapshot() []Layer {
	m.mu.Lock()
	out := make([]Layer, 0, len(m.layers))
	for _, e := range m.layers {
		out = append(out, e.layer)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Close stops outstanding probes and waits for them.
func (m *Memory) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Memory) probeTile(h layers.Handle, url string) {
	kind := layers.EventLoad
	if err := m.fetch(url); err != nil {
		if m.ctx.Err() != nil {
			return
		}
		m.log.Debug().Err(err).Str("url", url).Msg("tile probe failed")
		kind = layers.EventTileError
	}
	if err := m.Fire(h, kind); err != nil {
		m.log.Debug().Uint64("handle", uint64(h)).Msg("layer removed before its tile probe finished")
	}
}

func (m *Memory) fetch(url string) error {
	req, err := http.NewRequestWithContext(m.ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.probe.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New("tile status " + strconv.Itoa(resp.StatusCode))
	}
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("empty tile")
	}
	return nil
}

// TileURL fills the {z}/{x}/{y} placeholders of tpl for t.
func TileURL(tpl string, t maptile.Tile) string {
	url := strings.ReplaceAll(tpl, "{x}", strconv.Itoa(int(t.X)))
	url = strings.ReplaceAll(url, "{y}", strconv.Itoa(int(t.Y)))
	url = strings.ReplaceAll(url, "{z}", strconv.Itoa(int(t.Z)))
	return url
}

func clampZoom(z float64) maptile.Zoom {
	switch {
	case z < 0:
		return 0
	case z > maxZoom:
		return maxZoom
	}
	return maptile.Zoom(z)
}
