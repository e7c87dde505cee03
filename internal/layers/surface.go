package layers

import "github.com/paulmach/orb/geojson"

// Handle identifies a layer attached to a Surface.
type Handle uint64

type EventKind string

const (
	EventLoad      EventKind = "load"
	EventTileError EventKind = "tileerror"
)

// Event is reported by a Surface for a tile layer it renders.
type Event struct {
	Handle Handle
	Kind   EventKind
}

// EventSink receives surface events. It may be called from any goroutine,
// including from inside Surface.AddLayer.
type EventSink func(Event)

type SurfaceKind string

const (
	SurfaceTiles   SurfaceKind = "tiles"
	SurfaceMarkers SurfaceKind = "markers"
)

// SurfaceLayer is what the manager asks a surface to draw.
type SurfaceLayer struct {
	ID       string
	Kind     SurfaceKind
	TileURL  string
	Features *geojson.FeatureCollection
	Cluster  bool
}

// Surface is the map the manager draws on. The manager only ever calls these
// three methods and never inspects what the surface does with them.
type Surface interface {
	AddLayer(l SurfaceLayer, sink EventSink) Handle
	RemoveLayer(h Handle)
	SetZIndex(h Handle, z int)
}
