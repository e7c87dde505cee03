package layers

import (
	"context"
	"encoding/json"
)

// Row is one result row of a SQL query, column name to raw JSON value.
type Row map[string]json.RawMessage

// SQLRunner runs a read-only SQL query for an account.
type SQLRunner interface {
	Query(ctx context.Context, account, sql string) ([]Row, error)
}

// MapRegistrar registers a layer configuration with a tile service and
// returns the {z}/{x}/{y} tile URL template it serves.
type MapRegistrar interface {
	Instantiate(ctx context.Context, account string, cfg MapConfig) (string, error)
}

// Backend bundles the query services of one provider. Either may be nil when
// the provider cannot serve that kind of query.
type Backend struct {
	SQL  SQLRunner
	Maps MapRegistrar
}

func (b Backend) supports(k Kind) bool {
	switch k {
	case KindMarkers:
		return b.SQL != nil
	case KindLegend:
		return b.SQL != nil && b.Maps != nil
	default:
		return b.Maps != nil
	}
}

// MapConfig is the layer group payload sent to the tile service.
type MapConfig struct {
	Version string     `json:"version"`
	StatTag string     `json:"stat_tag"`
	Layers  []MapLayer `json:"layers"`
}

type MapLayer struct {
	Type    string          `json:"type"`
	Options MapLayerOptions `json:"options"`
}

type MapLayerOptions struct {
	SQL             string `json:"sql"`
	CartoCSS        string `json:"cartocss,omitempty"`
	CartoCSSVersion string `json:"cartocss_version,omitempty"`
	UserName        string `json:"user_name,omitempty"`
}

// mapConfig converts spec against filters. An empty cartocss uses the
// converted template from the spec.
func mapConfig(spec Spec, filters Filters, cartocss string) MapConfig {
	conv := converterFor(spec.Category)
	if cartocss == "" {
		cartocss = spec.Layer.CartoCSS
	}
	layerType := spec.Layer.Type
	if layerType == "" {
		layerType = "cartodb"
	}
	return MapConfig{
		Version: "1.3.0",
		StatTag: "API",
		Layers: []MapLayer{{
			Type: layerType,
			Options: MapLayerOptions{
				SQL:             conv.convert(spec.Layer.SQL, filters, spec.Layer.Params, spec.Layer.SQLParams),
				CartoCSS:        conv.convert(cartocss, filters, spec.Layer.Params, spec.Layer.SQLParams),
				CartoCSSVersion: spec.Layer.CartoCSSVersion,
				UserName:        spec.Account,
			},
		}},
	}
}
