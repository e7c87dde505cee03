package layers

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
)

const (
	markerZoomMin = 1
	markerZoomMax = 5
	markerLimit   = 5
)

// FilterByZoom picks the markers shown at zoom. Between the two marker zoom
// bounds only the highest-valued markers are kept; elsewhere the collection
// is returned as is. The input is never reordered.
func FilterByZoom(fc *geojson.FeatureCollection, zoom float64) *geojson.FeatureCollection {
	if fc == nil {
		return geojson.NewFeatureCollection()
	}
	if zoom <= markerZoomMin || zoom >= markerZoomMax {
		return fc
	}

	ranked := make([]*geojson.Feature, len(fc.Features))
	copy(ranked, fc.Features)
	sort.SliceStable(ranked, func(i, j int) bool {
		return featureValue(ranked[i]) > featureValue(ranked[j])
	})
	if len(ranked) > markerLimit {
		ranked = ranked[:markerLimit]
	}

	out := geojson.NewFeatureCollection()
	out.Features = ranked
	return out
}

// featureValue reads the numeric "value" property. Missing or non-numeric
// values rank last.
func featureValue(f *geojson.Feature) float64 {
	if f == nil {
		return math.Inf(-1)
	}
	var v float64
	switch t := f.Properties["value"].(type) {
	case float64:
		v = t
	case int:
		v = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return math.Inf(-1)
		}
		v = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return math.Inf(-1)
		}
		v = parsed
	default:
		return math.Inf(-1)
	}
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	return v
}

// featuresFromRows decodes the GeoJSON feature collection carried in the
// data column of the first row.
func featuresFromRows(rows []Row) (*geojson.FeatureCollection, error) {
	if len(rows) == 0 {
		return nil, ErrNoFeatures
	}
	raw, ok := rows[0]["data"]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, ErrNoFeatures
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("decode marker features: %w", err)
	}
	if fc.Features == nil {
		fc.Features = []*geojson.Feature{}
	}
	return fc, nil
}
