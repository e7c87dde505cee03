package layers

import (
	"fmt"
	"strings"
)

// Provider names the query backend a layer is served from.
type Provider string

const (
	ProviderCarto   Provider = "cartodb"
	ProviderPostGIS Provider = "postgis"
)

const (
	CategoryWater = "water"
	CategoryFood  = "food"
)

// Kind is how a layer is fetched and drawn.
type Kind string

const (
	KindRaster  Kind = "raster"
	KindLegend  Kind = "legend"
	KindMarkers Kind = "markers"
)

const (
	zIndexRaster = 998
	zIndexLegend = 999
)

// Spec describes one layer as submitted by a caller. A Spec is never mutated
// after submission; resubmitting the same ID replaces the earlier layer.
type Spec struct {
	ID       string       `yaml:"id" json:"id"`
	Name     string       `yaml:"name,omitempty" json:"name,omitempty"`
	Provider Provider     `yaml:"provider" json:"provider"`
	Category string       `yaml:"category" json:"category"`
	Account  string       `yaml:"account,omitempty" json:"account,omitempty"`
	Layer    LayerConfig  `yaml:"layer" json:"layer"`
	Legend   LegendConfig `yaml:"legend,omitempty" json:"legend,omitempty"`
}

type LayerConfig struct {
	Type            string     `yaml:"type,omitempty" json:"type,omitempty"`
	SQL             string     `yaml:"sql" json:"sql"`
	CartoCSS        string     `yaml:"cartocss,omitempty" json:"cartocss,omitempty"`
	CartoCSSVersion string     `yaml:"cartocss_version,omitempty" json:"cartocss_version,omitempty"`
	Params          []Param    `yaml:"params,omitempty" json:"params,omitempty"`
	SQLParams       []SQLParam `yaml:"sql_params,omitempty" json:"sql_params,omitempty"`
}

type LegendConfig struct {
	SQL       string     `yaml:"sql,omitempty" json:"sql,omitempty"`
	Params    []Param    `yaml:"params,omitempty" json:"params,omitempty"`
	SQLParams []SQLParam `yaml:"sql_params,omitempty" json:"sql_params,omitempty"`
}

// Param substitutes one filter value for the {{Key}} placeholder.
type Param struct {
	Key      string `yaml:"key" json:"key"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// SQLParam expands {{Key}} into a WHERE clause built from KeyParams.
type SQLParam struct {
	Key       string  `yaml:"key" json:"key"`
	KeyParams []Param `yaml:"key_params" json:"key_params"`
}

// Options carries the dashboard state a layer is rendered for.
type Options struct {
	Filters Filters
}

// Filters is the active dashboard filter set keyed by filter name.
type Filters map[string]string

// DefaultFilters mirrors the dashboard's initial filter state.
func DefaultFilters() Filters {
	return Filters{
		"crop":         "all",
		"scope":        "global",
		"period":       "year",
		"period_value": "baseline",
		"year":         "baseline",
		"food":         "none",
		"indicator":    "none",
		"irrigation":   "all",
		"type":         "absolute",
	}
}

func (f Filters) clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Kind classifies the spec by category and legend configuration.
func (s Spec) Kind() Kind {
	switch s.Category {
	case CategoryWater:
		return KindRaster
	case CategoryFood:
		return KindMarkers
	}
	if strings.TrimSpace(s.Legend.SQL) != "" {
		return KindLegend
	}
	return KindRaster
}

// zIndex puts legend-backed and non-water rasters above the water layer.
func (s Spec) zIndex() int {
	if s.Category == CategoryWater {
		return zIndexRaster
	}
	return zIndexLegend
}

// Validate checks the parts of a spec that can be verified without running
// any query: identity, provider and the placeholder sets of its templates.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidSpec)
	}
	switch s.Provider {
	case ProviderCarto, ProviderPostGIS:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, s.Provider)
	}
	if strings.TrimSpace(s.Category) == "" {
		return fmt.Errorf("%w: layer %s has no category", ErrInvalidSpec, s.ID)
	}
	if strings.TrimSpace(s.Layer.SQL) == "" {
		return fmt.Errorf("%w: layer %s has no sql", ErrInvalidSpec, s.ID)
	}

	layerKeys := paramKeys(s.Layer.Params, s.Layer.SQLParams)
	if err := checkTokens(s.Layer.SQL, layerKeys); err != nil {
		return fmt.Errorf("%w: layer %s sql: %v", ErrInvalidSpec, s.ID, err)
	}
	conv := converterFor(s.Category)
	if err := checkQuotedParams(s.Layer.SQL, s.Layer.Params, conv); err != nil {
		return fmt.Errorf("%w: layer %s sql: %v", ErrInvalidSpec, s.ID, err)
	}
	styleKeys := layerKeys
	if s.Kind() == KindLegend {
		styleKeys = union(layerKeys, styleTokens)
		if err := checkTokens(s.Legend.SQL, paramKeys(s.Legend.Params, s.Legend.SQLParams)); err != nil {
			return fmt.Errorf("%w: layer %s legend sql: %v", ErrInvalidSpec, s.ID, err)
		}
		if err := checkQuotedParams(s.Legend.SQL, s.Legend.Params, conv); err != nil {
			return fmt.Errorf("%w: layer %s legend sql: %v", ErrInvalidSpec, s.ID, err)
		}
	}
	if err := checkTokens(s.Layer.CartoCSS, styleKeys); err != nil {
		return fmt.Errorf("%w: layer %s cartocss: %v", ErrInvalidSpec, s.ID, err)
	}
	return nil
}

func paramKeys(params []Param, sqlParams []SQLParam) map[string]struct{} {
	keys := make(map[string]struct{}, len(params)+len(sqlParams))
	for _, p := range params {
		keys[p.Key] = struct{}{}
	}
	for _, p := range sqlParams {
		keys[p.Key] = struct{}{}
	}
	return keys
}

func union(a map[string]struct{}, b []string) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for _, k := range b {
		out[k] = struct{}{}
	}
	return out
}
