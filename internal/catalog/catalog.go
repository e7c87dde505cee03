// Package catalog loads the layer definitions and crop palette the service
// can serve.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/go-playground/colors.v1"
	"gopkg.in/yaml.v3"

	"aqueduct_food/map-go/internal/layers"
)

var ErrNotFound = errors.New("layer not found")

type File struct {
	Palette map[string]string `yaml:"palette"`
	Layers  []layers.Spec     `yaml:"layers"`
}

type Catalog struct {
	palette layers.Palette
	order   []string
	specs   map[string]layers.Spec
}

func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func Parse(b []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	palette, err := normalizePalette(f.Palette)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		palette: palette,
		specs:   make(map[string]layers.Spec, len(f.Layers)),
	}
	for i, spec := range f.Layers {
		spec.ID = strings.TrimSpace(spec.ID)
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("layers[%d]: %w", i, err)
		}
		if _, dup := c.specs[spec.ID]; dup {
			return nil, fmt.Errorf("layers[%d]: duplicate id %q", i, spec.ID)
		}
		if spec.Kind() == layers.KindLegend && len(palette) == 0 {
			return nil, fmt.Errorf("layers[%d]: legend layer %s needs a palette", i, spec.ID)
		}
		c.specs[spec.ID] = spec
		c.order = append(c.order, spec.ID)
	}
	return c, nil
}

// normalizePalette rewrites every color as lowercase #rrggbb.
func normalizePalette(in map[string]string) (layers.Palette, error) {
	out := make(layers.Palette, len(in))
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, crop := range keys {
		c, err := colors.Parse(strings.TrimSpace(in[crop]))
		if err != nil {
			return nil, fmt.Errorf("palette %s: %w", crop, err)
		}
		out[crop] = c.ToRGB().ToHEX().String()
	}
	return out, nil
}

func (c *Catalog) Lookup(id string) (layers.Spec, error) {
	spec, ok := c.specs[id]
	if !ok {
		return layers.Spec{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return spec, nil
}

// Layers returns the specs in file order.
func (c *Catalog) Layers() []layers.Spec {
	out := make([]layers.Spec, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.specs[id])
	}
	return out
}

func (c *Catalog) Palette() layers.Palette {
	out := make(layers.Palette, len(c.palette))
	for k, v := range c.palette {
		out[k] = v
	}
	return out
}
