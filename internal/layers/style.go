package layers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// styleTokens is the closed set of placeholders a legend style may use.
var styleTokens = []string{"bucket", "color"}

// Bucket holds the threshold value(s) a legend query resolves.
type Bucket []float64

func (b Bucket) String() string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// StyleParams are the values injected into a legend style template.
type StyleParams struct {
	Bucket Bucket
	Color  string
}

// RenderStyle replaces {{bucket}} and {{color}} in tpl.
func RenderStyle(tpl string, p StyleParams) string {
	return substitute(tpl, map[string]string{
		"bucket": p.Bucket.String(),
		"color":  p.Color,
	})
}

// Palette maps a crop key to its display color.
type Palette map[string]string

func (p Palette) Color(crop string) (string, bool) {
	c, ok := p[crop]
	return c, ok
}

// bucketFromRows reads the bucket column of the first row. Null, zero and
// empty values all count as missing.
func bucketFromRows(rows []Row) (Bucket, error) {
	if len(rows) == 0 {
		return nil, ErrNoBucket
	}
	raw, ok := rows[0]["bucket"]
	if !ok {
		return nil, ErrNoBucket
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode bucket: %w", err)
	}

	switch t := v.(type) {
	case nil:
		return nil, ErrNoBucket
	case float64:
		if t == 0 {
			return nil, ErrNoBucket
		}
		return Bucket{t}, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || f == 0 {
			return nil, ErrNoBucket
		}
		return Bucket{f}, nil
	case []any:
		out := make(Bucket, 0, len(t))
		for _, item := range t {
			f, ok := item.(float64)
			if !ok {
				return nil, fmt.Errorf("%w: non-numeric bucket entry %v", ErrNoBucket, item)
			}
			out = append(out, f)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unexpected bucket %v", ErrNoBucket, v)
}
