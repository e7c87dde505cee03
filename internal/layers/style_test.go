package layers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRenderStyle(t *testing.T) {
	tpl := "#crops [value > {{bucket}}] { marker-fill: {{color}}; } #x { line-color: {{ color }}; }"
	got := RenderStyle(tpl, StyleParams{Bucket: Bucket{12.5}, Color: "#2e57b8"})
	want := "#crops [value > 12.5] { marker-fill: #2e57b8; } #x { line-color: #2e57b8; }"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestBucketString(t *testing.T) {
	if got := (Bucket{1, 2.5, 100}).String(); got != "1,2.5,100" {
		t.Fatalf("unexpected bucket string %q", got)
	}
}

func TestBucketFromRows(t *testing.T) {
	cases := []struct {
		name string
		rows []Row
		want Bucket
		err  error
	}{
		{name: "number", rows: []Row{{"bucket": json.RawMessage("42")}}, want: Bucket{42}},
		{name: "numeric string", rows: []Row{{"bucket": json.RawMessage(`"3.5"`)}}, want: Bucket{3.5}},
		{name: "array", rows: []Row{{"bucket": json.RawMessage("[1,5,10]")}}, want: Bucket{1, 5, 10}},
		{name: "null", rows: []Row{{"bucket": json.RawMessage("null")}}, err: ErrNoBucket},
		{name: "zero", rows: []Row{{"bucket": json.RawMessage("0")}}, err: ErrNoBucket},
		{name: "empty string", rows: []Row{{"bucket": json.RawMessage(`""`)}}, err: ErrNoBucket},
		{name: "missing column", rows: []Row{{"other": json.RawMessage("1")}}, err: ErrNoBucket},
		{name: "no rows", rows: nil, err: ErrNoBucket},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := bucketFromRows(tc.rows)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("unexpected bucket (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPaletteColor(t *testing.T) {
	p := Palette{"wheat": "#f5c400"}
	if c, ok := p.Color("wheat"); !ok || c != "#f5c400" {
		t.Fatalf("expected wheat color, got %q ok=%v", c, ok)
	}
	if _, ok := p.Color("rice"); ok {
		t.Fatalf("expected miss for rice")
	}
}
