package carto

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"aqueduct_food/map-go/internal/layers"
)

func TestClient_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/sql" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "SELECT max(v) AS bucket FROM crops WHERE crop = 'wheat'" {
			t.Errorf("unexpected query %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rows":[{"bucket":42}],"time":0.01,"total_rows":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	rows, err := c.Query(context.Background(), "wri-01", "SELECT max(v) AS bucket FROM crops WHERE crop = 'wheat'")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 || string(rows[0]["bucket"]) != "42" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestClient_Instantiate(t *testing.T) {
	cfg := layers.MapConfig{
		Version: "1.3.0",
		StatTag: "API",
		Layers: []layers.MapLayer{{
			Type: "cartodb",
			Options: layers.MapLayerOptions{
				SQL:             "SELECT * FROM water",
				CartoCSS:        "#water { polygon-fill: #0099cd; }",
				CartoCSSVersion: "2.3.0",
				UserName:        "wri-01",
			},
		}},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/map" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("stat_tag") != "API" {
			t.Errorf("expected stat_tag=API, got %q", r.URL.RawQuery)
		}
		var got layers.MapConfig
		if err := json.Unmarshal([]byte(r.URL.Query().Get("config")), &got); err != nil {
			t.Errorf("config is not json: %v", err)
		}
		if diff := cmp.Diff(cfg, got); diff != "" {
			t.Errorf("unexpected config (-want +got):\n%s", diff)
		}
		_, _ = w.Write([]byte(`{"layergroupid":"wri-01@abc:123"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	tileURL, err := c.Instantiate(context.Background(), "wri-01", cfg)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	want := srv.URL + "/api/v1/map/wri-01@abc:123/{z}/{x}/{y}.png"
	if tileURL != want {
		t.Fatalf("expected %q, got %q", want, tileURL)
	}
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":["column \"ws\" does not exist"]}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Query(context.Background(), "wri-01", "SELECT ws FROM t")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", se.StatusCode)
	}
	if diff := cmp.Diff([]string{`column "ws" does not exist`}, se.Messages); diff != "" {
		t.Fatalf("unexpected messages (-want +got):\n%s", diff)
	}
}

func TestClient_MissingLayerGroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, time.Second).Instantiate(context.Background(), "wri-01", layers.MapConfig{}); err == nil {
		t.Fatalf("expected an error for a response without layergroupid")
	}
}

func TestClient_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := New(srv.URL, 0).Query(ctx, "wri-01", "SELECT 1")
		errCh <- err
	}()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("query did not return after cancel")
	}
}

func TestClient_AccountPlaceholder(t *testing.T) {
	c := New("", 0)
	if got := c.TileURL("wri-01", "lg"); got != "https://wri-01.carto.com/api/v1/map/lg/{z}/{x}/{y}.png" {
		t.Fatalf("unexpected tile url %q", got)
	}
	if got := c.endpoint("wri-01", "/api/v2/sql", nil); got != "https://wri-01.carto.com/api/v2/sql?" {
		t.Fatalf("unexpected endpoint %q", got)
	}
}
