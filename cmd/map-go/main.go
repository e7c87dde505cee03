package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"aqueduct_food/map-go/internal/carto"
	"aqueduct_food/map-go/internal/catalog"
	"aqueduct_food/map-go/internal/db"
	"aqueduct_food/map-go/internal/httpapi"
	"aqueduct_food/map-go/internal/layers"
	"aqueduct_food/map-go/internal/metrics"
	"aqueduct_food/map-go/internal/surface"
)

func main() {
	addr := envOr("HTTP_ADDR", ":8082")
	logLevel := envOr("LOG_LEVEL", "info")
	catalogPath := envOr("LAYER_CATALOG", "config/layers.yaml")
	cartoBaseURL := envOr("CARTO_BASE_URL", carto.DefaultBaseURL)
	databaseURL := envOr("DATABASE_URL", "")

	logger := httpapi.NewLogger(logLevel)

	cartoTimeout, err := time.ParseDuration(envOr("CARTO_HTTP_TIMEOUT", "0s"))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid CARTO_HTTP_TIMEOUT")
	}
	zoom, err := strconv.ParseFloat(envOr("MAP_ZOOM", "3"), 64)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid MAP_ZOOM")
	}
	probe := envBool("TILE_PROBE")

	cat, err := catalog.Load(catalogPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load layer catalog")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cartoClient := carto.New(cartoBaseURL, cartoTimeout)
	backends := map[layers.Provider]layers.Backend{
		layers.ProviderCarto: {SQL: cartoClient, Maps: cartoClient},
	}

	var pool *db.Pool
	if databaseURL != "" {
		p, err := db.Open(ctx, databaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
		backends[layers.ProviderPostGIS] = layers.Backend{SQL: pool.Runner()}
	}

	var probeClient *http.Client
	if probe {
		probeClient = &http.Client{Timeout: 10 * time.Second}
	}
	surf := surface.New(logger, probeClient)
	defer surf.Close()

	m := metrics.New()
	manager := layers.New(logger, surf, layers.Config{
		Backends: backends,
		Palette:  cat.Palette(),
		Zoom:     zoom,
		Metrics:  m,
		OnAllClear: func() {
			logger.Info().Msg("all layers loaded")
		},
	})

	deps := httpapi.Deps{
		Catalog: cat,
		Manager: manager,
		Surface: surf,
		Metrics: m,
	}
	if pool != nil {
		deps.DB = pool
	}
	h := httpapi.NewHandler(logger, deps)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		manager.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", addr).Int("layers", len(cat.Layers())).Msg("map-go listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("http server error")
	}
	logger.Info().Msg("shutdown complete")
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
