package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"aqueduct_food/map-go/internal/layers"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
}

type Pool struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, databaseURL string) (*Pool, error) {
	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Verify connectivity early.
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}

	return &Pool{pool: p}, nil
}

func (p *Pool) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return nil
	}
	return p.pool.Ping(ctx)
}

// Runner returns the layer SQL runner backed by this pool.
func (p *Pool) Runner() *Runner {
	return NewRunner(p.pool)
}

// Runner serves layer SQL (legend buckets, marker features) from a PostGIS
// database. The account of a request is ignored: one database serves all.
type Runner struct {
	db DBTX
}

func NewRunner(db DBTX) *Runner {
	return &Runner{db: db}
}

func (r *Runner) Query(ctx context.Context, _ string, sql string) ([]layers.Row, error) {
	rows, err := r.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}

	out := make([]layers.Row, 0, len(maps))
	for _, m := range maps {
		row, err := toRow(m)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func toRow(m map[string]any) (layers.Row, error) {
	row := make(layers.Row, len(m))
	for col, v := range m {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode column %s: %w", col, err)
		}
		row[col] = raw
	}
	return row, nil
}
