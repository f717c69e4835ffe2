package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tambola-live/engine/internal/game"
)

const createHostGamesTableSQL = `
CREATE TABLE IF NOT EXISTS host_games (
  host_id text PRIMARY KEY,
  state jsonb NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const selectHostGameSQL = `
SELECT state FROM host_games WHERE host_id = $1`

const selectHostGameForUpdateSQL = `
SELECT state FROM host_games WHERE host_id = $1 FOR UPDATE`

const upsertHostGameSQL = `
INSERT INTO host_games (host_id, state, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (host_id) DO UPDATE
SET state = EXCLUDED.state, updated_at = now()`

// Postgres stores each host's game record as one jsonb row. A batch write
// locks the row, applies every path against the current document and writes
// the result back inside one transaction, so the record can never be
// observed between paths of a batch.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.Pool.Exec(ctx, createHostGamesTableSQL)
	return err
}

func (p *Postgres) Snapshot(ctx context.Context, hostID string) (game.State, bool, error) {
	var raw []byte
	err := p.Pool.QueryRow(ctx, selectHostGameSQL, hostID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.State{}, false, nil
		}
		return game.State{}, false, err
	}

	var state game.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return game.State{}, false, fmt.Errorf("decode game record: %w", err)
	}
	return state, true, nil
}

func (p *Postgres) BatchWrite(ctx context.Context, hostID string, writes map[string]any) error {
	tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	doc := map[string]any{}
	var raw []byte
	err = tx.QueryRow(ctx, selectHostGameForUpdateSQL, hostID).Scan(&raw)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode game record: %w", err)
		}
	case errors.Is(err, pgx.ErrNoRows):
		// First write for this host starts from an empty record.
	default:
		return err
	}

	next, err := ApplyWrites(doc, writes)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode game record: %w", err)
	}

	if _, err := tx.Exec(ctx, upsertHostGameSQL, hostID, encoded); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
