package datasink

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tambola-live/engine/internal/contracts"
	"github.com/tambola-live/engine/internal/game"
	"github.com/tambola-live/engine/internal/sharding"
)

const createResultsTableSQL = `
CREATE TABLE IF NOT EXISTS command_results (
  command_id text PRIMARY KEY,
  host_id text NOT NULL,
  kind text NOT NULL,
  success boolean NOT NULL,
  error text NOT NULL DEFAULT '',
  payload jsonb,
  attempts integer NOT NULL,
  shard_id integer NOT NULL,
  submitted_at timestamptz NOT NULL,
  completed_at timestamptz NOT NULL,
  duration_ms bigint NOT NULL,
  inserted_at timestamptz NOT NULL DEFAULT now()
)`

const createGameHistoryTableSQL = `
CREATE TABLE IF NOT EXISTS game_history (
  host_id text NOT NULL,
  completed_at timestamptz NOT NULL,
  final_state jsonb NOT NULL,
  winners jsonb NOT NULL,
  numbers_called integer NOT NULL,
  player_count integer NOT NULL,
  inserted_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (host_id, completed_at)
)`

const createHostResultOffsetsSQL = `
CREATE TABLE IF NOT EXISTS host_result_offsets (
  host_id text PRIMARY KEY,
  last_result_seq bigint NOT NULL DEFAULT 0,
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const insertResultSQL = `
INSERT INTO command_results (
  command_id, host_id, kind, success, error, payload,
  attempts, shard_id, submitted_at, completed_at, duration_ms
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (command_id) DO NOTHING
`

const insertGameHistorySQL = `
INSERT INTO game_history (
  host_id, completed_at, final_state, winners, numbers_called, player_count
)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (host_id, completed_at) DO NOTHING
`

const upsertHostResultOffsetSQL = `
INSERT INTO host_result_offsets (host_id, last_result_seq, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (host_id) DO UPDATE
SET last_result_seq = GREATEST(host_result_offsets.last_result_seq, EXCLUDED.last_result_seq),
    updated_at = now()
`

type ResultRepository struct {
	Pool *pgxpool.Pool
}

func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{Pool: pool}
}

func (r *ResultRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createResultsTableSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createGameHistoryTableSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createHostResultOffsetsSQL); err != nil {
		return err
	}
	return nil
}

// completionPayload mirrors the result payload of a successful game
// completion; only the final state matters to the archive.
type completionPayload struct {
	FinalState *game.State `json:"final_state"`
}

func (r *ResultRepository) InsertResult(ctx context.Context, result contracts.CommandResult, resultSeq uint64) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	hostID := result.Command.HostID
	if _, err := tx.Exec(ctx, insertResultSQL,
		result.Command.ID,
		hostID,
		string(result.Command.Kind),
		result.Success,
		result.Error,
		result.Payload,
		result.Attempts,
		sharding.GetShardID(hostID),
		result.Command.SubmittedAt,
		result.CompletedAt,
		result.Duration.Milliseconds(),
	); err != nil {
		return err
	}

	if result.Success && result.Command.Kind == contracts.KindCompleteGame && len(result.Payload) > 0 {
		var completion completionPayload
		if err := json.Unmarshal(result.Payload, &completion); err != nil {
			return ErrInvalidResultPayload
		}
		if completion.FinalState != nil {
			if err := insertHistory(ctx, tx, hostID, result, *completion.FinalState); err != nil {
				return err
			}
		}
	}

	if _, err := tx.Exec(ctx, upsertHostResultOffsetSQL, hostID, int64(resultSeq)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func insertHistory(ctx context.Context, tx pgx.Tx, hostID string, result contracts.CommandResult, final game.State) error {
	finalJSON, err := json.Marshal(final)
	if err != nil {
		return err
	}
	winnersJSON, err := json.Marshal(final.Game.Winners)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, insertGameHistorySQL,
		hostID,
		result.CompletedAt,
		finalJSON,
		winnersJSON,
		len(final.Numbers.CalledNumbers),
		len(final.Players),
	)
	return err
}
