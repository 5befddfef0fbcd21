package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	_ "github.com/lib/pq"
)

// PostgresCheckpointer persists checkpoints in a Postgres table, one row per
// workflow. The database's commit is the durability boundary: SaveCheckpoint
// does not return until the row is committed.
type PostgresCheckpointer struct {
	db    *sql.DB
	table string
}

// OpenPostgres opens a Postgres connection with the pq driver and verifies
// it with a ping.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresCheckpointer creates a Postgres-backed checkpoint store and
// ensures its table exists.
func NewPostgresCheckpointer(ctx context.Context, db *sql.DB) (*PostgresCheckpointer, error) {
	c := &PostgresCheckpointer{db: db, table: "gateway_checkpoints"}
	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *PostgresCheckpointer) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			workflow_id TEXT PRIMARY KEY,
			step        INTEGER NOT NULL,
			data        JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, c.table)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return nil
}

func (c *PostgresCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (workflow_id, step, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (workflow_id)
		DO UPDATE SET step = EXCLUDED.step, data = EXCLUDED.data, updated_at = now()`, c.table)
	if _, err := c.db.ExecContext(ctx, query, checkpoint.WorkflowID, checkpoint.Step, data); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (c *PostgresCheckpointer) LoadCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE workflow_id = $1`, c.table)
	var data []byte
	err := c.db.QueryRowContext(ctx, query, workflowID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (c *PostgresCheckpointer) DeleteCheckpoint(ctx context.Context, workflowID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE workflow_id = $1`, c.table)
	if _, err := c.db.ExecContext(ctx, query, workflowID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// ListWorkflows returns summaries for all stored workflows, newest first.
func (c *PostgresCheckpointer) ListWorkflows(ctx context.Context) ([]*RunSummary, error) {
	query := fmt.Sprintf(`SELECT data FROM %s`, c.table)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var summaries []*RunSummary
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var checkpoint Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			continue
		}
		summaries = append(summaries, checkpoint.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
	return summaries, nil
}
