package persist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const timeLayout = time.RFC3339Nano

// SessionRow is one mascot's lifetime within a run.
type SessionRow struct {
	RunID      uuid.UUID
	MascotID   int64
	Template   string
	ParentID   int64
	SpawnedAt  time.Time
	ReapReason string // empty while alive
	LastX      float64
	LastY      float64
}

// Position is a snapshot of where a live mascot stands.
type Position struct {
	MascotID int64
	X, Y     float64
}

type SessionRepo struct {
	db *DB
}

func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// CreateRun starts a new run and returns its id.
func (r *SessionRepo) CreateRun(ctx context.Context, host string, at time.Time) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`INSERT INTO runs (id, host, started_at) VALUES ($1, $2, $3)`),
		id.String(), host, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create run: %w", err)
	}
	return id, nil
}

func (r *SessionRepo) FinishRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`UPDATE runs SET stopped_at = $1 WHERE id = $2`),
		at.UTC().Format(timeLayout), id.String(),
	)
	return err
}

func (r *SessionRepo) InsertSpawn(ctx context.Context, row SessionRow) error {
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`INSERT INTO mascot_sessions (run_id, mascot_id, template, parent_id, spawned_at, last_x, last_y)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		row.RunID.String(), row.MascotID, row.Template, row.ParentID,
		row.SpawnedAt.UTC().Format(timeLayout), row.LastX, row.LastY,
	)
	if err != nil {
		return fmt.Errorf("insert session %d: %w", row.MascotID, err)
	}
	return nil
}

func (r *SessionRepo) MarkReaped(ctx context.Context, runID uuid.UUID, mascotID int64, reason string, at time.Time) error {
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`UPDATE mascot_sessions SET reaped_at = $1, reap_reason = $2
		 WHERE run_id = $3 AND mascot_id = $4`),
		at.UTC().Format(timeLayout), reason, runID.String(), mascotID,
	)
	if err != nil {
		return fmt.Errorf("reap session %d: %w", mascotID, err)
	}
	return nil
}

// SavePositions writes a batch of positions in one transaction.
func (r *SessionRepo) SavePositions(ctx context.Context, runID uuid.UUID, ps []Position) error {
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("positions begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.db.rebind(
		`UPDATE mascot_sessions SET last_x = $1, last_y = $2
		 WHERE run_id = $3 AND mascot_id = $4 AND reaped_at IS NULL`))
	if err != nil {
		return fmt.Errorf("positions prepare: %w", err)
	}
	defer stmt.Close()
	for _, p := range ps {
		if _, err := stmt.ExecContext(ctx, p.X, p.Y, runID.String(), p.MascotID); err != nil {
			return fmt.Errorf("positions update %d: %w", p.MascotID, err)
		}
	}
	return tx.Commit()
}

// ListSessions returns every session of a run, oldest first.
func (r *SessionRepo) ListSessions(ctx context.Context, runID uuid.UUID) ([]SessionRow, error) {
	rows, err := r.db.SQL.QueryContext(ctx, r.db.rebind(
		`SELECT mascot_id, template, parent_id, spawned_at, reap_reason, last_x, last_y
		 FROM mascot_sessions WHERE run_id = $1 ORDER BY mascot_id`),
		runID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var (
			row     = SessionRow{RunID: runID}
			spawned string
			reason  sql.NullString
		)
		if err := rows.Scan(&row.MascotID, &row.Template, &row.ParentID, &spawned, &reason, &row.LastX, &row.LastY); err != nil {
			return nil, err
		}
		row.SpawnedAt, _ = time.Parse(timeLayout, spawned)
		row.ReapReason = reason.String
		out = append(out, row)
	}
	return out, rows.Err()
}
