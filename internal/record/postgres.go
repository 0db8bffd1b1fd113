package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresSink stores records with a unique constraint on session_id, so
// finalization stays exactly-once even when two finalizers race.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a sink over an open connection pool.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (p *PostgresSink) SaveRecord(ctx context.Context, r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	entries, err := json.Marshal(r.Entries)
	if err != nil {
		return Record{}, err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO attendance_records
			(id, session_id, section_id, course_id, session_date,
			 present_count, absent_count, entries, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, r.ID, r.SessionID, r.SectionID, r.CourseID, r.SessionDate,
		r.PresentCount, r.AbsentCount, entries, r.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			existing, lerr := p.RecordForSession(ctx, r.SessionID)
			if lerr != nil {
				return Record{}, lerr
			}
			if existing != nil {
				return *existing, nil
			}
		}
		return Record{}, err
	}
	return r, nil
}

func (p *PostgresSink) RecordForSession(ctx context.Context, sessionID string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, session_id, section_id, course_id, session_date,
		       present_count, absent_count, entries, created_at
		FROM attendance_records WHERE session_id = $1
	`, sessionID)

	var r Record
	var entries []byte
	if err := row.Scan(&r.ID, &r.SessionID, &r.SectionID, &r.CourseID, &r.SessionDate,
		&r.PresentCount, &r.AbsentCount, &entries, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(entries, &r.Entries); err != nil {
		return nil, err
	}
	return &r, nil
}
