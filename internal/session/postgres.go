package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"qrattend/internal/geo"
)

const pgUniqueViolation = "23505"

// PostgresStore persists sessions and the scan ledger in Postgres. The
// core invariants live in the schema: a partial unique index on
// (section_id, course_id) WHERE status = 'active' and one on
// (session_id, student_id) WHERE outcome = 'accepted'. Application code
// only translates the resulting constraint violations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (p *PostgresStore) CreateSession(ctx context.Context, cp CreateParams) (*Session, error) {
	s := &Session{
		ID:               uuid.NewString(),
		SectionID:        cp.SectionID,
		CourseID:         cp.CourseID,
		Status:           StatusActive,
		CreatedAt:        time.Now().UTC(),
		Location:         cp.Location,
		AllowedRadiusM:   cp.AllowedRadiusM,
		AntiCheatEnabled: cp.AntiCheatEnabled,
		TokenSecret:      newSecret(),
		TokenVersion:     1,
	}
	s.ExpiresAt = s.CreatedAt.Add(cp.Duration)

	insert := func() error {
		var lat, lng, acc *float64
		if s.Location != nil {
			lat, lng, acc = &s.Location.Latitude, &s.Location.Longitude, &s.Location.Accuracy
		}
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO attendance_sessions
				(id, section_id, course_id, status, created_at, expires_at,
				 lat, lng, accuracy, allowed_radius_m, anti_cheat, token_secret, token_version)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, s.ID, s.SectionID, s.CourseID, s.Status, s.CreatedAt, s.ExpiresAt,
			lat, lng, acc, s.AllowedRadiusM, s.AntiCheatEnabled, s.TokenSecret, s.TokenVersion)
		return err
	}

	err := insert()
	if isUniqueViolation(err) {
		// The blocking session may simply be overdue; promote it and
		// retry once. A second violation is a real conflict.
		if _, perr := p.expireOverduePair(ctx, cp.SectionID, cp.CourseID); perr != nil {
			return nil, perr
		}
		err = insert()
		if isUniqueViolation(err) {
			return nil, ErrSessionConflict
		}
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if err := p.promote(ctx, sessionID); err != nil {
		return nil, err
	}
	return p.loadSession(ctx, p.db, sessionID, true)
}

func (p *PostgresStore) GetActiveSession(ctx context.Context, sectionID, courseID string) (*Session, error) {
	if _, err := p.expireOverduePair(ctx, sectionID, courseID); err != nil {
		return nil, err
	}
	row := p.db.QueryRowContext(ctx, `
		SELECT id FROM attendance_sessions
		WHERE section_id = $1 AND course_id = $2 AND status = 'active'
	`, sectionID, courseID)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p.loadSession(ctx, p.db, id, true)
}

func (p *PostgresStore) AppendScan(ctx context.Context, sessionID string, attempt ScanAttempt) (ScanAttempt, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return ScanAttempt{}, err
	}
	defer tx.Rollback()

	// Lock the session row so liveness observed here cannot be flipped by
	// a concurrent close before the insert commits.
	var status Status
	var expiresAt time.Time
	row := tx.QueryRowContext(ctx, `
		SELECT status, expires_at FROM attendance_sessions WHERE id = $1 FOR UPDATE
	`, sessionID)
	if err := row.Scan(&status, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ScanAttempt{}, ErrSessionNotFound
		}
		return ScanAttempt{}, err
	}

	now := time.Now().UTC()
	if status == StatusActive && now.After(expiresAt) {
		if _, err := tx.ExecContext(ctx, `
			UPDATE attendance_sessions SET status = 'expired', closed_at = $2
			WHERE id = $1 AND status = 'active'
		`, sessionID, now); err != nil {
			return ScanAttempt{}, err
		}
		status = StatusExpired
	}
	if status != StatusActive {
		// Frozen ledger: reject without writing.
		attempt.Outcome = OutcomeExpired
		attempt.Reason = "session is no longer accepting scans"
		return attempt, tx.Commit()
	}

	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	attempt.SessionID = sessionID

	if attempt.Outcome == OutcomeAccepted {
		// ON CONFLICT keeps the transaction usable when the attempt
		// loses the accepted-uniqueness race; an error retry on the
		// same tx would hit an aborted transaction instead. The loser
		// is stored as a duplicate rejection so the audit trail keeps it.
		inserted, err := p.insertAccepted(ctx, tx, attempt)
		if err != nil {
			return ScanAttempt{}, err
		}
		if !inserted {
			attempt.Outcome = OutcomeDuplicate
			attempt.Reason = "attendance already recorded for this session"
			if err := p.insertScan(ctx, tx, attempt); err != nil {
				return ScanAttempt{}, err
			}
		}
	} else if err := p.insertScan(ctx, tx, attempt); err != nil {
		return ScanAttempt{}, err
	}
	return attempt, tx.Commit()
}

// insertAccepted inserts an accepted attempt guarded by the partial
// unique index; it reports false when another accepted scan for the
// same (session, student) already holds the slot.
func (p *PostgresStore) insertAccepted(ctx context.Context, tx *sql.Tx, a ScanAttempt) (bool, error) {
	var lat, lng, acc *float64
	if a.Location != nil {
		lat, lng, acc = &a.Location.Latitude, &a.Location.Longitude, &a.Location.Accuracy
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO scan_attempts
			(id, session_id, student_id, scanned_at, lat, lng, accuracy,
			 device_fingerprint, outcome, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (session_id, student_id) WHERE outcome = 'accepted' DO NOTHING
	`, a.ID, a.SessionID, a.StudentID, a.ScannedAt, lat, lng, acc,
		a.DeviceFingerprint, a.Outcome, a.Reason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresStore) insertScan(ctx context.Context, tx *sql.Tx, a ScanAttempt) error {
	var lat, lng, acc *float64
	if a.Location != nil {
		lat, lng, acc = &a.Location.Latitude, &a.Location.Longitude, &a.Location.Accuracy
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO scan_attempts
			(id, session_id, student_id, scanned_at, lat, lng, accuracy,
			 device_fingerprint, outcome, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, a.ID, a.SessionID, a.StudentID, a.ScannedAt, lat, lng, acc,
		a.DeviceFingerprint, a.Outcome, a.Reason)
	return err
}

func (p *PostgresStore) CloseSession(ctx context.Context, sessionID string) (*Session, error) {
	if err := p.promote(ctx, sessionID); err != nil {
		return nil, err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE attendance_sessions SET status = 'closed', closed_at = $2
		WHERE id = $1 AND status = 'active'
	`, sessionID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := p.loadSession(ctx, p.db, sessionID, false); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyClosed
	}
	return p.loadSession(ctx, p.db, sessionID, true)
}

func (p *PostgresStore) TokenSecret(ctx context.Context, sessionID string) ([]byte, error) {
	row := p.db.QueryRowContext(ctx, `SELECT token_secret FROM attendance_sessions WHERE id = $1`, sessionID)
	var secret []byte
	if err := row.Scan(&secret); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return secret, nil
}

func (p *PostgresStore) ExpireOverdue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE attendance_sessions SET status = 'expired', closed_at = $1
		WHERE status = 'active' AND expires_at < $1
		RETURNING id
	`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// promote applies read-time expiry promotion to one session.
func (p *PostgresStore) promote(ctx context.Context, sessionID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE attendance_sessions SET status = 'expired', closed_at = NOW()
		WHERE id = $1 AND status = 'active' AND expires_at < NOW()
	`, sessionID)
	return err
}

func (p *PostgresStore) expireOverduePair(ctx context.Context, sectionID, courseID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE attendance_sessions SET status = 'expired', closed_at = NOW()
		WHERE section_id = $1 AND course_id = $2 AND status = 'active' AND expires_at < NOW()
	`, sectionID, courseID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (p *PostgresStore) loadSession(ctx context.Context, q querier, sessionID string, withScans bool) (*Session, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, section_id, course_id, status, created_at, expires_at, closed_at,
		       lat, lng, accuracy, allowed_radius_m, anti_cheat, token_secret, token_version
		FROM attendance_sessions WHERE id = $1
	`, sessionID)

	var s Session
	var closedAt sql.NullTime
	var lat, lng, acc sql.NullFloat64
	if err := row.Scan(&s.ID, &s.SectionID, &s.CourseID, &s.Status, &s.CreatedAt, &s.ExpiresAt,
		&closedAt, &lat, &lng, &acc, &s.AllowedRadiusM, &s.AntiCheatEnabled,
		&s.TokenSecret, &s.TokenVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		s.ClosedAt = &t
	}
	if lat.Valid && lng.Valid {
		s.Location = &geo.Point{Latitude: lat.Float64, Longitude: lng.Float64}
		if acc.Valid {
			s.Location.Accuracy = acc.Float64
		}
	}
	if !withScans {
		return &s, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, student_id, scanned_at, lat, lng, accuracy, device_fingerprint, outcome, reason
		FROM scan_attempts WHERE session_id = $1
		ORDER BY scanned_at, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		a := ScanAttempt{SessionID: s.ID}
		var alat, alng, aacc sql.NullFloat64
		var fp, reason sql.NullString
		if err := rows.Scan(&a.ID, &a.StudentID, &a.ScannedAt, &alat, &alng, &aacc, &fp, &a.Outcome, &reason); err != nil {
			return nil, err
		}
		if alat.Valid && alng.Valid {
			a.Location = &geo.Point{Latitude: alat.Float64, Longitude: alng.Float64}
			if aacc.Valid {
				a.Location.Accuracy = aacc.Float64
			}
		}
		a.DeviceFingerprint = fp.String
		a.Reason = reason.String
		s.Scans = append(s.Scans, a)
	}
	return &s, rows.Err()
}
