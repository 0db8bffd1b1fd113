package session

import (
	"context"
	"time"

	"qrattend/internal/geo"
)

// CreateParams carries the validated inputs for opening a session. The
// store allocates the session id and token secret itself.
type CreateParams struct {
	SectionID        string
	CourseID         string
	Duration         time.Duration
	Location         *geo.Point
	AllowedRadiusM   float64
	AntiCheatEnabled bool
}

// Store owns session state and the scan ledger. Implementations must
// enforce two invariants structurally, not by check-then-act:
//
//   - at most one active session per (section, course) pair; a losing
//     concurrent create observes ErrSessionConflict
//   - at most one accepted scan per student per session; a losing
//     concurrent accepted append is stored as rejected_duplicate
//
// Reads promote an overdue active session to expired before returning it;
// no background timer is required for correctness.
type Store interface {
	CreateSession(ctx context.Context, p CreateParams) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	GetActiveSession(ctx context.Context, sectionID, courseID string) (*Session, error)

	// AppendScan atomically appends attempt to the session ledger and
	// returns the attempt as stored. Liveness is re-checked at append
	// time: once the session is closed or past expiry, the attempt is
	// rejected with OutcomeExpired and nothing is written. An accepted
	// attempt losing the per-student uniqueness race is stored and
	// returned as OutcomeDuplicate.
	AppendScan(ctx context.Context, sessionID string, attempt ScanAttempt) (ScanAttempt, error)

	CloseSession(ctx context.Context, sessionID string) (*Session, error)

	// TokenSecret returns the signing secret for a session, for the codec.
	TokenSecret(ctx context.Context, sessionID string) ([]byte, error)

	// ExpireOverdue promotes active sessions whose expiry is behind now
	// and returns the ids it touched. Used by the sweep worker.
	ExpireOverdue(ctx context.Context, now time.Time) ([]string, error)
}
