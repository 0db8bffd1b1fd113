package session

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/geo"
	"qrattend/internal/metrics"
	"qrattend/internal/record"
	"qrattend/internal/roster"
	"qrattend/internal/token"
)

// Limits bounds what a representative may ask for when opening a session.
// Passed explicitly so the core is testable with deterministic values.
type Limits struct {
	MinDuration    time.Duration
	MaxDuration    time.Duration
	DefaultRadiusM float64
}

// GenerateParams are the caller-supplied inputs for opening a session.
type GenerateParams struct {
	SectionID            string
	CourseID             string
	Duration             time.Duration
	LocationVerification bool
	Location             *geo.Point
	AllowedRadiusM       float64
	AntiCheatEnabled     bool
}

// ScanResult is what a student gets back from a scan submission. Outcome
// is the stable machine-readable code; Message is guidance for display.
type ScanResult struct {
	SessionID string  `json:"session_id,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Message   string  `json:"message"`
}

// Manager orchestrates the session lifecycle: creation, scan intake,
// closing, and finalization into an attendance record. It is the only
// component that closes or finalizes sessions.
type Manager struct {
	store   Store
	eval    *Evaluator
	stats   *Aggregator
	roster  roster.Provider
	records record.Sink
	limits  Limits
	now     func() time.Time
}

// NewManager wires the session core together.
func NewManager(store Store, eval *Evaluator, stats *Aggregator, rp roster.Provider, sink record.Sink, limits Limits) *Manager {
	if limits.MinDuration <= 0 {
		limits.MinDuration = 5 * time.Minute
	}
	if limits.MaxDuration <= 0 {
		limits.MaxDuration = 120 * time.Minute
	}
	if limits.DefaultRadiusM <= 0 {
		limits.DefaultRadiusM = 100
	}
	return &Manager{
		store:   store,
		eval:    eval,
		stats:   stats,
		roster:  rp,
		records: sink,
		limits:  limits,
		now:     time.Now,
	}
}

// SetClock overrides the manager's clock. Tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// GenerateSession validates the request, opens the session, and returns it
// with the signed token to encode into the QR image.
func (m *Manager) GenerateSession(ctx context.Context, p GenerateParams) (*Session, string, error) {
	if p.Duration < m.limits.MinDuration || p.Duration > m.limits.MaxDuration {
		return nil, "", ErrInvalidDuration
	}
	if p.LocationVerification && p.Location == nil {
		return nil, "", ErrLocationRequired
	}
	loc := p.Location
	if !p.LocationVerification {
		// Coordinates without verification requested are not a geofence.
		loc = nil
	}
	radius := p.AllowedRadiusM
	if radius <= 0 {
		radius = m.limits.DefaultRadiusM
	}

	s, err := m.store.CreateSession(ctx, CreateParams{
		SectionID:        p.SectionID,
		CourseID:         p.CourseID,
		Duration:         p.Duration,
		Location:         loc,
		AllowedRadiusM:   radius,
		AntiCheatEnabled: p.AntiCheatEnabled,
	})
	if err != nil {
		return nil, "", err
	}

	qrToken, err := token.Issue(s.ID, s.TokenSecret, s.ExpiresAt)
	if err != nil {
		return nil, "", err
	}
	metrics.SessionsOpened.Inc()
	return s, qrToken, nil
}

// GetActiveSession returns the live session for a pair, or nil.
func (m *Manager) GetActiveSession(ctx context.Context, sectionID, courseID string) (*Session, error) {
	return m.store.GetActiveSession(ctx, sectionID, courseID)
}

// GetSession returns a session by id.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return m.store.GetSession(ctx, sessionID)
}

// SubmitScan verifies the token, evaluates the attempt, and records it.
// Rejections are normal results, not errors: they are appended to the
// ledger for audit and reported back with a stable outcome code. An error
// is returned only when the attempt cannot be attributed to any session.
func (m *Manager) SubmitScan(ctx context.Context, tokenStr, studentID string, loc *geo.Point, fingerprint string) (ScanResult, error) {
	started := m.now()
	defer func() {
		metrics.ScanEvalSeconds.Observe(m.now().Sub(started).Seconds())
	}()

	attempt := ScanAttempt{
		ID:                uuid.NewString(),
		StudentID:         studentID,
		ScannedAt:         m.now().UTC(),
		Location:          loc,
		DeviceFingerprint: fingerprint,
	}

	verified, verr := token.Verify(ctx, tokenStr, m.store.TokenSecret)
	if verr != nil {
		return m.recordTokenFailure(ctx, tokenStr, attempt, verr)
	}

	s, err := m.store.GetSession(ctx, verified.SessionID)
	if err != nil {
		return ScanResult{}, err
	}

	outcome, reason := m.eval.Evaluate(s, attempt, m.now())
	attempt.Outcome = outcome
	attempt.Reason = reason

	stored, err := m.store.AppendScan(ctx, s.ID, attempt)
	if err != nil {
		return ScanResult{}, err
	}
	metrics.ScansTotal.WithLabelValues(string(stored.Outcome)).Inc()
	return ScanResult{SessionID: s.ID, Outcome: stored.Outcome, Message: stored.Reason}, nil
}

// recordTokenFailure logs a failed verification into the claimed session's
// ledger when that session can be identified; the ledger is the audit
// record of who attempted what.
func (m *Manager) recordTokenFailure(ctx context.Context, tokenStr string, attempt ScanAttempt, verr error) (ScanResult, error) {
	outcome := OutcomeInvalidToken
	reason := "scan code not recognized"
	if errors.Is(verr, token.ErrTokenExpired) {
		outcome = OutcomeExpired
		reason = "attendance window has closed"
	}
	attempt.Outcome = outcome
	attempt.Reason = reason

	result := ScanResult{Outcome: outcome, Message: reason}
	sid, perr := token.PeekSessionID(tokenStr)
	if perr != nil {
		metrics.ScansTotal.WithLabelValues(string(outcome)).Inc()
		return result, nil
	}
	stored, err := m.store.AppendScan(ctx, sid, attempt)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			metrics.ScansTotal.WithLabelValues(string(outcome)).Inc()
			return result, nil
		}
		return ScanResult{}, err
	}
	metrics.ScansTotal.WithLabelValues(string(stored.Outcome)).Inc()
	result.SessionID = sid
	result.Outcome = stored.Outcome
	result.Message = stored.Reason
	return result, nil
}

// CloseSession ends a session and, when asked, finalizes it into an
// attendance record. Closing an already-ended session with record
// generation requested returns the existing record rather than erroring,
// so a client retrying after a network failure converges.
func (m *Manager) CloseSession(ctx context.Context, sessionID string, generateRecord bool) (*Session, *record.Record, error) {
	s, err := m.store.CloseSession(ctx, sessionID)
	switch {
	case err == nil:
		metrics.SessionsEnded.WithLabelValues("closed").Inc()
	case errors.Is(err, ErrAlreadyClosed) && generateRecord:
		if s, err = m.store.GetSession(ctx, sessionID); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, err
	}

	if !generateRecord {
		return s, nil, nil
	}
	rec, err := m.Finalize(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return s, rec, nil
}

// Finalize converts a closed or expired session into its attendance
// record: roster members with an accepted scan are present, the rest
// absent. Idempotent; the first record written wins and later calls
// return it unchanged.
func (m *Manager) Finalize(ctx context.Context, sessionID string) (*record.Record, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusActive {
		return nil, ErrAlreadyClosed
	}

	if existing, err := m.records.RecordForSession(ctx, sessionID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	ids, err := m.roster.RosterForSection(ctx, s.SectionID)
	if err != nil {
		return nil, err
	}
	accepted := s.AcceptedStudents()

	entries := make([]record.Entry, 0, len(ids))
	present := 0
	for _, id := range ids {
		if at, ok := accepted[id]; ok {
			t := at
			entries = append(entries, record.Entry{StudentID: id, Present: true, ScannedAt: &t})
			present++
		} else {
			entries = append(entries, record.Entry{StudentID: id, Present: false})
		}
	}

	saved, err := m.records.SaveRecord(ctx, record.Record{
		SessionID:    s.ID,
		SectionID:    s.SectionID,
		CourseID:     s.CourseID,
		SessionDate:  s.CreatedAt,
		PresentCount: present,
		AbsentCount:  len(ids) - present,
		Entries:      entries,
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordsFinalized.Inc()
	log.Printf("session %s finalized: %d present, %d absent", s.ID, saved.PresentCount, saved.AbsentCount)
	return &saved, nil
}

// GetStats returns the live aggregate for a session.
func (m *Manager) GetStats(ctx context.Context, sessionID string) (Stats, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return Stats{}, err
	}
	return m.stats.Stats(ctx, s)
}

// SweepExpired promotes overdue sessions and returns the affected ids.
// Correctness does not depend on it; reads promote lazily. The sweep just
// keeps metrics honest and feeds the finalization queue.
func (m *Manager) SweepExpired(ctx context.Context) ([]string, error) {
	ids, err := m.store.ExpireOverdue(ctx, m.now())
	if err != nil {
		return nil, err
	}
	for range ids {
		metrics.SessionsEnded.WithLabelValues("expired").Inc()
	}
	return ids, nil
}
