package session

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions in process memory. It backs tests and the
// dev-mode server; the invariants it enforces under its mutex mirror the
// unique indexes the Postgres store relies on.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	// active indexes the one live session per (section, course) pair.
	active map[string]string
	now    func() time.Time
}

// NewMemoryStore creates an empty store using wall-clock time.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		active:   make(map[string]string),
		now:      time.Now,
	}
}

// SetClock overrides the store's clock. Tests only.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func pairKey(sectionID, courseID string) string {
	return sectionID + "\x00" + courseID
}

func newSecret() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("session: secret generation failed: " + err.Error())
	}
	return b
}

func (m *MemoryStore) CreateSession(_ context.Context, p CreateParams) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	key := pairKey(p.SectionID, p.CourseID)
	if id, ok := m.active[key]; ok {
		if cur := m.sessions[id]; cur != nil && cur.Live(now) {
			return nil, ErrSessionConflict
		}
		// Stale index entry: the previous session ran out. Promote it
		// and let the new one through.
		m.expireLocked(id, now)
	}

	s := &Session{
		ID:               uuid.NewString(),
		SectionID:        p.SectionID,
		CourseID:         p.CourseID,
		Status:           StatusActive,
		CreatedAt:        now,
		ExpiresAt:        now.Add(p.Duration),
		Location:         p.Location,
		AllowedRadiusM:   p.AllowedRadiusM,
		AntiCheatEnabled: p.AntiCheatEnabled,
		TokenSecret:      newSecret(),
		TokenVersion:     1,
	}
	m.sessions[s.ID] = s
	m.active[key] = s.ID
	return snapshot(s), nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	m.promoteLocked(s)
	return snapshot(s), nil
}

func (m *MemoryStore) GetActiveSession(_ context.Context, sectionID, courseID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[pairKey(sectionID, courseID)]
	if !ok {
		return nil, nil
	}
	s := m.sessions[id]
	if s == nil {
		return nil, nil
	}
	m.promoteLocked(s)
	if s.Status != StatusActive {
		return nil, nil
	}
	return snapshot(s), nil
}

func (m *MemoryStore) AppendScan(_ context.Context, sessionID string, attempt ScanAttempt) (ScanAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ScanAttempt{}, ErrSessionNotFound
	}
	m.promoteLocked(s)

	// Liveness wins over anything the evaluator decided earlier: a scan in
	// flight across the expiry boundary is rejected here, and the frozen
	// ledger is not written to.
	if s.Status != StatusActive {
		attempt.Outcome = OutcomeExpired
		attempt.Reason = "session is no longer accepting scans"
		return attempt, nil
	}

	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	attempt.SessionID = s.ID
	if attempt.Outcome == OutcomeAccepted && s.HasAccepted(attempt.StudentID) {
		// Lost the uniqueness race between evaluation and append.
		attempt.Outcome = OutcomeDuplicate
		attempt.Reason = "attendance already recorded for this session"
	}
	s.Scans = append(s.Scans, attempt)
	return attempt, nil
}

func (m *MemoryStore) CloseSession(_ context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	m.promoteLocked(s)
	if s.Status != StatusActive {
		return nil, ErrAlreadyClosed
	}
	now := m.now().UTC()
	s.Status = StatusClosed
	s.ClosedAt = &now
	delete(m.active, pairKey(s.SectionID, s.CourseID))
	return snapshot(s), nil
}

func (m *MemoryStore) TokenSecret(_ context.Context, sessionID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.TokenSecret, nil
}

func (m *MemoryStore) ExpireOverdue(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if s.Status == StatusActive && now.After(s.ExpiresAt) {
			m.expireLocked(id, now)
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// promoteLocked applies read-time expiry promotion. Caller holds the mutex.
func (m *MemoryStore) promoteLocked(s *Session) {
	if s.Status == StatusActive && m.now().After(s.ExpiresAt) {
		m.expireLocked(s.ID, m.now().UTC())
	}
}

func (m *MemoryStore) expireLocked(id string, now time.Time) {
	s := m.sessions[id]
	if s == nil || s.Status != StatusActive {
		return
	}
	s.Status = StatusExpired
	s.ClosedAt = &now
	delete(m.active, pairKey(s.SectionID, s.CourseID))
}

// snapshot copies a session so callers never alias store-owned state.
func snapshot(s *Session) *Session {
	cp := *s
	cp.Scans = append([]ScanAttempt(nil), s.Scans...)
	cp.TokenSecret = append([]byte(nil), s.TokenSecret...)
	return &cp
}
