// Package record persists the attendance record a session finalizes into.
// A record is created exactly once per session and is immutable after.
package record

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one student's final status for a session.
type Entry struct {
	StudentID string     `json:"student_id"`
	Present   bool       `json:"present"`
	ScannedAt *time.Time `json:"scanned_at,omitempty"`
}

// Record is the finalization artifact derived from a closed or expired
// session: every roster member appears as present or absent.
type Record struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	SectionID    string    `json:"section_id"`
	CourseID     string    `json:"course_id"`
	SessionDate  time.Time `json:"session_date"`
	PresentCount int       `json:"present_count"`
	AbsentCount  int       `json:"absent_count"`
	Entries      []Entry   `json:"entries"`
	CreatedAt    time.Time `json:"created_at"`
}

// Sink stores finalized records. SaveRecord is idempotent per session: a
// save racing or retrying against an existing record returns the record
// already stored, never a second one.
type Sink interface {
	SaveRecord(ctx context.Context, r Record) (Record, error)
	RecordForSession(ctx context.Context, sessionID string) (*Record, error)
}

// MemorySink keeps records in process memory for tests and dev mode.
type MemorySink struct {
	mu        sync.Mutex
	bySession map[string]Record
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{bySession: make(map[string]Record)}
}

func (m *MemorySink) SaveRecord(_ context.Context, r Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.bySession[r.SessionID]; ok {
		return existing, nil
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.bySession[r.SessionID] = r
	return r, nil
}

func (m *MemorySink) RecordForSession(_ context.Context, sessionID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.bySession[sessionID]; ok {
		cp := r
		return &cp, nil
	}
	return nil, nil
}
