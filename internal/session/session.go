// Package session implements the QR attendance session core: lifecycle,
// scan ledger, anti-cheat evaluation, and live statistics.
package session

import (
	"errors"
	"time"

	"qrattend/internal/geo"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive  Status = "active"
	StatusClosed  Status = "closed"
	StatusExpired Status = "expired"
)

// Outcome classifies a scan attempt. Every rejection carries a stable code;
// clients must not infer the outcome from the message text.
type Outcome string

const (
	OutcomeAccepted     Outcome = "accepted"
	OutcomeDuplicate    Outcome = "rejected_duplicate"
	OutcomeExpired      Outcome = "rejected_expired"
	OutcomeGeofence     Outcome = "rejected_geofence"
	OutcomeSuspicious   Outcome = "rejected_suspicious"
	OutcomeInvalidToken Outcome = "rejected_invalid_token"
)

var (
	ErrSessionConflict  = errors.New("an active session already exists for this section and course")
	ErrSessionNotFound  = errors.New("session not found")
	ErrAlreadyClosed    = errors.New("session is not active")
	ErrInvalidDuration  = errors.New("session duration out of allowed range")
	ErrLocationRequired = errors.New("location is required when location verification is enabled")
)

// ScanAttempt is one entry in a session's ledger. Attempts are immutable
// once appended; rejected attempts stay in the ledger as the audit trail.
type ScanAttempt struct {
	ID                string     `json:"id"`
	SessionID         string     `json:"session_id"`
	StudentID         string     `json:"student_id"`
	ScannedAt         time.Time  `json:"scanned_at"`
	Location          *geo.Point `json:"location,omitempty"`
	DeviceFingerprint string     `json:"device_fingerprint,omitempty"`
	Outcome           Outcome    `json:"outcome"`
	Reason            string     `json:"reason,omitempty"`
}

// Session is a time-boxed attendance window for one (section, course) pair.
type Session struct {
	ID               string        `json:"id"`
	SectionID        string        `json:"section_id"`
	CourseID         string        `json:"course_id"`
	Status           Status        `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	ExpiresAt        time.Time     `json:"expires_at"`
	ClosedAt         *time.Time    `json:"closed_at,omitempty"`
	Location         *geo.Point    `json:"location,omitempty"`
	AllowedRadiusM   float64       `json:"allowed_radius_m"`
	AntiCheatEnabled bool          `json:"anti_cheat_enabled"`
	TokenSecret      []byte        `json:"-"`
	TokenVersion     int           `json:"token_version"`
	Scans            []ScanAttempt `json:"scans,omitempty"`
}

// Live reports whether the session still accepts scans at now. A session
// whose status is active but whose expiry has passed is not live; callers
// observing this should promote it to expired.
func (s *Session) Live(now time.Time) bool {
	return s.Status == StatusActive && !now.After(s.ExpiresAt)
}

// LocationRequired reports whether scans must carry coordinates.
func (s *Session) LocationRequired() bool {
	return s.Location != nil
}

// HasAccepted reports whether studentID already redeemed a scan.
func (s *Session) HasAccepted(studentID string) bool {
	for i := range s.Scans {
		if s.Scans[i].StudentID == studentID && s.Scans[i].Outcome == OutcomeAccepted {
			return true
		}
	}
	return false
}

// AcceptedStudents returns the distinct students with an accepted scan,
// keyed to their scan time.
func (s *Session) AcceptedStudents() map[string]time.Time {
	out := make(map[string]time.Time)
	for i := range s.Scans {
		if s.Scans[i].Outcome == OutcomeAccepted {
			if _, ok := out[s.Scans[i].StudentID]; !ok {
				out[s.Scans[i].StudentID] = s.Scans[i].ScannedAt
			}
		}
	}
	return out
}
