package session

import (
	"fmt"
	"time"

	"qrattend/internal/geo"
)

// Evaluator scores a candidate scan against a session and its ledger.
// It is stateless per call; the store-level uniqueness constraint remains
// the authority on duplicates, the rule here is a fast path.
type Evaluator struct {
	// FingerprintWindow bounds how far back reuse of a device
	// fingerprint by other students is considered.
	FingerprintWindow time.Duration
	// FingerprintMaxStudents is how many distinct other students may
	// share a fingerprint inside the window before a scan is flagged.
	FingerprintMaxStudents int
}

// NewEvaluator builds an evaluator with the given tuning. Non-positive
// values fall back to conservative defaults.
func NewEvaluator(window time.Duration, maxStudents int) *Evaluator {
	if window <= 0 {
		window = 2 * time.Minute
	}
	if maxStudents <= 0 {
		maxStudents = 1
	}
	return &Evaluator{FingerprintWindow: window, FingerprintMaxStudents: maxStudents}
}

// Evaluate applies the rejection rules in order and returns the first
// match. Ordering is deliberate: liveness and duplicate checks are cheap
// and authoritative, so they short-circuit before the geofence and
// fraud heuristics, and precedence stays deterministic when several
// conditions hold at once.
func (e *Evaluator) Evaluate(s *Session, a ScanAttempt, now time.Time) (Outcome, string) {
	if !s.Live(now) {
		return OutcomeExpired, "session is no longer accepting scans"
	}
	if s.HasAccepted(a.StudentID) {
		return OutcomeDuplicate, "attendance already recorded for this session"
	}
	if s.LocationRequired() {
		if a.Location == nil {
			// Omitting required coordinates is a malformed submission, not
			// a geofence miss, and skipping the check would let a client
			// dodge the fence by sending nothing.
			return OutcomeInvalidToken, "location data missing from scan"
		}
		if !geo.WithinRadius(*s.Location, *a.Location, s.AllowedRadiusM) {
			d := geo.DistanceMeters(*s.Location, *a.Location)
			return OutcomeGeofence, fmt.Sprintf("you are outside the allowed area (%.0fm from class, limit %.0fm)", d, s.AllowedRadiusM)
		}
	}
	if s.AntiCheatEnabled {
		if a.ScannedAt.Before(s.CreatedAt) {
			return OutcomeSuspicious, "scan timestamp precedes session start"
		}
		if n := e.fingerprintReuse(s, a, now); n >= e.FingerprintMaxStudents {
			return OutcomeSuspicious, fmt.Sprintf("device already used by %d other student(s) in this session", n)
		}
	}
	return OutcomeAccepted, "attendance recorded"
}

// fingerprintReuse counts distinct other students who used the same
// device fingerprint inside the window. Rejected attempts count too: a
// device spraying scans should not get cleaner by failing some of them.
func (e *Evaluator) fingerprintReuse(s *Session, a ScanAttempt, now time.Time) int {
	if a.DeviceFingerprint == "" {
		return 0
	}
	cutoff := now.Add(-e.FingerprintWindow)
	seen := make(map[string]struct{})
	for i := range s.Scans {
		prev := &s.Scans[i]
		if prev.StudentID == a.StudentID || prev.DeviceFingerprint != a.DeviceFingerprint {
			continue
		}
		if prev.ScannedAt.Before(cutoff) {
			continue
		}
		seen[prev.StudentID] = struct{}{}
	}
	return len(seen)
}
