package session

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"qrattend/internal/roster"
)

// Stats is the live aggregate view of a session the operator dashboard polls.
type Stats struct {
	SessionID      string        `json:"session_id"`
	RosterSize     int           `json:"roster_size"`
	AttendedCount  int           `json:"attended_count"`
	AbsentCount    int           `json:"absent_count"`
	AttendanceRate float64       `json:"attendance_rate"`
	RecentScans    []ScanAttempt `json:"recent_scans"`
}

// ComputeStats aggregates a session ledger against its roster. The recent
// feed is the last limit ledger entries newest first, rejections included,
// so the operator sees failures as well as redemptions.
func ComputeStats(s *Session, rosterIDs []string, limit int) Stats {
	attended := len(s.AcceptedStudents())
	size := len(rosterIDs)
	absent := size - attended
	if absent < 0 {
		// Accepted scans from students missing off the roster snapshot;
		// never report a negative absence count.
		absent = 0
	}
	rate := 0.0
	if size > 0 {
		rate = float64(attended) / float64(size) * 100
	}

	if limit <= 0 {
		limit = 10
	}
	n := len(s.Scans)
	if n < limit {
		limit = n
	}
	recent := make([]ScanAttempt, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		recent = append(recent, s.Scans[i])
	}

	return Stats{
		SessionID:      s.ID,
		RosterSize:     size,
		AttendedCount:  attended,
		AbsentCount:    absent,
		AttendanceRate: rate,
		RecentScans:    recent,
	}
}

// Aggregator serves stats with an optional short-TTL redis cache. The TTL
// is the polling interval, which keeps results at most one interval stale.
type Aggregator struct {
	roster roster.Provider
	cache  *redis.Client
	ttl    time.Duration
	limit  int
}

// NewAggregator builds an aggregator; cache may be nil to disable caching.
func NewAggregator(p roster.Provider, cache *redis.Client, ttl time.Duration, recentLimit int) *Aggregator {
	if recentLimit <= 0 {
		recentLimit = 10
	}
	return &Aggregator{roster: p, cache: cache, ttl: ttl, limit: recentLimit}
}

// Stats computes the live aggregate for a session.
func (a *Aggregator) Stats(ctx context.Context, s *Session) (Stats, error) {
	key := "qrattend:stats:" + s.ID
	if a.cache != nil && a.ttl > 0 {
		if raw, err := a.cache.Get(ctx, key).Bytes(); err == nil {
			var cached Stats
			if json.Unmarshal(raw, &cached) == nil {
				return cached, nil
			}
		}
	}

	ids, err := a.roster.RosterForSection(ctx, s.SectionID)
	if err != nil {
		return Stats{}, err
	}
	stats := ComputeStats(s, ids, a.limit)

	if a.cache != nil && a.ttl > 0 {
		if raw, err := json.Marshal(stats); err == nil {
			if err := a.cache.Set(ctx, key, raw, a.ttl).Err(); err != nil {
				log.Printf("stats cache write failed for %s: %v", s.ID, err)
			}
		}
	}
	return stats, nil
}
