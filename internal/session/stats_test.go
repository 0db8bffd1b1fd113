package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/roster"
)

func ledgerSession(scans ...ScanAttempt) *Session {
	return &Session{
		ID:        "sess-1",
		SectionID: "S1",
		CourseID:  "C1",
		Status:    StatusActive,
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(time.Hour),
		Scans:     scans,
	}
}

func TestComputeStats_Counts(t *testing.T) {
	s := ledgerSession(
		ScanAttempt{StudentID: "stu1", Outcome: OutcomeAccepted},
		ScanAttempt{StudentID: "stu2", Outcome: OutcomeAccepted},
		ScanAttempt{StudentID: "stu2", Outcome: OutcomeDuplicate},
		ScanAttempt{StudentID: "stu3", Outcome: OutcomeGeofence},
	)
	rosterIDs := []string{"stu1", "stu2", "stu3", "stu4"}

	stats := ComputeStats(s, rosterIDs, 10)
	assert.Equal(t, 2, stats.AttendedCount)
	assert.Equal(t, 2, stats.AbsentCount)
	assert.Equal(t, 4, stats.RosterSize)
	assert.InDelta(t, 50.0, stats.AttendanceRate, 1e-9)
	assert.Equal(t, stats.RosterSize, stats.AttendedCount+stats.AbsentCount)
}

func TestComputeStats_EmptyRoster(t *testing.T) {
	s := ledgerSession()
	stats := ComputeStats(s, nil, 10)
	assert.Equal(t, 0, stats.AttendedCount)
	assert.Equal(t, 0, stats.AbsentCount)
	assert.Equal(t, 0.0, stats.AttendanceRate, "never divide by zero")
}

func TestComputeStats_OffRosterScans(t *testing.T) {
	// A roster snapshot can miss a student who scanned; the absence
	// count must not go negative.
	s := ledgerSession(
		ScanAttempt{StudentID: "stu1", Outcome: OutcomeAccepted},
		ScanAttempt{StudentID: "transfer", Outcome: OutcomeAccepted},
	)
	stats := ComputeStats(s, []string{"stu1"}, 10)
	assert.Equal(t, 2, stats.AttendedCount)
	assert.Equal(t, 0, stats.AbsentCount)
}

func TestComputeStats_RecentScans(t *testing.T) {
	var scans []ScanAttempt
	for i := 0; i < 15; i++ {
		outcome := OutcomeAccepted
		if i%3 == 0 {
			outcome = OutcomeGeofence
		}
		scans = append(scans, ScanAttempt{
			ID:        fmt.Sprintf("scan-%02d", i),
			StudentID: fmt.Sprintf("stu%02d", i),
			ScannedAt: time.Now().Add(time.Duration(i) * time.Second),
			Outcome:   outcome,
		})
	}
	s := ledgerSession(scans...)

	stats := ComputeStats(s, nil, 10)
	require.Len(t, stats.RecentScans, 10)

	// Newest first, rejections included.
	assert.Equal(t, "scan-14", stats.RecentScans[0].ID)
	assert.Equal(t, "scan-05", stats.RecentScans[9].ID)
	sawRejection := false
	for _, a := range stats.RecentScans {
		if a.Outcome != OutcomeAccepted {
			sawRejection = true
		}
	}
	assert.True(t, sawRejection)
}

func TestAggregator_UsesRoster(t *testing.T) {
	rp := roster.Static{"S1": {"stu1", "stu2"}}
	agg := NewAggregator(rp, nil, 0, 10)

	s := ledgerSession(ScanAttempt{StudentID: "stu1", Outcome: OutcomeAccepted})
	stats, err := agg.Stats(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AttendedCount)
	assert.Equal(t, 1, stats.AbsentCount)
}
