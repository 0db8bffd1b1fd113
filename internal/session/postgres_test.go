package session

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPostgresTestStore connects to the database named by
// TEST_DATABASE_URL and applies the schema; without it the test skips,
// so the suite stays runnable offline.
func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(context.Background()))

	schema, err := os.ReadFile("../../migrations/schema.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM attendance_records`)
		_, _ = db.Exec(`DELETE FROM scan_attempts`)
		_, _ = db.Exec(`DELETE FROM attendance_sessions`)
		_ = db.Close()
	})
	return NewPostgresStore(db)
}

func TestPostgresStore_DuplicateScanDowngrade(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()

	s, err := store.CreateSession(ctx, CreateParams{
		SectionID: "S1", CourseID: "C1", Duration: 15 * time.Minute, AllowedRadiusM: 100,
	})
	require.NoError(t, err)

	first, err := store.AppendScan(ctx, s.ID, ScanAttempt{
		StudentID: "stu1", ScannedAt: time.Now().UTC(), Outcome: OutcomeAccepted,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, first.Outcome)

	// A second accepted attempt for the same student must come back as a
	// duplicate rejection, not as a storage error, and must stay in the
	// ledger for audit.
	second, err := store.AppendScan(ctx, s.ID, ScanAttempt{
		StudentID: "stu1", ScannedAt: time.Now().UTC(), Outcome: OutcomeAccepted,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	got, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Scans, 2)
	assert.True(t, got.HasAccepted("stu1"))
}

func TestPostgresStore_ConcurrentDuplicateScans(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()

	s, err := store.CreateSession(ctx, CreateParams{
		SectionID: "S2", CourseID: "C1", Duration: 15 * time.Minute, AllowedRadiusM: 100,
	})
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	outcomes := make([]Outcome, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, err := store.AppendScan(ctx, s.ID, ScanAttempt{
				StudentID: "stu1", ScannedAt: time.Now().UTC(), Outcome: OutcomeAccepted,
			})
			outcomes[i], errs[i] = stored.Outcome, err
		}(i)
	}
	wg.Wait()

	accepted := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i], "losing the race is a rejection, never an error")
		switch outcomes[i] {
		case OutcomeAccepted:
			accepted++
		default:
			assert.Equal(t, OutcomeDuplicate, outcomes[i])
		}
	}
	assert.Equal(t, 1, accepted)

	got, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, got.Scans, workers, "losers stay in the ledger as duplicates")
}

func TestPostgresStore_ConcurrentCreate(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()

	const workers = 6
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.CreateSession(ctx, CreateParams{
				SectionID: "S3", CourseID: "C1", Duration: 15 * time.Minute, AllowedRadiusM: 100,
			})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(t, err, ErrSessionConflict)
		}
	}
	assert.Equal(t, 1, created)
}
