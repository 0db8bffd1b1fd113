package record

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySink_SaveIsIdempotent(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	r := Record{
		SessionID:    "sess-1",
		SectionID:    "S1",
		CourseID:     "C1",
		SessionDate:  time.Now().UTC(),
		PresentCount: 2,
		AbsentCount:  1,
		Entries: []Entry{
			{StudentID: "stu1", Present: true},
			{StudentID: "stu2", Present: true},
			{StudentID: "stu3", Present: false},
		},
	}

	first, err := sink.SaveRecord(ctx, r)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	// A second save for the same session returns the original record,
	// even with different counts in the request.
	r.PresentCount = 99
	second, err := sink.SaveRecord(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.PresentCount)
}

func TestMemorySink_RecordForSession(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	got, err := sink.RecordForSession(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	saved, err := sink.SaveRecord(ctx, Record{SessionID: "sess-1"})
	require.NoError(t, err)

	got, err = sink.RecordForSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved.ID, got.ID)
}
