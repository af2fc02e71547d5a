package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCleaner struct {
	cutoffs []time.Duration
}

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) error {
	f.cutoffs = append(f.cutoffs, olderThan)
	return nil
}

func TestIdempotencyCleanupUsesConfiguredRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, 48*time.Hour, nil)

	require.NoError(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))
	require.Len(t, cleaner.cutoffs, 1)
	assert.Equal(t, 48*time.Hour, cleaner.cutoffs[0])
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, 0, nil)

	require.NoError(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))
	require.Len(t, cleaner.cutoffs, 1)
	assert.Equal(t, 7*24*time.Hour, cleaner.cutoffs[0])
}
