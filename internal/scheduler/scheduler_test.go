// internal/scheduler/scheduler_test.go
package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/config"
)

type fakeSweeper struct {
	mu        sync.Mutex
	batchSize int
	calls     int
	result    int
	err       error
}

func (f *fakeSweeper) run(batchSize int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batchSize = batchSize
	return f.result, f.err
}

func (f *fakeSweeper) ReleaseDue(ctx context.Context, batchSize, maxItems int) (int, error) {
	return f.run(batchSize)
}

func (f *fakeSweeper) SweepOverdue(ctx context.Context, batchSize, maxItems int) (int, error) {
	return f.run(batchSize)
}

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled:          true,
		AutoReleaseSpec:  "@every 1h",
		DisputeSweepSpec: "@every 1h",
		BatchSize:        25,
	}
}

func TestRunOnce(t *testing.T) {
	releaser := &fakeSweeper{result: 3}
	escalator := &fakeSweeper{err: errors.New("db down")}

	s, err := New(testConfig(), releaser, escalator)
	require.NoError(t, err)

	n, err := s.RunOnce(context.Background(), JobAutoRelease)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 25, releaser.batchSize)

	_, err = s.RunOnce(context.Background(), JobDisputeSweep)
	assert.EqualError(t, err, "db down")
	assert.Equal(t, 1, escalator.calls)

	_, err = s.RunOnce(context.Background(), "reindex")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	cfg := testConfig()
	cfg.DisputeSweepSpec = "every now and then"

	_, err := New(cfg, &fakeSweeper{}, &fakeSweeper{})
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, err := New(testConfig(), &fakeSweeper{}, &fakeSweeper{})
	require.NoError(t, err)

	s.Start()
	assert.Len(t, s.cron.Entries(), 2)
	s.Stop(context.Background())
	assert.Error(t, s.ctx.Err())
}
