package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	mu      sync.Mutex
	calls   int
	cutoffs []time.Time
	err     error
}

func (f *fakePruner) PruneTransientEvents(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

func (f *fakePruner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSweepUsesGracePeriod(t *testing.T) {
	p := &fakePruner{}
	s := NewService(p, 2*time.Hour, time.Hour, nil)

	before := time.Now().Add(-2 * time.Hour)
	s.Sweep(context.Background())
	after := time.Now().Add(-2 * time.Hour)

	require.Equal(t, 1, p.callCount())
	cutoff := p.cutoffs[0]
	assert.False(t, cutoff.Before(before))
	assert.False(t, cutoff.After(after))
}

func TestSweepToleratesFailure(t *testing.T) {
	p := &fakePruner{err: errors.New("db locked")}
	s := NewService(p, time.Hour, time.Hour, nil)
	s.Sweep(context.Background())
	assert.Equal(t, 1, p.callCount())
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	p := &fakePruner{}
	s := NewService(p, time.Hour, time.Hour, nil)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return p.callCount() >= 1 },
		time.Second, 5*time.Millisecond)
	s.Stop()

	// A second Start after Stop is a no-op because cancel is already set.
	calls := p.callCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, p.callCount())
}
