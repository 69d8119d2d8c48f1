package sessionstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// sweepCountingStore satisfies Store but only DeleteExpired matters here.
type sweepCountingStore struct {
	Store
	sweeps  atomic.Int64
	perCall int
	fail    bool
}

func (s *sweepCountingStore) DeleteExpired(ctx context.Context) (int, error) {
	s.sweeps.Add(1)
	if s.fail {
		return 0, errors.New("backend down")
	}
	return s.perCall, nil
}

func TestSweeperSweepOnce(t *testing.T) {
	store := &sweepCountingStore{perCall: 3}
	metrics := NewMetrics()
	sw := NewSweeper(store, time.Hour, metrics)
	defer sw.Close()

	n, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, uint64(3), metrics.Get(MetricSessionSwept))
}

func TestSweeperSweepError(t *testing.T) {
	store := &sweepCountingStore{fail: true}
	sw := NewSweeper(store, time.Hour, nil)
	defer sw.Close()

	_, err := sw.Sweep(context.Background())
	require.Error(t, err)
}

func TestSweeperCloseIdempotent(t *testing.T) {
	store := &sweepCountingStore{}
	sw := NewSweeper(store, time.Hour, nil)

	sw.Close()
	sw.Close()
}

func TestSweeperTicks(t *testing.T) {
	store := &sweepCountingStore{perCall: 1}
	sw := NewSweeper(store, time.Second, NewMetrics())
	defer sw.Close()

	deadline := time.After(5 * time.Second)
	for store.sweeps.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never ticked")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
