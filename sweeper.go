package sessionstore

import (
	"context"
	"log"
	"sync"
	"time"
)

// Sweeper periodically invokes [Store.DeleteExpired] on a backend. It is
// optional glue for deployments without an external scheduler: backends
// never start one themselves, and the cache backend does not need one at
// all (its DeleteExpired is a no-op).
type Sweeper struct {
	store    Store
	interval time.Duration
	metrics  *Metrics

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSweeper starts a background sweep loop with the given cadence.
// Intervals below one second are clamped to one second. Call [Sweeper.Close]
// to stop it.
func NewSweeper(store Store, interval time.Duration, metrics *Metrics) *Sweeper {
	if interval < time.Second {
		interval = time.Second
	}

	s := &Sweeper{
		store:    store,
		interval: interval,
		metrics:  metrics,
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	n, err := s.store.DeleteExpired(context.Background())
	if err != nil {
		log.Print("sessionstore: background sweep failed")
		return
	}
	s.metrics.Add(MetricSessionSwept, uint64(n))
}

// Sweep triggers one synchronous sweep outside the ticker cadence and
// returns the number of sessions removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	s.metrics.Add(MetricSessionSwept, uint64(n))
	return n, nil
}

// Close stops the sweep loop and waits for an in-flight sweep to finish.
// Close is idempotent.
func (s *Sweeper) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
