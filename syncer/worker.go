package syncer

import (
	"context"
	"log"
	"sync"
	"time"
)

// JobStatus is a point-in-time view of one scheduled loop, exposed through
// the scheduler status endpoint.
type JobStatus struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	LastRun  time.Time     `json:"last_run"`
	NextRun  time.Time     `json:"next_run"`
	Runs     int           `json:"runs"`
	LastErr  string        `json:"last_error,omitempty"`
}

// Worker schedules the two copy-trading loops. Position monitoring and order
// management run as independent goroutines on the same cadence and
// coordinate only through the persisted store, so one slow pass never blocks
// the other.
type Worker struct {
	trader   *CopyTrader
	manager  *OrderManager
	interval time.Duration

	mu   sync.RWMutex
	jobs map[string]*JobStatus

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewWorker builds the scheduler around an explicitly constructed engine.
func NewWorker(trader *CopyTrader, manager *OrderManager, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Worker{
		trader:   trader,
		manager:  manager,
		interval: interval,
		jobs:     make(map[string]*JobStatus),
		stop:     make(chan struct{}),
	}
}

// Start launches both loops. Each runs once immediately, then on the ticker.
func (w *Worker) Start() {
	w.startLoop("position-monitor", w.interval, w.trader.MonitorPositions)
	w.startLoop("order-manager", w.interval, w.manager.ManagePendingOrders)
	log.Printf("[Worker] Started position-monitor and order-manager (every %s)", w.interval)
}

// Stop lets in-flight cycles finish, then stops the timers.
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
	log.Printf("[Worker] Stopped")
}

// Status returns a snapshot of every scheduled job.
func (w *Worker) Status() []JobStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]JobStatus, 0, len(w.jobs))
	for _, job := range w.jobs {
		out = append(out, *job)
	}
	return out
}

func (w *Worker) startLoop(name string, interval time.Duration, fn func(context.Context) error) {
	w.mu.Lock()
	w.jobs[name] = &JobStatus{
		Name:     name,
		Interval: interval,
		NextRun:  time.Now(),
	}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Run immediately at startup
		w.runJob(name, interval, fn)

		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.runJob(name, interval, fn)
			}
		}
	}()
}

func (w *Worker) runJob(name string, interval time.Duration, fn func(context.Context) error) {
	// Bound each cycle to half the interval so a stuck external call cannot
	// bleed into the next tick
	ctx, cancel := context.WithTimeout(context.Background(), interval/2)
	err := fn(ctx)
	cancel()

	if err != nil {
		log.Printf("[Worker] %s cycle failed: %v", name, err)
	}

	now := time.Now()
	w.mu.Lock()
	job := w.jobs[name]
	job.LastRun = now
	job.NextRun = now.Add(interval)
	job.Runs++
	if err != nil {
		job.LastErr = err.Error()
	} else {
		job.LastErr = ""
	}
	w.mu.Unlock()
}
