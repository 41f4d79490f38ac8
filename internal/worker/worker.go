// Package worker drains the persistence queues into a storage backend so
// the interactive path never blocks on a write.
package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/courtkit/rotation/internal/queue"
	"github.com/courtkit/rotation/internal/storage"
	"github.com/courtkit/rotation/pkg/core"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 8192
	defaultBatchSize = 256
	defaultInterval  = 250 * time.Millisecond
)

// Dependencies holds all dependencies for the worker pool.
type Dependencies struct {
	Backend storage.Backend
	Logger  zerolog.Logger
}

// Config tunes the pool. Zero values fall back to defaults.
type Config struct {
	Workers   int
	QueueSize int           // high-water mark per queue
	BatchSize int           // max records per drain pass
	Interval  time.Duration // drain poll interval
}

// Pool owns one bounded queue per record type and a fixed set of goroutines
// draining them into the backend. Enqueue methods never block; when a queue
// is at its high-water mark the record is dropped and counted.
type Pool struct {
	deps Dependencies
	cfg  Config

	snapshots *queue.Queue[core.Snapshot]
	events    *queue.Queue[core.ValidationEvent]
	samples   *queue.Queue[core.PerfSample]

	perfSink storage.PerfSink // nil when the backend has no perf surface

	reportedDrops atomic.Uint64
	stopChan      chan struct{}
	wg            sync.WaitGroup
	started       atomic.Bool
}

// NewPool creates a pool bound to one backend. Defaults are applied for any
// zero Config field.
func NewPool(deps Dependencies, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	p := &Pool{
		deps:      deps,
		cfg:       cfg,
		snapshots: queue.NewBounded[core.Snapshot](cfg.QueueSize),
		events:    queue.NewBounded[core.ValidationEvent](cfg.QueueSize),
		samples:   queue.NewBounded[core.PerfSample](cfg.QueueSize),
		stopChan:  make(chan struct{}),
	}
	if sink, ok := deps.Backend.(storage.PerfSink); ok {
		p.perfSink = sink
	} else {
		deps.Logger.Debug().Msg("Backend has no perf sink, samples will be discarded")
	}
	return p
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	p.deps.Logger.Info().Int("workers", p.cfg.Workers).Msg("Persistence pipeline started")
}

// Stop halts the workers, then synchronously flushes whatever is still
// queued so a clean shutdown loses nothing.
func (p *Pool) Stop() {
	if !p.started.CompareAndSwap(true, false) {
		return
	}
	close(p.stopChan)
	p.wg.Wait()

	for !p.snapshots.Empty() || !p.events.Empty() || !p.samples.Empty() {
		p.drainOnce()
	}

	if d := p.Dropped(); d > 0 {
		p.deps.Logger.Warn().Uint64("dropped", d).Msg("Pipeline dropped records during run")
	}
}

// IsRunning reports whether the workers are active.
func (p *Pool) IsRunning() bool {
	return p.started.Load()
}

// EnqueueSnapshot queues one snapshot for persistence. Never blocks.
func (p *Pool) EnqueueSnapshot(s core.Snapshot) {
	p.snapshots.Enqueue(s)
}

// EnqueueValidationEvent queues one validation event. Never blocks.
func (p *Pool) EnqueueValidationEvent(e core.ValidationEvent) {
	p.events.Enqueue(e)
}

// EnqueueSample queues one performance sample. Never blocks.
func (p *Pool) EnqueueSample(s core.PerfSample) {
	p.samples.Enqueue(s)
}

// Dropped reports the total records rejected at the high-water mark.
func (p *Pool) Dropped() uint64 {
	return p.snapshots.Dropped() + p.events.Dropped() + p.samples.Dropped()
}

// Backlog reports how many records are currently waiting.
func (p *Pool) Backlog() int {
	return p.snapshots.Len() + p.events.Len() + p.samples.Len()
}

func (p *Pool) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.drainOnce()
			p.reportDrops()
		}
	}
}

// drainOnce moves up to one batch of each record type into the backend.
// Failed writes are logged and abandoned: each record is tried once.
func (p *Pool) drainOnce() {
	for _, s := range p.snapshots.DequeueBatch(p.cfg.BatchSize) {
		snap := s
		if err := p.deps.Backend.WriteSnapshot(&snap); err != nil {
			p.deps.Logger.Error().Err(err).
				Str("sessionId", snap.SessionID).Uint64("seq", snap.Seq).
				Msg("Failed to write snapshot")
		}
	}

	for _, e := range p.events.DequeueBatch(p.cfg.BatchSize) {
		ev := e
		if err := p.deps.Backend.WriteValidationEvent(&ev); err != nil {
			p.deps.Logger.Error().Err(err).
				Str("sessionId", ev.SessionID).
				Msg("Failed to write validation event")
		}
	}

	for _, s := range p.samples.DequeueBatch(p.cfg.BatchSize) {
		if p.perfSink == nil {
			continue
		}
		sample := s
		if err := p.perfSink.WritePerfSample(&sample); err != nil {
			p.deps.Logger.Error().Err(err).Msg("Failed to write perf sample")
		}
	}
}

// reportDrops logs newly observed drops exactly once across all workers.
func (p *Pool) reportDrops() {
	d := p.Dropped()
	for {
		last := p.reportedDrops.Load()
		if d <= last {
			return
		}
		if p.reportedDrops.CompareAndSwap(last, d) {
			p.deps.Logger.Warn().Uint64("dropped", d-last).Msg("Pipeline dropped records at high-water mark")
			return
		}
	}
}
