// Package monitor samples service health on a fixed interval: runtime
// stats, live session count and the aggregate engine counters. Samples
// flow through the persistence pipeline and, when configured, to Influx.
package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/courtkit/rotation/internal/handlers"
	"github.com/courtkit/rotation/internal/influx"
	"github.com/courtkit/rotation/internal/server"
	"github.com/courtkit/rotation/internal/worker"
	"github.com/courtkit/rotation/pkg/core"
)

const defaultInterval = 30 * time.Second

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Service  *handlers.Service
	Pipeline *worker.Pool
	Influx   *influx.Manager
	Logger   zerolog.Logger
}

// Config tunes the sampling loop.
type Config struct {
	Interval time.Duration
}

// Service runs the sampling loop.
type Service struct {
	deps     Dependencies
	interval time.Duration

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies, cfg Config) *Service {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{deps: deps, interval: interval}
}

// IsRunning reports whether the sampling loop is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Sample collects one health sample without recording it anywhere.
func (s *Service) Sample() core.PerfSample {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	report := s.deps.Service.EngineMetrics()
	return core.PerfSample{
		Time:           time.Now(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		Sessions:       report.Sessions,
		Engine:         report.Aggregate,
		CacheHitRate:   report.HitRate,
	}
}

// Start launches the sampling goroutine. Starting a running monitor is a
// no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	go s.run(s.stopChan)
}

// Stop halts the sampling loop. Safe to call repeatedly.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stopChan)
}

func (s *Service) run(stop <-chan struct{}) {
	s.deps.Logger.Info().Dur("interval", s.interval).Msg("health monitor started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			s.deps.Logger.Info().Msg("health monitor stopped")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Service) tick() {
	sample := s.Sample()
	server.SetSessionGauge(sample.Sessions)

	if s.deps.Pipeline != nil {
		s.deps.Pipeline.EnqueueSample(sample)
	}
	if s.deps.Influx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.deps.Influx.WritePerfSample(ctx, sample); err != nil {
			s.deps.Logger.Warn().Err(err).Msg("influx perf write failed")
		}
		cancel()
	}

	ev := s.deps.Logger.Info().
		Int("sessions", sample.Sessions).
		Int("goroutines", sample.Goroutines).
		Uint64("heapAllocBytes", sample.HeapAllocBytes).
		Float64("cacheHitRate", sample.CacheHitRate)
	if s.deps.Pipeline != nil {
		ev = ev.Int("backlog", s.deps.Pipeline.Backlog()).
			Uint64("dropped", s.deps.Pipeline.Dropped())
	}
	ev.Msg("service health")
}
