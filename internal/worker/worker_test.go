package worker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/courtkit/rotation/pkg/core"
)

// mockBackend implements storage.Backend and storage.PerfSink for testing.
type mockBackend struct {
	mu sync.Mutex

	snapshots []core.Snapshot
	events    []core.ValidationEvent
	samples   []core.PerfSample

	failSnapshotSeq uint64 // WriteSnapshot errors for this Seq when non-zero
}

func (b *mockBackend) Init() error  { return nil }
func (b *mockBackend) Close() error { return nil }

func (b *mockBackend) SaveFormation(f *core.Formation) error            { return nil }
func (b *mockBackend) LoadFormation(name string) (*core.Formation, error) { return nil, nil }
func (b *mockBackend) ListFormations() ([]core.Formation, error)        { return nil, nil }
func (b *mockBackend) DeleteFormation(name string) error                { return nil }

func (b *mockBackend) WriteSnapshot(s *core.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSnapshotSeq != 0 && s.Seq == b.failSnapshotSeq {
		return errors.New("simulated write failure")
	}
	b.snapshots = append(b.snapshots, *s)
	return nil
}

func (b *mockBackend) WriteValidationEvent(e *core.ValidationEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, *e)
	return nil
}

func (b *mockBackend) WritePerfSample(p *core.PerfSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, *p)
	return nil
}

func (b *mockBackend) counts() (int, int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.snapshots), len(b.events), len(b.samples)
}

// noSinkBackend implements storage.Backend but not storage.PerfSink.
type noSinkBackend struct {
	mu        sync.Mutex
	snapshots int
}

func (b *noSinkBackend) Init() error  { return nil }
func (b *noSinkBackend) Close() error { return nil }

func (b *noSinkBackend) SaveFormation(f *core.Formation) error              { return nil }
func (b *noSinkBackend) LoadFormation(name string) (*core.Formation, error) { return nil, nil }
func (b *noSinkBackend) ListFormations() ([]core.Formation, error)          { return nil, nil }
func (b *noSinkBackend) DeleteFormation(name string) error                  { return nil }

func (b *noSinkBackend) WriteSnapshot(s *core.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots++
	return nil
}

func (b *noSinkBackend) WriteValidationEvent(e *core.ValidationEvent) error { return nil }

func (b *noSinkBackend) snapshotCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshots
}

func newTestPool(backend *mockBackend) *Pool {
	return NewPool(Dependencies{
		Backend: backend,
		Logger:  zerolog.Nop(),
	}, Config{
		Workers:  1,
		Interval: 5 * time.Millisecond,
	})
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNewPool_AppliesDefaults(t *testing.T) {
	p := NewPool(Dependencies{Backend: &mockBackend{}, Logger: zerolog.Nop()}, Config{})

	if p.cfg.Workers != defaultWorkers {
		t.Errorf("expected %d workers, got %d", defaultWorkers, p.cfg.Workers)
	}
	if p.cfg.QueueSize != defaultQueueSize {
		t.Errorf("expected queue size %d, got %d", defaultQueueSize, p.cfg.QueueSize)
	}
	if p.cfg.BatchSize != defaultBatchSize {
		t.Errorf("expected batch size %d, got %d", defaultBatchSize, p.cfg.BatchSize)
	}
	if p.cfg.Interval != defaultInterval {
		t.Errorf("expected interval %v, got %v", defaultInterval, p.cfg.Interval)
	}
}

func TestPool_DrainsAllRecordTypes(t *testing.T) {
	backend := &mockBackend{}
	p := newTestPool(backend)

	p.EnqueueSnapshot(core.Snapshot{SessionID: "s1", Seq: 1})
	p.EnqueueSnapshot(core.Snapshot{SessionID: "s1", Seq: 2})
	p.EnqueueValidationEvent(core.ValidationEvent{SessionID: "s1", IsLegal: true})
	p.EnqueueSample(core.PerfSample{Goroutines: 4})

	p.Start()
	defer p.Stop()

	waitFor(t, func() bool {
		snaps, events, samples := backend.counts()
		return snaps == 2 && events == 1 && samples == 1
	}, "expected all queued records to reach the backend")

	if p.Backlog() != 0 {
		t.Errorf("expected empty backlog, got %d", p.Backlog())
	}
}

func TestPool_FailedWriteDoesNotStall(t *testing.T) {
	backend := &mockBackend{failSnapshotSeq: 2}
	p := newTestPool(backend)

	for seq := uint64(1); seq <= 3; seq++ {
		p.EnqueueSnapshot(core.Snapshot{SessionID: "s1", Seq: seq})
	}

	p.Start()
	defer p.Stop()

	waitFor(t, func() bool {
		snaps, _, _ := backend.counts()
		return snaps == 2
	}, "expected surviving snapshots to be written")

	backend.mu.Lock()
	defer backend.mu.Unlock()
	for _, s := range backend.snapshots {
		if s.Seq == 2 {
			t.Error("failed snapshot should not be retried into the backend")
		}
	}
}

func TestPool_DropsAtHighWaterMark(t *testing.T) {
	backend := &mockBackend{}
	p := NewPool(Dependencies{Backend: backend, Logger: zerolog.Nop()}, Config{
		Workers:   1,
		QueueSize: 2,
		Interval:  time.Hour, // workers never tick during the test
	})

	for seq := uint64(1); seq <= 5; seq++ {
		p.EnqueueSnapshot(core.Snapshot{Seq: seq})
	}

	if p.snapshots.Len() != 2 {
		t.Errorf("expected 2 queued, got %d", p.snapshots.Len())
	}
	if p.Dropped() != 3 {
		t.Errorf("expected 3 dropped, got %d", p.Dropped())
	}
}

func TestPool_StopFlushesBacklog(t *testing.T) {
	backend := &mockBackend{}
	p := NewPool(Dependencies{Backend: backend, Logger: zerolog.Nop()}, Config{
		Workers:  1,
		Interval: time.Hour, // flush must come from Stop, not the ticker
	})
	p.Start()

	p.EnqueueSnapshot(core.Snapshot{SessionID: "s1", Seq: 1})
	p.EnqueueValidationEvent(core.ValidationEvent{SessionID: "s1"})
	p.Stop()

	snaps, events, _ := backend.counts()
	if snaps != 1 || events != 1 {
		t.Errorf("expected Stop to flush backlog, got %d snapshots %d events", snaps, events)
	}
}

func TestPool_NoPerfSink_DiscardsSamples(t *testing.T) {
	backend := &noSinkBackend{}
	p := NewPool(Dependencies{Backend: backend, Logger: zerolog.Nop()}, Config{
		Workers:  1,
		Interval: 5 * time.Millisecond,
	})

	p.EnqueueSample(core.PerfSample{Goroutines: 4})
	p.EnqueueSnapshot(core.Snapshot{SessionID: "s1", Seq: 1})

	p.Start()
	defer p.Stop()

	waitFor(t, func() bool {
		return backend.snapshotCount() == 1 && p.Backlog() == 0
	}, "expected snapshot written and sample discarded")
}

func TestPool_StartStopIdempotent(t *testing.T) {
	p := newTestPool(&mockBackend{})

	if p.IsRunning() {
		t.Error("pool reports running before Start")
	}
	p.Start()
	p.Start()
	if !p.IsRunning() {
		t.Error("pool reports stopped after Start")
	}
	p.Stop()
	p.Stop()
	if p.IsRunning() {
		t.Error("pool reports running after Stop")
	}
}
