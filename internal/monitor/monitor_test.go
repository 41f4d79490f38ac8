package monitor

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/courtkit/rotation/internal/handlers"
	"github.com/courtkit/rotation/internal/logging"
	"github.com/courtkit/rotation/internal/rules"
	"github.com/courtkit/rotation/internal/session"
	"github.com/courtkit/rotation/internal/worker"
	"github.com/courtkit/rotation/pkg/core"
)

func newTestService(t *testing.T) *handlers.Service {
	t.Helper()
	logManager := logging.NewSlogManager()
	logManager.Setup(nil, "error", nil)

	sessions := session.NewManager(session.Dependencies{LogManager: logManager}, session.Config{
		Engine: rules.DefaultConfig(),
	})
	svc := handlers.NewService(handlers.Dependencies{
		Sessions:   sessions,
		LogManager: logManager,
	})

	f := core.Formation{
		Name:       "probe",
		ServerSlot: 1,
		Players: []core.FormationPlayer{
			{PlayerID: "p1", Slot: 1, X: 7, Y: 7},
			{PlayerID: "p2", Slot: 2, X: 7, Y: 3},
			{PlayerID: "p3", Slot: 3, X: 4.5, Y: 3},
			{PlayerID: "p4", Slot: 4, X: 2, Y: 3},
			{PlayerID: "p5", Slot: 5, X: 2, Y: 7},
			{PlayerID: "p6", Slot: 6, X: 4.5, Y: 7},
		},
	}
	if _, err := svc.CreateSession(handlers.CreateSessionRequest{SessionID: "s1", Formation: &f}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return svc
}

func TestSample(t *testing.T) {
	m := NewService(Dependencies{
		Service: newTestService(t),
		Logger:  zerolog.Nop(),
	}, Config{})

	sample := m.Sample()
	if sample.Sessions != 1 {
		t.Errorf("sessions = %d, want 1", sample.Sessions)
	}
	if sample.Goroutines <= 0 {
		t.Errorf("goroutines = %d", sample.Goroutines)
	}
	if sample.HeapAllocBytes == 0 {
		t.Error("heap alloc not sampled")
	}
	if sample.Time.IsZero() {
		t.Error("sample time not set")
	}
}

func TestStartStop(t *testing.T) {
	// Unstarted pool: enqueued samples stay countable in the backlog.
	pool := worker.NewPool(worker.Dependencies{Logger: zerolog.Nop()}, worker.Config{})

	m := NewService(Dependencies{
		Service:  newTestService(t),
		Pipeline: pool,
		Logger:   zerolog.Nop(),
	}, Config{Interval: 10 * time.Millisecond})

	m.Start()
	if !m.IsRunning() {
		t.Fatal("monitor not running after Start")
	}
	m.Start() // second start is a no-op

	deadline := time.Now().Add(2 * time.Second)
	for pool.Backlog() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pool.Backlog() == 0 {
		t.Fatal("no sample enqueued")
	}

	m.Stop()
	if m.IsRunning() {
		t.Error("monitor still running after Stop")
	}
	m.Stop() // second stop is a no-op
}

func TestStopWithoutStart(t *testing.T) {
	m := NewService(Dependencies{Logger: zerolog.Nop()}, Config{})
	m.Stop()
	if m.IsRunning() {
		t.Error("unstarted monitor reports running")
	}
}

func TestDefaultInterval(t *testing.T) {
	m := NewService(Dependencies{Logger: zerolog.Nop()}, Config{})
	if m.interval != defaultInterval {
		t.Errorf("interval = %v, want %v", m.interval, defaultInterval)
	}
	m = NewService(Dependencies{Logger: zerolog.Nop()}, Config{Interval: time.Minute})
	if m.interval != time.Minute {
		t.Errorf("interval = %v, want 1m", m.interval)
	}
}
