package dispatcher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func (l *testLogger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, msg := range l.messages {
		if len(msg) >= len(prefix) && msg[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register("move", func(e Event) (any, error) {
		got = e
		return "result", nil
	})

	result, err := d.Dispatch(Event{Command: "move", SessionID: "s1", Payload: []byte(`{"slot":3}`)})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != "result" {
		t.Errorf("expected 'result', got %v", result)
	}
	if got.SessionID != "s1" {
		t.Errorf("expected session s1, got %q", got.SessionID)
	}
	if string(got.Payload) != `{"slot":3}` {
		t.Errorf("payload not passed through: %q", got.Payload)
	}
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(Event{Command: "teleport"})

	if err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestDispatcher_HandlerError(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register("validate", func(e Event) (any, error) {
		return nil, fmt.Errorf("lineup rejected")
	})

	_, err := d.Dispatch(Event{Command: "validate"})
	if err == nil || err.Error() != "lineup rejected" {
		t.Errorf("expected handler error to pass through, got %v", err)
	}
}

func TestDispatcher_PanicRecovered(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("rotate", func(e Event) (any, error) {
		panic("boom")
	})

	result, err := d.Dispatch(Event{Command: "rotate"})
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}
	if result != nil {
		t.Errorf("expected nil result, got %v", result)
	}
	if logger.count("ERROR") == 0 {
		t.Error("expected panic to be logged")
	}

	// The dispatcher survives.
	d.Register("move", func(e Event) (any, error) { return "ok", nil })
	if _, err := d.Dispatch(Event{Command: "move"}); err != nil {
		t.Errorf("dispatcher broken after panic: %v", err)
	}
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	d.Register("snapshot", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return nil, nil
	}, Buffered(100))

	for i := 0; i < 3; i++ {
		result, err := d.Dispatch(Event{Command: "snapshot"})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result != "queued" {
			t.Errorf("expected 'queued', got %v", result)
		}
	}

	wg.Wait()

	if processed.Load() != 3 {
		t.Errorf("expected 3 processed, got %d", processed.Load())
	}
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	// Block the handler so queue fills up
	block := make(chan struct{})
	d.Register("snapshot", func(e Event) (any, error) {
		<-block
		return nil, nil
	}, Buffered(2))

	d.Dispatch(Event{Command: "snapshot"}) // being processed
	d.Dispatch(Event{Command: "snapshot"}) // queued
	d.Dispatch(Event{Command: "snapshot"}) // queued

	// This should be dropped
	_, err := d.Dispatch(Event{Command: "snapshot"})

	if err == nil {
		t.Error("expected error when queue is full")
	}

	close(block)
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	d.Register("snapshot", func(e Event) (any, error) {
		<-block
		return nil, nil
	}, Buffered(1), Blocking())

	// First event starts processing
	d.Dispatch(Event{Command: "snapshot"})
	// Second event fills the queue
	d.Dispatch(Event{Command: "snapshot"})

	// Third event should block (test with timeout)
	done := make(chan struct{})
	go func() {
		d.Dispatch(Event{Command: "snapshot"})
		close(done)
	}()

	select {
	case <-done:
		t.Error("dispatch should have blocked")
	case <-time.After(50 * time.Millisecond):
		// Expected - dispatch is blocking
	}

	close(block)
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("bounds", func(e Event) (any, error) {
		return "ok", nil
	}, Logged())

	d.Dispatch(Event{Command: "bounds", SessionID: "s1"})

	time.Sleep(10 * time.Millisecond)

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected at least 2 log messages, got %d", len(logger.messages))
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("validate", func(e Event) (any, error) {
		return nil, fmt.Errorf("test error")
	}, Logged())

	d.Dispatch(Event{Command: "validate"})

	if logger.count("ERROR") == 0 {
		t.Error("expected error log message")
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register("move", func(e Event) (any, error) { return nil, nil })

	if !d.HasHandler("move") {
		t.Error("expected handler to exist")
	}

	if d.HasHandler("teleport") {
		t.Error("expected handler to not exist")
	}
}

func TestDispatcher_CombinedOptions(t *testing.T) {
	d, logger := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	d.Register("snapshot", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return "done", nil
	}, Buffered(100), Logged())

	result, err := d.Dispatch(Event{Command: "snapshot"})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != "queued" {
		t.Errorf("expected 'queued', got %v", result)
	}

	wg.Wait()

	if processed.Load() != 1 {
		t.Errorf("expected 1 processed, got %d", processed.Load())
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected log messages, got %d", len(logger.messages))
	}
}
