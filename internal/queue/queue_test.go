package queue

import (
	"sync"
	"testing"
)

// testItem stands in for the record types the pipeline queues.
type testItem struct {
	Seq  int
	Name string
}

func TestQueue_New(t *testing.T) {
	q := New[testItem]()
	if q == nil {
		t.Fatal("expected non-nil queue")
	}
	if !q.Empty() {
		t.Error("expected empty queue")
	}
	if q.Len() != 0 {
		t.Errorf("expected length 0, got %d", q.Len())
	}
}

func TestQueue_PushPop(t *testing.T) {
	q := New[testItem]()

	// Pop from empty queue returns zero value
	if got := q.Pop(); got.Seq != 0 || got.Name != "" {
		t.Errorf("expected zero value, got %+v", got)
	}

	q.Push(testItem{Seq: 1, Name: "first"})
	q.Push(testItem{Seq: 2}, testItem{Seq: 3})
	if q.Len() != 3 {
		t.Errorf("expected length 3, got %d", q.Len())
	}

	first := q.Pop()
	if first.Seq != 1 || first.Name != "first" {
		t.Errorf("expected {1, first}, got %+v", first)
	}
	if q.Len() != 2 {
		t.Errorf("expected length 2, got %d", q.Len())
	}
}

func TestQueue_Enqueue_Unbounded(t *testing.T) {
	q := New[int]()
	for i := 0; i < 1000; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("unbounded enqueue rejected item %d", i)
		}
	}
	if q.Len() != 1000 {
		t.Errorf("expected 1000 items, got %d", q.Len())
	}
	if q.Dropped() != 0 {
		t.Errorf("expected 0 dropped, got %d", q.Dropped())
	}
}

func TestQueue_Enqueue_DropsAtLimit(t *testing.T) {
	q := NewBounded[int](3)

	for i := 0; i < 3; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("enqueue %d rejected below limit", i)
		}
	}
	if q.Enqueue(99) {
		t.Error("expected enqueue to drop at limit")
	}
	if q.Enqueue(100) {
		t.Error("expected enqueue to drop at limit")
	}

	if q.Len() != 3 {
		t.Errorf("expected length 3, got %d", q.Len())
	}
	if q.Dropped() != 2 {
		t.Errorf("expected 2 dropped, got %d", q.Dropped())
	}

	// Draining frees capacity again
	q.DequeueBatch(2)
	if !q.Enqueue(4) {
		t.Error("expected enqueue to succeed after drain")
	}
}

func TestQueue_DequeueBatch(t *testing.T) {
	q := New[int]()
	for i := 1; i <= 5; i++ {
		q.Push(i)
	}

	batch := q.DequeueBatch(2)
	if len(batch) != 2 || batch[0] != 1 || batch[1] != 2 {
		t.Errorf("expected [1 2], got %v", batch)
	}

	// Asking for more than remains drains the rest
	batch = q.DequeueBatch(10)
	if len(batch) != 3 || batch[0] != 3 || batch[2] != 5 {
		t.Errorf("expected [3 4 5], got %v", batch)
	}

	if batch = q.DequeueBatch(10); batch != nil {
		t.Errorf("expected nil from empty queue, got %v", batch)
	}
}

func TestQueue_DequeueBatch_ZeroDrainsAll(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3)

	batch := q.DequeueBatch(0)
	if len(batch) != 3 {
		t.Errorf("expected all 3 items, got %v", batch)
	}
	if !q.Empty() {
		t.Error("expected empty queue after full drain")
	}
}

func TestQueue_Clear(t *testing.T) {
	q := New[testItem]()
	q.Push(testItem{Seq: 1}, testItem{Seq: 2})

	q.Clear()
	if !q.Empty() {
		t.Error("expected empty queue after Clear")
	}
	if q.Len() != 0 {
		t.Errorf("expected length 0, got %d", q.Len())
	}
}

func TestQueue_GetAndEmpty(t *testing.T) {
	q := New[testItem]()
	q.Push(testItem{Seq: 1}, testItem{Seq: 2}, testItem{Seq: 3})

	items := q.GetAndEmpty()
	if len(items) != 3 {
		t.Errorf("expected 3 items, got %d", len(items))
	}
	if !q.Empty() {
		t.Error("expected empty queue after GetAndEmpty")
	}
	if items[0].Seq != 1 || items[2].Seq != 3 {
		t.Errorf("expected items in FIFO order, got %+v", items)
	}
}

func TestQueue_ConcurrentEnqueueDequeue(t *testing.T) {
	q := NewBounded[int](10_000)
	var wg sync.WaitGroup

	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(base*1000 + i)
			}
		}(p)
	}

	var mu sync.Mutex
	var consumed int
	for c := 0; c < 2; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				batch := q.DequeueBatch(16)
				mu.Lock()
				consumed += len(batch)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	if total := consumed + q.Len(); total != 800 {
		t.Errorf("expected 800 items accounted for, got %d", total)
	}
	if q.Dropped() != 0 {
		t.Errorf("expected no drops below high-water mark, got %d", q.Dropped())
	}
}

func TestQueue_StringType(t *testing.T) {
	q := New[string]()
	q.Push("alpha", "beta")

	if got := q.Pop(); got != "alpha" {
		t.Errorf("expected alpha, got %s", got)
	}
	if got := q.Pop(); got != "beta" {
		t.Errorf("expected beta, got %s", got)
	}
}
