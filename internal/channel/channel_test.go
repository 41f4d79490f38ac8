package channel

import (
	"testing"
	"time"
)

func TestChan_SendReceive(t *testing.T) {
	ch := Make[int](2)
	defer ch.Close()

	ch.Send(1)
	ch.Send(2)
	if ch.Len() != 2 {
		t.Errorf("expected 2 buffered, got %d", ch.Len())
	}

	if got := <-ch.Receive(); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	if got := <-ch.Receive(); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}

func TestChan_TrySendDropsWhenFull(t *testing.T) {
	ch := Make[int](1)
	defer ch.Close()

	if !ch.TrySend(1) {
		t.Error("expected first TrySend to succeed")
	}
	if ch.TrySend(2) {
		t.Error("expected TrySend to fail on full buffer")
	}

	<-ch.Receive()
	if !ch.TrySend(3) {
		t.Error("expected TrySend to succeed after drain")
	}
}

func TestRendezvous_TrySendNoReceiver(t *testing.T) {
	ch := Make[string](0)
	defer ch.Close()

	if ch.TrySend("dropped") {
		t.Error("expected TrySend to fail with no receiver")
	}

	ready := make(chan struct{})
	go func() {
		close(ready)
		if got := <-ch.Receive(); got != "delivered" {
			t.Errorf("expected delivered, got %s", got)
		}
	}()

	<-ready
	delivered := false
	for i := 0; i < 100 && !delivered; i++ {
		delivered = ch.TrySend("delivered")
		time.Sleep(time.Millisecond)
	}
	if !delivered {
		t.Error("expected TrySend to reach a waiting receiver")
	}
}

func TestNew_ReturnsChannel(t *testing.T) {
	var ch Channel[int] = New[int](4)
	defer ch.Close()

	ch.Send(7)
	if got := <-ch.Receive(); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}
