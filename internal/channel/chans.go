// internal/channel/chans.go
package channel

// Chan is the one concrete implementation. Size 0 makes it a rendezvous
// channel: TrySend then only succeeds while a receiver is parked.
type Chan[T any] struct {
	ch chan T
}

var _ Channel[int] = (*Chan[int])(nil)

// Make builds a channel holding up to size values.
func Make[T any](size int) *Chan[T] {
	return &Chan[T]{ch: make(chan T, size)}
}

// Send delivers v, blocking while the buffer is full.
func (c *Chan[T]) Send(v T) {
	c.ch <- v
}

// TrySend delivers v without blocking and reports whether it was
// accepted. Feed fan-out uses this so one stalled consumer only loses
// its own frames.
func (c *Chan[T]) TrySend(v T) bool {
	select {
	case c.ch <- v:
		return true
	default:
		return false
	}
}

// Receive returns the read side.
func (c *Chan[T]) Receive() <-chan T {
	return c.ch
}

// Len reports the number of buffered values.
func (c *Chan[T]) Len() int {
	return len(c.ch)
}

// Close closes the channel. Only the producer may call this.
func (c *Chan[T]) Close() {
	close(c.ch)
}
