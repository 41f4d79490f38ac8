// Package channel wraps Go channels behind producer and consumer halves
// so session feeds can hand out read access without exposing the raw
// chan for writing.
package channel

// Receiver is the consumer half of a feed.
type Receiver[T any] interface {
	// Receive returns the channel to read from. It is closed when the
	// producer tears the feed down.
	Receive() <-chan T
	// Len reports how many values sit in the buffer unconsumed.
	Len() int
}

// Sender is the producer half.
type Sender[T any] interface {
	Send(T)
	TrySend(T) bool
}

// Channel combines both halves with ownership of the close.
type Channel[T any] interface {
	Receiver[T]
	Sender[T]
	Close()
}
