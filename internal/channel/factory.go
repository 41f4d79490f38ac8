//go:build !debug

package channel

// New returns a channel buffered to size.
func New[T any](size int) Channel[T] {
	return Make[T](size)
}
