package transport

// Sink is a generic fire-and-forget transmission target that AsyncTx
// implements. The daemon framings hold their *AsyncTx[clock.Block] directly
// rather than through this interface.
type Sink[T any] interface {
	SendFrame(T) error
}

var _ Sink[[]byte] = (*AsyncTx[[]byte])(nil)
