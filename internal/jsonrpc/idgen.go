package jsonrpc

import "sync/atomic"

// IDGenerator mints dense, monotonically increasing request ids for a
// single connector, as spec'd for the base connector's pending-request
// map (arena-and-index: a request id is just the next integer).
type IDGenerator struct {
	counter atomic.Int64
}

// Next returns the next id, starting at 1.
func (g *IDGenerator) Next() ID {
	return NewID(g.counter.Add(1))
}
