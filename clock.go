package clockmesh

import "sync"

// Clock is a Lamport logical clock: a non-negative scalar that
// strictly increases on every observable event (send, receive,
// internal).
//
// The zero value is a zeroed clock ready to use. Every component of a
// Node mutates the clock through Advance and AdvanceTo only; handlers
// and the scheduler share it, hence the lock.
type Clock struct {
	lk  sync.Mutex
	now uint64
}

// Advance applies the local-event rule, c <- c + 1, and returns the
// new value.
func (c *Clock) Advance() uint64 {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.now++
	return c.now
}

// AdvanceTo applies the receive rule, c <- max(c, received) + 1, and
// returns the new value. The result is strictly greater than both the
// prior local value and received.
func (c *Clock) AdvanceTo(received uint64) uint64 {
	c.lk.Lock()
	defer c.lk.Unlock()
	if received > c.now {
		c.now = received
	}
	c.now++
	return c.now
}

// Now returns the current value without advancing it.
func (c *Clock) Now() uint64 {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.now
}
