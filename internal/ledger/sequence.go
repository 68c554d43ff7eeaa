package ledger

import "sync/atomic"

// sequence is the ledger's logical clock.
//
// Unlike a free-running counter it only moves on commit: the next number is
// peeked before a write and stored once the record is durable, so a failed
// write consumes nothing. Reads of the committed head are lock-free.
type sequence struct {
	head atomic.Uint64
}

// next returns the number the next committed record will carry.
func (s *sequence) next() uint64 {
	return s.head.Load() + 1
}

// commit publishes n as the committed head.
func (s *sequence) commit(n uint64) {
	s.head.Store(n)
}

// current returns the last committed sequence number (0 when empty).
func (s *sequence) current() uint64 {
	return s.head.Load()
}
