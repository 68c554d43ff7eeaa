package engine

import "github.com/roach88/atlas/internal/ir"

// reactionQueue is the FIFO of proposals waiting to be appended during one
// Append call. It is owned by the appending goroutine and not shared.
type reactionQueue struct {
	items []ir.Proposal
}

func newReactionQueue() *reactionQueue {
	return &reactionQueue{items: make([]ir.Proposal, 0, 8)}
}

// Enqueue adds proposals to the back of the queue, preserving their order.
func (q *reactionQueue) Enqueue(ps ...ir.Proposal) {
	q.items = append(q.items, ps...)
}

// TryDequeue removes and returns the front proposal.
// Returns (ir.Proposal{}, false) if the queue is empty.
func (q *reactionQueue) TryDequeue() (ir.Proposal, bool) {
	if len(q.items) == 0 {
		return ir.Proposal{}, false
	}

	p := q.items[0]

	// Clear the slot so the payload can be collected.
	q.items[0] = ir.Proposal{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return p, true
}

// Len returns the current queue length.
func (q *reactionQueue) Len() int {
	return len(q.items)
}
