package engine

// DefaultMaxReactions bounds the reaction events one Append may produce.
const DefaultMaxReactions = 1000

// reactionQuota counts reaction events appended for one submitted event.
//
// The cycle guard stops a proposal from being appended twice; the quota
// stops long chains of distinct proposals. Together they bound every
// Append call.
type reactionQuota struct {
	limit   int
	current int
}

func newReactionQuota(limit int) *reactionQuota {
	return &reactionQuota{limit: limit}
}

// Check increments the counter and returns a REACTION_LIMIT error once
// the limit is passed.
func (q *reactionQuota) Check(cause string) error {
	q.current++
	if q.current > q.limit {
		return &ReactionError{
			Code:    ErrCodeReactionLimit,
			Message: "reaction limit exceeded",
			Cause:   cause,
			Details: map[string]int{"limit": q.limit},
		}
	}
	return nil
}

// Current returns the number of checks made.
func (q *reactionQuota) Current() int {
	return q.current
}
