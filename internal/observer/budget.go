package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/atlas/internal/ir"
)

// Budget types recorded on ACCESS_LIMITATION_NOTED.
const (
	BudgetFiles    = "files"
	BudgetBytes    = "bytes"
	BudgetDuration = "duration"
	BudgetRate     = "rate"
)

// ErrExhausted is returned by Wait once the budget cannot admit another
// observation.
var ErrExhausted = errors.New("budget exhausted")

// Exhaustion describes the first limit a budget ran into. For the rate
// budget, Limit is the time that was left and Consumed the wait the
// limiter asked for, both in seconds.
type Exhaustion struct {
	Type     string
	Limit    int64
	Consumed int64
}

// Budget tracks one observer's consumption. Once any limit is reached it
// stays exhausted, and NoteExhausted records that fact exactly once.
//
// Thread-safety: Budget is safe for concurrent use.
type Budget struct {
	limits  Limits
	now     func() time.Time
	start   time.Time
	limiter *rate.Limiter

	mu        sync.Mutex
	files     int64
	bytes     int64
	exhausted *Exhaustion

	noted   sync.Once
	noteErr error
}

// NewBudget starts a budget clock at now().
func NewBudget(l Limits, now func() time.Time) *Budget {
	b := &Budget{limits: l, now: now, start: now()}
	if l.RatePerSecond > 0 {
		burst := l.Burst
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(l.RatePerSecond), burst)
	}
	return b
}

// Limits returns the configured limits.
func (b *Budget) Limits() Limits {
	return b.limits
}

// Wait blocks until the rate limiter admits one more observation. It
// returns ctx's error if cancelled first, and ErrExhausted, leaving the
// budget exhausted, when the wait would run past MaxDuration.
func (b *Budget) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.limiter == nil {
		return nil
	}

	now := b.now()
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return errors.New("budget: rate limiter cannot admit an observation")
	}
	delay := r.DelayFrom(now)
	if b.limits.MaxDuration > 0 {
		if left := b.limits.MaxDuration - now.Sub(b.start); delay > left {
			r.CancelAt(now)
			b.exhaust(Exhaustion{Type: BudgetRate, Limit: int64(max(left, 0) / time.Second), Consumed: ceilSeconds(delay)})
			return ErrExhausted
		}
	}
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.CancelAt(b.now())
		return ctx.Err()
	}
}

// exhaust records ex unless an earlier limit was already hit.
func (b *Budget) exhaust(ex Exhaustion) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exhausted == nil {
		b.exhausted = &ex
	}
}

func ceilSeconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}

// Consume charges files and bytes. It reports false, and the limit that
// was hit, when the charge does not fit; a failed charge is not applied.
func (b *Budget) Consume(files, bytes int64) (bool, Exhaustion) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.exhausted != nil {
		return false, *b.exhausted
	}

	var ex *Exhaustion
	switch elapsed := b.now().Sub(b.start); {
	case b.limits.MaxDuration > 0 && elapsed >= b.limits.MaxDuration:
		ex = &Exhaustion{Type: BudgetDuration, Limit: int64(b.limits.MaxDuration / time.Second), Consumed: int64(elapsed / time.Second)}
	case b.limits.MaxFiles > 0 && b.files+files > b.limits.MaxFiles:
		ex = &Exhaustion{Type: BudgetFiles, Limit: b.limits.MaxFiles, Consumed: b.files}
	case b.limits.MaxBytes > 0 && b.bytes+bytes > b.limits.MaxBytes:
		ex = &Exhaustion{Type: BudgetBytes, Limit: b.limits.MaxBytes, Consumed: b.bytes}
	}
	if ex != nil {
		b.exhausted = ex
		return false, *ex
	}

	b.files += files
	b.bytes += bytes
	return true, Exhaustion{}
}

// Consumed returns files and bytes charged so far.
func (b *Budget) Consumed() (files, bytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.files, b.bytes
}

// Exhausted reports the limit that was hit, if any.
func (b *Budget) Exhausted() (Exhaustion, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exhausted == nil {
		return Exhaustion{}, false
	}
	return *b.exhausted, true
}

// NoteExhausted appends one ACCESS_LIMITATION_NOTED describing the
// exhaustion. Later calls do nothing and return the first call's error.
func (b *Budget) NoteExhausted(ctx context.Context, h Handle, reason string) error {
	ex, ok := b.Exhausted()
	if !ok {
		return nil
	}
	b.noted.Do(func() {
		payload := ir.IRObject{
			"limitation_type": ir.IRString("budget_exhausted"),
			"budget_type":     ir.IRString(ex.Type),
			"limit":           ir.IRInt(ex.Limit),
			"consumed":        ir.IRInt(ex.Consumed),
		}
		if reason != "" {
			payload["reason"] = ir.IRString(reason)
		}
		c, err := ir.NewCandidate(h.NewEventID(), h.Now(), ir.KindAccessLimitationNoted, payload)
		if err != nil {
			b.noteErr = fmt.Errorf("budget: %w", err)
			return
		}
		_, b.noteErr = h.Append(ctx, c)
	})
	return b.noteErr
}
