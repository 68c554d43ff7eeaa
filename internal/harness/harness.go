package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/atlas/internal/config"
	"github.com/roach88/atlas/internal/engine"
	"github.com/roach88/atlas/internal/faults"
	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/testutil"
	"github.com/roach88/atlas/internal/validate"
)

// ReactionPrefix prefixes the ids the harness assigns to reaction events.
const ReactionPrefix = "r"

// Harness runs one scenario against a real engine with a deterministic
// clock and id sequence.
type Harness struct {
	cfg    config.Config
	engine *engine.Engine
	clock  *testutil.StepClock
	ids    *testutil.SequentialIDs
	logger *zap.Logger
}

// Option configures Run.
type Option func(*Harness)

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// Run executes a scenario in a fresh temporary home and returns the
// result. Mismatches are reported in Result.Errors; the error return is
// reserved for failures to execute the scenario at all.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	dir, err := os.MkdirTemp("", "atlas-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario home: %w", err)
	}
	defer os.RemoveAll(dir)

	cfg, err := config.Load("", s.Config)
	if err != nil {
		return nil, fmt.Errorf("scenario config: %w", err)
	}
	cfg.Home = dir

	h := &Harness{
		cfg:    cfg,
		clock:  testutil.NewStepClock(testutil.Epoch, time.Second),
		ids:    testutil.NewSequentialIDs(ReactionPrefix),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}

	result := NewResult(s.Name)
	if err := h.open(ctx, result); err != nil {
		return nil, err
	}
	defer func() {
		if h.engine != nil {
			_ = h.engine.Close()
		}
	}()

	for i, step := range s.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	if head := h.engine.Head(); head > 0 {
		events, err := h.engine.Read(ctx, 1, head)
		if err != nil {
			return nil, fmt.Errorf("read ledger: %w", err)
		}
		result.Trace = traceOf(events)
	}
	result.State = h.engine.State()

	rejections, err := validate.ReadRejections(cfg.RejectLogPath())
	if err != nil {
		return nil, err
	}
	result.Rejections = len(rejections)

	for _, msg := range checkExpectation(result, s.Expect, h.engine.Head()) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) open(ctx context.Context, result *Result) error {
	e, err := engine.Open(ctx, h.cfg,
		engine.WithLogger(h.logger),
		engine.WithClock(h.clock),
		engine.WithIDGenerator(h.ids),
	)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	h.engine = e
	if e.LedgerRecovery().Truncated() {
		result.Truncated = true
	}
	if e.Recovery().Degraded {
		result.Degraded = true
	}
	return nil
}

func (h *Harness) reopen(ctx context.Context, result *Result, between func() error) error {
	if err := h.engine.Close(); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	h.engine = nil
	if between != nil {
		if err := between(); err != nil {
			return err
		}
	}
	return h.open(ctx, result)
}

func (h *Harness) execute(ctx context.Context, i int, st Step, result *Result) error {
	switch {
	case st.Candidate != nil:
		return h.submit(ctx, i, st, result)

	case st.Advance != "":
		d, err := time.ParseDuration(st.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)

	case st.Decay:
		if _, err := h.engine.ApplyDecay(ctx); err != nil {
			return fmt.Errorf("decay: %w", err)
		}

	case st.Checkpoint:
		if _, err := h.engine.Checkpoint(ctx); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}

	case st.TruncateLedger > 0:
		path := filepath.Join(h.cfg.LedgerDir(), h.cfg.Ledger.FileName)
		return h.reopen(ctx, result, func() error {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			return os.Truncate(path, max(info.Size()-st.TruncateLedger, 0))
		})

	case st.Reopen:
		return h.reopen(ctx, result, nil)
	}
	return nil
}

func (h *Harness) submit(ctx context.Context, i int, st Step, result *Result) error {
	c, err := st.Candidate.candidate()
	if err != nil {
		return err
	}
	rc, err := h.engine.Append(ctx, c)

	if st.ExpectError != "" {
		if err == nil {
			result.AddError(fmt.Sprintf("steps[%d] %s: expected %s error, append succeeded at sequence %d", i, c.EventID, st.ExpectError, rc.Sequence))
			return nil
		}
		if code := errorCode(err); code != st.ExpectError {
			result.AddError(fmt.Sprintf("steps[%d] %s: expected %s error, got %s (%v)", i, c.EventID, st.ExpectError, code, err))
		}
		var paths []string
		for _, v := range faults.ViolationsOf(err) {
			paths = append(paths, v.Path)
		}
		for _, want := range st.ExpectViolations {
			if !slices.Contains(paths, want) {
				result.AddError(fmt.Sprintf("steps[%d] %s: violation %s not reported, got %v", i, c.EventID, want, paths))
			}
		}
		return nil
	}

	if err != nil {
		result.AddError(fmt.Sprintf("steps[%d] %s: append failed: %v", i, c.EventID, err))
		return nil
	}
	if rc.Quarantined != st.ExpectQuarantined {
		result.AddError(fmt.Sprintf("steps[%d] %s: quarantined=%t, expected %t", i, c.EventID, rc.Quarantined, st.ExpectQuarantined))
	}
	if st.ExpectReactions != nil {
		got := make([]string, len(rc.Reactions))
		for j, ev := range rc.Reactions {
			got[j] = string(ev.Kind)
		}
		if !slices.Equal(got, st.ExpectReactions) {
			result.AddError(fmt.Sprintf("steps[%d] %s: reactions %v, expected %v", i, c.EventID, got, st.ExpectReactions))
		}
	}
	return nil
}

// errorCode names err for comparison with expect_error: a reaction error
// code, a fault code, or "UNKNOWN".
func errorCode(err error) string {
	var re *engine.ReactionError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	if code := faults.CodeOf(err); code != "" {
		return string(code)
	}
	return "UNKNOWN"
}

func checkExpectation(r *Result, want Expectation, head uint64) []string {
	var errs []string
	if want.Head != nil && *want.Head != head {
		errs = append(errs, fmt.Sprintf("head: got %d, expected %d", head, *want.Head))
	}
	if want.OpenConflicts != nil {
		open := 0
		for _, c := range r.State.Conflicts {
			if c.Open() {
				open++
			}
		}
		if open != *want.OpenConflicts {
			errs = append(errs, fmt.Sprintf("open conflicts: got %d, expected %d", open, *want.OpenConflicts))
		}
	}
	if want.Rejections != nil && r.Rejections != *want.Rejections {
		errs = append(errs, fmt.Sprintf("rejections: got %d, expected %d", r.Rejections, *want.Rejections))
	}
	if want.Truncated != nil && r.Truncated != *want.Truncated {
		errs = append(errs, fmt.Sprintf("truncated: got %t, expected %t", r.Truncated, *want.Truncated))
	}
	if want.Degraded != nil && r.Degraded != *want.Degraded {
		errs = append(errs, fmt.Sprintf("degraded: got %t, expected %t", r.Degraded, *want.Degraded))
	}

	ids := make([]string, 0, len(want.Artifacts))
	for id := range want.Artifacts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		errs = append(errs, checkArtifact(r.State.Artifact(id), id, want.Artifacts[id])...)
	}
	return errs
}

func checkArtifact(a *ir.Artifact, id string, want ArtifactExpectation) []string {
	if want.Absent {
		if a != nil {
			return []string{fmt.Sprintf("artifact %s: expected absent", id)}
		}
		return nil
	}
	if a == nil {
		return []string{fmt.Sprintf("artifact %s: not found", id)}
	}

	var errs []string
	mismatch := func(field string, got, expected any) {
		errs = append(errs, fmt.Sprintf("artifact %s: %s got %v, expected %v", id, field, got, expected))
	}
	if want.Lifecycle != "" && string(a.Lifecycle) != want.Lifecycle {
		mismatch("lifecycle", a.Lifecycle, want.Lifecycle)
	}
	if want.ContentHash != "" && a.Fingerprint.ContentHash != want.ContentHash {
		mismatch("content_hash", a.Fingerprint.ContentHash, want.ContentHash)
	}
	if want.Confidence != nil && int64(a.Confidence.Score) != *want.Confidence {
		mismatch("confidence", int64(a.Confidence.Score), *want.Confidence)
	}
	if want.Conflicted != nil && a.Conflicted != *want.Conflicted {
		mismatch("conflicted", a.Conflicted, *want.Conflicted)
	}
	if want.Ambiguous != nil && a.Ambiguous() != *want.Ambiguous {
		mismatch("ambiguous", a.Ambiguous(), *want.Ambiguous)
	}
	for group, tags := range want.Tags {
		for _, tag := range tags {
			if !slices.Contains(a.Tags[group], tag) {
				mismatch("tags."+group, a.Tags[group], tags)
				break
			}
		}
	}
	return errs
}
