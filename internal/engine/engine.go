package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/atlas/internal/confidence"
	"github.com/roach88/atlas/internal/config"
	"github.com/roach88/atlas/internal/conflict"
	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/ledger"
	"github.com/roach88/atlas/internal/projection"
	"github.com/roach88/atlas/internal/salience"
	"github.com/roach88/atlas/internal/schema"
	"github.com/roach88/atlas/internal/snapshot"
	"github.com/roach88/atlas/internal/validate"
)

// Engine is the single writer in front of the ledger.
//
// Thread-safety model:
//   - Append(), ApplyDecay(), Checkpoint(): serialized by appendMu
//   - State(), Snapshot(), Salience(): read the committed state under mu
//   - Read(), Project(), Head(): go straight to the ledger and never wait
//     for an in-flight append
//
// INVARIANTS:
//   - state always equals the fold of ledger events 1..state.Position
//   - state is mutated only while holding both appendMu and mu
//   - every event, reactions included, passes the validator before the ledger
type Engine struct {
	appendMu sync.Mutex
	mu       sync.RWMutex
	state    *projection.State
	closed   bool

	cfg        config.Config
	registry   *schema.Registry
	validator  *validate.Validator
	rejects    *validate.RejectLog
	ledger     *ledger.Ledger
	snapshots  *snapshot.Store
	confidence *confidence.Engine
	conflicts  *conflict.Detector
	salience   *salience.Cache
	ids        IDGenerator
	clock      Clock
	logger     *zap.Logger

	maxReactions    int
	sinceCheckpoint uint64
	recovery        snapshot.Recovery
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared with every component.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithIDGenerator sets the generator for reaction event ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithClock sets the clock for reaction timestamps and decay sweeps.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithMaxReactions bounds the reaction events per Append.
//
// Default: DefaultMaxReactions.
func WithMaxReactions(n int) Option {
	return func(e *Engine) {
		e.maxReactions = n
	}
}

// WithRegistry replaces the configured schema registry.
func WithRegistry(r *schema.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// Receipt describes the outcome of one Append.
type Receipt struct {
	// Sequence of the submitted event; 0 when it was quarantined.
	Sequence uint64
	EventID  string

	// Quarantined is set when lenient validation diverted the candidate
	// to the reject log.
	Quarantined bool

	// Reactions are the events appended in response, in ledger order.
	Reactions []ir.Event
}

// Open opens the ledger and recovers projected state from the snapshot
// and the ledger suffix. A snapshot that cannot be trusted is replaced by
// a full rebuild, reported through Recovery().Degraded.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:          cfg,
		ids:          UUIDv7Generator{},
		clock:        SystemClock{},
		logger:       zap.NewNop(),
		maxReactions: DefaultMaxReactions,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.registry == nil {
		reg, err := loadRegistry(cfg)
		if err != nil {
			return nil, err
		}
		e.registry = reg
	}

	mode, err := validate.ParseMode(cfg.Validation.Mode)
	if err != nil {
		return nil, err
	}
	vopts := []validate.Option{validate.WithLogger(e.logger), validate.WithNow(e.clock.Now)}
	if mode == validate.ModeLenient {
		rl, err := validate.OpenRejectLog(cfg.RejectLogPath())
		if err != nil {
			return nil, err
		}
		e.rejects = rl
		vopts = append(vopts, validate.WithRejectLog(rl))
	}
	if e.validator, err = validate.New(e.registry, mode, vopts...); err != nil {
		e.closeRejects()
		return nil, err
	}

	e.ledger, err = ledger.Open(cfg.LedgerDir(),
		ledger.WithLogger(e.logger),
		ledger.WithFileName(cfg.Ledger.FileName),
	)
	if err != nil {
		e.closeRejects()
		return nil, err
	}
	if r := e.ledger.Recovery(); r.Truncated() {
		e.logger.Warn("ledger tail truncated",
			zap.Int64("bytes", r.TruncatedBytes),
			zap.String("reason", r.Reason))
	}

	e.snapshots, err = snapshot.NewStore(cfg.SnapshotPath(), snapshot.WithLogger(e.logger))
	if err != nil {
		e.closeStorage()
		return nil, err
	}
	e.recovery, err = snapshot.Recover(ctx, e.snapshots, e.ledger)
	if err != nil {
		e.closeStorage()
		return nil, err
	}
	e.state = e.recovery.State
	e.sinceCheckpoint = e.state.Position - e.recovery.From

	e.confidence = confidence.New(cfg.Confidence, e.logger.Named("confidence"))
	e.conflicts = conflict.New(cfg.Conflict, e.logger.Named("conflict"))
	e.salience = salience.NewCache(cfg.Salience)

	e.logger.Info("engine opened",
		zap.String("ledger", e.ledger.Path()),
		zap.Uint64("head", e.state.Position),
		zap.Uint64("resumed_from", e.recovery.From),
		zap.Bool("degraded", e.recovery.Degraded))
	return e, nil
}

func loadRegistry(cfg config.Config) (*schema.Registry, error) {
	if p := cfg.RegistryPath(); p != "" {
		return schema.LoadFile(p)
	}
	return schema.Default()
}

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() config.Config {
	return e.cfg
}

// Registry returns the schema registry in use.
func (e *Engine) Registry() *schema.Registry {
	return e.registry
}

// Recovery reports how state was recovered at Open.
func (e *Engine) Recovery() snapshot.Recovery {
	r := e.recovery
	r.State = nil
	return r
}

// LedgerRecovery reports what the ledger repaired at Open.
func (e *Engine) LedgerRecovery() ledger.Recovery {
	return e.ledger.Recovery()
}

// Append validates c, makes it durable, folds it, and appends the
// conflict and confidence events it causes.
//
// In lenient mode an invalid candidate is quarantined and the receipt has
// Quarantined set. If a reaction fails the submitted event stays committed:
// the receipt is returned together with a *ReactionError.
func (e *Engine) Append(ctx context.Context, c ir.Candidate) (Receipt, error) {
	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	if e.isClosed() {
		return Receipt{}, ledger.ErrClosed
	}

	ev, ok, err := e.validator.Admit(c)
	if err != nil {
		return Receipt{}, err
	}
	if !ok {
		return Receipt{EventID: c.EventID, Quarantined: true}, nil
	}

	sealed, touched, err := e.commit(ctx, ev)
	if err != nil {
		return Receipt{}, err
	}
	rc := Receipt{Sequence: sealed.Sequence, EventID: sealed.EventID}

	rc.Reactions, err = e.react(ctx, sealed, touched)
	e.afterAppend(ctx, 1+len(rc.Reactions))
	return rc, err
}

// commit appends ev to the ledger and folds it into state.
func (e *Engine) commit(ctx context.Context, ev ir.Event) (ir.Event, []string, error) {
	sealed, err := e.ledger.Append(ctx, ev)
	if err != nil {
		return ir.Event{}, nil, err
	}

	e.mu.Lock()
	touched, err := projection.Apply(e.state, sealed)
	e.mu.Unlock()
	if err != nil {
		return ir.Event{}, nil, fmt.Errorf("fold %s: %w", sealed.EventID, err)
	}

	e.logger.Debug("event appended",
		zap.Uint64("sequence", sealed.Sequence),
		zap.String("event_id", sealed.EventID),
		zap.String("kind", string(sealed.Kind)))
	return sealed, touched, nil
}

// react appends the reactions to root until none remain.
//
// Each round first appends the conflicts the previous round's events
// introduce, then reassesses confidence for every artifact touched by a
// triggering event, conflicts included. Reactions are assessed at the
// root event's timestamp so the outcome does not depend on wall time.
func (e *Engine) react(ctx context.Context, root ir.Event, touched []string) ([]ir.Event, error) {
	now := root.Timestamp
	guard := newCycleGuard()
	quota := newReactionQuota(e.maxReactions)
	queue := newReactionQueue()

	var out []ir.Event
	batch := []ir.Event{root}
	var reassess []string
	if confidence.Triggers(root.Kind) {
		reassess = touched
	}

	for len(batch) > 0 {
		var next []ir.Event
		var nextReassess []string

		queue.Enqueue(e.conflicts.Propose(e.state, batch)...)
		for queue.Len() > 0 {
			p, _ := queue.TryDequeue()
			ev, ids, err := e.emit(ctx, root, p, guard, quota)
			if err != nil {
				return out, err
			}
			if ev == nil {
				continue
			}
			out = append(out, *ev)
			next = append(next, *ev)
			if confidence.Triggers(ev.Kind) {
				reassess = append(reassess, ids...)
			}
		}

		queue.Enqueue(e.confidence.React(e.state, reassess, now)...)
		for queue.Len() > 0 {
			p, _ := queue.TryDequeue()
			ev, ids, err := e.emit(ctx, root, p, guard, quota)
			if err != nil {
				return out, err
			}
			if ev == nil {
				continue
			}
			out = append(out, *ev)
			next = append(next, *ev)
			if confidence.Triggers(ev.Kind) {
				nextReassess = append(nextReassess, ids...)
			}
		}

		batch, reassess = next, nextReassess
	}
	return out, nil
}

// emit appends one proposal. It returns a nil event when the guard drops
// the proposal as a repeat.
func (e *Engine) emit(ctx context.Context, root ir.Event, p ir.Proposal, guard *cycleGuard, quota *reactionQuota) (*ir.Event, []string, error) {
	key, err := proposalKey(p)
	if err != nil {
		return nil, nil, &ReactionError{Code: ErrCodeReactionInvalid, Message: "unencodable payload", Cause: root.EventID, Kind: string(p.Kind), Err: err}
	}
	if guard.WouldCycle(key) {
		e.logger.Debug("reaction dropped as repeat", zap.String("kind", string(p.Kind)), zap.String("cause", root.EventID))
		return nil, nil, nil
	}
	if err := quota.Check(root.EventID); err != nil {
		e.logger.Warn("reaction limit reached", zap.String("cause", root.EventID), zap.Int("limit", e.maxReactions))
		return nil, nil, err
	}

	c, err := p.Candidate(e.ids.Generate(), e.clock.Now())
	if err != nil {
		return nil, nil, &ReactionError{Code: ErrCodeReactionInvalid, Message: "build candidate", Cause: root.EventID, Kind: string(p.Kind), Err: err}
	}
	ev, err := e.validator.Validate(c)
	if err != nil {
		return nil, nil, &ReactionError{Code: ErrCodeReactionInvalid, Message: "proposal failed validation", Cause: root.EventID, Kind: string(p.Kind), Err: err}
	}
	sealed, touched, err := e.commit(ctx, ev)
	if err != nil {
		return nil, nil, &ReactionError{Code: ErrCodeReactionAppend, Message: "append reaction", Cause: root.EventID, Kind: string(p.Kind), Err: err}
	}
	guard.Record(key)

	e.logger.Debug("reaction appended",
		zap.String("module", p.Module),
		zap.String("kind", string(sealed.Kind)),
		zap.Uint64("sequence", sealed.Sequence),
		zap.String("cause", root.EventID))
	return &sealed, touched, nil
}

// afterAppend takes an automatic snapshot once the interval is reached.
// A failed snapshot is logged; the ledger remains the source of truth.
func (e *Engine) afterAppend(ctx context.Context, n int) {
	e.sinceCheckpoint += uint64(n)
	interval := e.cfg.Snapshot.Interval
	if interval == 0 || e.sinceCheckpoint < interval {
		return
	}
	if err := e.checkpoint(ctx); err != nil {
		e.logger.Warn("automatic snapshot failed", zap.Error(err))
	}
}

// ApplyDecay runs the freshness decay sweep at the clock's current time
// and returns the FRESHNESS_DECAY_APPLIED events appended.
func (e *Engine) ApplyDecay(ctx context.Context) ([]ir.Event, error) {
	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	if e.isClosed() {
		return nil, ledger.ErrClosed
	}

	root := ir.Event{EventID: "decay-sweep", Timestamp: e.clock.Now()}
	guard := newCycleGuard()
	quota := newReactionQuota(e.maxReactions)

	var out []ir.Event
	for _, p := range e.confidence.Decay(e.state, root.Timestamp) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ev, _, err := e.emit(ctx, root, p, guard, quota)
		if err != nil {
			return out, err
		}
		if ev != nil {
			out = append(out, *ev)
		}
	}
	e.afterAppend(ctx, len(out))
	return out, nil
}

// Checkpoint saves a snapshot of the current state.
func (e *Engine) Checkpoint(ctx context.Context) (uint64, error) {
	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	if e.isClosed() {
		return 0, ledger.ErrClosed
	}
	if err := e.checkpoint(ctx); err != nil {
		return 0, err
	}
	return e.state.Position, nil
}

// checkpoint requires appendMu.
func (e *Engine) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.snapshots.Save(e.state.Position, e.state); err != nil {
		return err
	}
	e.sinceCheckpoint = 0
	e.logger.Debug("snapshot saved", zap.Uint64("position", e.state.Position))
	return nil
}

// Read returns committed events with from <= sequence <= to.
func (e *Engine) Read(ctx context.Context, from, to uint64) ([]ir.Event, error) {
	return e.ledger.Read(ctx, from, to)
}

// Project folds the ledger from scratch through upto (0 means head). It
// never consults the snapshot.
func (e *Engine) Project(ctx context.Context, upto uint64) (*projection.State, error) {
	return projection.Project(ctx, e.ledger, upto)
}

// Head returns the last committed sequence number.
func (e *Engine) Head() uint64 {
	return e.ledger.Head()
}

// State returns a copy of the current projected state.
func (e *Engine) State() *projection.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}

// Snapshot returns the current state with the position and ledger checksum
// it corresponds to, without writing anything.
func (e *Engine) Snapshot() snapshot.Snapshot {
	s := e.State()
	return snapshot.Snapshot{Position: s.Position, LedgerChecksum: s.Checksum, State: s}
}

// Salience scores every artifact in the current state against the state
// at prior (0 means the empty state). Nothing is written.
func (e *Engine) Salience(ctx context.Context, prior uint64) ([]salience.Score, error) {
	current := e.State()
	before, err := e.priorState(ctx, prior, current.Position)
	if err != nil {
		return nil, err
	}
	return e.salience.ScoreAll(ctx, current, before)
}

// SalienceOf scores one artifact like Salience.
func (e *Engine) SalienceOf(ctx context.Context, artifactID string, prior uint64) (salience.Score, error) {
	current := e.State()
	before, err := e.priorState(ctx, prior, current.Position)
	if err != nil {
		return salience.Score{}, err
	}
	return e.salience.Score(current, before, artifactID)
}

func (e *Engine) priorState(ctx context.Context, prior, current uint64) (*projection.State, error) {
	if prior == 0 {
		return projection.New(), nil
	}
	if prior > current {
		return nil, fmt.Errorf("salience: prior position %d is beyond current %d", prior, current)
	}
	return e.Project(ctx, prior)
}

// Handle returns an append capability attributed to module.
func (e *Engine) Handle(module string) *Handle {
	return &Handle{engine: e, module: module}
}

// Close closes the ledger and the reject log. It does not snapshot.
func (e *Engine) Close() error {
	e.appendMu.Lock()
	defer e.appendMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.salience.Purge()
	return e.closeStorage()
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *Engine) closeStorage() error {
	var errs []error
	if e.ledger != nil {
		errs = append(errs, e.ledger.Close())
	}
	errs = append(errs, e.closeRejects())
	return errors.Join(errs...)
}

func (e *Engine) closeRejects() error {
	if e.rejects == nil {
		return nil
	}
	return e.rejects.Close()
}
