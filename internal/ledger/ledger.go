// Package ledger is the append-only, durable, strictly ordered event store.
//
// Records are stored one JSON object per line in a single file with the
// stable field order sequence, event_id, timestamp, kind, payload, checksum.
// The ledger is the only source of truth; everything else is derived.
//
// Thread-safety model:
//   - Append(): safe from any goroutine; appends are serialized
//   - Read()/Get()/Head(): safe from any goroutine; they see only the
//     committed prefix and never wait for an in-flight write to finish
//
// INVARIANTS:
//   - sequence numbers start at 1 and are contiguous
//   - a record is committed only after fsync returns
//   - a failed write is truncated away and consumes no sequence number
//   - committed records are never rewritten or removed
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/atlas/internal/faults"
	"github.com/roach88/atlas/internal/ir"
)

// DefaultFileName is the ledger file inside the ledger directory.
const DefaultFileName = "events.jsonl"

var (
	// ErrClosed is returned by operations on a closed ledger.
	ErrClosed = errors.New("ledger closed")

	// ErrDuplicateEventID is returned when an event id is already committed.
	ErrDuplicateEventID = errors.New("duplicate event id")
)

// Recovery describes what Open had to repair.
type Recovery struct {
	// Records is the number of intact records found.
	Records uint64

	// TruncatedBytes is the size of the torn or corrupt tail removed.
	TruncatedBytes int64

	// Reason explains the truncation.
	Reason string
}

// Truncated reports whether a tail record was discarded.
func (r Recovery) Truncated() bool {
	return r.TruncatedBytes > 0
}

// Ledger is a single-writer append-only event log.
type Ledger struct {
	appendMu sync.Mutex

	mu      sync.RWMutex
	offsets []int64 // offsets[i] is where record i+1 starts; last entry is end of file
	ids     map[string]uint64
	closed  bool
	broken  error

	// unsynced is set when a rolled-back tail was truncated but the
	// truncation is not yet known to be durable. Guarded by appendMu.
	unsynced bool

	f        *os.File // writer, O_APPEND
	rf       *os.File // reader; ReadAt only
	path     string
	seq      sequence
	logger   *zap.Logger
	syncFile func(*os.File) error
	recovery Recovery
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(led *Ledger) {
		if l != nil {
			led.logger = l
		}
	}
}

// WithFileName overrides DefaultFileName.
func WithFileName(name string) Option {
	return func(led *Ledger) {
		led.path = filepath.Join(filepath.Dir(led.path), name)
	}
}

// Open opens or creates the ledger in dir.
//
// Every record is verified. A torn or corrupt final record is truncated and
// reported through Recovery; corruption anywhere before the final record is
// a fatal storage error.
func Open(dir string, opts ...Option) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, faults.NewStorage("ledger.open", "create ledger dir", err)
	}

	l := &Ledger{
		path:     filepath.Join(dir, DefaultFileName),
		ids:      make(map[string]uint64),
		offsets:  []int64{0},
		logger:   zap.NewNop(),
		syncFile: (*os.File).Sync,
	}
	for _, opt := range opts {
		opt(l)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, faults.NewStorage("ledger.open", "open ledger file", err)
	}
	l.f = f

	if err := l.recover(); err != nil {
		f.Close()
		return nil, err
	}

	rf, err := os.Open(l.path)
	if err != nil {
		f.Close()
		return nil, faults.NewStorage("ledger.open", "open read handle", err)
	}
	l.rf = rf

	l.logger.Debug("ledger opened",
		zap.String("path", l.path),
		zap.Uint64("head", l.seq.current()))
	return l, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Recovery returns what Open repaired.
func (l *Ledger) Recovery() Recovery {
	return l.recovery
}

// Head returns the last committed sequence number, 0 when empty.
func (l *Ledger) Head() uint64 {
	return l.seq.current()
}

// Append makes ev durable and returns it sealed with its sequence number
// and checksum. Any sequence or checksum already set on ev is replaced.
//
// Append blocks until the record is fsynced. On failure the ledger is left
// exactly as it was and a DURABILITY error is returned.
func (l *Ledger) Append(ctx context.Context, ev ir.Event) (ir.Event, error) {
	if err := ctx.Err(); err != nil {
		return ir.Event{}, err
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	l.mu.RLock()
	closed, broken := l.closed, l.broken
	_, dup := l.ids[ev.EventID]
	start := l.offsets[len(l.offsets)-1]
	l.mu.RUnlock()

	if closed {
		return ir.Event{}, ErrClosed
	}
	if broken != nil {
		return ir.Event{}, broken
	}
	if dup {
		return ir.Event{}, fmt.Errorf("append %s: %w", ev.EventID, ErrDuplicateEventID)
	}

	if l.unsynced {
		if err := l.syncFile(l.f); err != nil {
			return ir.Event{}, faults.NewDurability("ledger.append", fmt.Errorf("sync rolled-back tail: %w", err))
		}
		l.unsynced = false
	}

	seq := l.seq.next()
	sealed, err := ev.Seal(seq)
	if err != nil {
		return ir.Event{}, fmt.Errorf("seal event %s: %w", ev.EventID, err)
	}
	line, err := ir.MarshalRecord(sealed)
	if err != nil {
		return ir.Event{}, err
	}

	if err := l.write(line); err != nil {
		l.rollback(start)
		return ir.Event{}, faults.NewDurability("ledger.append", err)
	}

	l.mu.Lock()
	l.offsets = append(l.offsets, start+int64(len(line)))
	l.ids[sealed.EventID] = seq
	l.seq.commit(seq)
	l.mu.Unlock()

	return sealed, nil
}

func (l *Ledger) write(line []byte) error {
	n, err := l.f.Write(line)
	if err != nil {
		return err
	}
	if n != len(line) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(line))
	}
	return l.syncFile(l.f)
}

// rollback truncates a failed write back to size. The ledger only refuses
// further appends when the file cannot be brought back to size; a failed
// fsync of the truncation is retried by the next Append.
func (l *Ledger) rollback(size int64) {
	err := l.f.Truncate(size)
	if err == nil {
		var info os.FileInfo
		if info, err = l.f.Stat(); err == nil && info.Size() != size {
			err = fmt.Errorf("file is %d bytes after truncating to %d", info.Size(), size)
		}
	}
	if err != nil {
		l.mu.Lock()
		l.broken = faults.NewStorage("ledger.append", "rollback after failed write", err)
		l.mu.Unlock()
		l.logger.Error("ledger rollback failed", zap.Int64("size", size), zap.Error(err))
		return
	}
	if serr := l.syncFile(l.f); serr != nil {
		l.unsynced = true
		l.logger.Warn("sync after rollback failed, retrying on next append", zap.Error(serr))
	}
}

// Read returns committed records with from <= sequence <= to, in order and
// without gaps. from 0 is treated as 1 and to is clamped to the head, so
// Read(ctx, 1, 0) returns nothing and Read(ctx, 1, math.MaxUint64) returns
// everything committed at the time of the call.
func (l *Ledger) Read(ctx context.Context, from, to uint64) ([]ir.Event, error) {
	if from == 0 {
		from = 1
	}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil, ErrClosed
	}
	head := uint64(len(l.offsets) - 1)
	if to > head {
		to = head
	}
	if from > to {
		l.mu.RUnlock()
		return []ir.Event{}, nil
	}
	span := make([]int64, to-from+2)
	copy(span, l.offsets[from-1:to+1])

	// The read lock is held across ReadAt so Close cannot release the
	// handle underneath us. Appends only need the write lock to publish.
	buf := make([]byte, span[len(span)-1]-span[0])
	_, err := l.rf.ReadAt(buf, span[0])
	l.mu.RUnlock()
	if err != nil {
		return nil, faults.NewStorage("ledger.read", "read committed records", err)
	}

	out := make([]ir.Event, 0, len(span)-1)
	for i := 0; i < len(span)-1; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seq := from + uint64(i)
		line := buf[span[i]-span[0] : span[i+1]-span[0]]
		ev, err := decodeRecord(line, seq)
		if err != nil {
			return nil, faults.NewIntegrity("ledger.read", fmt.Sprintf("record %d", seq), err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Get returns the committed record with the given event id.
func (l *Ledger) Get(ctx context.Context, eventID string) (ir.Event, bool, error) {
	l.mu.RLock()
	seq, ok := l.ids[eventID]
	l.mu.RUnlock()
	if !ok {
		return ir.Event{}, false, nil
	}
	evs, err := l.Read(ctx, seq, seq)
	if err != nil {
		return ir.Event{}, false, err
	}
	if len(evs) != 1 {
		return ir.Event{}, false, nil
	}
	return evs[0], true, nil
}

// Has reports whether eventID is committed.
func (l *Ledger) Has(eventID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[eventID]
	return ok
}

// Close releases the file. Subsequent operations return ErrClosed.
func (l *Ledger) Close() error {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return errors.Join(l.rf.Close(), l.f.Close())
}

// decodeRecord parses and verifies one line against its expected sequence.
func decodeRecord(line []byte, want uint64) (ir.Event, error) {
	trimmed := bytes.TrimSuffix(line, []byte("\n"))
	if len(bytes.TrimSpace(trimmed)) == 0 {
		return ir.Event{}, errors.New("empty record")
	}
	ev, err := ir.UnmarshalRecord(trimmed)
	if err != nil {
		return ir.Event{}, fmt.Errorf("decode: %w", err)
	}
	if ev.Sequence != want {
		return ir.Event{}, fmt.Errorf("sequence %d, expected %d", ev.Sequence, want)
	}
	if err := ev.Verify(); err != nil {
		return ir.Event{}, err
	}
	return ev, nil
}
