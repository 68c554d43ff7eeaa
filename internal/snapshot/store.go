// Package snapshot persists projected state so startup can skip most of the
// fold. Snapshots are disposable: a missing or untrustworthy snapshot only
// costs a rebuild from the ledger.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/roach88/atlas/internal/faults"
	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/projection"
)

// DefaultFileName is the snapshot file inside the snapshot directory.
const DefaultFileName = "snapshot.json"

// ErrNoSnapshot is returned by Load when no snapshot has been saved.
var ErrNoSnapshot = errors.New("no snapshot")

// record is the on-disk layout.
type record struct {
	LedgerPosition uint64          `json:"ledger_position"`
	LedgerChecksum string          `json:"ledger_checksum"`
	ProjectedState json.RawMessage `json:"projected_state"`
	Checksum       string          `json:"checksum"`
}

// Snapshot is a loaded, checksum-verified snapshot.
type Snapshot struct {
	// Position is the ledger position the state was folded through.
	Position uint64

	// LedgerChecksum is the checksum of the ledger event at Position.
	LedgerChecksum string

	State *projection.State
}

// Store saves and loads a single snapshot file.
type Store struct {
	path   string
	logger *zap.Logger

	// beforeRename runs after the temp file is durable and before it
	// replaces the live snapshot. Tests use it to simulate a crash.
	beforeRename func(tmp string) error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for save and fallback messages.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns a store writing to path. The parent directory is created
// on first save.
func NewStore(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("snapshot: path is required")
	}
	s := &Store{path: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes state as the snapshot for position. The previous snapshot is
// replaced only once the new one is fully on disk; a crash at any point
// leaves either the old or the new snapshot loadable.
func (s *Store) Save(position uint64, state *projection.State) error {
	if state == nil {
		return errors.New("snapshot: nil state")
	}
	if state.Position != position {
		return fmt.Errorf("snapshot: state is at position %d, not %d", state.Position, position)
	}

	encoded, err := state.Encode()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	rec := record{
		LedgerPosition: position,
		LedgerChecksum: state.Checksum,
		ProjectedState: encoded,
	}
	rec.Checksum = checksum(rec)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}
	if err := s.writeAtomic(append(data, '\n')); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", s.path, err)
	}

	s.logger.Debug("snapshot saved",
		zap.Uint64("position", position),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// Load reads and verifies the snapshot. It returns ErrNoSnapshot when none
// exists and an INTEGRITY error when the file is unreadable, truncated or
// fails its checksum.
func (s *Store) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, faults.NewIntegrity("snapshot.load", "snapshot unreadable", err)
	}

	var rec record
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return Snapshot{}, faults.NewIntegrity("snapshot.load", "snapshot is not valid JSON", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Snapshot{}, faults.NewIntegrity("snapshot.load", "trailing content after snapshot", nil)
	}

	if want := checksum(rec); rec.Checksum != want {
		return Snapshot{}, faults.NewIntegrity("snapshot.load",
			fmt.Sprintf("checksum mismatch: stored %s, computed %s", rec.Checksum, want), nil)
	}

	state, err := projection.Decode(rec.ProjectedState)
	if err != nil {
		return Snapshot{}, faults.NewIntegrity("snapshot.load", "projected state does not decode", err)
	}
	if state.Position != rec.LedgerPosition || state.Checksum != rec.LedgerChecksum {
		return Snapshot{}, faults.NewIntegrity("snapshot.load",
			fmt.Sprintf("state header (position %d) disagrees with snapshot header (position %d)", state.Position, rec.LedgerPosition), nil)
	}

	return Snapshot{
		Position:       rec.LedgerPosition,
		LedgerChecksum: rec.LedgerChecksum,
		State:          state,
	}, nil
}

// Remove deletes the snapshot file. Removing a missing snapshot is not an
// error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("snapshot: remove: %w", err)
	}
	return nil
}

// checksum covers the header fields and the exact state bytes.
func checksum(rec record) string {
	var b bytes.Buffer
	b.WriteString(strconv.FormatUint(rec.LedgerPosition, 10))
	b.WriteByte(0)
	b.WriteString(rec.LedgerChecksum)
	b.WriteByte(0)
	b.Write(rec.ProjectedState)
	return ir.HashWithDomain(ir.DomainSnapshot, b.Bytes())
}

// writeAtomic writes data to a temp file in the target directory, syncs it,
// renames it over the target and syncs the directory.
func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if s.beforeRename != nil {
		if err := s.beforeRename(tmpName); err != nil {
			return err
		}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}
	committed = true
	return syncDir(dir)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
