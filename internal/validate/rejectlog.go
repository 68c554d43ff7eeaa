package validate

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/atlas/internal/faults"
	"github.com/roach88/atlas/internal/ir"
)

// Rejection is one quarantined candidate.
type Rejection struct {
	RejectedAt time.Time          `json:"rejected_at"`
	Candidate  ir.Candidate       `json:"candidate"`
	Violations []faults.Violation `json:"violations"`
}

// RejectLog is an append-only JSONL quarantine file. Rejected candidates
// never enter the ledger and are never folded.
type RejectLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenRejectLog opens or creates the reject log at path.
func OpenRejectLog(path string) (*RejectLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create reject log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open reject log: %w", err)
	}
	return &RejectLog{path: path, f: f}, nil
}

// Path returns the file path.
func (r *RejectLog) Path() string {
	return r.path
}

// Append records a rejection durably.
func (r *RejectLog) Append(c ir.Candidate, violations []faults.Violation, at time.Time) error {
	line, err := json.Marshal(Rejection{RejectedAt: at.UTC(), Candidate: c, Violations: violations})
	if err != nil {
		return fmt.Errorf("marshal rejection: %w", err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return faults.NewDurability("rejectlog.append", errors.New("reject log closed"))
	}
	if _, err := r.f.Write(line); err != nil {
		return faults.NewDurability("rejectlog.append", err)
	}
	if err := r.f.Sync(); err != nil {
		return faults.NewDurability("rejectlog.append", err)
	}
	return nil
}

// Read returns every rejection in the log in write order. A torn final
// line is skipped.
func (r *RejectLog) Read() ([]Rejection, error) {
	return ReadRejections(r.path)
}

// ReadRejections reads the reject log at path.
func ReadRejections(path string) ([]Rejection, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []Rejection{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open reject log: %w", err)
	}
	defer f.Close()

	out := []Rejection{}
	br := bufio.NewReader(f)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			var rej Rejection
			if uerr := json.Unmarshal(line, &rej); uerr != nil {
				return nil, fmt.Errorf("decode rejection: %w", uerr)
			}
			out = append(out, rej)
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read reject log: %w", err)
		}
	}
}

// Close closes the log.
func (r *RejectLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
