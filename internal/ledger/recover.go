package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/roach88/atlas/internal/faults"
)

// recover scans the file, rebuilds the offset and id indexes, and truncates
// a torn or corrupt final record.
func (l *Ledger) recover() error {
	info, err := l.f.Stat()
	if err != nil {
		return faults.NewStorage("ledger.open", "stat ledger file", err)
	}
	size := info.Size()

	br := bufio.NewReader(io.NewSectionReader(l.f, 0, size))
	var (
		offset int64
		seq    uint64
	)
	for offset < size {
		line, rerr := br.ReadBytes('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return faults.NewStorage("ledger.open", "read ledger file", rerr)
		}
		end := offset + int64(len(line))
		final := end >= size

		var bad error
		switch {
		case len(line) == 0 || line[len(line)-1] != '\n':
			bad = errors.New("record not newline-terminated")
		default:
			ev, derr := decodeRecord(line, seq+1)
			switch {
			case derr != nil:
				bad = derr
			case l.ids[ev.EventID] != 0:
				bad = fmt.Errorf("event id %s repeated at sequence %d", ev.EventID, ev.Sequence)
			default:
				seq = ev.Sequence
				l.ids[ev.EventID] = seq
				l.offsets = append(l.offsets, end)
			}
		}

		if bad != nil {
			if !final {
				cause := faults.NewIntegrity("ledger.open", fmt.Sprintf("corrupt record at offset %d", offset), bad)
				return faults.NewStorage("ledger.open", "ledger corrupted before tail, rebuild impossible", cause)
			}
			return l.truncateTail(offset, size, seq, bad)
		}
		offset = end
	}

	l.seq.commit(seq)
	l.recovery = Recovery{Records: seq}
	return nil
}

func (l *Ledger) truncateTail(offset, size int64, seq uint64, reason error) error {
	if err := l.f.Truncate(offset); err != nil {
		return faults.NewStorage("ledger.open", "truncate torn tail", err)
	}
	if err := l.syncFile(l.f); err != nil {
		return faults.NewStorage("ledger.open", "sync after truncation", err)
	}

	l.seq.commit(seq)
	l.recovery = Recovery{
		Records:        seq,
		TruncatedBytes: size - offset,
		Reason:         reason.Error(),
	}
	l.logger.Warn("ledger tail truncated",
		zap.String("path", l.path),
		zap.Uint64("head", seq),
		zap.Int64("truncated_bytes", size-offset),
		zap.String("reason", reason.Error()))
	return nil
}
