package observer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/thread"
)

// HashPrefix marks content hashes computed by FS.
const HashPrefix = "sha256:"

// FS observes regular files under Root. It records what it can read and
// records what it cannot as limitations; it never writes to the tree.
type FS struct {
	Root string

	// MaxFileSize skips hashing files larger than this. Zero means no limit.
	MaxFileSize int64

	// Interpreter, when set, proposes tags and roles for every file seen.
	// Directories are then recorded as artifacts too, each with a
	// contains relation to the entries directly inside it.
	Interpreter *thread.Interpreter

	Logger *zap.Logger
}

// Name implements Observer.
func (o *FS) Name() string {
	return "fs"
}

// ArtifactID derives a stable artifact id from a locator.
func ArtifactID(locator string) string {
	sum := sha256.Sum256([]byte(locator))
	return "fs-" + hex.EncodeToString(sum[:12])
}

// Observe walks Root in lexical order. It stops early, after noting the
// exhaustion once, when the budget runs out.
func (o *FS) Observe(ctx context.Context, h Handle, b *Budget) error {
	root, err := filepath.Abs(o.Root)
	if err != nil {
		return fmt.Errorf("fs: resolve root: %w", err)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			return o.limitation(ctx, h, "", classify(walkErr), walkErr.Error())
		}
		var (
			id  string
			err error
		)
		switch {
		case d.IsDir() && o.Interpreter != nil:
			id, err = o.observeDir(ctx, h, path)
		case d.Type().IsRegular():
			id, err = o.observeFile(ctx, h, b, path)
		default:
			return nil
		}
		if err != nil || id == "" || path == root || o.Interpreter == nil {
			return err
		}
		parent := ArtifactID(filepath.ToSlash(filepath.Dir(path)))
		return o.Interpreter.Contains(ctx, h, parent, id)
	})
	if errors.Is(err, ErrExhausted) {
		return nil
	}
	return err
}

// observeDir records a directory. Directories are not charged to the
// budget; their entries are.
func (o *FS) observeDir(ctx context.Context, h Handle, path string) (string, error) {
	locator := filepath.ToSlash(path)
	id := ArtifactID(locator)
	err := o.append(ctx, h, ir.KindArtifactSeen, ir.IRObject{
		"artifact_id":   ir.IRString(id),
		"locator":       ir.IRString(locator),
		"artifact_kind": ir.IRString("local"),
		"source_type":   ir.IRString("filesystem"),
		"access_scope":  ir.IRString("metadata_only"),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// observeFile records one file: ARTIFACT_SEEN, then FINGERPRINT_COMPUTED
// or an ACCESS_LIMITATION_NOTED explaining why it could not be hashed.
// It returns the artifact id once the file has been seen.
func (o *FS) observeFile(ctx context.Context, h Handle, b *Budget, path string) (string, error) {
	if err := b.Wait(ctx); err != nil {
		if errors.Is(err, ErrExhausted) {
			return "", o.stop(ctx, h, b, path)
		}
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", o.limitation(ctx, h, "", classify(err), err.Error())
	}
	size := info.Size()
	oversize := o.MaxFileSize > 0 && size > o.MaxFileSize

	charge := size
	if oversize {
		charge = 0
	}
	if ok, _ := b.Consume(1, charge); !ok {
		return "", o.stop(ctx, h, b, path)
	}

	locator := filepath.ToSlash(path)
	id := ArtifactID(locator)
	if err := o.append(ctx, h, ir.KindArtifactSeen, ir.IRObject{
		"artifact_id":   ir.IRString(id),
		"locator":       ir.IRString(locator),
		"artifact_kind": ir.IRString("local"),
		"source_type":   ir.IRString("filesystem"),
		"access_scope":  ir.IRString("read_only"),
		"size_bytes":    ir.IRInt(size),
	}); err != nil {
		return "", err
	}

	if oversize {
		err = o.limitation(ctx, h, id, "too_large",
			fmt.Sprintf("%d bytes exceeds %d", size, o.MaxFileSize))
	} else {
		err = o.fingerprint(ctx, h, id, path)
	}
	if err != nil {
		return "", err
	}
	if o.Interpreter != nil {
		if err := o.Interpreter.Artifact(ctx, h, id, o.relative(path)); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (o *FS) fingerprint(ctx context.Context, h Handle, id, path string) error {
	hash, n, entropy, err := digestFile(path)
	if err != nil {
		return o.limitation(ctx, h, id, classify(err), err.Error())
	}
	return o.append(ctx, h, ir.KindFingerprintComputed, ir.IRObject{
		"artifact_id":       ir.IRString(id),
		"content_hash":      ir.IRString(hash),
		"size_bytes":        ir.IRInt(n),
		"entropy_millibits": ir.IRInt(entropy),
	})
}

// relative returns path relative to Root in slash form, or path itself
// when it is not below Root.
func (o *FS) relative(path string) string {
	root, err := filepath.Abs(o.Root)
	if err == nil {
		if rel, err := filepath.Rel(root, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

// stop records the budget exhaustion that ended the walk at path and
// returns ErrExhausted.
func (o *FS) stop(ctx context.Context, h Handle, b *Budget, path string) error {
	ex, _ := b.Exhausted()
	o.logger().Info("budget exhausted", zap.String("budget", ex.Type), zap.Int64("limit", ex.Limit))
	if err := b.NoteExhausted(ctx, h, "fs observer stopped at "+filepath.ToSlash(path)); err != nil {
		return err
	}
	return ErrExhausted
}

func (o *FS) limitation(ctx context.Context, h Handle, artifactID, typ, reason string) error {
	payload := ir.IRObject{
		"limitation_type": ir.IRString(typ),
		"reason":          ir.IRString(reason),
	}
	if artifactID != "" {
		payload["artifact_id"] = ir.IRString(artifactID)
	}
	return o.append(ctx, h, ir.KindAccessLimitationNoted, payload)
}

func (o *FS) append(ctx context.Context, h Handle, kind ir.Kind, payload ir.IRObject) error {
	c, err := ir.NewCandidate(h.NewEventID(), h.Now(), kind, payload)
	if err != nil {
		return err
	}
	_, err = h.Append(ctx, c)
	return err
}

func (o *FS) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func classify(err error) string {
	if errors.Is(err, fs.ErrPermission) {
		return "permission_denied"
	}
	return "read_error"
}

// digestFile streams path once, returning its sha256, size and Shannon
// entropy in millibits per byte.
func digestFile(path string) (string, int64, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, 0, err
	}
	defer f.Close()

	h := sha256.New()
	var counts [256]int64
	buf := make([]byte, 32*1024)
	var n int64
	for {
		k, err := f.Read(buf)
		if k > 0 {
			h.Write(buf[:k])
			for _, c := range buf[:k] {
				counts[c]++
			}
			n += int64(k)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, 0, err
		}
	}
	return HashPrefix + hex.EncodeToString(h.Sum(nil)), n, EntropyMillibits(counts, n), nil
}

// EntropyMillibits is the Shannon entropy of a byte histogram, in
// thousandths of a bit per byte (0 to 8000).
func EntropyMillibits(counts [256]int64, total int64) int64 {
	if total == 0 {
		return 0
	}
	var bits float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		bits -= p * math.Log2(p)
	}
	return int64(math.Round(bits * 1000))
}
