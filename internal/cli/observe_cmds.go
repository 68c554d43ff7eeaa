package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/atlas/internal/engine"
	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/observer"
	"github.com/roach88/atlas/internal/thread"
)

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <dir>",
		Short: "Observe every file under a directory once",
		Long: `Walks dir in lexical order and records ARTIFACT_SEEN and
FINGERPRINT_COMPUTED for every regular file it can read, and
ACCESS_LIMITATION_NOTED for what it cannot. Unless observer.interpret is
off, directories are recorded too, and tags, roles and contains relations
are proposed from each path. The walk is bounded by the
observer budget in the config; running out is recorded, not an error.

The scan is bracketed by SESSION_STARTED and SESSION_ENDED events.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObserve(cmd, rootOpts, args[0], false)
		},
	}
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>",
		Short: "Observe files under a directory as they change",
		Long: `Watches dir and every directory below it, and re-observes files when they
are created or written. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObserve(cmd, rootOpts, args[0], true)
		},
	}
}

func runObserve(cmd *cobra.Command, opts *RootOptions, dir string, watch bool) error {
	info, err := os.Stat(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot observe", err)
	}
	if !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s is not a directory", dir))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := opts.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	fsObs := &observer.FS{
		Root:        dir,
		MaxFileSize: s.cfg.Observer.MaxFileSize,
		Logger:      s.logger.Named("observer"),
	}
	if s.cfg.Observer.Interpret {
		fsObs.Interpreter = &thread.Interpreter{Logger: s.logger.Named(thread.Module)}
	}
	var obs observer.Observer = fsObs
	if watch {
		obs = &observer.Watcher{FS: fsObs}
	}

	session := s.engine.Handle("session")
	sessionID := session.NewEventID()
	before := s.engine.Head()
	if err := appendSession(ctx, session, sessionID, ir.KindSessionStarted, ir.IRObject{
		"session_id":  ir.IRString(sessionID),
		"description": ir.IRString(obs.Name() + " " + dir),
	}); err != nil {
		return s.out.Fail(ExitFailure, "failed to start session", err)
	}

	handles := func(module string) observer.Handle {
		return sessionHandle{Handle: s.engine.Handle(module), session: sessionID}
	}
	runErr := observer.Run(ctx, handles, []observer.Observer{obs},
		observer.LimitsFrom(s.cfg.Observer), s.cfg.Observer.Concurrency)
	if errors.Is(runErr, context.Canceled) {
		s.logger.Info("observation interrupted", zap.String("session", sessionID))
		runErr = nil
	}

	recorded := s.engine.Head() - before
	// The session end must be recorded even after an interrupt.
	endCtx := context.WithoutCancel(ctx)
	if err := appendSession(endCtx, session, sessionID, ir.KindSessionEnded, ir.IRObject{
		"session_id":      ir.IRString(sessionID),
		"events_recorded": ir.IRInt(recorded),
	}); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return s.out.Fail(ExitFailure, "observation failed", runErr)
	}

	data := map[string]any{
		"session_id":      sessionID,
		"root":            dir,
		"events_recorded": recorded,
		"head":            s.engine.Head(),
	}
	return s.out.Render(data, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "session %s: %d events recorded, head %d\n", sessionID, recorded, s.engine.Head())
		return err
	})
}

func appendSession(ctx context.Context, h *engine.Handle, sessionID string, kind ir.Kind, payload ir.IRObject) error {
	c, err := ir.NewCandidate(h.NewEventID(), h.Now(), kind, payload)
	if err != nil {
		return err
	}
	c.SessionID = sessionID
	_, err = h.Append(ctx, c)
	return err
}

// sessionHandle stamps the session id on everything an observer appends.
type sessionHandle struct {
	*engine.Handle
	session string
}

func (h sessionHandle) Append(ctx context.Context, c ir.Candidate) (uint64, error) {
	if c.SessionID == "" {
		c.SessionID = h.session
	}
	return h.Handle.Append(ctx, c)
}
