package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/gdrive-go/internal/config"
	"github.com/tonimelisma/gdrive-go/internal/drive"
	"github.com/tonimelisma/gdrive-go/internal/metrics"
	"github.com/tonimelisma/gdrive-go/internal/provider"
	"github.com/tonimelisma/gdrive-go/internal/state"
)

// flagMetricsAddr is the changes flag that overrides metrics.listen_addr.
const flagMetricsAddr = "metrics-addr"

// metricsShutdownTimeout bounds how long the metrics server may drain.
const metricsShutdownTimeout = 5 * time.Second

// metricsReadHeaderTimeout guards the metrics endpoint against slow clients.
const metricsReadHeaderTimeout = 10 * time.Second

func newChangesCmd() *cobra.Command {
	var opts changesOptions

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Print changes since the last committed cursor",
		Long: `Print the changes recorded by Drive since the cursor committed by the
previous run, then commit the new cursor. The first run only records a
starting point.

With --follow the command keeps polling every changes.poll_interval until
interrupted, and serves Prometheus metrics when metrics.listen_addr (or
--metrics-addr) is set. Only one follower per state database may run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChanges(cmd.Context(), mustCLIContext(cmd.Context()), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "keep polling until interrupted")
	cmd.Flags().BoolVar(&opts.reset, "reset", false, "discard the saved cursor and start from now")
	cmd.Flags().BoolVar(&opts.paths, "paths", false, "resolve the current path of each changed object")
	cmd.Flags().String(flagMetricsAddr, "", "serve Prometheus metrics on this address (with --follow)")

	return cmd
}

type changesOptions struct {
	follow bool
	reset  bool
	paths  bool
}

// changeSource is the change-feed side of the provider.
type changeSource interface {
	Connect(ctx context.Context) (string, error)
	Connected() bool
	CurrentCursor(ctx context.Context) (string, error)
	Events(ctx context.Context) iter.Seq2[provider.Event, error]
}

// cursorStore persists committed cursors per account.
type cursorStore interface {
	SaveCursor(ctx context.Context, account, cursor string) error
}

var _ changeSource = (*provider.Provider)(nil)

func runChanges(ctx context.Context, cc *CLIContext, opts changesOptions) error {
	logger := cc.Logger
	statePath := cc.Cfg.Changes.StateDB

	if opts.follow {
		lock, err := acquireFollowerLock(statePath)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	store, err := state.Open(ctx, statePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	p, err := openProvider(ctx, cc, m)
	if err != nil {
		return err
	}
	defer p.Disconnect()

	account := p.ConnectionID()

	if err := restoreCursor(ctx, p, store, account, opts.reset, logger); err != nil {
		return err
	}

	var resolver pathResolver
	if opts.paths {
		resolver = p
	}

	emit := newEventEmitter(cc, resolver)

	if !opts.follow {
		n, err := pollOnce(ctx, p, store, account, emit)
		if err != nil {
			return err
		}

		cc.Statusf("%d change(s)\n", n)

		return nil
	}

	ctx, stop := followerContext(ctx, logger)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	intervals := make(chan time.Duration, 1)

	g.Go(func() error {
		return followChanges(gctx, p, store, account, cc.Cfg.Changes.PollDuration(), intervals, emit, logger)
	})

	g.Go(func() error {
		watchConfig(gctx, cc, intervals)
		return nil
	})

	if addr := cc.Cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, addr, m.Handler(), logger)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("change follower stopped", slog.String("cause", context.Cause(ctx).Error()))

		return nil
	}

	return err
}

// cursorLoader is the read side of the state store.
type cursorLoader interface {
	LoadCursor(ctx context.Context, account string) (string, error)
	DeleteCursor(ctx context.Context, account string) (bool, error)
}

// cursorSetter accepts a resumed cursor.
type cursorSetter interface {
	SetCursor(ctx context.Context, cursor string) error
}

// restoreCursor resumes from the saved cursor. A corrupt saved cursor is
// discarded so the follower starts from now instead of failing forever.
func restoreCursor(ctx context.Context, p cursorSetter, store cursorLoader, account string, reset bool, logger *slog.Logger) error {
	if reset {
		removed, err := store.DeleteCursor(ctx, account)
		if err != nil {
			return err
		}

		logger.Info("cursor reset", slog.String("account", account), slog.Bool("removed", removed))

		return nil
	}

	cursor, err := store.LoadCursor(ctx, account)
	if err != nil {
		return err
	}

	if cursor == "" {
		logger.Info("no saved cursor, starting from now", slog.String("account", account))

		return nil
	}

	err = p.SetCursor(ctx, cursor)
	if errors.Is(err, provider.ErrInvalidCursor) {
		logger.Warn("discarding invalid saved cursor",
			slog.String("account", account),
			slog.String("error", err.Error()),
		)

		_, err = store.DeleteCursor(ctx, account)
	}

	return err
}

// pollOnce drains the change feed and commits the provider's cursor once
// every event was emitted. If emit fails partway, nothing is committed and
// the next poll sees the same events again.
func pollOnce(
	ctx context.Context, src changeSource, store cursorStore, account string,
	emit func(context.Context, provider.Event) error,
) (int, error) {
	n := 0

	for ev, err := range src.Events(ctx) {
		if err != nil {
			return n, err
		}

		if err := emit(ctx, ev); err != nil {
			return n, fmt.Errorf("emitting change %s: %w", ev.ID, err)
		}

		n++
	}

	cursor, err := src.CurrentCursor(ctx)
	if err != nil {
		return n, err
	}

	if err := store.SaveCursor(ctx, account, cursor); err != nil {
		return n, err
	}

	return n, nil
}

// followChanges polls every interval until ctx is done. Transient and
// network failures are logged and retried on the next tick, reconnecting
// first when the session was dropped. Anything else ends the loop. A value
// received on intervals replaces the poll interval from the next tick on.
func followChanges(
	ctx context.Context, src changeSource, store cursorStore, account string,
	interval time.Duration, intervals <-chan time.Duration,
	emit func(context.Context, provider.Event) error, logger *slog.Logger,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("following changes", slog.String("account", account), slog.Duration("interval", interval))

	for {
		err := pollFollowing(ctx, src, store, account, emit, logger)

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case retryable(err):
			logger.Warn("change poll failed, retrying", slog.String("error", err.Error()))
		case err != nil:
			return err
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case d := <-intervals:
				if d != interval {
					logger.Info("poll interval changed", slog.Duration("interval", d))
					interval = d
					ticker.Reset(d)
				}
			case <-ticker.C:
				break wait
			}
		}
	}
}

// watchConfig reloads the config file whenever it changes and hands the
// new poll interval to the follower. A config that fails to load is
// logged and ignored; the follower keeps its current settings.
func watchConfig(ctx context.Context, cc *CLIContext, intervals chan time.Duration) {
	path := cc.Cfg.Path
	if _, err := os.Stat(path); err != nil {
		cc.Logger.Debug("config file not present, reload disabled", slog.String("path", path))
		return
	}

	reload := func() {
		resolved, err := cc.reloadConfig()
		if err != nil {
			cc.Logger.Warn("config reload failed", slog.String("error", err.Error()))
			return
		}

		cc.Logger.Info("config reloaded",
			slog.String("path", path),
			slog.String("log_level", resolved.Logging.LogLevel),
		)

		// Keep only the latest interval if the follower has not caught up.
		select {
		case <-intervals:
		default:
		}

		intervals <- resolved.Changes.PollDuration()
	}

	if err := config.Watch(ctx, path, reload, cc.Logger); err != nil {
		cc.Logger.Warn("config reload disabled", slog.String("error", err.Error()))
	}
}

func pollFollowing(
	ctx context.Context, src changeSource, store cursorStore, account string,
	emit func(context.Context, provider.Event) error, logger *slog.Logger,
) error {
	if !src.Connected() {
		id, err := src.Connect(ctx)
		if err != nil {
			return err
		}

		if id != account {
			return fmt.Errorf("reconnected as a different account (%s, want %s)", id, account)
		}

		logger.Info("reconnected", slog.String("account", account))
	}

	n, err := pollOnce(ctx, src, store, account, emit)
	if err != nil {
		return err
	}

	if n > 0 {
		logger.Debug("poll complete", slog.Int("changes", n))
	}

	return nil
}

func retryable(err error) bool {
	return errors.Is(err, drive.ErrTemporary) || errors.Is(err, drive.ErrDisconnected)
}

// pathResolver looks up the current path of a changed object.
type pathResolver interface {
	InfoID(ctx context.Context, id string) (*provider.ObjectInfo, error)
}

// eventJSON is the JSON lines schema of `changes --json`.
type eventJSON struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Exists string `json:"exists"`
	Time   string `json:"time,omitempty"`
	Path   string `json:"path,omitempty"`
	MD5    string `json:"md5,omitempty"`
}

// newEventEmitter prints one line per event. With a resolver, the path of
// objects that still exist is looked up; lookup failures leave it empty.
func newEventEmitter(cc *CLIContext, resolver pathResolver) func(context.Context, provider.Event) error {
	enc := json.NewEncoder(cc.Out)

	return func(ctx context.Context, ev provider.Event) error {
		path := ev.Path

		if resolver != nil && path == "" && ev.Exists == provider.ExistsTrue {
			info, err := resolver.InfoID(ctx, ev.ID)
			switch {
			case err != nil:
				cc.Logger.Debug("path lookup failed",
					slog.String("file_id", ev.ID),
					slog.String("error", err.Error()),
				)
			case info != nil:
				path = info.Path
			}
		}

		if cc.Flags.JSON {
			out := eventJSON{
				ID:     ev.ID,
				Type:   ev.Type.String(),
				Exists: ev.Exists.String(),
				Path:   path,
				MD5:    ev.Hash,
			}

			if !ev.Time.IsZero() {
				out.Time = ev.Time.UTC().Format(time.RFC3339)
			}

			return enc.Encode(out)
		}

		_, err := fmt.Fprintf(cc.Out, "%s  %-7s  %-9s  %s  %s\n",
			formatTime(ev.Time), ev.Exists, ev.Type, ev.ID, path)

		return err
	}
}

// serveMetrics serves handler on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
	}

	return ctx.Err()
}
