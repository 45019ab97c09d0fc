// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/swarmsync/swarmsync/internal/cryptoid"
	"github.com/swarmsync/swarmsync/internal/ignore"
	"github.com/swarmsync/swarmsync/internal/peer"
	"github.com/swarmsync/swarmsync/internal/pool"
	"github.com/swarmsync/swarmsync/internal/scanner"
	"github.com/swarmsync/swarmsync/internal/status"
	"github.com/swarmsync/swarmsync/internal/store"
	syncengine "github.com/swarmsync/swarmsync/internal/sync"
	"github.com/swarmsync/swarmsync/internal/transport"
	"github.com/swarmsync/swarmsync/internal/watcher"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the managed root and sync with trusted peers",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadEngineConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id, err := cryptoid.LoadOrCreateIdentity(cfg.IdentityKeyPath)
	if err != nil {
		return fmt.Errorf("run: load identity: %w", err)
	}
	deviceID := id.ShortID()

	st, err := store.Open(cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("run: open state store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("run: close state store", "err", err)
		}
	}()

	matcher, err := ignore.Load(cfg.ManagedRoot)
	if err != nil {
		return fmt.Errorf("run: load ignore rules: %w", err)
	}

	directory := peer.NewDirectory()
	echo := watcher.NewEchoSuppressor(cfg.Thresholds.EchoSuppressionTTL)

	w, err := watcher.New(cfg.ManagedRoot, matcher, echo)
	if err != nil {
		return fmt.Errorf("run: start watcher: %w", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			slog.Error("run: close watcher", "err", err)
		}
	}()

	sender := transport.New(id, deviceID, deviceID, directory, pool.DefaultPoolSize)

	engine := syncengine.New(cfg.ManagedRoot, deviceID, st, matcher, directory, echo, sender, cfg.Thresholds, w.RescanRequested())

	scan := scanner.New(cfg.ManagedRoot, st, matcher, scanner.DefaultInterval, w.RequestRescan)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("run: listen on port %d: %w", cfg.ListenPort, err)
	}
	guard := pool.NewAcceptGuard(ln, cfg.Thresholds.MaxConcurrentInbound)

	router := status.NewRouter(status.Deps{Directory: directory, Store: st})
	httpServer := &http.Server{Handler: router}
	statusLn, err := net.Listen("tcp", cfg.StatusAddr)
	if err != nil {
		return fmt.Errorf("run: listen for status API: %w", err)
	}
	slog.Info("run: status API listening", "addr", statusLn.Addr().String())

	if err := engine.InitialScan(ctx); err != nil {
		return fmt.Errorf("run: initial scan: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { w.Run(groupCtx); return nil })
	group.Go(func() error { return drainEvents(groupCtx, w, engine) })
	group.Go(func() error { return drainEngineEvents(groupCtx, engine) })
	group.Go(func() error { scan.Run(groupCtx); return nil })
	quarantine := pool.NewQuarantine()
	group.Go(func() error { return transport.Serve(groupCtx, guard, id, engine, quarantine) })
	group.Go(func() error {
		if err := httpServer.Serve(statusLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	<-ctx.Done()
	slog.Info("run: shutting down")
	_ = guard.Close()
	_ = httpServer.Close()
	waitErr := group.Wait()

	sender.Close()
	if err := st.Flush(); err != nil {
		slog.Error("run: flush state store", "err", err)
	}
	return waitErr
}

// drainEngineEvents logs the sync engine's diagnostic event stream
// (time-travel detection, status transitions) until ctx is canceled.
func drainEngineEvents(ctx context.Context, engine *syncengine.Engine) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-engine.Events():
			if !ok {
				return nil
			}
			slog.Info("run: engine event", "kind", ev.Kind, "path", ev.Path, "detail", ev.Detail)
		}
	}
}

// drainEvents feeds the watcher's semantic event stream and rescan
// requests into the sync engine until ctx is canceled, logging (not
// failing) per-event errors so one bad event never stops the loop.
func drainEvents(ctx context.Context, w *watcher.Watcher, engine *syncengine.Engine) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			if err := engine.HandleLocalEvent(ctx, ev); err != nil {
				slog.Warn("run: handle local event failed", "path", ev.Path, "err", err)
			}
		case <-engine.RescanRequested():
			if err := engine.InitialScan(ctx); err != nil {
				slog.Warn("run: rescan failed", "err", err)
			}
		}
	}
}
