// Command client is a headless probe: it joins a game server (or replays a
// recording), logs what it sees and optionally records the session.
package main

import (
	"context"
	"errors"
	"fmt"
	stlog "log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/irishsmurf/kongjr-client/config"
	"github.com/irishsmurf/kongjr-client/game"
	"github.com/irishsmurf/kongjr-client/network"
	"github.com/irishsmurf/kongjr-client/replay"
	"github.com/irishsmurf/kongjr-client/session"
)

const statusPeriod = time.Second

func main() {
	cfg, err := config.Load("client", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.Logger(os.Stdout)
	stlog.SetDefault(logger)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	sess := session.New(cfg, logger)
	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, logger) })
	}
	g.Go(func() error {
		defer cancel()
		if cfg.ReplayPath != "" {
			return runReplay(gctx, sess, cfg, logger)
		}
		return runLive(gctx, sess, cfg, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Client finished with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Client finished.")
}

func serveMetrics(ctx context.Context, addr string, logger *stlog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	logger.Info("Starting metrics HTTP server", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runLive(ctx context.Context, sess *session.Session, cfg config.Config, logger *stlog.Logger) error {
	if cfg.RecordPath != "" {
		rec, err := replay.Create(cfg.RecordPath)
		if err != nil {
			return err
		}
		sess.SetRecorder(rec)
		defer func() {
			sess.SetRecorder(nil)
			if err := rec.Close(); err != nil {
				logger.Error("Failed to close recording", "error", err)
			}
			logger.Info("Recording saved", "path", cfg.RecordPath, "messages", rec.Count())
		}()
	}

	if !sess.RequestConnect(ctx) {
		return fmt.Errorf("connect %s: %w", cfg.ServerAddr, sess.Err())
	}

	pollTicker := time.NewTicker(cfg.PollInterval)
	statusTicker := time.NewTicker(statusPeriod)
	defer pollTicker.Stop()
	defer statusTicker.Stop()

	var lastVersion uint64
	for {
		select {
		case <-ctx.Done():
			logger.Info("Interrupt received, shutting down.")
			sess.RequestDisconnect()
			return nil
		case <-sess.Done():
			if err := sess.Err(); err != nil && !errors.Is(err, network.ErrClosed) {
				return fmt.Errorf("connection lost: %w", err)
			}
			return nil
		case <-pollTicker.C:
			sess.PollInput()
		case <-statusTicker.C:
			if v := sess.Store().Version(); v != lastVersion {
				lastVersion = v
				logStatus(logger, sess)
			}
		}
	}
}

func runReplay(ctx context.Context, sess *session.Session, cfg config.Config, logger *stlog.Logger) error {
	r, err := replay.Open(cfg.ReplayPath)
	if err != nil {
		return err
	}
	defer r.Close()

	sess.Store().SetScreen(game.ScreenPlaying)
	logger.Info("Replaying recording", "path", cfg.ReplayPath, "speed", cfg.ReplaySpeed)
	last := time.Now()
	n, err := replay.Play(ctx, r, cfg.ReplaySpeed, func(e replay.Entry) error {
		sess.HandleLine(e.Line)
		if time.Since(last) >= statusPeriod {
			last = time.Now()
			logStatus(logger, sess)
		}
		return nil
	})
	logStatus(logger, sess)
	logger.Info("Replay finished", "messages", n)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logStatus(logger *stlog.Logger, sess *session.Session) {
	snap, screen := sess.ReadLatestState()
	attrs := []any{
		"screen", screen,
		"tick", snap.Tick,
		"level", snap.Level,
		"paused", snap.Paused,
		"players", len(snap.Players),
		"crocodiles", len(snap.Hazards),
		"fruits", len(snap.Pickups),
	}
	if me, ok := snap.Player(sess.PlayerID()); ok {
		attrs = append(attrs, "column", me.Column, "y", me.Y, "lives", me.Lives, "score", me.Score, "state", me.State)
	}
	logger.Info("Status", attrs...)
}
