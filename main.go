package main

import (
	"context"
	"errors"
	"flag"
	stlog "log/slog"
	"net"
	"net/http"
	_ "net/http/pprof" // Registers pprof handlers on the default mux
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/irishsmurf/kongjr-client/server"
)

var (
	addr      = flag.String("addr", ":5555", "line-delimited TCP game address")
	wsAddr    = flag.String("ws", ":8080", "websocket and /metrics http address")
	pprofAddr = flag.String("pprof", ":6060", "pprof http service address (empty to disable)")
	logLevel  = flag.String("log", "info", "Log level (debug, info, warn, error)")
	seed      = flag.Int64("seed", time.Now().UnixNano(), "world random seed")
)

func main() {
	flag.Parse()

	var leveler stlog.LevelVar
	switch *logLevel {
	case "debug":
		leveler.Set(stlog.LevelDebug)
	case "warn":
		leveler.Set(stlog.LevelWarn)
	case "error":
		leveler.Set(stlog.LevelError)
	default:
		leveler.Set(stlog.LevelInfo)
	}
	logger := stlog.New(stlog.NewJSONHandler(os.Stdout, &stlog.HandlerOptions{Level: &leveler}))
	stlog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := server.NewHub(logger, *seed)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		ln, err := net.Listen("tcp", *addr)
		if err != nil {
			return err
		}
		logger.Info("Starting TCP game server", "address", *addr)
		return server.ServeTCP(ctx, hub, ln)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		server.ServeWs(hub, w, r)
	})
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{Addr: *wsAddr, Handler: mux}
	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", *wsAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if *pprofAddr != "" {
		pprofServer := &http.Server{Addr: *pprofAddr} // DefaultServeMux carries pprof
		g.Go(func() error {
			logger.Info("Starting pprof HTTP server", "address", *pprofAddr)
			if err := pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return pprofServer.Close()
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
