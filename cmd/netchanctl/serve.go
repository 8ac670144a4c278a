package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opd-ai/netchannel"
	"github.com/opd-ai/netchannel/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var (
		port        int
		metricsAddr string
		tick        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a lobby server",
		Long: `Run a lobby server that accepts players presenting the connection key,
applies their movement input and sends each of them world state every tick.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags, port, metricsAddr, tick)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 7777, "UDP port to listen on")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve /metrics and /healthz on this address (e.g. :9100)")
	cmd.Flags().DurationVar(&tick, "tick", 15*time.Millisecond, "server tick interval")

	return cmd
}

func runServe(ctx context.Context, flags *globalFlags, port int, metricsAddr string, tick time.Duration) error {
	var extra []netchannel.Option
	registry := prometheus.NewRegistry()
	if metricsAddr != "" {
		extra = append(extra, netchannel.WithMetrics(metrics.New(metrics.WithRegistry(registry))))
	}
	opts, err := flags.options(extra...)
	if err != nil {
		return err
	}

	channel, err := netchannel.New(opts)
	if err != nil {
		return err
	}
	defer channel.Stop()

	l := newLobby(channel)
	if err := channel.Listen(port); err != nil {
		return err
	}

	var current atomic.Pointer[serverStatus]
	current.Store(snapshot(channel, l))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				channel.Poll()
				l.step(now.Sub(last))
				last = now
				current.Store(snapshot(channel, l))
			}
		}
	})

	if metricsAddr != "" {
		server := &http.Server{
			Addr:              metricsAddr,
			Handler:           statusRouter(registry, &current),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logrus.WithFields(logrus.Fields{
				"function": "runServe",
				"address":  metricsAddr,
			}).Info("Serving metrics")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// serverStatus is the /healthz body. The tick loop publishes a fresh copy
// each tick since the channel itself is confined to that goroutine.
type serverStatus struct {
	Running        bool    `json:"running"`
	Accepting      bool    `json:"accepting"`
	ConnectedPeers int     `json:"connected_peers"`
	Players        int     `json:"players"`
	WorldTick      uint32  `json:"world_tick"`
	SendRate       float64 `json:"send_bytes_per_second"`
	RecvRate       float64 `json:"receive_bytes_per_second"`
	Stalled        bool    `json:"simulated_stall"`
}

func snapshot(c *netchannel.NetChannel, l *lobby) *serverStatus {
	return &serverStatus{
		Running:        c.IsRunning(),
		Accepting:      c.Accepting(),
		ConnectedPeers: len(c.ConnectedPeers()),
		Players:        len(l.players),
		WorldTick:      l.tick,
		SendRate:       c.SendRate(),
		RecvRate:       c.RecvRate(),
		Stalled:        c.Stalled(),
	}
}

func statusRouter(registry *prometheus.Registry, current *atomic.Pointer[serverStatus]) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status := current.Load()
		w.Header().Set("Content-Type", "application/json")
		if !status.Running {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	return r
}
