package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"vslib-go/bus"
	"vslib-go/components"
	"vslib-go/config"
	"vslib-go/param"
	"vslib-go/services/bridge"
	presets "vslib-go/services/config"
	"vslib-go/services/converter"
	"vslib-go/services/paramsetting"
	"vslib-go/x/shmring"
)

func main() {
	var cfgPath string
	cmd := &cobra.Command{
		Use:           "vsd",
		Short:         "Run the demo converter with its parameter-setting task",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if cfgPath != "" {
				var err error
				if cfg, err = config.Load(cfgPath); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "YAML configuration file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vsd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	root, loop := components.NewDemo()
	reg, err := param.Build(root)
	if err != nil {
		return fmt.Errorf("build parameter tree: %w", err)
	}
	log.Info("parameter tree built", "root", root.Name(), "parameters", reg.Len())

	b := bus.NewBus(cfg.BusQueueLen)

	rt := converter.New(root, b.NewConnection("converter"), converter.Options{
		TickHz:    cfg.TickHz,
		Heartbeat: cfg.Heartbeat,
		Logger:    log,
	}, loop)

	ps := paramsetting.New(root, reg, b.NewConnection("paramsetting"), paramsetting.Options{
		Logger:     log,
		Gate:       rt,
		Registerer: prometheus.DefaultRegisterer,
		MaxBatch:   cfg.MaxBatch,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Run(ctx) })
	g.Go(func() error { return ps.Run(ctx) })

	g.Go(func() error {
		bridge.Start(ctx, b.NewConnection("bridge"), log)
		return nil
	})
	configureBridge(b.NewConnection("main"), cfg.Bridge, log)

	g.Go(func() error {
		conn := b.NewConnection("presets")
		if err := waitManifest(ctx, conn); err != nil {
			return nil
		}
		return presets.NewPresetService(presets.Options{
			Device: cfg.Device,
			File:   cfg.PresetFile,
			Watch:  cfg.WatchPresets,
			Logger: log,
		}).Run(ctx, conn)
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	log.Info("shutdown complete", "ticks", rt.Ticks(), "err", err)
	return err
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// configureBridge allocates any in-process rings and hands the bridge its
// link configuration. The rings stay registered for the process lifetime.
func configureBridge(conn *bus.Connection, bc config.Bridge, log *slog.Logger) {
	bcfg := bridge.Config{
		Transport:   bc.Transport,
		Addr:        bc.Addr,
		CommandRate: bc.CommandRate,
		Burst:       bc.Burst,
	}
	if bc.Transport == "shmring" {
		in, _ := shmring.NewRegistered(bc.RingSize)
		out, _ := shmring.NewRegistered(bc.RingSize)
		bcfg.InHandle, bcfg.OutHandle = uint32(in), uint32(out)
		log.Info("bridge rings allocated", "in", bcfg.InHandle, "out", bcfg.OutHandle, "size", bc.RingSize)
	}
	conn.Publish(conn.NewMessage(bridge.TopicConfig(), bcfg, true))
}

// waitManifest blocks until the parameter service has published its
// retained manifest, so that preset commands are not sent before it listens.
func waitManifest(ctx context.Context, conn *bus.Connection) error {
	sub := conn.Subscribe(paramsetting.TopicManifest)
	defer conn.Unsubscribe(sub)
	select {
	case <-sub.Channel():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
