package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/macsched/internal/api"
	"github.com/signalsfoundry/macsched/internal/csi"
	"github.com/signalsfoundry/macsched/internal/discovery"
	"github.com/signalsfoundry/macsched/internal/logging"
	"github.com/signalsfoundry/macsched/internal/observability"
	"github.com/signalsfoundry/macsched/internal/schedsvc"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var grpcAddr, httpAddr string
	var announce bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Schedule frames and serve decisions over gRPC and HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load(cmd.Flags())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("grpc-addr") {
				cfg.GRPC.Addr = grpcAddr
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.HTTP.Addr = httpAddr
			}
			if cmd.Flags().Changed("announce") {
				cfg.Discovery.Enabled = announce
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdown, err := observability.InitTracing(ctx, cfg.TracingOptions(), log)
			if err != nil {
				return err
			}
			defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", ":50051", "TCP address the ScheduleQuery gRPC server listens on")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":9090", "HTTP address for /metrics, /healthz and /api/v1")
	cmd.Flags().BoolVar(&announce, "announce", false, "Announce the gRPC service over DNS-SD")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	log := a.log

	rpc, err := observability.NewRPCCollector(a.registry)
	if err != nil {
		return err
	}
	var svcOpts []schedsvc.ServiceOption
	var apiOpts []api.HandlerOption
	if store, ok := a.source.(*csi.Store); ok {
		svcOpts = append(svcOpts, schedsvc.WithCSIPublisher(store))
		apiOpts = append(apiOpts, api.WithCSIPublisher(store))
	}
	grpcServer := schedsvc.NewServer(schedsvc.NewService(a.sched, a.runner, log, svcOpts...), rpc, log)
	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", a.cfg.GRPC.Addr), logging.Err(err))
		return err
	}

	var metrics http.Handler
	if a.cfg.Metrics.Enabled {
		metrics = rpc.Handler()
	}
	httpServer := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           api.NewRouter(api.NewHandler(a.sched, a.runner, apiOpts...), metrics, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting ScheduleQuery gRPC server", logging.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info(gctx, "serving HTTP API and metrics", logging.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.cfg.Discovery.Enabled {
		g.Go(func() error {
			return discovery.Announce(gctx, discovery.Announcement{
				Instance:  a.cfg.Discovery.Instance,
				Domain:    a.cfg.Discovery.Domain,
				GRPCPort:  lis.Addr().(*net.TCPAddr).Port,
				HTTPPort:  portOf(httpServer.Addr),
				Scheduler: a.sched.Config(),
			}, log)
		})
	}
	g.Go(func() error {
		// The query servers stay up after a bounded run finishes.
		if err := a.run(gctx); err != nil {
			return err
		}
		s := a.runner.Summary()
		log.Info(gctx, "frame run complete",
			logging.Uint64("frames", s.Frames),
			logging.Float64("fairness", s.Fairness),
		)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down")
		grpcServer.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func portOf(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return p
}
