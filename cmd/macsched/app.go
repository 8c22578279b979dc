package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/macsched/internal/config"
	"github.com/signalsfoundry/macsched/internal/csi"
	"github.com/signalsfoundry/macsched/internal/logging"
	"github.com/signalsfoundry/macsched/internal/mac"
	"github.com/signalsfoundry/macsched/internal/observability"
	"github.com/signalsfoundry/macsched/internal/pipeline"
	"github.com/signalsfoundry/macsched/timectrl"
)

// app is the assembled scheduler stack shared by run and serve.
type app struct {
	cfg       config.Config
	log       logging.Logger
	registry  *prometheus.Registry
	collector *observability.SchedulerCollector
	sched     *mac.Scheduler
	source    csi.Source
	runner    *pipeline.Runner
	clock     *timectrl.FrameClock
}

func buildApp(ctx context.Context, cfg config.Config, log logging.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}

	var err error
	if cfg.Metrics.Enabled {
		a.collector, err = observability.NewSchedulerCollector(a.registry, cfg.Scheduler.UEs)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	mcs, err := cfg.McsPolicy()
	if err != nil {
		return nil, err
	}
	opts := []mac.Option{
		mac.WithLogger(log),
		mac.WithMcsPolicy(mcs),
		mac.WithFallbackPolicy(cfg.FallbackPolicy()),
	}
	if a.collector != nil {
		opts = append(opts, mac.WithDecisionRecorder(a.collector))
	}
	a.sched, err = mac.New(cfg.MacConfig(), opts...)
	if err != nil {
		return nil, err
	}

	a.source, err = csi.New(cfg.CSI, cfg.Scheduler.UEs)
	if err != nil {
		return nil, err
	}

	a.runner, err = pipeline.NewRunner(a.sched, a.source,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(a.collector),
		pipeline.WithCSIDeadline(cfg.Run.CSIDeadline),
		pipeline.WithWorkers(cfg.Run.Workers),
	)
	if err != nil {
		return nil, err
	}

	mode, err := cfg.ClockMode()
	if err != nil {
		return nil, err
	}
	a.clock = timectrl.NewFrameClock(cfg.Run.StartFrame, cfg.Run.FramePeriod, mode)

	log.Info(ctx, "scheduler ready",
		logging.Int("ues", cfg.Scheduler.UEs),
		logging.Int("spatial_streams", cfg.Scheduler.SpatialStreams),
		logging.Int("actions", a.sched.Actions().Len()),
		logging.String("csi", string(cfg.CSI.Kind)),
	)
	return a, nil
}

func (a *app) run(ctx context.Context) error {
	return a.runner.Run(ctx, a.clock, a.cfg.Run.Frames)
}
