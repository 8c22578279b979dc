package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/signalsfoundry/macsched/internal/config"
	"github.com/signalsfoundry/macsched/internal/csi"
	"github.com/signalsfoundry/macsched/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	ues            int
	streams        int
	subcarriers    int
	fairnessWeight float64
	frames         uint64
	mode           string
	csiKind        string
	seed           uint64
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "macsched",
		Short:         "Per-frame proportional-fairness MU-MIMO scheduler",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML configuration file")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: pretty, text, json")
	pf.IntVar(&opts.ues, "ues", 0, "Number of user terminals")
	pf.IntVar(&opts.streams, "streams", 0, "Spatial streams granted per frame")
	pf.IntVar(&opts.subcarriers, "subcarriers", 0, "OFDM data subcarriers")
	pf.Float64Var(&opts.fairnessWeight, "fairness-weight", 0, "Fairness weight lambda in [0, 1]")
	pf.Uint64Var(&opts.frames, "frames", 0, "Frames to run (0 runs until interrupted)")
	pf.StringVar(&opts.mode, "mode", "", "Frame pacing: realtime or accelerated")
	pf.StringVar(&opts.csiKind, "csi", "", "CSI source: fading, static, trace, push (fed via PublishCSI or POST /api/v1/frames/:frame/csi)")
	pf.Uint64Var(&opts.seed, "seed", 0, "Seed for the fading CSI source")

	root.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newActionsCmd(opts),
	)
	return root
}

// load reads the configuration file, if any, and applies flags the user set
// explicitly.
func (o *rootOptions) load(fs *pflag.FlagSet) (config.Config, logging.Logger, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.Config{}, nil, err
		}
		cfg = loaded
	}
	o.applyFlags(fs, &cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("after flag overrides: %w", err)
	}
	return cfg, logging.New(cfg.LoggerConfig()), nil
}

func (o *rootOptions) applyFlags(fs *pflag.FlagSet, cfg *config.Config) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.Logging.Level = o.logLevel
		case "log-format":
			cfg.Logging.Format = o.logFormat
		case "ues":
			cfg.Scheduler.UEs = o.ues
		case "streams":
			cfg.Scheduler.SpatialStreams = o.streams
		case "subcarriers":
			cfg.Scheduler.Subcarriers = o.subcarriers
		case "fairness-weight":
			cfg.Scheduler.FairnessWeight = o.fairnessWeight
		case "frames":
			cfg.Run.Frames = o.frames
		case "mode":
			cfg.Run.Mode = o.mode
		case "csi":
			cfg.CSI.Kind = csi.Kind(o.csiKind)
		case "seed":
			cfg.CSI.Seed = o.seed
		}
	})
}
