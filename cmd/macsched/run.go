package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/macsched/internal/observability"
	"github.com/signalsfoundry/macsched/internal/pipeline"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Schedule frames and print a per-UE fairness report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load(cmd.Flags())
			if err != nil {
				return err
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
			if err := a.run(ctx); err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), a.runner.Summary())
		},
	}
}

func writeReport(w io.Writer, s pipeline.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "frames\t%d\t\n", s.Frames)
	fmt.Fprintf(tw, "fallback frames\t%d\t\n", s.Fallbacks)
	fmt.Fprintf(tw, "jain fairness\t%.4f\t\n", s.Fairness)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "ue\tgrants\tsubcarriers\tgranted se\tpf history\t")
	for u := range s.Grants {
		hist := 0.0
		if u < len(s.History) {
			hist = s.History[u]
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%.2f\t%.2f\t\n", u, s.Grants[u], s.Subcarriers[u], s.GrantedSE[u], hist)
	}
	return tw.Flush()
}
