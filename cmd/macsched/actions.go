package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/macsched/internal/mac"
)

func newActionsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Print the enumerated action table and its memory footprint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load(cmd.Flags())
			if err != nil {
				return err
			}
			m := cfg.MacConfig().ApplyDefaults()
			count, err := mac.Binomial(m.UEs, m.SpatialStreams)
			if err != nil {
				return err
			}
			size, err := mac.CheckFootprint(count, m.UEs, m.SpatialStreams, m.Subcarriers, m.MaxBufferBytes)
			if err != nil {
				return err
			}
			set, err := mac.Enumerate(m.UEs, m.SpatialStreams)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "C(%d, %d) = %d actions, %d bytes of schedule tables\n", m.UEs, m.SpatialStreams, count, size)
			var b strings.Builder
			for id := 0; id < set.Len() && (limit <= 0 || id < limit); id++ {
				b.Reset()
				for i, u := range set.Users(id) {
					if i > 0 {
						b.WriteString(", ")
					}
					fmt.Fprintf(&b, "%d", u)
				}
				fmt.Fprintf(out, "%6d  [%s]\n", id, b.String())
			}
			if limit > 0 && set.Len() > limit {
				fmt.Fprintf(out, "... %d more\n", set.Len()-limit)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 64, "Print at most this many actions (0 prints all)")
	return cmd
}
