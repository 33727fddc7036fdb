package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagekeeper/internal/config"
	"github.com/hazyhaar/pagekeeper/internal/journal"
)

func newHistoryCmd(_ *rootOptions) *cobra.Command {
	var (
		dbPath, configPath, ruleID string
		limit                      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent rule runs from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" && configPath != "" {
				cfg, err := config.LoadFile(configPath)
				if err != nil {
					return err
				}
				dbPath = cfg.JournalPath()
			}
			if dbPath == "" {
				return fmt.Errorf("no journal: pass --db or a --config with a journal sink")
			}

			j, err := journal.Open(dbPath)
			if err != nil {
				return err
			}
			defer j.Close()

			runs, err := j.Recent(cmd.Context(), ruleID, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tRULE\tREASON\tEPOCH\tOUTCOME\tDURATION\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					r.StartedAt.Local().Format(time.DateTime), r.RuleID, r.Reason, r.Epoch,
					r.Outcome, r.Duration.Round(time.Millisecond), r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "journal database path")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "read the journal path from this configuration")
	cmd.Flags().StringVar(&ruleID, "rule", "", "only this rule")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs")
	return cmd
}
