package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagekeeper"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the page and keep it reconciled until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag("config", configPath); err != nil {
				return err
			}
			logger := root.logger(os.Stderr)
			ctx := cmd.Context()

			cfg, err := pagekeeper.LoadConfigFile(configPath)
			if err != nil {
				return err
			}
			k, err := pagekeeper.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := k.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			logger.Info("pagekeeper: running", "url", cfg.URL)

			<-ctx.Done()
			k.Stop()
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "pagekeeper.yaml", "path to the YAML configuration")
	return cmd
}
