package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagekeeper/internal/config"
	"github.com/hazyhaar/pagekeeper/internal/sheet"
)

func newLookupCmd(root *rootOptions) *cobra.Command {
	var configPath, sheetName string
	cmd := &cobra.Command{
		Use:   "lookup KEY",
		Short: "Fetch one row of a configured sheet, as the rules see it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("sheet", sheetName); err != nil {
				return err
			}
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}
			src, ok := cfg.Sheets[sheetName]
			if !ok {
				return fmt.Errorf("unknown sheet %q (configured: %v)", sheetName, sheetNames(cfg))
			}

			client := sheet.New(sheet.WithLogger(root.logger(os.Stderr)))
			rec, found, err := client.Lookup(cmd.Context(), src, args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%q not found in column %q of sheet %s", args[0], src.Key, sheetName)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "pagekeeper.yaml", "path to the YAML configuration")
	cmd.Flags().StringVar(&sheetName, "sheet", "", "sheet name from the configuration")
	return cmd
}

func sheetNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Sheets))
	for n := range cfg.Sheets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
