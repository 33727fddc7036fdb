// Command pagekeeper keeps a web application page reconciled against a
// set of rules.
//
// Usage:
//
//	pagekeeper run --config pagekeeper.yaml
//	pagekeeper lookup --config pagekeeper.yaml --sheet customers "Acme"
//	pagekeeper history --db journal.db --rule blanket-po
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "pagekeeper",
		Short: "Keep a live web app page in the state your team expects",
		Long: `pagekeeper drives a Chrome tab on a web application and re-applies a set
of idempotent rules whenever the page changes: filling fields from a
reference sheet, relabelling UI, badging customers, warning about holds.`,
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newRunCmd(opts),
		newLookupCmd(opts),
		newHistoryCmd(opts),
	)
	return cmd
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(o.logLevel)}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func requireFlag(name, value string) error {
	if value == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}
