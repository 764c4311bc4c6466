package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alexjbarnes/sheet-sync/internal/auth"
	"github.com/alexjbarnes/sheet-sync/internal/config"
	"github.com/alexjbarnes/sheet-sync/internal/logging"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sheet-sync",
		Short: "Keep a database table and a spreadsheet in sync",
		Long: `sheet-sync reconciles a SQLite table with a Google Sheet (or a CSV
file) on a timer, on demand through its HTTP API, and whenever a change
notification arrives. The most recently modified side wins each record;
ties go to the database.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the sync daemon and HTTP API (default)",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Run one reconciliation pass and print the result",
			Args:  cobra.NoArgs,
			RunE:  runSync,
		},
		&cobra.Command{
			Use:   "hash-password",
			Short: "Read a password from stdin and print its bcrypt hash for API_AUTH_USERS",
			Args:  cobra.NoArgs,
			RunE:  runHashPassword,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), Version)
			},
		},
	)

	return root
}

// setup loads config and builds the logger. The returned closer flushes
// the log file, if any.
func setup() (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger, closer := logging.NewFileLogger(cfg.Environment, cfg.LogFile)

	return cfg, logger, closer, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.Info("sheet-sync starting",
		slog.String("version", Version),
		slog.String("backend", cfg.SheetBackend),
		slog.String("table", cfg.TableName),
		slog.Duration("interval", cfg.SyncInterval),
		slog.Bool("mcp", cfg.EnableMCP),
		slog.Bool("notify", cfg.NotifyURL != ""),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("sheet-sync stopped")

	return nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, logger, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.coord.RunOnce(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	return enc.Encode(res)
}

func runHashPassword(cmd *cobra.Command, _ []string) error {
	fmt.Fprint(cmd.ErrOrStderr(), "Enter password: ")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading password: %w", err)
		}

		return fmt.Errorf("no input")
	}

	hash, err := auth.HashPassword(strings.TrimRight(scanner.Text(), "\r"))
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), hash)

	return nil
}
