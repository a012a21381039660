// Kanban is a single-user, locally hosted kanban board with a web dashboard,
// an agent-facing tool relay, and DORA-style delivery metrics.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mwaldron/kanban/board"
	"github.com/mwaldron/kanban/internal/config"
	"github.com/mwaldron/kanban/internal/db"
	"github.com/mwaldron/kanban/internal/relay"
	"github.com/mwaldron/kanban/internal/web"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "kanban",
		Short:         "A locally hosted kanban board for a single user and their agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd(), relayCmd(), statusCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			logger := newLogger(cfg, os.Stdout)

			database, err := db.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close()

			server, err := web.NewServer(database, logger)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			// Handle signals
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				<-sigCh
				fmt.Println("\nShutting down...")
				cancel()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				server.Shutdown(shutdownCtx)
			}()

			fmt.Printf("Kanban board on http://localhost%s (database %s)\n", cfg.Addr, cfg.DBPath)

			if err := server.Start(cfg.Addr); err != nil && ctx.Err() == nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides KANBAN_ADDR)")
	return cmd
}

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Serve the board's tools to agents over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// Stdout carries the protocol; logs go to stderr (or file).
			logger := newLogger(cfg, os.Stderr)

			database, err := db.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close()

			return relay.New(db.NewStore(database), logger).ServeStdio()
		},
	}
}

func statusCmd() *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print ticket counts per state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			database, err := db.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close()

			tickets := board.NewTicketService(db.NewStore(database))
			counts, err := tickets.CountByState(projectID)
			if err != nil {
				return err
			}

			total := 0
			for _, state := range board.States() {
				fmt.Printf("%-12s %d\n", state, counts[state])
				total += counts[state]
			}
			fmt.Printf("%-12s %d\n", "total", total)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "Scope counts to a project ID")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kanban %s (commit: %s, built: %s)\n", version, gitCommit, buildTime)
		},
	}
}

// newLogger builds the process logger: text to the given stream, plus a
// rotating file when configured.
func newLogger(cfg config.Config, stream io.Writer) *slog.Logger {
	out := stream
	if cfg.LogFile != "" {
		out = io.MultiWriter(stream, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		})
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
}
