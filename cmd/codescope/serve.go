package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codescope/codescope/internal/history"
	"github.com/codescope/codescope/internal/scan"
	"github.com/codescope/codescope/internal/server"
	"github.com/codescope/codescope/internal/task"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP analysis API",
	Long: `Start the CodeScope HTTP server. The API accepts scan submissions,
serves stored findings, and answers chat questions about them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		docs, err := openStore(cfg)
		if err != nil {
			return err
		}
		runs, err := history.Open(cfg.Storage.HistoryDB)
		if err != nil {
			return err
		}
		defer runs.Close()

		evalFor, client, err := buildEvaluators(cfg, log)
		if err != nil {
			return err
		}

		srv, err := server.New(server.Options{
			Docs:         docs,
			Tasks:        task.NewRegistry(cfg.Scan.TaskRetention, log),
			Runs:         runs,
			Chat:         buildChat(cfg, client, docs, log),
			EvaluatorFor: evalFor,
			ScanOptions: scan.Options{
				IncludeExtensions: cfg.Scan.FileTypes,
				ExcludePatterns:   cfg.Scan.Exclude,
				MaxFiles:          cfg.Scan.MaxFiles,
				EvalTimeout:       cfg.Scan.EvalTimeout,
			},
			RunTimeout: cfg.Scan.RunTimeout,
			Offline:    cfg.Offline(),
			Log:        log,
		})
		if err != nil {
			return err
		}

		httpSrv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errc := make(chan error, 1)
		go func() {
			errc <- httpSrv.ListenAndServe()
		}()

		green := color.New(color.FgGreen).SprintFunc()
		mode := "online"
		if cfg.Offline() {
			mode = "offline (pattern evaluators only)"
		}
		fmt.Printf("%s codescope listening on %s [%s]\n", green("▶"), cfg.Server.Addr, mode)

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
