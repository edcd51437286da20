// Command organizerd runs the organizer service: the synchronous
// /organize endpoint and the async batch processor, wired from
// environment configuration.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Arke-Institute/arke-organizer-service/internal/batch"
	"github.com/Arke-Institute/arke-organizer-service/internal/callback"
	"github.com/Arke-Institute/arke-organizer-service/internal/config"
	"github.com/Arke-Institute/arke-organizer-service/internal/contextfetch"
	"github.com/Arke-Institute/arke-organizer-service/internal/db"
	"github.com/Arke-Institute/arke-organizer-service/internal/entitystore"
	"github.com/Arke-Institute/arke-organizer-service/internal/httpapi"
	"github.com/Arke-Institute/arke-organizer-service/internal/llm"
	"github.com/Arke-Institute/arke-organizer-service/internal/logging"
	"github.com/Arke-Institute/arke-organizer-service/internal/organize"
	"github.com/Arke-Institute/arke-organizer-service/internal/publish"
	"github.com/Arke-Institute/arke-organizer-service/internal/tokenest"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "organizerd",
	Short: "Runs the file-organizing service",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the HTTP server and batch-processing scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Applies pending database migrations and exits",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		conn, err := db.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		return conn.Close()
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to an optional .env file")
	rootCmd.AddCommand(serveCmd, migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(os.Getenv("DEBUG") != "")

	var estimator tokenest.Estimator
	switch cfg.TokenizerMode {
	case config.TokenizerTiktoken:
		tiktokenEst, err := tokenest.NewTiktokenEstimator()
		if err != nil {
			return fmt.Errorf("build tiktoken estimator: %w", err)
		}
		estimator = tiktokenEst
	default:
		estimator = tokenest.ApproxEstimator{}
	}

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	store := batch.NewSQLStore(conn)
	entityClient := entitystore.New(cfg.EntityStoreBaseURL, nil)
	llmClient := llm.New(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.ModelName)
	fetcher, err := contextfetch.New(entityClient, 8, 512)
	if err != nil {
		return fmt.Errorf("build context fetcher: %w", err)
	}
	organizer := organize.New(llmClient, estimator, logger, organize.Options{
		MaxTokens:             cfg.MaxTokens,
		TokenBudgetPercentage: cfg.TokenBudgetPercentage,
		Temperature:           0.3,
		MaxLLMRetries:         3,
		RetryBase:             200 * time.Millisecond,
		InputPrice:            cfg.LLMInputPrice,
		OutputPrice:           cfg.LLMOutputPrice,
	})
	publisher := publish.New(entityClient, publish.DefaultOptions())
	cbClient := callback.New(cfg.OrchestratorBaseURL, nil)

	processor := batch.New(store, fetcher, organizer, publisher, cbClient, logger, batch.Config{
		MaxRetriesPerItem:     cfg.MaxRetriesPerItem,
		MaxCallbackRetries:    cfg.MaxCallbackRetries,
		ProcessingConcurrency: 8,
	})

	server := &httpapi.Server{
		Organizer: organizer,
		Batch:     processor,
		Status:    store,
		Logger:    logger,
	}
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Routes()}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ticker := time.NewTicker(cfg.AlarmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		case <-ticker.C:
			if err := processor.Tick(ctx); err != nil {
				logger.Error("scheduler tick failed", "err", err)
			}
		}
	}
}
