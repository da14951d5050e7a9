package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yoon0701/ZeroGravity/internal/handler"
	"github.com/yoon0701/ZeroGravity/internal/service"
)

func newServeCmd(a *app) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the review API",
		Long: `Serve the run ledger over HTTP: list runs and records, export them, classify
single messages, expose Prometheus metrics and start spam or augment runs in
the background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port == "" {
				port = a.cfg.Server.Port
			}
			return a.serve(cmd.Context(), port)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (default from config)")
	return cmd
}

func (a *app) serve(parent context.Context, port string) error {
	logger := a.logger
	logger.Info("Starting datagen API...")

	repo, err := a.openLedger()
	if err != nil {
		return err
	}
	if repo == nil {
		return errors.New("serve needs the run ledger; set database.type")
	}
	defer repo.Close()

	m, reg := newMetrics()
	runner := service.NewRunner(logger)

	// Generation endpoints stay disabled without a provider.
	var pipelines handler.Pipelines
	client, err := a.newProvider(a.cfg.Spam.Model)
	if err != nil {
		logger.Warn("No LLM provider available, run endpoints disabled", zap.Error(err))
	} else {
		defer client.Close()
		pipelines = handler.Pipelines{
			Spam: service.NewSpamSynthesizer(client, spamConfig(a, a.cfg.Spam.Retries, a.cfg.Spam.Fallback), repo, m, logger),
			SpamDefaults: service.SpamOptions{
				InPath:          a.cfg.Spam.In,
				Output:          a.cfg.Spam.Output,
				Limit:           a.cfg.Spam.Limit,
				NPer:            a.cfg.Spam.NPer,
				Target:          a.cfg.Spam.Target,
				Seed:            a.cfg.Spam.Seed,
				CheckpointEvery: a.cfg.Spam.CheckpointEvery,
			},
			Augment: service.NewHamAugmenter(newHamGenerator(a, client), repo, m, logger),
			AugmentDefaults: service.AugmentOptions{
				HamCSV:          a.cfg.Augment.HamCSV,
				Output:          a.cfg.Augment.Output,
				Target:          a.cfg.Augment.Target,
				Seed:            a.cfg.Augment.Seed,
				CheckpointEvery: a.cfg.Augment.CheckpointEvery,
			},
		}
	}

	apiHandler := handler.NewHandler(repo, runner, pipelines, reg, getVersion(), logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	apiHandler.RegisterRoutes(router)

	serverAddr := fmt.Sprintf(":%s", port)
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signalContext(parent)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("address", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Error("Background run did not stop in time", zap.Error(err))
	}

	logger.Info("Server exited")
	return nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
