package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DaybreakLabs/daybreak/backend/internal/auth"
	"github.com/DaybreakLabs/daybreak/backend/internal/config"
	"github.com/DaybreakLabs/daybreak/backend/internal/database"
	"github.com/DaybreakLabs/daybreak/backend/internal/fires"
	"github.com/DaybreakLabs/daybreak/backend/internal/logging"
	"github.com/DaybreakLabs/daybreak/backend/internal/priorities"
	"github.com/DaybreakLabs/daybreak/backend/internal/recommend"
	"github.com/DaybreakLabs/daybreak/backend/internal/server"
	"github.com/DaybreakLabs/daybreak/backend/internal/sweeper"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "daybreak-api",
		Short: "Daybreak priorities backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().String("completions-base-url", defaults.GetString("completions.base_url"), "Completion service base URL")
	cmd.PersistentFlags().String("completions-model", defaults.GetString("completions.model"), "Completion model name")
	cmd.PersistentFlags().Int("purge-interval-minutes", defaults.GetInt("purge.interval_minutes"), "Purge sweep interval in minutes")
	cmd.PersistentFlags().Int("purge-retention-hours", defaults.GetInt("purge.retention_hours"), "Soft-delete retention in hours")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "completions.base_url", "completions-base-url")
	bindFlag(cmd, "completions.model", "completions-model")
	bindFlag(cmd, "purge.interval_minutes", "purge-interval-minutes")
	bindFlag(cmd, "purge.retention_hours", "purge-retention-hours")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenVerifier, err := auth.NewTokenVerifier(auth.TokenVerifierConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		Audience:      appConfig.AuthAudience,
	})
	if err != nil {
		return err
	}

	prioritiesService, err := priorities.NewService(priorities.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: priorities.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	completionClient, err := recommend.NewHTTPClient(recommend.ClientConfig{
		BaseURL: appConfig.CompletionsBaseURL,
		APIKey:  appConfig.CompletionsAPIKey,
		Model:   appConfig.CompletionsModel,
		Timeout: appConfig.CompletionsTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	recommender, err := recommend.NewService(recommend.ServiceConfig{
		Completions: completionClient,
		Priorities:  prioritiesService,
		Timeout:     appConfig.CompletionsTimeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	firesService, err := fires.NewService(fires.ServiceConfig{
		Priorities: prioritiesService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	purgeSweeper, err := sweeper.New(sweeper.Config{
		Priorities: prioritiesService,
		Retention:  appConfig.PurgeRetention,
		Interval:   appConfig.PurgeInterval,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenVerifier: tokenVerifier,
		Priorities:    prioritiesService,
		Recommender:   recommender,
		Fires:         firesService,
		Sweeper:       purgeSweeper,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go purgeSweeper.Run(signalCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
