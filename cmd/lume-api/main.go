package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lumehq/lume/internal/config"
	"github.com/lumehq/lume/internal/logging"
	"github.com/lumehq/lume/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "lume-api",
		Short: "Lume practice management backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newResyncCommand())

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
	cmd.PersistentFlags().String("public-url", defaults.GetString("app.public_url"), "Public frontend URL used for redirects")
	cmd.PersistentFlags().String("sync-dispatcher", defaults.GetString("sync.dispatcher"), "Calendar sync dispatcher (inprocess, asynq)")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for the asynq dispatcher")
	cmd.PersistentFlags().Int("sync-concurrency", defaults.GetInt("sync.concurrency"), "Maximum concurrent calendar syncs")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "app.public_url", "public-url")
	bindFlag(cmd, "sync.dispatcher", "sync-dispatcher")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "sync.concurrency", "sync-concurrency")
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

	realtime := server.NewRealtimeDispatcher()
	app, err := buildApplication(appConfig, realtime, logger)
	if err != nil {
		return err
	}
	defer app.close()

	stopDispatch, err := app.startDispatcher(appConfig, logger)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: app.sessionValidator,
		Practitioners:    app.practitioners,
		PatientsService:  app.patients,
		SessionsService:  app.sessions,
		Connector:        app.oauth,
		States:           app.states,
		Credentials:      app.credentials,
		Realtime:         realtime,
		AllowedOrigins:   []string{appConfig.PublicURL},
		PublicURL:        appConfig.PublicURL,
		Logger:           logger,
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

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("sync_dispatcher", appConfig.SyncDispatcher))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if err := stopDispatch(shutdownCtx); err != nil {
			logger.Warn("calendar sync dispatcher did not drain", zap.Error(err))
		}
		return shutdownErr
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = stopDispatch(shutdownCtx)
		return err
	}
}
