package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hapcat/hapcat-backend/internal/auth"
	"github.com/hapcat/hapcat-backend/internal/config"
	"github.com/hapcat/hapcat-backend/internal/database"
	"github.com/hapcat/hapcat-backend/internal/logging"
	"github.com/hapcat/hapcat-backend/internal/objects"
	"github.com/hapcat/hapcat-backend/internal/server"
	"github.com/hapcat/hapcat-backend/internal/suggestions"
	"github.com/hapcat/hapcat-backend/internal/users"
	"github.com/hapcat/hapcat-backend/internal/votes"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile      string
	genConfig    string
	printVersion bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "hapcatd",
		Short:        "Hapcat suggestions backend",
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if printVersion {
				fmt.Fprintln(cmd.OutOrStdout(), server.ServerVersion)
				return nil
			}
			if genConfig != "" {
				if err := config.WriteExample(viper.GetViper(), genConfig); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote example configuration to %s\n", genConfig)
				return nil
			}
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
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVarP(&genConfig, "genconfig", "g", "", "Write an example configuration file to this path and exit")
	flags.BoolVar(&printVersion, "version", false, "Print the server version and exit")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", defaults.GetString("database.dsn"), "PostgreSQL DSN")
	flags.Bool("load-test-data", defaults.GetBool("database.load_test_data"), "Load the bundled test data at startup")
	flags.Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Access token TTL in minutes")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	flags.String("signing-secret", "", "Token signing secret (overrides the stored secret)")
	flags.Bool("debug", defaults.GetBool("debug.enabled"), "Mount the debug routes")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "database.load_test_data", "load-test-data")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "debug.enabled", "debug")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("hapcat")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if logging.ParseLevel(appConfig.LogLevel) != zap.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	signingSecret := []byte(appConfig.SigningSecret)
	if len(signingSecret) == 0 {
		signingSecret, err = auth.LoadOrCreateSigningSecret(ctx, db, logger)
		if err != nil {
			return err
		}
	}
	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: signingSecret,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	store, err := objects.NewStore(objects.StoreConfig{
		Database:   db,
		IDProvider: objects.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if appConfig.LoadTestData {
		fixtures, err := objects.BundledFixtures()
		if err != nil {
			return err
		}
		if _, err := store.Seed(ctx, fixtures); err != nil {
			return err
		}
	}

	builder, err := suggestions.NewBuilder(suggestions.Config{Source: store, Logger: logger})
	if err != nil {
		return err
	}
	ledger, err := votes.NewLedger(votes.LedgerConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	accounts, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: objects.NewUUIDProvider(),
		Policy:     users.NewStrengthPolicy(users.DefaultMinimumScore),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:                 store,
		Suggestions:           builder,
		Votes:                 ledger,
		Accounts:              accounts,
		Tokens:                tokenManager,
		MaxSuggestedLocations: appConfig.MaxSuggestedLocation,
		MaxSuggestedEvents:    appConfig.MaxSuggestedEvents,
		AllowedOrigins:        appConfig.AllowedOrigins,
		DebugRoutes:           appConfig.DebugRoutes,
		Logger:                logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("version", server.ServerVersion),
			zap.String("database_driver", appConfig.DatabaseDriver),
		)
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
