package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/clients"
	"storefront/config"
	"storefront/database"
	"storefront/logger"
	"storefront/middleware"
	"storefront/routes"
	"storefront/services"
	"storefront/shell"
	"storefront/telemetry"
	"storefront/views"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	Version = "0.1.0"
	appName = "storefront"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	envFile string
	apiURL  string
	addr    string
}

func rootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Session and cart client for the shop API",
		Long: `storefront logs in to the shop API, keeps the session alive, lists
products, manages a cart and places orders.

Run it as a local JSON API (serve) or as an interactive shell (shell).`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&f.envFile, "env-file", "", "Path to a .env file (default ./.env)")
	cmd.PersistentFlags().StringVar(&f.apiURL, "api-url", "", "Shop API base URL (overrides API_URL)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the storefront as a local JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), f)
		},
	}
	serve.Flags().StringVar(&f.addr, "addr", "", "Listen address (overrides STOREFRONT_ADDR)")

	cmd.AddCommand(serve)
	cmd.AddCommand(&cobra.Command{
		Use:   "shell",
		Short: "Run the interactive storefront shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), f)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func loadConfig(f flags) (config.Config, error) {
	var cfg config.Config
	if f.envFile != "" {
		cfg = config.Load(f.envFile)
	} else {
		cfg = config.Load()
	}
	if f.apiURL != "" {
		cfg.APIURL = f.apiURL
	}
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	return cfg, cfg.Validate()
}

type app struct {
	storefront *services.Storefront
	redis      *redis.Client
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Log.Warn("failed to close Redis client", zap.Error(err))
		}
	}
}

// newApp wires the storefront: session, API client, public key cache,
// cipher and renderer.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log := logger.Log
	session := services.NewSession()

	api, err := clients.NewAPIClient(cfg.APIURL, cfg.RequestTimeout, session, log.Named("api"))
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}

	a := &app{}
	var keys database.KeyStore = database.NewMemoryKeyStore()
	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Warn("Redis unavailable, caching the public key in memory", zap.Error(err))
		} else {
			a.redis = client
			keys = database.NewRedisKeyStore(client, cfg.APIURL, cfg.PublicKeyTTL)
		}
	}

	a.storefront = services.NewStorefront(
		api,
		session,
		keys,
		services.NewRSACipher(),
		views.NewRenderer(cfg.CurrencySymbol, cfg.DateLayout),
		log.Named("storefront"),
	)
	api.OnSessionExpired(a.storefront.ExpireSession)
	return a, nil
}

// initTelemetry starts the logger and, when configured, the CloudWatch log
// stream and request metrics. An AWS failure only leaves that sink off.
func initTelemetry(ctx context.Context, cfg config.Config, command string) middleware.MetricsRecorder {
	logger.Initialize(cfg.Env)
	if cfg.CloudWatchLogGroup == "" && cfg.CloudWatchNamespace == "" {
		return nil
	}

	awsCfg, err := telemetry.LoadAWSConfig(ctx, cfg.AWSEndpoint)
	if err != nil {
		logger.Log.Warn("AWS config unavailable, CloudWatch disabled", zap.Error(err))
		return nil
	}

	if cfg.CloudWatchLogGroup != "" {
		stream := telemetry.StreamName(appName + "-" + command)
		w, err := telemetry.NewCloudWatchLogWriter(ctx, awsCfg, cfg.CloudWatchLogGroup, stream)
		if err != nil {
			logger.Log.Warn("CloudWatch logs disabled", zap.Error(err))
		} else {
			logger.InitializeWithWriter(cfg.Env, w)
			logger.Log.Info("Shipping logs to CloudWatch",
				zap.String("log_group", cfg.CloudWatchLogGroup),
				zap.String("log_stream", stream),
			)
		}
	}

	if cfg.CloudWatchNamespace == "" {
		return nil
	}
	logger.Log.Info("Publishing request metrics to CloudWatch", zap.String("namespace", cfg.CloudWatchNamespace))
	return telemetry.NewCloudWatchMetrics(awsCfg, cfg.CloudWatchNamespace)
}

func runServe(ctx context.Context, f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	metrics := initTelemetry(ctx, cfg, "serve")
	defer func() { _ = logger.Log.Sync() }()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	limiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitPerMinute), cfg.RateLimitBurst, 5*time.Minute)
	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	go limiter.Run(stopCleanup)

	router := routes.NewRouter(a.storefront, limiter, routes.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        metrics,
	}, logger.Log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Storefront is running", zap.String("addr", cfg.Addr), zap.String("api_url", cfg.APIURL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-stop:
	}

	logger.Log.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Log.Info("Server shutdown complete.")
	return nil
}

func runShell(ctx context.Context, f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	initTelemetry(ctx, cfg, "shell")
	defer func() { _ = logger.Log.Sync() }()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintf(os.Stdout, "%s %s talking to %s. Type help.\n", appName, Version, cfg.APIURL)
	return shell.New(a.storefront, os.Stdin, os.Stdout).Run(ctx)
}
