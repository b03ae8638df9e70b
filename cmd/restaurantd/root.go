package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dinedir/restaurants"
	"github.com/dinedir/restaurants/fx/dynamorestaurantsfx"
	"github.com/dinedir/restaurants/fx/memoryrestaurantsfx"
	"github.com/dinedir/restaurants/internal/config"
	"github.com/dinedir/restaurants/internal/stats"
)

var (
	// Global flags.
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "restaurantd",
	Short: "Restaurant directory with a cache-aside layer over DynamoDB",
	Long: `restaurantd serves a restaurant directory over HTTP. Records live in
DynamoDB; reads go through memcached (or Redis, or an in-process cache)
when USE_CACHE is true.

Configuration comes from the environment, an optional .env file, and flags.

Examples:
  # Serve on :8080 against DynamoDB with memcached in front
  TABLE_NAME=Restaurants USE_CACHE=true \
  MEMCACHED_CONFIGURATION_ENDPOINT=cache:11211 restaurantd serve

  # Load restaurants from a JSONL file in S3
  restaurantd seed s3://my-bucket/restaurants.jsonl.zst

  # Look up a single restaurant
  restaurantd lookup "Chez Panisse"`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file (default ./.env if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// loadConfig reads the configuration, letting set flags override the
// environment. flagKeys maps flag names to configuration keys.
func loadConfig(cmd *cobra.Command, flagKeys map[string]string) (*config.Config, error) {
	v, err := config.NewViper(envFile)
	if err != nil {
		return nil, err
	}
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			return nil, fmt.Errorf("unknown flag %q", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, err
		}
	}
	return config.Decode(v)
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// directoryModule returns the fx options providing a coordinator for cfg.
func directoryModule(cfg *config.Config) fx.Option {
	if cfg.StoreBackend == config.StoreMemory {
		return memoryrestaurantsfx.Module
	}
	return dynamorestaurantsfx.Module
}

// baseOptions returns the fx options shared by every command.
func baseOptions(cfg *config.Config, log *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, log),
		fx.WithLogger(func() fxevent.Logger {
			if verbose {
				return &fxevent.ZapLogger{Logger: log.Named("fx")}
			}
			return fxevent.NopLogger
		}),
		fx.StopTimeout(cfg.ShutdownTimeout),
		directoryModule(cfg),
	)
}

// withDirectory starts the directory described by cfg, runs fn against it,
// and stops it again.
func withDirectory(ctx context.Context, cfg *config.Config, fn func(context.Context, *restaurants.Coordinator, stats.Collector, *zap.Logger) error) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	var (
		coord     *restaurants.Coordinator
		collector stats.Collector
	)
	app := fx.New(
		baseOptions(cfg, log),
		fx.Populate(&coord, &collector),
	)
	if err := app.Start(ctx); err != nil {
		return err
	}

	runErr := fn(ctx, coord, collector, log)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
