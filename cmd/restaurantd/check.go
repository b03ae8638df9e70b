package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dinedir/restaurants"
	"github.com/dinedir/restaurants/fx/restaurantsfx"
	"github.com/dinedir/restaurants/internal/config"
	"github.com/dinedir/restaurants/internal/stats"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the store and the cache are reachable",
	Long: `Check connectivity to the configured backends.

This command checks:
- The cache backend answers a ping (when USE_CACHE is true)
- The store answers a read of a name that does not exist`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

var checkTimeout time.Duration

func init() {
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 5*time.Second, "timeout for each check")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	var failed int
	report := func(name string, err error) {
		if err != nil {
			failed++
			fmt.Printf("  %-6s FAIL  %v\n", name, err)
			return
		}
		fmt.Printf("  %-6s OK\n", name)
	}

	fmt.Println("Checking backends")

	if cfg.UseCache && cfg.StoreBackend != config.StoreMemory {
		report("cache", checkCache(cmd.Context(), cfg))
	}

	err = withDirectory(cmd.Context(), cfg, func(ctx context.Context, coord *restaurants.Coordinator, _ stats.Collector, _ *zap.Logger) error {
		ctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		_, err := coord.Get(ctx, "restaurantd-check-"+uuid.NewString())
		if errors.Is(err, restaurants.ErrNotFound) {
			err = nil
		}
		report("store", err)
		return nil
	})
	if err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func checkCache(ctx context.Context, cfg *config.Config) error {
	b, err := restaurantsfx.NewCacheBackend(cfg, stats.NewNoop())
	if err != nil {
		return err
	}
	defer b.Close()

	p, ok := b.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return p.Ping(ctx)
}
