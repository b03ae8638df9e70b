package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dinedir/restaurants"
	"github.com/dinedir/restaurants/internal/stats"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup NAME",
	Short: "Look up a restaurant by name",
	Long: `Look up a single restaurant through the cache-aside layer, exactly as
GET /restaurants/{name} would.

Examples:
  restaurantd lookup "Chez Panisse"
  restaurantd lookup Lula --json --timing`,
	Args: cobra.ExactArgs(1),
	RunE: runLookup,
}

var (
	outputJSON bool
	showTiming bool
)

func init() {
	lookupCmd.Flags().BoolVar(&outputJSON, "json", false, "output result as JSON")
	lookupCmd.Flags().BoolVar(&showTiming, "timing", false, "show lookup timing")
	rootCmd.AddCommand(lookupCmd)
}

func runLookup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	return withDirectory(cmd.Context(), cfg, func(ctx context.Context, coord *restaurants.Coordinator, _ stats.Collector, _ *zap.Logger) error {
		start := time.Now()
		r, err := coord.Get(ctx, args[0])
		if err != nil {
			if errors.Is(err, restaurants.ErrNotFound) {
				return fmt.Errorf("restaurant %q not found", args[0])
			}
			return fmt.Errorf("lookup failed: %w", err)
		}
		elapsed := time.Since(start)

		if outputJSON {
			return printRestaurantJSON(r, elapsed)
		}
		printRestaurantText(r, elapsed)
		return nil
	})
}

func printRestaurantText(r *restaurants.Restaurant, elapsed time.Duration) {
	fmt.Printf("Name:    %s\n", r.Name)
	fmt.Printf("Cuisine: %s\n", r.Cuisine)
	fmt.Printf("Region:  %s\n", r.Region)
	fmt.Printf("Rating:  %.2f (%d ratings)\n", r.Rating, r.RatingCount)
	if showTiming {
		fmt.Printf("Time:    %s\n", elapsed)
	}
}

func printRestaurantJSON(r *restaurants.Restaurant, elapsed time.Duration) error {
	out := struct {
		*restaurants.Restaurant
		ElapsedMS *int64 `json:"elapsed_ms,omitempty"`
	}{Restaurant: r}
	if showTiming {
		ms := elapsed.Milliseconds()
		out.ElapsedMS = &ms
	}
	return json.NewEncoder(os.Stdout).Encode(out)
}
