package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dinedir/restaurants"
	"github.com/dinedir/restaurants/internal/stats"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the best rated restaurants by cuisine, region, or both",
	Long: `List restaurants through the cache-aside layer, best rated first.

Examples:
  restaurantd list --cuisine Thai
  restaurantd list --region Austin --min-rating 4 --limit 20
  restaurantd list --region Austin --cuisine Thai`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var (
	listCuisine   string
	listRegion    string
	listLimit     int
	listMinRating float64
)

func init() {
	listCmd.Flags().StringVar(&listCuisine, "cuisine", "", "cuisine to filter by")
	listCmd.Flags().StringVar(&listRegion, "region", "", "region to filter by")
	listCmd.Flags().IntVar(&listLimit, "limit", restaurants.DefaultListLimit, "maximum number of results")
	listCmd.Flags().Float64Var(&listMinRating, "min-rating", 0, "exclude restaurants rated below this")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	var q restaurants.ListQuery
	switch {
	case listRegion != "" && listCuisine != "":
		q = restaurants.ByRegionAndCuisine(listRegion, listCuisine)
	case listRegion != "":
		q = restaurants.ByRegion(listRegion)
	case listCuisine != "":
		q = restaurants.ByCuisine(listCuisine)
	default:
		return errors.New("at least one of --cuisine and --region is required")
	}
	q = q.WithLimit(listLimit).WithMinRating(listMinRating)

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	return withDirectory(cmd.Context(), cfg, func(ctx context.Context, coord *restaurants.Coordinator, _ stats.Collector, _ *zap.Logger) error {
		list, err := coord.List(ctx, q)
		if errors.Is(err, restaurants.ErrNotFound) {
			fmt.Println("No restaurants found.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("listing restaurants: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCUISINE\tREGION\tRATING\tRATINGS")
		for _, r := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\n", r.Name, r.Cuisine, r.Region, r.Rating, r.RatingCount)
		}
		return w.Flush()
	})
}
