package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dinedir/restaurants"
	"github.com/dinedir/restaurants/internal/config"
	"github.com/dinedir/restaurants/internal/seed"
	"github.com/dinedir/restaurants/internal/seed/filesource"
	"github.com/dinedir/restaurants/internal/seed/gcssource"
	"github.com/dinedir/restaurants/internal/seed/httpsource"
	"github.com/dinedir/restaurants/internal/seed/s3source"
	"github.com/dinedir/restaurants/internal/stats"
)

var seedCmd = &cobra.Command{
	Use:   "seed SOURCE",
	Short: "Load restaurants from a JSONL file",
	Long: `Create restaurants from a file holding one JSON object per line:

  {"name":"Lula","cuisine":"Thai","region":"Austin","rating":4.5}

Records go through the same path as POST /restaurants. Existing names are
counted as duplicates and invalid lines are skipped; any other failure stops
the load.

SOURCE may be a local path, s3://bucket/key, gs://bucket/object, or an
http(s) URL. A .gz or .zst extension selects decompression.

Examples:
  restaurantd seed ./restaurants.jsonl
  restaurantd seed s3://my-bucket/restaurants.jsonl.zst --workers 16
  restaurantd seed https://example.com/restaurants.jsonl.gz`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

var (
	seedWorkers    int
	seedQuiet      bool
	seedS3Endpoint string
)

func init() {
	seedCmd.Flags().IntVar(&seedWorkers, "workers", seed.DefaultWorkers, "number of concurrent creates")
	seedCmd.Flags().BoolVarP(&seedQuiet, "quiet", "q", false, "suppress progress output")
	seedCmd.Flags().StringVar(&seedS3Endpoint, "s3-endpoint", "", "custom S3 endpoint (for S3-compatible services)")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := openSource(ctx, args[0], cfg)
	if err != nil {
		return err
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	return withDirectory(ctx, cfg, func(ctx context.Context, coord *restaurants.Coordinator, collector stats.Collector, log *zap.Logger) error {
		opts := []seed.Option{
			seed.WithWorkers(seedWorkers),
			seed.WithStats(collector),
			seed.WithLogger(log.Named("seed")),
		}
		if !seedQuiet {
			opts = append(opts, seed.WithProgress(seed.WriterProgressFunc(os.Stderr)))
		}

		fmt.Printf("Seeding restaurants\n")
		fmt.Printf("  Source:  %s\n", args[0])
		fmt.Printf("  Store:   %s\n", describeStore(cfg))
		fmt.Printf("  Workers: %d\n", seedWorkers)
		fmt.Println()

		res, err := seed.New(coord, opts...).Load(ctx, src)
		if err != nil {
			return fmt.Errorf("seeding from %s: %w", args[0], err)
		}

		if seedQuiet {
			fmt.Printf("%d records: %d created, %d duplicates, %d invalid (%s)\n",
				res.Read, res.Created, res.Duplicates, res.Invalid, seed.FormatDuration(res.Duration))
		}
		return nil
	})
}

// openSource picks the seed source for uri by its scheme.
func openSource(ctx context.Context, uri string, cfg *config.Config) (seed.Source, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		src, err := s3source.New(ctx, uri,
			s3source.WithRegion(cfg.AWSRegion),
			s3source.WithEndpoint(seedS3Endpoint),
		)
		if err != nil {
			return nil, err
		}
		return src, nil
	case strings.HasPrefix(uri, "gs://"):
		src, err := gcssource.New(ctx, uri)
		if err != nil {
			return nil, err
		}
		return src, nil
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		src, err := httpsource.New(uri)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		if _, err := os.Stat(uri); err != nil {
			return nil, fmt.Errorf("seed file: %w", err)
		}
		return filesource.New(uri), nil
	}
}

func describeStore(cfg *config.Config) string {
	if cfg.StoreBackend == config.StoreMemory {
		return "memory"
	}
	return "dynamodb table " + cfg.TableName
}
