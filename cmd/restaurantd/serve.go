package main

import (
	"context"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/dinedir/restaurants"
	"github.com/dinedir/restaurants/internal/config"
	"github.com/dinedir/restaurants/internal/server"
	"github.com/dinedir/restaurants/internal/stats"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the restaurant directory over HTTP",
	Long: `Serve the directory API until interrupted.

Routes:
  GET    /                                              configuration summary
  POST   /restaurants                                   create
  GET    /restaurants/{name}                            read
  DELETE /restaurants/{name}                            delete
  POST   /restaurants/rating                            submit a rating
  GET    /restaurants/cuisine/{cuisine}                 list by cuisine
  GET    /restaurants/region/{region}                   list by region
  GET    /restaurants/region/{region}/cuisine/{cuisine} list by both
  GET    /healthz                                       liveness
  GET    /metrics                                       Prometheus metrics

List routes accept ?limit= (default 10, at most 100) and ?minRating=.

Examples:
  # Local development without AWS
  restaurantd serve --store memory --cache memory --use-cache

  # Production settings from a file
  restaurantd serve --env-file /etc/restaurantd.env`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", server.DefaultAddr, "address to listen on")
	serveCmd.Flags().String("store", config.StoreDynamoDB, "store backend: dynamodb, memory")
	serveCmd.Flags().String("cache", config.CacheMemcached, "cache backend: memcached, redis, memory")
	serveCmd.Flags().Bool("use-cache", false, "put the cache in front of the store")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{
		"listen":    config.KeyListenAddr,
		"store":     config.KeyStoreBackend,
		"cache":     config.KeyCacheBackend,
		"use-cache": config.KeyUseCache,
	})
	if err != nil {
		return err
	}

	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	log.Info("starting restaurantd",
		zap.String("store", cfg.StoreBackend),
		zap.Bool("use_cache", cfg.UseCache),
		zap.String("cache", cfg.CacheBackend),
		zap.String("listen", cfg.ListenAddr),
	)

	app := fx.New(
		baseOptions(cfg, log),
		fx.Provide(newServer),
		fx.Invoke(func(*server.Server) {}),
	)
	app.Run()
	return app.Err()
}

type serverParams struct {
	fx.In

	Config      *config.Config
	Logger      *zap.Logger
	Coordinator *restaurants.Coordinator
	Collector   stats.Collector
	Metrics     http.Handler `name:"metrics" optional:"true"`
	Lifecycle   fx.Lifecycle
}

func newServer(p serverParams) *server.Server {
	s := server.New(p.Coordinator,
		server.WithAddr(p.Config.ListenAddr),
		server.WithInfo(server.Info{
			MemcachedEndpoint: p.Config.MemcachedEndpoint,
			TableName:         p.Config.TableName,
			AWSRegion:         p.Config.AWSRegion,
			UseCache:          p.Config.UseCache,
		}),
		server.WithMetricsHandler(p.Metrics),
		server.WithStats(p.Collector),
		server.WithLogger(p.Logger.Named("http")),
	)

	p.Lifecycle.Append(fx.Hook{
		OnStart: s.Start,
		OnStop: func(ctx context.Context) error {
			return s.Shutdown(ctx)
		},
	})
	return s
}
