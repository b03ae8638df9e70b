// Package memoryrestaurantsfx provides an fx module for a restaurant
// directory kept in process memory. Every setting other than the store
// backend is taken from the configuration, as for DynamoDB.
// Useful for testing and local development.
package memoryrestaurantsfx

import (
	"go.uber.org/fx"

	"github.com/dinedir/restaurants/fx/restaurantsfx"
	"github.com/dinedir/restaurants/internal/store"
	"github.com/dinedir/restaurants/internal/store/memstore"
)

// Module provides a *restaurants.Coordinator over an in-memory store.
// Requires a *config.Config and a *zap.Logger to be provided.
var Module = fx.Module("memoryrestaurants",
	fx.Provide(newMemStore),
	restaurantsfx.Core,
)

// StoreResult provides the in-memory store both as the coordinator's
// store.Store and as *memstore.Store, for test setup.
type StoreResult struct {
	fx.Out

	Store    store.Store
	MemStore *memstore.Store
}

func newMemStore() StoreResult {
	st := memstore.New()
	return StoreResult{Store: st, MemStore: st}
}
