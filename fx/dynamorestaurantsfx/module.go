// Package dynamorestaurantsfx provides an fx module for a DynamoDB-backed
// restaurant directory with a configurable cache in front of it.
package dynamorestaurantsfx

import (
	"context"

	"go.uber.org/fx"

	"github.com/dinedir/restaurants/fx/restaurantsfx"
	"github.com/dinedir/restaurants/internal/config"
	"github.com/dinedir/restaurants/internal/store"
	"github.com/dinedir/restaurants/internal/store/dynamostore"
)

// Module provides a *restaurants.Coordinator over DynamoDB.
// Requires a *config.Config and a *zap.Logger to be provided.
var Module = fx.Module("dynamorestaurants",
	fx.Provide(newStore),
	restaurantsfx.Core,
)

func newStore(cfg *config.Config) (store.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	defer cancel()

	st, err := dynamostore.New(ctx, cfg.TableName,
		dynamostore.WithRegion(cfg.AWSRegion),
		dynamostore.WithEndpoint(cfg.DynamoDBEndpoint),
	)
	if err != nil {
		return nil, err
	}
	return st, nil
}
