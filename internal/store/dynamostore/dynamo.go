// Package dynamostore implements the durable store on Amazon DynamoDB.
//
// The table is keyed by restaurant name and carries three global secondary
// indexes: cuisine and region each paired with rating as sort key, and
// region paired with cuisine.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dinedir/restaurants/internal/store"
)

// Attribute and index names of the restaurants table.
const (
	AttrName        = "RestaurantNameKey"
	AttrCuisine     = "cuisine"
	AttrRegion      = "GeoRegion"
	AttrRating      = "rating"
	AttrRatingCount = "rating_count"

	IndexCuisineRating = "CuisineRatingIndex"
	IndexRegionRating  = "GeoRegionRatingIndex"
	IndexRegionCuisine = "GeoCuisineIndex"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// API is the subset of the DynamoDB client used by Store.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// item is the DynamoDB representation of a restaurant.
type item struct {
	Name        string  `dynamodbav:"RestaurantNameKey"`
	Cuisine     string  `dynamodbav:"cuisine"`
	Region      string  `dynamodbav:"GeoRegion"`
	Rating      float64 `dynamodbav:"rating"`
	RatingCount int     `dynamodbav:"rating_count"`
}

func toItem(r store.Record) item {
	return item(r)
}

func (it item) record() store.Record {
	return store.Record(it)
}

// Store is a DynamoDB-backed store.
type Store struct {
	client API
	table  string
}

// Option configures a Store.
type Option func(*settings) error

type settings struct {
	region   string
	endpoint string
	client   API
}

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(s *settings) error {
		s.region = region
		return nil
	}
}

// WithEndpoint sets a custom endpoint (for DynamoDB Local).
func WithEndpoint(endpoint string) Option {
	return func(s *settings) error {
		s.endpoint = endpoint
		return nil
	}
}

// WithAPI replaces the DynamoDB client. Region and endpoint are ignored.
func WithAPI(client API) Option {
	return func(s *settings) error {
		if client == nil {
			return errors.New("dynamostore: nil client")
		}
		s.client = client
		return nil
	}
}

// New creates a new DynamoDB store on the given table.
// The table and its indexes must already exist.
func New(ctx context.Context, table string, opts ...Option) (*Store, error) {
	if table == "" {
		return nil, errors.New("dynamostore: table name is required")
	}

	var s settings
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return nil, err
		}
	}

	client := s.client
	if client == nil {
		var loadOpts []func(*config.LoadOptions) error
		if s.region != "" {
			loadOpts = append(loadOpts, config.WithRegion(s.region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			if s.endpoint != "" {
				o.BaseEndpoint = aws.String(s.endpoint)
			}
		})
	}

	return &Store{client: client, table: table}, nil
}

// Table returns the table name.
func (s *Store) Table() string {
	return s.table
}

// Get performs a strongly consistent read of name.
func (s *Store) Get(ctx context.Context, name string) (store.Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            nameKey(name),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return store.Record{}, fmt.Errorf("getting item: %w", err)
	}
	if len(out.Item) == 0 {
		return store.Record{}, store.ErrNotFound
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return store.Record{}, fmt.Errorf("decoding item: %w", err)
	}
	return it.record(), nil
}

// Create puts r on the condition that no item holds its name.
func (s *Store) Create(ctx context.Context, r store.Record) error {
	av, err := attributevalue.MarshalMap(toItem(r))
	if err != nil {
		return fmt.Errorf("encoding item: %w", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(AttrName))).
		Build()
	if err != nil {
		return fmt.Errorf("building condition: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionFailure(err) {
			return store.ErrExists
		}
		return fmt.Errorf("putting item: %w", err)
	}
	return nil
}

// Delete removes name on the condition that it exists.
func (s *Store) Delete(ctx context.Context, name string) error {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name(AttrName))).
		Build()
	if err != nil {
		return fmt.Errorf("building condition: %w", err)
	}

	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.table),
		Key:                      nameKey(name),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if isConditionFailure(err) {
			return store.ErrNotFound
		}
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// UpdateRating sets rating and count, conditional on the item existing with
// a rating count of expectedCount. Items written without a count are treated
// as having a count of zero.
func (s *Store) UpdateRating(ctx context.Context, name string, rating float64, count, expectedCount int) error {
	countMatches := expression.Name(AttrRatingCount).Equal(expression.Value(expectedCount))
	if expectedCount == 0 {
		countMatches = expression.AttributeNotExists(expression.Name(AttrRatingCount)).Or(countMatches)
	}
	cond := expression.AttributeExists(expression.Name(AttrName)).And(countMatches)

	update := expression.
		Set(expression.Name(AttrRating), expression.Value(rating)).
		Set(expression.Name(AttrRatingCount), expression.Value(count))

	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.table),
		Key:                                 nameKey(name),
		UpdateExpression:                    expr.Update(),
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return store.ErrNotFound
			}
			return store.ErrConflict
		}
		return fmt.Errorf("updating item: %w", err)
	}
	return nil
}

// Query reads q through the matching secondary index. Cuisine-only and
// region-only queries use rating-sorted indexes and stop at q.Limit. Queries
// on both attributes page through every match, since that index is not
// sorted by rating.
func (s *Store) Query(ctx context.Context, q store.IndexQuery) ([]store.Record, error) {
	in, sorted, err := s.queryInput(q)
	if err != nil {
		return nil, err
	}

	var recs []store.Record
	paginator := dynamodb.NewQueryPaginator(s.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying %s: %w", aws.ToString(in.IndexName), err)
		}

		var items []item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("decoding items: %w", err)
		}
		for _, it := range items {
			recs = append(recs, it.record())
		}

		if sorted && q.Limit > 0 && len(recs) >= q.Limit {
			break
		}
	}

	if !sorted {
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].Rating > recs[j].Rating
		})
	}
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	return recs, nil
}

// queryInput builds the query for q and reports whether the chosen index
// returns items in rating order.
func (s *Store) queryInput(q store.IndexQuery) (*dynamodb.QueryInput, bool, error) {
	minRating := expression.Key(AttrRating).GreaterThanEqual(expression.Value(q.MinRating))

	var (
		index  string
		sorted = true
		b      = expression.NewBuilder()
	)
	switch {
	case q.Cuisine != "" && q.Region != "":
		index, sorted = IndexRegionCuisine, false
		b = b.WithKeyCondition(expression.Key(AttrRegion).Equal(expression.Value(q.Region)).
			And(expression.Key(AttrCuisine).Equal(expression.Value(q.Cuisine))))
		if q.MinRating > 0 {
			b = b.WithFilter(expression.Name(AttrRating).GreaterThanEqual(expression.Value(q.MinRating)))
		}
	case q.Cuisine != "":
		index = IndexCuisineRating
		b = b.WithKeyCondition(expression.Key(AttrCuisine).Equal(expression.Value(q.Cuisine)).And(minRating))
	case q.Region != "":
		index = IndexRegionRating
		b = b.WithKeyCondition(expression.Key(AttrRegion).Equal(expression.Value(q.Region)).And(minRating))
	default:
		return nil, false, errors.New("dynamostore: query needs a cuisine or a region")
	}

	expr, err := b.Build()
	if err != nil {
		return nil, false, fmt.Errorf("building query: %w", err)
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}
	if sorted && q.Limit > 0 {
		in.Limit = aws.Int32(int32(q.Limit))
	}
	return in, sorted, nil
}

// Close releases resources.
func (s *Store) Close() error {
	// The DynamoDB client holds no resources that need closing.
	return nil
}

func nameKey(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrName: &types.AttributeValueMemberS{Value: name},
	}
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
