package store

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"
)

// DefaultDynamoDBTable is the table used when none is configured.
const DefaultDynamoDBTable = "objectbox_records"

const (
	attrCollection = "collection"
	attrID         = "id"
	attrData       = "data"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDBStore.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDBStore keeps all collections in a single DynamoDB table with
// partition key "collection" and sort key "id". The document itself is
// stored as a map attribute under "data" so field names never collide with
// the key attributes.
type DynamoDBStore struct {
	client DynamoDBAPI
	table  string
}

// NewDynamoDBStore creates a store on an existing table.
func NewDynamoDBStore(client DynamoDBAPI, table string) *DynamoDBStore {
	if table == "" {
		table = DefaultDynamoDBTable
	}
	return &DynamoDBStore{client: client, table: table}
}

// NewDynamoDBClient builds a client from the default AWS credential chain.
// A non-empty endpoint overrides the service endpoint (e.g. DynamoDB Local).
func NewDynamoDBClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load AWS config")
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (s *DynamoDBStore) Close() error { return nil }

func (s *DynamoDBStore) key(collection, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrCollection: &types.AttributeValueMemberS{Value: collection},
		attrID:         &types.AttributeValueMemberS{Value: key},
	}
}

func (s *DynamoDBStore) GetAll(ctx context.Context, collection string) (map[string]map[string]any, error) {
	result := make(map[string]map[string]any)
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                aws.String(s.table),
		KeyConditionExpression:   aws.String("#c = :c"),
		ExpressionAttributeNames: map[string]string{"#c": attrCollection},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: collection},
		},
		ConsistentRead: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			id, ok := item[attrID].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			doc, err := unmarshalData(item)
			if err != nil {
				return nil, errors.Wrapf(err, "%s/%s", collection, id.Value)
			}
			result[id.Value] = doc
		}
	}
	return result, nil
}

func (s *DynamoDBStore) Get(ctx context.Context, collection, key string) (map[string]any, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(collection, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	return unmarshalData(out.Item)
}

func (s *DynamoDBStore) Put(ctx context.Context, collection, key string, doc map[string]any) error {
	if doc == nil {
		doc = map[string]any{}
	}
	data, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return errors.Wrap(err, "marshal document")
	}
	item := s.key(collection, key)
	item[attrData] = &types.AttributeValueMemberM{Value: data}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return err
}

func (s *DynamoDBStore) Delete(ctx context.Context, collection, key string) (bool, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          s.key(collection, key),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, err
	}
	return len(out.Attributes) > 0, nil
}

func (s *DynamoDBStore) ListCollections(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.table),
		ProjectionExpression:     aws.String("#c"),
		ExpressionAttributeNames: map[string]string{"#c": attrCollection},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if c, ok := item[attrCollection].(*types.AttributeValueMemberS); ok {
				seen[c.Value] = struct{}{}
			}
		}
	}
	var names []string
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// unmarshalData decodes the "data" map attribute of an item.
func unmarshalData(item map[string]types.AttributeValue) (map[string]any, error) {
	doc := map[string]any{}
	data, ok := item[attrData].(*types.AttributeValueMemberM)
	if !ok {
		return doc, nil
	}
	if err := attributevalue.UnmarshalMap(data.Value, &doc); err != nil {
		return nil, errors.Wrap(err, "unmarshal document")
	}
	return doc, nil
}
