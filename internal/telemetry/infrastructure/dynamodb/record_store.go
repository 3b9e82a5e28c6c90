package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	telemetry "sensor-gateway/internal/telemetry/domain"
)

// PutItemAPI is the subset of the DynamoDB client the store needs.
type PutItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type recordItem struct {
	ID          string         `dynamodbav:"id"`
	DeviceID    string         `dynamodbav:"deviceId"`
	SensorType  string         `dynamodbav:"sensorType"`
	Value       float64        `dynamodbav:"value"`
	Unit        string         `dynamodbav:"unit"`
	Timestamp   string         `dynamodbav:"timestamp"`
	Location    string         `dynamodbav:"location"`
	IsAnomalous bool           `dynamodbav:"isAnomalous"`
	IngestedAt  string         `dynamodbav:"ingestedAt"`
	Metadata    map[string]any `dynamodbav:"metadata"`
}

// RecordStore writes telemetry records as DynamoDB items.
type RecordStore struct {
	client    PutItemAPI
	tableName string
}

// NewRecordStore constructs a store for one table.
func NewRecordStore(client PutItemAPI, tableName string) (*RecordStore, error) {
	if client == nil {
		return nil, errors.New("dynamodb store: nil client")
	}
	if tableName == "" {
		return nil, errors.New("dynamodb store: empty table name")
	}
	return &RecordStore{client: client, tableName: tableName}, nil
}

// CreateRecord puts one item and returns its generated id.
func (s *RecordStore) CreateRecord(ctx context.Context, record telemetry.Record) (string, error) {
	metadata := record.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	item := recordItem{
		ID:          uuid.NewString(),
		DeviceID:    record.DeviceID,
		SensorType:  string(record.SensorType),
		Value:       record.Value,
		Unit:        record.Unit,
		Timestamp:   record.Timestamp.UTC().Format(time.RFC3339Nano),
		Location:    record.Location,
		IsAnomalous: record.IsAnomalous,
		IngestedAt:  record.IngestedAt.UTC().Format(time.RFC3339Nano),
		Metadata:    metadata,
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return "", fmt.Errorf("dynamodb store: marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return "", classify(err)
	}
	return item.ID, nil
}

func classify(err error) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", telemetry.ErrStoreNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException", "InvalidSignatureException", "ExpiredTokenException":
			return fmt.Errorf("%w: %s", telemetry.ErrStoreUnauthorized, apiErr.ErrorCode())
		}
	}
	return fmt.Errorf("dynamodb store: put item: %w", err)
}
