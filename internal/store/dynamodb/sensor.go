package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fieldsight-io/fieldsight/internal/store"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// GetCursor retrieves a sensor's ingestion cursor. A sensor that has never
// polled returns store.ErrNotFound; callers treat that as an empty listing.
func (p *DynamoDBStore) GetCursor(ctx context.Context, sensor string) (*types.IngestionCursor, error) {
	var cursor types.IngestionCursor
	if err := p.getDoc(ctx, sensorPK(sensor), skCursor, &cursor); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting cursor for %q: %w", sensor, err)
	}
	return &cursor, nil
}

// PutCursor advances a sensor's cursor. Called only after the corresponding
// trigger event has been durably recorded.
func (p *DynamoDBStore) PutCursor(ctx context.Context, cursor types.IngestionCursor) error {
	if err := p.putDoc(ctx, sensorPK(cursor.Sensor), skCursor, cursor); err != nil {
		return fmt.Errorf("advancing cursor for %q: %w", cursor.Sensor, err)
	}
	return nil
}

// AppendTrigger writes a trigger event to the sensor's trigger partition.
func (p *DynamoDBStore) AppendTrigger(ctx context.Context, event types.TriggerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &p.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":   &ddbtypes.AttributeValueMemberS{Value: sensorPK(event.Sensor)},
			"SK":   &ddbtypes.AttributeValueMemberS{Value: triggerSK(event.DetectedAt)},
			"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
		},
	})
	if err != nil {
		return fmt.Errorf("recording trigger for %q: %w", event.Sensor, err)
	}
	return nil
}

// ListTriggers returns recent trigger events for a sensor in chronological order.
func (p *DynamoDBStore) ListTriggers(ctx context.Context, sensor string, limit int) ([]types.TriggerEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	// Query newest-first, then reverse for chronological order.
	out, err := p.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &p.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: sensorPK(sensor)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixTrigger},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, err
	}

	events := make([]types.TriggerEvent, 0, len(out.Items))
	for i := len(out.Items) - 1; i >= 0; i-- {
		data, err := attributeStr(out.Items[i], "data")
		if err != nil {
			p.logger.Warn("skipping corrupt trigger data", "error", err)
			continue
		}
		var ev types.TriggerEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			p.logger.Warn("skipping corrupt trigger data", "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
