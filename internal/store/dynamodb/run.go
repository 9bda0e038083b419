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

// PutRunRecord stores a run record using dual-write: truth item + list copy
// under the composite-key partition.
func (p *DynamoDBStore) PutRunRecord(ctx context.Context, record types.RunRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	_, err = p.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{
				Put: &ddbtypes.Put{
					TableName: &p.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK":   &ddbtypes.AttributeValueMemberS{Value: runPK(record.RunID)},
						"SK":   &ddbtypes.AttributeValueMemberS{Value: runTruthSK(record.RunID)},
						"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
					},
				},
			},
			{
				Put: &ddbtypes.Put{
					TableName: &p.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK":   &ddbtypes.AttributeValueMemberS{Value: keyPK(record.Key, record.Kind)},
						"SK":   &ddbtypes.AttributeValueMemberS{Value: runListSK(record.StartedAt, record.RunID)},
						"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("storing run record %s: %w", record.RunID, err)
	}
	return nil
}

// GetRunRecord retrieves a run record from the truth item (strongly consistent).
func (p *DynamoDBStore) GetRunRecord(ctx context.Context, runID string) (*types.RunRecord, error) {
	var record types.RunRecord
	if err := p.getDoc(ctx, runPK(runID), runTruthSK(runID), &record); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting run record %s: %w", runID, err)
	}
	return &record, nil
}

// ListRunRecords returns run records for a composite key, newest first.
func (p *DynamoDBStore) ListRunRecords(ctx context.Context, key types.CompositeKey, kind types.IndexKind, limit int) ([]types.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	out, err := p.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &p.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":     &ddbtypes.AttributeValueMemberS{Value: keyPK(key, kind)},
			":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixRun},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("listing run records for %s: %w", key, err)
	}

	records := make([]types.RunRecord, 0, len(out.Items))
	for _, item := range out.Items {
		data, err := attributeStr(item, "data")
		if err != nil {
			p.logger.Warn("skipping corrupt run record", "error", err)
			continue
		}
		var rec types.RunRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			p.logger.Warn("skipping corrupt run record", "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// LatestRunRecord returns the most recent run record for a composite key, or
// store.ErrNotFound when the key has never run.
func (p *DynamoDBStore) LatestRunRecord(ctx context.Context, key types.CompositeKey, kind types.IndexKind) (*types.RunRecord, error) {
	records, err := p.ListRunRecords(ctx, key, kind, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}
	return &records[0], nil
}

// PutBaseState upserts the latest materialized value marker for a Tier 0 asset.
func (p *DynamoDBStore) PutBaseState(ctx context.Context, state types.BaseAssetState) error {
	return p.putDoc(ctx, basePK(state.Asset), skState, state)
}

// GetBaseState retrieves the latest materialized value marker for a Tier 0
// asset, or store.ErrNotFound if the asset has never materialized.
func (p *DynamoDBStore) GetBaseState(ctx context.Context, asset string) (*types.BaseAssetState, error) {
	var state types.BaseAssetState
	if err := p.getDoc(ctx, basePK(asset), skState, &state); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting base state %q: %w", asset, err)
	}
	return &state, nil
}
