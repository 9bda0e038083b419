package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fieldsight-io/fieldsight/internal/store"
	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// AddFieldPartition inserts a field id into the registry snapshot. The
// conditional put guarantees exactly one concurrent caller observes
// added=true for a given id.
func (p *DynamoDBStore) AddFieldPartition(ctx context.Context, id string) (bool, error) {
	_, err := p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &p.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":        &ddbtypes.AttributeValueMemberS{Value: registryPK()},
			"SK":        &ddbtypes.AttributeValueMemberS{Value: registrySK(id)},
			"createdAt": &ddbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("adding field partition %q: %w", id, err)
	}
	return true, nil
}

// ListFieldPartitions returns every registered field id.
func (p *DynamoDBStore) ListFieldPartitions(ctx context.Context) ([]string, error) {
	var (
		ids     []string
		lastKey map[string]ddbtypes.AttributeValue
	)
	for {
		out, err := p.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              &p.tableName,
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk":     &ddbtypes.AttributeValueMemberS{Value: registryPK()},
				":prefix": &ddbtypes.AttributeValueMemberS{Value: prefixField},
			},
			ExclusiveStartKey: lastKey,
		})
		if err != nil {
			return nil, fmt.Errorf("listing field partitions: %w", err)
		}
		for _, item := range out.Items {
			sk, err := attributeStr(item, "SK")
			if err != nil {
				p.logger.Warn("skipping malformed registry item", "error", err)
				continue
			}
			ids = append(ids, sk[len(prefixField):])
		}
		if out.LastEvaluatedKey == nil {
			return ids, nil
		}
		lastKey = out.LastEvaluatedKey
	}
}

// RemoveFieldPartition deletes a field id from the registry. Administrative
// action only; run history for the field is retained.
func (p *DynamoDBStore) RemoveFieldPartition(ctx context.Context, id string) error {
	_, err := p.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &p.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: registryPK()},
			"SK": &ddbtypes.AttributeValueMemberS{Value: registrySK(id)},
		},
	})
	return err
}

// PutField stores a field document (upsert).
func (p *DynamoDBStore) PutField(ctx context.Context, field types.Field) error {
	return p.putDoc(ctx, fieldPK(field.ID), skDoc, field)
}

// GetField retrieves a field document.
func (p *DynamoDBStore) GetField(ctx context.Context, id string) (*types.Field, error) {
	var field types.Field
	if err := p.getDoc(ctx, fieldPK(id), skDoc, &field); err != nil {
		return nil, err
	}
	return &field, nil
}

// PutBoundingBox stores the bounding box document (upsert).
func (p *DynamoDBStore) PutBoundingBox(ctx context.Context, bbox types.BoundingBox) error {
	return p.putDoc(ctx, pkBBox, skDoc, bbox)
}

// GetBoundingBox retrieves the bounding box document.
func (p *DynamoDBStore) GetBoundingBox(ctx context.Context) (*types.BoundingBox, error) {
	var bbox types.BoundingBox
	if err := p.getDoc(ctx, pkBBox, skDoc, &bbox); err != nil {
		return nil, err
	}
	return &bbox, nil
}

// putDoc writes a JSON document under (pk, sk).
func (p *DynamoDBStore) putDoc(ctx context.Context, pk, sk string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &p.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":   &ddbtypes.AttributeValueMemberS{Value: pk},
			"SK":   &ddbtypes.AttributeValueMemberS{Value: sk},
			"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
		},
	})
	return err
}

// getDoc reads a JSON document from (pk, sk) with strong consistency.
func (p *DynamoDBStore) getDoc(ctx context.Context, pk, sk string, doc any) error {
	out, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &p.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: pk},
			"SK": &ddbtypes.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return err
	}
	if out.Item == nil {
		return store.ErrNotFound
	}
	data, err := attributeStr(out.Item, "data")
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), doc)
}

// attributeStr extracts a string attribute from a DynamoDB item.
func attributeStr(item map[string]ddbtypes.AttributeValue, key string) (string, error) {
	av, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	var s string
	if err := attributevalue.Unmarshal(av, &s); err != nil {
		return "", fmt.Errorf("unmarshaling %q: %w", key, err)
	}
	return s, nil
}
