package stream

import (
	"context"
	"fmt"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoCheckpointer stores per-shard checkpoints in a DynamoDB lease
// table, the conventional pairing for Kinesis-style shard consumers.
type DynamoCheckpointer struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoCheckpointer constructs a checkpointer against the given
// table, keyed by a "shard_id" partition key.
func NewDynamoCheckpointer(ctx context.Context, region, table string) (*DynamoCheckpointer, error) {
	if table == "" {
		return nil, fmt.Errorf("dynamodb checkpoint table required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &DynamoCheckpointer{client: dynamodb.NewFromConfig(cfg), table: table}, nil
}

// Checkpoint writes the shard's last successfully emitted sequence
// number. A plain PutItem is sufficient: a shard is owned by exactly one
// worker at a time (spec.md §5), so no conditional write is required.
func (c *DynamoCheckpointer) Checkpoint(ctx context.Context, shardID, sequenceNumber string) error {
	_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &c.table,
		Item: map[string]types.AttributeValue{
			"shard_id":        &types.AttributeValueMemberS{Value: shardID},
			"sequence_number": &types.AttributeValueMemberS{Value: sequenceNumber},
		},
	})
	if err != nil {
		return fmt.Errorf("checkpoint shard %s: %w", shardID, err)
	}
	return nil
}
