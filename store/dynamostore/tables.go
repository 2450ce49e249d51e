package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// EnsureTables creates any missing table, waits until all are active and
// enables TTL on the ttl attribute. The records table streams new and old
// images for the cascade handler.
func (s *Store) EnsureTables(ctx context.Context) error {
	tables := []struct {
		name   string
		hash   string
		rng    string
		stream bool
	}{
		{s.config.RecordTable, "kind", "id", true},
		{s.config.RelationshipTable, "pk", "child_ref", false},
		{s.config.UniqueTable, "pk", "sk", false},
	}

	var created []string
	for _, tbl := range tables {
		_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tbl.name)})
		if err == nil {
			continue
		}
		var notFound *types.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return fmt.Errorf("describe table %s: %w", tbl.name, err)
		}

		input := &dynamodb.CreateTableInput{
			TableName: aws.String(tbl.name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(tbl.hash), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(tbl.rng), KeyType: types.KeyTypeRange},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(tbl.hash), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(tbl.rng), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		}
		if tbl.stream {
			input.StreamSpecification = &types.StreamSpecification{
				StreamEnabled:  aws.Bool(true),
				StreamViewType: types.StreamViewTypeNewAndOldImages,
			}
		}
		if _, err := s.client.CreateTable(ctx, input); err != nil {
			return fmt.Errorf("create table %s: %w", tbl.name, err)
		}
		s.logger.Info("created table", "table", tbl.name)
		created = append(created, tbl.name)
	}

	// Wait for all tables to be active
	waiter := dynamodb.NewTableExistsWaiter(s.client)
	for _, name := range created {
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", name, err)
		}
		_, err := s.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
			TableName: aws.String(name),
			TimeToLiveSpecification: &types.TimeToLiveSpecification{
				AttributeName: aws.String("ttl"),
				Enabled:       aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("enable ttl on %s: %w", name, err)
		}
	}
	return nil
}
