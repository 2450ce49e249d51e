// Command cascade is the Lambda function attached to the records table
// stream. It finishes deletes that were left to the stream: it releases
// relationship and unique-constraint entries and expires children.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/bibliodigit/internal/config"
	"github.com/jacentio/bibliodigit/internal/logging"
	"github.com/jacentio/bibliodigit/store/dynamostore"
	"github.com/jacentio/bibliodigit/stream"
)

func main() {
	cfg := config.Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		fmt.Fprintf(os.Stderr, "cascade: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: "json"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cascade: %v\n", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	ddb := cfg.Store.DynamoDB
	s := dynamostore.New(dynamodb.NewFromConfig(awsCfg), dynamostore.Config{
		RecordTable:       ddb.RecordTable,
		RelationshipTable: ddb.RelationshipTable,
		UniqueTable:       ddb.UniqueTable,
		NumShards:         ddb.NumShards,
	}, logger)

	lambda.Start(stream.NewHandler(s, logger).HandleCascadeDelete)
}
