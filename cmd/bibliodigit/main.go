// Command bibliodigit serves the digital library HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/bibliodigit/internal/config"
	"github.com/jacentio/bibliodigit/internal/httpapi"
	"github.com/jacentio/bibliodigit/internal/library"
	"github.com/jacentio/bibliodigit/internal/logging"
	"github.com/jacentio/bibliodigit/store"
	"github.com/jacentio/bibliodigit/store/dynamostore"
	"github.com/jacentio/bibliodigit/store/sqlstore"
)

func main() {
	configPath := flag.String("config", os.Getenv("BIBLIODIGIT_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bibliodigit: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "bibliodigit: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bibliodigit failed", "error", err)
		os.Exit(1)
	}
	logger.Info("bibliodigit stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	backend, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	lib := library.New(backend, library.Options{
		Auth:   cfg.Auth,
		Loans:  cfg.Loans,
		Logger: logger,
	})
	if err := lib.Bootstrap(ctx, cfg.Bootstrap); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewHandler(lib, logger),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver, "version", httpapi.Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("received exit signal, shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openBackend(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Driver {
	case config.DriverDynamoDB:
		return openDynamo(ctx, cfg.DynamoDB, logger)
	default:
		return sqlstore.Open(ctx, sqlstore.Config{
			Path:         cfg.SQLite.Path,
			BusyTimeout:  cfg.SQLite.BusyTimeout,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
		}, logger)
	}
}

func openDynamo(ctx context.Context, cfg config.DynamoDBConfig, logger *slog.Logger) (*dynamostore.Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	s := dynamostore.New(client, dynamostore.Config{
		RecordTable:       cfg.RecordTable,
		RelationshipTable: cfg.RelationshipTable,
		UniqueTable:       cfg.UniqueTable,
		NumShards:         cfg.NumShards,
		InlineCascade:     cfg.InlineCascade,
	}, logger)
	if cfg.CreateTables {
		if err := s.EnsureTables(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}
