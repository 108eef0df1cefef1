// Command bootstrap provisions the DynamoDB table and indexes, then
// verifies the registry loads cleanly. Run it once per environment
// before starting the API.
package main

import (
	"context"
	"log"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/domain/registry"
	"github.com/alishams21/lineagentic-kg/infrastructure/config"
	dynamostore "github.com/alishams21/lineagentic-kg/infrastructure/persistence/dynamodb"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		logger.Fatal("Registry failed validation", zap.Error(err))
	}
	logger.Info("Registry validated",
		zap.String("path", cfg.RegistryPath),
		zap.Int("entity_types", len(reg.EntityTypes())),
	)

	if cfg.StoreBackend != "dynamodb" {
		logger.Info("Store backend needs no provisioning",
			zap.String("backend", cfg.StoreBackend))
		return
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Fatal("Failed to load AWS configuration", zap.Error(err))
	}

	store := dynamostore.NewStore(awsdynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to provision table", zap.Error(err))
	}

	logger.Info("Table ready", zap.String("table", cfg.DynamoDBTable))
}
