package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/application/lineage"
	"github.com/alishams21/lineagentic-kg/application/ops"
	"github.com/alishams21/lineagentic-kg/application/rules"
	"github.com/alishams21/lineagentic-kg/application/session"
	"github.com/alishams21/lineagentic-kg/application/writer"
	"github.com/alishams21/lineagentic-kg/domain/graph"
	"github.com/alishams21/lineagentic-kg/domain/registry"
	"github.com/alishams21/lineagentic-kg/infrastructure/config"
	dynamostore "github.com/alishams21/lineagentic-kg/infrastructure/persistence/dynamodb"
	"github.com/alishams21/lineagentic-kg/infrastructure/persistence/memory"
	"github.com/alishams21/lineagentic-kg/pkg/observability"
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// ProvideRegistry loads and validates the registry document. A failure here
// is fatal: the process refuses to start on a broken registry.
func ProvideRegistry(cfg *config.Config) (*registry.Registry, error) {
	return registry.Load(cfg.RegistryPath)
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideStore selects the graph store backend.
func ProvideStore(cfg *config.Config, client *awsdynamodb.Client, logger *zap.Logger) (graph.Store, error) {
	switch cfg.StoreBackend {
	case "dynamodb":
		return dynamostore.NewStore(client, cfg.DynamoDBTable, logger), nil
	case "memory":
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// ProvideWriter creates the graph writer
func ProvideWriter(store graph.Store, reg *registry.Registry, logger *zap.Logger) (*writer.Writer, error) {
	return writer.NewWriter(store, reg, logger)
}

// ProvideRuleEngine creates the relationship rule engine
func ProvideRuleEngine(reg *registry.Registry, w *writer.Writer, logger *zap.Logger) (*rules.Engine, error) {
	return rules.NewEngine(reg, w, logger)
}

// ProvideLineageResolver creates the lineage template resolver
func ProvideLineageResolver(reg *registry.Registry, w *writer.Writer, logger *zap.Logger) *lineage.Resolver {
	return lineage.NewResolver(reg, w, logger)
}

// ProvideCatalog synthesizes the operation table from the registry.
func ProvideCatalog(reg *registry.Registry, w *writer.Writer, engine *rules.Engine, resolver *lineage.Resolver, logger *zap.Logger) *ops.Catalog {
	return ops.NewSynthesizer(reg, w, engine, resolver, logger).Synthesize()
}

// ProvideSessionConfig maps application config onto the coordinator policy.
func ProvideSessionConfig(cfg *config.Config) session.Config {
	sessionCfg := session.DefaultConfig()
	sessionCfg.MaxAttempts = cfg.MaxRetries
	sessionCfg.RequestTimeout = cfg.RequestTimeout
	return sessionCfg
}

// ProvideCoordinator creates the session coordinator
func ProvideCoordinator(catalog *ops.Catalog, sessionCfg session.Config, metrics *observability.Metrics, logger *zap.Logger) *session.Coordinator {
	return session.NewCoordinator(catalog, sessionCfg, metrics, logger)
}

// ProvideMetrics creates metrics instance
func ProvideMetrics() *observability.Metrics {
	return observability.NewMetrics()
}
