package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/domain/graph"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

// Store implements graph.Store over one DynamoDB table laid out as an
// adjacency list (see items.go). Versioned-aspect linearizability comes from
// conditional writes against the head item inside TransactWriteItems.
type Store struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// NewStore binds the store to a table.
func NewStore(client *dynamodb.Client, tableName string, logger *zap.Logger) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Begin opens a staged transaction backed by TransactWriteItems.
func (s *Store) Begin(ctx context.Context) (graph.Tx, error) {
	return newTx(s), nil
}

// GetEntity retrieves a node by type and URN.
func (s *Store) GetEntity(ctx context.Context, entityType, urn string) (*graph.Entity, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(pkEntity(urn), skMeta),
	})
	if err != nil {
		return nil, storeErr("get entity", err)
	}
	if out.Item == nil {
		return nil, entityNotFound(entityType, urn)
	}

	var item entityItem
	if err := unmarshalItem(out.Item, &item); err != nil {
		return nil, storeErr("unmarshal entity", err)
	}
	if item.EntityType != entityType {
		return nil, entityNotFound(entityType, urn)
	}
	return item.toEntity(), nil
}

// GetAspectHead reads the versioned head token for (urn, aspect). A missing
// head item means no version exists yet.
func (s *Store) GetAspectHead(ctx context.Context, urn, aspectName string) (graph.AspectHead, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            itemKey(pkEntity(urn), skHead(aspectName)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return graph.AspectHead{}, storeErr("get aspect head", err)
	}
	if out.Item == nil {
		return graph.AspectHead{}, nil
	}

	var item headItem
	if err := unmarshalItem(out.Item, &item); err != nil {
		return graph.AspectHead{}, storeErr("unmarshal aspect head", err)
	}
	return graph.AspectHead{MaxVersion: item.MaxVersion, Exists: true}, nil
}

// GetLatestVersionedAspect reads the head, then the record it points at.
func (s *Store) GetLatestVersionedAspect(ctx context.Context, urn, aspectName string) (*graph.AspectRecord, error) {
	head, err := s.GetAspectHead(ctx, urn, aspectName)
	if err != nil {
		return nil, err
	}
	if !head.Exists {
		return nil, aspectNotFound(urn, aspectName)
	}
	return s.GetVersionedAspect(ctx, urn, aspectName, head.MaxVersion)
}

// GetVersionedAspect returns one specific version.
func (s *Store) GetVersionedAspect(ctx context.Context, urn, aspectName string, version int) (*graph.AspectRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(pkEntity(urn), skVersioned(aspectName, version)),
	})
	if err != nil {
		return nil, storeErr("get versioned aspect", err)
	}
	if out.Item == nil {
		return nil, aspectNotFound(urn, aspectName)
	}

	var item aspectItem
	if err := unmarshalItem(out.Item, &item); err != nil {
		return nil, storeErr("unmarshal aspect", err)
	}
	return item.toRecord(), nil
}

// GetTimeseriesRange queries [fromMs, toMs) newest first. The timestamp is
// zero-padded in the sort key, so the range maps onto a key condition.
func (s *Store) GetTimeseriesRange(ctx context.Context, urn, aspectName string, fromMs, toMs int64, limit int) ([]*graph.AspectRecord, error) {
	prefix := skTimeseriesPrefix(aspectName)
	low := prefix
	if fromMs > 0 {
		low = fmt.Sprintf("%s%013d", prefix, fromMs)
	}
	high := prefix + "~"
	if toMs > 0 {
		high = fmt.Sprintf("%s%013d", prefix, toMs)
	}

	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("PK").Equal(expression.Value(pkEntity(urn))).
			And(expression.Key("SK").Between(expression.Value(low), expression.Value(high)))).
		Build()
	if err != nil {
		return nil, storeErr("build timeseries query", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	var records []*graph.AspectRecord
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, storeErr("query timeseries", err)
		}
		for _, av := range page.Items {
			var item aspectItem
			if err := unmarshalItem(av, &item); err != nil {
				return nil, storeErr("unmarshal timeseries record", err)
			}
			// The upper bound is exclusive; BETWEEN is inclusive, so drop
			// records landing exactly on toMs.
			if toMs > 0 && item.TimestampMs >= toMs {
				continue
			}
			records = append(records, item.toRecord())
			if limit > 0 && len(records) >= limit {
				return records, nil
			}
		}
	}
	return records, nil
}

// ListAspects returns every aspect record in the entity's partition.
func (s *Store) ListAspects(ctx context.Context, urn string) ([]*graph.AspectRecord, error) {
	var records []*graph.AspectRecord
	err := s.queryPartition(ctx, urn, "ASPECT#", func(av map[string]types.AttributeValue) error {
		var item aspectItem
		if err := unmarshalItem(av, &item); err != nil {
			return err
		}
		records = append(records, item.toRecord())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetEdge fetches an edge by merge key, nil when absent.
func (s *Store) GetEdge(ctx context.Context, srcURN, edgeType, dstURN, discriminatorKey string) (*graph.Edge, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(pkEntity(srcURN), skEdge(edgeType, dstURN, discriminatorKey)),
	})
	if err != nil {
		return nil, storeErr("get edge", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var item edgeItem
	if err := unmarshalItem(out.Item, &item); err != nil {
		return nil, storeErr("unmarshal edge", err)
	}
	return item.toEdge(), nil
}

// ListOutgoingEdges enumerates edges leaving the URN.
func (s *Store) ListOutgoingEdges(ctx context.Context, urn string) ([]*graph.Edge, error) {
	var edges []*graph.Edge
	err := s.queryPartition(ctx, urn, "EDGE#", func(av map[string]types.AttributeValue) error {
		var item edgeItem
		if err := unmarshalItem(av, &item); err != nil {
			return err
		}
		edges = append(edges, item.toEdge())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// ListIncomingEdges enumerates edges arriving at the URN via the reverse
// adjacency index.
func (s *Store) ListIncomingEdges(ctx context.Context, urn string) ([]*graph.Edge, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("GSI2PK").Equal(expression.Value(pkEntity(urn))).
			And(expression.Key("GSI2SK").BeginsWith("EDGE#"))).
		Build()
	if err != nil {
		return nil, storeErr("build incoming edge query", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(gsiByDstEdge),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var edges []*graph.Edge
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, storeErr("query incoming edges", err)
		}
		for _, av := range page.Items {
			var item edgeItem
			if err := unmarshalItem(av, &item); err != nil {
				return nil, storeErr("unmarshal edge", err)
			}
			edges = append(edges, item.toEdge())
		}
	}
	return edges, nil
}

// DeleteEntity removes the node. With cascade it wipes the whole partition
// plus incoming edges; without, any aspect or incoming edge blocks the
// delete.
func (s *Store) DeleteEntity(ctx context.Context, entityType, urn string, cascade bool) error {
	if _, err := s.GetEntity(ctx, entityType, urn); err != nil {
		return err
	}

	partition, err := s.collectPartitionKeys(ctx, urn)
	if err != nil {
		return err
	}
	incoming, err := s.collectIncomingEdgeKeys(ctx, urn)
	if err != nil {
		return err
	}

	if !cascade {
		for _, key := range partition {
			sk := key.sk
			if strings.HasPrefix(sk, "ASPECT#") || strings.HasPrefix(sk, "HEAD#") {
				return dependentsErr(urn, "aspects exist")
			}
		}
		if len(incoming) > 0 {
			return dependentsErr(urn, "incoming edges exist")
		}
		return s.batchDelete(ctx, []tableKey{{pk: pkEntity(urn), sk: skMeta}})
	}

	keys := append(partition, incoming...)
	s.logger.Info("cascade deleting entity",
		zap.String("urn", urn),
		zap.Int("items", len(keys)))
	return s.batchDelete(ctx, keys)
}

// DeleteAspect removes every version or time-series row plus the head item.
func (s *Store) DeleteAspect(ctx context.Context, urn, aspectName string) error {
	var keys []tableKey
	err := s.queryPartition(ctx, urn, skAspectPrefix(aspectName), func(av map[string]types.AttributeValue) error {
		key, err := keyOf(av)
		if err != nil {
			return err
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return aspectNotFound(urn, aspectName)
	}
	keys = append(keys, tableKey{pk: pkEntity(urn), sk: skHead(aspectName)})
	return s.batchDelete(ctx, keys)
}

type tableKey struct {
	pk string
	sk string
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func keyOf(av map[string]types.AttributeValue) (tableKey, error) {
	pk, okPK := av["PK"].(*types.AttributeValueMemberS)
	sk, okSK := av["SK"].(*types.AttributeValueMemberS)
	if !okPK || !okSK {
		return tableKey{}, fmt.Errorf("item missing PK/SK")
	}
	return tableKey{pk: pk.Value, sk: sk.Value}, nil
}

// queryPartition walks every item of the entity partition whose sort key
// starts with skPrefix.
func (s *Store) queryPartition(ctx context.Context, urn, skPrefix string, visit func(map[string]types.AttributeValue) error) error {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("PK").Equal(expression.Value(pkEntity(urn))).
			And(expression.Key("SK").BeginsWith(skPrefix))).
		Build()
	if err != nil {
		return storeErr("build partition query", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return storeErr("query partition", err)
		}
		for _, av := range page.Items {
			if err := visit(av); err != nil {
				return storeErr("read partition item", err)
			}
		}
	}
	return nil
}

func (s *Store) collectPartitionKeys(ctx context.Context, urn string) ([]tableKey, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("PK").Equal(expression.Value(pkEntity(urn)))).
		WithProjection(expression.NamesList(expression.Name("PK"), expression.Name("SK"))).
		Build()
	if err != nil {
		return nil, storeErr("build partition key query", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ProjectionExpression:      expr.Projection(),
	}

	var keys []tableKey
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, storeErr("query partition keys", err)
		}
		for _, av := range page.Items {
			key, err := keyOf(av)
			if err != nil {
				return nil, storeErr("read partition key", err)
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// collectIncomingEdgeKeys resolves incoming edges to their primary keys on
// the source partitions.
func (s *Store) collectIncomingEdgeKeys(ctx context.Context, urn string) ([]tableKey, error) {
	edges, err := s.ListIncomingEdges(ctx, urn)
	if err != nil {
		return nil, err
	}
	keys := make([]tableKey, 0, len(edges))
	for _, edge := range edges {
		keys = append(keys, tableKey{
			pk: pkEntity(edge.SrcURN),
			sk: skEdge(edge.Type, edge.DstURN, edge.DiscriminatorKey()),
		})
	}
	return keys, nil
}

// batchDelete removes keys in chunks of 25, the BatchWriteItem ceiling.
func (s *Store) batchDelete(ctx context.Context, keys []tableKey) error {
	const chunkSize = 25
	for start := 0; start < len(keys); start += chunkSize {
		end := start + chunkSize
		if end > len(keys) {
			end = len(keys)
		}

		requests := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: itemKey(key.pk, key.sk)},
			})
		}

		input := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.tableName: requests},
		}
		out, err := s.client.BatchWriteItem(ctx, input)
		if err != nil {
			return storeErr("batch delete", err)
		}
		// Unprocessed keys are retried once; DynamoDB sheds load this way
		// under throttling.
		if unprocessed := out.UnprocessedItems[s.tableName]; len(unprocessed) > 0 {
			retry := &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{s.tableName: unprocessed},
			}
			if out, err = s.client.BatchWriteItem(ctx, retry); err != nil {
				return storeErr("batch delete retry", err)
			}
			if len(out.UnprocessedItems[s.tableName]) > 0 {
				return apperrors.NewStoreUnavailableError("batch delete did not complete", nil)
			}
		}
	}
	return nil
}

func entityNotFound(entityType, urn string) *apperrors.AppError {
	return apperrors.NewNotFoundError(fmt.Sprintf("entity %s", urn)).
		WithDetail("entity_type", entityType).
		WithDetail("urn", urn)
}

func aspectNotFound(urn, aspectName string) *apperrors.AppError {
	return apperrors.NewNotFoundError(fmt.Sprintf("aspect %s on %s", aspectName, urn)).
		WithDetail("urn", urn).
		WithDetail("aspect", aspectName)
}

func dependentsErr(urn, reason string) *apperrors.AppError {
	return apperrors.NewDependencyViolationError(
		fmt.Sprintf("entity %s has dependents: %s", urn, reason)).
		WithCode("EntityHasDependents").
		WithDetail("urn", urn)
}

func storeErr(operation string, err error) error {
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return apperrors.NewStoreConflictError(operation + ": condition failed").WithCause(err)
	}
	appErr := apperrors.NewStoreUnavailableError(operation+" failed", err)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		appErr.WithCode(apiErr.ErrorCode())
	}
	return appErr
}
