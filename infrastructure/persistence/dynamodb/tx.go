package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/domain/graph"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

// tx stages writes as TransactWriteItems entries. Version discipline is
// enforced at commit: the head item update carries a condition on the token
// the caller read, and each versioned record is put with a must-not-exist
// condition, so the (urn, aspect, version) tuple is unique under races.
type tx struct {
	store     *Store
	items     []types.TransactWriteItem
	entityIdx map[string]int
	err       error
	done      bool
}

func newTx(s *Store) *tx {
	return &tx{store: s, entityIdx: make(map[string]int)}
}

// fail records a staging error; Commit refuses a transaction with dropped
// writes instead of silently committing the rest.
func (t *tx) fail(msg string, err error) {
	t.store.logger.Error(msg, zap.Error(err))
	if t.err == nil {
		t.err = fmt.Errorf("%s: %w", msg, err)
	}
}

func (t *tx) UpsertEntity(entity *graph.Entity) {
	// Merge semantics in one update expression: CreatedAt survives, params
	// are last-writer-wins, and a URN-only placeholder leaves existing
	// params untouched.
	expression := "SET GSI1PK = :gsi1pk, GSI1SK = :gsi1sk, ItemType = :itemType, EntityType = :entityType, URN = :urn, CreatedAt = if_not_exists(CreatedAt, :now), UpdatedAt = :now"
	values := map[string]types.AttributeValue{
		":gsi1pk":     &types.AttributeValueMemberS{Value: "TYPE#" + entity.Type},
		":gsi1sk":     &types.AttributeValueMemberS{Value: entity.URN},
		":itemType":   &types.AttributeValueMemberS{Value: itemTypeEntity},
		":entityType": &types.AttributeValueMemberS{Value: entity.Type},
		":urn":        &types.AttributeValueMemberS{Value: entity.URN},
		":now":        &types.AttributeValueMemberS{Value: entity.UpdatedAt.UTC().Format(time.RFC3339Nano)},
	}
	if entity.Params != nil {
		av, err := attributevalue.Marshal(entity.Params)
		if err != nil {
			t.fail("failed to marshal entity params for "+entity.URN, err)
			return
		}
		expression += ", Params = :params"
		values[":params"] = av
	}

	item := types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(t.store.tableName),
			Key:                       itemKey(pkEntity(entity.URN), skMeta),
			UpdateExpression:          aws.String(expression),
			ExpressionAttributeValues: values,
		},
	}

	// TransactWriteItems rejects two operations on one item, so repeat
	// stagings of a URN collapse: a URN-only placeholder never overrides a
	// staging that carries params.
	if idx, ok := t.entityIdx[entity.URN]; ok {
		if entity.Params != nil {
			t.items[idx] = item
		}
		return
	}
	t.entityIdx[entity.URN] = len(t.items)
	t.items = append(t.items, item)
}

func (t *tx) PutVersionedAspect(record *graph.AspectRecord, head graph.AspectHead) {
	item := newAspectItem(record, "")
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		t.fail("failed to marshal aspect record for "+record.OwnerURN, err)
		return
	}

	// The record itself must not exist yet.
	t.items = append(t.items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(t.store.tableName),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	})

	// Advance the head, conditioned on the token the caller read.
	update := &types.Update{
		TableName:        aws.String(t.store.tableName),
		Key:              itemKey(pkEntity(record.OwnerURN), skHead(record.Name)),
		UpdateExpression: aws.String("SET ItemType = :itemType, URN = :urn, AspectName = :aspect, MaxVersion = :version"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":itemType": &types.AttributeValueMemberS{Value: itemTypeHead},
			":urn":      &types.AttributeValueMemberS{Value: record.OwnerURN},
			":aspect":   &types.AttributeValueMemberS{Value: record.Name},
			":version":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", record.Version)},
		},
	}
	if head.Exists {
		update.ConditionExpression = aws.String("MaxVersion = :expected")
		update.ExpressionAttributeValues[":expected"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", head.MaxVersion)}
	} else {
		update.ConditionExpression = aws.String("attribute_not_exists(PK)")
	}
	t.items = append(t.items, types.TransactWriteItem{Update: update})
}

func (t *tx) ClearLatest(urn, aspectName string, version int) {
	t.items = append(t.items, types.TransactWriteItem{
		Update: &types.Update{
			TableName:        aws.String(t.store.tableName),
			Key:              itemKey(pkEntity(urn), skVersioned(aspectName, version)),
			UpdateExpression: aws.String("SET Latest = :latest"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":latest": &types.AttributeValueMemberBOOL{Value: false},
			},
		},
	})
}

func (t *tx) AppendTimeseries(record *graph.AspectRecord) {
	item := newAspectItem(record, uuid.NewString())
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		t.fail("failed to marshal timeseries record for "+record.OwnerURN, err)
		return
	}
	t.items = append(t.items, types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(t.store.tableName),
			Item:      av,
		},
	})
}

func (t *tx) MergeEdge(edge *graph.Edge) {
	item := newEdgeItem(edge)
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		t.fail("failed to marshal edge from "+edge.SrcURN, err)
		return
	}
	t.items = append(t.items, types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(t.store.tableName),
			Item:      av,
		},
	})
}

// Commit applies every staged item in one TransactWriteItems call. A
// cancellation caused by a conditional check means another writer advanced
// the head first and maps to STORE_CONFLICT so the coordinator retries.
func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return apperrors.NewInternalError("transaction already finished")
	}
	t.done = true
	if t.err != nil {
		return apperrors.NewInternalError("transaction staged an unwritable item").WithCause(t.err)
	}
	if len(t.items) == 0 {
		return nil
	}

	_, err := t.store.client.TransactWriteItems(ctx, &awsdynamodb.TransactWriteItemsInput{
		TransactItems: t.items,
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			for _, reason := range canceled.CancellationReasons {
				if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
					return apperrors.NewStoreConflictError("transaction lost a version race").WithCause(err)
				}
			}
		}
		var conflict *types.TransactionConflictException
		if errors.As(err, &conflict) {
			return apperrors.NewStoreConflictError("transaction conflict").WithCause(err)
		}
		return apperrors.NewStoreUnavailableError("transaction commit failed", err)
	}

	t.store.logger.Debug("committed transaction", zap.Int("items", len(t.items)))
	return nil
}

// Rollback discards staged items.
func (t *tx) Rollback() {
	t.done = true
	t.items = nil
}
