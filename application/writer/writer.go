package writer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/domain/aspect"
	"github.com/alishams21/lineagentic-kg/domain/graph"
	"github.com/alishams21/lineagentic-kg/domain/registry"
	"github.com/alishams21/lineagentic-kg/domain/urn"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

// Writer is the single mutation path into the graph. All entity, aspect, and
// edge writes flow through it so that URN construction, payload validation,
// and version discipline are applied uniformly. Reads pass through to the
// store unchanged.
type Writer struct {
	store     graph.Store
	registry  *registry.Registry
	validator *aspect.Validator
	builders  map[string]*urn.Builder
	logger    *zap.Logger
	now       func() time.Time
}

// NewWriter compiles a URN builder per entity type and binds the writer to
// the store. Registry validation has already guaranteed the templates parse.
func NewWriter(store graph.Store, reg *registry.Registry, logger *zap.Logger) (*Writer, error) {
	builders := make(map[string]*urn.Builder)
	for _, entityType := range reg.EntityTypes() {
		def := reg.Entity(entityType)
		b, err := urn.NewBuilder(entityType, def.URNTemplate,
			def.IdentifyingParams, def.OptionalParams,
			def.Defaults, def.Sanitize, def.Transformations)
		if err != nil {
			return nil, apperrors.NewRegistryError(err.Error()).WithCause(err)
		}
		builders[entityType] = b
	}

	return &Writer{
		store:     store,
		registry:  reg,
		validator: aspect.NewValidator(reg),
		builders:  builders,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Begin opens a write transaction on the underlying store.
func (w *Writer) Begin(ctx context.Context) (graph.Tx, error) {
	return w.store.Begin(ctx)
}

// Builder returns the URN builder for an entity type.
func (w *Writer) Builder(entityType string) (*urn.Builder, error) {
	b, ok := w.builders[entityType]
	if !ok {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("unknown entity type %q", entityType)).
			WithDetail("entity_type", entityType)
	}
	return b, nil
}

// BuildURN constructs the deterministic URN for an entity from its params.
func (w *Writer) BuildURN(entityType string, params map[string]interface{}) (string, error) {
	b, err := w.Builder(entityType)
	if err != nil {
		return "", err
	}
	return b.Build(params)
}

// UpsertEntity builds the entity's URN from params and stages the node merge.
// Re-upserting an existing entity updates non-key params in place.
func (w *Writer) UpsertEntity(ctx context.Context, tx graph.Tx, entityType string, params map[string]interface{}) (string, error) {
	entityURN, err := w.BuildURN(entityType, params)
	if err != nil {
		return "", err
	}

	now := w.now()
	tx.UpsertEntity(&graph.Entity{
		Type:      entityType,
		URN:       entityURN,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	})

	w.logger.Debug("staged entity upsert",
		zap.String("entity_type", entityType),
		zap.String("urn", entityURN))
	return entityURN, nil
}

// EnsureEntity stages a URN-only node merge for an entity that may not exist
// yet. Used for opt-in auto-creation of relationship destinations.
func (w *Writer) EnsureEntity(ctx context.Context, tx graph.Tx, entityType, entityURN string) {
	now := w.now()
	tx.UpsertEntity(&graph.Entity{
		Type:      entityType,
		URN:       entityURN,
		CreatedAt: now,
		UpdatedAt: now,
	})
	w.logger.Debug("staged entity placeholder",
		zap.String("entity_type", entityType),
		zap.String("urn", entityURN))
}

// UpsertVersionedAspect validates the payload, reads the current head, and
// stages the next version conditioned on that head. Versions start at 1 and
// advance by exactly one per write; a concurrent writer that advanced the
// head first surfaces as a STORE_CONFLICT at commit.
func (w *Writer) UpsertVersionedAspect(ctx context.Context, tx graph.Tx, entityType, ownerURN, aspectName string, payload map[string]interface{}) (int, error) {
	validated, err := w.validator.Validate(entityType, aspectName, graph.KindVersioned, payload)
	if err != nil {
		return 0, err
	}

	head, err := w.store.GetAspectHead(ctx, ownerURN, aspectName)
	if err != nil {
		return 0, err
	}

	version := head.MaxVersion + 1
	if head.Exists {
		tx.ClearLatest(ownerURN, aspectName, head.MaxVersion)
	}
	tx.PutVersionedAspect(&graph.AspectRecord{
		OwnerURN:  ownerURN,
		OwnerType: entityType,
		Name:      aspectName,
		Kind:      graph.KindVersioned,
		Version:   version,
		Latest:    true,
		Payload:   validated,
		CreatedAt: w.now(),
	}, head)

	w.logger.Debug("staged versioned aspect",
		zap.String("urn", ownerURN),
		zap.String("aspect", aspectName),
		zap.Int("version", version))
	return version, nil
}

// AppendTimeseries validates the payload and stages an append-only
// time-series record. A zero timestamp defaults to the current time.
// Identical timestamps coexist as siblings.
func (w *Writer) AppendTimeseries(ctx context.Context, tx graph.Tx, entityType, ownerURN, aspectName string, payload map[string]interface{}, timestampMs int64) (int64, error) {
	validated, err := w.validator.Validate(entityType, aspectName, graph.KindTimeseries, payload)
	if err != nil {
		return 0, err
	}

	if timestampMs == 0 {
		timestampMs = w.now().UnixMilli()
	}
	tx.AppendTimeseries(&graph.AspectRecord{
		OwnerURN:    ownerURN,
		OwnerType:   entityType,
		Name:        aspectName,
		Kind:        graph.KindTimeseries,
		TimestampMs: timestampMs,
		Payload:     validated,
		CreatedAt:   w.now(),
	})

	w.logger.Debug("staged timeseries aspect",
		zap.String("urn", ownerURN),
		zap.String("aspect", aspectName),
		zap.Int64("timestamp_ms", timestampMs))
	return timestampMs, nil
}

// MergeEdge resolves the merge policy against the stored edge and stages the
// result. Merging the same edge twice is a no-op beyond property merging:
// scalars are last-writer-wins, arrays union.
func (w *Writer) MergeEdge(ctx context.Context, tx graph.Tx, edge *graph.Edge) error {
	existing, err := w.store.GetEdge(ctx, edge.SrcURN, edge.Type, edge.DstURN, edge.DiscriminatorKey())
	if err != nil && !apperrors.IsNotFound(err) {
		return err
	}

	if existing != nil {
		edge.Properties = graph.MergeProperties(existing.Properties, edge.Properties)
		edge.CreatedAt = existing.CreatedAt
	} else if edge.CreatedAt.IsZero() {
		edge.CreatedAt = w.now()
	}
	tx.MergeEdge(edge)

	w.logger.Debug("staged edge merge",
		zap.String("src", edge.SrcURN),
		zap.String("edge_type", edge.Type),
		zap.String("dst", edge.DstURN))
	return nil
}

// GetEntity reads a node by type and URN.
func (w *Writer) GetEntity(ctx context.Context, entityType, entityURN string) (*graph.Entity, error) {
	return w.store.GetEntity(ctx, entityType, entityURN)
}

// GetLatestAspect returns the versioned record currently flagged latest.
func (w *Writer) GetLatestAspect(ctx context.Context, entityURN, aspectName string) (*graph.AspectRecord, error) {
	return w.store.GetLatestVersionedAspect(ctx, entityURN, aspectName)
}

// GetAspectVersion returns one specific version of a versioned aspect.
func (w *Writer) GetAspectVersion(ctx context.Context, entityURN, aspectName string, version int) (*graph.AspectRecord, error) {
	return w.store.GetVersionedAspect(ctx, entityURN, aspectName, version)
}

// GetTimeseriesRange returns time-series records in [fromMs, toMs), newest
// first. Zero bounds are unbounded; limit caps the result.
func (w *Writer) GetTimeseriesRange(ctx context.Context, entityURN, aspectName string, fromMs, toMs int64, limit int) ([]*graph.AspectRecord, error) {
	return w.store.GetTimeseriesRange(ctx, entityURN, aspectName, fromMs, toMs, limit)
}

// ListAspects returns every aspect record attached to the URN.
func (w *Writer) ListAspects(ctx context.Context, entityURN string) ([]*graph.AspectRecord, error) {
	return w.store.ListAspects(ctx, entityURN)
}

// ListOutgoingEdges enumerates edges leaving the URN.
func (w *Writer) ListOutgoingEdges(ctx context.Context, entityURN string) ([]*graph.Edge, error) {
	return w.store.ListOutgoingEdges(ctx, entityURN)
}

// ListIncomingEdges enumerates edges arriving at the URN.
func (w *Writer) ListIncomingEdges(ctx context.Context, entityURN string) ([]*graph.Edge, error) {
	return w.store.ListIncomingEdges(ctx, entityURN)
}

// DeleteEntity removes a node. Without cascade, dependents block the delete.
func (w *Writer) DeleteEntity(ctx context.Context, entityType, entityURN string, cascade bool) error {
	if err := w.store.DeleteEntity(ctx, entityType, entityURN, cascade); err != nil {
		return err
	}
	w.logger.Info("deleted entity",
		zap.String("entity_type", entityType),
		zap.String("urn", entityURN),
		zap.Bool("cascade", cascade))
	return nil
}

// DeleteAspect removes every version or time-series row for the pair.
func (w *Writer) DeleteAspect(ctx context.Context, entityURN, aspectName string) error {
	if err := w.store.DeleteAspect(ctx, entityURN, aspectName); err != nil {
		return err
	}
	w.logger.Info("deleted aspect",
		zap.String("urn", entityURN),
		zap.String("aspect", aspectName))
	return nil
}
