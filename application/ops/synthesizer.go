package ops

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/application/lineage"
	"github.com/alishams21/lineagentic-kg/application/rules"
	"github.com/alishams21/lineagentic-kg/application/writer"
	"github.com/alishams21/lineagentic-kg/domain/graph"
	"github.com/alishams21/lineagentic-kg/domain/registry"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

// Synthesizer walks the registry at boot and emits the static operation
// table: upsert/get/delete per entity type and per aspect. Transport layers
// index the table by name; no per-request reflection happens after boot.
type Synthesizer struct {
	registry *registry.Registry
	writer   *writer.Writer
	rules    *rules.Engine
	lineage  *lineage.Resolver
	logger   *zap.Logger
}

// NewSynthesizer binds the synthesizer to its collaborators.
func NewSynthesizer(reg *registry.Registry, w *writer.Writer, engine *rules.Engine, resolver *lineage.Resolver, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{
		registry: reg,
		writer:   w,
		rules:    engine,
		lineage:  resolver,
		logger:   logger,
	}
}

// Synthesize produces the full catalog. Operation names are lower-cased:
// upsert_<entity>, get_<entity>, delete_<entity> per entity type, and
// upsert_<aspect>_aspect, get_<aspect>_aspect, delete_<aspect>_aspect per
// aspect.
func (s *Synthesizer) Synthesize() *Catalog {
	catalog := newCatalog()

	for _, entityType := range s.registry.EntityTypes() {
		def := s.registry.Entity(entityType)
		lower := strings.ToLower(entityType)

		catalog.register(&Descriptor{
			Name:           "upsert_" + lower,
			Verb:           VerbUpsert,
			Target:         TargetEntity,
			EntityType:     entityType,
			RequiredParams: def.IdentifyingParams,
			handler:        s.upsertEntity(entityType),
		})
		catalog.register(&Descriptor{
			Name:           "get_" + lower,
			Verb:           VerbGet,
			Target:         TargetEntity,
			EntityType:     entityType,
			RequiredParams: def.IdentifyingParams,
			handler:        s.getEntity(entityType),
		})
		catalog.register(&Descriptor{
			Name:           "delete_" + lower,
			Verb:           VerbDelete,
			Target:         TargetEntity,
			EntityType:     entityType,
			RequiredParams: def.IdentifyingParams,
			handler:        s.deleteEntity(entityType),
		})
	}

	for _, aspectName := range s.registry.AspectNames() {
		kind, _ := s.registry.AspectKind(aspectName)
		lower := strings.ToLower(aspectName)

		catalog.register(&Descriptor{
			Name:       "upsert_" + lower + "_aspect",
			Verb:       VerbUpsert,
			Target:     TargetAspect,
			AspectName: aspectName,
			AspectKind: kind,
			handler:    s.upsertAspect(aspectName, kind),
		})
		catalog.register(&Descriptor{
			Name:       "get_" + lower + "_aspect",
			Verb:       VerbGet,
			Target:     TargetAspect,
			AspectName: aspectName,
			AspectKind: kind,
			handler:    s.getAspect(aspectName, kind),
		})
		catalog.register(&Descriptor{
			Name:       "delete_" + lower + "_aspect",
			Verb:       VerbDelete,
			Target:     TargetAspect,
			AspectName: aspectName,
			AspectKind: kind,
			handler:    s.deleteAspect(aspectName),
		})
	}

	s.logger.Info("synthesized operation catalog",
		zap.Int("operations", len(catalog.ops)),
		zap.Int("entity_types", len(s.registry.EntityTypes())),
		zap.Int("aspects", len(s.registry.AspectNames())))
	return catalog
}

func (s *Synthesizer) upsertEntity(entityType string) Handler {
	return func(ctx context.Context, req *Request) (*Result, error) {
		tx, err := s.writer.Begin(ctx)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		entityURN, err := s.writer.UpsertEntity(ctx, tx, entityType, req.Params)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &Result{URN: entityURN}, nil
	}
}

func (s *Synthesizer) getEntity(entityType string) Handler {
	return func(ctx context.Context, req *Request) (*Result, error) {
		entityURN, err := s.locateURN(entityType, req)
		if err != nil {
			return nil, err
		}
		entity, err := s.writer.GetEntity(ctx, entityType, entityURN)
		if err != nil {
			return nil, err
		}
		return &Result{URN: entityURN, Entity: entity}, nil
	}
}

func (s *Synthesizer) deleteEntity(entityType string) Handler {
	return func(ctx context.Context, req *Request) (*Result, error) {
		entityURN, err := s.locateURN(entityType, req)
		if err != nil {
			return nil, err
		}
		if err := s.writer.DeleteEntity(ctx, entityType, entityURN, req.Cascade); err != nil {
			return nil, err
		}
		return &Result{URN: entityURN, Deleted: true}, nil
	}
}

// upsertAspect is the heart of the write path: locate (or materialize) the
// owning entity, write the aspect under the declared kind, then run the
// relationship rules and lineage templates the aspect triggers. Everything
// commits atomically or not at all.
func (s *Synthesizer) upsertAspect(aspectName string, kind graph.AspectKind) Handler {
	return func(ctx context.Context, req *Request) (*Result, error) {
		ownerType, err := s.ownerType(aspectName, req)
		if err != nil {
			return nil, err
		}

		tx, err := s.writer.Begin(ctx)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		result := &Result{}
		ownerURN := req.EntityURN
		if ownerURN == "" {
			// Params-only call: materialize the owning entity alongside the
			// aspect. Merge semantics make the re-upsert case harmless.
			ownerURN, err = s.materializeOwner(ctx, tx, ownerType, req.Params, result)
			if err != nil {
				return nil, err
			}
		}

		switch kind {
		case graph.KindVersioned:
			version, err := s.writer.UpsertVersionedAspect(ctx, tx, ownerType, ownerURN, aspectName, req.Payload)
			if err != nil {
				return nil, err
			}
			result.Version = version
		case graph.KindTimeseries:
			ts, err := s.writer.AppendTimeseries(ctx, tx, ownerType, ownerURN, aspectName, req.Payload, req.TimestampMs)
			if err != nil {
				return nil, err
			}
			result.TimestampMs = ts
		default:
			return nil, apperrors.NewInternalError(
				fmt.Sprintf("aspect %q has unknown kind %q", aspectName, kind))
		}

		ruleResult, err := s.rules.Apply(ctx, tx, ownerType, ownerURN, aspectName, req.Payload)
		if err != nil {
			return nil, err
		}
		result.CreatedRelationships += len(ruleResult.Edges)
		result.CreatedEntities = append(result.CreatedEntities, ruleResult.CreatedEntities...)

		if s.lineage.Applies(ownerType, req.Payload) {
			lineageResult, err := s.lineage.Expand(ctx, tx, ownerType, ownerURN, req.Payload)
			if err != nil {
				return nil, err
			}
			result.CreatedRelationships += len(lineageResult.Edges)
			result.CreatedEntities = append(result.CreatedEntities, lineageResult.CreatedEntities...)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		result.URN = ownerURN
		return result, nil
	}
}

func (s *Synthesizer) getAspect(aspectName string, kind graph.AspectKind) Handler {
	return func(ctx context.Context, req *Request) (*Result, error) {
		ownerType, err := s.ownerType(aspectName, req)
		if err != nil {
			return nil, err
		}
		ownerURN := req.EntityURN
		if ownerURN == "" {
			if ownerURN, err = s.locateURN(ownerType, req); err != nil {
				return nil, err
			}
		}

		result := &Result{URN: ownerURN}
		switch kind {
		case graph.KindVersioned:
			var record *graph.AspectRecord
			if req.Version > 0 {
				record, err = s.writer.GetAspectVersion(ctx, ownerURN, aspectName, req.Version)
			} else {
				record, err = s.writer.GetLatestAspect(ctx, ownerURN, aspectName)
			}
			if err != nil {
				return nil, err
			}
			result.Aspect = record
			result.Version = record.Version
		case graph.KindTimeseries:
			records, err := s.writer.GetTimeseriesRange(ctx, ownerURN, aspectName, req.FromMs, req.ToMs, req.Limit)
			if err != nil {
				return nil, err
			}
			result.Timeseries = records
		}
		return result, nil
	}
}

func (s *Synthesizer) deleteAspect(aspectName string) Handler {
	return func(ctx context.Context, req *Request) (*Result, error) {
		ownerType, err := s.ownerType(aspectName, req)
		if err != nil {
			return nil, err
		}
		ownerURN := req.EntityURN
		if ownerURN == "" {
			if ownerURN, err = s.locateURN(ownerType, req); err != nil {
				return nil, err
			}
		}
		if err := s.writer.DeleteAspect(ctx, ownerURN, aspectName); err != nil {
			return nil, err
		}
		return &Result{URN: ownerURN, Deleted: true}, nil
	}
}

// ownerType resolves which entity type an aspect operation targets. When the
// aspect is declared on exactly one entity type the caller may omit it.
func (s *Synthesizer) ownerType(aspectName string, req *Request) (string, error) {
	if req.EntityType != "" {
		if s.registry.Entity(req.EntityType) == nil {
			return "", apperrors.NewValidationError(
				fmt.Sprintf("unknown entity type %q", req.EntityType)).
				WithDetail("entity_type", req.EntityType)
		}
		return req.EntityType, nil
	}
	owners := s.registry.OwnersOf(aspectName)
	switch len(owners) {
	case 0:
		return "", apperrors.NewValidationError(
			fmt.Sprintf("aspect %q is not declared on any entity type", aspectName)).
			WithDetail("aspect", aspectName)
	case 1:
		return owners[0], nil
	default:
		return "", apperrors.NewValidationError(
			fmt.Sprintf("aspect %q is declared on multiple entity types; entity_type is required", aspectName)).
			WithDetail("aspect", aspectName).
			WithDetail("owners", owners)
	}
}

// locateURN resolves the target URN from an explicit entity_urn or from the
// identifying params.
func (s *Synthesizer) locateURN(entityType string, req *Request) (string, error) {
	if req.EntityURN != "" {
		return req.EntityURN, nil
	}
	return s.writer.BuildURN(entityType, req.Params)
}

// materializeOwner upserts the owning entity from params and records it as
// created when it did not previously exist.
func (s *Synthesizer) materializeOwner(ctx context.Context, tx graph.Tx, ownerType string, params map[string]interface{}, result *Result) (string, error) {
	ownerURN, err := s.writer.BuildURN(ownerType, params)
	if err != nil {
		return "", err
	}
	_, err = s.writer.GetEntity(ctx, ownerType, ownerURN)
	if apperrors.IsNotFound(err) {
		result.CreatedEntities = append(result.CreatedEntities, ownerURN)
	} else if err != nil {
		return "", err
	}
	if _, err := s.writer.UpsertEntity(ctx, tx, ownerType, params); err != nil {
		return "", err
	}
	return ownerURN, nil
}
