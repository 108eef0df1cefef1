package rules

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/application/writer"
	"github.com/alishams21/lineagentic-kg/domain/graph"
	"github.com/alishams21/lineagentic-kg/domain/registry"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

// Result reports what one rule evaluation pass materialized.
type Result struct {
	Edges           []*graph.Edge
	CreatedEntities []string
}

// Engine evaluates relationship rules after an aspect write. Rules run in
// declaration order; projections iterate arrays in index order; duplicate
// edge tuples within one pass collapse to a single merge. The engine stages
// everything on the caller's transaction, so rule failures roll back the
// aspect write they were triggered by.
type Engine struct {
	registry *registry.Registry
	writer   *writer.Writer
	guards   map[*registry.RelationshipRule]*vm.Program
	logger   *zap.Logger
}

// NewEngine pre-compiles every rule's when guard. Registry validation has
// already checked the expressions compile, so failures here are internal.
func NewEngine(reg *registry.Registry, w *writer.Writer, logger *zap.Logger) (*Engine, error) {
	guards := make(map[*registry.RelationshipRule]*vm.Program)
	for _, aspectName := range reg.AspectNames() {
		for _, rule := range reg.RulesFor(aspectName) {
			if rule.When == "" {
				continue
			}
			prog, err := expr.Compile(rule.When, expr.AllowUndefinedVariables(), expr.AsBool())
			if err != nil {
				return nil, apperrors.NewInternalError(
					fmt.Sprintf("rule guard %q failed to compile: %v", rule.When, err)).WithCause(err)
			}
			guards[rule] = prog
		}
	}
	return &Engine{registry: reg, writer: w, guards: guards, logger: logger}, nil
}

// Apply runs every rule triggered by the aspect against the payload and
// stages the resulting edge merges on tx.
func (e *Engine) Apply(ctx context.Context, tx graph.Tx, ownerType, ownerURN, aspectName string, payload map[string]interface{}) (*Result, error) {
	result := &Result{}
	seen := make(map[string]bool)
	ensured := make(map[string]bool)

	for _, rule := range e.registry.RulesFor(aspectName) {
		if rule.EntityType != "" && rule.EntityType != ownerType {
			continue
		}
		pass, err := e.guardPasses(rule, payload)
		if err != nil {
			return nil, err
		}
		if !pass {
			continue
		}
		if err := e.applyRule(ctx, tx, rule, ownerType, ownerURN, aspectName, payload, seen, ensured, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (e *Engine) guardPasses(rule *registry.RelationshipRule, payload map[string]interface{}) (bool, error) {
	prog, ok := e.guards[rule]
	if !ok {
		return true, nil
	}
	out, err := expr.Run(prog, payload)
	if err != nil {
		return false, apperrors.NewRuleEvaluationError(
			fmt.Sprintf("when guard %q failed: %v", rule.When, err)).WithCause(err)
	}
	pass, _ := out.(bool)
	return pass, nil
}

func (e *Engine) applyRule(ctx context.Context, tx graph.Tx, rule *registry.RelationshipRule, ownerType, ownerURN, aspectName string, payload map[string]interface{}, seen, ensured map[string]bool, result *Result) error {
	srcHits, err := e.projectEndpoint(payload, rule.Extract.Src)
	if err != nil {
		return err
	}

	for _, dstPath := range rule.Extract.DstPaths() {
		dstHits, err := evalPath(payload, dstPath)
		if err != nil {
			return err
		}
		for _, srcHit := range srcHits {
			srcType, srcURN, err := e.resolveEndpoint(rule.SourceSelector, ownerType, ownerURN, srcHit)
			if err != nil {
				return err
			}
			if srcURN == "" {
				continue
			}
			for _, dstHit := range dstHits {
				dstType, dstURN, err := e.resolveEndpoint(rule.DestinationSelector, ownerType, ownerURN, dstHit)
				if err != nil {
					return err
				}
				if dstURN == "" {
					continue
				}
				if srcURN == dstURN && !rule.AllowSelfLoops {
					continue
				}

				props, err := e.projectProps(rule, dstHit)
				if err != nil {
					return err
				}
				edge := &graph.Edge{
					SrcType:        srcType,
					SrcURN:         srcURN,
					Type:           rule.Edge.Type,
					DstType:        dstType,
					DstURN:         dstURN,
					Properties:     props,
					Discriminators: rule.Edge.Discriminators,
					Via:            aspectName,
				}
				if seen[edge.Key()] {
					continue
				}
				seen[edge.Key()] = true

				// Distinct edge keys can share one destination (discriminated
				// edges, multiple rules); the destination item may be staged
				// only once per transaction.
				if rule.AutoCreateMissing && dstType != "" && dstURN != ownerURN && !ensured[dstURN] {
					ensured[dstURN] = true
					created, err := e.ensureDestination(ctx, tx, dstType, dstURN)
					if err != nil {
						return err
					}
					if created {
						result.CreatedEntities = append(result.CreatedEntities, dstURN)
					}
				}
				if err := e.writer.MergeEdge(ctx, tx, edge); err != nil {
					return err
				}
				result.Edges = append(result.Edges, edge)
			}
		}
	}
	return nil
}

// projectEndpoint returns the source hits: the projected values when a src
// path is declared, otherwise a single payload-scoped hit for the owning
// entity.
func (e *Engine) projectEndpoint(payload map[string]interface{}, srcPath string) ([]hit, error) {
	if srcPath == "" {
		return []hit{{scope: payload}}, nil
	}
	return evalPath(payload, srcPath)
}

// resolveEndpoint turns a selector plus a projection hit into an endpoint.
// An empty URN with nil error means the tuple is skipped silently.
func (e *Engine) resolveEndpoint(sel registry.Selector, ownerType, ownerURN string, h hit) (string, string, error) {
	switch sel.Kind {
	case registry.SelectorOwning:
		return ownerType, ownerURN, nil

	case registry.SelectorFromURN:
		if h.value == nil {
			return "", "", nil
		}
		s, ok := h.value.(string)
		if !ok {
			return "", "", apperrors.NewRuleEvaluationError(
				fmt.Sprintf("selector expects a urn string, found %T", h.value))
		}
		return sel.Entity, s, nil

	case registry.SelectorFromParams:
		params := make(map[string]interface{}, len(sel.Params))
		for name, path := range sel.Params {
			v, err := evalScalar(h.scope, path)
			if err != nil {
				return "", "", err
			}
			if v == nil {
				return "", "", nil
			}
			params[name] = v
		}
		entityURN, err := e.writer.BuildURN(sel.Entity, params)
		if err != nil {
			return "", "", apperrors.NewRuleEvaluationError(
				fmt.Sprintf("selector could not build %s urn: %v", sel.Entity, err)).WithCause(err)
		}
		return sel.Entity, entityURN, nil

	default:
		return "", "", apperrors.NewRuleEvaluationError(
			fmt.Sprintf("unknown selector kind %q", sel.Kind))
	}
}

// projectProps evaluates the rule's property projections relative to the
// destination hit's scope, then overlays the edge's literal properties.
func (e *Engine) projectProps(rule *registry.RelationshipRule, dstHit hit) (map[string]interface{}, error) {
	if len(rule.Extract.Props) == 0 && len(rule.Edge.Properties) == 0 {
		return nil, nil
	}
	props := make(map[string]interface{}, len(rule.Extract.Props)+len(rule.Edge.Properties))
	for key, path := range rule.Extract.Props {
		v, err := evalScalar(dstHit.scope, path)
		if err != nil {
			return nil, err
		}
		if v != nil {
			props[key] = v
		}
	}
	for key, literal := range rule.Edge.Properties {
		props[key] = literal
	}
	return props, nil
}

// ensureDestination materializes a URN-only destination entity when the rule
// opted in and the entity is absent. Auto-created entities carry no aspects.
func (e *Engine) ensureDestination(ctx context.Context, tx graph.Tx, entityType, entityURN string) (bool, error) {
	_, err := e.writer.GetEntity(ctx, entityType, entityURN)
	if err == nil {
		return false, nil
	}
	if !apperrors.IsNotFound(err) {
		return false, err
	}
	e.writer.EnsureEntity(ctx, tx, entityType, entityURN)
	e.logger.Debug("auto-created relationship destination",
		zap.String("entity_type", entityType),
		zap.String("urn", entityURN))
	return true, nil
}
