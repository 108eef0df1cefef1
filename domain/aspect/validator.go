package aspect

import (
	"fmt"

	"github.com/alishams21/lineagentic-kg/domain/graph"
	"github.com/alishams21/lineagentic-kg/domain/registry"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

// Error codes carried on VALIDATION AppErrors raised here.
const (
	CodeUnknownAspect        = "UnknownAspect"
	CodeAspectKindMismatch   = "AspectKindMismatch"
	CodeMissingRequiredField = "MissingRequiredField"
)

// Validator checks aspect payloads against the registry before any write is
// staged. It is stateless and safe for concurrent use.
type Validator struct {
	registry *registry.Registry
}

// NewValidator binds a validator to a loaded registry.
func NewValidator(reg *registry.Registry) *Validator {
	return &Validator{registry: reg}
}

// Validate checks that the aspect is declared on the entity type with the
// expected kind, applies payload defaults, and enforces required fields.
// The returned payload is a copy; the caller's map is never mutated. Unknown
// payload fields pass through untouched.
func (v *Validator) Validate(entityType, aspectName string, kind graph.AspectKind, payload map[string]interface{}) (map[string]interface{}, error) {
	entity := v.registry.Entity(entityType)
	if entity == nil {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("unknown entity type %q", entityType)).
			WithCode(CodeUnknownAspect).
			WithDetail("entity_type", entityType)
	}

	declaredKind, declared := entity.Aspects[aspectName]
	if !declared {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("aspect %q is not declared on entity type %q", aspectName, entityType)).
			WithCode(CodeUnknownAspect).
			WithDetail("entity_type", entityType).
			WithDetail("aspect", aspectName)
	}

	if graph.AspectKind(declaredKind) != kind {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("aspect %q on entity type %q is %s, not %s", aspectName, entityType, declaredKind, kind)).
			WithCode(CodeAspectKindMismatch).
			WithDetail("aspect", aspectName).
			WithDetail("declared_kind", declaredKind).
			WithDetail("requested_kind", string(kind))
	}

	def := v.registry.Aspect(aspectName)
	if def == nil {
		// Unreachable after registry validation; kept as a guard.
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("aspect %q has no definition", aspectName)).
			WithCode(CodeUnknownAspect).
			WithDetail("aspect", aspectName)
	}

	out := make(map[string]interface{}, len(payload)+len(def.Defaults))
	for k, val := range payload {
		out[k] = val
	}
	for k, dv := range def.Defaults {
		if _, present := out[k]; !present {
			out[k] = dv
		}
	}

	for _, req := range def.Required {
		val, present := out[req]
		if !present || val == nil {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("aspect %q is missing required field %q", aspectName, req)).
				WithCode(CodeMissingRequiredField).
				WithDetail("aspect", aspectName).
				WithDetail("field", req)
		}
	}

	return out, nil
}

// Kind returns the declared kind of an aspect, failing for unknown names.
func (v *Validator) Kind(aspectName string) (graph.AspectKind, error) {
	kind, ok := v.registry.AspectKind(aspectName)
	if !ok {
		return "", apperrors.NewValidationError(
			fmt.Sprintf("unknown aspect %q", aspectName)).
			WithCode(CodeUnknownAspect).
			WithDetail("aspect", aspectName)
	}
	return kind, nil
}
