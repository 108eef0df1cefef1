package urn

import (
	"fmt"

	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

// Builder produces deterministic URNs for one entity type. It is pure and
// immutable after construction: the same parameter tuple always yields the
// same byte-identical URN.
type Builder struct {
	entityType  string
	template    *Template
	identifying []string
	optional    []string
	defaults    map[string]string
	sanitize    map[string]bool
	transforms  map[string]Normalizer
}

// NewBuilder compiles the URN template and binds the entity's parameter
// rules. transforms maps parameter names to named normalizers; unknown
// normalizer names are rejected.
func NewBuilder(entityType, template string, identifying, optional []string, defaults map[string]string, sanitize []string, transforms map[string]string) (*Builder, error) {
	tmpl, err := ParseTemplate(template)
	if err != nil {
		return nil, err
	}

	b := &Builder{
		entityType:  entityType,
		template:    tmpl,
		identifying: identifying,
		optional:    optional,
		defaults:    defaults,
		sanitize:    make(map[string]bool, len(sanitize)),
		transforms:  make(map[string]Normalizer, len(transforms)),
	}
	for _, p := range sanitize {
		b.sanitize[p] = true
	}
	for param, name := range transforms {
		fn, ok := Normalizers[name]
		if !ok {
			return nil, fmt.Errorf("entity %s: unknown normalizer %q for param %q", entityType, name, param)
		}
		b.transforms[param] = fn
	}
	return b, nil
}

// EntityType returns the entity type this builder serves.
func (b *Builder) EntityType() string { return b.entityType }

// IdentifyingParams returns the ordered identifying parameter names.
func (b *Builder) IdentifyingParams() []string { return b.identifying }

// Template returns the compiled template.
func (b *Builder) Template() *Template { return b.template }

// CanParse reports whether Parse is supported for this entity type.
func (b *Builder) CanParse() bool { return b.template.CanParse() }

// Build constructs the URN from caller-supplied parameters. Defaults fill
// absent params, then declared transformations and sanitization apply, in
// that order. A missing identifying parameter is a URN construction error.
func (b *Builder) Build(params map[string]interface{}) (string, error) {
	values := make(map[string]string, len(b.template.Params()))

	for _, name := range b.template.Params() {
		raw, ok := params[name]
		if !ok || raw == nil || raw == "" {
			if def, hasDefault := b.defaults[name]; hasDefault {
				raw = def
			} else {
				return "", apperrors.NewURNError(
					fmt.Sprintf("missing identifying parameter %q for entity type %s", name, b.entityType)).
					WithDetail("param", name).
					WithDetail("entity_type", b.entityType)
			}
		}

		v := fmt.Sprintf("%v", raw)
		if fn, ok := b.transforms[name]; ok {
			v = fn(v)
		}
		if b.sanitize[name] {
			v = SanitizeID(v)
		}
		values[name] = v
	}

	urn, err := b.template.expand(values)
	if err != nil {
		return "", apperrors.NewURNError(err.Error()).WithDetail("entity_type", b.entityType)
	}
	return urn, nil
}

// Parse inverts Build for unambiguous templates, returning the parameter
// values embedded in the URN. Callers must check CanParse first.
func (b *Builder) Parse(urn string) (map[string]string, error) {
	if !b.template.CanParse() {
		return nil, apperrors.NewURNError(
			fmt.Sprintf("urn template for entity type %s is not reverse-parseable", b.entityType)).
			WithDetail("entity_type", b.entityType)
	}
	values, err := b.template.match(urn)
	if err != nil {
		return nil, apperrors.NewURNError(err.Error()).
			WithDetail("urn", urn).
			WithDetail("entity_type", b.entityType)
	}
	return values, nil
}
