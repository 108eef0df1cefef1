package registry

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/alishams21/lineagentic-kg/domain/graph"
	"github.com/alishams21/lineagentic-kg/domain/urn"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

// validateDocument runs the ordered validation passes. The first failure is
// returned; a document that fails any pass is never exposed.
func validateDocument(doc *Document) error {
	if err := validateShape(doc); err != nil {
		return err
	}
	if err := validateEntityAspects(doc); err != nil {
		return err
	}
	if err := validateURNTemplates(doc); err != nil {
		return err
	}
	if err := validateRules(doc); err != nil {
		return err
	}
	return validateRuleKinds(doc)
}

// Pass 1: syntactic well-formedness.
func validateShape(doc *Document) error {
	if len(doc.Entities) == 0 {
		return refErr("registry declares no entities")
	}
	if len(doc.Aspects) == 0 {
		return refErr("registry declares no aspects")
	}
	for name, def := range doc.Entities {
		if def == nil {
			return refErr(fmt.Sprintf("entity %q has an empty definition", name))
		}
		if len(def.IdentifyingParams) == 0 {
			return refErr(fmt.Sprintf("entity %q declares no identifying params", name))
		}
		if def.URNTemplate == "" {
			return refErr(fmt.Sprintf("entity %q declares no urn_template", name))
		}
		for _, t := range def.Transformations {
			if _, ok := urn.Normalizers[t]; !ok {
				return refErr(fmt.Sprintf("entity %q references unknown normalizer %q", name, t))
			}
		}
	}
	for name, def := range doc.Aspects {
		if def == nil {
			return refErr(fmt.Sprintf("aspect %q has an empty definition", name))
		}
		if _, err := graph.ParseAspectKind(def.Type); err != nil {
			return apperrors.NewRegistryError(
				fmt.Sprintf("aspect %q: %v", name, err)).WithCode(CodeKindMismatch)
		}
		declared := make(map[string]bool, len(def.Properties))
		for _, p := range def.Properties {
			declared[p] = true
		}
		for _, req := range def.Required {
			if len(def.Properties) > 0 && !declared[req] {
				return refErr(fmt.Sprintf("aspect %q requires undeclared property %q", name, req))
			}
		}
	}
	return nil
}

// Pass 2: every aspect an entity declares exists, with the matching kind.
func validateEntityAspects(doc *Document) error {
	for entityName, entity := range doc.Entities {
		for aspectName, kind := range entity.Aspects {
			def, ok := doc.Aspects[aspectName]
			if !ok {
				return refErr(fmt.Sprintf("entity %q declares undefined aspect %q", entityName, aspectName))
			}
			if _, err := graph.ParseAspectKind(kind); err != nil {
				return apperrors.NewRegistryError(
					fmt.Sprintf("entity %q, aspect %q: %v", entityName, aspectName, err)).
					WithCode(CodeKindMismatch)
			}
			if def.Type != kind {
				return apperrors.NewRegistryError(
					fmt.Sprintf("entity %q declares aspect %q as %s but the aspect is defined as %s",
						entityName, aspectName, kind, def.Type)).
					WithCode(CodeKindMismatch)
			}
		}
	}
	return nil
}

// Pass 3: URN templates refer only to declared parameters.
func validateURNTemplates(doc *Document) error {
	for entityName, entity := range doc.Entities {
		tmpl, err := urn.ParseTemplate(entity.URNTemplate)
		if err != nil {
			return apperrors.NewRegistryError(
				fmt.Sprintf("entity %q: %v", entityName, err)).WithCode(CodeParseError)
		}
		for _, p := range tmpl.Params() {
			if !entity.HasParam(p) {
				return refErr(fmt.Sprintf("entity %q urn_template references undeclared parameter %q", entityName, p))
			}
		}
	}
	return nil
}

// Pass 4: relationship rules reference defined aspects, entities, and
// well-formed selectors.
func validateRules(doc *Document) error {
	for i, rule := range doc.RelationshipRules {
		where := fmt.Sprintf("relationship rule %d (trigger %q)", i, rule.Trigger)

		if _, ok := doc.Aspects[rule.Trigger]; !ok {
			return refErr(fmt.Sprintf("%s references undefined aspect", where))
		}
		if rule.EntityType != "" {
			if _, ok := doc.Entities[rule.EntityType]; !ok {
				return refErr(fmt.Sprintf("%s references undefined entity type %q", where, rule.EntityType))
			}
		}
		if rule.Edge.Type == "" {
			return refErr(fmt.Sprintf("%s declares no edge type", where))
		}

		for _, sel := range []struct {
			label string
			s     Selector
		}{{"source_selector", rule.SourceSelector}, {"destination_selector", rule.DestinationSelector}} {
			switch sel.s.Kind {
			case SelectorOwning:
			case SelectorFromURN:
			case SelectorFromParams:
				if sel.s.Entity == "" {
					return refErr(fmt.Sprintf("%s %s of kind from_params names no entity", where, sel.label))
				}
				if _, ok := doc.Entities[sel.s.Entity]; !ok {
					return refErr(fmt.Sprintf("%s %s references undefined entity type %q", where, sel.label, sel.s.Entity))
				}
				if len(sel.s.Params) == 0 {
					return refErr(fmt.Sprintf("%s %s of kind from_params declares no params", where, sel.label))
				}
			default:
				return refErr(fmt.Sprintf("%s %s has unknown kind %q", where, sel.label, sel.s.Kind))
			}
			if sel.s.Kind == SelectorFromURN && sel.s.Entity != "" {
				if _, ok := doc.Entities[sel.s.Entity]; !ok {
					return refErr(fmt.Sprintf("%s %s references undefined entity type %q", where, sel.label, sel.s.Entity))
				}
			}
		}

		for _, disc := range rule.Edge.Discriminators {
			if _, ok := rule.Extract.Props[disc]; !ok {
				if _, ok := rule.Edge.Properties[disc]; !ok {
					return refErr(fmt.Sprintf("%s declares discriminator %q with no property projection", where, disc))
				}
			}
		}

		if rule.When != "" {
			if _, err := expr.Compile(rule.When, expr.AllowUndefinedVariables(), expr.AsBool()); err != nil {
				return apperrors.NewRegistryError(
					fmt.Sprintf("%s has an invalid when expression: %v", where, err)).
					WithCode(CodeParseError).WithCause(err)
			}
		}
	}
	return nil
}

// Pass 5: aspect kinds used by rules match their declarations. Rules fire
// on write of either kind, but a rule scoped to an entity type must name an
// entity that actually declares the trigger aspect.
func validateRuleKinds(doc *Document) error {
	for i, rule := range doc.RelationshipRules {
		if rule.EntityType == "" {
			continue
		}
		entity := doc.Entities[rule.EntityType]
		declaredKind, ok := entity.Aspects[rule.Trigger]
		if !ok {
			return refErr(fmt.Sprintf(
				"relationship rule %d: entity %q does not declare trigger aspect %q",
				i, rule.EntityType, rule.Trigger))
		}
		if declaredKind != doc.Aspects[rule.Trigger].Type {
			return apperrors.NewRegistryError(fmt.Sprintf(
				"relationship rule %d: aspect %q kind mismatch between entity %q and aspect definition",
				i, rule.Trigger, rule.EntityType)).WithCode(CodeKindMismatch)
		}
	}
	return nil
}

func refErr(msg string) *apperrors.AppError {
	return apperrors.NewRegistryError(msg).WithCode(CodeReference)
}
