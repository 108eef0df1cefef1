package registry

import (
	"sort"

	"github.com/alishams21/lineagentic-kg/domain/graph"
)

// Document is the declarative registry as parsed from YAML. It describes
// every entity type, aspect type, relationship rule, and lineage template
// the system accepts. A Document is immutable once validated.
type Document struct {
	Metadata          Metadata                    `yaml:"metadata" mapstructure:"metadata"`
	Includes          []string                    `yaml:"includes" mapstructure:"includes"`
	Entities          map[string]*EntityDef       `yaml:"entities" mapstructure:"entities"`
	Aspects           map[string]*AspectDef       `yaml:"aspects" mapstructure:"aspects"`
	RelationshipRules []*RelationshipRule         `yaml:"relationship_rules" mapstructure:"relationship_rules"`
	LineageConfig     *LineageConfig              `yaml:"lineage_config" mapstructure:"lineage_config"`
}

// Metadata carries document-level settings.
type Metadata struct {
	Name      string `yaml:"name" mapstructure:"name"`
	URNPrefix string `yaml:"urn_prefix" mapstructure:"urn_prefix"`
}

// EntityDef declares one entity type: its identifying parameters (ordered),
// optional parameters, URN template, and the aspects it accepts by name.
type EntityDef struct {
	IdentifyingParams []string          `yaml:"identifying_params" mapstructure:"identifying_params"`
	OptionalParams    []string          `yaml:"optional_params" mapstructure:"optional_params"`
	URNTemplate       string            `yaml:"urn_template" mapstructure:"urn_template"`
	Aspects           map[string]string `yaml:"aspects" mapstructure:"aspects"`

	// Defaults fill absent identifying/optional params before URN building.
	Defaults map[string]string `yaml:"defaults" mapstructure:"defaults"`
	// Sanitize lists params passed through the identifier sanitizer.
	Sanitize []string `yaml:"sanitize" mapstructure:"sanitize"`
	// Transformations maps param name to a named normalizer applied before
	// sanitization (e.g. email_to_username, lowercase).
	Transformations map[string]string `yaml:"transformations" mapstructure:"transformations"`
}

// HasParam reports whether the entity declares the parameter.
func (e *EntityDef) HasParam(name string) bool {
	for _, p := range e.IdentifyingParams {
		if p == name {
			return true
		}
	}
	for _, p := range e.OptionalParams {
		if p == name {
			return true
		}
	}
	return false
}

// AspectDef declares one aspect type.
type AspectDef struct {
	Type       string                 `yaml:"type" mapstructure:"type"`
	Properties []string               `yaml:"properties" mapstructure:"properties"`
	Required   []string               `yaml:"required" mapstructure:"required"`
	Defaults   map[string]interface{} `yaml:"defaults" mapstructure:"defaults"`
}

// RelationshipRule turns aspect payloads into relationships.
type RelationshipRule struct {
	// Trigger is the aspect name this rule fires on; EntityType optionally
	// restricts the rule to one owning entity type.
	Trigger    string `yaml:"trigger" mapstructure:"trigger"`
	EntityType string `yaml:"entity_type" mapstructure:"entity_type"`

	// When is an optional expression evaluated against the payload; a
	// false result skips the rule.
	When string `yaml:"when" mapstructure:"when"`

	Extract             ExtractSpec `yaml:"extract" mapstructure:"extract"`
	SourceSelector      Selector    `yaml:"source_selector" mapstructure:"source_selector"`
	DestinationSelector Selector    `yaml:"destination_selector" mapstructure:"destination_selector"`
	Edge                EdgeSpec    `yaml:"edge" mapstructure:"edge"`

	// AutoCreateMissing permits URN-only materialization of an absent
	// destination entity. Opt-in per rule.
	AutoCreateMissing bool `yaml:"auto_create_missing" mapstructure:"auto_create_missing"`
	// AllowSelfLoops permits edges whose source and destination coincide.
	AllowSelfLoops bool `yaml:"allow_self_loops" mapstructure:"allow_self_loops"`
}

// ExtractSpec projects (source, destination) tuples and edge properties out
// of the aspect payload. Paths use dot segments with [] array fan-out
// (e.g. "owners[].owner").
type ExtractSpec struct {
	Src   string            `yaml:"src" mapstructure:"src"`
	Dst   string            `yaml:"dst" mapstructure:"dst"`
	Dsts  []string          `yaml:"dsts" mapstructure:"dsts"`
	Props map[string]string `yaml:"props" mapstructure:"props"`
}

// DstPaths returns the destination projection paths, singular or plural.
func (e *ExtractSpec) DstPaths() []string {
	if len(e.Dsts) > 0 {
		return e.Dsts
	}
	if e.Dst != "" {
		return []string{e.Dst}
	}
	return nil
}

// Selector kinds.
const (
	SelectorOwning     = "owning"
	SelectorFromURN    = "from_urn"
	SelectorFromParams = "from_params"
)

// Selector resolves one endpoint of a rule-created edge: the owning entity,
// a URN literally present at the projection, or a URN built from projected
// params of a declared entity type.
type Selector struct {
	Kind   string            `yaml:"kind" mapstructure:"kind"`
	Entity string            `yaml:"entity" mapstructure:"entity"`
	Params map[string]string `yaml:"params" mapstructure:"params"`
}

// EdgeSpec declares the edge produced by a rule.
type EdgeSpec struct {
	Type           string            `yaml:"type" mapstructure:"type"`
	Properties     map[string]string `yaml:"properties" mapstructure:"properties"`
	Discriminators []string          `yaml:"discriminators" mapstructure:"discriminators"`
}

// LineageConfig declares transformation templates for column-level lineage.
// ColumnEntity names the entity type carrying transformation aspects and
// ColumnParam the URN parameter holding the column name; EdgeType defaults
// to DERIVES_FROM.
type LineageConfig struct {
	ColumnEntity            string                  `yaml:"column_entity" mapstructure:"column_entity"`
	ColumnParam             string                  `yaml:"column_param" mapstructure:"column_param"`
	EdgeType                string                  `yaml:"edge_type" mapstructure:"edge_type"`
	AutoCreateMissing       bool                    `yaml:"auto_create_missing" mapstructure:"auto_create_missing"`
	TransformationTemplates TransformationTemplates `yaml:"transformation_templates" mapstructure:"transformation_templates"`
}

// TransformationTemplates holds the fallback template plus per-type patterns.
type TransformationTemplates struct {
	Default  *TransformationTemplate            `yaml:"default" mapstructure:"default"`
	Patterns map[string]*TransformationTemplate `yaml:"patterns" mapstructure:"patterns"`
}

// TransformationTemplate renders DERIVES_FROM edge properties for one
// transformation type.
type TransformationTemplate struct {
	DescriptionTemplate    string            `yaml:"description_template" mapstructure:"description_template"`
	RelationshipProperties map[string]string `yaml:"relationship_properties" mapstructure:"relationship_properties"`
}

// Registry is the validated, queryable registry. Read-only after Load.
type Registry struct {
	doc           *Document
	rulesByAspect map[string][]*RelationshipRule
}

// newRegistry indexes a validated document.
func newRegistry(doc *Document) *Registry {
	byAspect := make(map[string][]*RelationshipRule)
	for _, rule := range doc.RelationshipRules {
		byAspect[rule.Trigger] = append(byAspect[rule.Trigger], rule)
	}
	return &Registry{doc: doc, rulesByAspect: byAspect}
}

// EntityTypes returns the declared entity type names, sorted.
func (r *Registry) EntityTypes() []string {
	types := make([]string, 0, len(r.doc.Entities))
	for name := range r.doc.Entities {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Entity returns the definition for an entity type, nil if undeclared.
func (r *Registry) Entity(entityType string) *EntityDef {
	return r.doc.Entities[entityType]
}

// AspectNames returns the declared aspect names, sorted.
func (r *Registry) AspectNames() []string {
	names := make([]string, 0, len(r.doc.Aspects))
	for name := range r.doc.Aspects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aspect returns the definition for an aspect, nil if undeclared.
func (r *Registry) Aspect(name string) *AspectDef {
	return r.doc.Aspects[name]
}

// AspectsOf returns the aspect name to kind mapping for an entity type.
func (r *Registry) AspectsOf(entityType string) map[string]graph.AspectKind {
	def := r.doc.Entities[entityType]
	if def == nil {
		return nil
	}
	out := make(map[string]graph.AspectKind, len(def.Aspects))
	for name, kind := range def.Aspects {
		out[name] = graph.AspectKind(kind)
	}
	return out
}

// AspectKind returns the declared kind of an aspect.
func (r *Registry) AspectKind(name string) (graph.AspectKind, bool) {
	def := r.doc.Aspects[name]
	if def == nil {
		return "", false
	}
	return graph.AspectKind(def.Type), true
}

// URNTemplate returns the URN template for an entity type.
func (r *Registry) URNTemplate(entityType string) string {
	def := r.doc.Entities[entityType]
	if def == nil {
		return ""
	}
	return def.URNTemplate
}

// RulesFor returns the relationship rules triggered by an aspect, in
// declaration order.
func (r *Registry) RulesFor(aspectName string) []*RelationshipRule {
	return r.rulesByAspect[aspectName]
}

// OwnersOf returns the entity types that declare the aspect, sorted.
func (r *Registry) OwnersOf(aspectName string) []string {
	var owners []string
	for entityType, def := range r.doc.Entities {
		if _, ok := def.Aspects[aspectName]; ok {
			owners = append(owners, entityType)
		}
	}
	sort.Strings(owners)
	return owners
}

// Lineage returns the lineage config, nil when absent.
func (r *Registry) Lineage() *LineageConfig {
	return r.doc.LineageConfig
}

// LineageTemplates returns the lineage template config, nil when absent.
func (r *Registry) LineageTemplates() *TransformationTemplates {
	if r.doc.LineageConfig == nil {
		return nil
	}
	return &r.doc.LineageConfig.TransformationTemplates
}

// URNPrefix returns the configured URN prefix, defaulting to "urn:li".
func (r *Registry) URNPrefix() string {
	if r.doc.Metadata.URNPrefix == "" {
		return "urn:li"
	}
	return r.doc.Metadata.URNPrefix
}
