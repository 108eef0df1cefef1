package lineage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/application/rules"
	"github.com/alishams21/lineagentic-kg/application/writer"
	"github.com/alishams21/lineagentic-kg/domain/graph"
	"github.com/alishams21/lineagentic-kg/domain/registry"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

const defaultEdgeType = "DERIVES_FROM"
const defaultColumnParam = "field_path"

// Resolver expands transformation aspect payloads into column-level lineage
// edges. For each input column it emits one derives-from edge from the
// owning column to the input column, with properties rendered from the
// transformation template matching the payload's transformation_type.
type Resolver struct {
	registry *registry.Registry
	writer   *writer.Writer
	logger   *zap.Logger
}

// NewResolver binds a resolver to the registry's lineage config.
func NewResolver(reg *registry.Registry, w *writer.Writer, logger *zap.Logger) *Resolver {
	return &Resolver{registry: reg, writer: w, logger: logger}
}

// Applies reports whether lineage expansion should run for this aspect
// write: the registry declares lineage templates, the owning entity is the
// configured column type, and the payload actually describes a
// transformation.
func (r *Resolver) Applies(ownerType string, payload map[string]interface{}) bool {
	cfg := r.registry.Lineage()
	if cfg == nil {
		return false
	}
	if cfg.ColumnEntity != "" && cfg.ColumnEntity != ownerType {
		return false
	}
	_, hasType := payload["transformation_type"]
	_, hasInputs := payload["input_columns"]
	return hasType && hasInputs
}

// Expand stages one derives-from edge per input column on tx. Input columns
// given as bare names are resolved to URNs by substituting the column
// parameter of the owning column's parsed URN; inputs already shaped as URNs
// pass through unchanged.
func (r *Resolver) Expand(ctx context.Context, tx graph.Tx, ownerType, ownerURN string, payload map[string]interface{}) (*rules.Result, error) {
	cfg := r.registry.Lineage()
	if cfg == nil {
		return &rules.Result{}, nil
	}

	tmpl := r.template(payload)
	if tmpl == nil {
		return &rules.Result{}, nil
	}

	inputs, err := inputColumns(payload)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return &rules.Result{}, nil
	}

	edgeType := cfg.EdgeType
	if edgeType == "" {
		edgeType = defaultEdgeType
	}

	result := &rules.Result{}
	seen := make(map[string]bool)
	ensured := make(map[string]bool)
	for _, input := range inputs {
		dstURN, err := r.resolveInputURN(cfg, ownerType, ownerURN, input)
		if err != nil {
			return nil, err
		}
		if dstURN == "" || dstURN == ownerURN {
			continue
		}

		edge := &graph.Edge{
			SrcType:    ownerType,
			SrcURN:     ownerURN,
			Type:       edgeType,
			DstType:    ownerType,
			DstURN:     dstURN,
			Properties: r.renderProperties(tmpl, payload, input),
			Via:        "lineage",
		}
		if seen[edge.Key()] {
			continue
		}
		seen[edge.Key()] = true

		// Each destination is staged at most once per transaction.
		if cfg.AutoCreateMissing && !ensured[dstURN] {
			ensured[dstURN] = true
			_, err := r.writer.GetEntity(ctx, ownerType, dstURN)
			if apperrors.IsNotFound(err) {
				r.writer.EnsureEntity(ctx, tx, ownerType, dstURN)
				result.CreatedEntities = append(result.CreatedEntities, dstURN)
			} else if err != nil {
				return nil, err
			}
		}
		if err := r.writer.MergeEdge(ctx, tx, edge); err != nil {
			return nil, err
		}
		result.Edges = append(result.Edges, edge)
	}

	r.logger.Debug("expanded lineage template",
		zap.String("urn", ownerURN),
		zap.Int("edges", len(result.Edges)))
	return result, nil
}

// template picks the pattern matching the payload's transformation_type,
// falling back to the default template for unknown types.
func (r *Resolver) template(payload map[string]interface{}) *registry.TransformationTemplate {
	templates := r.registry.LineageTemplates()
	if templates == nil {
		return nil
	}
	if ttype, ok := payload["transformation_type"].(string); ok {
		if tmpl, ok := templates.Patterns[ttype]; ok {
			return tmpl
		}
	}
	return templates.Default
}

// resolveInputURN maps one input column reference to a URN. Bare column
// names are substituted into the owning column's parsed URN parameters.
func (r *Resolver) resolveInputURN(cfg *registry.LineageConfig, ownerType, ownerURN, input string) (string, error) {
	if strings.HasPrefix(input, "urn:") {
		return input, nil
	}

	builder, err := r.writer.Builder(ownerType)
	if err != nil {
		return "", err
	}
	if !builder.CanParse() {
		return "", apperrors.NewRuleEvaluationError(
			fmt.Sprintf("cannot resolve input column %q: urn template for %s is not reverse-parseable", input, ownerType))
	}
	parsed, err := builder.Parse(ownerURN)
	if err != nil {
		return "", apperrors.NewRuleEvaluationError(
			fmt.Sprintf("cannot parse owning column urn %q", ownerURN)).WithCause(err)
	}

	columnParam := cfg.ColumnParam
	if columnParam == "" {
		columnParam = defaultColumnParam
	}
	params := make(map[string]interface{}, len(parsed))
	for k, v := range parsed {
		params[k] = v
	}
	params[columnParam] = input

	return r.writer.BuildURN(ownerType, params)
}

// renderProperties fills template placeholders literally from the payload,
// plus the per-input {input_column} variable.
func (r *Resolver) renderProperties(tmpl *registry.TransformationTemplate, payload map[string]interface{}, input string) map[string]interface{} {
	props := make(map[string]interface{}, len(tmpl.RelationshipProperties)+1)
	for key, value := range tmpl.RelationshipProperties {
		props[key] = renderPlaceholders(value, payload, input)
	}
	if tmpl.DescriptionTemplate != "" {
		if _, ok := props["description"]; !ok {
			props["description"] = renderPlaceholders(tmpl.DescriptionTemplate, payload, input)
		}
	}
	return props
}

// renderPlaceholders substitutes {field} references with payload values.
// Unresolvable placeholders are left intact.
func renderPlaceholders(template string, payload map[string]interface{}, input string) string {
	if !strings.ContainsRune(template, '{') {
		return template
	}
	out := template
	out = strings.ReplaceAll(out, "{input_column}", input)
	if cols, err := inputColumns(payload); err == nil && len(cols) > 0 {
		out = strings.ReplaceAll(out, "{input_columns}", strings.Join(cols, ", "))
	}
	for key, value := range payload {
		out = strings.ReplaceAll(out, "{"+key+"}", fmt.Sprintf("%v", value))
	}
	return out
}

func inputColumns(payload map[string]interface{}) ([]string, error) {
	raw, ok := payload["input_columns"]
	if !ok || raw == nil {
		return nil, nil
	}
	switch typed := raw.(type) {
	case []string:
		return typed, nil
	case []interface{}:
		cols := make([]string, 0, len(typed))
		for _, v := range typed {
			s, ok := v.(string)
			if !ok {
				return nil, apperrors.NewRuleEvaluationError(
					fmt.Sprintf("input_columns entries must be strings, found %T", v))
			}
			cols = append(cols, s)
		}
		return cols, nil
	default:
		return nil, apperrors.NewRuleEvaluationError(
			fmt.Sprintf("input_columns must be an array, found %T", raw))
	}
}
