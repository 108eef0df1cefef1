package lineage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/application/writer"
	"github.com/alishams21/lineagentic-kg/domain/registry"
	"github.com/alishams21/lineagentic-kg/infrastructure/persistence/memory"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

const testDoc = `
entities:
  schemaField:
    identifying_params: [dataset_urn, field_path]
    urn_template: "urn:li:schemaField:({dataset_urn},{field_path})"
    aspects:
      transformation: versioned
aspects:
  transformation:
    type: versioned
    properties: [transformation_type, input_columns, algorithm]
lineage_config:
  column_entity: schemaField
  column_param: field_path
  edge_type: DERIVES_FROM
  auto_create_missing: true
  transformation_templates:
    default:
      description_template: "Derived from {input_columns}"
      relationship_properties:
        transformation: "{transformation_type}"
    patterns:
      HASHING:
        description_template: "Hashed from {input_column} using {algorithm}"
        relationship_properties:
          algorithm: "{algorithm}"
`

func newTestResolver(t *testing.T) (*Resolver, *writer.Writer) {
	t.Helper()
	reg, err := registry.LoadBytes([]byte(testDoc))
	require.NoError(t, err)
	store := memory.NewStore()
	w, err := writer.NewWriter(store, reg, zap.NewNop())
	require.NoError(t, err)
	return NewResolver(reg, w, zap.NewNop()), w
}

func upsertColumn(t *testing.T, w *writer.Writer, fieldPath string) string {
	t.Helper()
	ctx := context.Background()
	tx, err := w.Begin(ctx)
	require.NoError(t, err)
	urn, err := w.UpsertEntity(ctx, tx, "schemaField", map[string]interface{}{
		"dataset_urn": "urn:li:dataset:orders",
		"field_path":  fieldPath,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return urn
}

func TestResolver_Applies(t *testing.T) {
	r, _ := newTestResolver(t)

	assert.True(t, r.Applies("schemaField", map[string]interface{}{
		"transformation_type": "HASHING",
		"input_columns":       []interface{}{"email"},
	}))
	assert.False(t, r.Applies("dataset", map[string]interface{}{
		"transformation_type": "HASHING",
		"input_columns":       []interface{}{"email"},
	}))
	assert.False(t, r.Applies("schemaField", map[string]interface{}{
		"transformation_type": "HASHING",
	}))
}

func TestResolver_Expand_PatternTemplate(t *testing.T) {
	r, w := newTestResolver(t)
	ctx := context.Background()
	urn := upsertColumn(t, w, "email_hash")

	payload := map[string]interface{}{
		"transformation_type": "HASHING",
		"algorithm":           "sha256",
		"input_columns":       []interface{}{"email"},
	}

	tx, _ := w.Begin(ctx)
	result, err := r.Expand(ctx, tx, "schemaField", urn, payload)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	require.Len(t, result.Edges, 1)
	edge := result.Edges[0]
	assert.Equal(t, "DERIVES_FROM", edge.Type)
	assert.Equal(t, urn, edge.SrcURN)
	// Bare column names inherit the owning column's URN params.
	wantDst, err := w.BuildURN("schemaField", map[string]interface{}{
		"dataset_urn": "urn:li:dataset:orders",
		"field_path":  "email",
	})
	require.NoError(t, err)
	assert.Equal(t, wantDst, edge.DstURN)
	assert.Equal(t, "sha256", edge.Properties["algorithm"])
	assert.Equal(t, "Hashed from email using sha256", edge.Properties["description"])

	// The opted-in config materializes the input column as a placeholder.
	assert.Equal(t, []string{edge.DstURN}, result.CreatedEntities)
	_, err = w.GetEntity(ctx, "schemaField", edge.DstURN)
	assert.NoError(t, err)
}

func TestResolver_Expand_DefaultTemplateForUnknownType(t *testing.T) {
	r, w := newTestResolver(t)
	ctx := context.Background()
	urn := upsertColumn(t, w, "full_name")

	payload := map[string]interface{}{
		"transformation_type": "CONCAT",
		"input_columns":       []interface{}{"first_name", "last_name"},
	}

	tx, _ := w.Begin(ctx)
	result, err := r.Expand(ctx, tx, "schemaField", urn, payload)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	require.Len(t, result.Edges, 2)
	assert.Equal(t, "CONCAT", result.Edges[0].Properties["transformation"])
	assert.Equal(t, "Derived from first_name, last_name", result.Edges[0].Properties["description"])
}

func TestResolver_Expand_URNInputsPassThrough(t *testing.T) {
	r, w := newTestResolver(t)
	ctx := context.Background()
	urn := upsertColumn(t, w, "email_hash")

	input := "urn:li:schemaField:(urn:li:dataset:users,email)"
	payload := map[string]interface{}{
		"transformation_type": "HASHING",
		"input_columns":       []interface{}{input},
	}

	tx, _ := w.Begin(ctx)
	result, err := r.Expand(ctx, tx, "schemaField", urn, payload)
	require.NoError(t, err)
	tx.Rollback()

	require.Len(t, result.Edges, 1)
	assert.Equal(t, input, result.Edges[0].DstURN)
}

func TestResolver_Expand_SelfAndDuplicateInputsSkipped(t *testing.T) {
	r, w := newTestResolver(t)
	ctx := context.Background()
	urn := upsertColumn(t, w, "email_hash")

	payload := map[string]interface{}{
		"transformation_type": "HASHING",
		"input_columns":       []interface{}{"email", "email", "email_hash"},
	}

	tx, _ := w.Begin(ctx)
	result, err := r.Expand(ctx, tx, "schemaField", urn, payload)
	require.NoError(t, err)
	tx.Rollback()

	assert.Len(t, result.Edges, 1)
}

func TestResolver_Expand_RejectsNonStringInputs(t *testing.T) {
	r, w := newTestResolver(t)
	ctx := context.Background()
	urn := upsertColumn(t, w, "email_hash")

	payload := map[string]interface{}{
		"transformation_type": "HASHING",
		"input_columns":       []interface{}{42},
	}

	tx, _ := w.Begin(ctx)
	_, err := r.Expand(ctx, tx, "schemaField", urn, payload)
	tx.Rollback()

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeRuleEvaluation))
}
