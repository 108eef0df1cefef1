package writer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/domain/graph"
	"github.com/alishams21/lineagentic-kg/domain/registry"
	"github.com/alishams21/lineagentic-kg/infrastructure/persistence/memory"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

const testDoc = `
entities:
  dataset:
    identifying_params: [platform, name, env]
    urn_template: "urn:li:dataset:(urn:li:dataPlatform:{platform},{name},{env})"
    defaults:
      env: PROD
    aspects:
      datasetProperties: versioned
      datasetProfile: timeseries
  corpuser:
    identifying_params: [username]
    urn_template: "urn:li:corpuser:{username}"
    aspects: {}
aspects:
  datasetProperties:
    type: versioned
    properties: [description, tags]
    required: [description]
  datasetProfile:
    type: timeseries
    properties: [rowCount]
    required: [rowCount]
`

func newTestWriter(t *testing.T) (*Writer, *memory.Store) {
	t.Helper()
	reg, err := registry.LoadBytes([]byte(testDoc))
	require.NoError(t, err)
	store := memory.NewStore()
	w, err := NewWriter(store, reg, zap.NewNop())
	require.NoError(t, err)
	return w, store
}

func datasetParams(name string) map[string]interface{} {
	return map[string]interface{}{"platform": "snowflake", "name": name}
}

func TestWriter_UpsertEntity(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	tx, err := w.Begin(ctx)
	require.NoError(t, err)
	urn, err := w.UpsertEntity(ctx, tx, "dataset", datasetParams("orders"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, "urn:li:dataset:(urn:li:dataPlatform:snowflake,orders,PROD)", urn)

	entity, err := w.GetEntity(ctx, "dataset", urn)
	require.NoError(t, err)
	assert.Equal(t, "dataset", entity.Type)
	assert.Equal(t, "orders", entity.Params["name"])
}

func TestWriter_UpsertEntity_UnknownType(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	tx, _ := w.Begin(ctx)
	defer tx.Rollback()
	_, err := w.UpsertEntity(ctx, tx, "chart", map[string]interface{}{"id": "x"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestWriter_VersionedAspect_SequenceAndLatest(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	tx, _ := w.Begin(ctx)
	urn, err := w.UpsertEntity(ctx, tx, "dataset", datasetParams("orders"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	for i, desc := range []string{"first", "second", "third"} {
		tx, _ := w.Begin(ctx)
		version, err := w.UpsertVersionedAspect(ctx, tx, "dataset", urn, "datasetProperties",
			map[string]interface{}{"description": desc})
		require.NoError(t, err)
		assert.Equal(t, i+1, version)
		require.NoError(t, tx.Commit(ctx))
	}

	latest, err := w.GetLatestAspect(ctx, urn, "datasetProperties")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)
	assert.True(t, latest.Latest)
	assert.Equal(t, "third", latest.Payload["description"])

	v1, err := w.GetAspectVersion(ctx, urn, "datasetProperties", 1)
	require.NoError(t, err)
	assert.False(t, v1.Latest)
	assert.Equal(t, "first", v1.Payload["description"])
}

func TestWriter_VersionedAspect_StaleHeadConflicts(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	tx, _ := w.Begin(ctx)
	urn, err := w.UpsertEntity(ctx, tx, "dataset", datasetParams("orders"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	// Both transactions read the same head before either commits.
	tx1, _ := w.Begin(ctx)
	_, err = w.UpsertVersionedAspect(ctx, tx1, "dataset", urn, "datasetProperties",
		map[string]interface{}{"description": "a"})
	require.NoError(t, err)

	tx2, _ := w.Begin(ctx)
	_, err = w.UpsertVersionedAspect(ctx, tx2, "dataset", urn, "datasetProperties",
		map[string]interface{}{"description": "b"})
	require.NoError(t, err)

	require.NoError(t, tx1.Commit(ctx))
	err = tx2.Commit(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.True(t, apperrors.IsTransient(err))

	latest, err := w.GetLatestAspect(ctx, urn, "datasetProperties")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
	assert.Equal(t, "a", latest.Payload["description"])
}

func TestWriter_VersionedAspect_ValidationFailsBeforeStaging(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	tx, _ := w.Begin(ctx)
	defer tx.Rollback()
	_, err := w.UpsertVersionedAspect(ctx, tx, "dataset", "urn:li:dataset:x", "datasetProperties",
		map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestWriter_AppendTimeseries_SiblingsShareTimestamp(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	tx, _ := w.Begin(ctx)
	urn, err := w.UpsertEntity(ctx, tx, "dataset", datasetParams("orders"))
	require.NoError(t, err)

	for _, count := range []int{100, 200} {
		_, err := w.AppendTimeseries(ctx, tx, "dataset", urn, "datasetProfile",
			map[string]interface{}{"rowCount": count}, 1700000000000)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(ctx))

	records, err := w.GetTimeseriesRange(ctx, urn, "datasetProfile", 0, 0, 0)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, int64(1700000000000), rec.TimestampMs)
	}
}

func TestWriter_AppendTimeseries_ZeroTimestampDefaultsToNow(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	tx, _ := w.Begin(ctx)
	urn, err := w.UpsertEntity(ctx, tx, "dataset", datasetParams("orders"))
	require.NoError(t, err)

	ts, err := w.AppendTimeseries(ctx, tx, "dataset", urn, "datasetProfile",
		map[string]interface{}{"rowCount": 5}, 0)
	require.NoError(t, err)
	assert.Greater(t, ts, int64(0))
}

func TestWriter_MergeEdge_PropertiesMergePolicy(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	src := "urn:li:dataset:(urn:li:dataPlatform:snowflake,orders,PROD)"
	dst := "urn:li:corpuser:alice"

	tx, _ := w.Begin(ctx)
	require.NoError(t, w.MergeEdge(ctx, tx, &graph.Edge{
		SrcType: "dataset", SrcURN: src, Type: "OWNED_BY", DstType: "corpuser", DstURN: dst,
		Properties: map[string]interface{}{
			"source": "manual",
			"tags":   []interface{}{"b", "a"},
		},
	}))
	require.NoError(t, tx.Commit(ctx))

	tx, _ = w.Begin(ctx)
	require.NoError(t, w.MergeEdge(ctx, tx, &graph.Edge{
		SrcType: "dataset", SrcURN: src, Type: "OWNED_BY", DstType: "corpuser", DstURN: dst,
		Properties: map[string]interface{}{
			"source": "ingestion",
			"tags":   []interface{}{"c", "a"},
		},
	}))
	require.NoError(t, tx.Commit(ctx))

	edges, err := w.ListOutgoingEdges(ctx, src)
	require.NoError(t, err)
	require.Len(t, edges, 1)

	// Scalars are last-writer-wins, arrays union with stable sort.
	assert.Equal(t, "ingestion", edges[0].Properties["source"])
	assert.Equal(t, []interface{}{"a", "b", "c"}, edges[0].Properties["tags"])
}

func TestWriter_DeleteEntity_DependentsBlockWithoutCascade(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	tx, _ := w.Begin(ctx)
	urn, err := w.UpsertEntity(ctx, tx, "dataset", datasetParams("orders"))
	require.NoError(t, err)
	_, err = w.UpsertVersionedAspect(ctx, tx, "dataset", urn, "datasetProperties",
		map[string]interface{}{"description": "d"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	err = w.DeleteEntity(ctx, "dataset", urn, false)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDependencyViolation))

	require.NoError(t, w.DeleteEntity(ctx, "dataset", urn, true))
	_, err = w.GetEntity(ctx, "dataset", urn)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestWriter_DeleteAspect_RemovesAllVersions(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	tx, _ := w.Begin(ctx)
	urn, err := w.UpsertEntity(ctx, tx, "dataset", datasetParams("orders"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	for _, desc := range []string{"a", "b"} {
		tx, _ := w.Begin(ctx)
		_, err := w.UpsertVersionedAspect(ctx, tx, "dataset", urn, "datasetProperties",
			map[string]interface{}{"description": desc})
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))
	}

	require.NoError(t, w.DeleteAspect(ctx, urn, "datasetProperties"))
	_, err = w.GetLatestAspect(ctx, urn, "datasetProperties")
	assert.True(t, apperrors.IsNotFound(err))
	_, err = w.GetAspectVersion(ctx, urn, "datasetProperties", 1)
	assert.True(t, apperrors.IsNotFound(err))
}
