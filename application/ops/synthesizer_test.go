package ops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/application/lineage"
	"github.com/alishams21/lineagentic-kg/application/rules"
	"github.com/alishams21/lineagentic-kg/application/writer"
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
      status: versioned
  corpuser:
    identifying_params: [username]
    urn_template: "urn:li:corpuser:{username}"
    aspects:
      status: versioned
aspects:
  datasetProperties:
    type: versioned
    properties: [description]
    required: [description]
  datasetProfile:
    type: timeseries
    properties: [rowCount]
    required: [rowCount]
  status:
    type: versioned
    properties: [removed]
`

func newTestCatalog(t *testing.T) (*Catalog, *writer.Writer) {
	t.Helper()
	reg, err := registry.LoadBytes([]byte(testDoc))
	require.NoError(t, err)
	store := memory.NewStore()
	w, err := writer.NewWriter(store, reg, zap.NewNop())
	require.NoError(t, err)
	engine, err := rules.NewEngine(reg, w, zap.NewNop())
	require.NoError(t, err)
	resolver := lineage.NewResolver(reg, w, zap.NewNop())
	return NewSynthesizer(reg, w, engine, resolver, zap.NewNop()).Synthesize(), w
}

func TestSynthesize_CatalogShape(t *testing.T) {
	catalog, _ := newTestCatalog(t)

	// Three ops per entity type plus three per aspect.
	assert.Len(t, catalog.Names(), 2*3+3*3)
	for _, name := range []string{
		"upsert_dataset", "get_dataset", "delete_dataset",
		"upsert_corpuser", "get_corpuser", "delete_corpuser",
		"upsert_datasetproperties_aspect", "get_datasetprofile_aspect", "delete_status_aspect",
	} {
		_, err := catalog.Lookup(name)
		assert.NoError(t, err, "operation %q", name)
	}

	d, err := catalog.Lookup("upsert_dataset")
	require.NoError(t, err)
	assert.Equal(t, VerbUpsert, d.Verb)
	assert.Equal(t, TargetEntity, d.Target)
	assert.Equal(t, []string{"platform", "name", "env"}, d.RequiredParams)

	_, err = catalog.Lookup("upsert_chart")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDispatch_EntityLifecycle(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	ctx := context.Background()

	params := map[string]interface{}{"platform": "snowflake", "name": "orders"}

	created, err := catalog.Dispatch(ctx, "upsert_dataset", &Request{Params: params})
	require.NoError(t, err)
	assert.Equal(t, "urn:li:dataset:(urn:li:dataPlatform:snowflake,orders,PROD)", created.URN)

	got, err := catalog.Dispatch(ctx, "get_dataset", &Request{Params: params})
	require.NoError(t, err)
	require.NotNil(t, got.Entity)
	assert.Equal(t, created.URN, got.Entity.URN)

	// Lookup by explicit URN behaves identically.
	byURN, err := catalog.Dispatch(ctx, "get_dataset", &Request{EntityURN: created.URN})
	require.NoError(t, err)
	assert.Equal(t, got.Entity.URN, byURN.Entity.URN)

	deleted, err := catalog.Dispatch(ctx, "delete_dataset", &Request{Params: params})
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	_, err = catalog.Dispatch(ctx, "get_dataset", &Request{Params: params})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDispatch_UpsertAspectMaterializesOwner(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	ctx := context.Background()

	result, err := catalog.Dispatch(ctx, "upsert_datasetproperties_aspect", &Request{
		Params:  map[string]interface{}{"platform": "snowflake", "name": "orders"},
		Payload: map[string]interface{}{"description": "orders table"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Version)
	require.Len(t, result.CreatedEntities, 1)
	assert.Equal(t, result.URN, result.CreatedEntities[0])

	// A second write to the same owner is version 2 with nothing created.
	result, err = catalog.Dispatch(ctx, "upsert_datasetproperties_aspect", &Request{
		Params:  map[string]interface{}{"platform": "snowflake", "name": "orders"},
		Payload: map[string]interface{}{"description": "updated"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Version)
	assert.Empty(t, result.CreatedEntities)
}

func TestDispatch_GetAspectVersions(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	ctx := context.Background()

	params := map[string]interface{}{"platform": "snowflake", "name": "orders"}
	for _, desc := range []string{"v1", "v2"} {
		_, err := catalog.Dispatch(ctx, "upsert_datasetproperties_aspect", &Request{
			Params:  params,
			Payload: map[string]interface{}{"description": desc},
		})
		require.NoError(t, err)
	}

	latest, err := catalog.Dispatch(ctx, "get_datasetproperties_aspect", &Request{Params: params})
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "v2", latest.Aspect.Payload["description"])

	pinned, err := catalog.Dispatch(ctx, "get_datasetproperties_aspect", &Request{Params: params, Version: 1})
	require.NoError(t, err)
	assert.Equal(t, "v1", pinned.Aspect.Payload["description"])
}

func TestDispatch_TimeseriesAspect(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	ctx := context.Background()

	params := map[string]interface{}{"platform": "snowflake", "name": "orders"}
	for i, ts := range []int64{1000, 2000, 3000} {
		result, err := catalog.Dispatch(ctx, "upsert_datasetprofile_aspect", &Request{
			Params:      params,
			Payload:     map[string]interface{}{"rowCount": i},
			TimestampMs: ts,
		})
		require.NoError(t, err)
		assert.Equal(t, ts, result.TimestampMs)
	}

	// [from, to) window, newest first.
	window, err := catalog.Dispatch(ctx, "get_datasetprofile_aspect", &Request{
		Params: params,
		FromMs: 1000,
		ToMs:   3000,
	})
	require.NoError(t, err)
	require.Len(t, window.Timeseries, 2)
	assert.Equal(t, int64(2000), window.Timeseries[0].TimestampMs)
	assert.Equal(t, int64(1000), window.Timeseries[1].TimestampMs)
}

func TestDispatch_AmbiguousOwnerNeedsEntityType(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := catalog.Dispatch(ctx, "upsert_status_aspect", &Request{
		Params:  map[string]interface{}{"username": "alice"},
		Payload: map[string]interface{}{"removed": false},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	result, err := catalog.Dispatch(ctx, "upsert_status_aspect", &Request{
		EntityType: "corpuser",
		Params:     map[string]interface{}{"username": "alice"},
		Payload:    map[string]interface{}{"removed": false},
	})
	require.NoError(t, err)
	assert.Equal(t, "urn:li:corpuser:alice", result.URN)
}

func TestDispatch_DeleteAspect(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	ctx := context.Background()

	params := map[string]interface{}{"platform": "snowflake", "name": "orders"}
	_, err := catalog.Dispatch(ctx, "upsert_datasetproperties_aspect", &Request{
		Params:  params,
		Payload: map[string]interface{}{"description": "d"},
	})
	require.NoError(t, err)

	deleted, err := catalog.Dispatch(ctx, "delete_datasetproperties_aspect", &Request{Params: params})
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	_, err = catalog.Dispatch(ctx, "get_datasetproperties_aspect", &Request{Params: params})
	assert.True(t, apperrors.IsNotFound(err))
}
