package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alishams21/lineagentic-kg/domain/graph"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

const validDoc = `
metadata:
  name: test-catalog
  urn_prefix: "urn:li"
entities:
  dataset:
    identifying_params: [platform, name, env]
    optional_params: [description]
    urn_template: "urn:li:dataset:(urn:li:dataPlatform:{platform},{name},{env})"
    defaults:
      env: PROD
    sanitize: [name]
    aspects:
      datasetProperties: versioned
      ownership: versioned
      datasetProfile: timeseries
  corpuser:
    identifying_params: [username]
    urn_template: "urn:li:corpuser:{username}"
    transformations:
      username: email_to_username
    aspects: {}
aspects:
  datasetProperties:
    type: versioned
    properties: [description, tags]
    required: [description]
    defaults:
      tags: []
  ownership:
    type: versioned
    properties: [owners]
    required: [owners]
  datasetProfile:
    type: timeseries
    properties: [rowCount, columnCount]
    required: [rowCount]
relationship_rules:
  - trigger: ownership
    entity_type: dataset
    when: "len(owners) > 0"
    extract:
      dst: "owners[].owner"
      props:
        ownership_type: "type"
    source_selector:
      kind: owning
    destination_selector:
      kind: from_urn
      entity: corpuser
    edge:
      type: OWNED_BY
    auto_create_missing: true
`

func mustLoad(t *testing.T, doc string) *Registry {
	t.Helper()
	reg, err := LoadBytes([]byte(doc))
	require.NoError(t, err)
	return reg
}

func TestLoadBytes_ValidDocument(t *testing.T) {
	reg := mustLoad(t, validDoc)

	assert.Equal(t, []string{"corpuser", "dataset"}, reg.EntityTypes())
	assert.Equal(t, []string{"datasetProfile", "datasetProperties", "ownership"}, reg.AspectNames())
	assert.Equal(t, "urn:li", reg.URNPrefix())

	kind, ok := reg.AspectKind("datasetProfile")
	require.True(t, ok)
	assert.Equal(t, graph.KindTimeseries, kind)

	assert.Equal(t, []string{"dataset"}, reg.OwnersOf("ownership"))
	assert.Empty(t, reg.OwnersOf("unheard-of"))

	rules := reg.RulesFor("ownership")
	require.Len(t, rules, 1)
	assert.Equal(t, "OWNED_BY", rules[0].Edge.Type)
	assert.True(t, rules[0].AutoCreateMissing)
	assert.Empty(t, reg.RulesFor("datasetProperties"))
}

func TestLoadBytes_UnknownAspectReference(t *testing.T) {
	doc := `
entities:
  dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects:
      ghost: versioned
aspects:
  status:
    type: versioned
    properties: [removed]
`
	_, err := LoadBytes([]byte(doc))
	require.Error(t, err)

	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrorTypeRegistry, appErr.Type)
	assert.Equal(t, CodeReference, appErr.Code)
}

func TestLoadBytes_KindMismatch(t *testing.T) {
	doc := `
entities:
  dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects:
      profile: versioned
aspects:
  profile:
    type: timeseries
    properties: [rowCount]
`
	_, err := LoadBytes([]byte(doc))
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, CodeKindMismatch, appErr.Code)
}

func TestLoadBytes_TemplateParamNotDeclared(t *testing.T) {
	doc := `
entities:
  dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:({name},{env})"
    aspects: {}
aspects: {}
`
	_, err := LoadBytes([]byte(doc))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeRegistry))
}

func TestLoadBytes_RequiredOutsideProperties(t *testing.T) {
	doc := `
entities:
  dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects:
      props: versioned
aspects:
  props:
    type: versioned
    properties: [description]
    required: [owner]
`
	_, err := LoadBytes([]byte(doc))
	assert.Error(t, err)
}

func TestLoadBytes_RuleOnUndeclaredAspect(t *testing.T) {
	doc := `
entities:
  dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects:
      status: versioned
aspects:
  status:
    type: versioned
    properties: [removed]
relationship_rules:
  - trigger: ownership
    extract:
      dst: "owners[].owner"
    source_selector:
      kind: owning
    destination_selector:
      kind: from_urn
      entity: dataset
    edge:
      type: OWNED_BY
`
	_, err := LoadBytes([]byte(doc))
	assert.Error(t, err)
}

func TestLoadBytes_BadWhenExpression(t *testing.T) {
	doc := `
entities:
  dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects:
      ownership: versioned
aspects:
  ownership:
    type: versioned
    properties: [owners]
relationship_rules:
  - trigger: ownership
    when: "len(owners >"
    extract:
      dst: "owners[].owner"
    source_selector:
      kind: owning
    destination_selector:
      kind: from_urn
      entity: dataset
    edge:
      type: OWNED_BY
`
	_, err := LoadBytes([]byte(doc))
	assert.Error(t, err)
}

func TestLoadBytes_MalformedYAML(t *testing.T) {
	_, err := LoadBytes([]byte("entities: ["))
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, CodeParseError, appErr.Code)
}

func TestLoad_IncludesMergeWithIncluderWinning(t *testing.T) {
	dir := t.TempDir()

	base := `
entities:
  corpuser:
    identifying_params: [username]
    urn_template: "urn:li:corpuser:{username}"
    aspects: {}
aspects:
  status:
    type: versioned
    properties: [removed]
`
	main := `
metadata:
  name: merged
includes:
  - base.yaml
entities:
  dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects:
      status: versioned
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(base), 0o644))
	mainPath := filepath.Join(dir, "main.yaml")
	require.NoError(t, os.WriteFile(mainPath, []byte(main), 0o644))

	reg, err := Load(mainPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"corpuser", "dataset"}, reg.EntityTypes())
	assert.Equal(t, []string{"dataset"}, reg.OwnersOf("status"))
}

func TestLoad_IncludeCycleRejected(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(a, []byte("includes: [b.yaml]\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("includes: [a.yaml]\n"), 0o644))

	_, err := Load(a)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeRegistry))
}
