package urn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

func newDatasetBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(
		"dataset",
		"urn:li:dataset:(urn:li:dataPlatform:{platform},{name},{env})",
		[]string{"platform", "name", "env"},
		nil,
		map[string]string{"env": "PROD"},
		[]string{"name"},
		nil,
	)
	require.NoError(t, err)
	return b
}

func TestBuilder_Build_Deterministic(t *testing.T) {
	b := newDatasetBuilder(t)

	params := map[string]interface{}{
		"platform": "snowflake",
		"name":     "orders",
		"env":      "PROD",
	}

	first, err := b.Build(params)
	require.NoError(t, err)
	second, err := b.Build(params)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "urn:li:dataset:(urn:li:dataPlatform:snowflake,orders,PROD)", first)
}

func TestBuilder_Build_DefaultsFillAbsentParams(t *testing.T) {
	b := newDatasetBuilder(t)

	urn, err := b.Build(map[string]interface{}{
		"platform": "snowflake",
		"name":     "orders",
	})
	require.NoError(t, err)
	assert.Equal(t, "urn:li:dataset:(urn:li:dataPlatform:snowflake,orders,PROD)", urn)
}

func TestBuilder_Build_MissingIdentifyingParam(t *testing.T) {
	b := newDatasetBuilder(t)

	_, err := b.Build(map[string]interface{}{"platform": "snowflake"})
	require.Error(t, err)

	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrorTypeURN, appErr.Type)
	assert.Equal(t, "name", appErr.Details["param"])
}

func TestBuilder_Build_EscapesReservedCharacters(t *testing.T) {
	b, err := NewBuilder("corpuser", "urn:li:corpuser:{username}",
		[]string{"username"}, nil, nil, nil, nil)
	require.NoError(t, err)

	urn, err := b.Build(map[string]interface{}{"username": "a(b),c:d%e"})
	require.NoError(t, err)
	assert.Equal(t, "urn:li:corpuser:a%28b%29%2Cc%3Ad%25e", urn)

	parsed, err := b.Parse(urn)
	require.NoError(t, err)
	assert.Equal(t, "a(b),c:d%e", parsed["username"])
}

func TestBuilder_Build_SanitizeAndTransform(t *testing.T) {
	b, err := NewBuilder("corpuser", "urn:li:corpuser:{username}",
		[]string{"username"}, nil, nil, []string{"username"},
		map[string]string{"username": "email_to_username"})
	require.NoError(t, err)

	urn, err := b.Build(map[string]interface{}{"username": "Jane Doe@corp.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "urn:li:corpuser:Jane_Doe", urn)
}

func TestBuilder_UnknownNormalizerRejected(t *testing.T) {
	_, err := NewBuilder("corpuser", "urn:li:corpuser:{username}",
		[]string{"username"}, nil, nil, nil,
		map[string]string{"username": "reverse"})
	assert.Error(t, err)
}

func TestBuilder_ParseRoundTrip(t *testing.T) {
	// No sanitize list: escaping alone is lossless, so parsing inverts
	// building exactly.
	b, err := NewBuilder(
		"dataset",
		"urn:li:dataset:(urn:li:dataPlatform:{platform},{name},{env})",
		[]string{"platform", "name", "env"},
		nil, nil, nil, nil,
	)
	require.NoError(t, err)
	require.True(t, b.CanParse())

	params := map[string]interface{}{
		"platform": "kafka",
		"name":     "orders.v2,raw",
		"env":      "DEV",
	}
	urn, err := b.Build(params)
	require.NoError(t, err)

	parsed, err := b.Parse(urn)
	require.NoError(t, err)
	assert.Equal(t, "kafka", parsed["platform"])
	assert.Equal(t, "orders.v2,raw", parsed["name"])
	assert.Equal(t, "DEV", parsed["env"])
}

func TestBuilder_Parse_ReturnsSanitizedValues(t *testing.T) {
	// Sanitizing is lossy: parsing hands back what was substituted into
	// the urn, not the caller's raw input.
	b := newDatasetBuilder(t)
	require.True(t, b.CanParse())

	urn, err := b.Build(map[string]interface{}{
		"platform": "kafka",
		"name":     "orders.v2,raw",
		"env":      "DEV",
	})
	require.NoError(t, err)

	parsed, err := b.Parse(urn)
	require.NoError(t, err)
	assert.Equal(t, "orders.v2_raw", parsed["name"])
}

func TestBuilder_Parse_RejectsMismatchedURN(t *testing.T) {
	b := newDatasetBuilder(t)

	_, err := b.Parse("urn:li:chart:something")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeURN))
}

func TestTemplate_AdjacentPlaceholdersNotParseable(t *testing.T) {
	tmpl, err := ParseTemplate("urn:li:thing:{a}{b}")
	require.NoError(t, err)
	assert.False(t, tmpl.CanParse())

	b, err := NewBuilder("thing", "urn:li:thing:{a}{b}",
		[]string{"a", "b"}, nil, nil, nil, nil)
	require.NoError(t, err)
	_, err = b.Parse("urn:li:thing:xy")
	assert.Error(t, err)
}

func TestParseTemplate_Malformed(t *testing.T) {
	cases := []string{"", "urn:li:x:{", "urn:li:x:{}", "urn:li:x:{a b}"}
	for _, raw := range cases {
		_, err := ParseTemplate(raw)
		assert.Error(t, err, "template %q", raw)
	}
}

func TestNormalizers(t *testing.T) {
	assert.Equal(t, "jane.doe", EmailToUsername("jane.doe@corp.example.com"))
	assert.Equal(t, "plain_name", SanitizeID("plain name"))
	assert.Equal(t, "a_b_c", SanitizeID(" a/b\\c "))
	assert.Equal(t, "prod", Lowercase("PROD"))
}
