package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

func TestEvalPath_DotDescent(t *testing.T) {
	payload := map[string]interface{}{
		"schema": map[string]interface{}{"name": "orders"},
	}

	hits, err := evalPath(payload, "schema.name")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "orders", hits[0].value)
}

func TestEvalPath_ArrayFanOut(t *testing.T) {
	payload := map[string]interface{}{
		"owners": []interface{}{
			map[string]interface{}{"owner": "urn:li:corpuser:alice", "type": "TECHNICAL"},
			map[string]interface{}{"owner": "urn:li:corpuser:bob", "type": "BUSINESS"},
		},
	}

	hits, err := evalPath(payload, "owners[].owner")
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// Fan-out preserves array order and scopes each hit to its element.
	assert.Equal(t, "urn:li:corpuser:alice", hits[0].value)
	assert.Equal(t, "TECHNICAL", hits[0].scope["type"])
	assert.Equal(t, "urn:li:corpuser:bob", hits[1].value)
	assert.Equal(t, "BUSINESS", hits[1].scope["type"])
}

func TestEvalPath_StarSuffixEquivalent(t *testing.T) {
	payload := map[string]interface{}{
		"fields": []interface{}{
			map[string]interface{}{"path": "a"},
			map[string]interface{}{"path": "b"},
		},
	}

	bracket, err := evalPath(payload, "fields[].path")
	require.NoError(t, err)
	star, err := evalPath(payload, "fields[*].path")
	require.NoError(t, err)
	assert.Equal(t, len(bracket), len(star))
}

func TestEvalPath_MissingAndNilYieldNoHits(t *testing.T) {
	payload := map[string]interface{}{"present": nil}

	for _, path := range []string{"absent", "present", "absent[].x", "present.deep"} {
		hits, err := evalPath(payload, path)
		require.NoError(t, err, "path %q", path)
		assert.Empty(t, hits, "path %q", path)
	}
}

func TestEvalPath_NilArrayElementsSkipped(t *testing.T) {
	payload := map[string]interface{}{
		"owners": []interface{}{
			nil,
			map[string]interface{}{"owner": "urn:li:corpuser:alice"},
		},
	}

	hits, err := evalPath(payload, "owners[].owner")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestEvalPath_TypeErrors(t *testing.T) {
	payload := map[string]interface{}{
		"scalar": "not-a-map",
		"count":  3,
	}

	_, err := evalPath(payload, "scalar.deep")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeRuleEvaluation))

	_, err = evalPath(payload, "count[].x")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeRuleEvaluation))
}

func TestEvalScalar(t *testing.T) {
	payload := map[string]interface{}{
		"type":   "TECHNICAL",
		"owners": []interface{}{map[string]interface{}{"owner": "a"}, map[string]interface{}{"owner": "b"}},
	}

	v, err := evalScalar(payload, "type")
	require.NoError(t, err)
	assert.Equal(t, "TECHNICAL", v)

	first, err := evalScalar(payload, "owners[].owner")
	require.NoError(t, err)
	assert.Equal(t, "a", first)

	missing, err := evalScalar(payload, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
