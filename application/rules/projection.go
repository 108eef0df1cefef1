package rules

import (
	"fmt"
	"strings"

	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

// A hit is one value produced by a projection, together with the scope it
// was found in. For fan-out paths the scope is the enclosing array element,
// so sibling fields (edge properties, selector params) can be projected
// relative to the same element.
type hit struct {
	value interface{}
	scope map[string]interface{}
}

// evalPath projects a dot-separated path against the payload. A segment
// suffixed with "[]" or "[*]" fans out over an array, yielding one hit per
// element. Missing keys and nil values yield no hits; a fan-out or field
// access on a value of the wrong type is a RULE_EVALUATION error.
func evalPath(payload map[string]interface{}, path string) ([]hit, error) {
	segments := strings.Split(path, ".")
	return walk(payload, payload, segments, path)
}

func walk(scope map[string]interface{}, current interface{}, segments []string, path string) ([]hit, error) {
	if len(segments) == 0 {
		if current == nil {
			return nil, nil
		}
		return []hit{{value: current, scope: scope}}, nil
	}

	seg := segments[0]
	fanOut := false
	if strings.HasSuffix(seg, "[]") {
		seg, fanOut = strings.TrimSuffix(seg, "[]"), true
	} else if strings.HasSuffix(seg, "[*]") {
		seg, fanOut = strings.TrimSuffix(seg, "[*]"), true
	}

	obj, ok := current.(map[string]interface{})
	if !ok {
		return nil, projectionErr(path, fmt.Sprintf("cannot descend into %T at segment %q", current, seg))
	}
	next, present := obj[seg]
	if !present || next == nil {
		return nil, nil
	}

	if !fanOut {
		return walk(scope, next, segments[1:], path)
	}

	arr, ok := next.([]interface{})
	if !ok {
		return nil, projectionErr(path, fmt.Sprintf("segment %q expects an array, found %T", seg, next))
	}
	var hits []hit
	for _, elem := range arr {
		if elem == nil {
			continue
		}
		elemScope := scope
		if m, ok := elem.(map[string]interface{}); ok {
			elemScope = m
		}
		sub, err := walk(elemScope, elem, segments[1:], path)
		if err != nil {
			return nil, err
		}
		hits = append(hits, sub...)
	}
	return hits, nil
}

// evalScalar projects a path expected to yield at most one value.
func evalScalar(payload map[string]interface{}, path string) (interface{}, error) {
	hits, err := evalPath(payload, path)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return hits[0].value, nil
}

func projectionErr(path, msg string) *apperrors.AppError {
	return apperrors.NewRuleEvaluationError(
		fmt.Sprintf("projection %q: %s", path, msg)).
		WithDetail("path", path)
}
