package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

// Error codes carried on REGISTRY AppErrors.
const (
	CodeParseError   = "RegistryParseError"
	CodeReference    = "RegistryReferenceError"
	CodeKindMismatch = "RegistryKindMismatch"
)

// Load reads the registry document at path, resolves includes relative to
// it, validates the merged document, and returns the immutable Registry.
// Any failure is fatal to the caller; a partial registry is never exposed.
func Load(path string) (*Registry, error) {
	raw, err := loadMerged(path, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return fromRaw(raw)
}

// LoadBytes parses a registry document from memory. Includes are not
// supported in this mode.
func LoadBytes(data []byte) (*Registry, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.NewRegistryError(fmt.Sprintf("failed to parse registry document: %v", err)).
			WithCode(CodeParseError).WithCause(err)
	}
	return fromRaw(raw)
}

func fromRaw(raw map[string]interface{}) (*Registry, error) {
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	return newRegistry(doc), nil
}

// loadMerged reads one document and folds its includes in depth-first,
// with the including document winning on key conflicts.
func loadMerged(path string, visited map[string]bool) (map[string]interface{}, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, apperrors.NewRegistryError(fmt.Sprintf("failed to resolve registry path %q", path)).
			WithCode(CodeParseError).WithCause(err)
	}
	if visited[abs] {
		return nil, apperrors.NewRegistryError(fmt.Sprintf("registry include cycle at %q", path)).
			WithCode(CodeParseError)
	}
	visited[abs] = true

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, apperrors.NewRegistryError(fmt.Sprintf("failed to read registry file %q", path)).
			WithCode(CodeParseError).WithCause(err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.NewRegistryError(fmt.Sprintf("failed to parse registry file %q: %v", path, err)).
			WithCode(CodeParseError).WithCause(err)
	}

	includes, _ := raw["includes"].([]interface{})
	if len(includes) == 0 {
		return raw, nil
	}

	merged := map[string]interface{}{}
	for _, inc := range includes {
		incPath, ok := inc.(string)
		if !ok {
			return nil, apperrors.NewRegistryError("registry includes must be file paths").
				WithCode(CodeParseError)
		}
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(filepath.Dir(abs), incPath)
		}
		included, err := loadMerged(incPath, visited)
		if err != nil {
			return nil, err
		}
		merged = deepMerge(merged, included)
	}
	return deepMerge(merged, raw), nil
}

// deepMerge overlays b onto a; nested maps merge recursively, everything
// else is replaced by b's value.
func deepMerge(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if prevMap, ok := out[k].(map[string]interface{}); ok {
			if nextMap, ok := v.(map[string]interface{}); ok {
				out[k] = deepMerge(prevMap, nextMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// decodeDocument converts the merged raw maps into the typed Document.
func decodeDocument(raw map[string]interface{}) (*Document, error) {
	var doc Document
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return nil, apperrors.NewRegistryError("failed to build registry decoder").
			WithCode(CodeParseError).WithCause(err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, apperrors.NewRegistryError(fmt.Sprintf("registry document is malformed: %v", err)).
			WithCode(CodeParseError).WithCause(err)
	}
	return &doc, nil
}
