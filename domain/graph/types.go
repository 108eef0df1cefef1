package graph

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// AspectKind distinguishes the two aspect storage disciplines.
type AspectKind string

const (
	KindVersioned  AspectKind = "versioned"
	KindTimeseries AspectKind = "timeseries"
)

// ParseAspectKind converts a registry string into an AspectKind.
func ParseAspectKind(s string) (AspectKind, error) {
	switch AspectKind(s) {
	case KindVersioned, KindTimeseries:
		return AspectKind(s), nil
	default:
		return "", fmt.Errorf("unknown aspect kind: %q", s)
	}
}

// Entity is a labeled node in the metadata graph, identified by its URN.
// Params holds the non-key attributes captured at upsert time.
type Entity struct {
	Type      string
	URN       string
	Params    map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AspectRecord is one immutable aspect payload attached to an entity.
// Versioned records carry Version and the Latest flag; time-series records
// carry TimestampMs. Payload is an opaque JSON-compatible document.
type AspectRecord struct {
	OwnerURN    string
	OwnerType   string
	Name        string
	Kind        AspectKind
	Version     int
	TimestampMs int64
	Latest      bool
	Payload     map[string]interface{}
	CreatedAt   time.Time
}

// AspectHead tracks the versioned-aspect sequence for one (urn, aspect) pair.
// MaxVersion doubles as the optimistic concurrency token: a commit staged
// against a stale head fails with a store conflict.
type AspectHead struct {
	MaxVersion int
	Exists     bool
}

// Edge is a typed directed relationship between two entity URNs.
type Edge struct {
	SrcType        string
	SrcURN         string
	Type           string
	DstType        string
	DstURN         string
	Properties     map[string]interface{}
	Discriminators []string
	Via            string
	CreatedAt      time.Time
}

// DiscriminatorKey renders the discriminating property values into a stable
// key fragment. Edges with equal (src, type, dst) but different discriminator
// values are distinct.
func (e *Edge) DiscriminatorKey() string {
	if len(e.Discriminators) == 0 {
		return ""
	}
	keys := make([]string, len(e.Discriminators))
	copy(keys, e.Discriminators)
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Properties[k]))
	}
	return strings.Join(parts, "|")
}

// Key identifies the edge for idempotent merging.
func (e *Edge) Key() string {
	key := fmt.Sprintf("%s|%s|%s", e.SrcURN, e.Type, e.DstURN)
	if dk := e.DiscriminatorKey(); dk != "" {
		key += "|" + dk
	}
	return key
}

// MergeProperties folds incoming properties into existing ones under the
// declared merge policy: last-writer-wins on scalars, union on arrays.
// Union output is stable-sorted by the string form of each element.
func MergeProperties(existing, incoming map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		prev, ok := merged[k]
		if !ok {
			merged[k] = v
			continue
		}
		prevArr, prevIsArr := prev.([]interface{})
		inArr, inIsArr := v.([]interface{})
		if prevIsArr && inIsArr {
			merged[k] = unionArrays(prevArr, inArr)
			continue
		}
		merged[k] = v
	}
	return merged
}

func unionArrays(a, b []interface{}) []interface{} {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]interface{}, 0, len(a)+len(b))
	for _, arr := range [][]interface{}{a, b} {
		for _, v := range arr {
			key := fmt.Sprintf("%v", v)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return fmt.Sprintf("%v", out[i]) < fmt.Sprintf("%v", out[j])
	})
	return out
}
