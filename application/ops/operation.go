package ops

import (
	"context"
	"fmt"
	"sort"

	"github.com/alishams21/lineagentic-kg/domain/graph"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

// Verb is the action a synthesized operation performs.
type Verb string

const (
	VerbUpsert Verb = "upsert"
	VerbGet    Verb = "get"
	VerbDelete Verb = "delete"
)

// Target distinguishes entity operations from aspect operations.
type Target string

const (
	TargetEntity Target = "entity"
	TargetAspect Target = "aspect"
)

// Request carries the caller's input into a synthesized operation. Params
// hold identifying and optional entity parameters; Payload is the aspect
// document for upsert-aspect operations. EntityURN may be supplied instead
// of params wherever an owning entity must be located.
type Request struct {
	Params     map[string]interface{} `json:"params,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	EntityType string                 `json:"entity_type,omitempty"`
	EntityURN  string                 `json:"entity_urn,omitempty"`

	// Version selects one versioned record on get; zero means latest.
	Version int `json:"version,omitempty"`
	// TimestampMs pins the time-series timestamp on upsert; zero means now.
	TimestampMs int64 `json:"timestamp_ms,omitempty"`
	// FromMs/ToMs/Limit bound time-series reads.
	FromMs int64 `json:"from_ms,omitempty"`
	ToMs   int64 `json:"to_ms,omitempty"`
	Limit  int   `json:"limit,omitempty"`
	// Cascade extends entity deletion to aspects and incident edges.
	Cascade bool `json:"cascade,omitempty"`
}

// Result is the outcome handed back to the transport layer.
type Result struct {
	URN         string `json:"urn,omitempty"`
	Version     int    `json:"version,omitempty"`
	TimestampMs int64  `json:"timestamp_ms,omitempty"`

	Entity     *graph.Entity         `json:"entity,omitempty"`
	Aspect     *graph.AspectRecord   `json:"aspect,omitempty"`
	Timeseries []*graph.AspectRecord `json:"timeseries,omitempty"`

	CreatedEntities      []string `json:"created_entities,omitempty"`
	CreatedRelationships int      `json:"created_relationships,omitempty"`
	Deleted              bool     `json:"deleted,omitempty"`
}

// Handler executes one synthesized operation.
type Handler func(ctx context.Context, req *Request) (*Result, error)

// Descriptor is one entry of the static operation table emitted at boot.
// It binds everything the operation needs: the URN builder's parameter set,
// the aspect kind, and the handler closed over the writer and rule engine.
type Descriptor struct {
	Name           string           `json:"name"`
	Verb           Verb             `json:"verb"`
	Target         Target           `json:"target"`
	EntityType     string           `json:"entity_type,omitempty"`
	AspectName     string           `json:"aspect_name,omitempty"`
	AspectKind     graph.AspectKind `json:"aspect_kind,omitempty"`
	RequiredParams []string         `json:"required_params,omitempty"`

	handler Handler
}

// Catalog is the immutable name-indexed operation table.
type Catalog struct {
	ops map[string]*Descriptor
}

func newCatalog() *Catalog {
	return &Catalog{ops: make(map[string]*Descriptor)}
}

func (c *Catalog) register(d *Descriptor) {
	c.ops[d.Name] = d
}

// Lookup returns the descriptor for an operation name.
func (c *Catalog) Lookup(name string) (*Descriptor, error) {
	d, ok := c.ops[name]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("operation %q", name))
	}
	return d, nil
}

// Dispatch executes a named operation.
func (c *Catalog) Dispatch(ctx context.Context, name string, req *Request) (*Result, error) {
	d, err := c.Lookup(name)
	if err != nil {
		return nil, err
	}
	if req == nil {
		req = &Request{}
	}
	return d.handler(ctx, req)
}

// Names lists every operation name, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.ops))
	for name := range c.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors lists every descriptor ordered by name.
func (c *Catalog) Descriptors() []*Descriptor {
	names := c.Names()
	out := make([]*Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, c.ops[name])
	}
	return out
}
