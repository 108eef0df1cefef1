package graph

import (
	"context"
)

// Store is the port to the labeled-property-graph persistence layer.
// Reads go straight to the store; mutations are staged on a Tx and applied
// atomically at Commit. Implementations must be safe for concurrent use.
type Store interface {
	// Begin opens a write transaction.
	Begin(ctx context.Context) (Tx, error)

	// GetEntity retrieves a node by label and URN. Returns a NOT_FOUND
	// AppError when absent.
	GetEntity(ctx context.Context, entityType, urn string) (*Entity, error)

	// GetAspectHead reads the versioned-aspect head for (urn, aspect).
	GetAspectHead(ctx context.Context, urn, aspectName string) (AspectHead, error)

	// GetLatestVersionedAspect returns the record currently flagged latest.
	GetLatestVersionedAspect(ctx context.Context, urn, aspectName string) (*AspectRecord, error)

	// GetVersionedAspect returns one specific version.
	GetVersionedAspect(ctx context.Context, urn, aspectName string, version int) (*AspectRecord, error)

	// GetTimeseriesRange returns records with fromMs <= ts < toMs, newest
	// first, capped at limit. Zero bounds mean unbounded.
	GetTimeseriesRange(ctx context.Context, urn, aspectName string, fromMs, toMs int64, limit int) ([]*AspectRecord, error)

	// ListAspects returns every aspect record attached to the URN.
	ListAspects(ctx context.Context, urn string) ([]*AspectRecord, error)

	// GetEdge fetches an edge by its merge key, nil when absent.
	GetEdge(ctx context.Context, srcURN, edgeType, dstURN, discriminatorKey string) (*Edge, error)

	// ListOutgoingEdges / ListIncomingEdges enumerate incident edges.
	ListOutgoingEdges(ctx context.Context, urn string) ([]*Edge, error)
	ListIncomingEdges(ctx context.Context, urn string) ([]*Edge, error)

	// DeleteEntity removes the node and, when cascade is set, all its
	// aspects and incident edges. Non-cascade deletion of a node with
	// dependents fails with a DEPENDENCY_VIOLATION AppError.
	DeleteEntity(ctx context.Context, entityType, urn string, cascade bool) error

	// DeleteAspect removes every version or time-series row for the pair.
	DeleteAspect(ctx context.Context, urn, aspectName string) error

	// EnsureSchema creates the backing table and indices on bootstrap.
	EnsureSchema(ctx context.Context) error
}

// Tx stages mutations for a single atomic commit. Staged writes are not
// visible to reads until Commit returns nil. A Tx is single-use and not
// safe for concurrent staging.
type Tx interface {
	// UpsertEntity merges a node by (label, urn); non-key params are
	// last-writer-wins at commit time.
	UpsertEntity(entity *Entity)

	// PutVersionedAspect stages a new versioned record conditioned on the
	// head token read by the caller. A concurrent writer that advanced the
	// head causes Commit to fail with STORE_CONFLICT.
	PutVersionedAspect(record *AspectRecord, head AspectHead)

	// ClearLatest drops the latest flag from the given prior version.
	ClearLatest(urn, aspectName string, version int)

	// AppendTimeseries stages an unconditional time-series insert.
	AppendTimeseries(record *AspectRecord)

	// MergeEdge stages the fully merged edge (callers resolve the merge
	// policy against the current stored edge before staging).
	MergeEdge(edge *Edge)

	// Commit applies all staged writes atomically, or none of them.
	Commit(ctx context.Context) error

	// Rollback discards staged writes. Safe to call after Commit.
	Rollback()
}
