package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alishams21/lineagentic-kg/domain/graph"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

// Store is an in-memory graph.Store used by tests and local development.
// All state lives behind one mutex; transactions stage mutations and apply
// them atomically under the lock, with the same head-token conflict
// semantics as the persistent store.
type Store struct {
	mu       sync.RWMutex
	entities map[string]*graph.Entity
	aspects  map[string][]*graph.AspectRecord
	heads    map[string]graph.AspectHead
	edges    map[string]*graph.Edge
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		entities: make(map[string]*graph.Entity),
		aspects:  make(map[string][]*graph.AspectRecord),
		heads:    make(map[string]graph.AspectHead),
		edges:    make(map[string]*graph.Edge),
	}
}

func aspectKey(urn, aspectName string) string {
	return urn + "|" + aspectName
}

// Begin opens a staged transaction.
func (s *Store) Begin(ctx context.Context) (graph.Tx, error) {
	return &tx{store: s}, nil
}

// GetEntity retrieves a node by type and URN.
func (s *Store) GetEntity(ctx context.Context, entityType, urn string) (*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[urn]
	if !ok || entity.Type != entityType {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("entity %s", urn)).
			WithDetail("entity_type", entityType).
			WithDetail("urn", urn)
	}
	return entity, nil
}

// GetAspectHead reads the versioned head for (urn, aspect).
func (s *Store) GetAspectHead(ctx context.Context, urn, aspectName string) (graph.AspectHead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heads[aspectKey(urn, aspectName)], nil
}

// GetLatestVersionedAspect returns the record flagged latest.
func (s *Store) GetLatestVersionedAspect(ctx context.Context, urn, aspectName string) (*graph.AspectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.aspects[aspectKey(urn, aspectName)] {
		if rec.Kind == graph.KindVersioned && rec.Latest {
			return rec, nil
		}
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("aspect %s on %s", aspectName, urn))
}

// GetVersionedAspect returns one specific version.
func (s *Store) GetVersionedAspect(ctx context.Context, urn, aspectName string, version int) (*graph.AspectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.aspects[aspectKey(urn, aspectName)] {
		if rec.Kind == graph.KindVersioned && rec.Version == version {
			return rec, nil
		}
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("aspect %s v%d on %s", aspectName, version, urn))
}

// GetTimeseriesRange returns records in [fromMs, toMs), newest first.
func (s *Store) GetTimeseriesRange(ctx context.Context, urn, aspectName string, fromMs, toMs int64, limit int) ([]*graph.AspectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*graph.AspectRecord
	for _, rec := range s.aspects[aspectKey(urn, aspectName)] {
		if rec.Kind != graph.KindTimeseries {
			continue
		}
		if fromMs != 0 && rec.TimestampMs < fromMs {
			continue
		}
		if toMs != 0 && rec.TimestampMs >= toMs {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimestampMs > out[j].TimestampMs
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListAspects returns every aspect record attached to the URN.
func (s *Store) ListAspects(ctx context.Context, urn string) ([]*graph.AspectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*graph.AspectRecord
	for _, recs := range s.aspects {
		for _, rec := range recs {
			if rec.OwnerURN == urn {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// GetEdge fetches an edge by merge key, nil when absent.
func (s *Store) GetEdge(ctx context.Context, srcURN, edgeType, dstURN, discriminatorKey string) (*graph.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := fmt.Sprintf("%s|%s|%s", srcURN, edgeType, dstURN)
	if discriminatorKey != "" {
		key += "|" + discriminatorKey
	}
	return s.edges[key], nil
}

// ListOutgoingEdges enumerates edges leaving the URN.
func (s *Store) ListOutgoingEdges(ctx context.Context, urn string) ([]*graph.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*graph.Edge
	for _, edge := range s.edges {
		if edge.SrcURN == urn {
			out = append(out, edge)
		}
	}
	sortEdges(out)
	return out, nil
}

// ListIncomingEdges enumerates edges arriving at the URN.
func (s *Store) ListIncomingEdges(ctx context.Context, urn string) ([]*graph.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*graph.Edge
	for _, edge := range s.edges {
		if edge.DstURN == urn {
			out = append(out, edge)
		}
	}
	sortEdges(out)
	return out, nil
}

func sortEdges(edges []*graph.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].Key() < edges[j].Key()
	})
}

// DeleteEntity removes the node; with cascade, its aspects and incident
// edges go too. Without cascade, dependents block the delete.
func (s *Store) DeleteEntity(ctx context.Context, entityType, urn string, cascade bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, ok := s.entities[urn]
	if !ok || entity.Type != entityType {
		return apperrors.NewNotFoundError(fmt.Sprintf("entity %s", urn)).
			WithDetail("urn", urn)
	}

	if !cascade {
		for key := range s.aspects {
			if len(s.aspects[key]) > 0 && s.aspects[key][0].OwnerURN == urn {
				return dependentsErr(urn, "aspects exist")
			}
		}
		for _, edge := range s.edges {
			if edge.DstURN == urn {
				return dependentsErr(urn, "incoming edges exist")
			}
		}
		delete(s.entities, urn)
		return nil
	}

	delete(s.entities, urn)
	for key, recs := range s.aspects {
		if len(recs) > 0 && recs[0].OwnerURN == urn {
			delete(s.aspects, key)
			delete(s.heads, key)
		}
	}
	for key, edge := range s.edges {
		if edge.SrcURN == urn || edge.DstURN == urn {
			delete(s.edges, key)
		}
	}
	return nil
}

func dependentsErr(urn, reason string) *apperrors.AppError {
	return apperrors.NewDependencyViolationError(
		fmt.Sprintf("entity %s has dependents: %s", urn, reason)).
		WithCode("EntityHasDependents").
		WithDetail("urn", urn)
}

// DeleteAspect removes every version or time-series row for the pair.
func (s *Store) DeleteAspect(ctx context.Context, urn, aspectName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := aspectKey(urn, aspectName)
	if _, ok := s.aspects[key]; !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("aspect %s on %s", aspectName, urn))
	}
	delete(s.aspects, key)
	delete(s.heads, key)
	return nil
}

// EnsureSchema is a no-op for the in-memory store.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return nil
}

type versionedPut struct {
	record *graph.AspectRecord
	head   graph.AspectHead
}

type clearOp struct {
	urn        string
	aspectName string
	version    int
}

// tx stages mutations and applies them under the store lock at Commit.
type tx struct {
	store      *Store
	entities   []*graph.Entity
	versioned  []versionedPut
	clears     []clearOp
	timeseries []*graph.AspectRecord
	edges      []*graph.Edge
	done       bool
}

func (t *tx) UpsertEntity(entity *graph.Entity) {
	t.entities = append(t.entities, entity)
}

func (t *tx) PutVersionedAspect(record *graph.AspectRecord, head graph.AspectHead) {
	t.versioned = append(t.versioned, versionedPut{record: record, head: head})
}

func (t *tx) ClearLatest(urn, aspectName string, version int) {
	t.clears = append(t.clears, clearOp{urn: urn, aspectName: aspectName, version: version})
}

func (t *tx) AppendTimeseries(record *graph.AspectRecord) {
	t.timeseries = append(t.timeseries, record)
}

func (t *tx) MergeEdge(edge *graph.Edge) {
	t.edges = append(t.edges, edge)
}

// Commit validates every staged head token under the lock, then applies all
// writes. A stale head means another writer advanced the version sequence
// first; the whole transaction fails with STORE_CONFLICT and nothing is
// applied.
func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return apperrors.NewInternalError("transaction already finished")
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, put := range t.versioned {
		key := aspectKey(put.record.OwnerURN, put.record.Name)
		current := s.heads[key]
		if current.MaxVersion != put.head.MaxVersion || current.Exists != put.head.Exists {
			return apperrors.NewStoreConflictError(
				fmt.Sprintf("version conflict on %s/%s: head moved from %d to %d",
					put.record.OwnerURN, put.record.Name, put.head.MaxVersion, current.MaxVersion)).
				WithDetail("urn", put.record.OwnerURN).
				WithDetail("aspect", put.record.Name)
		}
	}

	for _, entity := range t.entities {
		existing, ok := s.entities[entity.URN]
		if !ok {
			clone := *entity
			s.entities[entity.URN] = &clone
			continue
		}
		// Merge semantics: non-key params are last-writer-wins; a URN-only
		// placeholder never clobbers recorded params.
		if entity.Params != nil {
			existing.Params = entity.Params
		}
		existing.UpdatedAt = entity.UpdatedAt
	}

	for _, clear := range t.clears {
		for _, rec := range s.aspects[aspectKey(clear.urn, clear.aspectName)] {
			if rec.Kind == graph.KindVersioned && rec.Version == clear.version {
				rec.Latest = false
			}
		}
	}

	for _, put := range t.versioned {
		key := aspectKey(put.record.OwnerURN, put.record.Name)
		s.aspects[key] = append(s.aspects[key], put.record)
		s.heads[key] = graph.AspectHead{MaxVersion: put.record.Version, Exists: true}
	}

	for _, rec := range t.timeseries {
		key := aspectKey(rec.OwnerURN, rec.Name)
		s.aspects[key] = append(s.aspects[key], rec)
	}

	for _, edge := range t.edges {
		s.edges[edge.Key()] = edge
	}
	return nil
}

// Rollback discards staged writes.
func (t *tx) Rollback() {
	t.done = true
	t.entities = nil
	t.versioned = nil
	t.clears = nil
	t.timeseries = nil
	t.edges = nil
}
