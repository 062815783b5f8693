// Package router answers nearest-K centroid queries over the memory-mapped
// centroid table. Queries run against an atomically swapped snapshot keyed by
// db_root, so every answer is consistent with some database receipt and never
// a torn view.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Maverick0351a/latticedb/internal/acl"
	"github.com/Maverick0351a/latticedb/internal/mmap"
	"github.com/Maverick0351a/latticedb/internal/store"
	"github.com/Maverick0351a/latticedb/internal/types"
	"github.com/Maverick0351a/latticedb/internal/vectors"
)

// DefaultK is the default number of candidate lattices returned.
const DefaultK = 8

// Snapshot is one immutable view of the centroid table and its metadata.
// Callers must Release a snapshot obtained from Router.Snapshot.
type Snapshot struct {
	dbRoot string
	rows   []store.RouterRow
	table  *mmap.File
	dim    int
	refs   atomic.Int32
}

// DBRoot returns the database root this snapshot is consistent with.
func (s *Snapshot) DBRoot() string { return s.dbRoot }

// Len returns the number of centroid rows.
func (s *Snapshot) Len() int { return len(s.rows) }

// Rows returns the router meta rows in centroid order.
func (s *Snapshot) Rows() []store.RouterRow { return s.rows }

// Centroid returns row i of the table as float64 values.
func (s *Snapshot) Centroid(i int) []float64 {
	stride := s.dim * 4
	row := make([]float64, s.dim)
	raw := s.table.Data[i*stride : (i+1)*stride]
	for j, f := range vectors.Unpack(raw) {
		row[j] = float64(f)
	}
	return row
}

// CentroidByID returns the centroid of a lattice, if routed.
func (s *Snapshot) CentroidByID(latticeID string) ([]float64, bool) {
	for i, row := range s.rows {
		if row.LatticeID == latticeID {
			return s.Centroid(i), true
		}
	}
	return nil, false
}

func (s *Snapshot) acquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops the caller's reference; the mapping is closed when the last
// reference goes away.
func (s *Snapshot) Release() {
	if s.refs.Add(-1) == 0 {
		s.table.Close()
	}
}

// Router owns the centroid snapshot cache for one store.
type Router struct {
	store  *store.Store
	filter acl.Filter

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// New creates a router over the store and hooks snapshot invalidation to
// seal events.
func New(s *store.Store, strictClaims bool) *Router {
	r := &Router{store: s, filter: acl.Filter{Strict: strictClaims}}
	s.OnSeal(r.Invalidate)
	return r
}

// Invalidate drops the cached snapshot; the next query reloads.
func (r *Router) Invalidate() {
	if old := r.current.Swap(nil); old != nil {
		old.Release()
	}
}

// Close releases the cached snapshot.
func (r *Router) Close() {
	r.Invalidate()
}

// Snapshot returns a snapshot consistent with the current database receipt.
// The caller must Release it.
func (r *Router) Snapshot(ctx context.Context) (*Snapshot, error) {
	db, err := r.store.DBReceipt()
	if err != nil {
		return nil, err
	}

	if snap := r.current.Load(); snap != nil && snap.dbRoot == db.DBRoot && snap.acquire() {
		return snap, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the build lock; another goroutine may have reloaded.
	if snap := r.current.Load(); snap != nil && snap.dbRoot == db.DBRoot && snap.acquire() {
		return snap, nil
	}

	rows, err := r.store.RouterMeta(ctx)
	if err != nil {
		return nil, err
	}
	table, err := mmap.Open(r.store.CentroidsPath())
	if err != nil {
		if len(rows) > 0 {
			return nil, fmt.Errorf("open centroid table: %w", err)
		}
		table = &mmap.File{}
	}
	dim := r.store.Attested().Dim
	if want := len(rows) * dim * 4; len(table.Data) != want {
		table.Close()
		return nil, fmt.Errorf("%w: centroid table has %d bytes, want %d", store.ErrIntegrity, len(table.Data), want)
	}

	snap := &Snapshot{dbRoot: db.DBRoot, rows: rows, table: table, dim: dim}
	snap.refs.Store(1) // cache reference

	if old := r.current.Swap(snap); old != nil {
		old.Release()
	}
	if !snap.acquire() {
		return nil, fmt.Errorf("snapshot retired during load")
	}
	return snap, nil
}

// Route scores the query vector against every centroid, applies the ACL
// filter, and returns the top-K candidates by decreasing score, ties broken
// by smaller row index. K is clamped to [1, N].
func (r *Router) Route(ctx context.Context, q []float32, k int, claims acl.Claims) ([]types.Candidate, error) {
	if err := r.filter.Check(claims); err != nil {
		return nil, err
	}
	qv, err := vectors.Normalize(q, r.store.Attested().Dim)
	if err != nil {
		return nil, err
	}

	snap, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	n := snap.Len()
	if n == 0 {
		return nil, nil
	}
	if k < 1 {
		k = DefaultK
	}
	if k > n {
		k = n
	}

	stride := snap.dim * 4
	type scored struct {
		idx   int
		score float64
	}
	candidates := make([]scored, 0, n)
	for i := 0; i < n; i++ {
		if !acl.Allow(aclRow(snap.rows[i]), claims) {
			continue
		}
		score := vectors.DotBytes(snap.table.Data[i*stride:(i+1)*stride], qv)
		candidates = append(candidates, scored{idx: i, score: score})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].idx < candidates[b].idx
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]types.Candidate, len(candidates))
	for i, c := range candidates {
		out[i] = types.Candidate{LatticeID: snap.rows[c.idx].LatticeID, Score: c.score}
	}
	return out, nil
}

// aclRow converts a router meta row into the manifest-row shape the ACL
// policy evaluates.
func aclRow(row store.RouterRow) types.ManifestRow {
	return types.ManifestRow{
		ACLTenants: row.ACLTenants,
		ACLRoles:   row.ACLRoles,
		ACLPublic:  row.ACLPublic,
	}
}
