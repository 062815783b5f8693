package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Maverick0351a/latticedb/internal/acl"
	"github.com/Maverick0351a/latticedb/internal/canon"
	"github.com/Maverick0351a/latticedb/internal/config"
	"github.com/Maverick0351a/latticedb/internal/lattice"
	"github.com/Maverick0351a/latticedb/internal/store"
	"github.com/Maverick0351a/latticedb/internal/types"
	"github.com/Maverick0351a/latticedb/internal/vectors"
)

func testAttested() config.Attested {
	return config.Attested{
		SchemaVersion:            config.SchemaVersion,
		Dim:                      4,
		KNeighbors:               2,
		LambdaG:                  1.0,
		LambdaC:                  0.5,
		LambdaQ:                  4.0,
		Tol:                      1e-6,
		MaxIter:                  256,
		ModelSHA256:              canon.SHA256String("test-model@main"),
		CGIters:                  "sum",
		CompositeRepresentatives: "centroid",
		CompositeKDefault:        4,
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), testAttested(), 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seal(t *testing.T, s *store.Store, raw [][]float32, req store.SealRequest) string {
	t.Helper()
	build, err := lattice.FromVectors(context.Background(), raw, s.Attested())
	if err != nil {
		t.Fatal(err)
	}
	req.Build = build
	req.Chunks = make([]types.Chunk, len(raw))
	for i := range req.Chunks {
		req.Chunks[i] = types.Chunk{LocalIndex: i, Text: "chunk"}
	}
	rec, err := s.Seal(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	return rec.LatticeID
}

// three lattices with well-separated centroids along different axes.
func sealThree(t *testing.T, s *store.Store) []string {
	ids := []string{
		seal(t, s, [][]float32{{1, 0, 0, 0}, {0.9, 0.1, 0, 0}}, store.SealRequest{}),
		seal(t, s, [][]float32{{0, 1, 0, 0}, {0.1, 0.9, 0, 0}}, store.SealRequest{}),
		seal(t, s, [][]float32{{0, 0, 1, 0}, {0, 0.1, 0.9, 0}}, store.SealRequest{}),
	}
	return ids
}

func TestRoute_TopKOrdered(t *testing.T) {
	s := openTestStore(t)
	ids := sealThree(t, s)
	r := New(s, false)
	defer r.Close()

	got, err := r.Route(context.Background(), []float32{1, 0, 0, 0}, 8, acl.Claims{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("candidates = %d, want 3", len(got))
	}
	if got[0].LatticeID != ids[0] {
		t.Errorf("best candidate = %s, want %s", got[0].LatticeID, ids[0])
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not descending: %+v", got)
		}
	}
}

func TestRoute_KClamped(t *testing.T) {
	s := openTestStore(t)
	sealThree(t, s)
	r := New(s, false)
	defer r.Close()

	got, err := r.Route(context.Background(), []float32{1, 0, 0, 0}, 2, acl.Claims{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("candidates = %d, want 2", len(got))
	}

	// k <= 0 falls back to the default and clamps to N.
	got, err = r.Route(context.Background(), []float32{1, 0, 0, 0}, 0, acl.Claims{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("candidates = %d, want 3", len(got))
	}
}

func TestRoute_EmptyStore(t *testing.T) {
	s := openTestStore(t)
	r := New(s, false)
	defer r.Close()

	got, err := r.Route(context.Background(), []float32{1, 0, 0, 0}, 8, acl.Claims{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("candidates = %v, want none", got)
	}
}

func TestRoute_DimMismatch(t *testing.T) {
	s := openTestStore(t)
	sealThree(t, s)
	r := New(s, false)
	defer r.Close()

	if _, err := r.Route(context.Background(), []float32{1, 0}, 8, acl.Claims{}); !errors.Is(err, vectors.ErrDimMismatch) {
		t.Errorf("err = %v, want ErrDimMismatch", err)
	}
}

func TestRoute_ACLFiltering(t *testing.T) {
	s := openTestStore(t)
	seal(t, s, [][]float32{{1, 0, 0, 0}}, store.SealRequest{ACLTenants: []string{"acme"}})
	seal(t, s, [][]float32{{0, 1, 0, 0}}, store.SealRequest{ACLTenants: []string{"acme"}})
	pub := true
	publicID := seal(t, s, [][]float32{{0, 0, 1, 0}}, store.SealRequest{ACLPublic: &pub})

	r := New(s, false)
	defer r.Close()

	got, err := r.Route(context.Background(), []float32{1, 0, 0, 0}, 8, acl.Claims{Tenant: "other"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].LatticeID != publicID {
		t.Errorf("candidates = %+v, want only %s", got, publicID)
	}

	// The owning tenant sees everything.
	got, err = r.Route(context.Background(), []float32{1, 0, 0, 0}, 8, acl.Claims{Tenant: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("acme candidates = %d, want 3", len(got))
	}
}

func TestRoute_StrictClaims(t *testing.T) {
	s := openTestStore(t)
	sealThree(t, s)
	r := New(s, true)
	defer r.Close()

	if _, err := r.Route(context.Background(), []float32{1, 0, 0, 0}, 8, acl.Claims{}); !errors.Is(err, acl.ErrMissingClaims) {
		t.Errorf("err = %v, want ErrMissingClaims", err)
	}
	if _, err := r.Route(context.Background(), []float32{1, 0, 0, 0}, 8, acl.Claims{Tenant: "acme"}); err != nil {
		t.Errorf("err = %v, want nil with claims", err)
	}
}

func TestSnapshot_InvalidatedOnSeal(t *testing.T) {
	s := openTestStore(t)
	seal(t, s, [][]float32{{1, 0, 0, 0}}, store.SealRequest{})
	r := New(s, false)
	defer r.Close()

	snap1, err := r.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	root1 := snap1.DBRoot()
	snap1.Release()

	seal(t, s, [][]float32{{0, 1, 0, 0}}, store.SealRequest{})

	snap2, err := r.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer snap2.Release()
	if snap2.DBRoot() == root1 {
		t.Error("snapshot not refreshed after seal")
	}
	if snap2.Len() != 2 {
		t.Errorf("snapshot rows = %d, want 2", snap2.Len())
	}
}

func TestSnapshot_CentroidByID(t *testing.T) {
	s := openTestStore(t)
	ids := sealThree(t, s)
	r := New(s, false)
	defer r.Close()

	snap, err := r.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer snap.Release()

	c, ok := snap.CentroidByID(ids[1])
	if !ok {
		t.Fatalf("lattice %s not in snapshot", ids[1])
	}
	if len(c) != 4 {
		t.Errorf("centroid dim = %d, want 4", len(c))
	}
	if _, ok := snap.CentroidByID("L-999999"); ok {
		t.Error("unknown lattice resolved")
	}
}
