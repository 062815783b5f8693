package compose

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Maverick0351a/latticedb/internal/acl"
	"github.com/Maverick0351a/latticedb/internal/canon"
	"github.com/Maverick0351a/latticedb/internal/config"
	"github.com/Maverick0351a/latticedb/internal/lattice"
	"github.com/Maverick0351a/latticedb/internal/receipt"
	"github.com/Maverick0351a/latticedb/internal/router"
	"github.com/Maverick0351a/latticedb/internal/store"
	"github.com/Maverick0351a/latticedb/internal/types"
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

type harness struct {
	store   *store.Store
	router  *router.Router
	settler *Settler
}

func newHarness(t *testing.T, strict bool) *harness {
	t.Helper()
	s, err := store.Open(t.TempDir(), testAttested(), 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	r := router.New(s, strict)
	t.Cleanup(func() {
		r.Close()
		s.Close()
	})
	return &harness{store: s, router: r, settler: New(s, r, strict)}
}

func (h *harness) seal(t *testing.T, raw [][]float32, req store.SealRequest) string {
	t.Helper()
	build, err := lattice.FromVectors(context.Background(), raw, h.store.Attested())
	if err != nil {
		t.Fatal(err)
	}
	req.Build = build
	req.Chunks = make([]types.Chunk, len(raw))
	for i := range req.Chunks {
		req.Chunks[i] = types.Chunk{LocalIndex: i, Text: "the quick brown fox"}
	}
	rec, err := h.store.Seal(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	return rec.LatticeID
}

// three lattices whose centroids cluster near the first axis.
func (h *harness) sealCoherent(t *testing.T) []string {
	return []string{
		h.seal(t, [][]float32{{1, 0, 0, 0}, {0.95, 0.05, 0, 0}}, store.SealRequest{Source: types.SourceMeta{File: "a.txt"}}),
		h.seal(t, [][]float32{{0.9, 0.1, 0, 0}, {0.92, 0.08, 0, 0}}, store.SealRequest{Source: types.SourceMeta{File: "b.txt"}}),
		h.seal(t, [][]float32{{0.85, 0.15, 0, 0}, {0.88, 0.12, 0, 0}}, store.SealRequest{Source: types.SourceMeta{File: "c.txt"}}),
	}
}

func TestCompose_RouteComposeVerify(t *testing.T) {
	h := newHarness(t, false)
	h.sealCoherent(t)

	cands, err := h.router.Route(context.Background(), []float32{1, 0, 0, 0}, 8, acl.Claims{})
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 3 {
		t.Fatalf("candidates = %d, want 3", len(cands))
	}

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.LatticeID
	}

	res, err := h.settler.Compose(context.Background(), []float32{1, 0, 0, 0}, ids, Options{Epsilon: 1e-9, Tau: 1e-12})
	if err != nil {
		t.Fatal(err)
	}
	if res.Abstain {
		t.Fatalf("unexpected abstention: %s", res.Reason)
	}
	if len(res.Pack.Items) != 3 {
		t.Errorf("pack items = %d, want 3", len(res.Pack.Items))
	}
	for i := 1; i < len(res.Pack.Items); i++ {
		if res.Pack.Items[i].Contribution > res.Pack.Items[i-1].Contribution {
			t.Error("pack items not ordered by contribution")
		}
	}
	if res.Pack.Items[0].Snippet == "" {
		t.Error("pack item missing snippet")
	}

	db, err := h.store.DBReceipt()
	if err != nil {
		t.Fatal(err)
	}
	if res.Receipt.DBRoot != db.DBRoot {
		t.Error("composite receipt not anchored to current db receipt")
	}

	var witnesses []receipt.Lattice
	for _, id := range ids {
		rec, err := h.store.LatticeReceipt(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		witnesses = append(witnesses, *rec)
	}
	verdict, err := h.store.Verify(res.Receipt, witnesses)
	if err != nil {
		t.Fatal(err)
	}
	if !verdict.Verified || verdict.Reason != receipt.ReasonOK {
		t.Errorf("verify = %+v, want ok", verdict)
	}
}

func TestCompose_LatticeIDsSorted(t *testing.T) {
	h := newHarness(t, false)
	ids := h.sealCoherent(t)

	// Pass in reverse order with a duplicate; the receipt records the
	// sorted, deduplicated set.
	res, err := h.settler.Compose(context.Background(), []float32{1, 0, 0, 0},
		[]string{ids[2], ids[0], ids[1], ids[0]}, Options{Epsilon: 1e-9, Tau: 1e-12})
	if err != nil {
		t.Fatal(err)
	}
	got := res.Receipt.LatticeIDs
	if len(got) != 3 {
		t.Fatalf("lattice_ids = %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Errorf("lattice_ids not sorted: %v", got)
		}
	}
}

func TestCompose_AbstainWeakCoherence(t *testing.T) {
	h := newHarness(t, false)
	// Near-orthogonal centroids against a query along the first axis.
	ids := []string{
		h.seal(t, [][]float32{{0, 1, 0, 0}}, store.SealRequest{}),
		h.seal(t, [][]float32{{0, 0, 1, 0}}, store.SealRequest{}),
		h.seal(t, [][]float32{{0, 0, 0, 1}}, store.SealRequest{}),
	}

	res, err := h.settler.Compose(context.Background(), []float32{1, 0, 0, 0}, ids, Options{Epsilon: 1e9, Tau: 1e-12})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Abstain || res.Reason != ReasonWeakCoherence {
		t.Fatalf("res = %+v, want weak_coherence abstention", res)
	}
	// The receipt is still emitted and still verifies.
	if res.Receipt == nil {
		t.Fatal("no receipt on abstention")
	}
	ok, err := res.Receipt.VerifySig()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("abstention receipt does not verify")
	}
	if len(res.Pack.Items) != 0 {
		t.Error("abstention carried pack items")
	}
}

func TestCompose_AbstainACLNoCandidates(t *testing.T) {
	h := newHarness(t, false)
	ids := []string{
		h.seal(t, [][]float32{{1, 0, 0, 0}}, store.SealRequest{ACLTenants: []string{"acme"}}),
		h.seal(t, [][]float32{{0, 1, 0, 0}}, store.SealRequest{ACLTenants: []string{"acme"}}),
	}

	res, err := h.settler.Compose(context.Background(), []float32{1, 0, 0, 0}, ids,
		Options{Epsilon: 1e-9, Tau: 1e-12, Claims: acl.Claims{Tenant: "other"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Abstain || res.Reason != ReasonACLNoCandidates {
		t.Fatalf("res = %+v, want acl_no_candidates", res)
	}
	if res.Receipt == nil {
		t.Error("no receipt on ACL abstention")
	}
}

func TestCompose_UnknownLattice(t *testing.T) {
	h := newHarness(t, false)
	h.sealCoherent(t)

	_, err := h.settler.Compose(context.Background(), []float32{1, 0, 0, 0}, []string{"L-424242"}, Options{})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCompose_StrictClaims(t *testing.T) {
	h := newHarness(t, true)
	ids := h.sealCoherent(t)

	if _, err := h.settler.Compose(context.Background(), []float32{1, 0, 0, 0}, ids, Options{}); !errors.Is(err, acl.ErrMissingClaims) {
		t.Errorf("err = %v, want ErrMissingClaims", err)
	}
}

func TestCompose_SingleLattice(t *testing.T) {
	h := newHarness(t, false)
	id := h.seal(t, [][]float32{{1, 0, 0, 0}, {0.9, 0.1, 0, 0}}, store.SealRequest{})

	res, err := h.settler.Compose(context.Background(), []float32{1, 0, 0, 0}, []string{id}, Options{Epsilon: 1e-12, Tau: 1e-15})
	if err != nil {
		t.Fatal(err)
	}
	// |V| = 1: no composite edges, still a receipt with the empty edge hash.
	if res.Receipt.EdgeHashComposite != canon.SHA256Hex(nil) {
		t.Errorf("edge hash = %s, want hash of empty buffer", res.Receipt.EdgeHashComposite)
	}
}

func TestCompose_Deterministic(t *testing.T) {
	h := newHarness(t, false)
	ids := h.sealCoherent(t)
	opts := Options{Epsilon: 1e-9, Tau: 1e-12}

	a, err := h.settler.Compose(context.Background(), []float32{1, 0, 0, 0}, ids, opts)
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.settler.Compose(context.Background(), []float32{1, 0, 0, 0}, ids, opts)
	if err != nil {
		t.Fatal(err)
	}
	if a.Receipt.StateSig != b.Receipt.StateSig {
		t.Error("identical composes produced different receipts")
	}
}
