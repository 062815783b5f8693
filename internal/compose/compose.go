// Package compose runs the query-time settle: it builds a composite graph
// over the centroids of the selected lattices, pins every representative to
// the query vector, solves the same SPD core used at ingest, and emits a
// context pack plus a composite receipt anchored to the database receipt
// witnessed when the compose began.
package compose

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Maverick0351a/latticedb/internal/acl"
	"github.com/Maverick0351a/latticedb/internal/canon"
	"github.com/Maverick0351a/latticedb/internal/graph"
	"github.com/Maverick0351a/latticedb/internal/receipt"
	"github.com/Maverick0351a/latticedb/internal/router"
	"github.com/Maverick0351a/latticedb/internal/spd"
	"github.com/Maverick0351a/latticedb/internal/store"
	"github.com/Maverick0351a/latticedb/internal/types"
	"github.com/Maverick0351a/latticedb/internal/vectors"
)

// Abstention reasons.
const (
	ReasonWeakCoherence   = "weak_coherence"
	ReasonACLNoCandidates = "acl_no_candidates"
)

// snippetLimit caps the snippet length carried per context item.
const snippetLimit = 200

// Options tune one compose call. Zero KC and lambda values fall back to the
// attested defaults; Epsilon and Tau are the abstention floors on ΔH and on
// the best per-item contribution, and are used as given (zero means no floor).
type Options struct {
	Epsilon float64
	Tau     float64
	KC      int
	LambdaG float64
	LambdaC float64
	LambdaQ float64
	Claims  acl.Claims
}

// Result is the outcome of a compose: a context pack and its receipt, or an
// abstention (the receipt is still emitted).
type Result struct {
	Pack    *types.ContextPack `json:"context_pack"`
	Receipt *receipt.Composite `json:"composite_receipt"`
	Abstain bool               `json:"abstain,omitempty"`
	Reason  string             `json:"reason,omitempty"`
}

// Settler composes selected lattices against a query vector.
type Settler struct {
	store  *store.Store
	router *router.Router
	filter acl.Filter
}

// New creates a settler bound to one store and its router.
func New(s *store.Store, r *router.Router, strictClaims bool) *Settler {
	return &Settler{store: s, router: r, filter: acl.Filter{Strict: strictClaims}}
}

// Compose settles the selected lattices under a query pin. Representatives
// follow the attested centroid-only policy, so |V| equals the number of
// selected lattices; the composite neighbor count is min(k_c, |V|-1).
func (c *Settler) Compose(ctx context.Context, q []float32, latticeIDs []string, opts Options) (*Result, error) {
	if err := c.filter.Check(opts.Claims); err != nil {
		return nil, err
	}
	if len(latticeIDs) == 0 {
		return nil, fmt.Errorf("compose: no lattices selected")
	}

	att := c.store.Attested()
	qv, err := vectors.Normalize(q, att.Dim)
	if err != nil {
		return nil, err
	}

	// The snapshot witnesses the database receipt for this compose; the
	// receipt anchors to it even if the database advances mid-flight.
	snap, err := c.router.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	ids := dedupeSorted(latticeIDs)
	rowsByID := make(map[string]store.RouterRow, snap.Len())
	for _, row := range snap.Rows() {
		rowsByID[row.LatticeID] = row
	}

	selected := make([]string, 0, len(ids))
	for _, id := range ids {
		row, ok := rowsByID[id]
		if !ok {
			return nil, fmt.Errorf("%w: lattice %s", store.ErrNotFound, id)
		}
		if acl.Allow(aclRow(row), opts.Claims) {
			selected = append(selected, id)
		}
	}

	params := spd.Params{
		LambdaG: orDefault(opts.LambdaG, att.LambdaG),
		LambdaC: orDefault(opts.LambdaC, att.LambdaC),
		LambdaQ: orDefault(opts.LambdaQ, att.LambdaQ),
		Tol:     att.Tol,
		MaxIter: att.MaxIter,
	}

	if len(selected) == 0 {
		rec, err := c.buildReceipt(snap.DBRoot(), nil, graph.Hash(nil), 0, 0, 0, opts, att.ModelSHA256)
		if err != nil {
			return nil, err
		}
		return &Result{
			Pack:    &types.ContextPack{Items: []types.ContextItem{}},
			Receipt: rec,
			Abstain: true,
			Reason:  ReasonACLNoCandidates,
		}, nil
	}

	reps := make([][]float64, len(selected))
	for i, id := range selected {
		centroid, ok := snap.CentroidByID(id)
		if !ok {
			return nil, fmt.Errorf("%w: centroid for %s", store.ErrNotFound, id)
		}
		reps[i] = centroid
	}

	kc := opts.KC
	if kc <= 0 {
		kc = att.CompositeKDefault
	}
	if kc > len(reps)-1 {
		kc = len(reps) - 1
	}

	var edges []graph.Edge
	if kc > 0 {
		edges = graph.MutualKNN(reps, kc)
	}

	mask := make([]bool, len(reps))
	for i := range mask {
		mask[i] = true
	}
	problem := spd.Problem{X: reps, Edges: edges, Pin: qv, Mask: mask}

	res, err := spd.Solve(ctx, problem, params)
	if err != nil {
		return nil, err
	}
	deltaH, iters, residual := res.DeltaH, res.Iters, res.Residual

	contribs := itemContributions(reps, res.U, qv, params.LambdaQ)
	maxContrib := 0.0
	for _, contrib := range contribs {
		if contrib > maxContrib {
			maxContrib = contrib
		}
	}

	rec, err := c.buildReceipt(snap.DBRoot(), selected, graph.Hash(edges), deltaH, iters, residual, opts, att.ModelSHA256)
	if err != nil {
		return nil, err
	}

	if deltaH < opts.Epsilon || maxContrib < opts.Tau {
		return &Result{
			Pack:    &types.ContextPack{Items: []types.ContextItem{}},
			Receipt: rec,
			Abstain: true,
			Reason:  ReasonWeakCoherence,
		}, nil
	}

	pack, err := c.buildPack(ctx, selected, reps, qv, contribs)
	if err != nil {
		return nil, err
	}
	return &Result{Pack: pack, Receipt: rec}, nil
}

func (c *Settler) buildReceipt(dbRoot string, ids []string, edgeHash string, deltaH float64, iters int, residual float64, opts Options, modelSHA string) (*receipt.Composite, error) {
	filters := map[string]string{}
	if opts.Claims.Tenant != "" {
		filters["tenant"] = opts.Claims.Tenant
	}
	if len(opts.Claims.Roles) > 0 {
		filters["roles"] = strings.Join(opts.Claims.Roles, ",")
	}
	if ids == nil {
		ids = []string{}
	}

	rec := &receipt.Composite{
		Version:           store.ReceiptVersion,
		DBRoot:            dbRoot,
		LatticeIDs:        ids,
		EdgeHashComposite: edgeHash,
		DeltaHTotal:       canon.Decimal(deltaH),
		CGIters:           iters,
		FinalResidual:     canon.Decimal(residual),
		Epsilon:           opts.Epsilon,
		Tau:               opts.Tau,
		Filters:           filters,
		ModelSHA256:       modelSHA,
	}
	if err := rec.Seal(); err != nil {
		return nil, err
	}
	return rec, nil
}

// buildPack assembles the context pack: one item per selected lattice,
// ordered by decreasing contribution (ties by lattice_id), each with
// provenance and a best-chunk snippet.
func (c *Settler) buildPack(ctx context.Context, selected []string, reps [][]float64, qv []float64, contribs []float64) (*types.ContextPack, error) {
	rows, err := c.store.Rows(ctx)
	if err != nil {
		return nil, err
	}
	names, err := c.store.DisplayNames()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]types.ManifestRow, len(rows))
	for _, row := range rows {
		byID[row.LatticeID] = row
	}

	items := make([]types.ContextItem, 0, len(selected))
	for i, id := range selected {
		row := byID[id]
		item := types.ContextItem{
			LatticeID:    id,
			GroupID:      row.GroupID,
			SourceFile:   row.SourceFile,
			DisplayName:  names[id],
			Score:        vectors.Dot(reps[i], qv),
			Contribution: contribs[i],
		}
		if snippet, err := c.bestSnippet(ctx, id, qv); err == nil {
			item.Snippet = snippet
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(a, b int) bool {
		if items[a].Contribution != items[b].Contribution {
			return items[a].Contribution > items[b].Contribution
		}
		return items[a].LatticeID < items[b].LatticeID
	})
	return &types.ContextPack{Items: items}, nil
}

// bestSnippet picks the chunk whose solved position is closest to the query.
func (c *Settler) bestSnippet(ctx context.Context, latticeID string, qv []float64) (string, error) {
	u, err := c.store.ReadUStar(ctx, latticeID)
	if err != nil {
		return "", err
	}
	chunks, err := c.store.ReadChunks(ctx, latticeID)
	if err != nil {
		return "", err
	}
	if len(u) == 0 || len(chunks) == 0 {
		return "", nil
	}

	best, bestScore := 0, vectors.Dot(u[0], qv)
	for i := 1; i < len(u) && i < len(chunks); i++ {
		if score := vectors.Dot(u[i], qv); score > bestScore {
			best, bestScore = i, score
		}
	}
	text := chunks[best].Text
	if len(text) > snippetLimit {
		text = text[:snippetLimit]
	}
	return text, nil
}

// itemContributions measures how much each pinned representative moved
// toward the query: 0.5·λQ·(‖x_i−q‖² − ‖u_i−q‖²).
func itemContributions(x, u [][]float64, q []float64, lambdaQ float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = 0.5 * lambdaQ * (sqDist(x[i], q) - sqDist(u[i], q))
	}
	return out
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func dedupeSorted(ids []string) []string {
	out := append([]string{}, ids...)
	sort.Strings(out)
	dst := out[:0]
	var prev string
	for _, id := range out {
		if id != prev {
			dst = append(dst, id)
			prev = id
		}
	}
	return dst
}

func orDefault(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func aclRow(row store.RouterRow) types.ManifestRow {
	return types.ManifestRow{
		ACLTenants: row.ACLTenants,
		ACLRoles:   row.ACLRoles,
		ACLPublic:  row.ACLPublic,
	}
}
