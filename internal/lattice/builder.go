// Package lattice glues the embedding adapter, the mutual-kNN builder, and
// the SPD solver into a per-lattice build: normalized block, edge set, pin
// target and mask, solved positions, and the solve stats that the receipt
// commits to.
package lattice

import (
	"context"
	"fmt"
	"sort"

	"github.com/Maverick0351a/latticedb/internal/config"
	"github.com/Maverick0351a/latticedb/internal/graph"
	"github.com/Maverick0351a/latticedb/internal/spd"
	"github.com/Maverick0351a/latticedb/internal/vectors"
)

// Build is the outcome of settling one micro-lattice.
type Build struct {
	Block     *vectors.Block
	Edges     []graph.Edge
	U         [][]float64
	Centroid  []float64
	PinMask   []bool
	EdgeHash  string
	DeltaH    float64
	CGIters   int
	Residual  float64
	Converged bool
}

// FromVectors normalizes raw vectors and settles the lattice. The pin target
// is the unit-normalized centroid; the pin mask covers the top ⌈0.1·n⌉ rows
// by cosine to the centroid (ties to the smaller index), with at least one
// row pinned. A single-row lattice is already settled: U* = X, ΔH = 0,
// cg_iters = 0.
func FromVectors(ctx context.Context, raw [][]float32, att config.Attested) (*Build, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("lattice requires at least one vector")
	}
	block, err := vectors.NewBlock(raw, att.Dim)
	if err != nil {
		return nil, err
	}

	n := len(block.Rows)
	centroid := block.Centroid()
	mask := pinMask(block.Rows, centroid)

	if n == 1 {
		u := [][]float64{append([]float64(nil), block.Rows[0]...)}
		return &Build{
			Block:     block,
			Edges:     nil,
			U:         u,
			Centroid:  centroid,
			PinMask:   mask,
			EdgeHash:  graph.Hash(nil),
			DeltaH:    0,
			CGIters:   0,
			Residual:  0,
			Converged: true,
		}, nil
	}

	edges := graph.MutualKNN(block.Rows, att.KNeighbors)
	problem := spd.Problem{X: block.Rows, Edges: edges, Pin: centroid, Mask: mask}
	params := spd.Params{
		LambdaG: att.LambdaG,
		LambdaC: att.LambdaC,
		LambdaQ: att.LambdaQ,
		Tol:     att.Tol,
		MaxIter: att.MaxIter,
	}
	res, err := spd.Solve(ctx, problem, params)
	if err != nil {
		return nil, err
	}

	return &Build{
		Block:     block,
		Edges:     edges,
		U:         res.U,
		Centroid:  centroid,
		PinMask:   mask,
		EdgeHash:  graph.Hash(edges),
		DeltaH:    res.DeltaH,
		CGIters:   res.Iters,
		Residual:  res.Residual,
		Converged: res.Converged,
	}, nil
}

// pinMask selects the top ⌈0.1·n⌉ rows by cosine to the pin target, minimum
// one, ties broken by smaller index.
func pinMask(rows [][]float64, target []float64) []bool {
	n := len(rows)
	m := (n + 9) / 10
	if m < 1 {
		m = 1
	}

	idx := make([]int, n)
	scores := make([]float64, n)
	for i := range rows {
		idx[i] = i
		scores[i] = vectors.Dot(rows[i], target)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if scores[idx[a]] != scores[idx[b]] {
			return scores[idx[a]] > scores[idx[b]]
		}
		return idx[a] < idx[b]
	})

	mask := make([]bool, n)
	for _, i := range idx[:m] {
		mask[i] = true
	}
	return mask
}

// UStarFloat32 returns the solved positions as a flat row-major float32
// slice, the exact content of ustar.f32.
func (b *Build) UStarFloat32() []float32 {
	flat := make([]float32, 0, len(b.U)*len(b.Centroid))
	for _, row := range b.U {
		for _, x := range row {
			flat = append(flat, float32(x))
		}
	}
	return flat
}
