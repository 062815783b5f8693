// Package spd assembles the symmetric positive-definite system
// M = λG·I + λC·L + λQ·diag(b) over a micro-lattice and solves M·x = r per
// coordinate with Jacobi-preconditioned conjugate gradients. The Laplacian is
// never materialized; the solver iterates the flat edge list.
package spd

import (
	"context"
	"errors"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Maverick0351a/latticedb/internal/graph"
)

// ErrNonFinite is returned when a CG intermediate becomes NaN or Inf.
var ErrNonFinite = errors.New("non-finite value in CG solve")

// Params are the SPD regularizers and CG termination settings.
type Params struct {
	LambdaG float64
	LambdaC float64
	LambdaQ float64
	Tol     float64
	MaxIter int
}

// Problem is one settle: unit rows X, the mutual-kNN edge set, the pin
// target q and the pin mask b.
type Problem struct {
	X     [][]float64
	Edges []graph.Edge
	Pin   []float64
	Mask  []bool
}

// Result carries the solved positions and the receipt-grade solve stats.
// Iters is the sum of CG iterations across coordinates; Residual is the
// maximum final residual across coordinates.
type Result struct {
	U         [][]float64
	DeltaH    float64
	Iters     int
	Residual  float64
	Converged bool
}

// Solve runs the per-coordinate CG solves. Coordinates are independent and
// run in parallel; within a coordinate all iteration is in strictly
// ascending index order, so identical inputs give identical outputs.
// Non-convergence within MaxIter is soft: the last iterate is kept and
// Converged is false. Context cancellation aborts at iteration boundaries.
func Solve(ctx context.Context, p Problem, params Params) (*Result, error) {
	n := len(p.X)
	if n == 0 {
		return &Result{U: nil, Converged: true}, nil
	}
	d := len(p.X[0])
	deg := graph.Degrees(n, p.Edges)

	diag := make([]float64, n)
	for i := 0; i < n; i++ {
		diag[i] = params.LambdaG + params.LambdaC*float64(deg[i])
		if p.Mask[i] {
			diag[i] += params.LambdaQ
		}
	}

	cols := make([][]float64, d)
	iters := make([]int, d)
	resids := make([]float64, d)
	converged := make([]bool, d)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for j := 0; j < d; j++ {
		g.Go(func() error {
			x0 := make([]float64, n)
			rhs := make([]float64, n)
			for i := 0; i < n; i++ {
				x0[i] = p.X[i][j]
				rhs[i] = params.LambdaG * p.X[i][j]
				if p.Mask[i] {
					rhs[i] += params.LambdaQ * p.Pin[j]
				}
			}
			x, it, res, ok, err := cg(gctx, x0, rhs, diag, p.Edges, params)
			if err != nil {
				return err
			}
			cols[j] = x
			iters[j] = it
			resids[j] = res
			converged[j] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	u := make([][]float64, n)
	for i := 0; i < n; i++ {
		u[i] = make([]float64, d)
		for j := 0; j < d; j++ {
			u[i][j] = cols[j][i]
		}
	}

	res := &Result{U: u, Converged: true}
	for j := 0; j < d; j++ {
		res.Iters += iters[j]
		if resids[j] > res.Residual {
			res.Residual = resids[j]
		}
		if !converged[j] {
			res.Converged = false
		}
	}

	hx := Energy(p.X, p, params)
	hu := Energy(u, p, params)
	res.DeltaH = hx - hu
	if res.DeltaH < 0 {
		res.DeltaH = 0
	}
	if math.IsNaN(res.DeltaH) || math.IsInf(res.DeltaH, 0) {
		return nil, ErrNonFinite
	}
	return res, nil
}

// cg solves (λG·I + λC·L + λQ·diag(b))x = rhs with Jacobi preconditioning,
// warm-started at x0. Terminates when ‖res‖₂ ≤ tol·max(1, ‖rhs‖₂) or at
// MaxIter.
func cg(ctx context.Context, x0, rhs, diag []float64, edges []graph.Edge, params Params) (x []float64, iters int, resNorm float64, converged bool, err error) {
	n := len(x0)
	x = make([]float64, n)
	copy(x, x0)

	r := make([]float64, n)
	matvec(r, x, diag, edges, params.LambdaC)
	for i := 0; i < n; i++ {
		r[i] = rhs[i] - r[i]
	}

	threshold := params.Tol * math.Max(1, norm2(rhs))
	resNorm = norm2(r)
	if !isFinite(resNorm) {
		return nil, 0, 0, false, ErrNonFinite
	}
	if resNorm <= threshold {
		return x, 0, resNorm, true, nil
	}

	z := make([]float64, n)
	for i := 0; i < n; i++ {
		z[i] = r[i] / diag[i]
	}
	p := make([]float64, n)
	copy(p, z)
	rz := dot(r, z)

	mp := make([]float64, n)
	for iters = 1; iters <= params.MaxIter; iters++ {
		if err := ctx.Err(); err != nil {
			return nil, iters, resNorm, false, err
		}

		matvec(mp, p, diag, edges, params.LambdaC)
		alpha := rz / dot(p, mp)
		if !isFinite(alpha) {
			return nil, iters, resNorm, false, ErrNonFinite
		}
		for i := 0; i < n; i++ {
			x[i] += alpha * p[i]
			r[i] -= alpha * mp[i]
		}
		resNorm = norm2(r)
		if !isFinite(resNorm) {
			return nil, iters, resNorm, false, ErrNonFinite
		}
		if resNorm <= threshold {
			return x, iters, resNorm, true, nil
		}

		for i := 0; i < n; i++ {
			z[i] = r[i] / diag[i]
		}
		rzNext := dot(r, z)
		beta := rzNext / rz
		if !isFinite(beta) {
			return nil, iters, resNorm, false, ErrNonFinite
		}
		rz = rzNext
		for i := 0; i < n; i++ {
			p[i] = z[i] + beta*p[i]
		}
	}
	// Soft non-convergence: keep the last iterate.
	return x, params.MaxIter, resNorm, false, nil
}

// matvec computes out = (diag - λC·Adj)·x, which equals M·x because diag
// already folds in λC·deg.
func matvec(out, x, diag []float64, edges []graph.Edge, lambdaC float64) {
	for i := range out {
		out[i] = diag[i] * x[i]
	}
	for _, e := range edges {
		out[e.I] -= lambdaC * x[e.J]
		out[e.J] -= lambdaC * x[e.I]
	}
}

// Energy evaluates H(Y) = 0.5·[λG·‖Y−X‖² + λC·Σ‖y_i−y_j‖² + λQ·Σ b_i·‖y_i−q‖²].
func Energy(y [][]float64, p Problem, params Params) float64 {
	var ground, coherence, pin float64
	for i := range y {
		for j := range y[i] {
			dx := y[i][j] - p.X[i][j]
			ground += dx * dx
		}
		if p.Mask[i] {
			for j := range y[i] {
				dq := y[i][j] - p.Pin[j]
				pin += dq * dq
			}
		}
	}
	for _, e := range p.Edges {
		a, b := y[e.I], y[e.J]
		for j := range a {
			de := a[j] - b[j]
			coherence += de * de
		}
	}
	return 0.5 * (params.LambdaG*ground + params.LambdaC*coherence + params.LambdaQ*pin)
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func norm2(v []float64) float64 {
	return math.Sqrt(dot(v, v))
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
