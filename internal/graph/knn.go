// Package graph builds the mutual-kNN edge set over a block of unit vectors
// and defines the canonical edge serialization that edge_hash commits to.
package graph

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/Maverick0351a/latticedb/internal/canon"
)

// Edge is an undirected edge with I < J.
type Edge struct {
	I, J uint32
}

// MutualKNN returns the mutual-kNN edge set over rows using cosine
// similarity (dot product on unit rows). For each i the k highest-scoring
// neighbors are selected, ties broken by smaller index; (i,j) is an edge iff
// each appears in the other's neighbor list. When n <= k the graph is
// complete.
func MutualKNN(rows [][]float64, k int) []Edge {
	n := len(rows)
	if n < 2 {
		return nil
	}

	if n <= k {
		edges := make([]Edge, 0, n*(n-1)/2)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				edges = append(edges, Edge{I: uint32(i), J: uint32(j)})
			}
		}
		return edges
	}

	// Directed adjacency: top-k by score, ties by smaller index.
	adj := make([]map[int]bool, n)
	cand := make([]int, 0, n-1)
	for i := 0; i < n; i++ {
		cand = cand[:0]
		for j := 0; j < n; j++ {
			if j != i {
				cand = append(cand, j)
			}
		}
		scores := make([]float64, n)
		for _, j := range cand {
			scores[j] = dot(rows[i], rows[j])
		}
		sort.SliceStable(cand, func(a, b int) bool {
			sa, sb := scores[cand[a]], scores[cand[b]]
			if sa != sb {
				return sa > sb
			}
			return cand[a] < cand[b]
		})
		adj[i] = make(map[int]bool, k)
		for _, j := range cand[:k] {
			adj[i][j] = true
		}
	}

	var edges []Edge
	for i := 0; i < n; i++ {
		for j := range adj[i] {
			if j > i && adj[j][i] {
				edges = append(edges, Edge{I: uint32(i), J: uint32(j)})
			}
		}
	}
	sortEdges(edges)
	return edges
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].I != edges[b].I {
			return edges[a].I < edges[b].I
		}
		return edges[a].J < edges[b].J
	})
}

// Serialize packs edges as (uint32 i, uint32 j) little-endian pairs, i<j,
// lexicographically sorted. This is the edge_hash preimage and the exact
// content of edges.bin.
func Serialize(edges []Edge) []byte {
	buf := make([]byte, 0, len(edges)*8)
	var tmp [8]byte
	for _, e := range edges {
		binary.LittleEndian.PutUint32(tmp[0:4], e.I)
		binary.LittleEndian.PutUint32(tmp[4:8], e.J)
		buf = append(buf, tmp[:]...)
	}
	return buf
}

// Parse decodes an edges.bin buffer back into an edge list.
func Parse(b []byte) ([]Edge, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("edge buffer length %d is not a multiple of 8", len(b))
	}
	edges := make([]Edge, len(b)/8)
	for i := range edges {
		edges[i].I = binary.LittleEndian.Uint32(b[i*8:])
		edges[i].J = binary.LittleEndian.Uint32(b[i*8+4:])
		if edges[i].I >= edges[i].J {
			return nil, fmt.Errorf("edge %d: indices (%d,%d) not strictly increasing", i, edges[i].I, edges[i].J)
		}
	}
	return edges, nil
}

// Hash returns the SHA-256 hex of the canonical edge serialization.
func Hash(edges []Edge) string {
	return canon.SHA256Hex(Serialize(edges))
}

// Degrees returns the per-node degree over n nodes.
func Degrees(n int, edges []Edge) []int {
	deg := make([]int, n)
	for _, e := range edges {
		deg[e.I]++
		deg[e.J]++
	}
	return deg
}
