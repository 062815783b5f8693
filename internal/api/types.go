package api

import (
	"github.com/Maverick0351a/latticedb/internal/receipt"
	"github.com/Maverick0351a/latticedb/internal/types"
)

// IngestRequest ingests one lattice. Vectors are optional; absent vectors
// are produced by the configured embedder from the chunk texts.
type IngestRequest struct {
	GroupID    string            `json:"group_id,omitempty"`
	Chunks     []types.Chunk     `json:"chunks"`
	Vectors    [][]float32       `json:"vectors,omitempty"`
	Source     *types.SourceMeta `json:"source,omitempty"`
	ACLTenants []string          `json:"acl_tenants,omitempty"`
	ACLRoles   []string          `json:"acl_roles,omitempty"`
	ACLPublic  *bool             `json:"acl_public,omitempty"`
}

// IngestResponse carries the sealed receipt and the database root it rolled
// into.
type IngestResponse struct {
	Receipt *receipt.Lattice `json:"receipt"`
	DBRoot  string           `json:"db_root"`
}

// RouteRequest scores a query against the centroid table. Either Vector or
// Q (text to embed) must be set.
type RouteRequest struct {
	Vector []float32 `json:"vector,omitempty"`
	Q      string    `json:"q,omitempty"`
	K      int       `json:"k,omitempty"`
}

// RouteResponse lists candidate lattices by decreasing score.
type RouteResponse struct {
	Candidates []types.Candidate `json:"candidates"`
}

// ComposeRequest settles selected lattices against a query.
type ComposeRequest struct {
	Vector     []float32 `json:"vector,omitempty"`
	Q          string    `json:"q,omitempty"`
	LatticeIDs []string  `json:"lattice_ids"`
	Epsilon    float64   `json:"epsilon,omitempty"`
	Tau        float64   `json:"tau,omitempty"`
	KC         int       `json:"k_c,omitempty"`
	LambdaG    float64   `json:"lambda_G,omitempty"`
	LambdaC    float64   `json:"lambda_C,omitempty"`
	LambdaQ    float64   `json:"lambda_Q,omitempty"`
}

// VerifyRequest checks a composite receipt against the stored database
// receipt, optionally with witness lattice receipts.
type VerifyRequest struct {
	Composite *receipt.Composite `json:"composite"`
	Witnesses []receipt.Lattice  `json:"witnesses,omitempty"`
}

// ManifestResponse is a page of manifest rows.
type ManifestResponse struct {
	Rows []types.ManifestRow `json:"rows"`
}

// DisplayNameRequest sets the non-attested display name overlay.
type DisplayNameRequest struct {
	DisplayName string `json:"display_name"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	DBRoot  string `json:"db_root,omitempty"`
}
