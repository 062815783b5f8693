package config

import (
	"github.com/Maverick0351a/latticedb/internal/canon"
	"github.com/Maverick0351a/latticedb/internal/vectors"
)

// SchemaVersion governs on-disk compatibility. A store whose attested config
// carries a different schema version is not ready.
const SchemaVersion = "1"

// Attested is the normalized configuration whose canonical JSON is the
// config_hash preimage. Every knob that affects numerics lives here; display
// and ACL overlays do not.
type Attested struct {
	SchemaVersion string  `json:"schema_version"`
	Dim           int     `json:"dim"`
	KNeighbors    int     `json:"k_neighbors"`
	LambdaG       float64 `json:"lambda_G"`
	LambdaC       float64 `json:"lambda_C"`
	LambdaQ       float64 `json:"lambda_Q"`
	Tol           float64 `json:"tol"`
	MaxIter       int     `json:"max_iter"`
	ModelSHA256   string  `json:"model_sha256"`
	// CGIters records whether cg_iters in receipts is the sum or the max
	// across coordinates. This implementation records "sum".
	CGIters string `json:"cg_iters"`
	// CompositeRepresentatives is the compose representative policy;
	// "centroid" means one centroid row per selected lattice.
	CompositeRepresentatives string `json:"composite_representatives"`
	CompositeKDefault        int    `json:"composite_k_default"`
}

// NewAttested derives the attested config from the ambient configuration.
func NewAttested(c *Config) Attested {
	return Attested{
		SchemaVersion:            SchemaVersion,
		Dim:                      c.SPD.Dim,
		KNeighbors:               c.SPD.KNeighbors,
		LambdaG:                  c.SPD.LambdaG,
		LambdaC:                  c.SPD.LambdaC,
		LambdaQ:                  c.SPD.LambdaQ,
		Tol:                      c.SPD.Tol,
		MaxIter:                  c.SPD.MaxIter,
		ModelSHA256:              vectors.Fingerprint(c.Embedding.Model, c.Embedding.Revision),
		CGIters:                  "sum",
		CompositeRepresentatives: "centroid",
		CompositeKDefault:        c.Query.ComposeKC,
	}
}

// CanonicalJSON returns the exact bytes written to receipts/config.json.
func (a Attested) CanonicalJSON() ([]byte, error) {
	return canon.JSON(a)
}

// Hash returns config_hash: the SHA-256 over the canonical JSON bytes.
func (a Attested) Hash() (string, error) {
	b, err := a.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return canon.SHA256Hex(b), nil
}
