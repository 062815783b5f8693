// Package receipt defines the attested artifacts of the database: per-lattice
// receipts, the database receipt, and per-query composite receipts, together
// with the state-signature scheme and the verification protocol.
//
// A state_sig is the SHA-256 over the canonical JSON of a receipt minus its
// own state_sig field. ΔH and residuals enter receipts only as
// fixed-precision decimal strings; raw IEEE-754 bits are never hashed.
package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Maverick0351a/latticedb/internal/canon"
)

// Verify reasons returned by the verification protocol.
const (
	ReasonOK                 = "ok"
	ReasonStateSigMismatch   = "state_sig_mismatch"
	ReasonMerkleRootMismatch = "merkle_root_mismatch"
	ReasonDBRootMismatch     = "db_root_mismatch"
)

// Lattice is the per-lattice receipt sealed with the lattice directory.
type Lattice struct {
	Version       string  `json:"version"`
	LatticeID     string  `json:"lattice_id"`
	GroupID       string  `json:"group_id"`
	Dim           int     `json:"dim"`
	LambdaG       float64 `json:"lambda_G"`
	LambdaC       float64 `json:"lambda_C"`
	LambdaQ       float64 `json:"lambda_Q"`
	EdgeHash      string  `json:"edge_hash"`
	DeltaHTotal   string  `json:"deltaH_total"`
	CGIters       int     `json:"cg_iters"`
	FinalResidual string  `json:"final_residual"`
	FileSHA256    string  `json:"file_sha256"`
	ModelSHA256   string  `json:"model_sha256"`
	StateSig      string  `json:"state_sig"`
}

// DB is the database receipt: the Merkle attestation over every sealed
// lattice plus the normalized config. Leaves are included for verification
// convenience; they are derived state.
type DB struct {
	Version      string   `json:"version"`
	DBRoot       string   `json:"db_root"`
	ConfigHash   string   `json:"config_hash"`
	LatticeCount int      `json:"lattice_count"`
	Leaves       []string `json:"leaves,omitempty"`
}

// Composite is the ephemeral receipt emitted by compose. DBRoot is the root
// witnessed when the compose began.
type Composite struct {
	Version           string            `json:"version"`
	DBRoot            string            `json:"db_root"`
	LatticeIDs        []string          `json:"lattice_ids"`
	EdgeHashComposite string            `json:"edge_hash_composite"`
	DeltaHTotal       string            `json:"deltaH_total"`
	CGIters           int               `json:"cg_iters"`
	FinalResidual     string            `json:"final_residual"`
	Epsilon           float64           `json:"epsilon"`
	Tau               float64           `json:"tau"`
	Filters           map[string]string `json:"filters"`
	ModelSHA256       string            `json:"model_sha256"`
	StateSig          string            `json:"state_sig"`
}

// StateSig computes the state signature of any receipt value: the SHA-256
// over its canonical JSON with the state_sig field removed.
func StateSig(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return "", fmt.Errorf("decode receipt: %w", err)
	}
	delete(m, "state_sig")
	return canon.HashJSON(m)
}

// Seal fills in the lattice receipt's state signature.
func (r *Lattice) Seal() error {
	sig, err := StateSig(r)
	if err != nil {
		return err
	}
	r.StateSig = sig
	return nil
}

// VerifySig reports whether the stored state signature recomputes.
func (r *Lattice) VerifySig() (bool, error) {
	sig, err := StateSig(r)
	if err != nil {
		return false, err
	}
	return sig == r.StateSig, nil
}

// Seal fills in the composite receipt's state signature.
func (c *Composite) Seal() error {
	sig, err := StateSig(c)
	if err != nil {
		return err
	}
	c.StateSig = sig
	return nil
}

// VerifySig reports whether the stored state signature recomputes.
func (c *Composite) VerifySig() (bool, error) {
	sig, err := StateSig(c)
	if err != nil {
		return false, err
	}
	return sig == c.StateSig, nil
}

// VerifyResult is the outcome of the verification protocol.
type VerifyResult struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason"`
}

// VerifyComposite runs the verification protocol for a composite receipt
// against the database receipt: (1) the composite state_sig must recompute;
// (2) when witness lattice receipts are supplied, the Merkle root over their
// state_sigs plus config_hash must equal db_root; (3) the composite's
// witnessed db_root must equal the database receipt's.
func VerifyComposite(comp *Composite, witnesses []Lattice, db *DB) (VerifyResult, error) {
	ok, err := comp.VerifySig()
	if err != nil {
		return VerifyResult{}, err
	}
	if !ok {
		return VerifyResult{Verified: false, Reason: ReasonStateSigMismatch}, nil
	}

	if len(witnesses) > 0 {
		sigs := make([]string, 0, len(witnesses))
		for i := range witnesses {
			sigs = append(sigs, witnesses[i].StateSig)
		}
		root, err := canon.MerkleRoot(sigs, db.ConfigHash)
		if err != nil {
			return VerifyResult{}, err
		}
		if root != db.DBRoot {
			return VerifyResult{Verified: false, Reason: ReasonMerkleRootMismatch}, nil
		}
	}

	if comp.DBRoot != db.DBRoot {
		return VerifyResult{Verified: false, Reason: ReasonDBRootMismatch}, nil
	}
	return VerifyResult{Verified: true, Reason: ReasonOK}, nil
}
