package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Maverick0351a/latticedb/internal/canon"
	"github.com/Maverick0351a/latticedb/internal/config"
)

// Check is one readiness probe result.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Readiness is the aggregate readiness report. Checks are observation-only;
// a failing check makes Seal refuse new lattices with ErrNotReady until the
// operator resolves it.
type Readiness struct {
	Ready  bool    `json:"ready"`
	Checks []Check `json:"checks"`
}

// Ready runs the store's consistency checks: attested config presence and
// hash, schema version, database receipt and its Merkle root, router/manifest
// row agreement, and the centroid table geometry.
func (s *Store) Ready(ctx context.Context) Readiness {
	var checks []Check
	add := func(name string, ok bool, detail string) {
		checks = append(checks, Check{Name: name, OK: ok, Detail: detail})
	}

	// Attested config: file parses, hash recomputes, schema version matches.
	var fileHash string
	if data, err := os.ReadFile(s.ConfigPath()); err != nil {
		add("config_exists", false, err.Error())
	} else {
		add("config_exists", true, "")
		var att config.Attested
		if err := json.Unmarshal(data, &att); err != nil {
			add("config_parses", false, err.Error())
		} else {
			add("config_parses", true, "")
			h, err := att.Hash()
			if err != nil {
				add("config_hash", false, err.Error())
			} else {
				fileHash = h
				add("config_hash", h == s.cfgHash, fmt.Sprintf("file %s, expected %s", h, s.cfgHash))
			}
			add("schema_version", att.SchemaVersion == config.SchemaVersion,
				fmt.Sprintf("file %s, supported %s", att.SchemaVersion, config.SchemaVersion))
		}
	}

	// Database receipt: present, anchored to the config hash, and its root
	// recomputes from the manifest's state signatures.
	db, err := s.DBReceipt()
	if err != nil {
		add("db_receipt", false, err.Error())
	} else {
		add("db_receipt", true, "")
		add("db_receipt_config_hash", db.ConfigHash == fileHash,
			fmt.Sprintf("receipt %s, config %s", db.ConfigHash, fileHash))

		sigs, err := s.stateSigs(ctx)
		if err != nil {
			add("merkle_root", false, err.Error())
		} else {
			root, err := canon.MerkleRoot(sigs, db.ConfigHash)
			if err != nil {
				add("merkle_root", false, err.Error())
			} else {
				add("merkle_root", root == db.DBRoot, fmt.Sprintf("recomputed %s, stored %s", root, db.DBRoot))
			}
			add("lattice_count", db.LatticeCount == len(sigs),
				fmt.Sprintf("receipt %d, manifest %d", db.LatticeCount, len(sigs)))
		}
	}

	// Router/manifest agreement: same row count, every routed lattice known.
	manifestRows, err := s.Rows(ctx)
	if err != nil {
		add("manifest", false, err.Error())
	} else {
		add("manifest", true, "")
		routerRows, err := s.RouterMeta(ctx)
		if err != nil {
			add("router_meta", false, err.Error())
		} else {
			add("router_meta", true, "")
			add("router_row_count", len(routerRows) == len(manifestRows),
				fmt.Sprintf("router %d, manifest %d", len(routerRows), len(manifestRows)))

			known := make(map[string]bool, len(manifestRows))
			for _, row := range manifestRows {
				known[row.LatticeID] = true
			}
			missing := ""
			for _, row := range routerRows {
				if !known[row.LatticeID] {
					missing = row.LatticeID
					break
				}
			}
			add("router_ids_in_manifest", missing == "", missing)

			// Centroid table geometry: N rows of dim float32s.
			wantBytes := int64(len(routerRows)) * int64(s.att.Dim) * 4
			if fi, err := os.Stat(s.CentroidsPath()); err != nil {
				add("centroids", len(routerRows) == 0 && os.IsNotExist(err), err.Error())
			} else {
				add("centroids", fi.Size() == wantBytes,
					fmt.Sprintf("size %d, want %d", fi.Size(), wantBytes))
			}
		}
	}

	ready := true
	for _, c := range checks {
		if !c.OK {
			ready = false
			break
		}
	}
	return Readiness{Ready: ready, Checks: checks}
}
