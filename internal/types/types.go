// Package types defines the shared data model: chunks, manifest rows, and
// routing candidates. Types here are plain data with no behavior.
package types

// Chunk is one text chunk of a sealed micro-lattice. LocalIndex is the row
// index of the chunk's embedding within the lattice block. Chunks are
// immutable once the lattice is sealed.
type Chunk struct {
	LocalIndex int    `json:"i"`
	Text       string `json:"text"`
	File       string `json:"file,omitempty"`
	StartByte  int64  `json:"start_byte,omitempty"`
	EndByte    int64  `json:"end_byte,omitempty"`
}

// SourceMeta describes the source a lattice was built from.
type SourceMeta struct {
	File       string `json:"file"`
	RelPath    string `json:"rel_path,omitempty"`
	FileBytes  int64  `json:"file_bytes"`
	FileSHA256 string `json:"file_sha256"`
}

// ManifestRow is one manifest entry per sealed lattice. Creation order is
// monotonic. DisplayName is a non-attested overlay filled on read; ACL
// columns may be updated without affecting receipts.
type ManifestRow struct {
	GroupID       string   `json:"group_id"`
	LatticeID     string   `json:"lattice_id"`
	EdgeHash      string   `json:"edge_hash"`
	DeltaHTotal   string   `json:"deltaH_total"`
	CreatedAt     string   `json:"created_at"`
	SourceFile    string   `json:"source_file"`
	SourceRelPath string   `json:"source_relpath,omitempty"`
	ChunkCount    int      `json:"chunk_count"`
	FileBytes     int64    `json:"file_bytes"`
	FileSHA256    string   `json:"file_sha256"`
	StateSig      string   `json:"state_sig"`
	ACLTenants    []string `json:"acl_tenants,omitempty"`
	ACLRoles      []string `json:"acl_roles,omitempty"`
	ACLPublic     *bool    `json:"acl_public,omitempty"`
	DisplayName   string   `json:"display_name,omitempty"`
}

// Candidate is a routing result: a lattice and its cosine score against the
// query vector.
type Candidate struct {
	LatticeID string  `json:"lattice_id"`
	Score     float64 `json:"score"`
}

// ContextItem is one entry of a context pack, carrying provenance for the
// lattice it came from.
type ContextItem struct {
	LatticeID    string  `json:"lattice_id"`
	GroupID      string  `json:"group_id"`
	SourceFile   string  `json:"source_file,omitempty"`
	DisplayName  string  `json:"display_name,omitempty"`
	Score        float64 `json:"score"`
	Contribution float64 `json:"contribution"`
	Snippet      string  `json:"snippet,omitempty"`
}

// ContextPack is the ordered, provenance-carrying output of compose.
type ContextPack struct {
	Items []ContextItem `json:"items"`
}
