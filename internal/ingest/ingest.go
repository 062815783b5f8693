// Package ingest drives the write path: text chunks and vectors in, sealed
// lattices out. It owns the ingest WAL and the content dedup map under
// receipts/; both are operational records outside the attested set.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Maverick0351a/latticedb/internal/embedding"
	"github.com/Maverick0351a/latticedb/internal/lattice"
	"github.com/Maverick0351a/latticedb/internal/receipt"
	"github.com/Maverick0351a/latticedb/internal/store"
	"github.com/Maverick0351a/latticedb/internal/types"
)

// chunkLines is how many non-blank lines are folded into one chunk.
const chunkLines = 6

// chunkMaxBytes caps a single chunk's text.
const chunkMaxBytes = 2000

// Ingestor builds and seals lattices through one store.
type Ingestor struct {
	store    *store.Store
	embedder embedding.Embedder
}

// New creates an ingestor. The embedder may be nil when callers always
// supply vectors.
func New(s *store.Store, e embedding.Embedder) *Ingestor {
	return &Ingestor{store: s, embedder: e}
}

// Request is one ingest call: chunks plus their vectors (already in the
// embedding space), or chunks alone to be embedded here.
type Request struct {
	GroupID string
	Chunks  []types.Chunk
	Vectors [][]float32
	Source  types.SourceMeta

	ACLTenants []string
	ACLRoles   []string
	ACLPublic  *bool
}

// Ingest settles and seals one lattice. When vectors are absent the
// configured embedder supplies them.
func (ing *Ingestor) Ingest(ctx context.Context, req Request) (*receipt.Lattice, error) {
	if len(req.Chunks) == 0 {
		return nil, fmt.Errorf("ingest: no chunks")
	}
	vecs := req.Vectors
	if vecs == nil {
		if ing.embedder == nil {
			return nil, fmt.Errorf("ingest: no vectors supplied and no embedder configured")
		}
		texts := make([]string, len(req.Chunks))
		for i, c := range req.Chunks {
			texts[i] = c.Text
		}
		var err error
		vecs, err = ing.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("ingest: embed chunks: %w", err)
		}
	}
	if len(vecs) != len(req.Chunks) {
		return nil, fmt.Errorf("ingest: %d chunks but %d vectors", len(req.Chunks), len(vecs))
	}

	build, err := lattice.FromVectors(ctx, vecs, ing.store.Attested())
	if err != nil {
		return nil, err
	}

	rec, err := ing.store.Seal(ctx, store.SealRequest{
		GroupID:    req.GroupID,
		Build:      build,
		Chunks:     req.Chunks,
		Source:     req.Source,
		ACLTenants: req.ACLTenants,
		ACLRoles:   req.ACLRoles,
		ACLPublic:  req.ACLPublic,
	})
	if err != nil {
		return nil, err
	}

	ing.appendWAL(map[string]any{
		"event":       "ingest_ok",
		"lattice_id":  rec.LatticeID,
		"group_id":    rec.GroupID,
		"file_sha256": req.Source.FileSHA256,
		"chunks":      len(req.Chunks),
	})
	if req.Source.FileSHA256 != "" {
		ing.appendDedup(req.Source.FileSHA256, rec.LatticeID, req.Source.RelPath)
	}
	return rec, nil
}

// IngestDir walks a directory for .txt/.md files (sorted for determinism),
// chunks each, embeds the chunks, and seals one lattice per file. Files
// whose content hash is already in the dedup map are skipped.
func (ing *Ingestor) IngestDir(ctx context.Context, dir string) ([]*receipt.Lattice, error) {
	if ing.embedder == nil {
		return nil, fmt.Errorf("ingest: directory ingest requires an embedder")
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(files)

	seen, err := ing.dedupHashes()
	if err != nil {
		return nil, err
	}

	var receipts []*receipt.Lattice
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return receipts, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return receipts, fmt.Errorf("read %s: %w", path, err)
		}
		sum := sha256.Sum256(data)
		fileSHA := hex.EncodeToString(sum[:])
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = filepath.Base(path)
		}

		if seen[fileSHA] {
			ing.appendWAL(map[string]any{
				"event":       "dedup_skip",
				"source":      rel,
				"file_sha256": fileSHA,
			})
			slog.Info("ingest skipped duplicate", "source", rel, "file_sha256", fileSHA)
			continue
		}

		chunks := SplitText(string(data), filepath.Base(path))
		if len(chunks) == 0 {
			continue
		}

		rec, err := ing.Ingest(ctx, Request{
			Chunks: chunks,
			Source: types.SourceMeta{
				File:       filepath.Base(path),
				RelPath:    filepath.ToSlash(rel),
				FileBytes:  int64(len(data)),
				FileSHA256: fileSHA,
			},
		})
		if err != nil {
			return receipts, err
		}
		seen[fileSHA] = true
		receipts = append(receipts, rec)
		slog.Info("ingested lattice",
			"lattice_id", rec.LatticeID,
			"source", rel,
			"chunks", len(chunks),
		)
	}
	return receipts, nil
}

// SplitText folds non-blank lines into chunks of up to chunkLines lines,
// capping each chunk's text at chunkMaxBytes.
func SplitText(text, file string) []types.Chunk {
	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(ln); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}

	var chunks []types.Chunk
	var block []string
	flush := func() {
		if len(block) == 0 {
			return
		}
		joined := strings.Join(block, " ")
		if len(joined) > chunkMaxBytes {
			joined = joined[:chunkMaxBytes]
		}
		chunks = append(chunks, types.Chunk{
			LocalIndex: len(chunks),
			Text:       joined,
			File:       file,
		})
		block = block[:0]
	}
	for _, ln := range lines {
		block = append(block, ln)
		if len(block) == chunkLines {
			flush()
		}
	}
	flush()
	return chunks
}

func (ing *Ingestor) walPath() string {
	return filepath.Join(ing.store.Root(), "receipts", "ingest.wal.jsonl")
}

func (ing *Ingestor) dedupPath() string {
	return filepath.Join(ing.store.Root(), "receipts", "dedup_map.jsonl")
}

// appendWAL appends one event line; WAL failures are logged, never fatal.
func (ing *Ingestor) appendWAL(event map[string]any) {
	event["id"] = ulid.Make().String()
	event["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := appendJSONL(ing.walPath(), event); err != nil {
		slog.Warn("ingest WAL append failed", "error", err)
	}
}

func (ing *Ingestor) appendDedup(fileSHA, latticeID, source string) {
	err := appendJSONL(ing.dedupPath(), map[string]any{
		"file_sha256": fileSHA,
		"lattice_id":  latticeID,
		"source":      source,
	})
	if err != nil {
		slog.Warn("dedup map append failed", "error", err)
	}
}

// dedupHashes loads the content hashes already ingested.
func (ing *Ingestor) dedupHashes() (map[string]bool, error) {
	seen := map[string]bool{}
	data, err := os.ReadFile(ing.dedupPath())
	if err != nil {
		if os.IsNotExist(err) {
			return seen, nil
		}
		return nil, fmt.Errorf("read dedup map: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var rec struct {
			FileSHA256 string `json:"file_sha256"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.FileSHA256 != "" {
			seen[rec.FileSHA256] = true
		}
	}
	return seen, nil
}

func appendJSONL(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}
