// Package store owns the on-disk database root: sealed lattice directories,
// the manifest and router meta tables, the attested config, and the database
// receipt. It enforces the single-writer discipline and the append-only
// guarantee: sealed lattices are never mutated, edited, or reordered.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Maverick0351a/latticedb/internal/canon"
	"github.com/Maverick0351a/latticedb/internal/config"
	"github.com/Maverick0351a/latticedb/internal/graph"
	"github.com/Maverick0351a/latticedb/internal/lattice"
	"github.com/Maverick0351a/latticedb/internal/receipt"
	"github.com/Maverick0351a/latticedb/internal/types"
	"github.com/Maverick0351a/latticedb/internal/vectors"
)

// ReceiptVersion is the version stamped into every receipt.
const ReceiptVersion = "1"

// Store is the handle to one database root. All writes serialize under the
// root's flock; reads are lock-free and see only sealed state.
type Store struct {
	root    string
	att     config.Attested
	cfgHash string

	manifest *sql.DB
	meta     *sql.DB

	// writerMu serializes writers within this process; the flock covers
	// other processes.
	writerMu sync.Mutex

	cacheMu    sync.Mutex
	cachedRows []types.ManifestRow
	cachedAt   time.Time
	ttl        time.Duration

	hookMu    sync.Mutex
	sealHooks []func()
}

// Open opens (creating if necessary) the database root. An existing
// receipts/config.json must agree with the supplied attested config;
// a disagreement is an integrity error, not something to auto-heal.
func Open(root string, att config.Attested, manifestTTL time.Duration) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, "groups"), filepath.Join(root, "router"), filepath.Join(root, "receipts"), filepath.Join(root, "metadata")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	cfgHash, err := att.Hash()
	if err != nil {
		return nil, err
	}

	cfgPath := filepath.Join(root, "receipts", "config.json")
	if data, err := os.ReadFile(cfgPath); err == nil {
		var existing config.Attested
		if err := json.Unmarshal(data, &existing); err != nil {
			return nil, fmt.Errorf("%w: parse config.json: %v", ErrIntegrity, err)
		}
		existingHash, err := existing.Hash()
		if err != nil {
			return nil, err
		}
		if existingHash != cfgHash {
			return nil, fmt.Errorf("%w: config.json hash %s disagrees with supplied config %s", ErrIntegrity, existingHash, cfgHash)
		}
	} else if os.IsNotExist(err) {
		canonical, err := att.CanonicalJSON()
		if err != nil {
			return nil, err
		}
		if err := atomicWriteFile(cfgPath, canonical); err != nil {
			return nil, fmt.Errorf("write config.json: %w", err)
		}
	} else {
		return nil, fmt.Errorf("read config.json: %w", err)
	}

	manifestDB, err := openManifestDB(filepath.Join(root, "manifest.sqlite"))
	if err != nil {
		return nil, err
	}
	metaDB, err := openRouterMetaDB(filepath.Join(root, "router", "meta.sqlite"))
	if err != nil {
		manifestDB.Close()
		return nil, err
	}

	s := &Store{
		root:     root,
		att:      att,
		cfgHash:  cfgHash,
		manifest: manifestDB,
		meta:     metaDB,
		ttl:      manifestTTL,
	}

	if _, err := os.Stat(s.dbReceiptPath()); os.IsNotExist(err) {
		if err := s.recomputeDBReceipt(context.Background()); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the tabular databases.
func (s *Store) Close() error {
	err := s.manifest.Close()
	if closeErr := s.meta.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Root returns the database root directory.
func (s *Store) Root() string { return s.root }

// Attested returns the attested configuration.
func (s *Store) Attested() config.Attested { return s.att }

// ConfigHash returns the attested config hash.
func (s *Store) ConfigHash() string { return s.cfgHash }

// CentroidsPath returns the router centroid table path.
func (s *Store) CentroidsPath() string {
	return filepath.Join(s.root, "router", "centroids.f32")
}

func (s *Store) dbReceiptPath() string {
	return filepath.Join(s.root, "receipts", "db_receipt.json")
}

// ConfigPath returns the attested config path.
func (s *Store) ConfigPath() string {
	return filepath.Join(s.root, "receipts", "config.json")
}

// OnSeal registers a hook invoked after every successful seal. The router
// uses this to invalidate its centroid snapshot.
func (s *Store) OnSeal(fn func()) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.sealHooks = append(s.sealHooks, fn)
}

func (s *Store) fireSealHooks() {
	s.hookMu.Lock()
	hooks := append([]func(){}, s.sealHooks...)
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// SealRequest carries everything needed to seal one lattice.
type SealRequest struct {
	// GroupID is optional; when empty a fresh group is assigned.
	GroupID string
	Build   *lattice.Build
	Chunks  []types.Chunk
	Source  types.SourceMeta

	ACLTenants []string
	ACLRoles   []string
	ACLPublic  *bool
}

// Seal writes a settled lattice to disk atomically (temp dir + fsync +
// rename), appends the manifest and router rows, and recomputes the database
// receipt — all under the writer lock. Any failure removes the staged
// directory and leaves no side effects.
func (s *Store) Seal(ctx context.Context, req SealRequest) (*receipt.Lattice, error) {
	if req.Build == nil {
		return nil, errors.New("seal: nil build")
	}
	if len(req.Chunks) != len(req.Build.Block.Rows) {
		return nil, fmt.Errorf("seal: %d chunks but %d embedding rows", len(req.Chunks), len(req.Build.Block.Rows))
	}

	lock, err := acquireWriterLock(ctx, s.root)
	if err != nil {
		return nil, err
	}
	defer lock.release()
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	if ready := s.Ready(ctx); !ready.Ready {
		return nil, fmt.Errorf("seal: %w", ErrNotReady)
	}

	var count int
	if err := s.manifest.QueryRowContext(ctx, "SELECT COUNT(*) FROM manifest").Scan(&count); err != nil {
		return nil, fmt.Errorf("count manifest: %w", err)
	}
	latticeID := fmt.Sprintf("L-%06d", count+1)
	groupID := req.GroupID
	if groupID == "" {
		groupID = fmt.Sprintf("G-%06d", count+1)
	}

	rec := &receipt.Lattice{
		Version:       ReceiptVersion,
		LatticeID:     latticeID,
		GroupID:       groupID,
		Dim:           s.att.Dim,
		LambdaG:       s.att.LambdaG,
		LambdaC:       s.att.LambdaC,
		LambdaQ:       s.att.LambdaQ,
		EdgeHash:      req.Build.EdgeHash,
		DeltaHTotal:   canon.Decimal(req.Build.DeltaH),
		CGIters:       req.Build.CGIters,
		FinalResidual: canon.Decimal(req.Build.Residual),
		FileSHA256:    req.Source.FileSHA256,
		ModelSHA256:   s.att.ModelSHA256,
	}
	if err := rec.Seal(); err != nil {
		return nil, err
	}

	groupDir := filepath.Join(s.root, "groups", groupID)
	if err := os.MkdirAll(groupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create group dir: %w", err)
	}
	tmpDir := filepath.Join(groupDir, ".tmp-"+latticeID+"-"+ulid.Make().String())
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	if err := s.stageLattice(tmpDir, req, rec); err != nil {
		cleanup()
		return nil, err
	}

	finalDir := filepath.Join(groupDir, latticeID)
	if err := os.Rename(tmpDir, finalDir); err != nil {
		cleanup()
		return nil, fmt.Errorf("seal rename: %w", err)
	}
	if err := syncDir(groupDir); err != nil {
		os.RemoveAll(finalDir)
		return nil, err
	}

	row := types.ManifestRow{
		GroupID:       groupID,
		LatticeID:     latticeID,
		EdgeHash:      req.Build.EdgeHash,
		DeltaHTotal:   rec.DeltaHTotal,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		SourceFile:    req.Source.File,
		SourceRelPath: req.Source.RelPath,
		ChunkCount:    len(req.Chunks),
		FileBytes:     req.Source.FileBytes,
		FileSHA256:    req.Source.FileSHA256,
		StateSig:      rec.StateSig,
		ACLTenants:    req.ACLTenants,
		ACLRoles:      req.ACLRoles,
		ACLPublic:     req.ACLPublic,
	}
	if err := insertManifestRow(ctx, s.manifest, row); err != nil {
		os.RemoveAll(finalDir)
		return nil, err
	}
	if err := insertRouterMetaRow(ctx, s.meta, row); err != nil {
		s.deleteManifestRow(ctx, latticeID)
		os.RemoveAll(finalDir)
		return nil, err
	}
	if err := s.appendCentroid(req.Build.Centroid); err != nil {
		s.deleteRouterMetaRow(ctx, latticeID)
		s.deleteManifestRow(ctx, latticeID)
		os.RemoveAll(finalDir)
		return nil, err
	}
	if err := s.recomputeDBReceipt(ctx); err != nil {
		s.deleteRouterMetaRow(ctx, latticeID)
		s.deleteManifestRow(ctx, latticeID)
		stride := len(req.Build.Centroid) * 4
		if table, readErr := os.ReadFile(s.CentroidsPath()); readErr == nil && len(table) >= stride {
			_ = atomicWriteFile(s.CentroidsPath(), table[:len(table)-stride])
		}
		os.RemoveAll(finalDir)
		return nil, err
	}

	s.invalidateManifestCache()
	s.fireSealHooks()
	return rec, nil
}

// stageLattice writes the lattice payload into the staging directory, fsyncing
// every file so the subsequent rename publishes a durable unit.
func (s *Store) stageLattice(dir string, req SealRequest, rec *receipt.Lattice) error {
	var chunkLines strings.Builder
	for _, c := range req.Chunks {
		line, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode chunk: %w", err)
		}
		chunkLines.Write(line)
		chunkLines.WriteByte('\n')
	}
	if err := writeFileSync(filepath.Join(dir, "chunks.jsonl"), []byte(chunkLines.String())); err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}
	if err := writeFileSync(filepath.Join(dir, "embeds.f32"), vectors.Pack(req.Build.Block.Float32())); err != nil {
		return fmt.Errorf("write embeds: %w", err)
	}
	if err := writeFileSync(filepath.Join(dir, "edges.bin"), graph.Serialize(req.Build.Edges)); err != nil {
		return fmt.Errorf("write edges: %w", err)
	}
	if err := writeFileSync(filepath.Join(dir, "ustar.f32"), vectors.Pack(req.Build.UStarFloat32())); err != nil {
		return fmt.Errorf("write ustar: %w", err)
	}
	recJSON, err := canon.JSON(rec)
	if err != nil {
		return err
	}
	if err := writeFileSync(filepath.Join(dir, "receipt.json"), recJSON); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}
	return syncDir(dir)
}

func (s *Store) deleteManifestRow(ctx context.Context, latticeID string) {
	_, _ = s.manifest.ExecContext(ctx, "DELETE FROM manifest WHERE lattice_id = ?", latticeID)
}

func (s *Store) deleteRouterMetaRow(ctx context.Context, latticeID string) {
	_, _ = s.meta.ExecContext(ctx, "DELETE FROM router_meta WHERE lattice_id = ?", latticeID)
}

// appendCentroid appends one row to the centroid table. The table is
// rewritten through a temp file so readers only ever see complete rows.
func (s *Store) appendCentroid(centroid []float64) error {
	row := make([]float32, len(centroid))
	for i, x := range centroid {
		row[i] = float32(x)
	}
	existing, err := os.ReadFile(s.CentroidsPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read centroids: %w", err)
	}
	return atomicWriteFile(s.CentroidsPath(), append(existing, vectors.Pack(row)...))
}

// recomputeDBReceipt rebuilds receipts/db_receipt.json from the manifest's
// state signatures and the attested config hash.
func (s *Store) recomputeDBReceipt(ctx context.Context) error {
	sigs, err := s.stateSigs(ctx)
	if err != nil {
		return err
	}
	root, err := canon.MerkleRoot(sigs, s.cfgHash)
	if err != nil {
		return err
	}

	leaves := append([]string{}, sigs...)
	sort.Strings(leaves)
	leaves = append(leaves, s.cfgHash)

	rec := receipt.DB{
		Version:      ReceiptVersion,
		DBRoot:       root,
		ConfigHash:   s.cfgHash,
		LatticeCount: len(sigs),
		Leaves:       leaves,
	}
	data, err := canon.JSON(rec)
	if err != nil {
		return err
	}
	return atomicWriteFile(s.dbReceiptPath(), data)
}

func (s *Store) stateSigs(ctx context.Context) ([]string, error) {
	rows, err := s.manifest.QueryContext(ctx, "SELECT state_sig FROM manifest ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query state sigs: %w", err)
	}
	defer rows.Close()
	var sigs []string
	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}

// RebuildDBReceipt recomputes the database receipt from the sealed
// receipt.json files instead of the manifest's signature column. Integrity
// tooling uses this after on-disk changes are suspected; a tampered lattice
// receipt shifts db_root and invalidates previously issued composites.
func (s *Store) RebuildDBReceipt(ctx context.Context) error {
	lock, err := acquireWriterLock(ctx, s.root)
	if err != nil {
		return err
	}
	defer lock.release()
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	rows, err := queryManifest(ctx, s.manifest, ManifestFilter{})
	if err != nil {
		return err
	}
	sigs := make([]string, 0, len(rows))
	for _, row := range rows {
		rec, err := s.LatticeReceipt(ctx, row.LatticeID)
		if err != nil {
			return err
		}
		sigs = append(sigs, rec.StateSig)
	}

	root, err := canon.MerkleRoot(sigs, s.cfgHash)
	if err != nil {
		return err
	}
	leaves := append([]string{}, sigs...)
	sort.Strings(leaves)
	leaves = append(leaves, s.cfgHash)

	rec := receipt.DB{
		Version:      ReceiptVersion,
		DBRoot:       root,
		ConfigHash:   s.cfgHash,
		LatticeCount: len(sigs),
		Leaves:       leaves,
	}
	data, err := canon.JSON(rec)
	if err != nil {
		return err
	}
	if err := atomicWriteFile(s.dbReceiptPath(), data); err != nil {
		return err
	}
	s.fireSealHooks()
	return nil
}

// DBReceipt reads the current database receipt.
func (s *Store) DBReceipt() (*receipt.DB, error) {
	data, err := os.ReadFile(s.dbReceiptPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: db receipt", ErrNotFound)
		}
		return nil, fmt.Errorf("read db receipt: %w", err)
	}
	var rec receipt.DB
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: parse db receipt: %v", ErrIntegrity, err)
	}
	return &rec, nil
}

// LatticeDir resolves the sealed directory of a lattice.
func (s *Store) LatticeDir(ctx context.Context, latticeID string) (string, error) {
	var groupID string
	err := s.manifest.QueryRowContext(ctx, "SELECT group_id FROM manifest WHERE lattice_id = ?", latticeID).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: lattice %s", ErrNotFound, latticeID)
	}
	if err != nil {
		return "", fmt.Errorf("lookup lattice: %w", err)
	}
	return filepath.Join(s.root, "groups", groupID, latticeID), nil
}

// LatticeReceipt reads the sealed receipt of a lattice.
func (s *Store) LatticeReceipt(ctx context.Context, latticeID string) (*receipt.Lattice, error) {
	dir, err := s.LatticeDir(ctx, latticeID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "receipt.json"))
	if err != nil {
		return nil, fmt.Errorf("read receipt: %w", err)
	}
	var rec receipt.Lattice
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: parse receipt: %v", ErrIntegrity, err)
	}
	return &rec, nil
}

// ReadUStar reads the solved positions of a sealed lattice.
func (s *Store) ReadUStar(ctx context.Context, latticeID string) ([][]float64, error) {
	dir, err := s.LatticeDir(ctx, latticeID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "ustar.f32"))
	if err != nil {
		return nil, fmt.Errorf("read ustar: %w", err)
	}
	return vectors.UnpackRows(data, s.att.Dim)
}

// ReadChunks reads the chunk records of a sealed lattice.
func (s *Store) ReadChunks(ctx context.Context, latticeID string) ([]types.Chunk, error) {
	dir, err := s.LatticeDir(ctx, latticeID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "chunks.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	var chunks []types.Chunk
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var c types.Chunk
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, fmt.Errorf("%w: parse chunk: %v", ErrIntegrity, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Manifest lists manifest rows with filters, sorting, and paging, with the
// display-name overlay applied.
func (s *Store) Manifest(ctx context.Context, f ManifestFilter) ([]types.ManifestRow, error) {
	rows, err := queryManifest(ctx, s.manifest, f)
	if err != nil {
		return nil, err
	}
	names, err := s.DisplayNames()
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].DisplayName = names[rows[i].LatticeID]
	}
	return rows, nil
}

// Rows returns all manifest rows through a TTL cache. The cache is
// invalidated on every seal.
func (s *Store) Rows(ctx context.Context) ([]types.ManifestRow, error) {
	s.cacheMu.Lock()
	if s.cachedRows != nil && time.Since(s.cachedAt) < s.ttl {
		rows := s.cachedRows
		s.cacheMu.Unlock()
		return rows, nil
	}
	s.cacheMu.Unlock()

	rows, err := queryManifest(ctx, s.manifest, ManifestFilter{})
	if err != nil {
		return nil, err
	}
	s.cacheMu.Lock()
	s.cachedRows = rows
	s.cachedAt = time.Now()
	s.cacheMu.Unlock()
	return rows, nil
}

func (s *Store) invalidateManifestCache() {
	s.cacheMu.Lock()
	s.cachedRows = nil
	s.cacheMu.Unlock()
}

// RouterMeta returns the router meta rows in centroid-table order.
func (s *Store) RouterMeta(ctx context.Context) ([]RouterRow, error) {
	return queryRouterMeta(ctx, s.meta)
}

// Verify runs the verification protocol for a composite receipt against the
// stored database receipt.
func (s *Store) Verify(comp *receipt.Composite, witnesses []receipt.Lattice) (receipt.VerifyResult, error) {
	db, err := s.DBReceipt()
	if err != nil {
		return receipt.VerifyResult{}, err
	}
	return receipt.VerifyComposite(comp, witnesses, db)
}
