package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	manifestmigrations "github.com/Maverick0351a/latticedb/migrations/manifest"
	routermigrations "github.com/Maverick0351a/latticedb/migrations/routermeta"

	"github.com/Maverick0351a/latticedb/internal/types"
)

func openSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return db, nil
}

// openManifestDB opens manifest.sqlite and applies its migrations.
func openManifestDB(path string) (*sql.DB, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(manifestmigrations.FS)
	if err := goose.SetDialect("sqlite"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("run manifest migrations: %w", err)
	}
	return db, nil
}

// openRouterMetaDB opens router/meta.sqlite and applies its migrations.
func openRouterMetaDB(path string) (*sql.DB, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(routermigrations.FS)
	if err := goose.SetDialect("sqlite"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("run router meta migrations: %w", err)
	}
	return db, nil
}

func encodeStrings(v []string) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeStrings(v sql.NullString) ([]string, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeBoolPtr(v *bool) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	var n int64
	if *v {
		n = 1
	}
	return sql.NullInt64{Int64: n, Valid: true}
}

func decodeBoolPtr(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 != 0
	return &b
}

func insertManifestRow(ctx context.Context, db *sql.DB, row types.ManifestRow) error {
	tenants, err := encodeStrings(row.ACLTenants)
	if err != nil {
		return fmt.Errorf("encode acl_tenants: %w", err)
	}
	roles, err := encodeStrings(row.ACLRoles)
	if err != nil {
		return fmt.Errorf("encode acl_roles: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO manifest (
			group_id, lattice_id, edge_hash, deltah_total, created_at,
			source_file, source_relpath, chunk_count, file_bytes,
			file_sha256, state_sig, acl_tenants, acl_roles, acl_public
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.GroupID, row.LatticeID, row.EdgeHash, row.DeltaHTotal, row.CreatedAt,
		row.SourceFile, row.SourceRelPath, row.ChunkCount, row.FileBytes,
		row.FileSHA256, row.StateSig, tenants, roles, encodeBoolPtr(row.ACLPublic),
	)
	if err != nil {
		return fmt.Errorf("insert manifest row: %w", err)
	}
	return nil
}

func insertRouterMetaRow(ctx context.Context, db *sql.DB, row types.ManifestRow) error {
	tenants, err := encodeStrings(row.ACLTenants)
	if err != nil {
		return fmt.Errorf("encode acl_tenants: %w", err)
	}
	roles, err := encodeStrings(row.ACLRoles)
	if err != nil {
		return fmt.Errorf("encode acl_roles: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO router_meta (lattice_id, group_id, acl_tenants, acl_roles, acl_public)
		VALUES (?, ?, ?, ?, ?)`,
		row.LatticeID, row.GroupID, tenants, roles, encodeBoolPtr(row.ACLPublic),
	)
	if err != nil {
		return fmt.Errorf("insert router meta row: %w", err)
	}
	return nil
}

const manifestColumns = `
	group_id, lattice_id, edge_hash, deltah_total, created_at,
	source_file, source_relpath, chunk_count, file_bytes,
	file_sha256, state_sig, acl_tenants, acl_roles, acl_public`

func scanManifestRow(scanner interface{ Scan(...any) error }) (types.ManifestRow, error) {
	var row types.ManifestRow
	var tenants, roles sql.NullString
	var public sql.NullInt64
	err := scanner.Scan(
		&row.GroupID, &row.LatticeID, &row.EdgeHash, &row.DeltaHTotal, &row.CreatedAt,
		&row.SourceFile, &row.SourceRelPath, &row.ChunkCount, &row.FileBytes,
		&row.FileSHA256, &row.StateSig, &tenants, &roles, &public,
	)
	if err != nil {
		return row, err
	}
	if row.ACLTenants, err = decodeStrings(tenants); err != nil {
		return row, fmt.Errorf("decode acl_tenants: %w", err)
	}
	if row.ACLRoles, err = decodeStrings(roles); err != nil {
		return row, fmt.Errorf("decode acl_roles: %w", err)
	}
	row.ACLPublic = decodeBoolPtr(public)
	return row, nil
}

// ManifestFilter selects and orders manifest rows.
type ManifestFilter struct {
	GroupID        string
	SourceContains string
	CreatedAfter   string
	CreatedBefore  string
	SortBy         string // "created_at" (default) or "lattice_id"
	Descending     bool
	Limit          int
	Offset         int
}

func queryManifest(ctx context.Context, db *sql.DB, f ManifestFilter) ([]types.ManifestRow, error) {
	var where []string
	var args []any
	if f.GroupID != "" {
		where = append(where, "group_id = ?")
		args = append(args, f.GroupID)
	}
	if f.SourceContains != "" {
		where = append(where, "(source_file LIKE ? OR source_relpath LIKE ?)")
		pat := "%" + f.SourceContains + "%"
		args = append(args, pat, pat)
	}
	if f.CreatedAfter != "" {
		where = append(where, "created_at >= ?")
		args = append(args, f.CreatedAfter)
	}
	if f.CreatedBefore != "" {
		where = append(where, "created_at <= ?")
		args = append(args, f.CreatedBefore)
	}

	q := "SELECT " + manifestColumns + " FROM manifest"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	sortCol := "id"
	switch f.SortBy {
	case "", "created_at":
		sortCol = "id" // id order equals creation order
	case "lattice_id":
		sortCol = "lattice_id"
	default:
		return nil, fmt.Errorf("unknown sort column %q", f.SortBy)
	}
	q += " ORDER BY " + sortCol
	if f.Descending {
		q += " DESC"
	}
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, f.Offset)
		}
	} else if f.Offset > 0 {
		q += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query manifest: %w", err)
	}
	defer rows.Close()

	var out []types.ManifestRow
	for rows.Next() {
		row, err := scanManifestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// RouterRow is one router meta row in centroid-table order.
type RouterRow struct {
	LatticeID  string
	GroupID    string
	ACLTenants []string
	ACLRoles   []string
	ACLPublic  *bool
}

func queryRouterMeta(ctx context.Context, db *sql.DB) ([]RouterRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT lattice_id, group_id, acl_tenants, acl_roles, acl_public
		FROM router_meta ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query router meta: %w", err)
	}
	defer rows.Close()

	var out []RouterRow
	for rows.Next() {
		var row RouterRow
		var tenants, roles sql.NullString
		var public sql.NullInt64
		if err := rows.Scan(&row.LatticeID, &row.GroupID, &tenants, &roles, &public); err != nil {
			return nil, err
		}
		if row.ACLTenants, err = decodeStrings(tenants); err != nil {
			return nil, fmt.Errorf("decode acl_tenants: %w", err)
		}
		if row.ACLRoles, err = decodeStrings(roles); err != nil {
			return nil, fmt.Errorf("decode acl_roles: %w", err)
		}
		row.ACLPublic = decodeBoolPtr(public)
		out = append(out, row)
	}
	return out, rows.Err()
}
