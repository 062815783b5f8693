// Package client is a small Go SDK for the LatticeDB HTTP API. It mirrors
// the transport-neutral operations: ingest, route, compose, verify, receipts,
// and manifest listing.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	// Tenant and Roles are sent as capability claim headers on every call.
	Tenant string
	Roles  []string
	// Timeout bounds each request; zero means 30s.
	Timeout time.Duration
	// HTTPClient overrides the transport; mainly for tests.
	HTTPClient *http.Client
}

// Client talks to one LatticeDB server.
type Client struct {
	config Config
	http   *http.Client
}

// New creates a client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &Client{config: config, http: httpClient}, nil
}

// APIError is a non-2xx response, carrying the RFC-7807 problem fields.
type APIError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("latticedb: %d %s: %s", e.Status, e.Title, e.Detail)
}

// Chunk mirrors the server's chunk payload.
type Chunk struct {
	LocalIndex int    `json:"i"`
	Text       string `json:"text"`
	File       string `json:"file,omitempty"`
}

// IngestRequest mirrors POST /api/v1/ingest.
type IngestRequest struct {
	GroupID    string      `json:"group_id,omitempty"`
	Chunks     []Chunk     `json:"chunks"`
	Vectors    [][]float32 `json:"vectors,omitempty"`
	ACLTenants []string    `json:"acl_tenants,omitempty"`
	ACLRoles   []string    `json:"acl_roles,omitempty"`
	ACLPublic  *bool       `json:"acl_public,omitempty"`
}

// LatticeReceipt is the sealed per-lattice receipt.
type LatticeReceipt struct {
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

// IngestResult is the ingest response.
type IngestResult struct {
	Receipt *LatticeReceipt `json:"receipt"`
	DBRoot  string          `json:"db_root"`
}

// Candidate is one routing result.
type Candidate struct {
	LatticeID string  `json:"lattice_id"`
	Score     float64 `json:"score"`
}

// CompositeReceipt is the per-query receipt.
type CompositeReceipt struct {
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

// ContextItem is one entry of a context pack.
type ContextItem struct {
	LatticeID    string  `json:"lattice_id"`
	GroupID      string  `json:"group_id"`
	SourceFile   string  `json:"source_file,omitempty"`
	DisplayName  string  `json:"display_name,omitempty"`
	Score        float64 `json:"score"`
	Contribution float64 `json:"contribution"`
	Snippet      string  `json:"snippet,omitempty"`
}

// ComposeResult is the compose response.
type ComposeResult struct {
	Pack *struct {
		Items []ContextItem `json:"items"`
	} `json:"context_pack"`
	Receipt *CompositeReceipt `json:"composite_receipt"`
	Abstain bool              `json:"abstain,omitempty"`
	Reason  string            `json:"reason,omitempty"`
}

// VerifyResult is the verification outcome.
type VerifyResult struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason"`
}

// DBReceipt is the database attestation.
type DBReceipt struct {
	Version      string   `json:"version"`
	DBRoot       string   `json:"db_root"`
	ConfigHash   string   `json:"config_hash"`
	LatticeCount int      `json:"lattice_count"`
	Leaves       []string `json:"leaves,omitempty"`
}

// ManifestRow is one manifest listing entry.
type ManifestRow struct {
	GroupID     string `json:"group_id"`
	LatticeID   string `json:"lattice_id"`
	EdgeHash    string `json:"edge_hash"`
	DeltaHTotal string `json:"deltaH_total"`
	CreatedAt   string `json:"created_at"`
	SourceFile  string `json:"source_file"`
	ChunkCount  int    `json:"chunk_count"`
	StateSig    string `json:"state_sig"`
	DisplayName string `json:"display_name,omitempty"`
}

// Ingest seals one lattice.
func (c *Client) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	var out IngestResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/ingest", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Route returns candidate lattices for a query vector or text.
func (c *Client) Route(ctx context.Context, vector []float32, q string, k int) ([]Candidate, error) {
	req := map[string]any{"k": k}
	if vector != nil {
		req["vector"] = vector
	}
	if q != "" {
		req["q"] = q
	}
	var out struct {
		Candidates []Candidate `json:"candidates"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/route", req, &out); err != nil {
		return nil, err
	}
	return out.Candidates, nil
}

// ComposeOptions tune a compose call.
type ComposeOptions struct {
	Epsilon float64 `json:"epsilon,omitempty"`
	Tau     float64 `json:"tau,omitempty"`
	KC      int     `json:"k_c,omitempty"`
}

// Compose settles the selected lattices against the query.
func (c *Client) Compose(ctx context.Context, vector []float32, q string, latticeIDs []string, opts ComposeOptions) (*ComposeResult, error) {
	req := map[string]any{
		"lattice_ids": latticeIDs,
		"epsilon":     opts.Epsilon,
		"tau":         opts.Tau,
	}
	if opts.KC > 0 {
		req["k_c"] = opts.KC
	}
	if vector != nil {
		req["vector"] = vector
	}
	if q != "" {
		req["q"] = q
	}
	var out ComposeResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/compose", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify checks a composite receipt, optionally with witnesses.
func (c *Client) Verify(ctx context.Context, composite *CompositeReceipt, witnesses []LatticeReceipt) (*VerifyResult, error) {
	req := map[string]any{"composite": composite}
	if len(witnesses) > 0 {
		req["witnesses"] = witnesses
	}
	var out VerifyResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/verify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDBReceipt fetches the current database receipt.
func (c *Client) GetDBReceipt(ctx context.Context) (*DBReceipt, error) {
	var out DBReceipt
	if err := c.do(ctx, http.MethodGet, "/api/v1/db-receipt", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetManifest lists manifest rows.
func (c *Client) GetManifest(ctx context.Context, groupID string, limit, offset int) ([]ManifestRow, error) {
	params := url.Values{}
	if groupID != "" {
		params.Set("group_id", groupID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/manifest"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out struct {
		Rows []ManifestRow `json:"rows"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// SetDisplayName sets the non-attested display name of a lattice.
func (c *Client) SetDisplayName(ctx context.Context, latticeID, name string) error {
	return c.do(ctx, http.MethodPatch, "/api/v1/lattices/"+latticeID+"/display-name",
		map[string]string{"display_name": name}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Tenant != "" {
		req.Header.Set("X-Lattice-Tenant", c.config.Tenant)
	}
	if len(c.config.Roles) > 0 {
		req.Header.Set("X-Lattice-Roles", strings.Join(c.config.Roles, ","))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
