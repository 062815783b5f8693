package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Maverick0351a/latticedb/internal/compose"
	"github.com/Maverick0351a/latticedb/internal/embedding"
	"github.com/Maverick0351a/latticedb/internal/ingest"
	"github.com/Maverick0351a/latticedb/internal/router"
	"github.com/Maverick0351a/latticedb/internal/store"
	"github.com/Maverick0351a/latticedb/internal/types"
	"github.com/Maverick0351a/latticedb/internal/validation"
)

// Handler implements the API handlers
type Handler struct {
	store    *store.Store
	router   *router.Router
	settler  *compose.Settler
	ingestor *ingest.Ingestor
	embedder embedding.Embedder
	apiKey   string
	version  string
	routeK   int
}

// NewHandler wires the handlers to one store and its query components.
func NewHandler(s *store.Store, r *router.Router, settler *compose.Settler, ing *ingest.Ingestor, e embedding.Embedder, apiKey, version string, routeK int) *Handler {
	return &Handler{
		store:    s,
		router:   r,
		settler:  settler,
		ingestor: ing,
		embedder: e,
		apiKey:   apiKey,
		version:  version,
		routeK:   routeK,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Version: h.version}
	if db, err := h.store.DBReceipt(); err == nil {
		resp.DBRoot = db.DBRoot
	}
	writeJSON(w, resp)
}

// Ready runs the store readiness checks; failures return 503 with the
// per-check report.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	report := h.store.Ready(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !report.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		slog.Error("failed to encode readiness report", "error", err)
	}
}

// Ingest handles POST /api/v1/ingest
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	var c validation.Collector
	c.Add(validation.ValidateGroupID("group_id", req.GroupID))
	if len(req.Chunks) == 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields",
			[]validation.ValidationError{{Field: "chunks", Message: "must not be empty"}})
		return
	}
	for i, chunk := range req.Chunks {
		c.Add(validation.ValidateText(fmt.Sprintf("chunks[%d].text", i), chunk.Text))
	}
	if req.Vectors != nil {
		if len(req.Vectors) != len(req.Chunks) {
			c.Add(&validation.ValidationError{Field: "vectors", Message: "must match chunk count"})
		} else {
			dim := h.store.Attested().Dim
			for i, v := range req.Vectors {
				c.Add(validation.ValidateVector(fmt.Sprintf("vectors[%d]", i), v, dim))
			}
		}
	}
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	ingReq := ingest.Request{
		GroupID:    req.GroupID,
		Chunks:     req.Chunks,
		Vectors:    req.Vectors,
		ACLTenants: req.ACLTenants,
		ACLRoles:   req.ACLRoles,
		ACLPublic:  req.ACLPublic,
	}
	if req.Source != nil {
		ingReq.Source = *req.Source
	}

	rec, err := h.ingestor.Ingest(r.Context(), ingReq)
	if err != nil {
		slog.Error("ingest failed", "error", err, "group_id", req.GroupID)
		MapError(w, r, err)
		return
	}

	db, err := h.store.DBReceipt()
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, IngestResponse{Receipt: rec, DBRoot: db.DBRoot})
}

// Route handles POST /api/v1/route
func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	vector, ok := h.queryVector(w, r, req.Vector, req.Q)
	if !ok {
		return
	}
	k := req.K
	if k == 0 {
		k = h.routeK
	}

	candidates, err := h.router.Route(r.Context(), vector, k, ClaimsFromContext(r.Context()))
	if err != nil {
		MapError(w, r, err)
		return
	}
	if candidates == nil {
		candidates = []types.Candidate{}
	}
	writeJSON(w, RouteResponse{Candidates: candidates})
}

// Compose handles POST /api/v1/compose
func (h *Handler) Compose(w http.ResponseWriter, r *http.Request) {
	var req ComposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if len(req.LatticeIDs) == 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields",
			[]validation.ValidationError{{Field: "lattice_ids", Message: "must not be empty"}})
		return
	}
	var c validation.Collector
	for i, id := range req.LatticeIDs {
		c.Add(validation.ValidateLatticeID(fmt.Sprintf("lattice_ids[%d]", i), id))
	}
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	vector, ok := h.queryVector(w, r, req.Vector, req.Q)
	if !ok {
		return
	}

	res, err := h.settler.Compose(r.Context(), vector, req.LatticeIDs, compose.Options{
		Epsilon: req.Epsilon,
		Tau:     req.Tau,
		KC:      req.KC,
		LambdaG: req.LambdaG,
		LambdaC: req.LambdaC,
		LambdaQ: req.LambdaQ,
		Claims:  ClaimsFromContext(r.Context()),
	})
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// Verify handles POST /api/v1/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if req.Composite == nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields",
			[]validation.ValidationError{{Field: "composite", Message: "must be present"}})
		return
	}

	res, err := h.store.Verify(req.Composite, req.Witnesses)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// DBReceipt handles GET /api/v1/db-receipt
func (h *Handler) DBReceipt(w http.ResponseWriter, r *http.Request) {
	db, err := h.store.DBReceipt()
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, db)
}

// Manifest handles GET /api/v1/manifest
func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := 0, 0
	var c validation.Collector
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.Add(&validation.ValidationError{Field: "limit", Message: "must be an integer"})
		} else {
			limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.Add(&validation.ValidationError{Field: "offset", Message: "must be an integer"})
		} else {
			offset = n
		}
	}
	validation.ValidatePaging(&c, limit, offset)
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	rows, err := h.store.Manifest(r.Context(), store.ManifestFilter{
		GroupID:        q.Get("group_id"),
		SourceContains: q.Get("source"),
		CreatedAfter:   q.Get("created_after"),
		CreatedBefore:  q.Get("created_before"),
		SortBy:         q.Get("sort"),
		Descending:     q.Get("order") == "desc",
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		MapError(w, r, err)
		return
	}
	if rows == nil {
		rows = []types.ManifestRow{}
	}
	writeJSON(w, ManifestResponse{Rows: rows})
}

// SetDisplayName handles PATCH /api/v1/lattices/{latticeID}/display-name
func (h *Handler) SetDisplayName(w http.ResponseWriter, r *http.Request) {
	latticeID := chi.URLParam(r, "latticeID")
	if err := validation.ValidateLatticeID("lattice_id", latticeID); err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*err})
		return
	}

	var req DisplayNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if err := h.store.SetDisplayName(r.Context(), latticeID, req.DisplayName); err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

// queryVector resolves the query vector: supplied directly or embedded from
// text. Writes the problem response itself on failure.
func (h *Handler) queryVector(w http.ResponseWriter, r *http.Request, vector []float32, q string) ([]float32, bool) {
	if vector != nil {
		return vector, true
	}
	if q == "" {
		WriteProblemWithErrors(w, r, "Request contains invalid fields",
			[]validation.ValidationError{{Field: "vector", Message: "either vector or q must be set"}})
		return nil, false
	}
	if h.embedder == nil {
		WriteProblem(w, r, http.StatusUnprocessableEntity, "No embedder configured for text queries")
		return nil, false
	}
	v, err := h.embedder.Embed(r.Context(), q)
	if err != nil {
		slog.Error("query embedding failed", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Embedding service unavailable")
		return nil, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
