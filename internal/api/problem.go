package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Maverick0351a/latticedb/internal/acl"
	"github.com/Maverick0351a/latticedb/internal/spd"
	"github.com/Maverick0351a/latticedb/internal/store"
	"github.com/Maverick0351a/latticedb/internal/validation"
	"github.com/Maverick0351a/latticedb/internal/vectors"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusUnauthorized: {
		typeURI: "https://latticedb.dev/errors/unauthorized",
		title:   "Unauthorized",
	},
	http.StatusBadRequest: {
		typeURI: "https://latticedb.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: "https://latticedb.dev/errors/not-found",
		title:   "Not Found",
	},
	http.StatusForbidden: {
		typeURI: "https://latticedb.dev/errors/forbidden",
		title:   "Forbidden",
	},
	http.StatusInternalServerError: {
		typeURI: "https://latticedb.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
	http.StatusUnprocessableEntity: {
		typeURI: "https://latticedb.dev/errors/validation-error",
		title:   "Validation Error",
	},
	http.StatusServiceUnavailable: {
		typeURI: "https://latticedb.dev/errors/service-unavailable",
		title:   "Service Unavailable",
	},
	http.StatusTooManyRequests: {
		typeURI: "https://latticedb.dev/errors/busy",
		title:   "Too Many Requests",
	},
	http.StatusGatewayTimeout: {
		typeURI: "https://latticedb.dev/errors/deadline-exceeded",
		title:   "Deadline Exceeded",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = struct {
			typeURI string
			title   string
		}{
			typeURI: "https://latticedb.dev/errors/unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	pt := problemTypes[http.StatusUnprocessableEntity]

	p := ProblemWithErrors{
		Problem: Problem{
			Type:     pt.typeURI,
			Title:    pt.title,
			Status:   http.StatusUnprocessableEntity,
			Detail:   detail,
			Instance: r.URL.Path,
		},
		Errors: errs,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// MapError converts domain errors to Problem Details responses.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case errors.Is(err, acl.ErrMissingClaims):
		WriteProblem(w, r, http.StatusForbidden, "ACL claims required")
	case errors.Is(err, vectors.ErrDimMismatch):
		WriteProblem(w, r, http.StatusUnprocessableEntity, "Embedding dimension mismatch")
	case errors.Is(err, spd.ErrNonFinite):
		WriteProblem(w, r, http.StatusUnprocessableEntity, "Non-finite value in solve")
	case errors.Is(err, store.ErrBusy):
		WriteProblem(w, r, http.StatusTooManyRequests, "Write in progress, retry later")
	case errors.Is(err, context.DeadlineExceeded):
		WriteProblem(w, r, http.StatusGatewayTimeout, "Deadline exceeded")
	case errors.Is(err, store.ErrIntegrity):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Integrity violation detected")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
