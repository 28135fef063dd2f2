package server

import (
	"encoding/json"
	"net/http"
)

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound     = "https://apwatch.dev/problems/not-found"
	ProblemTypeBadRequest   = "https://apwatch.dev/problems/bad-request"
	ProblemTypeInternal     = "https://apwatch.dev/problems/internal-error"
	ProblemTypeUnauthorized = "https://apwatch.dev/problems/unauthorized"
	ProblemTypeForbidden    = "https://apwatch.dev/problems/forbidden"
	ProblemTypeRateLimited  = "https://apwatch.dev/problems/rate-limited"
	ProblemTypeConflict     = "https://apwatch.dev/problems/conflict"
	ProblemTypeUnavailable  = "https://apwatch.dev/problems/unavailable"
	ProblemTypeReadOnly     = "https://apwatch.dev/problems/read-only"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type" example:"https://apwatch.dev/problems/bad-request"`
	Title    string `json:"title" example:"Bad Request"`
	Status   int    `json:"status" example:"400"`
	Detail   string `json:"detail,omitempty" example:"invalid MAC address"`
	Instance string `json:"instance,omitempty" example:"/api/v1/tracker/associate"`
}

// WriteProblem writes an RFC 7807 Problem Details JSON response.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func problem(w http.ResponseWriter, typ string, status int, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     typ,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// NotFound writes a 404 problem response.
func NotFound(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeNotFound, http.StatusNotFound, detail, instance)
}

// BadRequest writes a 400 problem response.
func BadRequest(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeBadRequest, http.StatusBadRequest, detail, instance)
}

// Conflict writes a 409 problem response.
func Conflict(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeConflict, http.StatusConflict, detail, instance)
}

// Unauthorized writes a 401 problem response with a bearer challenge.
func Unauthorized(w http.ResponseWriter, detail, instance string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="apwatch"`)
	problem(w, ProblemTypeUnauthorized, http.StatusUnauthorized, detail, instance)
}

// Forbidden writes a 403 problem response.
func Forbidden(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeForbidden, http.StatusForbidden, detail, instance)
}

// InternalError writes a 500 problem response.
func InternalError(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeInternal, http.StatusInternalServerError, detail, instance)
}

// Unavailable writes a 503 problem response.
func Unavailable(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeUnavailable, http.StatusServiceUnavailable, detail, instance)
}

// RateLimited writes a 429 problem response.
func RateLimited(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeRateLimited, http.StatusTooManyRequests, detail, instance)
}
