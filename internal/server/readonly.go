package server

import "net/http"

// ReadOnlyMiddleware rejects mutating requests with 405 Method Not Allowed.
// It backs server.read_only, which serves the device table without
// allowing identity mappings to be changed over HTTP.
func ReadOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
		default:
			w.Header().Set("Allow", "GET, HEAD, OPTIONS")
			problem(w, ProblemTypeReadOnly, http.StatusMethodNotAllowed, "server is read-only", r.URL.Path)
		}
	})
}
