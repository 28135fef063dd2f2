package server

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// swaggerCSP relaxes the API policy for the UI's bundled scripts and its
// inline bootstrap script.
const swaggerCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:"

// SwaggerUI serves the registered OpenAPI document and its browser UI at
// /swagger/. The document must be registered by importing api/swagger.
type SwaggerUI struct {
	Logger *zap.Logger
}

// RegisterRoutes implements SimpleRouteRegistrar.
func (s SwaggerUI) RegisterRoutes(mux *http.ServeMux) {
	ui := httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	)
	mux.HandleFunc("GET /swagger/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", swaggerCSP)
		ui.ServeHTTP(w, r)
	})
	if s.Logger != nil {
		s.Logger.Info("swagger UI enabled (dev_mode)", zap.String("path", "/swagger/"))
	}
}
