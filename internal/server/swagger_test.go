package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "github.com/HerbHall/apwatch/api/swagger"
	"go.uber.org/zap"
)

func TestSwaggerUI_ServesDoc(t *testing.T) {
	srv := New("127.0.0.1:0", &mockPluginSource{}, zap.NewNop(), nil, nil, Options{}, SwaggerUI{})

	req := httptest.NewRequest(http.MethodGet, "/swagger/doc.json", http.NoBody)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if csp := rec.Header().Get("Content-Security-Policy"); csp != swaggerCSP {
		t.Errorf("CSP = %q, want the swagger policy", csp)
	}
	body := rec.Body.String()
	for _, want := range []string{`"title": "apwatch API"`, "/tracker/associate", "models.MergedDevice"} {
		if !strings.Contains(body, want) {
			t.Errorf("doc.json missing %q", want)
		}
	}
}

func TestSwaggerUI_NotMountedByDefault(t *testing.T) {
	srv := New("127.0.0.1:0", &mockPluginSource{}, zap.NewNop(), nil, nil, Options{})

	req := httptest.NewRequest(http.MethodGet, "/swagger/doc.json", http.NoBody)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
