package middleware

import (
	"bytes"
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	id := strings.Repeat("ab", 16)
	tests := map[string]string{
		"/health/live":                        "/health/live",
		"/metrics":                            "/metrics",
		"/api/v1/files":                       "/api/v1/files",
		"/api/v1/files/" + id:                 "/api/v1/files/{id}",
		"/api/v1/files/" + id + "/download":   "/api/v1/files/{id}/download",
		"/api/v1/admin/files/" + id:           "/api/v1/admin/files/{id}",
		"/api/v1/admin/stats":                 "/api/v1/admin/stats",
		"/api/v1/admin/maintenance/reconcile": "/api/v1/admin/maintenance/reconcile",
		"/wp-login.php":                       "other",
		"/api/v1/files/":                      "other",
	}
	for in, want := range tests {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", in, got, want)
		}
	}
}

func TestRequestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	for status, level := range map[int]string{200: "INFO", 404: "WARN", 500: "ERROR"} {
		buf.Reset()
		h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("body"))
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/files/"+strings.Repeat("0", 32), nil))

		out := buf.String()
		if !strings.Contains(out, "level="+level) {
			t.Errorf("статус %d: ожидался уровень %s, лог: %s", status, level, out)
		}
		if strings.Contains(out, strings.Repeat("0", 32)) {
			t.Errorf("identifier попал в лог: %s", out)
		}
		if !strings.Contains(out, "bytes=4") {
			t.Errorf("размер ответа не залогирован: %s", out)
		}
	}
}

func TestRequestLogger_HealthAndImplicitStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if out := buf.String(); !strings.Contains(out, "level=DEBUG") || !strings.Contains(out, "status=200") {
		t.Errorf("проба здоровья: %s", out)
	}

	// Повторный WriteHeader не меняет записанный код
	buf.Reset()
	h = RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if out := buf.String(); !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "status=503") {
		t.Errorf("неготовность: %s", out)
	}
}

func TestMetricsMiddleware_PassesThrough(t *testing.T) {
	h := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/files", nil))
	if rec.Code != http.StatusCreated {
		t.Errorf("статус = %d, ожидался 201", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("нет X-Content-Type-Options: nosniff")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("нет X-Frame-Options: DENY")
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS не должен выставляться без TLS")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS должен выставляться для TLS")
	}
}
