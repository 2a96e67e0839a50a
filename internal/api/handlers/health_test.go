package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubMetadata struct {
	status string
}

func (s stubMetadata) CheckReady() (string, string) {
	return s.status, "stub"
}

type stubWritable struct {
	err error
}

func (s stubWritable) CheckWritable() error {
	return s.err
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil, nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидался 200", rec.Code)
	}
	var body map[string]any
	decodeJSON(t, rec, &body)
	if body["status"] != "ok" || body["service"] != "share-module" {
		t.Errorf("тело = %v", body)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name     string
		metadata MetadataReadinessChecker
		blobs    WritableChecker
		want     int
	}{
		{"всё доступно", stubMetadata{"ok"}, stubWritable{}, http.StatusOK},
		{"база недоступна", stubMetadata{"fail"}, stubWritable{}, http.StatusServiceUnavailable},
		{"диск недоступен", stubMetadata{"ok"}, stubWritable{errors.New("read-only")}, http.StatusServiceUnavailable},
		{"не настроено", nil, nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.metadata, tt.blobs)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.want {
				t.Errorf("статус = %d, ожидался %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestHealthReady_RealStores(t *testing.T) {
	s := setupServer(t, serverOptions{})
	rec := s.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("статус = %d, ожидался 200: %s", rec.Code, rec.Body.String())
	}
}
