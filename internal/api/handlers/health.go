// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/share-module/internal/config"
)

const (
	statusOK   = "ok"
	statusFail = "fail"
	// serviceName — имя сервиса в ответах health
	serviceName = "share-module"
)

// MetadataReadinessChecker — проверка готовности хранилища метаданных.
type MetadataReadinessChecker interface {
	CheckReady() (status string, message string)
}

// WritableChecker — проверка доступности директории данных на запись.
type WritableChecker interface {
	CheckWritable() error
}

// HealthHandler реализует /health/live и /health/ready.
type HealthHandler struct {
	version  string
	metadata MetadataReadinessChecker
	blobs    WritableChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(metadata MetadataReadinessChecker, blobs WritableChecker) *HealthHandler {
	return &HealthHandler{
		version:  config.Version,
		metadata: metadata,
		blobs:    blobs,
	}
}

// HealthLive обрабатывает GET /health/live.
// 200, если процесс жив. Зависимости не проверяются.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет хранилище метаданных и директорию данных.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := statusOK
	httpStatus := http.StatusOK

	metaCheck := h.checkMetadata()
	fsCheck := h.checkFilesystem()
	if metaCheck["status"] != statusOK || fsCheck["status"] != statusOK {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
		"checks": map[string]any{
			"metadata":   metaCheck,
			"filesystem": fsCheck,
		},
	})
}

func (h *HealthHandler) checkMetadata() map[string]any {
	if h.metadata == nil {
		return map[string]any{"status": statusFail, "message": "Хранилище метаданных не настроено"}
	}
	status, message := h.metadata.CheckReady()
	return map[string]any{"status": status, "message": message}
}

// checkFilesystem проверяет доступность директории данных на запись.
func (h *HealthHandler) checkFilesystem() map[string]any {
	if h.blobs == nil {
		return map[string]any{"status": statusFail, "message": "Директория данных не настроена"}
	}
	if err := h.blobs.CheckWritable(); err != nil {
		return map[string]any{"status": statusFail, "message": err.Error()}
	}
	return map[string]any{"status": statusOK}
}
