// handler.go — APIHandler собирает доменные handlers и регистрирует
// маршруты HTTP API на chi-роутере.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"

	apierrors "github.com/bigkaa/goartstore/share-module/internal/api/errors"
	"github.com/bigkaa/goartstore/share-module/internal/api/middleware"
)

// APIHandler — единая точка регистрации всех endpoints.
type APIHandler struct {
	files       *FilesHandler
	admin       *AdminHandler
	maintenance *MaintenanceHandler
	health      *HealthHandler
	adminAuth   *middleware.AdminAuth
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	files *FilesHandler,
	admin *AdminHandler,
	maintenance *MaintenanceHandler,
	health *HealthHandler,
	adminAuth *middleware.AdminAuth,
) *APIHandler {
	return &APIHandler{
		files:       files,
		admin:       admin,
		maintenance: maintenance,
		health:      health,
		adminAuth:   adminAuth,
	}
}

// Mount регистрирует маршруты на роутере.
func (h *APIHandler) Mount(r chi.Router) {
	// --- Health ---
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)

	// --- Публичные файловые операции ---
	r.Route("/api/v1/files", func(r chi.Router) {
		r.Post("/", h.files.UploadFile)
		r.Get("/{id}", h.files.GetFileInfo)
		r.Get("/{id}/download", h.files.DownloadFile)
		r.Post("/{id}/download", h.files.DownloadFile)
	})

	// --- Администрирование ---
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(gzipMiddleware)
		r.Post("/login", h.admin.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.adminGuard())
			r.Get("/files", h.admin.ListFiles)
			r.Delete("/files/{id}", h.admin.DeleteFile)
			r.Get("/stats", h.admin.GetStats)
			r.Post("/maintenance/reconcile", h.maintenance.Reconcile)
			r.Post("/maintenance/purge", h.maintenance.Purge)
		})
	})
}

// adminGuard возвращает JWT middleware или, если проверка токенов
// не настроена, middleware с ответом 503.
func (h *APIHandler) adminGuard() func(http.Handler) http.Handler {
	if h.adminAuth != nil && h.adminAuth.Enabled() {
		return h.adminAuth.Middleware()
	}
	return func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			apierrors.AdminDisabled(w)
		})
	}
}

// gzipMiddleware сжимает ответы для клиентов с Accept-Encoding: gzip.
func gzipMiddleware(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
