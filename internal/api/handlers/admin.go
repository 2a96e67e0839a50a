// admin.go — HTTP handlers административной панели.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/share-module/internal/api/errors"
	"github.com/bigkaa/goartstore/share-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/share-module/internal/service"
)

// maxLoginBody — предел тела запроса входа.
const maxLoginBody = 4 << 10

// loginRequest — тело POST /api/v1/admin/login.
type loginRequest struct {
	Password string `json:"password"`
}

// AdminHandler — обработчик административных endpoints.
type AdminHandler struct {
	admin  *service.AdminService
	auth   *service.AdminAuthService
	logger *slog.Logger
}

// NewAdminHandler создаёт обработчик административных endpoints.
func NewAdminHandler(admin *service.AdminService, auth *service.AdminAuthService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		auth:   auth,
		logger: logger.With(slog.String("component", "admin_handler")),
	}
}

// Login обрабатывает POST /api/v1/admin/login.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: ожидается JSON {\"password\": \"...\"}")
		return
	}

	token, err := h.auth.Login(req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, token)
	case errors.Is(err, service.ErrAdminDisabled):
		apierrors.AdminDisabled(w)
	case errors.Is(err, service.ErrInvalidCredentials):
		apierrors.Unauthorized(w, "Неверный пароль администратора")
	default:
		h.logger.Error("Ошибка выпуска токена", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось выпустить токен")
	}
}

// ListFiles обрабатывает GET /api/v1/admin/files?page=&per_page=.
func (h *AdminHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	page, ok := queryInt(w, r, "page")
	if !ok {
		return
	}
	perPage, ok := queryInt(w, r, "per_page")
	if !ok {
		return
	}

	result, err := h.admin.ListFiles(r.Context(), page, perPage)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetStats обрабатывает GET /api/v1/admin/stats.
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// DeleteFile обрабатывает DELETE /api/v1/admin/files/{id}.
func (h *AdminHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.admin.DeleteFile(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.logger.Info("Файл удалён администратором",
		slog.String("identifier", id),
		slog.String("subject", middleware.SubjectFromContext(r.Context())),
	)
	w.WriteHeader(http.StatusNoContent)
}

// queryInt читает необязательный целочисленный параметр запроса.
// Отсутствующий параметр даёт 0. При ошибке пишет 400 и возвращает false.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		apierrors.ValidationError(w, "Параметр "+name+" должен быть целым числом")
		return 0, false
	}
	return v, true
}
