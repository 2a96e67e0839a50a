// maintenance.go — обработчики POST /api/v1/admin/maintenance/*.
// Делегирует сверку в ReconcileService, очистку в PurgeService.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/goartstore/share-module/internal/api/errors"
	"github.com/bigkaa/goartstore/share-module/internal/service"
)

// ReconcileRunner — запуск сверки.
// Позволяет тестировать handler без полного ReconcileService.
type ReconcileRunner interface {
	// RunOnce выполняет один цикл сверки.
	// Возвращает отчёт и флаг «пропущено, уже выполняется».
	RunOnce(ctx context.Context, opts service.ReconcileOptions) (*service.ReconcileReport, bool)
}

// PurgeRunner — запуск окончательной очистки удалённых записей.
type PurgeRunner interface {
	RunOnce(ctx context.Context, dryRun bool) (*service.PurgeReport, bool)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reconciler ReconcileRunner
	purger     PurgeRunner
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(reconciler ReconcileRunner, purger PurgeRunner) *MaintenanceHandler {
	return &MaintenanceHandler{reconciler: reconciler, purger: purger}
}

// Reconcile обрабатывает POST /api/v1/admin/maintenance/reconcile?dry_run=&verbose=.
// Если сверка уже выполняется, отвечает 409.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	dryRun, ok := queryBool(w, r, "dry_run")
	if !ok {
		return
	}
	verbose, ok := queryBool(w, r, "verbose")
	if !ok {
		return
	}

	report, skipped := h.reconciler.RunOnce(r.Context(), service.ReconcileOptions{
		DryRun:  dryRun,
		Verbose: verbose,
	})
	if skipped {
		apierrors.InProgress(w, "Сверка уже выполняется")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Purge обрабатывает POST /api/v1/admin/maintenance/purge?dry_run=.
func (h *MaintenanceHandler) Purge(w http.ResponseWriter, r *http.Request) {
	dryRun, ok := queryBool(w, r, "dry_run")
	if !ok {
		return
	}

	report, skipped := h.purger.RunOnce(r.Context(), dryRun)
	if skipped {
		apierrors.InProgress(w, "Очистка уже выполняется")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// queryBool читает необязательный логический параметр запроса.
func queryBool(w http.ResponseWriter, r *http.Request, name string) (bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		apierrors.ValidationError(w, "Параметр "+name+" должен быть true или false")
		return false, false
	}
	return v, true
}
