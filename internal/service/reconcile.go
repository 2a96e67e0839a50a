// reconcile.go — сверка хранилища метаданных и blob-хранилища.
//
// Проходы по порядку:
//   - expired: активные записи с истёкшим сроком → удалить blob, затем soft delete
//   - orphan: blob без записи (с учётом удалённых записей) → удалить blob
//   - missing: активная запись без blob-а → soft delete
//
// Дополнительно фиксируется size_mismatch (только отчёт) и удаляются
// устаревшие temp файлы прерванных записей.
//
// Ошибка по отдельному элементу логируется и учитывается в отчёте,
// сверка продолжается. Повторный запуск на неизменном состоянии
// ничего не меняет.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/share-module/internal/repository"
	"github.com/bigkaa/goartstore/share-module/internal/storage/blobstore"
)

// Prometheus-метрики сверки.
var (
	reconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_reconcile_runs_total",
		Help: "Общее количество запусков сверки.",
	}, []string{"mode"})

	reconcileActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_reconcile_actions_total",
		Help: "Результаты сверки по категориям.",
	}, []string{"category", "result"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sm_reconcile_duration_seconds",
		Help:    "Длительность сверки в секундах.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// Категории сверки.
const (
	CategoryExpired      = "expired"
	CategoryOrphan       = "orphan"
	CategoryMissing      = "missing"
	CategorySizeMismatch = "size_mismatch"
)

// staleTempAge — возраст temp файла, после которого запись считается прерванной.
const staleTempAge = time.Hour

// ReconcileOptions — параметры запуска сверки.
type ReconcileOptions struct {
	// DryRun — только отчёт, без изменений
	DryRun bool
	// Verbose — включать в отчёт список элементов
	Verbose bool
}

// ReconcileItem — элемент отчёта.
type ReconcileItem struct {
	Identifier   string `json:"identifier,omitempty"`
	StorageName  string `json:"storageName"`
	OriginalName string `json:"originalName,omitempty"`
	Error        string `json:"error,omitempty"`
}

// CategoryReport — итог по одной категории.
type CategoryReport struct {
	Found    int             `json:"found"`
	Resolved int             `json:"resolved"`
	Errors   int             `json:"errors"`
	Items    []ReconcileItem `json:"items,omitempty"`
}

// ReconcileReport — отчёт о сверке.
type ReconcileReport struct {
	RunID        string         `json:"runId"`
	DryRun       bool           `json:"dryRun"`
	StartedAt    time.Time      `json:"startedAt"`
	CompletedAt  time.Time      `json:"completedAt"`
	Expired      CategoryReport `json:"expired"`
	Orphans      CategoryReport `json:"orphans"`
	Missing      CategoryReport `json:"missing"`
	SizeMismatch CategoryReport `json:"sizeMismatch"`
	TempRemoved  int            `json:"tempRemoved"`
}

// HasErrors сообщает, были ли ошибки по элементам.
func (r *ReconcileReport) HasErrors() bool {
	return r.Expired.Errors+r.Orphans.Errors+r.Missing.Errors > 0
}

// ReconcileService — сервис сверки.
type ReconcileService struct {
	repo        repository.FileRepository
	blobs       *blobstore.Store
	cache       *CacheService
	interval    time.Duration
	orphanGrace time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис сверки.
// orphanGrace — минимальный возраст blob-а без записи, после
// которого он удаляется как сирота.
func NewReconcileService(
	repo repository.FileRepository,
	blobs *blobstore.Store,
	cache *CacheService,
	interval time.Duration,
	orphanGrace time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		repo:        repo,
		blobs:       blobs,
		cache:       cache,
		interval:    interval,
		orphanGrace: orphanGrace,
		logger:      logger.With(slog.String("component", "reconcile")),
		now:         time.Now,
	}
}

// Start запускает периодическую сверку. Нулевой интервал отключает её.
func (rs *ReconcileService) Start(ctx context.Context) {
	if rs.interval <= 0 {
		rs.logger.Info("Периодическая сверка отключена")
		return
	}
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Периодическая сверка запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает периодическую сверку.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
		rs.logger.Info("Периодическая сверка остановлена")
	}
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx, ReconcileOptions{})
		}
	}
}

// RunOnce выполняет одну сверку. Если сверка уже идёт, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context, opts ReconcileOptions) (*ReconcileReport, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	report := &ReconcileReport{
		RunID:     uuid.NewString(),
		DryRun:    opts.DryRun,
		StartedAt: rs.now().UTC(),
	}
	log := rs.logger.With(slog.String("run_id", report.RunID), slog.Bool("dry_run", opts.DryRun))
	log.Info("Сверка начата")

	rs.expiredPass(ctx, log, opts, report)
	rs.orphanPass(ctx, log, opts, report)
	rs.missingPass(ctx, log, opts, report)

	report.CompletedAt = rs.now().UTC()
	duration := report.CompletedAt.Sub(report.StartedAt)

	mode := "live"
	if opts.DryRun {
		mode = "dry_run"
	}
	reconcileRunsTotal.WithLabelValues(mode).Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	observeCategory(CategoryExpired, &report.Expired)
	observeCategory(CategoryOrphan, &report.Orphans)
	observeCategory(CategoryMissing, &report.Missing)
	observeCategory(CategorySizeMismatch, &report.SizeMismatch)

	log.Info("Сверка завершена",
		slog.Int("expired", report.Expired.Found),
		slog.Int("orphans", report.Orphans.Found),
		slog.Int("missing", report.Missing.Found),
		slog.Int("size_mismatch", report.SizeMismatch.Found),
		slog.Int("temp_removed", report.TempRemoved),
		slog.Int("errors", report.Expired.Errors+report.Orphans.Errors+report.Missing.Errors),
		slog.Duration("duration", duration),
	)
	return report, false
}

// expiredPass: удалить blob, затем пометить запись удалённой.
// Если blob удалить не удалось, запись остаётся активной до следующего запуска.
func (rs *ReconcileService) expiredPass(ctx context.Context, log *slog.Logger, opts ReconcileOptions, report *ReconcileReport) {
	cat := &report.Expired
	now := rs.now()

	expired, err := rs.repo.ListExpired(ctx, now)
	if err != nil {
		log.Error("Ошибка получения истёкших записей", slog.String("error", err.Error()))
		cat.Errors++
		return
	}

	for _, rec := range expired {
		cat.Found++
		item := ReconcileItem{Identifier: rec.Identifier, StorageName: rec.StorageName, OriginalName: rec.OriginalName}

		if !opts.DryRun {
			if err := rs.blobs.Delete(rec.StorageName); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
				log.Error("Ошибка удаления blob истёкшего файла",
					slog.String("identifier", rec.Identifier),
					slog.String("error", err.Error()),
				)
				cat.Errors++
				item.Error = err.Error()
				addItem(cat, opts, item)
				continue
			}
			rs.cache.Delete(rec.Identifier)
			if err := rs.repo.MarkDeleted(ctx, rec.Identifier, now); err != nil && !errors.Is(err, repository.ErrNotFound) {
				log.Error("Ошибка пометки истёкшего файла",
					slog.String("identifier", rec.Identifier),
					slog.String("error", err.Error()),
				)
				cat.Errors++
				item.Error = err.Error()
				addItem(cat, opts, item)
				continue
			}
			cat.Resolved++
		}
		addItem(cat, opts, item)
	}
}

// orphanPass удаляет blob-ы, которых нет среди storage names всех записей.
// Список диска читается раньше списка записей: blob, записанный позже,
// в выборку не попадает, а свежие сироты защищены orphanGrace.
func (rs *ReconcileService) orphanPass(ctx context.Context, log *slog.Logger, opts ReconcileOptions, report *ReconcileReport) {
	cat := &report.Orphans
	now := rs.now()

	onDisk, err := rs.blobs.ListAll()
	if err != nil {
		log.Error("Ошибка чтения blob-хранилища", slog.String("error", err.Error()))
		cat.Errors++
		return
	}
	known, err := rs.repo.ListAllStorageNames(ctx)
	if err != nil {
		log.Error("Ошибка получения storage names", slog.String("error", err.Error()))
		cat.Errors++
		return
	}

	for _, name := range onDisk {
		if _, ok := known[name]; ok {
			continue
		}
		if rs.orphanGrace > 0 {
			mod, err := rs.blobs.ModTime(name)
			if err != nil || now.Sub(mod) < rs.orphanGrace {
				continue
			}
		}

		cat.Found++
		item := ReconcileItem{StorageName: name}
		if !opts.DryRun {
			if err := rs.blobs.Delete(name); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
				log.Error("Ошибка удаления сироты",
					slog.String("storage_name", name),
					slog.String("error", err.Error()),
				)
				cat.Errors++
				item.Error = err.Error()
				addItem(cat, opts, item)
				continue
			}
			cat.Resolved++
		}
		addItem(cat, opts, item)
	}

	if !opts.DryRun {
		n, err := rs.blobs.RemoveStaleTemp(now.Add(-staleTempAge))
		if err != nil {
			log.Warn("Ошибка удаления temp файлов", slog.String("error", err.Error()))
		}
		report.TempRemoved = n
	}
}

// missingPass помечает удалёнными активные записи без blob-а.
func (rs *ReconcileService) missingPass(ctx context.Context, log *slog.Logger, opts ReconcileOptions, report *ReconcileReport) {
	cat := &report.Missing
	now := rs.now()

	refs, err := rs.repo.ListActiveNotDeleted(ctx)
	if err != nil {
		log.Error("Ошибка получения активных записей", slog.String("error", err.Error()))
		cat.Errors++
		return
	}

	for _, ref := range refs {
		size, err := rs.blobs.SizeOf(ref.StorageName)
		if err == nil {
			if size != ref.SizeBytes {
				report.SizeMismatch.Found++
				addItem(&report.SizeMismatch, opts, ReconcileItem{Identifier: ref.Identifier, StorageName: ref.StorageName})
			}
			continue
		}
		if !errors.Is(err, blobstore.ErrNotFound) && !errors.Is(err, blobstore.ErrInvalidName) {
			log.Warn("Ошибка проверки blob",
				slog.String("storage_name", ref.StorageName),
				slog.String("error", err.Error()),
			)
			continue
		}

		cat.Found++
		item := ReconcileItem{Identifier: ref.Identifier, StorageName: ref.StorageName}
		if !opts.DryRun {
			rs.cache.Delete(ref.Identifier)
			if err := rs.repo.MarkDeleted(ctx, ref.Identifier, now); err != nil && !errors.Is(err, repository.ErrNotFound) {
				log.Error("Ошибка пометки записи без blob",
					slog.String("identifier", ref.Identifier),
					slog.String("error", err.Error()),
				)
				cat.Errors++
				item.Error = err.Error()
				addItem(cat, opts, item)
				continue
			}
			cat.Resolved++
		}
		addItem(cat, opts, item)
	}
}

func addItem(cat *CategoryReport, opts ReconcileOptions, item ReconcileItem) {
	if opts.Verbose {
		cat.Items = append(cat.Items, item)
	}
}

func observeCategory(name string, cat *CategoryReport) {
	if cat.Found > 0 {
		reconcileActionsTotal.WithLabelValues(name, "found").Add(float64(cat.Found))
	}
	if cat.Resolved > 0 {
		reconcileActionsTotal.WithLabelValues(name, "resolved").Add(float64(cat.Resolved))
	}
	if cat.Errors > 0 {
		reconcileActionsTotal.WithLabelValues(name, "error").Add(float64(cat.Errors))
	}
}
