// purge.go — окончательное удаление soft-deleted записей
// по истечении срока хранения.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/share-module/internal/repository"
	"github.com/bigkaa/goartstore/share-module/internal/storage/blobstore"
)

var (
	purgeRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_purge_runs_total",
		Help: "Общее количество запусков окончательной очистки.",
	})

	purgedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_purged_records_total",
		Help: "Записи, удалённые окончательно (по результату).",
	}, []string{"result"})
)

// PurgeReport — отчёт окончательной очистки.
type PurgeReport struct {
	Before       time.Time `json:"before"`
	DryRun       bool      `json:"dryRun"`
	Found        int       `json:"found"`
	Purged       int       `json:"purged"`
	BlobsRemoved int       `json:"blobsRemoved"`
	Errors       int       `json:"errors"`
}

// PurgeService — окончательная очистка удалённых записей.
type PurgeService struct {
	repo      repository.FileRepository
	blobs     *blobstore.Store
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	inProcess bool
	cancel    context.CancelFunc
}

// NewPurgeService создаёт сервис окончательной очистки.
func NewPurgeService(
	repo repository.FileRepository,
	blobs *blobstore.Store,
	retention time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *PurgeService {
	return &PurgeService{
		repo:      repo,
		blobs:     blobs,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "purge")),
		now:       time.Now,
	}
}

// SetRetention меняет срок хранения удалённых записей (CLI --retention).
func (ps *PurgeService) SetRetention(retention time.Duration) {
	ps.retention = retention
}

// Start запускает периодическую очистку. Нулевой интервал отключает её.
func (ps *PurgeService) Start(ctx context.Context) {
	if ps.interval <= 0 {
		ps.logger.Info("Периодическая очистка отключена")
		return
	}
	psCtx, cancel := context.WithCancel(ctx)
	ps.cancel = cancel

	go func() {
		ticker := time.NewTicker(ps.interval)
		defer ticker.Stop()
		for {
			select {
			case <-psCtx.Done():
				return
			case <-ticker.C:
				ps.RunOnce(psCtx, false)
			}
		}
	}()

	ps.logger.Info("Периодическая очистка запущена",
		slog.String("interval", ps.interval.String()),
		slog.String("retention", ps.retention.String()),
	)
}

// Stop останавливает периодическую очистку.
func (ps *PurgeService) Stop() {
	if ps.cancel != nil {
		ps.cancel()
	}
}

// IsInProgress возвращает true, если очистка выполняется.
func (ps *PurgeService) IsInProgress() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.inProcess
}

// RunOnce удаляет записи, помеченные удалёнными раньше now - retention.
// Если очистка уже идёт, возвращает nil, true.
func (ps *PurgeService) RunOnce(ctx context.Context, dryRun bool) (*PurgeReport, bool) {
	ps.mu.Lock()
	if ps.inProcess {
		ps.mu.Unlock()
		return nil, true
	}
	ps.inProcess = true
	ps.mu.Unlock()

	defer func() {
		ps.mu.Lock()
		ps.inProcess = false
		ps.mu.Unlock()
	}()

	report := &PurgeReport{
		Before: ps.now().Add(-ps.retention).UTC(),
		DryRun: dryRun,
	}
	purgeRunsTotal.Inc()

	records, err := ps.repo.ListPurgeable(ctx, report.Before)
	if err != nil {
		ps.logger.Error("Ошибка получения удалённых записей", slog.String("error", err.Error()))
		report.Errors++
		return report, false
	}
	report.Found = len(records)

	for _, rec := range records {
		if dryRun {
			continue
		}
		if err := ps.blobs.Delete(rec.StorageName); err == nil {
			report.BlobsRemoved++
		} else if !errors.Is(err, blobstore.ErrNotFound) && !errors.Is(err, blobstore.ErrInvalidName) {
			ps.logger.Error("Ошибка удаления blob при очистке",
				slog.String("identifier", rec.Identifier),
				slog.String("error", err.Error()),
			)
			report.Errors++
			purgedRecordsTotal.WithLabelValues("error").Inc()
			continue
		}

		if err := ps.repo.Purge(ctx, rec.Identifier); err != nil && !errors.Is(err, repository.ErrNotFound) {
			ps.logger.Error("Ошибка окончательного удаления записи",
				slog.String("identifier", rec.Identifier),
				slog.String("error", err.Error()),
			)
			report.Errors++
			purgedRecordsTotal.WithLabelValues("error").Inc()
			continue
		}
		report.Purged++
		purgedRecordsTotal.WithLabelValues("purged").Inc()
	}

	ps.logger.Info("Очистка завершена",
		slog.Time("before", report.Before),
		slog.Bool("dry_run", dryRun),
		slog.Int("found", report.Found),
		slog.Int("purged", report.Purged),
		slog.Int("blobs_removed", report.BlobsRemoved),
		slog.Int("errors", report.Errors),
	)
	return report, false
}
