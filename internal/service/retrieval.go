// retrieval.go — выдача содержимого файла после разрешения доступа.
//
// Порядок: проверка доступа → открытие blob-а (ссылка удерживает его
// от физического удаления) → условный учёт скачивания → передача.
// Запись, удалённая или истёкшая между проверкой и учётом, не выдаётся.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
	"github.com/bigkaa/goartstore/share-module/internal/repository"
	"github.com/bigkaa/goartstore/share-module/internal/storage/blobstore"
)

// Prometheus-метрики скачивания.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_downloads_total",
		Help: "Общее количество запросов на скачивание (по статусу).",
	}, []string{"status"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sm_download_duration_seconds",
		Help:    "Длительность передачи содержимого.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_download_bytes_total",
		Help: "Общее количество переданных байт.",
	})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sm_active_downloads",
		Help: "Количество незавершённых передач.",
	})
)

// NewOpenReadersGauge возвращает gauge числа открытых читателей blob-хранилища.
func NewOpenReadersGauge(blobs *blobstore.Store) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sm_blob_open_readers",
		Help: "Количество открытых читателей blob-хранилища.",
	}, func() float64 {
		return float64(blobs.OpenReaders())
	})
}

// Download — разрешённое скачивание. Вызывающий код обязан вызвать Finish.
type Download struct {
	// Record — запись после учёта скачивания
	Record *model.FileRecord
	// Reader — открытый blob
	Reader *blobstore.Reader

	started time.Time
	logger  *slog.Logger
}

// Finish закрывает blob и фиксирует результат передачи.
// Обрыв передачи клиентом не откатывает учёт скачивания.
func (d *Download) Finish(written int64, copyErr error) {
	defer activeDownloads.Dec()
	d.Reader.Close()

	downloadBytesTotal.Add(float64(written))
	if copyErr != nil {
		downloadsTotal.WithLabelValues("aborted").Inc()
		d.logger.Warn("Передача прервана",
			slog.String("identifier", d.Record.Identifier),
			slog.Int64("bytes_written", written),
			slog.String("error", copyErr.Error()),
		)
		return
	}

	duration := time.Since(d.started)
	downloadsTotal.WithLabelValues("success").Inc()
	downloadDuration.Observe(duration.Seconds())
	d.logger.Debug("Передача завершена",
		slog.String("identifier", d.Record.Identifier),
		slog.Int64("bytes", written),
		slog.Duration("duration", duration),
	)
}

// RetrievalService — сервис выдачи файлов.
type RetrievalService struct {
	access *AccessService
	repo   repository.FileRepository
	blobs  *blobstore.Store
	cache  *CacheService
	logger *slog.Logger
	now    func() time.Time
}

// NewRetrievalService создаёт сервис выдачи файлов.
func NewRetrievalService(
	accessSvc *AccessService,
	repo repository.FileRepository,
	blobs *blobstore.Store,
	cache *CacheService,
	logger *slog.Logger,
) *RetrievalService {
	return &RetrievalService{
		access: accessSvc,
		repo:   repo,
		blobs:  blobs,
		cache:  cache,
		logger: logger.With(slog.String("component", "retrieval")),
		now:    time.Now,
	}
}

// Retrieve проверяет доступ, открывает blob и учитывает скачивание.
func (s *RetrievalService) Retrieve(ctx context.Context, id, password string) (*Download, error) {
	rec, err := s.access.Authorize(ctx, id, password)
	if err != nil {
		downloadsTotal.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}

	reader, err := s.blobs.OpenForRead(rec.StorageName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			// Blob пропал между проверкой и открытием
			s.access.lazyCleanup(ctx, rec, "blob пропал перед передачей")
			downloadsTotal.WithLabelValues(KindNotFoundOrExpired.String()).Inc()
			return nil, unavailableError()
		}
		downloadsTotal.WithLabelValues(KindStorageFault.String()).Inc()
		return nil, storageFault("Не удалось открыть файл", err)
	}

	updated, err := s.repo.IncrementDownload(ctx, id, s.now())
	if err != nil {
		reader.Close()
		s.cache.Delete(id)
		if errors.Is(err, repository.ErrNotFound) {
			downloadsTotal.WithLabelValues(KindNotFoundOrExpired.String()).Inc()
			return nil, unavailableError()
		}
		s.logger.Error("Ошибка учёта скачивания",
			slog.String("identifier", id),
			slog.String("error", err.Error()),
		)
		downloadsTotal.WithLabelValues(KindStorageFault.String()).Inc()
		return nil, storageFault("Хранилище метаданных недоступно", err)
	}
	s.cache.Set(updated)

	activeDownloads.Inc()
	return &Download{
		Record:  updated,
		Reader:  reader,
		started: time.Now(),
		logger:  s.logger,
	}, nil
}
