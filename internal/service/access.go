// access.go — проверка доступа к файлу и ленивая очистка
// записей, чей blob пропал с диска.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/share-module/internal/domain/access"
	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
	"github.com/bigkaa/goartstore/share-module/internal/repository"
	"github.com/bigkaa/goartstore/share-module/internal/security"
	"github.com/bigkaa/goartstore/share-module/internal/storage/blobstore"
)

// Prometheus-метрики проверки доступа.
var (
	accessDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_access_decisions_total",
		Help: "Решения проверки доступа (по итоговому состоянию).",
	}, []string{"state"})

	lazyCleanupTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_lazy_cleanup_total",
		Help: "Количество записей, помеченных удалёнными из-за отсутствия blob-а.",
	})
)

// AccessService — проверка доступа к файлам.
type AccessService struct {
	repo   repository.FileRepository
	blobs  *blobstore.Store
	cache  *CacheService
	hasher security.Hasher
	logger *slog.Logger
	now    func() time.Time
}

// NewAccessService создаёт сервис проверки доступа.
func NewAccessService(
	repo repository.FileRepository,
	blobs *blobstore.Store,
	cache *CacheService,
	hasher security.Hasher,
	logger *slog.Logger,
) *AccessService {
	return &AccessService{
		repo:   repo,
		blobs:  blobs,
		cache:  cache,
		hasher: hasher,
		logger: logger.With(slog.String("component", "access")),
		now:    time.Now,
	}
}

// Check проводит попытку доступа через автомат и возвращает запись
// (nil, если не найдена) и решение. Ошибка возвращается только при сбое хранилища.
func (s *AccessService) Check(ctx context.Context, id, password string) (*model.FileRecord, access.Decision, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, access.Decision{}, err
	}

	decision, err := access.Resolve(access.Request{
		Record:      rec,
		Password:    password,
		Now:         s.now(),
		BlobPresent: s.blobs.Exists,
	}, s.hasher)
	if err != nil {
		s.logger.Error("Ошибка проверки наличия blob-а",
			slog.String("identifier", id),
			slog.String("error", err.Error()),
		)
		return rec, decision, storageFault("Хранилище файлов недоступно", err)
	}

	accessDecisionsTotal.WithLabelValues(string(decision.State)).Inc()
	s.logger.Debug("Решение проверки доступа",
		slog.String("identifier", id),
		slog.Any("history", decision.History),
	)

	if decision.BlobMissing {
		s.lazyCleanup(ctx, rec, "blob отсутствует при проверке доступа")
	}
	return rec, decision, nil
}

// Authorize — Check, где любой отказ возвращается как *Error.
func (s *AccessService) Authorize(ctx context.Context, id, password string) (*model.FileRecord, error) {
	rec, decision, err := s.Check(ctx, id, password)
	if err != nil {
		return nil, err
	}
	if err := DecisionError(decision, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Info возвращает публичные данные доступного файла без проверки пароля.
// Читает хранилище напрямую: счётчик скачиваний должен быть актуальным.
func (s *AccessService) Info(ctx context.Context, id string) (*model.FileRecord, error) {
	if !IsIdentifier(id) {
		return nil, unavailableError()
	}
	rec, err := s.repo.GetByIdentifier(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, unavailableError()
		}
		return nil, storageFault("Не удалось получить данные файла", err)
	}
	if rec.State() != model.StateActive || rec.IsExpired(s.now()) {
		return nil, unavailableError()
	}
	return rec, nil
}

// load получает запись из кэша или хранилища. Некорректный
// идентификатор и отсутствующая запись дают nil без ошибки.
func (s *AccessService) load(ctx context.Context, id string) (*model.FileRecord, error) {
	if !IsIdentifier(id) {
		return nil, nil
	}
	if rec, ok := s.cache.Get(id); ok {
		return rec, nil
	}

	rec, err := s.repo.GetByIdentifier(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		s.logger.Error("Ошибка чтения метаданных",
			slog.String("identifier", id),
			slog.String("error", err.Error()),
		)
		return nil, storageFault("Хранилище метаданных недоступно", err)
	}
	if rec.State() == model.StateActive {
		s.cache.Set(rec)
	}
	return rec, nil
}

// lazyCleanup помечает запись удалённой, когда её blob пропал.
func (s *AccessService) lazyCleanup(ctx context.Context, rec *model.FileRecord, reason string) {
	s.cache.Delete(rec.Identifier)

	err := s.repo.MarkDeleted(ctx, rec.Identifier, s.now())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("Ошибка lazy cleanup",
			slog.String("identifier", rec.Identifier),
			slog.String("error", err.Error()),
		)
		return
	}
	if err == nil {
		lazyCleanupTotal.Inc()
		s.logger.Warn("Запись помечена удалённой: "+reason,
			slog.String("identifier", rec.Identifier),
			slog.String("storage_name", rec.StorageName),
		)
	}
}

// DecisionError преобразует отказ в *Error; для Granted возвращает nil.
func DecisionError(d access.Decision, rec *model.FileRecord) error {
	switch {
	case d.Granted():
		return nil
	case d.State.IsUnavailable():
		return unavailableError()
	case d.State == access.StateDeniedPasswordRequired:
		return passwordRequired(rec)
	case d.State == access.StateDeniedPasswordIncorrect:
		return passwordIncorrect(rec)
	default:
		return unavailableError()
	}
}
