// admin.go — административный просмотр, статистика, удаление
// и вход администратора.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
	"github.com/bigkaa/goartstore/share-module/internal/repository"
	"github.com/bigkaa/goartstore/share-module/internal/security"
	"github.com/bigkaa/goartstore/share-module/internal/storage/blobstore"
)

// Параметры пагинации списка файлов.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
	topExtensions  = 5
)

// Ошибки входа администратора.
var (
	// ErrAdminDisabled — вход администратора не настроен.
	ErrAdminDisabled = errors.New("администрирование отключено")
	// ErrInvalidCredentials — неверный пароль администратора.
	ErrInvalidCredentials = errors.New("неверный пароль администратора")
)

// AdminFile — запись в административном списке.
type AdminFile struct {
	Identifier     string     `json:"identifier"`
	OriginalName   string     `json:"originalName"`
	StorageName    string     `json:"storageName"`
	SizeBytes      int64      `json:"sizeBytes"`
	ContentType    string     `json:"contentType"`
	HasPassword    bool       `json:"hasPassword"`
	ExpiryTime     *time.Time `json:"expiryTime"`
	Expired        bool       `json:"expired"`
	CreatedTime    time.Time  `json:"createdTime"`
	LastAccessTime *time.Time `json:"lastAccessTime"`
	DownloadCount  int64      `json:"downloadCount"`
}

// FilePage — страница административного списка.
type FilePage struct {
	Items      []AdminFile `json:"items"`
	Page       int         `json:"page"`
	PerPage    int         `json:"perPage"`
	Total      int64       `json:"total"`
	TotalPages int         `json:"totalPages"`
}

// AdminToken — выданный токен администратора.
type AdminToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AdminService — операции администратора над файлами.
type AdminService struct {
	repo   repository.FileRepository
	blobs  *blobstore.Store
	cache  *CacheService
	logger *slog.Logger
	now    func() time.Time
}

// NewAdminService создаёт сервис администрирования.
func NewAdminService(
	repo repository.FileRepository,
	blobs *blobstore.Store,
	cache *CacheService,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		repo:   repo,
		blobs:  blobs,
		cache:  cache,
		logger: logger.With(slog.String("component", "admin")),
		now:    time.Now,
	}
}

// ListFiles возвращает страницу активных файлов, новые первыми.
// Нулевые page и perPage заменяются значениями по умолчанию.
func (s *AdminService) ListFiles(ctx context.Context, page, perPage int) (*FilePage, error) {
	if page == 0 {
		page = 1
	}
	if perPage == 0 {
		perPage = DefaultPerPage
	}
	if page < 1 {
		return nil, validationError(CodeValidation, "page должен быть >= 1")
	}
	if perPage < 1 || perPage > MaxPerPage {
		return nil, validationError(CodeValidation,
			fmt.Sprintf("per_page должен быть от 1 до %d", MaxPerPage))
	}

	total, err := s.repo.CountActive(ctx)
	if err != nil {
		return nil, storageFault("Не удалось получить список файлов", err)
	}
	records, err := s.repo.ListActive(ctx, (page-1)*perPage, perPage)
	if err != nil {
		return nil, storageFault("Не удалось получить список файлов", err)
	}

	now := s.now()
	items := make([]AdminFile, 0, len(records))
	for _, rec := range records {
		items = append(items, adminFile(rec, now))
	}

	return &FilePage{
		Items:      items,
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: int((total + int64(perPage) - 1) / int64(perPage)),
	}, nil
}

// Stats возвращает агрегированную статистику. «Сегодня» отсчитывается с полуночи UTC.
func (s *AdminService) Stats(ctx context.Context) (*model.Stats, error) {
	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	stats, err := s.repo.AggregateStats(ctx, now, dayStart)
	if err != nil {
		return nil, storageFault("Не удалось получить статистику", err)
	}
	exts, err := s.repo.TopExtensions(ctx, topExtensions)
	if err != nil {
		return nil, storageFault("Не удалось получить статистику", err)
	}
	if exts == nil {
		exts = []model.ExtensionCount{}
	}
	stats.TopExtensions = exts
	return stats, nil
}

// DeleteFile удаляет blob и помечает запись удалённой.
// Для отсутствующей или уже удалённой записи возвращает FILE_UNAVAILABLE.
func (s *AdminService) DeleteFile(ctx context.Context, id string) error {
	if !IsIdentifier(id) {
		return unavailableError()
	}
	rec, err := s.repo.GetByIdentifier(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return unavailableError()
		}
		return storageFault("Хранилище метаданных недоступно", err)
	}
	if rec.State() == model.StateDeleted {
		return unavailableError()
	}

	if err := s.blobs.Delete(rec.StorageName); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		s.logger.Error("Ошибка удаления blob",
			slog.String("identifier", id),
			slog.String("error", err.Error()),
		)
		return storageFault("Не удалось удалить файл", err)
	}
	s.cache.Delete(id)

	// Параллельное удаление уже пометило запись: результат тот же.
	if err := s.repo.MarkDeleted(ctx, id, s.now()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return storageFault("Не удалось удалить файл", err)
	}

	s.logger.Info("Файл удалён администратором",
		slog.String("identifier", id),
		slog.String("storage_name", rec.StorageName),
	)
	return nil
}

func adminFile(rec *model.FileRecord, now time.Time) AdminFile {
	return AdminFile{
		Identifier:     rec.Identifier,
		OriginalName:   rec.OriginalName,
		StorageName:    rec.StorageName,
		SizeBytes:      rec.SizeBytes,
		ContentType:    rec.ContentType,
		HasPassword:    rec.HasPassword(),
		ExpiryTime:     rec.ExpiryTime,
		Expired:        rec.IsExpired(now),
		CreatedTime:    rec.CreatedTime,
		LastAccessTime: rec.LastAccessTime,
		DownloadCount:  rec.DownloadCount,
	}
}

// AdminAuthService — вход администратора по общему паролю.
type AdminAuthService struct {
	hasher       security.Hasher
	passwordHash string
	secret       []byte
	ttl          time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewAdminAuthService создаёт сервис входа администратора.
// Пустой passwordHash или secret отключает вход.
func NewAdminAuthService(
	hasher security.Hasher,
	passwordHash, secret string,
	ttl time.Duration,
	logger *slog.Logger,
) *AdminAuthService {
	return &AdminAuthService{
		hasher:       hasher,
		passwordHash: passwordHash,
		secret:       []byte(secret),
		ttl:          ttl,
		logger:       logger.With(slog.String("component", "admin_auth")),
		now:          time.Now,
	}
}

// Enabled сообщает, настроен ли вход администратора.
func (s *AdminAuthService) Enabled() bool {
	return s.passwordHash != "" && len(s.secret) > 0
}

// Login проверяет пароль и выпускает токен.
func (s *AdminAuthService) Login(password string) (*AdminToken, error) {
	if !s.Enabled() {
		return nil, ErrAdminDisabled
	}
	if password == "" || !s.hasher.Verify(s.passwordHash, password) {
		s.logger.Warn("Неудачная попытка входа администратора")
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := security.IssueAdminToken(s.secret, s.ttl, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("Вход администратора", slog.Time("expires_at", expiresAt))
	return &AdminToken{Token: token, ExpiresAt: expiresAt}, nil
}
