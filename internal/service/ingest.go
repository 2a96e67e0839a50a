// ingest.go — загрузка файлов: blob пишется раньше записи метаданных.
// Сбой после записи blob-а оставляет сироту, которую уберёт сверка,
// но никогда не оставляет запись без содержимого.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
	"github.com/bigkaa/goartstore/share-module/internal/repository"
	"github.com/bigkaa/goartstore/share-module/internal/security"
	"github.com/bigkaa/goartstore/share-module/internal/storage/blobstore"
)

// Prometheus-метрики загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_uploads_total",
		Help: "Общее количество загрузок (по результату).",
	}, []string{"result"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_upload_bytes_total",
		Help: "Общее количество принятых байт.",
	})
)

const (
	// DefaultContentType — MIME-тип по умолчанию.
	DefaultContentType = "application/octet-stream"
	// maxOriginalNameRunes — предел длины отображаемого имени.
	maxOriginalNameRunes = 255
)

// storageExtPattern — допустимое расширение в storage name.
var storageExtPattern = regexp.MustCompile(`^[a-z0-9]{1,16}$`)

// expiryLayouts — допустимые форматы срока хранения.
// Форматы без часового пояса трактуются как UTC.
var expiryLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// IngestParams — параметры загрузки.
type IngestParams struct {
	// Body — поток содержимого; nil — payload отсутствует
	Body io.Reader
	// DeclaredSize — размер из заголовков; < 0 — неизвестен
	DeclaredSize int64
	// OriginalName — имя файла от клиента
	OriginalName string
	// ContentType — MIME-тип от клиента
	ContentType string
	// Password — пароль; пусто — без пароля
	Password string
	// Expiry — срок хранения в текстовом виде; пусто — бессрочно
	Expiry string
}

// IngestResult — результат загрузки.
type IngestResult struct {
	Identifier   string     `json:"identifier"`
	OriginalName string     `json:"originalName"`
	SizeBytes    int64      `json:"sizeBytes"`
	HasPassword  bool       `json:"hasPassword"`
	ExpiryTime   *time.Time `json:"expiryTime"`
}

// IngestService — сервис загрузки файлов.
type IngestService struct {
	repo        repository.FileRepository
	blobs       *blobstore.Store
	hasher      security.Hasher
	maxFileSize int64
	salt        []byte
	logger      *slog.Logger
	now         func() time.Time
}

// NewIngestService создаёт сервис загрузки.
// Пустая соль заменяется случайной: storage names остаются
// непредсказуемыми, но не воспроизводимыми между перезапусками.
func NewIngestService(
	repo repository.FileRepository,
	blobs *blobstore.Store,
	hasher security.Hasher,
	maxFileSize int64,
	salt string,
	logger *slog.Logger,
) (*IngestService, error) {
	saltBytes := []byte(salt)
	if len(saltBytes) == 0 {
		saltBytes = make([]byte, 32)
		if _, err := rand.Read(saltBytes); err != nil {
			return nil, fmt.Errorf("ошибка генерации соли: %w", err)
		}
	}
	return &IngestService{
		repo:        repo,
		blobs:       blobs,
		hasher:      hasher,
		maxFileSize: maxFileSize,
		salt:        saltBytes,
		logger:      logger.With(slog.String("component", "ingest")),
		now:         time.Now,
	}, nil
}

// MaxFileSize возвращает предел размера загрузки.
func (s *IngestService) MaxFileSize() int64 {
	return s.maxFileSize
}

// Ingest принимает файл: проверки, запись blob-а, verifier пароля,
// запись метаданных.
func (s *IngestService) Ingest(ctx context.Context, p IngestParams) (*IngestResult, error) {
	res, err := s.ingest(ctx, p)
	if err != nil {
		uploadsTotal.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}
	uploadsTotal.WithLabelValues("success").Inc()
	uploadBytesTotal.Add(float64(res.SizeBytes))
	return res, nil
}

func (s *IngestService) ingest(ctx context.Context, p IngestParams) (*IngestResult, error) {
	// 1. Проверки до записи
	if p.Body == nil || p.DeclaredSize == 0 {
		return nil, validationError(CodeNoPayload, "Файл не передан")
	}
	if p.DeclaredSize > s.maxFileSize {
		return nil, s.tooLarge()
	}

	expiry, err := ParseExpiry(p.Expiry)
	if err != nil {
		return nil, validationError(CodeInvalidExpiry,
			fmt.Sprintf("Некорректный срок хранения %q: ожидается формат ГГГГ-ММ-ДДTчч:мм", p.Expiry))
	}

	var verifier *string
	if p.Password != "" {
		h, err := s.hasher.Hash(p.Password)
		if err != nil {
			if errors.Is(err, security.ErrPasswordTooLong) {
				return nil, validationError(CodeInvalidPassword, "Пароль длиннее 72 байт")
			}
			return nil, storageFault("Не удалось обработать пароль", err)
		}
		verifier = &h
	}

	// 2. Идентификаторы
	id, err := NewIdentifier()
	if err != nil {
		return nil, storageFault("Не удалось сгенерировать идентификатор", err)
	}
	created := s.now().UTC().Truncate(time.Millisecond)
	originalName := normalizeOriginalName(p.OriginalName)
	storageName := StorageName(id, created, s.salt, originalName)

	// 3. Blob (с контролем размера во время записи)
	size, err := s.blobs.Write(storageName, p.Body, s.maxFileSize)
	if err != nil {
		if errors.Is(err, blobstore.ErrTooLarge) {
			return nil, s.tooLarge()
		}
		s.logger.Error("Ошибка записи blob",
			slog.String("storage_name", storageName),
			slog.String("error", err.Error()),
		)
		return nil, storageFault("Не удалось сохранить файл", err)
	}
	if size == 0 {
		if err := s.blobs.Delete(storageName); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Warn("Не удалось удалить пустой blob",
				slog.String("storage_name", storageName),
				slog.String("error", err.Error()),
			)
		}
		return nil, validationError(CodeNoPayload, "Файл пуст")
	}

	contentType := strings.TrimSpace(p.ContentType)
	if contentType == "" {
		contentType = DefaultContentType
	}

	rec := &model.FileRecord{
		Identifier:       id,
		OriginalName:     originalName,
		StorageName:      storageName,
		SizeBytes:        size,
		ContentType:      contentType,
		PasswordVerifier: verifier,
		ExpiryTime:       expiry,
		CreatedTime:      created,
	}

	// 4. Метаданные. При сбое blob остаётся сиротой для сверки.
	if err := s.repo.Put(ctx, rec); err != nil {
		s.logger.Error("Ошибка записи метаданных, blob оставлен для сверки",
			slog.String("identifier", id),
			slog.String("storage_name", storageName),
			slog.String("error", err.Error()),
		)
		return nil, storageFault("Не удалось сохранить метаданные файла", err)
	}

	s.logger.Info("Файл загружен",
		slog.String("identifier", id),
		slog.Int64("size", size),
		slog.Bool("has_password", verifier != nil),
		slog.Bool("has_expiry", expiry != nil),
	)

	return &IngestResult{
		Identifier:   id,
		OriginalName: originalName,
		SizeBytes:    size,
		HasPassword:  verifier != nil,
		ExpiryTime:   expiry,
	}, nil
}

func (s *IngestService) tooLarge() *Error {
	return validationError(CodeFileTooLarge,
		fmt.Sprintf("Размер файла превышает допустимый (%d МиБ)", s.maxFileSize>>20))
}

// NewIdentifier возвращает публичный идентификатор: 16 случайных байт в hex.
func NewIdentifier() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// IsIdentifier проверяет формат идентификатора: 32 строчных hex-символа.
func IsIdentifier(id string) bool {
	if len(id) != 32 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// StorageName выводит серверное имя blob-а из identifier, времени создания
// и соли. Расширение сохраняется, только если оно безопасно и не совпадает
// с суффиксом незавершённых записей.
func StorageName(id string, created time.Time, salt []byte, originalName string) string {
	h := sha256.New()
	h.Write([]byte(id))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(created.UnixNano(), 10)))
	h.Write([]byte{'|'})
	h.Write(salt)
	name := hex.EncodeToString(h.Sum(nil))

	ext := model.Extension(originalName)
	if storageExtPattern.MatchString(ext) && !blobstore.IsTempName(name+"."+ext) {
		name += "." + ext
	}
	return name
}

// ParseExpiry разбирает срок хранения. Пустая строка означает бессрочное хранение.
// Прошедший срок допустим: файл сразу недоступен и уйдёт при сверке.
func ParseExpiry(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			u := t.UTC()
			return &u, nil
		}
	}
	return nil, fmt.Errorf("неизвестный формат срока: %q", raw)
}

// normalizeOriginalName убирает пробелы по краям и ограничивает длину.
func normalizeOriginalName(name string) string {
	name = strings.TrimSpace(name)
	if !utf8.ValidString(name) {
		name = strings.ToValidUTF8(name, "_")
	}
	if utf8.RuneCountInString(name) > maxOriginalNameRunes {
		runes := []rune(name)
		name = string(runes[:maxOriginalNameRunes])
	}
	return name
}

// resultLabel возвращает метку метрики для ошибки.
func resultLabel(err error) string {
	if se, ok := AsError(err); ok {
		return se.Kind.String()
	}
	return "error"
}
