// Пакет repository — хранилище метаданных файлов.
// Две реализации одного интерфейса: чистый SQL через pgx для PostgreSQL
// и gorm для встроенного SQLite.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена или не удовлетворяет условию операции.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (identifier или storage name).
	ErrConflict = errors.New("конфликт: запись уже существует")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// FileRepository — хранилище метаданных файлов.
// Каждая изменяющая операция — одна условная инструкция,
// атомарная относительно конкурентных вызовов по тому же identifier.
type FileRepository interface {
	// Put создаёт запись. При дубликате identifier или storage name возвращает ErrConflict.
	Put(ctx context.Context, f *model.FileRecord) error
	// GetByIdentifier возвращает запись, включая soft-deleted.
	GetByIdentifier(ctx context.Context, id string) (*model.FileRecord, error)
	// MarkDeleted выполняет soft delete. Для уже удалённой или отсутствующей записи возвращает ErrNotFound.
	MarkDeleted(ctx context.Context, id string, now time.Time) error
	// IncrementDownload увеличивает счётчик скачиваний, только если запись
	// не удалена и не истекла на момент now. Иначе ErrNotFound.
	IncrementDownload(ctx context.Context, id string, now time.Time) (*model.FileRecord, error)
	// ListActive возвращает страницу активных записей, новые первыми.
	ListActive(ctx context.Context, offset, limit int) ([]*model.FileRecord, error)
	// CountActive возвращает количество активных записей.
	CountActive(ctx context.Context) (int64, error)
	// AggregateStats возвращает агрегаты по активным записям (без TopExtensions).
	AggregateStats(ctx context.Context, now, dayStart time.Time) (*model.Stats, error)
	// TopExtensions возвращает самые частые расширения активных записей.
	TopExtensions(ctx context.Context, limit int) ([]model.ExtensionCount, error)
	// ListAllStorageNames возвращает storage names всех записей, включая удалённые.
	ListAllStorageNames(ctx context.Context) (map[string]struct{}, error)
	// ListActiveNotDeleted возвращает ссылки активных записей на blob-ы.
	ListActiveNotDeleted(ctx context.Context) ([]model.StorageRef, error)
	// ListExpired возвращает активные записи с истёкшим сроком на момент now.
	ListExpired(ctx context.Context, now time.Time) ([]*model.FileRecord, error)
	// ListPurgeable возвращает soft-deleted записи, удалённые раньше before.
	ListPurgeable(ctx context.Context, before time.Time) ([]*model.FileRecord, error)
	// Purge физически удаляет soft-deleted запись.
	Purge(ctx context.Context, id string) error
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// utcPtr приводит необязательное время к UTC.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
