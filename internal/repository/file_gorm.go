package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
)

// fileRow — строка таблицы files для gorm.
// Время хранится как UTC unix-миллисекунды: сравнения в SQLite
// выполняются над целыми числами, а не над строками.
type fileRow struct {
	Identifier     string  `gorm:"column:identifier;primaryKey;size:32"`
	OriginalName   string  `gorm:"column:original_name;not null"`
	StorageName    string  `gorm:"column:storage_name;size:96;not null;uniqueIndex"`
	SizeBytes      int64   `gorm:"column:size_bytes;not null"`
	ContentType    string  `gorm:"column:content_type;size:255;not null"`
	PasswordHash   *string `gorm:"column:password_hash"`
	ExpiresMs      *int64  `gorm:"column:expires_at;index"`
	CreatedMs      int64   `gorm:"column:created_at;not null;index"`
	LastAccessedMs *int64  `gorm:"column:last_accessed_at"`
	DownloadCount  int64   `gorm:"column:download_count;not null;default:0"`
	Deleted        bool    `gorm:"column:deleted;not null;default:false;index"`
	DeletedMs      *int64  `gorm:"column:deleted_at"`
}

func (fileRow) TableName() string { return "files" }

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func toMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := toMillis(*t)
	return &ms
}

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

func rowFromRecord(f *model.FileRecord) *fileRow {
	return &fileRow{
		Identifier:     f.Identifier,
		OriginalName:   f.OriginalName,
		StorageName:    f.StorageName,
		SizeBytes:      f.SizeBytes,
		ContentType:    f.ContentType,
		PasswordHash:   f.PasswordVerifier,
		ExpiresMs:      toMillisPtr(f.ExpiryTime),
		CreatedMs:      toMillis(f.CreatedTime),
		LastAccessedMs: toMillisPtr(f.LastAccessTime),
		DownloadCount:  f.DownloadCount,
		Deleted:        f.Deleted,
		DeletedMs:      toMillisPtr(f.DeletedTime),
	}
}

func (r *fileRow) record() *model.FileRecord {
	return &model.FileRecord{
		Identifier:       r.Identifier,
		OriginalName:     r.OriginalName,
		StorageName:      r.StorageName,
		SizeBytes:        r.SizeBytes,
		ContentType:      r.ContentType,
		PasswordVerifier: r.PasswordHash,
		ExpiryTime:       fromMillisPtr(r.ExpiresMs),
		CreatedTime:      time.UnixMilli(r.CreatedMs).UTC(),
		LastAccessTime:   fromMillisPtr(r.LastAccessedMs),
		DownloadCount:    r.DownloadCount,
		Deleted:          r.Deleted,
		DeletedTime:      fromMillisPtr(r.DeletedMs),
	}
}

func records(rows []fileRow) []*model.FileRecord {
	result := make([]*model.FileRecord, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].record())
	}
	return result
}

// gormFileRepo — реализация FileRepository на gorm (SQLite).
type gormFileRepo struct {
	db *gorm.DB
}

// NewGormFileRepository создаёт репозиторий метаданных на gorm
// и приводит схему таблицы files к актуальной (AutoMigrate).
func NewGormFileRepository(ctx context.Context, db *gorm.DB) (FileRepository, error) {
	if err := db.WithContext(ctx).AutoMigrate(&fileRow{}); err != nil {
		return nil, fmt.Errorf("ошибка миграции схемы SQLite: %w", err)
	}
	return &gormFileRepo{db: db}, nil
}

// isDuplicate распознаёт нарушение уникальности SQLite.
func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *gormFileRepo) Put(ctx context.Context, f *model.FileRecord) error {
	row := rowFromRecord(f)
	row.DownloadCount = 0
	row.Deleted = false
	row.LastAccessedMs = nil
	row.DeletedMs = nil

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: файл с таким identifier или storage name уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка сохранения файла: %w", err)
	}
	return nil
}

func (r *gormFileRepo) GetByIdentifier(ctx context.Context, id string) (*model.FileRecord, error) {
	var row fileRow
	err := r.db.WithContext(ctx).Where("identifier = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return row.record(), nil
}

func (r *gormFileRepo) MarkDeleted(ctx context.Context, id string, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&fileRow{}).
		Where("identifier = ? AND deleted = ?", id, false).
		Updates(map[string]any{
			"deleted":    true,
			"deleted_at": toMillis(now),
		})
	if res.Error != nil {
		return fmt.Errorf("ошибка удаления файла: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormFileRepo) IncrementDownload(ctx context.Context, id string, now time.Time) (*model.FileRecord, error) {
	ms := toMillis(now)
	var row fileRow

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&fileRow{}).
			Where("identifier = ? AND deleted = ? AND (expires_at IS NULL OR expires_at > ?)", id, false, ms).
			Updates(map[string]any{
				"download_count":   gorm.Expr("download_count + 1"),
				"last_accessed_at": gorm.Expr("MAX(COALESCE(last_accessed_at, ?), ?)", ms, ms),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("identifier = ?", id).First(&row).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка учёта скачивания: %w", err)
	}
	return row.record(), nil
}

func (r *gormFileRepo) ListActive(ctx context.Context, offset, limit int) ([]*model.FileRecord, error) {
	var rows []fileRow
	err := r.db.WithContext(ctx).
		Where("deleted = ?", false).
		Order("created_at DESC, identifier DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	return records(rows), nil
}

func (r *gormFileRepo) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&fileRow{}).Where("deleted = ?", false).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return count, nil
}

func (r *gormFileRepo) AggregateStats(ctx context.Context, now, dayStart time.Time) (*model.Stats, error) {
	var agg struct {
		Count             int64
		TotalBytes        int64
		TotalDownloads    int64
		ExpiredCount      int64
		TodayCount        int64
		PasswordProtected int64
		WithExpiry        int64
	}

	err := r.db.WithContext(ctx).Model(&fileRow{}).
		Select(`COUNT(*) AS count,
			COALESCE(SUM(size_bytes), 0) AS total_bytes,
			COALESCE(SUM(download_count), 0) AS total_downloads,
			COALESCE(SUM(CASE WHEN expires_at IS NOT NULL AND expires_at <= ? THEN 1 ELSE 0 END), 0) AS expired_count,
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS today_count,
			COALESCE(SUM(CASE WHEN password_hash IS NOT NULL THEN 1 ELSE 0 END), 0) AS password_protected,
			COALESCE(SUM(CASE WHEN expires_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS with_expiry`,
			toMillis(now), toMillis(dayStart)).
		Where("deleted = ?", false).
		Scan(&agg).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}

	return &model.Stats{
		Count:             agg.Count,
		TotalBytes:        agg.TotalBytes,
		TotalDownloads:    agg.TotalDownloads,
		ExpiredCount:      agg.ExpiredCount,
		TodayCount:        agg.TodayCount,
		PasswordProtected: agg.PasswordProtected,
		WithExpiry:        agg.WithExpiry,
	}, nil
}

// TopExtensions считает расширения в Go: в SQLite нет извлечения по регулярному выражению.
func (r *gormFileRepo) TopExtensions(ctx context.Context, limit int) ([]model.ExtensionCount, error) {
	var names []string
	err := r.db.WithContext(ctx).Model(&fileRow{}).
		Where("deleted = ?", false).
		Pluck("original_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики расширений: %w", err)
	}

	counts := make(map[string]int64)
	for _, name := range names {
		if ext := model.Extension(name); ext != "" {
			counts[ext]++
		}
	}

	result := make([]model.ExtensionCount, 0, len(counts))
	for ext, n := range counts {
		result = append(result, model.ExtensionCount{Extension: ext, Count: n})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Extension < result[j].Extension
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *gormFileRepo) ListAllStorageNames(ctx context.Context) (map[string]struct{}, error) {
	var list []string
	if err := r.db.WithContext(ctx).Model(&fileRow{}).Pluck("storage_name", &list).Error; err != nil {
		return nil, fmt.Errorf("ошибка получения storage names: %w", err)
	}

	names := make(map[string]struct{}, len(list))
	for _, n := range list {
		names[n] = struct{}{}
	}
	return names, nil
}

func (r *gormFileRepo) ListActiveNotDeleted(ctx context.Context) ([]model.StorageRef, error) {
	var rows []fileRow
	err := r.db.WithContext(ctx).
		Select("identifier", "storage_name", "size_bytes").
		Where("deleted = ?", false).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активных файлов: %w", err)
	}

	refs := make([]model.StorageRef, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, model.StorageRef{
			Identifier:  row.Identifier,
			StorageName: row.StorageName,
			SizeBytes:   row.SizeBytes,
		})
	}
	return refs, nil
}

func (r *gormFileRepo) ListExpired(ctx context.Context, now time.Time) ([]*model.FileRecord, error) {
	var rows []fileRow
	err := r.db.WithContext(ctx).
		Where("deleted = ? AND expires_at IS NOT NULL AND expires_at <= ?", false, toMillis(now)).
		Order("expires_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истёкших файлов: %w", err)
	}
	return records(rows), nil
}

func (r *gormFileRepo) ListPurgeable(ctx context.Context, before time.Time) ([]*model.FileRecord, error) {
	var rows []fileRow
	err := r.db.WithContext(ctx).
		Where("deleted = ? AND deleted_at IS NOT NULL AND deleted_at < ?", true, toMillis(before)).
		Order("deleted_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка получения удалённых файлов: %w", err)
	}
	return records(rows), nil
}

func (r *gormFileRepo) Purge(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).
		Where("identifier = ? AND deleted = ?", id, true).
		Delete(&fileRow{})
	if res.Error != nil {
		return fmt.Errorf("ошибка окончательного удаления файла: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
