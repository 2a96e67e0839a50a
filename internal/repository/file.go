package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
)

// fileColumns — порядок колонок, ожидаемый scanFile.
const fileColumns = `identifier, original_name, storage_name, size_bytes, content_type,
	password_hash, expires_at, created_at, last_accessed_at, download_count,
	deleted, deleted_at`

// pgFileRepo — реализация FileRepository для PostgreSQL.
type pgFileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий метаданных на PostgreSQL.
func NewFileRepository(db DBTX) FileRepository {
	return &pgFileRepo{db: db}
}

// scanFile читает строку в model.FileRecord. Время приводится к UTC.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	err := row.Scan(
		&f.Identifier, &f.OriginalName, &f.StorageName, &f.SizeBytes, &f.ContentType,
		&f.PasswordVerifier, &f.ExpiryTime, &f.CreatedTime, &f.LastAccessTime, &f.DownloadCount,
		&f.Deleted, &f.DeletedTime,
	)
	if err != nil {
		return nil, err
	}
	f.CreatedTime = f.CreatedTime.UTC()
	f.ExpiryTime = utcPtr(f.ExpiryTime)
	f.LastAccessTime = utcPtr(f.LastAccessTime)
	f.DeletedTime = utcPtr(f.DeletedTime)
	return f, nil
}

func (r *pgFileRepo) queryFiles(ctx context.Context, op, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка %s: %w", op, err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *pgFileRepo) Put(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO files (identifier, original_name, storage_name, size_bytes, content_type,
			password_hash, expires_at, created_at, download_count, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, FALSE)`

	_, err := r.db.Exec(ctx, query,
		f.Identifier, f.OriginalName, f.StorageName, f.SizeBytes, f.ContentType,
		f.PasswordVerifier, f.ExpiryTime, f.CreatedTime,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл с таким identifier или storage name уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка сохранения файла: %w", err)
	}
	return nil
}

func (r *pgFileRepo) GetByIdentifier(ctx context.Context, id string) (*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE identifier = $1`

	f, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *pgFileRepo) MarkDeleted(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE files
		SET deleted = TRUE, deleted_at = $2
		WHERE identifier = $1 AND NOT deleted`

	tag, err := r.db.Exec(ctx, query, id, now.UTC())
	if err != nil {
		return fmt.Errorf("ошибка удаления файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgFileRepo) IncrementDownload(ctx context.Context, id string, now time.Time) (*model.FileRecord, error) {
	query := `
		UPDATE files
		SET download_count = download_count + 1,
			last_accessed_at = GREATEST(COALESCE(last_accessed_at, $2), $2)
		WHERE identifier = $1
			AND NOT deleted
			AND (expires_at IS NULL OR expires_at > $2)
		RETURNING ` + fileColumns

	f, err := scanFile(r.db.QueryRow(ctx, query, id, now.UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка учёта скачивания: %w", err)
	}
	return f, nil
}

func (r *pgFileRepo) ListActive(ctx context.Context, offset, limit int) ([]*model.FileRecord, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files
		WHERE NOT deleted
		ORDER BY created_at DESC, identifier DESC
		LIMIT $1 OFFSET $2`

	return r.queryFiles(ctx, "получения списка файлов", query, limit, offset)
}

func (r *pgFileRepo) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM files WHERE NOT deleted`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return count, nil
}

func (r *pgFileRepo) AggregateStats(ctx context.Context, now, dayStart time.Time) (*model.Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(size_bytes), 0)::BIGINT,
			COALESCE(SUM(download_count), 0)::BIGINT,
			COUNT(*) FILTER (WHERE expires_at IS NOT NULL AND expires_at <= $1),
			COUNT(*) FILTER (WHERE created_at >= $2),
			COUNT(*) FILTER (WHERE password_hash IS NOT NULL),
			COUNT(*) FILTER (WHERE expires_at IS NOT NULL)
		FROM files
		WHERE NOT deleted`

	s := &model.Stats{}
	err := r.db.QueryRow(ctx, query, now.UTC(), dayStart.UTC()).Scan(
		&s.Count, &s.TotalBytes, &s.TotalDownloads, &s.ExpiredCount,
		&s.TodayCount, &s.PasswordProtected, &s.WithExpiry,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}
	return s, nil
}

func (r *pgFileRepo) TopExtensions(ctx context.Context, limit int) ([]model.ExtensionCount, error) {
	query := `
		SELECT ext, COUNT(*) AS cnt
		FROM (
			SELECT lower(substring(original_name FROM '\.([^./]+)$')) AS ext
			FROM files
			WHERE NOT deleted
		) t
		WHERE ext IS NOT NULL
		GROUP BY ext
		ORDER BY cnt DESC, ext ASC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики расширений: %w", err)
	}
	defer rows.Close()

	var result []model.ExtensionCount
	for rows.Next() {
		var ec model.ExtensionCount
		if err := rows.Scan(&ec.Extension, &ec.Count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования расширения: %w", err)
		}
		result = append(result, ec)
	}
	return result, rows.Err()
}

func (r *pgFileRepo) ListAllStorageNames(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.Query(ctx, `SELECT storage_name FROM files`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения storage names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ошибка сканирования storage name: %w", err)
		}
		names[name] = struct{}{}
	}
	return names, rows.Err()
}

func (r *pgFileRepo) ListActiveNotDeleted(ctx context.Context) ([]model.StorageRef, error) {
	rows, err := r.db.Query(ctx,
		`SELECT identifier, storage_name, size_bytes FROM files WHERE NOT deleted ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активных файлов: %w", err)
	}
	defer rows.Close()

	var refs []model.StorageRef
	for rows.Next() {
		var ref model.StorageRef
		if err := rows.Scan(&ref.Identifier, &ref.StorageName, &ref.SizeBytes); err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *pgFileRepo) ListExpired(ctx context.Context, now time.Time) ([]*model.FileRecord, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files
		WHERE NOT deleted AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at`

	return r.queryFiles(ctx, "получения истёкших файлов", query, now.UTC())
}

func (r *pgFileRepo) ListPurgeable(ctx context.Context, before time.Time) ([]*model.FileRecord, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files
		WHERE deleted AND deleted_at IS NOT NULL AND deleted_at < $1
		ORDER BY deleted_at`

	return r.queryFiles(ctx, "получения удалённых файлов", query, before.UTC())
}

func (r *pgFileRepo) Purge(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE identifier = $1 AND deleted`, id)
	if err != nil {
		return fmt.Errorf("ошибка окончательного удаления файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
