// Пакет model — доменные модели Share Module.
package model

import (
	"path/filepath"
	"strings"
	"time"
)

// LifecycleState — стадия жизненного цикла записи файла.
// Переход один: active → deleted. Purge удаляет запись целиком.
type LifecycleState string

const (
	// StateActive — запись доступна для чтения
	StateActive LifecycleState = "active"
	// StateDeleted — soft delete, запись скрыта от всех путей чтения
	StateDeleted LifecycleState = "deleted"
)

// FileRecord — запись о файле в хранилище метаданных.
type FileRecord struct {
	// Identifier — публичный непрозрачный идентификатор (32 hex-символа)
	Identifier string
	// OriginalName — имя файла от пользователя, только для отображения
	OriginalName string
	// StorageName — серверное имя blob-а, единственный адрес в Blob Store
	StorageName string
	// SizeBytes — размер, записанный при загрузке
	SizeBytes int64
	// ContentType — MIME-тип от клиента (не доверенный)
	ContentType string
	// PasswordVerifier — односторонний verifier пароля; nil — файл без пароля
	PasswordVerifier *string
	// ExpiryTime — момент истечения; nil — бессрочно
	ExpiryTime *time.Time
	// CreatedTime — время загрузки
	CreatedTime time.Time
	// LastAccessTime — время последнего успешного скачивания
	LastAccessTime *time.Time
	// DownloadCount — количество успешных скачиваний
	DownloadCount int64
	// Deleted — признак soft delete
	Deleted bool
	// DeletedTime — момент soft delete (для окончательной очистки)
	DeletedTime *time.Time
}

// HasPassword сообщает, защищён ли файл паролем.
func (f *FileRecord) HasPassword() bool {
	return f.PasswordVerifier != nil && *f.PasswordVerifier != ""
}

// IsExpired проверяет, истёк ли срок жизни файла на момент now.
func (f *FileRecord) IsExpired(now time.Time) bool {
	return f.ExpiryTime != nil && !now.Before(*f.ExpiryTime)
}

// State возвращает стадию жизненного цикла записи.
func (f *FileRecord) State() LifecycleState {
	if f.Deleted {
		return StateDeleted
	}
	return StateActive
}

// DisplayName возвращает безопасное имя для Content-Disposition:
// только последний элемент пути, без управляющих символов и кавычек.
func (f *FileRecord) DisplayName() string {
	name := f.OriginalName
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '"' {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "download"
	}
	return name
}

// Extension возвращает расширение оригинального имени в нижнем регистре без точки.
func Extension(name string) string {
	ext := filepath.Ext(name)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// StorageRef — ссылка активной записи на blob для сверки.
type StorageRef struct {
	Identifier  string
	StorageName string
	SizeBytes   int64
}

// ExtensionCount — количество активных файлов с данным расширением.
type ExtensionCount struct {
	Extension string `json:"extension"`
	Count     int64  `json:"count"`
}

// Stats — агрегированная статистика по активным записям.
type Stats struct {
	Count             int64            `json:"count"`
	TotalBytes        int64            `json:"totalBytes"`
	TotalDownloads    int64            `json:"totalDownloads"`
	ExpiredCount      int64            `json:"expiredCount"`
	TodayCount        int64            `json:"todayCount"`
	PasswordProtected int64            `json:"passwordProtected"`
	WithExpiry        int64            `json:"withExpiry"`
	TopExtensions     []ExtensionCount `json:"topExtensions"`
}
