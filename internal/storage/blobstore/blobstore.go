// Пакет blobstore — хранилище содержимого файлов на диске.
// Плоская директория, один файл на blob, адресация только по storage name.
//
// Запись атомарна: temp файл → fsync → rename. Читатели учитываются:
// Delete при открытых читателях скрывает blob сразу, а физически
// удаляет его после закрытия последнего читателя.
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ошибки Blob Store.
var (
	// ErrNotFound — blob отсутствует или ожидает удаления.
	ErrNotFound = errors.New("blob не найден")
	// ErrExists — blob с таким именем уже существует.
	ErrExists = errors.New("blob уже существует")
	// ErrTooLarge — поток длиннее допустимого предела.
	ErrTooLarge = errors.New("превышен допустимый размер")
	// ErrInvalidName — имя не является одиночным элементом пути.
	ErrInvalidName = errors.New("недопустимое имя blob-а")
)

// tmpSuffix — суффикс незавершённых записей.
const tmpSuffix = ".tmp"

// maxNameLen — предел длины имени в большинстве файловых систем.
const maxNameLen = 255

// refEntry — учёт открытых читателей одного blob-а.
type refEntry struct {
	readers int
	// pending — Delete вызван при открытых читателях
	pending bool
}

// Store — blob-хранилище в директории dataDir.
type Store struct {
	dataDir string

	mu   sync.Mutex
	refs map[string]*refEntry
}

// New создаёт Store. Директория создаётся, если не существует.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &Store{
		dataDir: dataDir,
		refs:    make(map[string]*refEntry),
	}, nil
}

// DataDir возвращает путь к директории данных.
func (s *Store) DataDir() string {
	return s.dataDir
}

// IsTempName сообщает, что имя занято под незавершённую запись.
func IsTempName(name string) bool {
	return strings.HasSuffix(name, tmpSuffix)
}

// ValidateName проверяет, что имя — одиночный элемент пути
// без разделителей, не скрытый файл и не временный.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLen ||
		strings.ContainsAny(name, `/\`) ||
		strings.HasPrefix(name, ".") ||
		IsTempName(name) ||
		strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

// Write записывает поток r в blob name.
// Если limit > 0 и поток длиннее limit байт, temp файл удаляется
// и возвращается ErrTooLarge. Возвращает число записанных байт.
func (s *Store) Write(name string, r io.Reader, limit int64) (int64, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	fullPath := s.path(name)
	if _, err := os.Lstat(fullPath); err == nil {
		return 0, fmt.Errorf("%w: %s", ErrExists, name)
	}

	tmpPath := fmt.Sprintf("%s.%s%s", fullPath, uuid.NewString(), tmpSuffix)
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}

	size, err := io.Copy(f, src)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if limit > 0 && size > limit {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("%w: более %d байт", ErrTooLarge, limit)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return size, nil
}

// isPending сообщает, ожидает ли blob удаления. Вызывать под s.mu.
func (s *Store) isPending(name string) bool {
	e := s.refs[name]
	return e != nil && e.pending
}

// stat возвращает информацию о регулярном файле blob-а.
func (s *Store) stat(name string) (os.FileInfo, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	pending := s.isPending(name)
	s.mu.Unlock()
	if pending {
		return nil, ErrNotFound
	}

	info, err := os.Stat(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения информации о blob %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFound
	}
	return info, nil
}

// Exists проверяет наличие blob-а. Отсутствие blob-а не является ошибкой;
// ошибка означает, что наличие установить не удалось.
func (s *Store) Exists(name string) (bool, error) {
	_, err := s.stat(name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	}
	return false, err
}

// SizeOf возвращает размер blob-а.
func (s *Store) SizeOf(name string) (int64, error) {
	info, err := s.stat(name)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ModTime возвращает время модификации blob-а.
func (s *Store) ModTime(name string) (time.Time, error) {
	info, err := s.stat(name)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Reader — открытый blob. Держит ссылку до Close.
type Reader struct {
	f       *os.File
	name    string
	size    int64
	modTime time.Time
	once    sync.Once
	release func(name string)
}

// Read реализует io.Reader.
func (r *Reader) Read(p []byte) (int, error) { return r.f.Read(p) }

// Seek реализует io.Seeker.
func (r *Reader) Seek(offset int64, whence int) (int64, error) { return r.f.Seek(offset, whence) }

// Size возвращает размер blob-а на момент открытия.
func (r *Reader) Size() int64 { return r.size }

// ModTime возвращает время модификации blob-а.
func (r *Reader) ModTime() time.Time { return r.modTime }

// Name возвращает storage name.
func (r *Reader) Name() string { return r.name }

// Close закрывает файл и освобождает ссылку. Повторный вызов безопасен.
func (r *Reader) Close() error {
	var err error
	r.once.Do(func() {
		err = r.f.Close()
		r.release(r.name)
	})
	return err
}

// OpenForRead открывает blob для чтения. Вызывающий код обязан закрыть Reader.
func (s *Store) OpenForRead(name string) (*Reader, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isPending(name) {
		return nil, ErrNotFound
	}

	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка открытия blob %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка получения информации о blob %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotFound
	}

	e := s.refs[name]
	if e == nil {
		e = &refEntry{}
		s.refs[name] = e
	}
	e.readers++

	return &Reader{
		f:       f,
		name:    name,
		size:    info.Size(),
		modTime: info.ModTime(),
		release: s.release,
	}, nil
}

// release уменьшает счётчик читателей; последний читатель
// удаляет blob, помеченный на удаление.
func (s *Store) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.refs[name]
	if e == nil {
		return
	}
	e.readers--
	if e.readers > 0 {
		return
	}
	delete(s.refs, name)
	if e.pending {
		_ = os.Remove(s.path(name))
	}
}

// Delete удаляет blob. При открытых читателях blob сразу становится
// невидимым, а файл удаляется после закрытия последнего из них.
// Для отсутствующего blob возвращает ErrNotFound.
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.refs[name]; e != nil && e.readers > 0 {
		if e.pending {
			return ErrNotFound
		}
		e.pending = true
		return nil
	}

	if err := os.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка удаления blob %s: %w", name, err)
	}
	return nil
}

// ListAll возвращает имена всех видимых blob-ов в отсортированном порядке.
// Временные файлы, скрытые файлы и директории пропускаются.
func (s *Store) ListAll() ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", s.dataDir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || ValidateName(name) != nil || s.isPending(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RemoveStaleTemp удаляет незавершённые temp файлы, изменённые раньше before.
// Возвращает количество удалённых файлов.
func (s *Store) RemoveStaleTemp(before time.Time) (int, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения директории %s: %w", s.dataDir, err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !IsTempName(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(before) {
			continue
		}
		if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// OpenReaders возвращает общее число открытых читателей.
func (s *Store) OpenReaders() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.refs {
		n += e.readers
	}
	return n
}

// CheckWritable проверяет, что в директорию данных можно писать.
func (s *Store) CheckWritable() error {
	f, err := os.CreateTemp(s.dataDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("директория %s недоступна для записи: %w", s.dataDir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
