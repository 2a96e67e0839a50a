package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/goartstore/share-module/internal/database"
	"github.com/bigkaa/goartstore/share-module/internal/repository"
	"github.com/bigkaa/goartstore/share-module/internal/security"
	"github.com/bigkaa/goartstore/share-module/internal/storage/blobstore"
)

// testClock — управляемое время для сервисов.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testEnv — полный набор сервисов поверх SQLite и blob-хранилища во временной директории.
type testEnv struct {
	repo      repository.FileRepository
	blobs     *blobstore.Store
	cache     *CacheService
	hasher    *security.BcryptHasher
	clock     *testClock
	ingest    *IngestService
	access    *AccessService
	retrieval *RetrievalService
	reconcile *ReconcileService
	purge     *PurgeService
	admin     *AdminService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupEnv создаёт окружение с пределом размера файла maxFileSize.
func setupEnv(t *testing.T, maxFileSize int64) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "share.db"), logger)
	if err != nil {
		t.Fatalf("Ошибка открытия SQLite: %v", err)
	}
	t.Cleanup(func() { database.CloseSQLite(db) })

	repo, err := repository.NewGormFileRepository(ctx, db)
	if err != nil {
		t.Fatalf("Ошибка создания репозитория: %v", err)
	}
	return setupEnvWithRepo(t, repo, maxFileSize)
}

// setupEnvWithRepo создаёт окружение поверх заданного репозитория.
func setupEnvWithRepo(t *testing.T, repo repository.FileRepository, maxFileSize int64) *testEnv {
	t.Helper()
	logger := testLogger()

	blobs, err := blobstore.New(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("Ошибка создания blob-хранилища: %v", err)
	}

	env := &testEnv{
		repo:   repo,
		blobs:  blobs,
		cache:  NewCacheService(128, time.Minute),
		hasher: security.NewBcryptHasher(bcrypt.MinCost),
		clock:  newTestClock(),
	}

	env.ingest, err = NewIngestService(repo, blobs, env.hasher, maxFileSize, "test-salt", logger)
	if err != nil {
		t.Fatalf("Ошибка создания IngestService: %v", err)
	}
	env.access = NewAccessService(repo, blobs, env.cache, env.hasher, logger)
	env.retrieval = NewRetrievalService(env.access, repo, blobs, env.cache, logger)
	env.reconcile = NewReconcileService(repo, blobs, env.cache, 0, 0, logger)
	env.purge = NewPurgeService(repo, blobs, 720*time.Hour, 0, logger)
	env.admin = NewAdminService(repo, blobs, env.cache, logger)

	env.ingest.now = env.clock.Now
	env.access.now = env.clock.Now
	env.retrieval.now = env.clock.Now
	env.reconcile.now = env.clock.Now
	env.purge.now = env.clock.Now
	env.admin.now = env.clock.Now
	return env
}

// upload загружает content и завершает тест при ошибке.
func (e *testEnv) upload(t *testing.T, name, content, password, expiry string) *IngestResult {
	t.Helper()
	res, err := e.ingest.Ingest(context.Background(), IngestParams{
		Body:         bytes.NewBufferString(content),
		DeclaredSize: int64(len(content)),
		OriginalName: name,
		ContentType:  "text/plain",
		Password:     password,
		Expiry:       expiry,
	})
	if err != nil {
		t.Fatalf("Ingest(%q) ошибка: %v", name, err)
	}
	return res
}

// blobExists проверяет наличие blob-а и завершает тест при ошибке.
func blobExists(t *testing.T, blobs *blobstore.Store, name string) bool {
	t.Helper()
	ok, err := blobs.Exists(name)
	if err != nil {
		t.Fatalf("Exists(%q) ошибка: %v", name, err)
	}
	return ok
}

// download выполняет полный цикл скачивания и возвращает содержимое.
func (e *testEnv) download(id, password string) ([]byte, error) {
	d, err := e.retrieval.Retrieve(context.Background(), id, password)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	n, copyErr := io.Copy(&buf, d.Reader)
	d.Finish(n, copyErr)
	return buf.Bytes(), copyErr
}

// expiryIn возвращает срок хранения через d от текущего времени часов.
func (e *testEnv) expiryIn(d time.Duration) string {
	return e.clock.Now().Add(d).Format(time.RFC3339)
}

// assertCode проверяет код ошибки сервисного слоя.
func assertCode(t *testing.T, err error, code string) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("ожидалась ошибка %s, получен nil", code)
	}
	se, ok := AsError(err)
	if !ok {
		t.Fatalf("ожидалась *Error с кодом %s, получено: %v", code, err)
	}
	if se.Code != code {
		t.Fatalf("код ошибки = %s, ожидался %s (%v)", se.Code, code, err)
	}
	return se
}
