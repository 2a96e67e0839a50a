package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/goartstore/share-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/share-module/internal/database"
	"github.com/bigkaa/goartstore/share-module/internal/repository"
	"github.com/bigkaa/goartstore/share-module/internal/security"
	"github.com/bigkaa/goartstore/share-module/internal/service"
	"github.com/bigkaa/goartstore/share-module/internal/storage/blobstore"
)

const (
	testAdminPassword = "admin-pass"
	testMaxFileSize   = 1 << 10
)

var testTokenSecret = strings.Repeat("k", 32)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServer — роутер со всеми handlers поверх SQLite во временной директории.
type testServer struct {
	router http.Handler
	blobs  *blobstore.Store
	repo   repository.FileRepository
}

type serverOptions struct {
	adminDisabled bool
	// logs — куда писать лог handlers; nil — отбрасывать
	logs io.Writer
}

func setupServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()
	if opts.logs != nil {
		logger = slog.New(slog.NewTextHandler(opts.logs, nil))
	}

	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "share.db"), logger)
	if err != nil {
		t.Fatalf("Ошибка открытия SQLite: %v", err)
	}
	t.Cleanup(func() { database.CloseSQLite(db) })

	repo, err := repository.NewGormFileRepository(ctx, db)
	if err != nil {
		t.Fatalf("Ошибка создания репозитория: %v", err)
	}
	blobs, err := blobstore.New(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("Ошибка создания blob-хранилища: %v", err)
	}

	hasher := security.NewBcryptHasher(bcrypt.MinCost)
	cache := service.NewCacheService(64, time.Minute)

	ingest, err := service.NewIngestService(repo, blobs, hasher, testMaxFileSize, "test-salt", logger)
	if err != nil {
		t.Fatalf("Ошибка создания IngestService: %v", err)
	}
	accessSvc := service.NewAccessService(repo, blobs, cache, hasher, logger)
	retrieval := service.NewRetrievalService(accessSvc, repo, blobs, cache, logger)
	reconcile := service.NewReconcileService(repo, blobs, cache, 0, 0, logger)
	purge := service.NewPurgeService(repo, blobs, 720*time.Hour, 0, logger)
	admin := service.NewAdminService(repo, blobs, cache, logger)

	var passwordHash, secret string
	if !opts.adminDisabled {
		h, err := bcrypt.GenerateFromPassword([]byte(testAdminPassword), bcrypt.MinCost)
		if err != nil {
			t.Fatal(err)
		}
		passwordHash = string(h)
		secret = testTokenSecret
	}
	adminAuthSvc := service.NewAdminAuthService(hasher, passwordHash, secret, time.Hour, logger)
	adminAuth := middleware.NewAdminAuthWithKeyfunc(secret, nil, middleware.ExternalIssuer{}, 0, logger)

	api := NewAPIHandler(
		NewFilesHandler(ingest, accessSvc, retrieval, logger),
		NewAdminHandler(admin, adminAuthSvc, logger),
		NewMaintenanceHandler(reconcile, purge),
		NewHealthHandler(database.NewSQLiteReadinessChecker(db), blobs),
		adminAuth,
	)

	r := chi.NewRouter()
	api.Mount(r)
	return &testServer{router: r, blobs: blobs, repo: repo}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// uploadRequest строит multipart-запрос загрузки. При пустом name поле file не добавляется.
func uploadRequest(t *testing.T, name, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if name != "" {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write([]byte(content))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// upload загружает файл и возвращает identifier.
func (s *testServer) upload(t *testing.T, name, content string, fields map[string]string) string {
	t.Helper()
	rec := s.do(uploadRequest(t, name, content, fields))
	if rec.Code != http.StatusCreated {
		t.Fatalf("загрузка %q: статус = %d, тело: %s", name, rec.Code, rec.Body.String())
	}
	var resp struct {
		Identifier string `json:"identifier"`
	}
	decodeJSON(t, rec, &resp)
	return resp.Identifier
}

// adminToken выполняет вход администратора.
func (s *testServer) adminToken(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/login",
		strings.NewReader(`{"password":"`+testAdminPassword+`"}`))
	rec := s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("вход администратора: статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	var tok service.AdminToken
	decodeJSON(t, rec, &tok)
	return tok.Token
}

func adminRequest(method, target, token string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("некорректный JSON %q: %v", rec.Body.String(), err)
	}
}

// errorCode извлекает код ошибки из тела ответа.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeJSON(t, rec, &body)
	return body.Error.Code
}
