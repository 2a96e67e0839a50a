// files.go — HTTP handlers публичных файловых операций.
// Upload, Info, Download.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/share-module/internal/api/errors"
	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
	"github.com/bigkaa/goartstore/share-module/internal/service"
)

const (
	// multipartMemory — объём multipart формы в памяти, остальное во временных файлах
	multipartMemory = 32 << 20
	// multipartOverhead — запас на заголовки частей и текстовые поля
	multipartOverhead = 1 << 20
	// passwordHeader — альтернативный способ передачи пароля при скачивании
	passwordHeader = "X-File-Password"
)

// publicFile — данные файла, доступные без пароля.
type publicFile struct {
	Identifier    string     `json:"identifier"`
	OriginalName  string     `json:"originalName"`
	SizeBytes     int64      `json:"sizeBytes"`
	HasPassword   bool       `json:"hasPassword"`
	ExpiryTime    *time.Time `json:"expiryTime"`
	DownloadCount int64      `json:"downloadCount"`
	CreatedTime   time.Time  `json:"createdTime"`
}

func toPublicFile(rec *model.FileRecord) *publicFile {
	if rec == nil {
		return nil
	}
	return &publicFile{
		Identifier:    rec.Identifier,
		OriginalName:  rec.OriginalName,
		SizeBytes:     rec.SizeBytes,
		HasPassword:   rec.HasPassword(),
		ExpiryTime:    rec.ExpiryTime,
		DownloadCount: rec.DownloadCount,
		CreatedTime:   rec.CreatedTime,
	}
}

// uploadResponse — ответ на успешную загрузку.
type uploadResponse struct {
	Success bool `json:"success"`
	*service.IngestResult
	Message string `json:"message"`
}

// FilesHandler — обработчик публичных файловых endpoints.
type FilesHandler struct {
	ingest    *service.IngestService
	access    *service.AccessService
	retrieval *service.RetrievalService
	logger    *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(
	ingest *service.IngestService,
	accessSvc *service.AccessService,
	retrieval *service.RetrievalService,
	logger *slog.Logger,
) *FilesHandler {
	return &FilesHandler{
		ingest:    ingest,
		access:    accessSvc,
		retrieval: retrieval,
		logger:    logger.With(slog.String("component", "files_handler")),
	}
}

// UploadFile обрабатывает POST /api/v1/files.
// Multipart form: file (обязательно), password и expiry (опционально).
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.ingest.MaxFileSize()+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			apierrors.WriteError(w, http.StatusRequestEntityTooLarge, service.CodeFileTooLarge,
				fmt.Sprintf("Размер файла превышает допустимый (%d МиБ)", h.ingest.MaxFileSize()>>20))
			return
		}
		apierrors.ValidationError(w, "Ошибка парсинга multipart: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	params := service.IngestParams{
		DeclaredSize: -1,
		Password:     r.FormValue("password"),
		Expiry:       r.FormValue("expiry"),
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		params.Body = file
		params.DeclaredSize = header.Size
		params.OriginalName = header.Filename
		params.ContentType = header.Header.Get("Content-Type")
	case errors.Is(err, http.ErrMissingFile):
		// Body остаётся nil: сервис ответит NO_PAYLOAD
	default:
		apierrors.ValidationError(w, "Некорректное поле 'file': "+err.Error())
		return
	}

	result, err := h.ingest.Ingest(r.Context(), params)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		Success:      true,
		IngestResult: result,
		Message:      "Файл успешно загружен",
	})
}

// GetFileInfo обрабатывает GET /api/v1/files/{id}.
func (h *FilesHandler) GetFileInfo(w http.ResponseWriter, r *http.Request) {
	rec, err := h.access.Info(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPublicFile(rec))
}

// DownloadFile обрабатывает GET|POST /api/v1/files/{id}/download.
// Пароль берётся из поля формы password или заголовка X-File-Password.
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	password := r.Header.Get(passwordHeader)
	if password == "" && r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, multipartOverhead)
		password = r.PostFormValue("password")
	}

	dl, err := h.retrieval.Retrieve(r.Context(), chi.URLParam(r, "id"), password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	rec := dl.Record
	contentType := rec.ContentType
	if contentType == "" {
		contentType = service.DefaultContentType
	}

	hdr := w.Header()
	hdr.Set("Content-Type", contentType)
	hdr.Set("Content-Disposition", contentDisposition(rec.DisplayName()))
	hdr.Set("Content-Length", strconv.FormatInt(dl.Reader.Size(), 10))
	hdr.Set("Cache-Control", "must-revalidate")
	hdr.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	written, copyErr := io.Copy(w, dl.Reader)
	dl.Finish(written, copyErr)
}

// writeServiceError преобразует ошибку сервиса в HTTP-ответ.
func (h *FilesHandler) writeServiceError(w http.ResponseWriter, err error) {
	writeServiceError(w, h.logger, err)
}

func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	se, ok := service.AsError(err)
	if !ok {
		logger.Error("Необработанная ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	switch se.Kind {
	case service.KindValidation:
		status := http.StatusBadRequest
		if se.Code == service.CodeFileTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		apierrors.WriteError(w, status, se.Code, se.Message)
	case service.KindNotFoundOrExpired:
		apierrors.WriteError(w, http.StatusNotFound, se.Code, se.Message)
	case service.KindPasswordDenied:
		apierrors.WriteErrorWithFile(w, http.StatusUnauthorized, se.Code, se.Message, toPublicFile(se.File))
	default:
		logger.Error("Ошибка хранилища",
			slog.String("code", se.Code),
			slog.String("error", se.Error()),
		)
		apierrors.WriteError(w, http.StatusInternalServerError, se.Code, se.Message)
	}
}

// isBodyTooLarge распознаёт превышение http.MaxBytesReader.
func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

// contentDisposition формирует заголовок attachment с ASCII-именем
// и, для не-ASCII имён, параметром filename* (RFC 5987).
func contentDisposition(name string) string {
	ascii := true
	fallback := make([]byte, 0, len(name))
	for _, r := range name {
		if r >= 0x20 && r < 0x7f && r != '"' && r != '\\' {
			fallback = append(fallback, byte(r))
			continue
		}
		ascii = false
		fallback = append(fallback, '_')
	}

	v := `attachment; filename="` + string(fallback) + `"`
	if !ascii {
		v += "; filename*=UTF-8''" + encodeRFC5987(name)
	}
	return v
}

// encodeRFC5987 кодирует значение ext-value: attr-char как есть, остальное %XX.
func encodeRFC5987(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
