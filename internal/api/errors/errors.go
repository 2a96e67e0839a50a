// Пакет errors — единый формат ошибок HTTP API.
// Формат: {"error": {"code": "...", "message": "..."}}.
// Ответы с ошибками пишутся только через WriteError и конструкторы.
package errors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок уровня HTTP (коды сервисного слоя передаются как есть).
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeOperationInProcess = "OPERATION_IN_PROGRESS"
	CodeAdminDisabled      = "ADMIN_DISABLED"
	CodeInternalError      = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// File — публичные данные файла при отказе по паролю
	File any `json:"file,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	WriteErrorWithFile(w, statusCode, code, message, nil)
}

// WriteErrorWithFile записывает ошибку с публичными данными файла,
// чтобы клиент мог повторно запросить пароль.
func WriteErrorWithFile(w http.ResponseWriter, statusCode int, code, message string, file any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
			File:    file,
		},
	})
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// MethodNotAllowed — 405 метод не поддерживается.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Метод не поддерживается")
}

// InProgress — 409 операция обслуживания уже выполняется.
func InProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeOperationInProcess, message)
}

// AdminDisabled — 503 администрирование не настроено.
func AdminDisabled(w http.ResponseWriter) {
	WriteError(w, http.StatusServiceUnavailable, CodeAdminDisabled, "Администрирование не настроено")
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
