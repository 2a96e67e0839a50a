// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
)

// ErrorKind — категория ошибки, определяет реакцию вызывающего кода.
type ErrorKind int

const (
	// KindValidation — некорректный ввод (размер, пустой payload, срок).
	// Сообщается клиенту, не логируется как сбой.
	KindValidation ErrorKind = iota + 1
	// KindNotFoundOrExpired — единый отказ «файл недоступен».
	KindNotFoundOrExpired
	// KindPasswordDenied — пароль не передан или неверен; можно повторить.
	KindPasswordDenied
	// KindStorageFault — сбой диска или хранилища метаданных.
	KindStorageFault
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFoundOrExpired:
		return "not_found_or_expired"
	case KindPasswordDenied:
		return "password_denied"
	case KindStorageFault:
		return "storage_fault"
	}
	return "unknown"
}

// Коды ошибок для API.
const (
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeNoPayload         = "NO_PAYLOAD"
	CodeInvalidExpiry     = "INVALID_EXPIRY"
	CodeInvalidPassword   = "INVALID_PASSWORD"
	CodeValidation        = "VALIDATION_ERROR"
	CodeFileUnavailable   = "FILE_UNAVAILABLE"
	CodePasswordRequired  = "PASSWORD_REQUIRED"
	CodePasswordIncorrect = "PASSWORD_INCORRECT"
	CodeStorageError      = "STORAGE_ERROR"
)

// msgUnavailable — единое сообщение для отсутствующих и истёкших файлов.
const msgUnavailable = "Файл не найден или срок его хранения истёк"

// Error — ошибка сервисного слоя.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	// File — публичные данные файла при отказе по паролю
	File *model.FileRecord
	// Err — исходная причина (только для логов)
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError извлекает *Error из цепочки ошибок.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func validationError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func unavailableError() *Error {
	return &Error{Kind: KindNotFoundOrExpired, Code: CodeFileUnavailable, Message: msgUnavailable}
}

func storageFault(message string, err error) *Error {
	return &Error{Kind: KindStorageFault, Code: CodeStorageError, Message: message, Err: err}
}

func passwordRequired(f *model.FileRecord) *Error {
	return &Error{
		Kind:    KindPasswordDenied,
		Code:    CodePasswordRequired,
		Message: "Файл защищён паролем",
		File:    f,
	}
}

func passwordIncorrect(f *model.FileRecord) *Error {
	return &Error{
		Kind:    KindPasswordDenied,
		Code:    CodePasswordIncorrect,
		Message: "Неверный пароль",
		File:    f,
	}
}
