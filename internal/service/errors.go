// errors.go — ошибки бизнес-логики сервисного слоя.
//
// Каждая ошибка сервиса — *Error с видом (Kind) из набора sentinel-ошибок
// ниже. Вид проверяется через errors.Is, причина конфликта — через ReasonOf.
// Ошибки коллабораторов (хранилища blob-ов, метаданных) всегда
// преобразуются в один из видов до возврата вызывающему.
package service

import (
	"errors"
	"fmt"
)

// Виды ошибок.
var (
	// ErrConflict — конфликт уникальности (имя или содержимое).
	ErrConflict = errors.New("конфликт")
	// ErrNotFound — ресурс не существует или не виден субъекту.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrForbidden — ресурс виден, но субъект не может его изменять.
	ErrForbidden = errors.New("доступ запрещён")
	// ErrIO — сбой хранилища blob-ов или метаданных, отмена или таймаут.
	ErrIO = errors.New("ошибка ввода-вывода")
	// ErrInternal — нарушение инварианта.
	ErrInternal = errors.New("внутренняя ошибка")
	// ErrValidation — некорректные входные данные.
	ErrValidation = errors.New("ошибка валидации")
	// ErrTooLarge — размер загружаемого файла превышает допустимый.
	ErrTooLarge = errors.New("файл слишком большой")
)

// ConflictReason — причина конфликта.
type ConflictReason string

const (
	// ReasonFilenameExists — у владельца уже есть файл с таким именем.
	ReasonFilenameExists ConflictReason = "FILENAME_EXISTS"
	// ReasonContentExists — у владельца уже есть файл с таким содержимым.
	ReasonContentExists ConflictReason = "CONTENT_EXISTS"
)

// Error — ошибка сервисного слоя.
type Error struct {
	// Kind — вид ошибки (одна из sentinel-ошибок пакета)
	Kind error
	// Reason — причина конфликта (только для ErrConflict)
	Reason ConflictReason
	// Msg — сообщение для клиента
	Msg string
	// Err — исходная ошибка (может быть nil)
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap позволяет errors.Is находить как вид, так и исходную ошибку.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// ReasonOf возвращает причину конфликта или пустую строку.
func ReasonOf(err error) ConflictReason {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}

// MessageOf возвращает сообщение для клиента или пустую строку.
func MessageOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Msg
	}
	return ""
}

func newError(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func conflictError(reason ConflictReason) *Error {
	msg := "Файл с таким именем уже существует"
	if reason == ReasonContentExists {
		msg = "Файл с таким содержимым уже загружен"
	}
	return &Error{Kind: ErrConflict, Reason: reason, Msg: msg}
}

func notFoundError() *Error {
	return newError(ErrNotFound, "Файл не найден", nil)
}
