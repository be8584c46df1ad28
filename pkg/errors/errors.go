// Package errors описывает таксономию ошибок, общую для всех адаптеров маркетплейсов.
//
// Адаптеры переводят любые ошибки транспорта и протокола (HTTP статусы, SOAP Fault,
// коды ограничения частоты) в небольшой набор видов Kind. Остальная система
// принимает решения только по виду ошибки и никогда не разбирает тексты ответов.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind вид ошибки независимо от маркетплейса
type Kind string

const (
	KindUnknown          Kind = ""
	KindTransient        Kind = "transient"
	KindAuth             Kind = "auth"
	KindMalformedRequest Kind = "malformed_request"
	KindItemRejected     Kind = "item_rejected"
	KindNotFound         Kind = "not_found"
	KindTimeout          Kind = "timeout"
	KindCancelled        Kind = "cancelled"
	KindUnavailable      Kind = "unavailable"
)

var (
	ErrCacheMiss          = errors.New("cache miss")
	ErrLockNotAcquired    = errors.New("lock is held by another run")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrUnsupported        = errors.New("operation is not supported by marketplace")
)

// Error ошибка операции адаптера с видом и контекстом маркетплейса
type Error struct {
	Kind        Kind
	Marketplace string
	Op          string
	StatusCode  int
	// Code структурированный код ошибки маркетплейса, если он есть
	Code string
	Err  error
}

// New создает ошибку заданного вида
func New(kind Kind, marketplace, op string, err error) *Error {
	return &Error{Kind: kind, Marketplace: marketplace, Op: op, Err: err}
}

// Newf создает ошибку заданного вида с форматированным сообщением
func Newf(kind Kind, marketplace, op, format string, args ...interface{}) *Error {
	return New(kind, marketplace, op, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Marketplace != "" {
		msg = e.Marketplace + ": " + msg
	}
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf возвращает вид ошибки с учетом обертывания
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrMissingCredentials):
		return KindUnavailable
	case errors.Is(err, ErrUnsupported):
		return KindMalformedRequest
	}
	return KindUnknown
}

// IsTransient сообщает, можно ли повторить операцию
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsAuth сообщает об ошибке аутентификации
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

// IsNotFound сообщает, что запрошенный stock code отсутствует на маркетплейсе
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// Reason короткое описание ошибки для отчета
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		if e.Code != "" {
			return e.Code + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return err.Error()
}
