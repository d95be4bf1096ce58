package service

import (
	"errors"
	"fmt"
)

// Kind 稳定的错误码，直接作为响应体中的 code 返回给客户端
type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindInsufficientCredits Kind = "INSUFFICIENT_CREDITS"
	KindUpstream            Kind = "UPSTREAM_ERROR"
	KindWebhookSignature    Kind = "WEBHOOK_SIGNATURE_ERROR"
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindRateLimited         Kind = "RATE_LIMITED"
	KindInternal            Kind = "INTERNAL_ERROR"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同类错误视为相等，便于 errors.Is(err, service.ErrNotFound)
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// 仅用于 errors.Is 比较
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrInsufficientCredits = &Error{Kind: KindInsufficientCredits}
	ErrUpstream            = &Error{Kind: KindUpstream}
	ErrWebhookSignature    = &Error{Kind: KindWebhookSignature}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrRateLimited         = &Error{Kind: KindRateLimited}
	ErrInternal            = &Error{Kind: KindInternal}
)

// KindOf 非 *Error 的错误一律视为内部错误
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf 返回可以展示给客户端的信息，内部错误不暴露细节
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}
