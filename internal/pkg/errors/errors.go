// Package errors 提供带 HTTP 语义的业务错误类型。
//
// 每个错误携带 Code（HTTP 状态码）、Reason（机器可读原因码）和
// Message（人类可读描述），可附加 Metadata。
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error 是应用层错误的统一载体。
type Error struct {
	Code     int32             `json:"code"`
	Reason   string            `json:"reason"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`

	cause error
}

// Status 是错误的 JSON 序列化形态。
type Status struct {
	Code     int32             `json:"code"`
	Reason   string            `json:"reason,omitempty"`
	Message  string            `json:"message,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("error: code = %d reason = %s message = %s", e.Code, e.Reason, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式匹配。
func (e *Error) Unwrap() error { return e.cause }

// Is 按 Code + Reason 判等，Message 不参与比较。
func (e *Error) Is(err error) bool {
	if target := new(Error); errors.As(err, &target) {
		return target.Code == e.Code && target.Reason == e.Reason
	}
	return false
}

// WithCause 附加底层错误。
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.cause = cause
	return &clone
}

// WithMetadata 附加元数据。
func (e *Error) WithMetadata(md map[string]string) *Error {
	clone := *e
	clone.Metadata = md
	return &clone
}

// New 创建一个错误。
func New(code int, reason, message string) *Error {
	return &Error{Code: int32(code), Reason: reason, Message: message}
}

// Newf 创建一个格式化消息的错误。
func Newf(code int, reason, format string, a ...any) *Error {
	return New(code, reason, fmt.Sprintf(format, a...))
}

// FromError 将任意 error 转换为 *Error。
// 非本包错误统一映射为 500 INTERNAL。
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if appErr := new(Error); errors.As(err, &appErr) {
		return appErr
	}
	return New(http.StatusInternalServerError, "INTERNAL", err.Error())
}

// Code 返回错误的 HTTP 状态码，nil 返回 200。
func Code(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return int(FromError(err).Code)
}

// Reason 返回错误的原因码。
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return FromError(err).Reason
}

// IsNotFound 判断错误是否为 404 类错误。
func IsNotFound(err error) bool {
	return Code(err) == http.StatusNotFound
}

func BadRequest(reason, message string) *Error {
	return New(http.StatusBadRequest, reason, message)
}

func Unauthorized(reason, message string) *Error {
	return New(http.StatusUnauthorized, reason, message)
}

func Forbidden(reason, message string) *Error {
	return New(http.StatusForbidden, reason, message)
}

func NotFound(reason, message string) *Error {
	return New(http.StatusNotFound, reason, message)
}

func Conflict(reason, message string) *Error {
	return New(http.StatusConflict, reason, message)
}

func TooManyRequests(reason, message string) *Error {
	return New(http.StatusTooManyRequests, reason, message)
}

func InternalServer(reason, message string) *Error {
	return New(http.StatusInternalServerError, reason, message)
}

func BadGateway(reason, message string) *Error {
	return New(http.StatusBadGateway, reason, message)
}

func ServiceUnavailable(reason, message string) *Error {
	return New(http.StatusServiceUnavailable, reason, message)
}
