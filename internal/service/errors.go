package service

import "errors"

// Kind 业务错误类别，httpapi 据此映射状态码
type Kind string

const (
	KindInvalid      Kind = "invalid"      // 参数不合法
	KindUnauthorized Kind = "unauthorized" // 未认证
	KindForbidden    Kind = "forbidden"    // 无权限
	KindNotFound     Kind = "not_found"    // 资源不存在
	KindConflict     Kind = "conflict"     // 状态冲突
	KindRateLimited  Kind = "rate_limited" // 触发限流
	KindInternal     Kind = "internal"     // 内部错误
)

// Error 携带类别的业务错误
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Invalid 参数错误
func Invalid(msg string) error {
	return &Error{Kind: KindInvalid, Message: msg}
}

// Unauthorized 未认证错误
func Unauthorized(msg string) error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// Forbidden 权限错误
func Forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// NotFound 资源不存在错误
func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Conflict 状态冲突错误
func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

// RateLimited 限流错误
func RateLimited(msg string) error {
	return &Error{Kind: KindRateLimited, Message: msg}
}

// KindOf 提取错误类别，非业务错误一律归为 internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
