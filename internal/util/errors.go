package util

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindInvalidState ErrorKind = "invalid_state"
	KindNotFound     ErrorKind = "not_found"
	KindPermission   ErrorKind = "permission"
)

// AppError 业务错误，按 Kind 映射为 HTTP 状态码
type AppError struct {
	Kind    ErrorKind
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

func ValidationError(format string, args ...interface{}) error {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func InvalidStateError(format string, args ...interface{}) error {
	return &AppError{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(format string, args ...interface{}) error {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func PermissionError(format string, args ...interface{}) error {
	return &AppError{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

// KindOf 非业务错误返回空字符串
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// NotFoundOr 把 gorm.ErrRecordNotFound 转成 not_found 业务错误，其余原样返回
func NotFoundOr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFoundError("%s not found", what)
	}
	return err
}

var (
	ErrPermissionDenied = &AppError{Kind: KindPermission, Message: "permission denied"}
	ErrQuizNotFound     = &AppError{Kind: KindNotFound, Message: "quiz not found"}
	ErrQuestionNotFound = &AppError{Kind: KindNotFound, Message: "question not found"}
	ErrAttemptNotFound  = &AppError{Kind: KindNotFound, Message: "attempt not found"}
	ErrCourseNotFound   = &AppError{Kind: KindNotFound, Message: "course not found"}
	ErrNotEnrolled      = &AppError{Kind: KindValidation, Message: "not enrolled"}
	ErrQuizNotAvailable = &AppError{Kind: KindValidation, Message: "quiz is not available"}
	ErrAttemptExpired   = &AppError{Kind: KindInvalidState, Message: "attempt has expired"}
)
