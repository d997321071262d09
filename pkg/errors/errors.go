// Package errors 提供统一的错误定义
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeNotFound           ErrorCode = "1004"
	CodeConflict           ErrorCode = "1005"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"

	// 资源错误 (3xxx)
	CodeBookNotFound      ErrorCode = "3001"
	CodeUnitNotFound      ErrorCode = "3002"
	CodeCharacterNotFound ErrorCode = "3003"
	CodeImageNotFound     ErrorCode = "3004"

	// 生成错误 (4xxx)
	CodeGenerationFailed  ErrorCode = "4001"
	CodeEmptyCompletion   ErrorCode = "4002"
	CodeMalformedOutput   ErrorCode = "4103"
	CodeInvalidTransition ErrorCode = "4104"

	// 外部服务错误 (5xxx)
	CodeDatabaseError    ErrorCode = "5001"
	CodeCacheError       ErrorCode = "5002"
	CodeTransportFailure ErrorCode = "5101"
	CodeProviderError    ErrorCode = "5102"
	CodeStorageFailure   ErrorCode = "5104"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail 添加详细信息
func (e *AppError) WithDetail(detail string) *AppError {
	e.Detail = detail
	return e
}

// WithError 添加底层错误
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeNotFound, CodeBookNotFound, CodeUnitNotFound, CodeCharacterNotFound, CodeImageNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvalidTransition:
		return http.StatusConflict
	case CodeMalformedOutput:
		return http.StatusUnprocessableEntity
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeTransportFailure, CodeProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrConflict           = New(CodeConflict, "resource conflict")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrBookNotFound      = New(CodeBookNotFound, "book not found")
	ErrUnitNotFound      = New(CodeUnitNotFound, "narrative unit not found")
	ErrCharacterNotFound = New(CodeCharacterNotFound, "character not found")
	ErrImageNotFound     = New(CodeImageNotFound, "image not found")

	ErrGenerationFailed  = New(CodeGenerationFailed, "story generation failed")
	ErrEmptyCompletion   = New(CodeEmptyCompletion, "empty completion from provider")
	ErrMalformedOutput   = New(CodeMalformedOutput, "malformed structured output")
	ErrInvalidTransition = New(CodeInvalidTransition, "invalid image status transition")

	ErrTransportFailure = New(CodeTransportFailure, "provider transport failure")
	ErrProviderError    = New(CodeProviderError, "provider returned an error")
	ErrStorageFailure   = New(CodeStorageFailure, "durable asset save failed")
)

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}
