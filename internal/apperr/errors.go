// Package apperr 定義服務層錯誤分類，供傳輸層映射為狀態碼。
package apperr

import (
	"errors"
	"fmt"
)

// Kind 錯誤類別
type Kind string

const (
	KindValidation Kind = "validation_error"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindDependency Kind = "dependency_failure"
)

// 哨兵錯誤，配合 errors.Is 使用
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrForbidden  = &Error{Kind: KindForbidden}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrDependency = &Error{Kind: KindDependency}

	// ErrNotParticipant 用戶不是會話參與者
	ErrNotParticipant = Forbidden("not a participant of this conversation")
)

// Error 帶類別的錯誤
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同類別即視為相同
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Validation 輸入驗證錯誤
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Forbidden 權限不足
func Forbidden(message string) error {
	return &Error{Kind: KindForbidden, Message: message}
}

// NotFound 資源不存在或已刪除
func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Conflict 並發衝突
func Conflict(message string, err error) error {
	return &Error{Kind: KindConflict, Message: message, Err: err}
}

// Dependency 存儲或推送依賴失敗
func Dependency(message string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindDependency, Message: message, Err: err}
}

// KindOf 取得錯誤類別，未分類的錯誤返回空字串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
