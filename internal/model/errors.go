package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, onboarding, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSessionNotFound  = "SESSION_NOT_FOUND"
	ErrCodeInvalidSession   = "INVALID_SESSION"
	ErrCodeSessionForbidden = "SESSION_FORBIDDEN"
	ErrCodeUnknownProvider  = "UNKNOWN_PROVIDER"
	ErrCodeAccountNotFound  = "ACCOUNT_NOT_FOUND"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInvalidTelemetry = "INVALID_TELEMETRY"
	ErrCodeEventNotFound    = "EVENT_NOT_FOUND"
	ErrCodeEventPending     = "EVENT_PENDING"
)

// NewSessionNotFoundError はセッション未検出エラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("We couldn't find that setup session: %s", sessionID),
		Category: "onboarding",
		Action:   "Start the setup again.",
	}
}

// NewInvalidSessionError は破損したセッション本文に対するエラーを生成する。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "The setup details sent were incomplete.",
		Category: "validation",
		Action:   "Reload the page and try again.",
	}
}

// NewSessionForbiddenError はセッショントークン不一致のエラーを生成する。
func NewSessionForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionForbidden,
		Message:  "This setup session belongs to a different browser.",
		Category: "auth",
		Action:   "Start the setup again from this browser.",
	}
}

// NewUnknownProviderError は未対応プロバイダーのエラーを生成する。
func NewUnknownProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("We don't support connecting %s yet.", provider),
		Category: "validation",
		Action:   "Choose Google, Microsoft or Apple.",
	}
}

// NewAccountNotFoundError はセッション内にアカウントがない場合のエラーを生成する。
func NewAccountNotFoundError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("That account isn't part of this setup: %s", accountID),
		Category: "onboarding",
		Action:   "Refresh the page to see your connected accounts.",
	}
}

// NewInvalidRequestError はリクエスト本文の検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Some details were missing: %s", reason),
		Category: "validation",
		Action:   "Check the form and try again.",
	}
}

// NewInvalidTelemetryError はテレメトリイベントの検証エラーを生成する。
func NewInvalidTelemetryError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTelemetry,
		Message:  "The error report could not be read.",
		Category: "validation",
		Action:   "No action is needed.",
	}
}

// NewEventNotFoundError はローカルのイベント一覧にないイベントへの操作エラーを生成する。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("That event is no longer on your calendar: %s", eventID),
		Category: "validation",
		Action:   "Refresh your calendar and try again.",
	}
}

// NewEventPendingError は保存中のイベントへの変更・削除エラーを生成する。
func NewEventPendingError() *APIError {
	return &APIError{
		Code:     ErrCodeEventPending,
		Message:  "That event is still being saved.",
		Category: "validation",
		Action:   "Wait a moment, then try again.",
	}
}
