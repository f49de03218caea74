package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/RamXX/tminus-sub003/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。分類済みエラーの場合は深刻度と復旧操作も含む。
type ErrorResponseBody struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	Category       string `json:"category"`
	Action         string `json:"action"`
	Severity       string `json:"severity,omitempty"`
	RecoveryAction string `json:"recovery_action,omitempty"`
	RecoveryLabel  string `json:"recovery_label,omitempty"`
	Provider       string `json:"provider,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeErrorBody(w, statusCode, ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteClassifiedError は分類済みエラーを統一エラーフォーマットで書き込む。
// UIは再分類せずにmessageとrecovery_labelをそのまま表示できる。
func WriteClassifiedError(w http.ResponseWriter, statusCode int, classified model.ClassifiedError) {
	writeErrorBody(w, statusCode, ErrorResponseBody{
		Code:           classified.Code,
		Message:        classified.Message,
		Category:       "connection",
		Action:         classified.RecoveryLabel,
		Severity:       string(classified.Severity),
		RecoveryAction: string(classified.RecoveryAction),
		RecoveryLabel:  classified.RecoveryLabel,
		Provider:       classified.Provider,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "Something went wrong on our side.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	})
}

func writeErrorBody(w http.ResponseWriter, statusCode int, body ErrorResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
