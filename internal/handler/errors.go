// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/RamXX/tminus-sub003/internal/middleware"
	"github.com/RamXX/tminus-sub003/internal/model"
	"github.com/RamXX/tminus-sub003/internal/retry"
)

// maxBodyBytes はリクエストボディの上限。
const maxBodyBytes = 64 << 10

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
//
// *model.APIErrorは検証・参照系のエラー、*retry.Errorは外部プロバイダーとの通信で
// 分類済みの失敗として扱う。それ以外は内部エラーとする。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	if re, ok := retry.AsError(err); ok {
		slog.Warn("provider operation failed",
			slog.String("code", re.Classified.Code),
			slog.String("provider", re.Classified.Provider),
			slog.String("severity", string(re.Classified.Severity)),
			slog.Int("attempts", re.Attempts),
			slog.String("path", r.URL.Path),
		)
		middleware.WriteClassifiedError(w, classifiedStatus(re), re.Classified)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error",
		slog.String("error", err.Error()),
		slog.String("path", r.URL.Path),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeSessionNotFound, model.ErrCodeAccountNotFound, model.ErrCodeEventNotFound:
		return http.StatusNotFound
	case model.ErrCodeSessionForbidden:
		return http.StatusForbidden
	case model.ErrCodeInvalidSession, model.ErrCodeInvalidRequest, model.ErrCodeInvalidTelemetry:
		return http.StatusBadRequest
	case model.ErrCodeUnknownProvider:
		return http.StatusNotFound
	case model.ErrCodeEventPending:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// classifiedStatus は分類済みの失敗に対するステータスコードを返す。
// 一時的な失敗は503、ユーザーの操作が必要な失敗は422とする。
func classifiedStatus(re *retry.Error) int {
	if re.Classified.IsTransient() {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnprocessableEntity
}

// decodeJSON はリクエストボディをJSONとして読み込む。
// 失敗した場合はINVALID_REQUESTを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "We couldn't read that request.",
			Category: "validation",
			Action:   "Reload the page and try again.",
		})
		return false
	}
	return true
}

// readBody はリクエストボディを上限付きで読み込む。
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "That request was too large.",
			Category: "validation",
			Action:   "Reload the page and try again.",
		})
		return nil, false
	}
	return body, true
}

// writeJSON はvをJSONで書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
