package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/RamXX/tminus-sub003/internal/caldav"
	"github.com/RamXX/tminus-sub003/internal/middleware"
	"github.com/RamXX/tminus-sub003/internal/model"
	"github.com/RamXX/tminus-sub003/internal/onboarding"
)

// OnboardingServiceInterface はオンボーディングハンドラーが必要とするサービスインターフェース。
type OnboardingServiceInterface interface {
	Start(ctx context.Context, userID string) (model.OnboardingSession, error)
	Get(ctx context.Context, sessionID, token string) (model.OnboardingSession, error)
	Resume(ctx context.Context, sessionID, token string) (*model.OnboardingSession, model.ResumeAction, error)
	Overwrite(ctx context.Context, sessionID, token string, body []byte) (model.OnboardingSession, error)
	BeginOAuth(ctx context.Context, sessionID, token, provider string) (string, string, error)
	CompleteOAuth(ctx context.Context, provider, stateParam, expectedNonce, code, providerErr string) (model.OnboardingSession, error)
	ConnectCalDAV(ctx context.Context, sessionID, token string, creds caldav.Credentials) (model.OnboardingSession, error)
	SetAccountStatus(ctx context.Context, sessionID, token, accountID string, status model.AccountStatus, calendarCount *int) (model.OnboardingSession, error)
	Complete(ctx context.Context, sessionID, token string) (model.OnboardingSession, error)
	Watch(ctx context.Context, sessionID string, interval time.Duration) <-chan model.OnboardingSession
}

// OnboardingHandler はオンボーディングセッションのHTTPハンドラー。
// セッション本文は常にワイヤ形式でやり取りする。
type OnboardingHandler struct {
	service       OnboardingServiceInterface
	watchInterval time.Duration
}

// NewOnboardingHandler はOnboardingHandlerを生成する。
func NewOnboardingHandler(service OnboardingServiceInterface, watchInterval time.Duration) *OnboardingHandler {
	if watchInterval <= 0 {
		watchInterval = 2 * time.Second
	}
	return &OnboardingHandler{
		service:       service,
		watchInterval: watchInterval,
	}
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

type connectCalDAVRequest struct {
	Username    string `json:"username"`
	AppPassword string `json:"app_password"`
	ServerURL   string `json:"server_url"`
}

type updateAccountRequest struct {
	Status        model.AccountStatus `json:"status"`
	CalendarCount *int                `json:"calendar_count"`
}

// resumeResponse は再訪時の応答。セッションがない場合sessionはnullになる。
type resumeResponse struct {
	Action  model.ResumeAction `json:"action"`
	Session json.RawMessage    `json:"session"`
}

// CreateSession は新しいセッションを開始する。
// POST /api/onboarding/sessions
func (h *OnboardingHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.Start(r.Context(), req.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSession(w, r, http.StatusCreated, session)
}

// GetSession はセッションを返す。
// GET /api/onboarding/sessions/{id}
func (h *OnboardingHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, token := sessionParams(r)
	session, err := h.service.Get(r.Context(), id, token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSession(w, r, http.StatusOK, session)
}

// PutSession は別タブで更新されたセッション本文で保存内容を置き換える。
// PUT /api/onboarding/sessions/{id}
func (h *OnboardingHandler) PutSession(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	id, token := sessionParams(r)
	session, err := h.service.Overwrite(r.Context(), id, token, body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSession(w, r, http.StatusOK, session)
}

// ResumeSession は再訪時にUIが取るべき動作を返す。
// GET /api/onboarding/sessions/{id}/resume
func (h *OnboardingHandler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	id, token := sessionParams(r)
	session, action, err := h.service.Resume(r.Context(), id, token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := resumeResponse{Action: action, Session: json.RawMessage("null")}
	if session != nil {
		data, err := onboarding.Serialize(*session)
		if err != nil {
			handleServiceError(w, r, fmt.Errorf("failed to serialize session: %w", err))
			return
		}
		resp.Session = data
	}
	writeJSON(w, http.StatusOK, resp)
}

// ConnectCalDAV はアプリ用パスワードでAppleカレンダーを連携する。
// POST /api/onboarding/sessions/{id}/caldav
func (h *OnboardingHandler) ConnectCalDAV(w http.ResponseWriter, r *http.Request) {
	var req connectCalDAVRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, token := sessionParams(r)
	session, err := h.service.ConnectCalDAV(r.Context(), id, token, caldav.Credentials{
		ServerURL:   req.ServerURL,
		Username:    req.Username,
		AppPassword: req.AppPassword,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSession(w, r, http.StatusOK, session)
}

// UpdateAccount は連携アカウントの状態を更新する。
// PATCH /api/onboarding/sessions/{id}/accounts/{accountID}
func (h *OnboardingHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, token := sessionParams(r)
	session, err := h.service.SetAccountStatus(r.Context(), id, token, chi.URLParam(r, "accountID"), req.Status, req.CalendarCount)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSession(w, r, http.StatusOK, session)
}

// CompleteSession はセッションを完了させる。
// POST /api/onboarding/sessions/{id}/complete
func (h *OnboardingHandler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	id, token := sessionParams(r)
	session, err := h.service.Complete(r.Context(), id, token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSession(w, r, http.StatusOK, session)
}

// WatchSession はセッションの更新をServer-Sent Eventsで配信する。
// 他のタブでの変更を反映するため、保存済みセッションが更新されるたびにsessionイベントを送る。
// GET /api/onboarding/sessions/{id}/watch
func (h *OnboardingHandler) WatchSession(w http.ResponseWriter, r *http.Request) {
	id, token := sessionParams(r)
	if _, err := h.service.Get(r.Context(), id, token); err != nil {
		handleServiceError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for session := range h.service.Watch(r.Context(), id, h.watchInterval) {
		data, err := onboarding.Serialize(session)
		if err != nil {
			slog.Error("failed to serialize session", slog.String("session_id", id), slog.String("error", err.Error()))
			return
		}
		if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", data); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// sessionParams はURLのセッションIDとコンテキストのセッショントークンを返す。
func sessionParams(r *http.Request) (string, string) {
	token, _ := middleware.SessionTokenFromContext(r.Context())
	return chi.URLParam(r, "id"), token
}

// writeSession はセッションをワイヤ形式で書き込む。
func writeSession(w http.ResponseWriter, r *http.Request, statusCode int, session model.OnboardingSession) {
	data, err := onboarding.Serialize(session)
	if err != nil {
		handleServiceError(w, r, fmt.Errorf("failed to serialize session: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(data)
}
