package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/RamXX/tminus-sub003/internal/middleware"
	"github.com/RamXX/tminus-sub003/internal/model"
	"github.com/RamXX/tminus-sub003/internal/onboarding"
	"github.com/RamXX/tminus-sub003/internal/retry"
)

// OAuthHandlerConfig はOAuthハンドラーの設定。
type OAuthHandlerConfig struct {
	BaseURL      string // コールバック後に戻るフロントエンドのURL
	CookieDomain string
	CookieSecure bool
}

// OAuthHandler はカレンダープロバイダーとのOAuth連携のHTTPハンドラー。
type OAuthHandler struct {
	service OnboardingServiceInterface
	config  OAuthHandlerConfig
}

// NewOAuthHandler はOAuthHandlerを生成する。
func NewOAuthHandler(service OnboardingServiceInterface, config OAuthHandlerConfig) *OAuthHandler {
	return &OAuthHandler{
		service: service,
		config:  config,
	}
}

type connectResponse struct {
	RedirectURL string `json:"redirect_url"`
}

func (h *OAuthHandler) cookieConfig() middleware.CookieConfig {
	return middleware.CookieConfig{Secure: h.config.CookieSecure, Domain: h.config.CookieDomain}
}

// Connect はOAuthフローを開始する。
// ポップアップを開く前にSPAからfetchで呼ばれるため、リダイレクトではなくURLをJSONで返す。
// GET /auth/{provider}/connect?session_id=xxx
func (h *OAuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("session_id"))
		return
	}
	token, _ := middleware.SessionTokenFromContext(r.Context())

	redirectURL, nonce, err := h.service.BeginOAuth(r.Context(), sessionID, token, provider)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	// nonceをCookieに保存（stateの偽造対策）
	middleware.SetOAuthNonce(w, h.cookieConfig(), provider, nonce)
	writeJSON(w, http.StatusOK, connectResponse{RedirectURL: redirectURL})
}

// Callback はOAuthコールバックを処理する。
// 成否にかかわらずフロントエンドのオンボーディング画面へリダイレクトし、
// 失敗時は分類済みのエラーコードをクエリに付ける。
// GET /auth/{provider}/callback?code=xxx&state=yyy
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()
	nonce := middleware.OAuthNonce(r, provider)

	// nonceクッキーを削除（1回限り）
	middleware.ClearOAuthNonce(w, h.cookieConfig(), provider)

	params := url.Values{}
	params.Set("provider", provider)
	if state, ok := onboarding.ParseOAuthState(q.Get("state")); ok {
		params.Set("session_id", state.SessionID)
	}

	_, err := h.service.CompleteOAuth(r.Context(), provider, q.Get("state"), nonce, q.Get("code"), q.Get("error"))
	if err != nil {
		var apiErr *model.APIError
		switch re, ok := retry.AsError(err); {
		case ok:
			params.Set("error", re.Classified.Code)
		case errors.As(err, &apiErr):
			params.Set("error", strings.ToLower(apiErr.Code))
		default:
			slog.Error("oauth callback failed",
				slog.String("provider", provider),
				slog.String("error", err.Error()),
			)
			params.Set("error", "unknown")
		}
	} else {
		params.Set("connected", "1")
	}

	http.Redirect(w, r, h.frontendURL(params), http.StatusSeeOther)
}

func (h *OAuthHandler) frontendURL(params url.Values) string {
	return strings.TrimSuffix(h.config.BaseURL, "/") + "/onboarding?" + params.Encode()
}
