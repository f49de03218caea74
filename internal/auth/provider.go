// Package auth はカレンダー連携のためのOAuthプロバイダーとトークン生成を提供する。
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/RamXX/tminus-sub003/internal/classify"
)

// ConnectedAccount はOAuthで連携した外部アカウントの情報。
type ConnectedAccount struct {
	Provider          string // "google", "microsoft"
	ProviderAccountID string
	Email             string
}

// OAuthProvider はカレンダー連携用OAuthプロバイダーのインターフェース。
type OAuthProvider interface {
	// Name はプロバイダー名を返す。
	Name() string
	// GetLoginURL はOAuth認証URLを生成する。stateは変更されずにコールバックへ返される。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、連携アカウントの情報を取得する。
	// プロバイダーが返したエラーコードは*classify.ProviderErrorとして返す。
	ExchangeCode(ctx context.Context, code string) (*ConnectedAccount, error)
}

// Registry はプロバイダー名からOAuthProviderを引く。
type Registry map[string]OAuthProvider

// NewRegistry はRegistryを生成する。nilのプロバイダーは登録しない。
func NewRegistry(providers ...OAuthProvider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		if p != nil {
			r[p.Name()] = p
		}
	}
	return r
}

// Get は指定名のプロバイダーを返す。
func (r Registry) Get(name string) (OAuthProvider, bool) {
	p, ok := r[strings.ToLower(name)]
	return p, ok
}

// Names は登録済みのプロバイダー名を昇順で返す。
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// oauthErrorBody はOAuthエンドポイントのエラーレスポンス。
type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// endpoint はトークン交換とユーザー情報取得の共通処理。
type endpoint struct {
	provider     string
	client       *http.Client
	clientID     string
	clientSecret string
	redirectURL  string
	tokenURL     string
	userInfoURL  string
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (e endpoint) exchangeToken(ctx context.Context, code string) (*tokenResponse, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {e.clientID},
		"client_secret": {e.clientSecret},
		"redirect_uri":  {e.redirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := e.do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, &classify.ProviderError{
			Origin: classify.OriginOAuth, Provider: e.provider,
			Code: "invalid_grant", Status: http.StatusOK, Detail: "empty access token",
		}
	}

	return &tokenResp, nil
}

// fetchUserInfo はアクセストークンでユーザー情報を取得し、outにデコードする。
func (e endpoint) fetchUserInfo(ctx context.Context, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.userInfoURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, err := e.do(req)
	if err != nil {
		return fmt.Errorf("user info request failed: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse user info response: %w", err)
	}
	return nil
}

// do はリクエストを送信し、2xx以外のレスポンスを*classify.ProviderErrorに変換する。
func (e endpoint) do(req *http.Request) ([]byte, error) {
	client := e.client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pe := &classify.ProviderError{
			Origin:   classify.OriginOAuth,
			Provider: e.provider,
			Code:     codeForStatus(resp.StatusCode),
			Status:   resp.StatusCode,
		}
		var eb oauthErrorBody
		if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
			pe.Code = eb.Error
			pe.Detail = eb.ErrorDescription
		}
		return nil, pe
	}

	return body, nil
}

// codeForStatus はエラー本文にコードがない場合にHTTPステータスから生コードを決める。
func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "expired_token"
	case status == http.StatusForbidden:
		return "access_denied"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return classify.CodeTimeout
	case status >= 500:
		return "server_error"
	default:
		return classify.CodeUnknown
	}
}
