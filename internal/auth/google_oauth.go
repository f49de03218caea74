package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	googleCalendarScope = "https://www.googleapis.com/auth/calendar"
)

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// HTTPClient がnilの場合はhttp.DefaultClientを使用する
	HTTPClient *http.Client
}

// GoogleOAuthProvider はGoogleカレンダーのOAuth 2.0連携を提供する。
type GoogleOAuthProvider struct {
	config GoogleOAuthConfig
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	return &GoogleOAuthProvider{config: config}
}

// Name はプロバイダー名を返す。
func (p *GoogleOAuthProvider) Name() string {
	return "google"
}

// GetLoginURL はGoogle OAuthの認証URLを生成する。
// カレンダーの読み書きとオフラインアクセスを要求し、毎回同意画面を表示する。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email " + googleCalendarScope},
		"state":         {state},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、連携アカウントの情報を取得する。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*ConnectedAccount, error) {
	ep := p.endpoint()

	// 1. 認可コードをアクセストークンに交換
	tokenResp, err := ep.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	// 2. アクセストークンでユーザー情報を取得
	var info googleUserInfo
	if err := ep.fetchUserInfo(ctx, tokenResp.AccessToken, &info); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("empty sub in user info response")
	}

	return &ConnectedAccount{
		Provider:          p.Name(),
		ProviderAccountID: info.Sub,
		Email:             info.Email,
	}, nil
}

func (p *GoogleOAuthProvider) endpoint() endpoint {
	return endpoint{
		provider:     p.Name(),
		client:       p.config.HTTPClient,
		clientID:     p.config.ClientID,
		clientSecret: p.config.ClientSecret,
		redirectURL:  p.config.RedirectURL,
		tokenURL:     p.config.TokenURL,
		userInfoURL:  p.config.UserInfoURL,
	}
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
