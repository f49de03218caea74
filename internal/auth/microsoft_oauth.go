package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultMicrosoftAuthURL     = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	defaultMicrosoftTokenURL    = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	defaultMicrosoftUserInfoURL = "https://graph.microsoft.com/oidc/userinfo"
)

// MicrosoftOAuthConfig はMicrosoft（Outlook）OAuthプロバイダーの設定。
type MicrosoftOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// MicrosoftOAuthProvider はMicrosoftカレンダーのOAuth 2.0連携を提供する。
type MicrosoftOAuthProvider struct {
	config MicrosoftOAuthConfig
}

// NewMicrosoftOAuthProvider はMicrosoftOAuthProviderを生成する。
func NewMicrosoftOAuthProvider(config MicrosoftOAuthConfig) *MicrosoftOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultMicrosoftAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultMicrosoftTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultMicrosoftUserInfoURL
	}
	return &MicrosoftOAuthProvider{config: config}
}

// Name はプロバイダー名を返す。
func (p *MicrosoftOAuthProvider) Name() string {
	return "microsoft"
}

// GetLoginURL はMicrosoft identity platformの認証URLを生成する。
func (p *MicrosoftOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"response_mode": {"query"},
		"scope":         {"openid email offline_access Calendars.ReadWrite"},
		"state":         {state},
		"prompt":        {"select_account"},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// microsoftUserInfo はMicrosoft Graphのuserinfoエンドポイントのレスポンス。
// 個人アカウントではemailが空になり、preferred_usernameにのみ入ることがある。
type microsoftUserInfo struct {
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、連携アカウントの情報を取得する。
func (p *MicrosoftOAuthProvider) ExchangeCode(ctx context.Context, code string) (*ConnectedAccount, error) {
	ep := endpoint{
		provider:     p.Name(),
		client:       p.config.HTTPClient,
		clientID:     p.config.ClientID,
		clientSecret: p.config.ClientSecret,
		redirectURL:  p.config.RedirectURL,
		tokenURL:     p.config.TokenURL,
		userInfoURL:  p.config.UserInfoURL,
	}

	tokenResp, err := ep.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	var info microsoftUserInfo
	if err := ep.fetchUserInfo(ctx, tokenResp.AccessToken, &info); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("empty sub in user info response")
	}

	email := info.Email
	if email == "" {
		email = info.PreferredUsername
	}

	return &ConnectedAccount{
		Provider:          p.Name(),
		ProviderAccountID: info.Sub,
		Email:             strings.ToLower(email),
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*MicrosoftOAuthProvider)(nil)
