package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/RamXX/tminus-sub003/internal/classify"
)

func TestGoogleOAuthProvider_GetLoginURL_ContainsRequiredParams(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "test-client-id",
		RedirectURL: "http://localhost:8080/auth/google/callback",
	})

	loginURL := provider.GetLoginURL("test-state-value")

	u, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("URLのパースに失敗: %v", err)
	}
	q := u.Query()

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"client_id", "client_id", "test-client-id"},
		{"redirect_uri", "redirect_uri", "http://localhost:8080/auth/google/callback"},
		{"state", "state", "test-state-value"},
		{"response_type", "response_type", "code"},
		{"access_type", "access_type", "offline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := q.Get(tt.key); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
	if !strings.Contains(q.Get("scope"), googleCalendarScope) {
		t.Errorf("scope にカレンダー権限が含まれていない: %q", q.Get("scope"))
	}
}

func TestGoogleOAuthProvider_GetLoginURL_PreservesOpaqueState(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{ClientID: "id"})
	state := "eyJzZXNzaW9uX2lkIjoicyJ9=="

	u, _ := url.Parse(provider.GetLoginURL(state))
	if got := u.Query().Get("state"); got != state {
		t.Errorf("state = %q, want %q", got, state)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_Success(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("フォームのパースに失敗: %v", err)
		}
		if r.Form.Get("code") != "test-auth-code" || r.Form.Get("grant_type") != "authorization_code" {
			t.Errorf("unexpected form: %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "test-access-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "test-refresh-token",
		})
	}))
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "Bearer test-access-token" {
			t.Errorf("unexpected Authorization header: %q", authHeader)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sub":   "google-sub-12345",
			"email": "user@gmail.com",
		})
	}))
	defer userInfoServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		TokenURL:     tokenServer.URL,
		UserInfoURL:  userInfoServer.URL,
	})

	account, err := provider.ExchangeCode(context.Background(), "test-auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if account.Provider != "google" {
		t.Errorf("provider = %q, want %q", account.Provider, "google")
	}
	if account.ProviderAccountID != "google-sub-12345" {
		t.Errorf("providerAccountID = %q, want %q", account.ProviderAccountID, "google-sub-12345")
	}
	if account.Email != "user@gmail.com" {
		t.Errorf("email = %q, want %q", account.Email, "user@gmail.com")
	}
}

func TestGoogleOAuthProvider_ExchangeCode_TokenErrorCarriesProviderCode(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":             "invalid_grant",
			"error_description": "Code was already redeemed.",
		})
	}))
	defer tokenServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		TokenURL:     tokenServer.URL,
	})

	_, err := provider.ExchangeCode(context.Background(), "invalid-code")
	if err == nil {
		t.Fatal("expected error from ExchangeCode with invalid code")
	}

	var pe *classify.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("ProviderError が取り出せない: %v", err)
	}
	if pe.Code != "invalid_grant" || pe.Status != http.StatusBadRequest || pe.Provider != "google" {
		t.Errorf("ProviderError = %+v", pe)
	}
	if pe.Origin != classify.OriginOAuth {
		t.Errorf("Origin = %q, want oauth", pe.Origin)
	}
	if got := classify.RawCode(err); got != "invalid_grant" {
		t.Errorf("RawCode = %q, want invalid_grant", got)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_StatusWithoutBody(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusServiceUnavailable, "server_error"},
		{http.StatusTooManyRequests, "rate_limited"},
		{http.StatusGatewayTimeout, classify.CodeTimeout},
		{http.StatusTeapot, classify.CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			provider := NewGoogleOAuthProvider(GoogleOAuthConfig{TokenURL: srv.URL})
			_, err := provider.ExchangeCode(context.Background(), "code")
			if got := classify.RawCode(err); got != tt.want {
				t.Errorf("RawCode = %q, want %q (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestGoogleOAuthProvider_ExchangeCode_UserInfoError(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer userInfoServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		TokenURL:     tokenServer.URL,
		UserInfoURL:  userInfoServer.URL,
	})

	_, err := provider.ExchangeCode(context.Background(), "valid-code")
	if err == nil {
		t.Fatal("expected error from ExchangeCode when user info fetch fails")
	}
	if got := classify.RawCode(err); got != "expired_token" {
		t.Errorf("RawCode = %q, want expired_token", got)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_EmptyAccessToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"token_type": "Bearer"})
	}))
	defer tokenServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{TokenURL: tokenServer.URL})
	_, err := provider.ExchangeCode(context.Background(), "code")
	if got := classify.RawCode(err); got != "invalid_grant" {
		t.Errorf("RawCode = %q, want invalid_grant", got)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{TokenURL: addr})
	_, err := provider.ExchangeCode(context.Background(), "code")
	if got := classify.RawCode(err); got != classify.CodeConnectionRefused {
		t.Errorf("RawCode = %q, want connection_refused (err=%v)", got, err)
	}
}
