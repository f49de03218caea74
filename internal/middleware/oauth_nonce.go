package middleware

import (
	"net/http"
	"strings"
)

// nonceCookiePrefix はOAuthのnonceを保持するCookie名の接頭辞。
// プロバイダーごとに分け、複数タブで別プロバイダーの連携を並行しても上書きしない。
const nonceCookiePrefix = "oauth_nonce_"

// nonceMaxAge はnonce Cookieの有効期間（秒）。
const nonceMaxAge = 600

// CookieConfig はCookie発行時の属性。
type CookieConfig struct {
	Secure bool
	Domain string
}

// SetOAuthNonce はOAuthフロー開始時のnonceをHTTP Only Cookieに保存する。
// コールバック時にstateパラメータ内のnonceと照合する。
func SetOAuthNonce(w http.ResponseWriter, config CookieConfig, provider, nonce string) {
	http.SetCookie(w, &http.Cookie{
		Name:     nonceCookieName(provider),
		Value:    nonce,
		Path:     "/auth/",
		Domain:   config.Domain,
		MaxAge:   nonceMaxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// OAuthNonce はコールバックリクエストからnonceを読み取る。Cookieがない場合は空文字を返す。
func OAuthNonce(r *http.Request, provider string) string {
	cookie, err := r.Cookie(nonceCookieName(provider))
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ClearOAuthNonce はnonce Cookieを削除する。nonceは1回のコールバックでのみ使う。
func ClearOAuthNonce(w http.ResponseWriter, config CookieConfig, provider string) {
	http.SetCookie(w, &http.Cookie{
		Name:     nonceCookieName(provider),
		Value:    "",
		Path:     "/auth/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func nonceCookieName(provider string) string {
	return nonceCookiePrefix + strings.ToLower(provider)
}
