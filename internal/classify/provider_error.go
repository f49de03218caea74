// Package classify は外部プロバイダーやトランスポートから得た生のエラーコードを
// transient / persistent の閉じた分類と、専門用語を含まないユーザー向け文言に変換する。
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/RamXX/tminus-sub003/internal/model"
)

// Origin はエラーの発生元の種別。
type Origin string

const (
	// OriginOAuth はOAuth系プロバイダー（Google, Microsoft）。
	OriginOAuth Origin = "oauth"
	// OriginCalDAV は認証情報を用いるプロバイダー（Apple）。
	OriginCalDAV Origin = "caldav"
	// OriginAPI はバックエンドのコマンド/クエリAPI。
	OriginAPI Origin = "api"
)

// ProviderError は生のエラーコードを取り出せる構造化された失敗。
// HTTPステータスだけでは分類に不十分なため、プロバイダー固有のコード文字列を保持する。
type ProviderError struct {
	Origin   Origin
	Provider string
	Code     string
	Status   int    // 0は不明
	Detail   string // ログ用。ユーザーには表示しない
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s error %q (status %d): %s", e.Provider, e.Origin, e.Code, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s error %q: %s", e.Provider, e.Origin, e.Code, e.Detail)
}

// RawCode はエラーから生のエラーコードを取り出す。
// ProviderErrorのコード、タイムアウト、接続拒否を認識し、それ以外は空文字列を返す。
func RawCode(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return CodeConnectionRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if strings.Contains(strings.ToLower(opErr.Err.Error()), "connection refused") {
			return CodeConnectionRefused
		}
		return CodeNetworkError
	}
	return ""
}

// Classifier はエラー発生元に応じて分類関数を選ぶ。
// retry.Doのclassify引数として使用する。
type Classifier struct {
	// Origin はProviderErrorを伴わない失敗（ネットワーク障害など）の扱いを決める。
	Origin Origin
	// Provider はユーザー向け文言に使うプロバイダー名。
	Provider string
}

// Classify はerrを分類する。
// ProviderErrorが発生元と提供者を持つ場合はそちらを優先する。
// 提供者のないバックエンドAPIの失敗は、接続ではなく保存の失敗として伝える。
func (c Classifier) Classify(err error) model.ClassifiedError {
	origin, provider := c.Origin, c.Provider
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Origin != "" {
			origin = pe.Origin
		}
		if pe.Provider != "" {
			provider = pe.Provider
		}
	}
	code := RawCode(err)
	switch {
	case origin == OriginCalDAV:
		return ClassifyCalDavError(code)
	case origin == OriginAPI && provider == "":
		return ClassifyAPIError(code)
	case origin == OriginAPI && strings.EqualFold(provider, ProviderApple):
		// バックエンドが中継した外部アカウントの失敗は、その提供者の表で分類する
		return ClassifyCalDavError(code)
	}
	return ClassifyOAuthError(code, provider)
}
