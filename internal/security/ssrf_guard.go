// Package security はユーザー入力を外部へ送出・表示する前の防御機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ServerGuard はユーザーが指定したCalDAVサーバーへの接続を制限する。
// アプリ用パスワードを内部ネットワークや平文の接続へ送らないために使用する。
type ServerGuard interface {
	// NewSafeClient はプライベートIP、ループバック、リンクローカル、メタデータIPへの接続を
	// 名前解決後に拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateServerURL はサーバーURLを接続前に静的に検証する。
	ValidateServerURL(rawURL string) error
}

// 認証情報を送るためhttpsの443番のみ許可する
var (
	allowedSchemes = []string{"https"}
	allowedPorts   = []int{443}
)

// blockedNetworks は名前解決を伴わない事前検証で拒否するネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // 169.254.169.254 を含む
		"0.0.0.0/8",
		"100.64.0.0/10",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// serverGuard はServerGuardの実装。
type serverGuard struct{}

// NewServerGuard はServerGuardを生成する。
func NewServerGuard() ServerGuard {
	return serverGuard{}
}

// NewSafeClient はsafeurlで接続先を検証するHTTPクライアントを生成する。
// safeurlはDialerのControlフックで解決後のIPを検証するため、DNS再バインディングにも効く。
func (serverGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(allowedPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateServerURL はCalDAVサーバーURLを検証する。
func (serverGuard) ValidateServerURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !containsString(allowedSchemes, scheme) {
		return fmt.Errorf("disallowed scheme: %q (allowed: %v)", scheme, allowedSchemes)
	}
	if parsed.User != nil {
		return fmt.Errorf("credentials must not be embedded in the server URL")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if port := parsed.Port(); port != "" && port != "443" {
		return fmt.Errorf("disallowed port: %s", port)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip)
			}
		}
		return nil
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".internal") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
