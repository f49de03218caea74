// Package caldav はアプリ用パスワードによるCalDAVアカウント（Apple）の接続確認を提供する。
//
// 接続確認はcurrent-user-principal → calendar-home-set → カレンダー一覧の順に辿り、
// 見つかったカレンダー数を返す。探索はgo-webdavのCalDAVクライアントで行う。
package caldav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/RamXX/tminus-sub003/internal/classify"
)

// Credentials はCalDAVサーバーへの接続情報。
type Credentials struct {
	ServerURL   string // 空の場合はProberの既定サーバー
	Username    string
	AppPassword string
}

// Prober はCalDAV認証情報が有効かを確認する。
type Prober struct {
	client        *http.Client
	defaultServer string
	validate      func(rawURL string) error
	logger        *slog.Logger
}

// NewProber はProberを生成する。
// validateがnilでない場合、接続前と探索中に送るすべてのリクエストのURLを検証する。
func NewProber(client *http.Client, defaultServer string, validate func(rawURL string) error, logger *slog.Logger) *Prober {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Prober{
		client:        client,
		defaultServer: defaultServer,
		validate:      validate,
		logger:        logger,
	}
}

// Probe は認証情報でサーバーに接続し、アカウントのカレンダー数を返す。
// 失敗はclassify.RawCodeで生コードを取り出せるエラーとして返す。
func (p *Prober) Probe(ctx context.Context, creds Credentials) (int, error) {
	server := creds.ServerURL
	if server == "" {
		server = p.defaultServer
	}
	if creds.Username == "" || creds.AppPassword == "" {
		return 0, p.fail(0, classify.CodeInvalidCredentials, "missing username or app password")
	}
	base, err := p.checkURL(server)
	if err != nil {
		return 0, err
	}

	rec := &recordingClient{client: p.client, validate: p.validate}
	dav, err := caldav.NewClient(webdav.HTTPClientWithBasicAuth(rec, creds.Username, creds.AppPassword), base.String())
	if err != nil {
		return 0, p.fail(0, "blocked_server", "invalid server URL")
	}

	start := time.Now()

	principal, err := dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return 0, p.translate(rec, err)
	}
	home, err := dav.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return 0, p.translate(rec, err)
	}
	calendars, err := dav.FindCalendars(ctx, home)
	if err != nil {
		return 0, p.translate(rec, err)
	}

	p.logger.Info("CalDAVアカウントの接続を確認しました",
		slog.String("host", base.Host),
		slog.Int("calendar_count", len(calendars)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return len(calendars), nil
}

// translate はクライアントのエラーを生コード付きのエラーに変換する。
// 失敗した応答のステータス、送信前の検証、通信エラーの順に原因を判断する。
func (p *Prober) translate(rec *recordingClient, err error) error {
	status, blocked, transportErr := rec.failure()
	switch {
	case blocked != nil:
		return p.fail(0, "blocked_server", blocked.Error())
	case status != 0:
		return p.fail(status, codeForStatus(status), http.StatusText(status))
	case transportErr != nil:
		return fmt.Errorf("caldav request failed: %w", transportErr)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return err
	default:
		return p.fail(0, classify.CodeUnknown, "malformed multistatus response")
	}
}

// recordingClient はwebdav.HTTPClientとしてリクエストを送り、最後の失敗の原因を記録する。
// 送信前にURLを検証するため、探索中に得たhrefもガードを通る。
type recordingClient struct {
	client   *http.Client
	validate func(rawURL string) error

	mu        sync.Mutex
	status    int
	blocked   error
	transport error
}

var _ webdav.HTTPClient = (*recordingClient)(nil)

func (c *recordingClient) Do(req *http.Request) (*http.Response, error) {
	if c.validate != nil {
		if err := c.validate(req.URL.String()); err != nil {
			c.mu.Lock()
			c.blocked = err
			c.mu.Unlock()
			return nil, err
		}
	}
	resp, err := c.client.Do(req)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.transport = err
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.status = resp.StatusCode
	}
	return resp, nil
}

func (c *recordingClient) failure() (int, error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.blocked, c.transport
}

func (p *Prober) checkURL(raw string) (*url.URL, error) {
	if p.validate != nil {
		if err := p.validate(raw); err != nil {
			return nil, p.fail(0, "blocked_server", err.Error())
		}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, p.fail(0, "blocked_server", "invalid server URL")
	}
	return u, nil
}

func (p *Prober) fail(status int, code, detail string) error {
	return &classify.ProviderError{
		Origin:   classify.OriginCalDAV,
		Provider: classify.ProviderApple,
		Code:     code,
		Status:   status,
		Detail:   detail,
	}
}

// codeForStatus はHTTPステータスをCalDAVの生コードに対応付ける。
func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return classify.CodeInvalidCredentials
	case status == http.StatusForbidden:
		return classify.CodeVerificationRequired
	case status == http.StatusTooManyRequests || status >= 500:
		return "server_error"
	default:
		return classify.CodeUnknown
	}
}
