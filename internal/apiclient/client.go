// Package apiclient はバックエンドのコマンド/クエリAPIに対するJSONクライアントを提供する。
//
// 2xx以外のレスポンスは本文の {"code","message","provider"} を*classify.ProviderErrorに変換し、
// classify.RawCodeで生コードを取り出せるようにする。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RamXX/tminus-sub003/internal/calendar"
	"github.com/RamXX/tminus-sub003/internal/classify"
	"github.com/RamXX/tminus-sub003/internal/model"
	"github.com/RamXX/tminus-sub003/internal/onboarding"
	"github.com/RamXX/tminus-sub003/internal/telemetry"
)

// SessionTokenHeader はセッションスコープのリクエストに付けるトークンのヘッダー名。
const SessionTokenHeader = "X-Session-Token"

// maxResponseSize はレスポンス本文の最大読み込みサイズ。
const maxResponseSize = 1 << 20

// Client はバックエンドAPIのクライアント。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New はClientを生成する。httpClientがnilの場合は10秒タイムアウトのクライアントを使用する。
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     slog.Default(),
	}
}

var _ calendar.EventAPI = (*Client)(nil)

// errorBody はAPIのエラーレスポンス。
type errorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Provider string `json:"provider"`
}

// ListEvents はイベント一覧を取得する。
func (c *Client) ListEvents(ctx context.Context) ([]model.CalendarEvent, error) {
	var events []model.CalendarEvent
	if err := c.doJSON(ctx, http.MethodGet, "/api/events", "", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CreateEvent はイベントを作成し、サーバーが確定したイベントを返す。
func (c *Client) CreateEvent(ctx context.Context, draft model.EventDraft) (model.CalendarEvent, error) {
	var event model.CalendarEvent
	err := c.doJSON(ctx, http.MethodPost, "/api/events", "", draft, &event)
	return event, err
}

// UpdateEvent はpatchで指定したフィールドのみを更新する。
func (c *Client) UpdateEvent(ctx context.Context, id string, patch model.EventPatch) (model.CalendarEvent, error) {
	var event model.CalendarEvent
	err := c.doJSON(ctx, http.MethodPatch, "/api/events/"+url.PathEscape(id), "", patch, &event)
	return event, err
}

// DeleteEvent はイベントを削除する。
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/events/"+url.PathEscape(id), "", nil, nil)
}

// CreateSession は新しいオンボーディングセッションを作成する。
func (c *Client) CreateSession(ctx context.Context, userID string) (model.OnboardingSession, error) {
	req, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return model.OnboardingSession{}, fmt.Errorf("failed to encode request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, "/api/onboarding/sessions", "", bytes.NewReader(req))
	if err != nil {
		return model.OnboardingSession{}, err
	}
	session, ok := onboarding.Deserialize(body)
	if !ok {
		return model.OnboardingSession{}, fmt.Errorf("malformed session in create response")
	}
	return session, nil
}

// GetSession はセッションを取得する。
// 存在しない場合、および本文を復元できない場合はnilを返す。後者は警告をログに残す。
func (c *Client) GetSession(ctx context.Context, sessionID, token string) (*model.OnboardingSession, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/onboarding/sessions/"+url.PathEscape(sessionID), token, nil)
	if err != nil {
		var pe *classify.ProviderError
		if errors.As(err, &pe) && pe.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	session, ok := onboarding.Deserialize(body)
	if !ok {
		c.logger.WarnContext(ctx, "破損したセッションを読み飛ばしました",
			slog.String("session_id", sessionID),
			slog.Int("body_bytes", len(body)),
		)
		return nil, nil
	}
	return &session, nil
}

// UpdateSession はシリアライズしたセッションで保存内容を上書きする（後勝ち）。
func (c *Client) UpdateSession(ctx context.Context, session model.OnboardingSession) error {
	data, err := onboarding.Serialize(session)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	_, err = c.do(ctx, http.MethodPut, "/api/onboarding/sessions/"+url.PathEscape(session.SessionID), session.SessionToken, bytes.NewReader(data))
	return err
}

// SendTelemetry はエラーテレメトリイベントを送信する。
func (c *Client) SendTelemetry(ctx context.Context, event model.ErrorTelemetryEvent) error {
	return c.doJSON(ctx, http.MethodPost, "/api/telemetry/errors", "", event, nil)
}

// TelemetrySink はSendTelemetryをtelemetry.Sinkとして使うアダプターを返す。
// 送信の失敗はログに記録して破棄する。
func (c *Client) TelemetrySink(logger *slog.Logger) telemetry.Sink {
	return telemetry.SinkFunc(func(ctx context.Context, e model.ErrorTelemetryEvent) {
		if err := c.SendTelemetry(ctx, e); err != nil {
			logger.Warn("テレメトリの送信に失敗しました",
				slog.String("event_id", e.EventID),
				slog.String("error", err.Error()),
			)
		}
	})
}

// doJSON はinをJSONで送り、レスポンス本文をoutにデコードする。outがnilの場合は本文を読み捨てる。
func (c *Client) doJSON(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s request: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	respBody, err := c.do(ctx, method, path, token, body)
	if err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse %s %s response: %w", method, path, err)
	}
	return nil
}

// do はリクエストを送信し、2xx以外のレスポンスを*classify.ProviderErrorに変換する。
// トランスポートの失敗はそのまま返し、タイムアウトや接続拒否はclassify.RawCodeで判別できる。
func (c *Client) do(ctx context.Context, method, path, token string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(SessionTokenHeader, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pe := &classify.ProviderError{
			Origin: classify.OriginAPI,
			Code:   codeForStatus(resp.StatusCode),
			Status: resp.StatusCode,
		}
		var eb errorBody
		if json.Unmarshal(respBody, &eb) == nil && eb.Code != "" {
			pe.Code = eb.Code
			pe.Provider = eb.Provider
			pe.Detail = eb.Message
		}
		return nil, pe
	}
	return respBody, nil
}

// codeForStatus は本文にコードがない場合にHTTPステータスから生コードを決める。
func codeForStatus(status int) string {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return classify.CodeTimeout
	case status == http.StatusTooManyRequests || status >= 500:
		return "temporarily_unavailable"
	case status == http.StatusUnauthorized:
		return classify.CodeSessionExpired
	default:
		return classify.CodeUnknown
	}
}
