package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RamXX/tminus-sub003/internal/auth"
	"github.com/RamXX/tminus-sub003/internal/caldav"
	"github.com/RamXX/tminus-sub003/internal/classify"
	"github.com/RamXX/tminus-sub003/internal/metrics"
	"github.com/RamXX/tminus-sub003/internal/model"
	"github.com/RamXX/tminus-sub003/internal/repository"
	"github.com/RamXX/tminus-sub003/internal/retry"
	"github.com/RamXX/tminus-sub003/internal/telemetry"
)

// CredentialProber は認証情報でCalDAVアカウントへの接続を確認する。
type CredentialProber interface {
	Probe(ctx context.Context, creds caldav.Credentials) (int, error)
}

// Config はServiceの動作設定。
type Config struct {
	SessionTTL time.Duration // 最後の書き込みからセッションを保持する期間
	MaxRetries int
	BaseDelay  time.Duration
}

// Service はオンボーディングフローのサービス層。
// 状態遷移は純粋関数に任せ、永続化・外部プロバイダーとの通信・リトライ・テレメトリ送出を担う。
type Service struct {
	repo      repository.OnboardingSessionRepository
	providers auth.Registry
	prober    CredentialProber
	sink      telemetry.Sink
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	config    Config

	clock Clock
	sleep retry.SleepFunc
	newID func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.OnboardingSessionRepository,
	providers auth.Registry,
	prober CredentialProber,
	sink telemetry.Sink,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Service {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 24 * time.Hour
	}
	return &Service{
		repo:      repo,
		providers: providers,
		prober:    prober,
		sink:      sink,
		metrics:   collector,
		logger:    logger,
		config:    config,
		clock:     SystemClock,
		newID:     uuid.NewString,
	}
}

// Start は新しいセッションを作成して保存する。
func (s *Service) Start(ctx context.Context, userID string) (model.OnboardingSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.OnboardingSession{}, model.NewInvalidRequestError("user_id")
	}
	token, err := auth.GenerateToken()
	if err != nil {
		return model.OnboardingSession{}, fmt.Errorf("セッショントークンの生成に失敗しました: %w", err)
	}

	now := s.clock()
	session := CreateSession(s.newID(), userID, token, now)
	data, err := Serialize(session)
	if err != nil {
		return model.OnboardingSession{}, fmt.Errorf("セッションのシリアライズに失敗しました: %w", err)
	}
	if err := s.repo.Create(ctx, &model.StoredSession{
		ID:        session.SessionID,
		UserID:    userID,
		Data:      data,
		ExpiresAt: now.Add(s.config.SessionTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return model.OnboardingSession{}, fmt.Errorf("セッションの保存に失敗しました: %w", err)
	}

	s.metrics.RecordOnboardingTransition(string(model.StepWelcome))
	s.logger.InfoContext(ctx, "オンボーディングを開始しました", slog.String("session_id", session.SessionID))
	return session, nil
}

// Get はトークンを検証してセッションを返す。
func (s *Service) Get(ctx context.Context, sessionID, token string) (model.OnboardingSession, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return model.OnboardingSession{}, err
	}
	if err := authorize(session, token); err != nil {
		return model.OnboardingSession{}, err
	}
	return session, nil
}

// Resume は再訪時のセッションとUIが取るべき動作を返す。
// セッションが存在しない・期限切れ・破損している場合はnilとfreshを返す。
func (s *Service) Resume(ctx context.Context, sessionID, token string) (*model.OnboardingSession, model.ResumeAction, error) {
	session, err := s.Get(ctx, sessionID, token)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeSessionNotFound {
			return nil, DetermineResumeAction(nil), nil
		}
		return nil, "", err
	}
	return &session, DetermineResumeAction(&session), nil
}

// Overwrite は別のタブから送られたシリアライズ済みセッションで保存内容を置き換える。
// 書き込みは後勝ちだが、段階を巻き戻す内容とセッションID・ユーザーの付け替えは拒否する。
func (s *Service) Overwrite(ctx context.Context, sessionID, token string, body []byte) (model.OnboardingSession, error) {
	current, err := s.Get(ctx, sessionID, token)
	if err != nil {
		return model.OnboardingSession{}, err
	}
	incoming, ok := Deserialize(body)
	if !ok {
		return model.OnboardingSession{}, model.NewInvalidSessionError()
	}
	if incoming.SessionID != current.SessionID || incoming.UserID != current.UserID ||
		!auth.TokensEqual(incoming.SessionToken, current.SessionToken) {
		return model.OnboardingSession{}, model.NewInvalidSessionError()
	}
	if stepRank(incoming.Step) < stepRank(current.Step) {
		return model.OnboardingSession{}, model.NewInvalidRequestError("step cannot move backwards")
	}

	if err := s.save(ctx, incoming); err != nil {
		return model.OnboardingSession{}, err
	}
	if incoming.Step != current.Step {
		s.metrics.RecordOnboardingTransition(string(incoming.Step))
	}
	return incoming, nil
}

// BeginOAuth はプロバイダーの認可URLと、コールバックで照合するnonceを返す。
func (s *Service) BeginOAuth(ctx context.Context, sessionID, token, providerName string) (string, string, error) {
	provider, ok := s.providers.Get(providerName)
	if !ok {
		return "", "", model.NewUnknownProviderError(providerName)
	}
	session, err := s.Get(ctx, sessionID, token)
	if err != nil {
		return "", "", err
	}
	nonce := s.newID()
	return provider.GetLoginURL(BuildOAuthState(session.SessionID, nonce)), nonce, nil
}

// CompleteOAuth はOAuthコールバックを処理し、連携したアカウントをsyncingとして追加する。
//
// stateの復元失敗とnonceの不一致はstate_mismatchとして扱う。
// プロバイダーが報告したエラーは分類して返し、コード交換の一時的な失敗はリトライする。
// 分類された失敗はすべて*retry.Errorとして返す。
func (s *Service) CompleteOAuth(ctx context.Context, providerName, stateParam, expectedNonce, code, providerErr string) (model.OnboardingSession, error) {
	provider, ok := s.providers.Get(providerName)
	if !ok {
		return model.OnboardingSession{}, model.NewUnknownProviderError(providerName)
	}
	name := provider.Name()

	state, ok := ParseOAuthState(stateParam)
	if !ok || expectedNonce == "" || !auth.TokensEqual(state.Nonce, expectedNonce) {
		s.logger.WarnContext(ctx, "OAuthのstateを検証できませんでした", slog.String("provider", name))
		return model.OnboardingSession{}, s.fail(ctx, classify.ClassifyOAuthError(classify.CodeStateMismatch, name),
			errors.New("oauth state did not match"))
	}

	session, err := s.load(ctx, state.SessionID)
	if err != nil {
		return model.OnboardingSession{}, err
	}

	if providerErr != "" || code == "" {
		raw := providerErr
		if raw == "" {
			raw = classify.CodeUnknown
		}
		return model.OnboardingSession{}, s.fail(ctx, classify.ClassifyOAuthError(raw, name),
			&classify.ProviderError{Origin: classify.OriginOAuth, Provider: name, Code: raw, Detail: "reported on callback"})
	}

	account, err := withRetry(ctx, s, "oauth_exchange",
		classify.Classifier{Origin: classify.OriginOAuth, Provider: name},
		func(ctx context.Context) (*auth.ConnectedAccount, error) {
			return provider.ExchangeCode(ctx, code)
		})
	if err != nil {
		return model.OnboardingSession{}, err
	}

	return s.addAccount(ctx, session, model.SessionAccount{
		AccountID:   name + "-" + account.ProviderAccountID,
		Provider:    name,
		Email:       account.Email,
		Status:      model.AccountStatusSyncing,
		ConnectedAt: s.clock(),
	})
}

// ConnectCalDAV はアプリ用パスワードでAppleアカウントを確認し、接続済みとして追加する。
func (s *Service) ConnectCalDAV(ctx context.Context, sessionID, token string, creds caldav.Credentials) (model.OnboardingSession, error) {
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" || creds.AppPassword == "" {
		return model.OnboardingSession{}, model.NewInvalidRequestError("username and app_password")
	}
	session, err := s.Get(ctx, sessionID, token)
	if err != nil {
		return model.OnboardingSession{}, err
	}

	count, err := withRetry(ctx, s, "caldav_probe",
		classify.Classifier{Origin: classify.OriginCalDAV, Provider: classify.ProviderApple},
		func(ctx context.Context) (int, error) {
			return s.prober.Probe(ctx, creds)
		})
	if err != nil {
		return model.OnboardingSession{}, err
	}

	return s.addAccount(ctx, session, model.SessionAccount{
		AccountID:     classify.ProviderApple + "-" + strings.ToLower(creds.Username),
		Provider:      classify.ProviderApple,
		Email:         strings.ToLower(creds.Username),
		Status:        model.AccountStatusConnected,
		CalendarCount: &count,
		ConnectedAt:   s.clock(),
	})
}

// SetAccountStatus は連携済みアカウントの状態を更新する。
func (s *Service) SetAccountStatus(ctx context.Context, sessionID, token, accountID string, status model.AccountStatus, calendarCount *int) (model.OnboardingSession, error) {
	if !validAccountStatus(string(status)) {
		return model.OnboardingSession{}, model.NewInvalidRequestError("status")
	}
	if calendarCount != nil && *calendarCount < 0 {
		return model.OnboardingSession{}, model.NewInvalidRequestError("calendar_count")
	}
	session, err := s.Get(ctx, sessionID, token)
	if err != nil {
		return model.OnboardingSession{}, err
	}
	if _, ok := FindAccount(session, accountID); !ok {
		return model.OnboardingSession{}, model.NewAccountNotFoundError(accountID)
	}

	updated := UpdateAccountStatus(session, accountID, status, calendarCount, s.clock())
	if err := s.save(ctx, updated); err != nil {
		return model.OnboardingSession{}, err
	}
	return updated, nil
}

// Complete はセッションを完了させる。完了済みの場合もcompleted_atを更新する。
func (s *Service) Complete(ctx context.Context, sessionID, token string) (model.OnboardingSession, error) {
	session, err := s.Get(ctx, sessionID, token)
	if err != nil {
		return model.OnboardingSession{}, err
	}
	completed := CompleteSession(session, s.clock())
	if err := s.save(ctx, completed); err != nil {
		return model.OnboardingSession{}, err
	}
	if session.Step != model.StepComplete {
		s.metrics.RecordOnboardingTransition(string(model.StepComplete))
	}
	s.logger.InfoContext(ctx, "オンボーディングが完了しました",
		slog.String("session_id", sessionID),
		slog.Int("accounts", len(completed.Accounts)),
	)
	return completed, nil
}

// Watch はintervalごとに保存済みセッションを読み直し、updated_atが進んだスナップショットを送る。
// 最初の読み出しは常に送る。ctxが終了するとチャネルを閉じる。
// セッションが消えた場合や読み出しに失敗した場合はログに記録してポーリングを続ける。
func (s *Service) Watch(ctx context.Context, sessionID string, interval time.Duration) <-chan model.OnboardingSession {
	out := make(chan model.OnboardingSession, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last time.Time
		first := true
		for {
			session, err := s.load(ctx, sessionID)
			switch {
			case err != nil:
				if ctx.Err() == nil {
					s.logger.DebugContext(ctx, "セッションのポーリングに失敗しました",
						slog.String("session_id", sessionID),
						slog.String("error", err.Error()),
					)
				}
			case first || session.UpdatedAt.After(last):
				first = false
				last = session.UpdatedAt
				select {
				case out <- session:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

// load は保存済みセッションを読み出す。読み出しは必ずDeserializeを経由する。
// 破損した本文は存在しないものとして扱う。
func (s *Service) load(ctx context.Context, sessionID string) (model.OnboardingSession, error) {
	stored, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return model.OnboardingSession{}, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if stored == nil {
		return model.OnboardingSession{}, model.NewSessionNotFoundError(sessionID)
	}
	session, ok := Deserialize(stored.Data)
	if !ok {
		s.logger.WarnContext(ctx, "破損したセッションを読み飛ばしました", slog.String("session_id", sessionID))
		return model.OnboardingSession{}, model.NewSessionNotFoundError(sessionID)
	}
	return session, nil
}

// save はセッションを上書き保存し、有効期限を延長する。
func (s *Service) save(ctx context.Context, session model.OnboardingSession) error {
	data, err := Serialize(session)
	if err != nil {
		return fmt.Errorf("セッションのシリアライズに失敗しました: %w", err)
	}
	err = s.repo.Update(ctx, &model.StoredSession{
		ID:        session.SessionID,
		UserID:    session.UserID,
		Data:      data,
		ExpiresAt: s.clock().Add(s.config.SessionTTL),
		UpdatedAt: session.UpdatedAt,
	})
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewSessionNotFoundError(session.SessionID)
	}
	if err != nil {
		return fmt.Errorf("セッションの保存に失敗しました: %w", err)
	}
	return nil
}

func (s *Service) addAccount(ctx context.Context, session model.OnboardingSession, account model.SessionAccount) (model.OnboardingSession, error) {
	updated := AddAccount(session, account, s.clock())
	if err := s.save(ctx, updated); err != nil {
		return model.OnboardingSession{}, err
	}
	if session.Step != updated.Step {
		s.metrics.RecordOnboardingTransition(string(updated.Step))
	}
	s.logger.InfoContext(ctx, "アカウントを連携しました",
		slog.String("session_id", session.SessionID),
		slog.String("provider", account.Provider),
		slog.String("status", string(account.Status)),
	)
	return updated, nil
}

// fail はリトライせずに終わった失敗をテレメトリへ送り、*retry.Errorとして返す。
func (s *Service) fail(ctx context.Context, classified model.ClassifiedError, err error) error {
	s.sink.Send(ctx, telemetry.NewErrorEvent(classified))
	return retry.Fail(classified, err)
}

// withRetry はfnを分類付きリトライで実行し、結果をテレメトリと処理時間のメトリクスに記録する。
func withRetry[T any](ctx context.Context, s *Service, operation string, classifier classify.Classifier, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordOperationLatency(operation, time.Since(start))
	}()
	return telemetry.Retry(ctx, s.sink, fn, classifier.Classify, retry.Options{
		MaxRetries: s.config.MaxRetries,
		BaseDelay:  s.config.BaseDelay,
		Sleep:      s.sleep,
		Logger:     s.logger,
	})
}

// authorize はセッショントークンを定数時間で照合する。
func authorize(session model.OnboardingSession, token string) error {
	if !auth.TokensEqual(session.SessionToken, token) {
		return model.NewSessionForbiddenError()
	}
	return nil
}

func stepRank(step model.Step) int {
	switch step {
	case model.StepConnecting:
		return 1
	case model.StepComplete:
		return 2
	default:
		return 0
	}
}
