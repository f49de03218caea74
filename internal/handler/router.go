package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RamXX/tminus-sub003/internal/metrics"
	"github.com/RamXX/tminus-sub003/internal/middleware"
	"github.com/RamXX/tminus-sub003/internal/telemetry"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 運用
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer

	// オンボーディング
	OnboardingService OnboardingServiceInterface
	OAuthConfig       OAuthHandlerConfig
	WatchInterval     time.Duration

	// テレメトリ
	TelemetrySink telemetry.Sink
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	SecurityHeaders → Logging → Recovery → CORS → [SessionToken] → RateLimit(General) → [RateLimit(Credential)]
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := deps.TelemetrySink
	if sink == nil {
		sink = telemetry.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewSecurityHeadersMiddleware(deps.OAuthConfig.CookieSecure))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	onboardingHandler := NewOnboardingHandler(deps.OnboardingService, deps.WatchInterval)
	oauthHandler := NewOAuthHandler(deps.OnboardingService, deps.OAuthConfig)
	telemetryHandler := NewTelemetryHandler(sink)

	// --- 運用ルート ---
	r.Get("/health", Health(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- セッショントークン不要のルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/api/onboarding/sessions", onboardingHandler.CreateSession)
		r.Post("/api/telemetry/errors", telemetryHandler.Ingest)

		// プロバイダーからのリダイレクトはヘッダーを付けられないため、nonce Cookieで照合する
		r.Get("/auth/{provider}/callback", oauthHandler.Callback)
	})

	// --- セッショントークンが必要なルート ---
	// ミドルウェアスタック: SessionToken → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionTokenMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/auth/{provider}/connect", oauthHandler.Connect)

		r.Route("/api/onboarding/sessions/{id}", func(r chi.Router) {
			r.Get("/", onboardingHandler.GetSession)
			r.Put("/", onboardingHandler.PutSession)
			r.Get("/resume", onboardingHandler.ResumeSession)
			r.Get("/watch", onboardingHandler.WatchSession)
			r.Post("/complete", onboardingHandler.CompleteSession)
			r.Patch("/accounts/{accountID}", onboardingHandler.UpdateAccount)

			// 認証情報の総当たりを防ぐため送信専用のレート制限を追加
			r.With(deps.RateLimiter.CredentialMiddleware()).Post("/caldav", onboardingHandler.ConnectCalDAV)
		})
	})

	return r
}
