package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/RamXX/tminus-sub003/internal/auth"
	"github.com/RamXX/tminus-sub003/internal/caldav"
	"github.com/RamXX/tminus-sub003/internal/config"
	"github.com/RamXX/tminus-sub003/internal/database"
	"github.com/RamXX/tminus-sub003/internal/handler"
	"github.com/RamXX/tminus-sub003/internal/logger"
	"github.com/RamXX/tminus-sub003/internal/metrics"
	"github.com/RamXX/tminus-sub003/internal/middleware"
	"github.com/RamXX/tminus-sub003/internal/onboarding"
	"github.com/RamXX/tminus-sub003/internal/repository"
	"github.com/RamXX/tminus-sub003/internal/security"
	"github.com/RamXX/tminus-sub003/internal/telemetry"
	"github.com/RamXX/tminus-sub003/internal/worker/cleanup"
)

// stdout はeventsとsessionサブコマンドの出力先。
var stdout io.Writer = os.Stdout

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd.Lightweight() {
		switch cmd {
		case CommandHealthcheck:
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(port)
		case CommandEvents:
			logger.SetupDefault(w)
			return runEvents(context.Background(), stdout, args[1:])
		case CommandSession:
			logger.SetupDefault(w)
			return runSession(context.Background(), stdout, args[1:])
		}
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// repositories はDATABASE_URLに応じて選んだ永続化の実装。
type repositories struct {
	sessions  repository.OnboardingSessionRepository
	telemetry repository.TelemetryRepository
}

// newRepositories はドライバーに対応するリポジトリを生成する。
func newRepositories(db *sql.DB, databaseURL string) repositories {
	if database.DetectDriver(databaseURL) == database.DriverSQLite {
		return repositories{
			sessions:  repository.NewSQLiteSessionRepo(db),
			telemetry: repository.NewSQLiteTelemetryRepo(db),
		}
	}
	return repositories{
		sessions:  repository.NewPostgresSessionRepo(db),
		telemetry: repository.NewPostgresTelemetryRepo(db),
	}
}

// openDatabase はDB接続を開いて疎通を確認する。
func openDatabase(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// oauthProviders は設定済みのOAuthプロバイダーを返す。Googleは常に有効。
func oauthProviders(cfg *config.Config) []auth.OAuthProvider {
	providers := []auth.OAuthProvider{
		auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}),
	}
	if cfg.MicrosoftEnabled() {
		providers = append(providers, auth.NewMicrosoftOAuthProvider(auth.MicrosoftOAuthConfig{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  cfg.MicrosoftRedirectURL,
		}))
	}
	return providers
}

// rateLimiterConfig はreq/min単位の設定をreq/secのリミッター設定に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rlc := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rlc.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rlc.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitCredential > 0 {
		rlc.CredentialRate = rate.Limit(float64(cfg.RateLimitCredential) / 60.0)
		rlc.CredentialBurst = cfg.RateLimitCredential
	}
	return rlc
}

// newTelemetrySink はログ・メトリクス・DBへ非同期に送出するシンクを生成する。
func newTelemetrySink(cfg *config.Config, repo repository.TelemetryRepository, collector metrics.MetricsCollector) *telemetry.Async {
	log := slog.Default()
	return telemetry.NewAsync(telemetry.Multi{
		telemetry.NewLogSink(log),
		telemetry.NewMetricsSink(collector),
		telemetry.NewRepoSink(repo, log),
	}, cfg.TelemetryBuffer, log)
}

// buildRouter はサーバーの全依存関係をワイヤリングしてルーターを返す。
// 返されるcloseは非同期シンクとレートリミッターを停止する。
func buildRouter(cfg *config.Config, db *sql.DB) (http.Handler, func()) {
	repos := newRepositories(db, cfg.DatabaseURL)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	sink := newTelemetrySink(cfg, repos.telemetry, collector)

	guard := security.NewServerGuard()
	prober := caldav.NewProber(guard.NewSafeClient(cfg.CalDAVTimeout), cfg.CalDAVServerURL, guard.ValidateServerURL, slog.Default())

	service := onboarding.NewService(
		repos.sessions,
		auth.NewRegistry(oauthProviders(cfg)...),
		prober,
		sink,
		collector,
		slog.Default(),
		onboarding.Config{
			SessionTTL: cfg.SessionTTL,
			MaxRetries: cfg.RetryMax,
			BaseDelay:  cfg.RetryBaseDelay,
		},
	)

	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		HealthChecker:   db,
		MetricsGatherer: registry,

		OnboardingService: service,
		OAuthConfig: handler.OAuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
		WatchInterval: cfg.SessionWatchPeriod,

		TelemetrySink: sink,
	})

	return router, func() {
		rateLimiter.Stop()
		sink.Close()
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established",
		slog.String("driver", string(database.DetectDriver(cfg.DatabaseURL))),
	)

	router, closeDeps := buildRouter(cfg, db)
	defer closeDeps()

	// watchのSSE配信があるためWriteTimeoutは設定しない
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションと保持期間を過ぎたテレメトリの削除を定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	repos := newRepositories(db, cfg.DatabaseURL)
	job := cleanup.NewCleanupJob(repos.sessions, repos.telemetry, slog.Default())
	job.TelemetryRetention = cfg.TelemetryRetention

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("telemetry_retention", cfg.TelemetryRetention),
	)

	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.ApplyMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
// SQLiteのファイルパスは認証情報を含まないためそのまま返す。
func maskDatabaseURL(url string) string {
	if database.DetectDriver(url) == database.DriverSQLite {
		return url
	}
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
