package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RamXX/tminus-sub003/internal/database"
	"github.com/RamXX/tminus-sub003/internal/model"
	"github.com/RamXX/tminus-sub003/internal/repository"
)

// --- モック定義 ---

type mockSessionExpirer struct {
	deleteExpiredFn func(ctx context.Context, now time.Time) (int64, error)
}

func (m *mockSessionExpirer) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return m.deleteExpiredFn(ctx, now)
}

type mockTelemetryPruner struct {
	deleteOlderThanFn func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *mockTelemetryPruner) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.deleteOlderThanFn(ctx, cutoff)
}

var (
	_ SessionExpirer  = (*mockSessionExpirer)(nil)
	_ TelemetryPruner = (*mockTelemetryPruner)(nil)
	_ SessionExpirer  = (*repository.SQLiteSessionRepo)(nil)
	_ TelemetryPruner = (*repository.SQLiteTelemetryRepo)(nil)
	_ SessionExpirer  = (*repository.PostgresSessionRepo)(nil)
	_ TelemetryPruner = (*repository.PostgresTelemetryRepo)(nil)
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func fixedCounts(sessions, events int64) (*mockSessionExpirer, *mockTelemetryPruner) {
	expirer := &mockSessionExpirer{
		deleteExpiredFn: func(context.Context, time.Time) (int64, error) { return sessions, nil },
	}
	pruner := &mockTelemetryPruner{
		deleteOlderThanFn: func(context.Context, time.Time) (int64, error) { return events, nil },
	}
	return expirer, pruner
}

func lastLogEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("ログのパースに失敗: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func TestNewCleanupJob_DefaultRetention(t *testing.T) {
	var buf bytes.Buffer
	s, p := fixedCounts(0, 0)
	job := NewCleanupJob(s, p, newTestLogger(&buf))

	if job.TelemetryRetention != 30*24*time.Hour {
		t.Errorf("TelemetryRetention = %v, want 720h", job.TelemetryRetention)
	}
}

func TestCleanupJob_Run_PassesNowAndCutoff(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

	var gotNow, gotCutoff time.Time
	sessions := &mockSessionExpirer{
		deleteExpiredFn: func(_ context.Context, n time.Time) (int64, error) {
			gotNow = n
			return 2, nil
		},
	}
	pruner := &mockTelemetryPruner{
		deleteOlderThanFn: func(_ context.Context, cutoff time.Time) (int64, error) {
			gotCutoff = cutoff
			return 7, nil
		},
	}
	job := NewCleanupJob(sessions, pruner, newTestLogger(&buf))
	job.now = func() time.Time { return now }
	job.TelemetryRetention = 7 * 24 * time.Hour

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if !gotNow.Equal(now) {
		t.Errorf("now = %v, want %v", gotNow, now)
	}
	if want := now.Add(-7 * 24 * time.Hour); !gotCutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", gotCutoff, want)
	}

	entry := lastLogEntry(t, &buf)
	if entry["deleted_sessions"] != float64(2) || entry["deleted_events"] != float64(7) {
		t.Errorf("log = %v", entry)
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("duration_ms がログに含まれていない")
	}
}

func TestCleanupJob_Run_ContinuesAfterPartialFailure(t *testing.T) {
	var buf bytes.Buffer
	telemetryCalled := false
	sessions := &mockSessionExpirer{
		deleteExpiredFn: func(context.Context, time.Time) (int64, error) {
			return 0, errors.New("locked")
		},
	}
	pruner := &mockTelemetryPruner{
		deleteOlderThanFn: func(context.Context, time.Time) (int64, error) {
			telemetryCalled = true
			return 1, nil
		},
	}
	job := NewCleanupJob(sessions, pruner, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("セッション削除の失敗がエラーとして返されていない")
	}
	if !strings.Contains(err.Error(), "locked") {
		t.Errorf("error = %v", err)
	}
	if !telemetryCalled {
		t.Error("セッション削除が失敗してもテレメトリ削除は実行されるべき")
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("ERRORログが出力されていない: %s", buf.String())
	}
}

func TestCleanupJob_Run_JoinsBothErrors(t *testing.T) {
	var buf bytes.Buffer
	errSessions := errors.New("sessions failed")
	errEvents := errors.New("events failed")
	job := NewCleanupJob(
		&mockSessionExpirer{deleteExpiredFn: func(context.Context, time.Time) (int64, error) { return 0, errSessions }},
		&mockTelemetryPruner{deleteOlderThanFn: func(context.Context, time.Time) (int64, error) { return 0, errEvents }},
		newTestLogger(&buf),
	)

	err := job.Run(context.Background())
	if !errors.Is(err, errSessions) || !errors.Is(err, errEvents) {
		t.Errorf("error = %v, want both causes", err)
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	sessions := &mockSessionExpirer{
		deleteExpiredFn: func(context.Context, time.Time) (int64, error) {
			if runs.Add(1) >= 2 {
				cancel()
			}
			return 0, nil
		},
	}
	_, pruner := fixedCounts(0, 0)
	job := NewCleanupJob(sessions, pruner, newTestLogger(&buf))

	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start がキャンセル後に終了しない")
	}
	if runs.Load() < 2 {
		t.Errorf("runs = %d, want >= 2", runs.Load())
	}
}

// TestCleanupJob_Run_SQLite は実際のSQLiteで期限切れ行のみ削除されることを検証する。
func TestCleanupJob_Run_SQLite(t *testing.T) {
	url := "sqlite://" + filepath.Join(t.TempDir(), "cleanup.db")
	if err := database.RunMigrations(url); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	db, err := database.Open(url)
	if err != nil {
		t.Fatalf("データベースのオープンに失敗: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	sessionRepo := repository.NewSQLiteSessionRepo(db)
	telemetryRepo := repository.NewSQLiteTelemetryRepo(db)

	for _, s := range []model.StoredSession{
		{ID: "expired", UserID: "u", Data: []byte(`{}`), ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-25 * time.Hour), UpdatedAt: now.Add(-25 * time.Hour)},
		{ID: "live", UserID: "u", Data: []byte(`{}`), ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now},
	} {
		s := s
		if err := sessionRepo.Create(ctx, &s); err != nil {
			t.Fatalf("Create に失敗: %v", err)
		}
	}
	for _, e := range []model.ErrorTelemetryEvent{
		{EventID: "old", Code: "timeout", Provider: "google", Severity: model.SeverityTransient, RecoveryAction: model.RecoveryTryAgain, OccurredAt: now.Add(-60 * 24 * time.Hour)},
		{EventID: "new", Code: "timeout", Provider: "google", Severity: model.SeverityTransient, RecoveryAction: model.RecoveryTryAgain, OccurredAt: now},
	} {
		e := e
		if err := telemetryRepo.Insert(ctx, &e); err != nil {
			t.Fatalf("Insert に失敗: %v", err)
		}
	}

	var buf bytes.Buffer
	job := NewCleanupJob(sessionRepo, telemetryRepo, newTestLogger(&buf))
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if s, err := sessionRepo.FindByID(ctx, "live"); err != nil || s == nil {
		t.Errorf("有効なセッションが削除された: %v, %v", s, err)
	}
	if entry := lastLogEntry(t, &buf); entry["deleted_sessions"] != float64(1) || entry["deleted_events"] != float64(1) {
		t.Errorf("log = %v", entry)
	}
	counts, err := telemetryRepo.CountByCode(ctx, now.Add(-365*24*time.Hour))
	if err != nil {
		t.Fatalf("CountByCode に失敗: %v", err)
	}
	if counts["timeout"] != 1 {
		t.Errorf("counts = %v, want timeout=1", counts)
	}
}
