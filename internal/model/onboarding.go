package model

import "time"

// Step はオンボーディングフローの段階。
// welcome → connecting → complete の順に単調に進み、逆方向の遷移はない。
type Step string

const (
	StepWelcome    Step = "welcome"
	StepConnecting Step = "connecting"
	StepComplete   Step = "complete"
)

// AccountStatus は連携アカウントの状態。
type AccountStatus string

const (
	AccountStatusSyncing   AccountStatus = "syncing"
	AccountStatusConnected AccountStatus = "connected"
	AccountStatusError     AccountStatus = "error"
)

// ResumeAction は再訪時にUIが取るべき動作。
type ResumeAction string

const (
	ResumeFresh    ResumeAction = "fresh"
	ResumeResume   ResumeAction = "resume"
	ResumeRedirect ResumeAction = "redirect"
)

// SessionAccount はオンボーディング中に連携された外部アカウント。
// CalendarCountはnilの場合「未取得」を表し、0とは区別される。
type SessionAccount struct {
	AccountID     string        `json:"account_id"`
	Provider      string        `json:"provider"`
	Email         string        `json:"email"`
	Status        AccountStatus `json:"status"`
	CalendarCount *int          `json:"calendar_count,omitempty"`
	ConnectedAt   time.Time     `json:"connected_at"`
}

// OnboardingSession は再開可能なアカウント連携フローの状態。
// 値型として扱い、遷移関数は常に新しいセッションを返す。
// CompletedAtは完了まで存在しない（nil）。
type OnboardingSession struct {
	SessionID    string           `json:"session_id"`
	UserID       string           `json:"user_id"`
	SessionToken string           `json:"session_token"`
	Step         Step             `json:"step"`
	Accounts     []SessionAccount `json:"accounts"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// ErrorTelemetryEvent はClassifiedErrorを匿名化したテレメトリ投影。
// 任意フィールドは意味がある場合のみ存在する（RetryCount=0と未設定は区別される）。
type ErrorTelemetryEvent struct {
	EventID        string         `json:"event_id"`
	Code           string         `json:"code"`
	Provider       string         `json:"provider"`
	Severity       Severity       `json:"severity"`
	RecoveryAction RecoveryAction `json:"recovery_action"`
	OccurredAt     time.Time      `json:"occurred_at"`
	RetryCount     *int           `json:"retry_count,omitempty"`
	Recovered      *bool          `json:"recovered,omitempty"`
	UserDismissed  *bool          `json:"user_dismissed,omitempty"`
}

// StoredSession は永続化されたオンボーディングセッションの行。
// Dataはシリアライズ済みのセッション本文で、読み出し時は必ずデシリアライズを経由する。
type StoredSession struct {
	ID        string
	UserID    string
	Data      []byte
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
