package onboarding

import (
	"encoding/json"
	"time"

	"github.com/RamXX/tminus-sub003/internal/model"
)

// wireSession は永続化とタブ間ポーリングに使うワイヤ形式。
// 必須フィールドはポインタで受け、欠落を検出する。
// 任意フィールドは存在しない場合キーごと省略する（nullやfalseを出力しない）。
type wireSession struct {
	SessionID    *string        `json:"session_id"`
	UserID       *string        `json:"user_id"`
	SessionToken *string        `json:"session_token"`
	Step         *string        `json:"step"`
	Accounts     *[]wireAccount `json:"accounts"`
	CreatedAt    *string        `json:"created_at"`
	UpdatedAt    *string        `json:"updated_at"`
	CompletedAt  *string        `json:"completed_at,omitempty"`
}

type wireAccount struct {
	AccountID     *string `json:"account_id"`
	Provider      *string `json:"provider"`
	Email         *string `json:"email"`
	Status        *string `json:"status"`
	CalendarCount *int    `json:"calendar_count,omitempty"`
	ConnectedAt   *string `json:"connected_at"`
}

// Serialize はセッションをワイヤ形式のJSONに変換する。
// 一度往復させた結果は不動点になる: Serialize(Deserialize(Serialize(s))) == Serialize(s)。
func Serialize(s model.OnboardingSession) ([]byte, error) {
	accounts := make([]wireAccount, 0, len(s.Accounts))
	for _, a := range s.Accounts {
		wa := wireAccount{
			AccountID:   strPtr(a.AccountID),
			Provider:    strPtr(a.Provider),
			Email:       strPtr(a.Email),
			Status:      strPtr(string(a.Status)),
			ConnectedAt: strPtr(formatTime(a.ConnectedAt)),
		}
		if a.CalendarCount != nil {
			n := *a.CalendarCount
			wa.CalendarCount = &n
		}
		accounts = append(accounts, wa)
	}

	w := wireSession{
		SessionID:    strPtr(s.SessionID),
		UserID:       strPtr(s.UserID),
		SessionToken: strPtr(s.SessionToken),
		Step:         strPtr(string(s.Step)),
		Accounts:     &accounts,
		CreatedAt:    strPtr(formatTime(s.CreatedAt)),
		UpdatedAt:    strPtr(formatTime(s.UpdatedAt)),
	}
	if s.CompletedAt != nil {
		w.CompletedAt = strPtr(formatTime(*s.CompletedAt))
	}
	return json.Marshal(w)
}

// Deserialize はワイヤ形式からセッションを復元する。
// 空入力、JSONでない入力、必須フィールドの欠落や不正値に対してはfalseを返し、パニックもエラーも発生させない。
// 必須の文字列フィールドは存在と型だけを検証し、空文字列は値として受け入れる。
// stepとstatusは列挙値、時刻はRFC 3339でなければならない。アカウントIDの重複は拒否する。
func Deserialize(data []byte) (model.OnboardingSession, bool) {
	var w wireSession
	if len(data) == 0 {
		return model.OnboardingSession{}, false
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return model.OnboardingSession{}, false
	}
	if w.SessionID == nil || w.UserID == nil || w.SessionToken == nil || w.Step == nil ||
		w.Accounts == nil || w.CreatedAt == nil || w.UpdatedAt == nil {
		return model.OnboardingSession{}, false
	}
	if !validStep(*w.Step) {
		return model.OnboardingSession{}, false
	}

	createdAt, ok := parseTime(*w.CreatedAt)
	if !ok {
		return model.OnboardingSession{}, false
	}
	updatedAt, ok := parseTime(*w.UpdatedAt)
	if !ok {
		return model.OnboardingSession{}, false
	}

	s := model.OnboardingSession{
		SessionID:    *w.SessionID,
		UserID:       *w.UserID,
		SessionToken: *w.SessionToken,
		Step:         model.Step(*w.Step),
		Accounts:     make([]model.SessionAccount, 0, len(*w.Accounts)),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
	if w.CompletedAt != nil {
		completedAt, ok := parseTime(*w.CompletedAt)
		if !ok {
			return model.OnboardingSession{}, false
		}
		s.CompletedAt = &completedAt
	}

	seen := make(map[string]struct{}, len(*w.Accounts))
	for _, wa := range *w.Accounts {
		a, ok := decodeAccount(wa)
		if !ok {
			return model.OnboardingSession{}, false
		}
		if _, dup := seen[a.AccountID]; dup {
			return model.OnboardingSession{}, false
		}
		seen[a.AccountID] = struct{}{}
		s.Accounts = append(s.Accounts, a)
	}
	return s, true
}

// DeserializeString は文字列版のDeserialize。
func DeserializeString(data string) (model.OnboardingSession, bool) {
	return Deserialize([]byte(data))
}

func decodeAccount(wa wireAccount) (model.SessionAccount, bool) {
	if wa.AccountID == nil || wa.Provider == nil || wa.Email == nil || wa.Status == nil || wa.ConnectedAt == nil {
		return model.SessionAccount{}, false
	}
	if !validAccountStatus(*wa.Status) {
		return model.SessionAccount{}, false
	}
	connectedAt, ok := parseTime(*wa.ConnectedAt)
	if !ok {
		return model.SessionAccount{}, false
	}
	a := model.SessionAccount{
		AccountID:   *wa.AccountID,
		Provider:    *wa.Provider,
		Email:       *wa.Email,
		Status:      model.AccountStatus(*wa.Status),
		ConnectedAt: connectedAt,
	}
	if wa.CalendarCount != nil {
		n := *wa.CalendarCount
		a.CalendarCount = &n
	}
	return a, true
}

func validStep(s string) bool {
	switch model.Step(s) {
	case model.StepWelcome, model.StepConnecting, model.StepComplete:
		return true
	}
	return false
}

func validAccountStatus(s string) bool {
	switch model.AccountStatus(s) {
	case model.AccountStatusSyncing, model.AccountStatusConnected, model.AccountStatusError:
		return true
	}
	return false
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func strPtr(s string) *string {
	return &s
}
