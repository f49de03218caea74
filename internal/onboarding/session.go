// Package onboarding は複数アカウント連携フローの再開可能なセッション状態機械と、
// それを永続化・ポーリングするサービスを提供する。
//
// 遷移関数はすべて入力を変更せず新しいセッションを返す。
// タブ間の一貫性はバックエンドに保存された最新スナップショットをポーリングして
// Deserializeすることで実現し、共有メモリやロックには依存しない（最後の書き込みが勝つ）。
package onboarding

import (
	"time"

	"github.com/RamXX/tminus-sub003/internal/model"
)

// Clock は現在時刻を返す。テストで固定時刻に差し替える。
type Clock func() time.Time

// SystemClock はUTCの現在時刻を返す。
func SystemClock() time.Time {
	return time.Now().UTC()
}

// CreateSession はwelcome段階の空のセッションを生成する。
func CreateSession(sessionID, userID, token string, now time.Time) model.OnboardingSession {
	return model.OnboardingSession{
		SessionID:    sessionID,
		UserID:       userID,
		SessionToken: token,
		Step:         model.StepWelcome,
		Accounts:     []model.SessionAccount{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// AddAccount はアカウントを追加した新しいセッションを返す。
// 同じAccountIDが既に存在する場合は同じ位置で置き換える（重複したコールバックの再配送に対して冪等）。
// welcome段階であればconnectingへ進める。UpdatedAtは常に更新する。
func AddAccount(s model.OnboardingSession, account model.SessionAccount, now time.Time) model.OnboardingSession {
	out := clone(s)
	replaced := false
	for i := range out.Accounts {
		if out.Accounts[i].AccountID == account.AccountID {
			out.Accounts[i] = cloneAccount(account)
			replaced = true
			break
		}
	}
	if !replaced {
		out.Accounts = append(out.Accounts, cloneAccount(account))
	}
	if out.Step == model.StepWelcome {
		out.Step = model.StepConnecting
	}
	out.UpdatedAt = now
	return out
}

// UpdateAccountStatus は一致するアカウントのstatusのみを更新する。
// calendarCountがnilでない場合はcalendar_countも更新する。他のアカウントとフィールドは変更しない。
// 一致するアカウントがない場合は変更しない。
func UpdateAccountStatus(s model.OnboardingSession, accountID string, status model.AccountStatus, calendarCount *int, now time.Time) model.OnboardingSession {
	out := clone(s)
	for i := range out.Accounts {
		if out.Accounts[i].AccountID != accountID {
			continue
		}
		out.Accounts[i].Status = status
		if calendarCount != nil {
			n := *calendarCount
			out.Accounts[i].CalendarCount = &n
		}
		out.UpdatedAt = now
		return out
	}
	return out
}

// CompleteSession はcomplete段階に進め、完了時刻を記録する。アカウントは保持する。
func CompleteSession(s model.OnboardingSession, now time.Time) model.OnboardingSession {
	out := clone(s)
	out.Step = model.StepComplete
	completed := now
	out.CompletedAt = &completed
	out.UpdatedAt = now
	return out
}

// DetermineResumeAction は再訪時の動作を決める。
// セッションがない、またはアカウントが0件ならfresh。
// CompletedAtが設定されていればstepに関わらずredirect（完了時刻だけが別経路で設定された場合も含む）。
// それ以外はresume。
func DetermineResumeAction(s *model.OnboardingSession) model.ResumeAction {
	if s == nil || len(s.Accounts) == 0 {
		return model.ResumeFresh
	}
	if s.CompletedAt != nil {
		return model.ResumeRedirect
	}
	return model.ResumeResume
}

// FindAccount はAccountIDに一致するアカウントを返す。
func FindAccount(s model.OnboardingSession, accountID string) (model.SessionAccount, bool) {
	for _, a := range s.Accounts {
		if a.AccountID == accountID {
			return cloneAccount(a), true
		}
	}
	return model.SessionAccount{}, false
}

// clone はスライスとポインタを複製し、元のセッションと記憶領域を共有しないコピーを返す。
func clone(s model.OnboardingSession) model.OnboardingSession {
	out := s
	out.Accounts = make([]model.SessionAccount, len(s.Accounts))
	for i, a := range s.Accounts {
		out.Accounts[i] = cloneAccount(a)
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func cloneAccount(a model.SessionAccount) model.SessionAccount {
	if a.CalendarCount != nil {
		n := *a.CalendarCount
		a.CalendarCount = &n
	}
	return a
}
