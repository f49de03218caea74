package model

// Severity はエラーの深刻度を表す。
// transientは時間経過で解消が見込まれ自動リトライの対象、
// persistentはユーザーの判断または是正操作が必要で自動リトライしない。
type Severity string

const (
	SeverityTransient  Severity = "transient"
	SeverityPersistent Severity = "persistent"
)

// RecoveryAction はユーザーに提示する復旧操作の種別。
type RecoveryAction string

const (
	RecoveryTryAgain     RecoveryAction = "try_again"
	RecoveryWaitAndRetry RecoveryAction = "wait_and_retry"
	RecoveryAllowPopups  RecoveryAction = "allow_popups"
	RecoveryStartOver    RecoveryAction = "start_over"
	RecoveryShowHow      RecoveryAction = "show_how"
)

// ClassifiedError は生のエラーコードを分類した結果を表す。
// 失敗のたびに新しく生成され、変更されず、現在の操作およびテレメトリを超えて永続化されない。
// MessageとRecoveryLabelにはプロトコル用語を含めてはならない。
type ClassifiedError struct {
	Code           string         `json:"code"`
	Message        string         `json:"message"`
	Severity       Severity       `json:"severity"`
	RecoveryAction RecoveryAction `json:"recovery_action"`
	RecoveryLabel  string         `json:"recovery_label"`
	Provider       string         `json:"provider"`
}

// IsTransient は自動リトライの対象かどうかを返す。
func (c ClassifiedError) IsTransient() bool {
	return c.Severity == SeverityTransient
}
