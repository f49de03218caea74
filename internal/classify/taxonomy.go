package classify

import (
	"fmt"
	"strings"

	"github.com/RamXX/tminus-sub003/internal/model"
)

// 正規化後のエラーコード。分類結果のCodeにはこれらのいずれかが入る。
const (
	CodeAccessDenied         = "access_denied"
	CodeSessionExpired       = "session_expired"
	CodeProviderUnavailable  = "temporarily_unavailable"
	CodeNetworkError         = "network_error"
	CodeTimeout              = "timeout"
	CodePopupBlocked         = "popup_blocked"
	CodeStateMismatch        = "state_mismatch"
	CodeInvalidCredentials   = "invalid_credentials"
	CodeVerificationRequired = "verification_required"
	CodeConnectionRefused    = "connection_refused"
	CodeUnknown              = "unknown"
)

// ProviderApple は認証情報フローで接続する唯一のプロバイダー。
const ProviderApple = "apple"

// ProviderBackend はバックエンドAPI自身の失敗に付けるプロバイダー名。
const ProviderBackend = "backend"

// ユーザー向けラベル
const (
	labelTryAgain     = "Try again"
	labelWaitAndRetry = "Wait a moment, then retry"
	labelAllowPopups  = "Allow pop-ups, then retry"
	labelStartOver    = "Start over"
	labelShowHow      = "Show me how"
)

// family は同じ扱いをする生コードの集合。
type family struct {
	code     string
	severity model.Severity
	action   model.RecoveryAction
	label    string
	message  func(name string) string
}

var (
	familyDeclined = family{
		code: CodeAccessDenied, severity: model.SeverityPersistent, action: model.RecoveryTryAgain, label: labelTryAgain,
		message: func(name string) string {
			return fmt.Sprintf("You declined the calendar permission for %s. We need access to keep your calendars in sync.", name)
		},
	}
	familyExpired = family{
		code: CodeSessionExpired, severity: model.SeverityPersistent, action: model.RecoveryTryAgain, label: labelTryAgain,
		message: func(name string) string {
			return fmt.Sprintf("The connection to %s expired before it finished. Please connect again.", name)
		},
	}
	familyUnavailable = family{
		code: CodeProviderUnavailable, severity: model.SeverityTransient, action: model.RecoveryWaitAndRetry, label: labelWaitAndRetry,
		message: func(name string) string {
			return fmt.Sprintf("%s is having trouble right now. This usually clears up within a few minutes.", name)
		},
	}
	familyNetwork = family{
		code: CodeNetworkError, severity: model.SeverityTransient, action: model.RecoveryTryAgain, label: labelTryAgain,
		message: func(name string) string {
			return fmt.Sprintf("We couldn't reach %s. Check your internet connection and try again.", name)
		},
	}
	familyTimeout = family{
		code: CodeTimeout, severity: model.SeverityTransient, action: model.RecoveryTryAgain, label: labelTryAgain,
		message: func(name string) string {
			return fmt.Sprintf("%s took too long to respond. Check your internet connection and try again.", name)
		},
	}
	familyPopupBlocked = family{
		code: CodePopupBlocked, severity: model.SeverityPersistent, action: model.RecoveryAllowPopups, label: labelAllowPopups,
		message: func(name string) string {
			return fmt.Sprintf("Your browser blocked the %s sign-in window.", name)
		},
	}
	familyStateMismatch = family{
		code: CodeStateMismatch, severity: model.SeverityPersistent, action: model.RecoveryStartOver, label: labelStartOver,
		message: func(string) string {
			return "For your security, we couldn't confirm this connection attempt came from you. Please start over."
		},
	}
	familyInvalidCredentials = family{
		code: CodeInvalidCredentials, severity: model.SeverityPersistent, action: model.RecoveryShowHow, label: labelShowHow,
		message: func(name string) string {
			return fmt.Sprintf("%s didn't accept that password. You need an app-specific password created in your %s account settings, not your regular password.", name, name)
		},
	}
	familyVerification = family{
		code: CodeVerificationRequired, severity: model.SeverityPersistent, action: model.RecoveryTryAgain, label: labelTryAgain,
		message: func(name string) string {
			return fmt.Sprintf("%s needs you to confirm it's really you before connecting. Finish the check on your device, then try again.", name)
		},
	}
	familyRefused = family{
		code: CodeConnectionRefused, severity: model.SeverityTransient, action: model.RecoveryWaitAndRetry, label: labelWaitAndRetry,
		message: func(name string) string {
			return fmt.Sprintf("%s isn't accepting connections right now. Please wait a moment and retry.", name)
		},
	}
	familyGeneric = family{
		code: CodeUnknown, severity: model.SeverityPersistent, action: model.RecoveryTryAgain, label: labelTryAgain,
		message: func(name string) string {
			return fmt.Sprintf("Something went wrong while connecting %s. Please try again.", name)
		},
	}
)

// バックエンドAPIの失敗。外部アカウントの接続ではなく、変更の保存や読み込みの失敗として伝える。
var (
	familyAPIUnavailable = family{
		code: CodeProviderUnavailable, severity: model.SeverityTransient, action: model.RecoveryWaitAndRetry, label: labelWaitAndRetry,
		message: func(string) string {
			return "We're having trouble saving your calendar changes right now. This usually clears up within a few minutes."
		},
	}
	familyAPINetwork = family{
		code: CodeNetworkError, severity: model.SeverityTransient, action: model.RecoveryTryAgain, label: labelTryAgain,
		message: func(string) string {
			return "We couldn't save your calendar changes. Check your internet connection and try again."
		},
	}
	familyAPITimeout = family{
		code: CodeTimeout, severity: model.SeverityTransient, action: model.RecoveryTryAgain, label: labelTryAgain,
		message: func(string) string {
			return "Your calendar took too long to update. Check your internet connection and try again."
		},
	}
	familyAPIRefused = family{
		code: CodeConnectionRefused, severity: model.SeverityTransient, action: model.RecoveryWaitAndRetry, label: labelWaitAndRetry,
		message: func(string) string {
			return "Your calendar isn't accepting changes right now. Please wait a moment and retry."
		},
	}
	familyAPIExpired = family{
		code: CodeSessionExpired, severity: model.SeverityPersistent, action: model.RecoveryStartOver, label: labelStartOver,
		message: func(string) string {
			return "You were signed out before your changes were saved. Please sign in and start over."
		},
	}
	familyAPIGeneric = family{
		code: CodeUnknown, severity: model.SeverityPersistent, action: model.RecoveryTryAgain, label: labelTryAgain,
		message: func(string) string {
			return "Something went wrong while updating your calendar. Please try again."
		},
	}
)

// oauthCodes はOAuth系プロバイダーの生コードと分類の対応表。
var oauthCodes = map[string]family{
	"access_denied":           familyDeclined,
	"user_cancelled":          familyDeclined,
	"consent_required":        familyDeclined,
	"invalid_grant":           familyExpired,
	"expired_token":           familyExpired,
	"session_expired":         familyExpired,
	"code_expired":            familyExpired,
	"temporarily_unavailable": familyUnavailable,
	"server_error":            familyUnavailable,
	"service_unavailable":     familyUnavailable,
	"rate_limited":            familyUnavailable,
	"network_error":           familyNetwork,
	"timeout":                 familyTimeout,
	"popup_blocked":           familyPopupBlocked,
	"popup_closed":            familyPopupBlocked,
	"state_mismatch":          familyStateMismatch,
	"invalid_state":           familyStateMismatch,
	"interaction_required":    familyVerification,
	"mfa_required":            familyVerification,
	"verification_required":   familyVerification,
	"connection_refused":      familyRefused,
}

// caldavCodes は認証情報フロー（Apple）の生コードと分類の対応表。
var caldavCodes = map[string]family{
	"invalid_credentials":     familyInvalidCredentials,
	"auth_failed":             familyInvalidCredentials,
	"invalid_app_password":    familyInvalidCredentials,
	"verification_required":   familyVerification,
	"two_factor_required":     familyVerification,
	"connection_refused":      familyRefused,
	"econnrefused":            familyRefused,
	"timeout":                 familyTimeout,
	"etimedout":               familyTimeout,
	"network_error":           familyNetwork,
	"server_error":            familyUnavailable,
	"service_unavailable":     familyUnavailable,
	"temporarily_unavailable": familyUnavailable,
}

// apiCodes はバックエンドAPI自身の生コードと分類の対応表。
var apiCodes = map[string]family{
	"temporarily_unavailable": familyAPIUnavailable,
	"server_error":            familyAPIUnavailable,
	"service_unavailable":     familyAPIUnavailable,
	"rate_limited":            familyAPIUnavailable,
	"network_error":           familyAPINetwork,
	"timeout":                 familyAPITimeout,
	"connection_refused":      familyAPIRefused,
	"session_expired":         familyAPIExpired,
}

// providerNames はユーザー向け文言に使うプロバイダー表示名。
var providerNames = map[string]string{
	"google":    "Google",
	"microsoft": "Microsoft",
	"apple":     "Apple",
}

// DisplayName はプロバイダーの表示名を返す。未知のプロバイダーは汎用名になる。
func DisplayName(provider string) string {
	if name, ok := providerNames[strings.ToLower(provider)]; ok {
		return name
	}
	return "your calendar service"
}

// ClassifyOAuthError はOAuth系プロバイダーの生コードを分類する。
// 未知のコードは汎用のpersistent分類になる。
func ClassifyOAuthError(rawCode, provider string) model.ClassifiedError {
	return build(lookup(oauthCodes, rawCode), provider)
}

// ClassifyCalDavError は認証情報フロー（Apple）の生コードを分類する。
func ClassifyCalDavError(rawCode string) model.ClassifiedError {
	return build(lookup(caldavCodes, rawCode), ProviderApple)
}

// ClassifyAPIError はバックエンドAPI自身の失敗の生コードを分類する。
// 未知のコードは汎用のpersistent分類になる。
func ClassifyAPIError(rawCode string) model.ClassifiedError {
	f, ok := apiCodes[strings.ToLower(strings.TrimSpace(rawCode))]
	if !ok {
		f = familyAPIGeneric
	}
	return build(f, ProviderBackend)
}

// OAuthCodes は分類表に定義されたOAuthの生コードを返す。
func OAuthCodes() []string {
	return keys(oauthCodes)
}

// CalDavCodes は分類表に定義された認証情報フローの生コードを返す。
func CalDavCodes() []string {
	return keys(caldavCodes)
}

// APICodes は分類表に定義されたバックエンドAPIの生コードを返す。
func APICodes() []string {
	return keys(apiCodes)
}

func lookup(table map[string]family, rawCode string) family {
	if f, ok := table[strings.ToLower(strings.TrimSpace(rawCode))]; ok {
		return f
	}
	return familyGeneric
}

func build(f family, provider string) model.ClassifiedError {
	provider = strings.ToLower(provider)
	return model.ClassifiedError{
		Code:           f.code,
		Message:        f.message(DisplayName(provider)),
		Severity:       f.severity,
		RecoveryAction: f.action,
		RecoveryLabel:  f.label,
		Provider:       provider,
	}
}

func keys(table map[string]family) []string {
	out := make([]string, 0, len(table))
	for k := range table {
		out = append(out, k)
	}
	return out
}
