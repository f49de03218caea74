package onboarding

import (
	"encoding/base64"
	"encoding/json"
)

// oauthState はOAuthリダイレクトのstateパラメータに載せる相関情報。
type oauthState struct {
	SessionID string `json:"session_id"`
	Nonce     string `json:"nonce"`
}

// OAuthState はParseOAuthStateの結果。
type OAuthState struct {
	SessionID string
	Nonce     string
}

// BuildOAuthState はセッションIDとnonceをbase64エンコードしたJSONに詰めた不透明な文字列を返す。
// プロバイダーはこの値を変更せずにコールバックへ返す。
func BuildOAuthState(sessionID, nonce string) string {
	b, _ := json.Marshal(oauthState{SessionID: sessionID, Nonce: nonce})
	return base64.URLEncoding.EncodeToString(b)
}

// ParseOAuthState はBuildOAuthStateの出力を復元する。
// 不正なbase64、JSONでない内容、フィールドの欠落、型の誤りに対してはfalseを返す。
func ParseOAuthState(state string) (OAuthState, bool) {
	if state == "" {
		return OAuthState{}, false
	}
	raw, err := decodeBase64(state)
	if err != nil {
		return OAuthState{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return OAuthState{}, false
	}
	sessionID, ok := stringField(fields, "session_id")
	if !ok {
		return OAuthState{}, false
	}
	nonce, ok := stringField(fields, "nonce")
	if !ok {
		return OAuthState{}, false
	}
	return OAuthState{SessionID: sessionID, Nonce: nonce}, true
}

// decodeBase64 はURL安全形式と標準形式の両方を受け付ける。
func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil || v == "" {
		return "", false
	}
	return v, true
}
