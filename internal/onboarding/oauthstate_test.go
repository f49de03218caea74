package onboarding

import (
	"encoding/base64"
	"testing"
)

func TestBuildOAuthState_RoundTrip(t *testing.T) {
	state := BuildOAuthState("sess-123", "nonce-xyz")

	got, ok := ParseOAuthState(state)
	if !ok {
		t.Fatalf("ParseOAuthState(%q) に失敗", state)
	}
	if got.SessionID != "sess-123" || got.Nonce != "nonce-xyz" {
		t.Errorf("got = %+v", got)
	}
}

func TestBuildOAuthState_IsURLSafe(t *testing.T) {
	// URL安全でない文字を生みやすい入力
	state := BuildOAuthState("???>>>", "~~~///")
	for _, c := range state {
		if c == '+' || c == '/' {
			t.Fatalf("state にURL安全でない文字が含まれる: %q", state)
		}
	}
}

func TestParseOAuthState_AcceptsStandardBase64(t *testing.T) {
	raw := `{"session_id":"s1","nonce":"n1"}`
	got, ok := ParseOAuthState(base64.StdEncoding.EncodeToString([]byte(raw)))
	if !ok || got.SessionID != "s1" || got.Nonce != "n1" {
		t.Errorf("got = %+v, ok = %v", got, ok)
	}
}

func TestParseOAuthState_RejectsInvalid(t *testing.T) {
	enc := func(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name  string
		input string
	}{
		{"空文字列", ""},
		{"不正なbase64", "!!!not-base64!!!"},
		{"JSONでない", enc("hello world")},
		{"JSON配列", enc(`["s","n"]`)},
		{"session_id 欠落", enc(`{"nonce":"n"}`)},
		{"nonce 欠落", enc(`{"session_id":"s"}`)},
		{"session_id が数値", enc(`{"session_id":1,"nonce":"n"}`)},
		{"nonce が真偽値", enc(`{"session_id":"s","nonce":true}`)},
		{"nonce が null", enc(`{"session_id":"s","nonce":null}`)},
		{"session_id が空", enc(`{"session_id":"","nonce":"n"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := ParseOAuthState(tt.input); ok {
				t.Errorf("不正な入力が受理された: %+v", got)
			}
		})
	}
}
