package telemetry

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/RamXX/tminus-sub003/internal/model"
)

func sampleClassified() model.ClassifiedError {
	return model.ClassifiedError{
		Code:           "access_denied",
		Message:        "You declined the calendar permission for Google.",
		Severity:       model.SeverityPersistent,
		RecoveryAction: model.RecoveryTryAgain,
		RecoveryLabel:  "Try again",
		Provider:       "google",
	}
}

func TestNewErrorEvent_ProjectsClassifiedError(t *testing.T) {
	e := NewErrorEvent(sampleClassified())

	if e.EventID == "" {
		t.Error("EventID が空")
	}
	if e.Code != "access_denied" || e.Provider != "google" {
		t.Errorf("code/provider = %q/%q", e.Code, e.Provider)
	}
	if e.Severity != model.SeverityPersistent || e.RecoveryAction != model.RecoveryTryAgain {
		t.Errorf("severity/action = %q/%q", e.Severity, e.RecoveryAction)
	}
	if e.OccurredAt.IsZero() {
		t.Error("OccurredAt が未設定")
	}
	if e.RetryCount != nil || e.Recovered != nil || e.UserDismissed != nil {
		t.Error("オプション未指定のフィールドは存在してはならない")
	}
}

func TestNewErrorEvent_OmitsAbsentKeysInJSON(t *testing.T) {
	data, err := json.Marshal(NewErrorEvent(sampleClassified()))
	if err != nil {
		t.Fatalf("Marshal に失敗: %v", err)
	}
	for _, key := range []string{"retry_count", "recovered", "user_dismissed", "message", "recovery_label"} {
		if strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("JSON に %q が含まれてはならない: %s", key, data)
		}
	}
}

func TestNewErrorEvent_ZeroRetryCountIsPresent(t *testing.T) {
	e := NewErrorEvent(sampleClassified(), WithRetryCount(0), WithRecovered(false))

	if e.RetryCount == nil || *e.RetryCount != 0 {
		t.Fatalf("RetryCount = %v, want 0", e.RetryCount)
	}
	if e.Recovered == nil || *e.Recovered {
		t.Fatalf("Recovered = %v, want false", e.Recovered)
	}

	data, _ := json.Marshal(e)
	if !strings.Contains(string(data), `"retry_count":0`) {
		t.Errorf("retry_count=0 はJSONに残るべき: %s", data)
	}
	if !strings.Contains(string(data), `"recovered":false`) {
		t.Errorf("recovered=false はJSONに残るべき: %s", data)
	}
}

func TestNewErrorEvent_Options(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("JST", 9*3600))
	e := NewErrorEvent(sampleClassified(), WithUserDismissed(true), WithOccurredAt(at))

	if e.UserDismissed == nil || !*e.UserDismissed {
		t.Errorf("UserDismissed = %v, want true", e.UserDismissed)
	}
	if !e.OccurredAt.Equal(at) || e.OccurredAt.Location() != time.UTC {
		t.Errorf("OccurredAt = %v, want %v in UTC", e.OccurredAt, at)
	}
}

func TestNewErrorEvent_UniqueEventIDs(t *testing.T) {
	a := NewErrorEvent(sampleClassified())
	b := NewErrorEvent(sampleClassified())
	if a.EventID == b.EventID {
		t.Error("EventID は一意であるべき")
	}
}

func TestValidate(t *testing.T) {
	valid := NewErrorEvent(sampleClassified(), WithRetryCount(2))
	if !Validate(valid) {
		t.Fatal("正しいイベントが拒否された")
	}

	tests := []struct {
		name   string
		mutate func(*model.ErrorTelemetryEvent)
	}{
		{"event_id なし", func(e *model.ErrorTelemetryEvent) { e.EventID = "" }},
		{"code なし", func(e *model.ErrorTelemetryEvent) { e.Code = "" }},
		{"未知の severity", func(e *model.ErrorTelemetryEvent) { e.Severity = "fatal" }},
		{"recovery_action なし", func(e *model.ErrorTelemetryEvent) { e.RecoveryAction = "" }},
		{"負の retry_count", func(e *model.ErrorTelemetryEvent) { n := -1; e.RetryCount = &n }},
		{"occurred_at なし", func(e *model.ErrorTelemetryEvent) { e.OccurredAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			if Validate(e) {
				t.Error("不正なイベントが受理された")
			}
		})
	}
}
