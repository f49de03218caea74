package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/RamXX/tminus-sub003/internal/model"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRawCode(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"provider error", &ProviderError{Origin: OriginOAuth, Code: "access_denied"}, "access_denied"},
		{"wrapped provider error", fmt.Errorf("exchange: %w", &ProviderError{Code: "invalid_grant"}), "invalid_grant"},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"net timeout", timeoutErr{}, CodeTimeout},
		{"connection refused", refused, CodeConnectionRefused},
		{"other dial error", &net.OpError{Op: "dial", Err: errors.New("no route to host")}, CodeNetworkError},
		{"plain", errors.New("boom"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RawCode(tt.err); got != tt.want {
				t.Errorf("RawCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifier_UsesProviderErrorOrigin(t *testing.T) {
	c := Classifier{Origin: OriginOAuth, Provider: "google"}

	got := c.Classify(&ProviderError{Origin: OriginCalDAV, Code: "invalid_credentials"})

	if got.RecoveryAction != model.RecoveryShowHow {
		t.Errorf("RecoveryAction = %q, want show_how", got.RecoveryAction)
	}
	if got.Provider != ProviderApple {
		t.Errorf("Provider = %q, want apple", got.Provider)
	}
}

func TestClassifier_TransportFailureUsesDefaults(t *testing.T) {
	c := Classifier{Origin: OriginOAuth, Provider: "microsoft"}

	got := c.Classify(context.DeadlineExceeded)

	if got.Severity != model.SeverityTransient {
		t.Errorf("Severity = %q, want transient", got.Severity)
	}
	if got.Provider != "microsoft" {
		t.Errorf("Provider = %q, want microsoft", got.Provider)
	}
}

func TestClassifier_UnknownErrorIsGenericPersistent(t *testing.T) {
	got := Classifier{Origin: OriginAPI}.Classify(errors.New("kaboom"))

	if got.Code != CodeUnknown || got.Severity != model.SeverityPersistent {
		t.Errorf("got %+v, want generic persistent", got)
	}
}

func TestClassifier_APIOrigin(t *testing.T) {
	c := Classifier{Origin: OriginAPI}

	tests := []struct {
		name     string
		err      error
		code     string
		provider string
	}{
		{"backend failure", &ProviderError{Origin: OriginAPI, Code: "temporarily_unavailable", Status: 503}, CodeProviderUnavailable, ProviderBackend},
		{"relayed google failure", &ProviderError{Origin: OriginAPI, Code: "access_denied", Provider: "google"}, CodeAccessDenied, "google"},
		{"relayed apple failure", &ProviderError{Origin: OriginAPI, Code: "invalid_credentials", Provider: "apple"}, CodeInvalidCredentials, ProviderApple},
		{"transport timeout", context.DeadlineExceeded, CodeTimeout, ProviderBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.err)
			if got.Code != tt.code || got.Provider != tt.provider {
				t.Errorf("Classify() = %s/%s, want %s/%s", got.Code, got.Provider, tt.code, tt.provider)
			}
		})
	}
}

func TestProviderError_Error(t *testing.T) {
	err := &ProviderError{Origin: OriginOAuth, Provider: "google", Code: "access_denied", Status: 400, Detail: "user said no"}
	if err.Error() == "" {
		t.Error("Error() should not be empty")
	}
}
