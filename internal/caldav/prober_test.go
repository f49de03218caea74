package caldav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/RamXX/tminus-sub003/internal/classify"
	"github.com/RamXX/tminus-sub003/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

const principalResponse = `<?xml version="1.0" encoding="UTF-8"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>/</d:href>
    <d:propstat>
      <d:prop><d:current-user-principal><d:href>/123/principal/</d:href></d:current-user-principal></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

const homeSetResponse = `<?xml version="1.0" encoding="UTF-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/123/principal/</d:href>
    <d:propstat>
      <d:prop><c:calendar-home-set><d:href>/123/calendars/</d:href></c:calendar-home-set></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

const calendarsResponse = `<?xml version="1.0" encoding="UTF-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/123/calendars/</d:href>
    <d:propstat>
      <d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/123/calendars/home/</d:href>
    <d:propstat>
      <d:prop><d:resourcetype><d:collection/><c:calendar/></d:resourcetype><d:displayname>Home</d:displayname></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/123/calendars/work/</d:href>
    <d:propstat>
      <d:prop><d:resourcetype><d:collection/><c:calendar/></d:resourcetype><d:displayname>Work</d:displayname></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/123/calendars/inbox/</d:href>
    <d:propstat>
      <d:prop><d:resourcetype><d:collection/><c:schedule-inbox/></d:resourcetype></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

func newCalDAVServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PROPFIND" {
			t.Errorf("method = %s, want PROPFIND", r.Method)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user@icloud.com" || pass != "abcd-efgh-ijkl-mnop" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		switch r.URL.Path {
		case "/":
			if got := r.Header.Get("Depth"); got != "0" {
				t.Errorf("Depth = %q, want 0", got)
			}
			w.WriteHeader(http.StatusMultiStatus)
			fmt.Fprint(w, principalResponse)
		case "/123/principal/":
			w.WriteHeader(http.StatusMultiStatus)
			fmt.Fprint(w, homeSetResponse)
		case "/123/calendars/":
			if got := r.Header.Get("Depth"); got != "1" {
				t.Errorf("Depth = %q, want 1", got)
			}
			w.WriteHeader(http.StatusMultiStatus)
			fmt.Fprint(w, calendarsResponse)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbe_CountsCalendars(t *testing.T) {
	srv := newCalDAVServer(t)
	p := NewProber(srv.Client(), srv.URL, nil, testLogger())

	count, err := p.Probe(context.Background(), Credentials{Username: "user@icloud.com", AppPassword: "abcd-efgh-ijkl-mnop"})
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if count != 2 {
		t.Errorf("calendar count = %d, want 2", count)
	}
}

func TestProbe_ExplicitServerOverridesDefault(t *testing.T) {
	srv := newCalDAVServer(t)
	p := NewProber(srv.Client(), "https://caldav.invalid", nil, testLogger())

	count, err := p.Probe(context.Background(), Credentials{ServerURL: srv.URL, Username: "user@icloud.com", AppPassword: "abcd-efgh-ijkl-mnop"})
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if count != 2 {
		t.Errorf("calendar count = %d, want 2", count)
	}
}

func TestProbe_StatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		wantCode string
		wantSev  model.Severity
	}{
		{http.StatusUnauthorized, classify.CodeInvalidCredentials, model.SeverityPersistent},
		{http.StatusForbidden, classify.CodeVerificationRequired, model.SeverityPersistent},
		{http.StatusServiceUnavailable, classify.CodeProviderUnavailable, model.SeverityTransient},
		{http.StatusTooManyRequests, classify.CodeProviderUnavailable, model.SeverityTransient},
		{http.StatusNotFound, classify.CodeUnknown, model.SeverityPersistent},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewProber(srv.Client(), srv.URL, nil, testLogger())
			_, err := p.Probe(context.Background(), Credentials{Username: "u", AppPassword: "p"})
			if err == nil {
				t.Fatal("expected error")
			}
			var pe *classify.ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("ProviderErrorではありません: %T", err)
			}
			if pe.Origin != classify.OriginCalDAV || pe.Status != tt.status {
				t.Errorf("origin = %s, status = %d", pe.Origin, pe.Status)
			}
			c := classify.Classifier{Origin: classify.OriginCalDAV}.Classify(err)
			if c.Code != tt.wantCode || c.Severity != tt.wantSev {
				t.Errorf("classified = %s/%s, want %s/%s", c.Code, c.Severity, tt.wantCode, tt.wantSev)
			}
			if c.Provider != classify.ProviderApple {
				t.Errorf("provider = %q, want apple", c.Provider)
			}
		})
	}
}

func TestProbe_MissingCredentials(t *testing.T) {
	p := NewProber(nil, "https://caldav.icloud.com", nil, testLogger())
	_, err := p.Probe(context.Background(), Credentials{Username: "u"})
	if got := classify.RawCode(err); got != classify.CodeInvalidCredentials {
		t.Errorf("RawCode = %q, want %q", got, classify.CodeInvalidCredentials)
	}
}

func TestProbe_ValidatorRejectsServer(t *testing.T) {
	called := false
	validate := func(string) error {
		called = true
		return errors.New("blocked")
	}
	p := NewProber(nil, "https://10.0.0.1", validate, testLogger())

	_, err := p.Probe(context.Background(), Credentials{Username: "u", AppPassword: "p"})
	if !called {
		t.Fatal("検証関数が呼ばれていません")
	}
	c := classify.Classifier{Origin: classify.OriginCalDAV}.Classify(err)
	if c.Severity != model.SeverityPersistent {
		t.Errorf("severity = %s, want persistent", c.Severity)
	}
}

func TestProbe_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	p := NewProber(&http.Client{Timeout: 2 * time.Second}, addr, nil, testLogger())
	_, err := p.Probe(context.Background(), Credentials{Username: "u", AppPassword: "p"})
	if got := classify.RawCode(err); got != classify.CodeConnectionRefused {
		t.Errorf("RawCode = %q, want %q (err: %v)", got, classify.CodeConnectionRefused, err)
	}
}

func TestProbe_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewProber(&http.Client{Timeout: 50 * time.Millisecond}, srv.URL, nil, testLogger())
	_, err := p.Probe(context.Background(), Credentials{Username: "u", AppPassword: "p"})
	if got := classify.RawCode(err); got != classify.CodeTimeout {
		t.Errorf("RawCode = %q, want %q", got, classify.CodeTimeout)
	}
}

func TestProbe_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, "<html>not dav</html>")
	}))
	defer srv.Close()

	p := NewProber(srv.Client(), srv.URL, nil, testLogger())
	_, err := p.Probe(context.Background(), Credentials{Username: "u", AppPassword: "p"})
	if got := classify.RawCode(err); got != classify.CodeUnknown {
		t.Errorf("RawCode = %q, want %q", got, classify.CodeUnknown)
	}
}

func TestProbe_ValidatorRunsOnDiscoveredPaths(t *testing.T) {
	srv := newCalDAVServer(t)
	var seen []string
	validate := func(raw string) error {
		seen = append(seen, raw)
		if strings.Contains(raw, "/calendars/") {
			return errors.New("blocked")
		}
		return nil
	}
	p := NewProber(srv.Client(), srv.URL, validate, testLogger())

	_, err := p.Probe(context.Background(), Credentials{Username: "user@icloud.com", AppPassword: "abcd-efgh-ijkl-mnop"})
	if got := classify.RawCode(err); got != "blocked_server" {
		t.Errorf("RawCode = %q, want blocked_server (err: %v)", got, err)
	}
	if len(seen) < 3 {
		t.Errorf("検証されたURL = %v, want 探索中の各リクエストを含む", seen)
	}
}
