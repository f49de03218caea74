package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/RamXX/tminus-sub003/internal/apiclient"
	"github.com/RamXX/tminus-sub003/internal/classify"
	"github.com/RamXX/tminus-sub003/internal/config"
	"github.com/RamXX/tminus-sub003/internal/model"
	"github.com/RamXX/tminus-sub003/internal/onboarding"
	"github.com/RamXX/tminus-sub003/internal/retry"
	"github.com/RamXX/tminus-sub003/internal/telemetry"
)

const sessionUsage = `usage: tminus session <start|show|resume|complete|account> [flags]

  start -user USER_ID
  show ID -token TOKEN
  resume ID -token TOKEN
  complete ID -token TOKEN
  account ID ACCOUNT_ID -token TOKEN -status <syncing|connected|error> [-calendars N]`

// sessionClient はバックエンドのセッション保存先を分類付きリトライ越しに操作する。
type sessionClient struct {
	api  *apiclient.Client
	sink telemetry.Sink
	opts retry.Options
	now  func() time.Time
}

// resumeResult はresumeサブコマンドの出力。セッションがない場合はsessionを省略する。
type resumeResult struct {
	Action  model.ResumeAction        `json:"action"`
	Session *model.OnboardingSession `json:"session,omitempty"`
}

// runSession は保存済みのオンボーディングセッションを取得し、状態遷移を適用して書き戻す。
// 書き込みは後勝ちで、結果のセッションをJSONでoutに書き出す。
func runSession(ctx context.Context, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New(sessionUsage)
	}

	cc := config.LoadEventsClient()
	api := apiclient.New(cc.APIURL, &http.Client{Timeout: cc.Timeout})
	c := &sessionClient{
		api:  api,
		sink: api.TelemetrySink(slog.Default()),
		opts: retry.Options{MaxRetries: cc.RetryMax, BaseDelay: cc.RetryBaseDelay, Logger: slog.Default()},
		now:  onboarding.SystemClock,
	}

	var (
		result any
		err    error
	)
	switch args[0] {
	case "start":
		result, err = c.start(ctx, args[1:])
	case "show":
		result, err = c.show(ctx, args[1:])
	case "resume":
		result, err = c.resume(ctx, args[1:])
	case "complete":
		result, err = c.complete(ctx, args[1:])
	case "account":
		result, err = c.account(ctx, args[1:])
	default:
		return errors.New(sessionUsage)
	}
	if err != nil {
		return describeError(err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// sessionFlags はセッションIDなどの位置引数に続くフラグを解析する。
type sessionFlags struct {
	fs        *flag.FlagSet
	user      string
	token     string
	status    string
	calendars string
}

func parseSessionFlags(name string, args []string) (*sessionFlags, error) {
	f := &sessionFlags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	f.fs.SetOutput(io.Discard)
	f.fs.StringVar(&f.user, "user", "", "user id")
	f.fs.StringVar(&f.token, "token", "", "session token")
	f.fs.StringVar(&f.status, "status", "", "account status")
	f.fs.StringVar(&f.calendars, "calendars", "", "calendar count")
	if err := f.fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w\n%s", err, sessionUsage)
	}
	return f, nil
}

// positional は先頭n個の位置引数とそれに続くフラグを取り出す。-tokenは必須。
func positional(name string, args []string, n int) ([]string, *sessionFlags, error) {
	if len(args) < n {
		return nil, nil, errors.New(sessionUsage)
	}
	f, err := parseSessionFlags(name, args[n:])
	if err != nil {
		return nil, nil, err
	}
	if f.token == "" {
		return nil, nil, fmt.Errorf("-token is required\n%s", sessionUsage)
	}
	return args[:n], f, nil
}

func callSession[T any](ctx context.Context, c *sessionClient, op func(context.Context) (T, error)) (T, error) {
	return telemetry.Retry(ctx, c.sink, op, classify.Classifier{Origin: classify.OriginAPI}.Classify, c.opts)
}

// load はセッションを取得する。存在しない場合と破損している場合はnilを返す。
func (c *sessionClient) load(ctx context.Context, sessionID, token string) (*model.OnboardingSession, error) {
	return callSession(ctx, c, func(ctx context.Context) (*model.OnboardingSession, error) {
		return c.api.GetSession(ctx, sessionID, token)
	})
}

// mustLoad はloadと同じだが、セッションがない場合はエラーにする。
func (c *sessionClient) mustLoad(ctx context.Context, sessionID, token string) (model.OnboardingSession, error) {
	s, err := c.load(ctx, sessionID, token)
	if err != nil {
		return model.OnboardingSession{}, err
	}
	if s == nil {
		return model.OnboardingSession{}, model.NewSessionNotFoundError(sessionID)
	}
	return *s, nil
}

func (c *sessionClient) save(ctx context.Context, s model.OnboardingSession) error {
	_, err := callSession(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.api.UpdateSession(ctx, s)
	})
	return err
}

func (c *sessionClient) start(ctx context.Context, args []string) (model.OnboardingSession, error) {
	f, err := parseSessionFlags("start", args)
	if err != nil {
		return model.OnboardingSession{}, err
	}
	if f.user == "" {
		return model.OnboardingSession{}, fmt.Errorf("-user is required\n%s", sessionUsage)
	}
	return callSession(ctx, c, func(ctx context.Context) (model.OnboardingSession, error) {
		return c.api.CreateSession(ctx, f.user)
	})
}

func (c *sessionClient) show(ctx context.Context, args []string) (model.OnboardingSession, error) {
	pos, f, err := positional("show", args, 1)
	if err != nil {
		return model.OnboardingSession{}, err
	}
	return c.mustLoad(ctx, pos[0], f.token)
}

// resume は再訪時の動作を判定する。セッションがない、または破損している場合はfreshになる。
func (c *sessionClient) resume(ctx context.Context, args []string) (resumeResult, error) {
	pos, f, err := positional("resume", args, 1)
	if err != nil {
		return resumeResult{}, err
	}
	s, err := c.load(ctx, pos[0], f.token)
	if err != nil {
		return resumeResult{}, err
	}
	return resumeResult{Action: onboarding.DetermineResumeAction(s), Session: s}, nil
}

// complete はセッションを完了にして書き戻す。完了済みの場合は書き込まずにそのまま返す。
func (c *sessionClient) complete(ctx context.Context, args []string) (model.OnboardingSession, error) {
	pos, f, err := positional("complete", args, 1)
	if err != nil {
		return model.OnboardingSession{}, err
	}
	s, err := c.mustLoad(ctx, pos[0], f.token)
	if err != nil {
		return model.OnboardingSession{}, err
	}
	if s.CompletedAt != nil {
		return s, nil
	}
	s = onboarding.CompleteSession(s, c.now())
	if err := c.save(ctx, s); err != nil {
		return model.OnboardingSession{}, err
	}
	return s, nil
}

// account は連携アカウントの状態（と任意でカレンダー数）を更新して書き戻す。
func (c *sessionClient) account(ctx context.Context, args []string) (model.OnboardingSession, error) {
	pos, f, err := positional("account", args, 2)
	if err != nil {
		return model.OnboardingSession{}, err
	}
	status := model.AccountStatus(f.status)
	switch status {
	case model.AccountStatusSyncing, model.AccountStatusConnected, model.AccountStatusError:
	default:
		return model.OnboardingSession{}, fmt.Errorf("invalid -status %q\n%s", f.status, sessionUsage)
	}
	var count *int
	if f.calendars != "" {
		n, err := strconv.Atoi(f.calendars)
		if err != nil || n < 0 {
			return model.OnboardingSession{}, fmt.Errorf("invalid -calendars %q: expected a non-negative number", f.calendars)
		}
		count = &n
	}

	s, err := c.mustLoad(ctx, pos[0], f.token)
	if err != nil {
		return model.OnboardingSession{}, err
	}
	if _, ok := onboarding.FindAccount(s, pos[1]); !ok {
		return model.OnboardingSession{}, model.NewAccountNotFoundError(pos[1])
	}
	s = onboarding.UpdateAccountStatus(s, pos[1], status, count, c.now())
	if err := c.save(ctx, s); err != nil {
		return model.OnboardingSession{}, err
	}
	return s, nil
}
