package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RamXX/tminus-sub003/internal/model"
)

// State はリトライ処理の状態。
type State string

const (
	StateAttempting       State = "attempting"
	StateWaiting          State = "waiting"
	StateSucceeded        State = "succeeded"
	StateFailedPersistent State = "failed_persistent"
	StateFailedExhausted  State = "failed_exhausted"
)

// ClassifyFunc は失敗を分類する。
type ClassifyFunc func(error) model.ClassifiedError

// SleepFunc は指定時間待機する。ctxが終了した場合はエラーを返す。
// テストでは即時に返すスタブに差し替える。
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options はDoの動作設定。
type Options struct {
	// MaxRetries は一時的な失敗に対する最大リトライ回数。総試行回数は最大MaxRetries+1。
	MaxRetries int
	// BaseDelay はDelayに渡す基準遅延。
	BaseDelay time.Duration
	// OnRetry はリトライ前に呼ばれる。attemptは0始まり。
	OnRetry func(attempt int, classified model.ClassifiedError)
	// Sleep は待機処理。nilの場合はタイマーで待機する。
	Sleep SleepFunc
	// Logger はnilの場合ログを出力しない。
	Logger *slog.Logger
}

// Error はリトライが打ち切られたことを表す型付きエラー。
// 呼び出し側が再分類せずに表示できるよう、分類結果をそのまま保持する。
type Error struct {
	Classified model.ClassifiedError
	State      State // StateFailedPersistent または StateFailedExhausted
	Attempts   int
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return fmt.Sprintf("%s after %d attempt(s) [%s/%s]: %v",
		e.State, e.Attempts, e.Classified.Code, e.Classified.Severity, e.Err)
}

// Unwrap は最後の失敗を返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// Retries は実際に行ったリトライ回数を返す。
func (e *Error) Retries() int {
	if e.Attempts == 0 {
		return 0
	}
	return e.Attempts - 1
}

// Fail はリトライを経ずに終わった失敗を*Errorとして包む。
// プロバイダーが直接報告した失敗など、操作を再実行できない場合に使う。
func Fail(classified model.ClassifiedError, err error) *Error {
	state := StateFailedPersistent
	if classified.IsTransient() {
		state = StateFailedExhausted
	}
	return &Error{Classified: classified, State: state, Attempts: 1, Err: err}
}

// AsError はerrから*Errorを取り出す。
func AsError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// Do はopを実行し、失敗がtransientに分類される間だけ指数バックオフでリトライする。
//
// 成功した場合はclassifyを呼ばずに直ちに返す。persistentな失敗は即座に、
// transientな失敗はMaxRetries回のリトライを使い切った時点で*Errorを返す。
// 試行は常に逐次実行され重ならない。ctxが待機中に終了した場合はリトライを使い切ったものとして扱う。
func Do[T any](ctx context.Context, op func(context.Context) (T, error), classify ClassifyFunc, opts Options) (T, error) {
	var zero T
	sleep := opts.Sleep
	if sleep == nil {
		sleep = timerSleep
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	attempts := 0
	for {
		attempts++
		v, err := op(ctx)
		if err == nil {
			opts.log(ctx, slog.LevelDebug, StateSucceeded, attempts, nil)
			return v, nil
		}

		classified := classify(err)
		if !classified.IsTransient() {
			opts.log(ctx, slog.LevelWarn, StateFailedPersistent, attempts, &classified)
			return zero, &Error{Classified: classified, State: StateFailedPersistent, Attempts: attempts, Err: err}
		}

		retryIndex := attempts - 1
		if retryIndex >= maxRetries {
			opts.log(ctx, slog.LevelWarn, StateFailedExhausted, attempts, &classified)
			return zero, &Error{Classified: classified, State: StateFailedExhausted, Attempts: attempts, Err: err}
		}

		if opts.OnRetry != nil {
			opts.OnRetry(retryIndex, classified)
		}
		delay := Delay(retryIndex, opts.BaseDelay)
		opts.log(ctx, slog.LevelInfo, StateWaiting, attempts, &classified, slog.Duration("delay", delay))

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return zero, &Error{
				Classified: classified,
				State:      StateFailedExhausted,
				Attempts:   attempts,
				Err:        errors.Join(err, sleepErr),
			}
		}
	}
}

func (o Options) log(ctx context.Context, level slog.Level, state State, attempts int, c *model.ClassifiedError, extra ...slog.Attr) {
	if o.Logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("state", string(state)),
		slog.Int("attempts", attempts),
	}
	if c != nil {
		attrs = append(attrs,
			slog.String("code", c.Code),
			slog.String("severity", string(c.Severity)),
			slog.String("provider", c.Provider),
		)
	}
	attrs = append(attrs, extra...)
	o.Logger.LogAttrs(ctx, level, "リトライ処理", attrs...)
}

// timerSleep はctxの終了を監視しながらdだけ待機する。
func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep は待機せずに返すSleepFunc。テストや即時リトライ用。
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
