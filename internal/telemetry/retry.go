package telemetry

import (
	"context"

	"github.com/RamXX/tminus-sub003/internal/model"
	"github.com/RamXX/tminus-sub003/internal/retry"
)

// Retry はretry.Doでopを実行し、結果をsinkへ送る。
// 最終的な失敗はretry_countとrecovered=false、1回以上リトライした後の成功は
// 最後に分類した失敗をretry_countとrecovered=trueで送る。リトライせずに成功した場合は何も送らない。
// opts.OnRetryは保持したまま呼び出す。
func Retry[T any](ctx context.Context, sink Sink, op func(context.Context) (T, error), classify retry.ClassifyFunc, opts retry.Options) (T, error) {
	var (
		retries int
		last    model.ClassifiedError
	)
	onRetry := opts.OnRetry
	opts.OnRetry = func(attempt int, classified model.ClassifiedError) {
		retries = attempt + 1
		last = classified
		if onRetry != nil {
			onRetry(attempt, classified)
		}
	}

	v, err := retry.Do(ctx, op, classify, opts)
	if err != nil {
		if re, ok := retry.AsError(err); ok {
			sink.Send(ctx, NewErrorEvent(re.Classified, WithRetryCount(re.Retries()), WithRecovered(false)))
		}
		return v, err
	}
	if retries > 0 {
		sink.Send(ctx, NewErrorEvent(last, WithRetryCount(retries), WithRecovered(true)))
	}
	return v, nil
}
