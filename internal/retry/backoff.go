// Package retry は一時的な失敗に限って指数バックオフで操作を再試行する。
package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// jitterFactor は遅延に加えるランダムな揺らぎの割合（±25%）。
	jitterFactor = 0.25
	// multiplier は試行ごとの遅延の倍率。
	multiplier = 2.0
	// maxInterval はジッター適用後もDurationが溢れない上限。
	maxInterval = time.Duration(math.MaxInt64 / 2)
)

// Delay はattempt回目（0始まり、最初のリトライが0）の待機時間を返す。
// base * 2^attempt に±25%のジッターを加えるため、同じattemptでも値は一定ではないが
// 常に [0.75×, 1.25×] の範囲に収まる。
func Delay(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		return 0
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: jitterFactor,
		Multiplier:          multiplier,
		MaxInterval:         maxInterval,
	}
	b.Reset()

	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
