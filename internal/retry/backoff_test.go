package retry

import (
	"testing"
	"time"
)

func TestDelay_WithinJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 0; attempt < 8; attempt++ {
		unjittered := base * time.Duration(1<<attempt)
		lo := time.Duration(float64(unjittered) * 0.75)
		hi := time.Duration(float64(unjittered) * 1.25)
		for i := 0; i < 200; i++ {
			d := Delay(attempt, base)
			if d < lo || d > hi {
				t.Fatalf("Delay(%d) = %v, want within [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestDelay_FirstRetryIsAroundBase(t *testing.T) {
	d := Delay(0, time.Second)
	if d < 750*time.Millisecond || d > 1250*time.Millisecond {
		t.Errorf("Delay(0, 1s) = %v", d)
	}
}

func TestDelay_ZeroBase(t *testing.T) {
	if d := Delay(3, 0); d != 0 {
		t.Errorf("Delay(3, 0) = %v, want 0", d)
	}
}

func TestDelay_NegativeAttemptTreatedAsFirst(t *testing.T) {
	d := Delay(-1, time.Second)
	if d < 750*time.Millisecond || d > 1250*time.Millisecond {
		t.Errorf("Delay(-1, 1s) = %v", d)
	}
}

func TestDelay_IsJittered(t *testing.T) {
	seen := make(map[time.Duration]struct{})
	for i := 0; i < 50; i++ {
		seen[Delay(2, time.Second)] = struct{}{}
	}
	if len(seen) < 2 {
		t.Error("50回の呼び出しで同一の値しか得られなかった（ジッターが効いていない）")
	}
}
