package optimistic

import "testing"

func TestNewTempID_HasReservedPrefix(t *testing.T) {
	id := NewTempID()
	if !IsTempID(id) {
		t.Errorf("NewTempID() = %q, should start with %q", id, TempIDPrefix)
	}
}

func TestNewTempID_UniqueAcrossRapidCalls(t *testing.T) {
	const n = 10000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := NewTempID()
		if _, dup := seen[id]; dup {
			t.Fatalf("一時IDが重複した: %q (i=%d)", id, i)
		}
		seen[id] = struct{}{}
	}
}

func TestIsTempID_ServerIDs(t *testing.T) {
	for _, id := range []string{"evt-1", "", "tempo-1", "abc-temp-1"} {
		if IsTempID(id) {
			t.Errorf("IsTempID(%q) = true, want false", id)
		}
	}
}
