// Package optimistic はサーバー確定前のローカル編集（楽観的更新）を
// レコードのリストに適用・確定・巻き戻しする純粋関数を提供する。
//
// どの関数も入力スライスを変更せず、常に新しいスライスを返す。
// I/Oを行わないため失敗しない。呼び出し側は
// 変更前スナップショット取得 → 楽観的適用 → API呼び出し → 成功時はReplace / 失敗時はスナップショット復元
// の順で扱う。
package optimistic

// Record はリスト内で一意な識別子を持つドメインレコード。
type Record interface {
	RecordID() string
}

// Patch はレコードに部分更新を適用する。
// 指定されなかったフィールドは変更してはならない。
type Patch[T any] interface {
	ApplyTo(T) T
}

// Add はレコードを末尾に追加した新しいリストを返す。
// recordには一時識別子（NewTempID）を持たせること。
func Add[T Record](list []T, record T) []T {
	out := make([]T, 0, len(list)+1)
	out = append(out, list...)
	return append(out, record)
}

// Replace は一時レコードをサーバーが返した確定レコードで同じ位置に置き換える。
// tempIDが存在しない場合（確定済み・巻き戻し済み）は同内容のリストとfalseを返し、重複は挿入しない。
// 再読み込みなどで確定レコードのIDが既にリストにある場合は、その位置を確定レコードで置き換え、
// 一時レコードを取り除く。いずれの場合も結果のIDは一意のまま保たれる。
func Replace[T Record](list []T, tempID string, real T) ([]T, bool) {
	idx := indexOf(list, tempID)
	if idx < 0 {
		return Snapshot(list), false
	}
	if dup := indexOf(list, real.RecordID()); dup >= 0 && dup != idx {
		out := without(list, tempID)
		out[indexOf(out, real.RecordID())] = real
		return out, true
	}
	out := Snapshot(list)
	out[idx] = real
	return out, true
}

// Remove は一時レコードを取り除く（巻き戻し用）。
// 既に確定済みでtempIDが存在しない場合も安全に呼べる。
func Remove[T Record](list []T, tempID string) []T {
	return without(list, tempID)
}

// MergeUpdate はidに一致するレコードにpatchで指定されたフィールドのみを適用する。
// 他のフィールドと他のレコードは変更しない。idが存在しない場合は同内容のリストを返す。
func MergeUpdate[T Record, P Patch[T]](list []T, id string, patch P) []T {
	out := Snapshot(list)
	if idx := indexOf(out, id); idx >= 0 {
		out[idx] = patch.ApplyTo(out[idx])
	}
	return out
}

// Delete はidのレコードを削除する。存在しない場合は何もしない。
func Delete[T Record](list []T, id string) []T {
	return without(list, id)
}

// Find はidのレコードを返す。
func Find[T Record](list []T, id string) (T, bool) {
	if idx := indexOf(list, id); idx >= 0 {
		return list[idx], true
	}
	var zero T
	return zero, false
}

// Snapshot は巻き戻し用にリストの独立したコピーを返す。
// nilはnilのまま返す。
func Snapshot[T any](list []T) []T {
	if list == nil {
		return nil
	}
	out := make([]T, len(list))
	copy(out, list)
	return out
}

func indexOf[T Record](list []T, id string) int {
	for i, r := range list {
		if r.RecordID() == id {
			return i
		}
	}
	return -1
}

func without[T Record](list []T, id string) []T {
	out := make([]T, 0, len(list))
	for _, r := range list {
		if r.RecordID() != id {
			out = append(out, r)
		}
	}
	return out
}
