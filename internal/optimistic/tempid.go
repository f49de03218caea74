package optimistic

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix はサーバー採番IDと区別するための一時識別子の予約プレフィックス。
const TempIDPrefix = "temp-"

// NewTempID はセッション内で一意な一時識別子を生成する。
// ミリ秒タイムスタンプにランダムなサフィックスを付与する。
func NewTempID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s%d-%s", TempIDPrefix, time.Now().UnixMilli(), suffix)
}

// IsTempID はidが一時識別子かどうかを返す。
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
