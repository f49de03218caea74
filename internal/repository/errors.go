package repository

import "errors"

// ErrNotFound は更新対象の行が存在しないことを表す。
var ErrNotFound = errors.New("repository: not found")
