// Command tminus はオンボーディングAPIサーバー、クリーンアップワーカー、
// マイグレーション、イベント操作CLIを1つのバイナリで提供する。
//
//	tminus [serve|worker|migrate|healthcheck|events ...]
package main

import (
	"log/slog"
	"os"

	"github.com/RamXX/tminus-sub003/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("tminus exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
