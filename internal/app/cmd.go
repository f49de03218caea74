package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はオンボーディングAPIサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションと古いテレメトリの削除を定期実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの/healthを確認する。distrolessのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandEvents はイベントAPIに対して楽観的更新でイベントを操作するCLI。
	CommandEvents Command = "events"
	// CommandSession はバックエンドに保存されたオンボーディングセッションを参照・再開・更新するCLI。
	CommandSession Command = "session"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
	string(CommandEvents):      CommandEvents,
	string(CommandSession):     CommandSession,
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// Lightweight はサーバー用のConfig（必須環境変数）を読み込まずに実行できるかを返す。
func (c Command) Lightweight() bool {
	return c == CommandHealthcheck || c == CommandEvents || c == CommandSession
}
