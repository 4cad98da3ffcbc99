package app

// Command はhanumo-authの起動モードを表す。
type Command string

const (
	// CommandServe は認証APIサーバーとして起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はusersスキーマのマイグレーションを適用することを示す。
	CommandMigrate Command = "migrate"
	// CommandMigrateStatus はusersスキーマのバージョンを表示することを示す。
	CommandMigrateStatus Command = "migrate-status"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NeedsDatabase はDATABASE_URLが必須のコマンドかを返す。
func (c Command) NeedsDatabase() bool {
	return c == CommandMigrate || c == CommandMigrateStatus
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandMigrate, CommandMigrateStatus, CommandHealthcheck:
		return Command(args[0])
	default:
		return CommandServe
	}
}
