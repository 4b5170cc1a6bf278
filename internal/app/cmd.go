package app

import (
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はBFFサーバーとトークンリフレッシュスケジューラを起動する。
	CommandServe Command = "serve"
	// CommandWorker は保存データのクリーンアップジョブを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はbrowser_storageテーブルのマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中サーバーの/healthを確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp はサブコマンドの一覧を表示する。
	CommandHelp Command = "help"
)

// commands はサブコマンドと説明の一覧。usageの表示順を兼ねる。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "start the dashboard BFF server (default)"},
	{CommandWorker, "purge abandoned browser storage periodically"},
	{CommandMigrate, "apply database migrations (STORAGE_BACKEND=postgres)"},
	{CommandHealthcheck, "check /health of the running server"},
	{CommandHelp, "show this help"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。2番目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	switch args[0] {
	case "-h", "--help":
		return CommandHelp, nil
	}
	for _, c := range commands {
		if string(c.cmd) == args[0] {
			return c.cmd, nil
		}
	}
	return "", fmt.Errorf("unknown command: %q", args[0])
}

// WriteUsage はサブコマンドの一覧を書き込む。
func WriteUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: billdash [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.desc)
	}
}
