// Package logger はJSON構造化ログの初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// levelVar はグローバルロガーのログレベル。設定読み込み後に変更できる。
var levelVar = new(slog.LevelVar)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	return SetupWithLevel(w, slog.LevelInfo)
}

// redactedKeys はログに値を出してはならない属性キー。
// トークンや認証情報を誤ってログに渡しても伏せ字で出力される。
var redactedKeys = map[string]bool{
	"access_token":  true,
	"id_token":      true,
	"refresh_token": true,
	"password":      true,
	"code":          true,
	"authorization": true,
}

const redactedValue = "[REDACTED]"

// SetupWithLevel は指定レベル以上を出力するJSONロガーを生成する。
func SetupWithLevel(w io.Writer, level slog.Leveler) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if redactedKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redactedValue)
	}
	return a
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。
// レベルは初期値Infoで、SetLevelにより後から変更できる。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	levelVar.Set(slog.LevelInfo)
	slog.SetDefault(SetupWithLevel(w, levelVar))
}

// SetLevel はグローバルロガーのレベルを文字列（debug, info, warn, error）で変更する。
// 不明な値はinfoとして扱う。
func SetLevel(level string) {
	levelVar.Set(ParseLevel(level))
}

// ParseLevel はログレベル文字列をslog.Levelに変換する。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
