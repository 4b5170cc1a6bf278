// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"
)

// TokenStore はブラウザ単位のキー・バリュー保存領域のインターフェース。
// 1つのbrowser_idに対して複数のキーを持ち、値は文字列として保存する。
type TokenStore interface {
	// Get は指定キーの値を取得する。存在しない場合はokがfalseになる。
	Get(ctx context.Context, browserID, key string) (value string, ok bool, err error)

	// Set は指定キーに値を保存する。既存の値は上書きする。
	Set(ctx context.Context, browserID, key, value string) error

	// Delete は指定キーを削除する。存在しないキーの削除はエラーにならない。
	Delete(ctx context.Context, browserID string, keys ...string) error
}

// StaleEntryPurger は一定期間更新されていない保存データを削除する。
// クリーンアップジョブから使用する。
type StaleEntryPurger interface {
	// PurgeOlderThan はcutoffより前に更新されたエントリを削除し、削除件数を返す。
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
