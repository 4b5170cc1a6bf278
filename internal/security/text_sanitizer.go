// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はバックエンドへ転送する自由入力テキスト（顧客名、説明など）から
// HTMLを取り除く。bluemondayのStrictPolicyを使い、タグはすべて除去して
// テキストだけを残す。エンティティで書かれたタグもデコード後に除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// FreeTextFields はサニタイズ対象となるペイロードのキー。
// 現行・旧形式の両方の名前を含む。
var FreeTextFields = []string{
	"PayerAccountName", "name",
	"CustomerName", "customerName",
	"Description", "description",
}

// TextSanitizer はプレーンテキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize はHTMLタグを除去し、前後の空白を取り除いたテキストを返す。
	// エンティティはデコードして返すため、"A & B" はそのまま保たれる。
	Sanitize(s string) string

	// SanitizePayload はpayloadのうちFreeTextFieldsに該当する文字列値をその場でサニタイズする。
	SanitizePayload(payload map[string]any)
}

type textSanitizer struct {
	policy *bluemonday.Policy
	fields map[string]struct{}
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	fields := make(map[string]struct{}, len(FreeTextFields))
	for _, f := range FreeTextFields {
		fields[f] = struct{}{}
	}
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
		fields: fields,
	}
}

// maxSanitizePasses はエンティティの多重エンコードを剥がす回数の上限。
const maxSanitizePasses = 8

func (s *textSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	// デコードで現れたタグも除去されるよう、変化しなくなるまで繰り返す
	current := text
	for range maxSanitizePasses {
		cleaned := s.policy.Sanitize(current)
		next := html.UnescapeString(cleaned)
		if next == current {
			return strings.TrimSpace(next)
		}
		current = next
	}
	// 上限に達した場合はエンコードしたまま返す
	return strings.TrimSpace(s.policy.Sanitize(current))
}

func (s *textSanitizer) SanitizePayload(payload map[string]any) {
	for k, v := range payload {
		if _, ok := s.fields[k]; !ok {
			continue
		}
		if str, ok := v.(string); ok {
			payload[k] = s.Sanitize(str)
		}
	}
}

var _ TextSanitizer = (*textSanitizer)(nil)
