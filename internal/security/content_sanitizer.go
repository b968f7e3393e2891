// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService は投稿されたモノローグ本文のHTMLをサニタイズし、
// XSS攻撃などのセキュリティリスクから閲覧者を保護する。
// bluemondayライブラリを使用した許可リストベースのポリシーで、
// 安全なタグと属性のみを通過させる。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
// モノローグの投稿受付時およびプレビュー表示時に使用される。
type ContentSanitizerService interface {
	// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// 台本テキストに必要な整形タグ（p, br, em, strong, blockquote）のみを
	// 通過させ、script, iframe, styleタグおよびon*イベント属性を除去する。
	// リンクや画像はモノローグ本文には不要なため許可しない。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string

	// SanitizeText はHTMLタグをすべて取り除いたプレーンテキストを返す。
	// 語数カウントなどテキストとして扱う場面で使用する。
	SanitizeText(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// 初期化時にbluemondayのカスタムポリシーを構築する。
// ポリシーの内容:
//   - 許可タグ: p, br, em, strong, blockquote（台本の整形に必要な最小限）
//   - 禁止タグ: script, iframe, style, a, img および全てのon*イベント属性
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "em", "strong", "blockquote")

	return &contentSanitizer{
		policy: p,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// SanitizeText はHTMLタグをすべて取り除いたプレーンテキストを返す。
func (s *contentSanitizer) SanitizeText(raw string) string {
	return s.strict.Sanitize(raw)
}
