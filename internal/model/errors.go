// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, billing, content, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeBackendUnreachable = "BACKEND_UNREACHABLE"
	ErrCodeSearchTimeout      = "SEARCH_TIMEOUT"
	ErrCodeMonologueNotFound  = "MONOLOGUE_NOT_FOUND"
	ErrCodeMonologueTooShort  = "MONOLOGUE_TOO_SHORT"
	ErrCodeMonologueTooLong   = "MONOLOGUE_TOO_LONG"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeSSRFBlocked        = "SSRF_BLOCKED"
	ErrCodePortalURLBlocked   = "PORTAL_URL_BLOCKED"
	ErrCodeAlreadyRegistered  = "ALREADY_REGISTERED"
	ErrCodeConfirmationNeeded = "CONFIRMATION_NEEDED"
	ErrCodeUnknownTour        = "UNKNOWN_TOUR"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeCSRFFailed         = "CSRF_FAILED"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
// 403応答の際にページ単位のエラーバナーで表示される。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者アカウントでログインし直すか、プランをご確認ください。",
	}
}

// NewBackendUnreachableError はバックエンド未到達エラーを生成する。
// ローカル開発ではバックエンドの起動を促すメッセージを表示する。
func NewBackendUnreachableError() *APIError {
	return &APIError{
		Code:     ErrCodeBackendUnreachable,
		Message:  "Serifu APIに接続できませんでした。",
		Category: "system",
		Action:   "ローカル開発中の場合はバックエンドを起動してください。しばらく待ってから再度お試しください。",
	}
}

// NewSearchTimeoutError は検索タイムアウトエラーを生成する。
// 初回リクエストはバックエンドのコールドスタートで遅くなることがある。
func NewSearchTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeSearchTimeout,
		Message:  "検索に時間がかかっています。",
		Category: "content",
		Action:   "初回の検索は起動に時間がかかる場合があります。少し待ってからもう一度お試しください。",
	}
}

// NewMonologueNotFoundError はモノローグ未検出エラーを生成する。
func NewMonologueNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeMonologueNotFound,
		Message:  fmt.Sprintf("指定されたモノローグが見つかりません: %d", id),
		Category: "content",
		Action:   "一覧を再読み込みしてください。",
	}
}

// NewMonologueTooShortError は本文が短すぎる場合のエラーを生成する。
func NewMonologueTooShortError(words, min int) *APIError {
	return &APIError{
		Code:     ErrCodeMonologueTooShort,
		Message:  fmt.Sprintf("本文が短すぎます: %d語（最低%d語）", words, min),
		Category: "validation",
		Action:   fmt.Sprintf("本文は%d語以上で入力してください。", min),
	}
}

// NewMonologueTooLongError は本文が長すぎる場合のエラーを生成する。
func NewMonologueTooLongError(words, max int) *APIError {
	return &APIError{
		Code:     ErrCodeMonologueTooLong,
		Message:  fmt.Sprintf("本文が長すぎます: %d語（最大%d語）", words, max),
		Category: "validation",
		Action:   fmt.Sprintf("本文は%d語以内で入力してください。", max),
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。",
	}
}

// NewPortalURLBlockedError は課金ポータルURLの検証失敗エラーを生成する。
// オープンリダイレクト防止のため、検証を通らないURLへは遷移しない。
func NewPortalURLBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodePortalURLBlocked,
		Message:  "課金ポータルのURLを検証できませんでした。",
		Category: "billing",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewAlreadyRegisteredError は登録済みメールアドレスでのサインアップエラーを生成する。
func NewAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyRegistered,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "サインアップではなくログインをお試しください。",
	}
}

// NewConfirmationNeededError はメール確認待ちエラーを生成する。
// サインアップが成功してもセッションが発行されない場合に返す。
func NewConfirmationNeededError() *APIError {
	return &APIError{
		Code:     ErrCodeConfirmationNeeded,
		Message:  "確認メールを送信しました。",
		Category: "auth",
		Action:   "メール内のリンクからアカウントを有効化した後、ログインしてください。",
	}
}

// NewUnknownTourError は未定義のツアー名エラーを生成する。
func NewUnknownTourError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownTour,
		Message:  fmt.Sprintf("未定義のツアーです: %s", name),
		Category: "validation",
		Action:   "ツアー名には search、profile のいずれかを指定してください。",
	}
}

// NewCSRFFailedError はCSRFトークン検証失敗エラーを生成する。
// トークンCookieの期限切れでも起こるため、再読み込みを促す。
func NewCSRFFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから、もう一度お試しください。",
	}
}

// NewValidationError は汎用のバリデーションエラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}
