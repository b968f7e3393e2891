package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/serifu/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// StatusForError はエラーコードに対応するHTTPステータスコードを返す。
func StatusForError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeCSRFFailed:
		return http.StatusForbidden
	case model.ErrCodeMonologueNotFound, model.ErrCodeUnknownTour:
		return http.StatusNotFound
	case model.ErrCodeAlreadyRegistered, model.ErrCodeConfirmationNeeded:
		return http.StatusConflict
	case model.ErrCodeValidationFailed,
		model.ErrCodeMonologueTooShort,
		model.ErrCodeMonologueTooLong,
		model.ErrCodeInvalidURL,
		model.ErrCodeSSRFBlocked:
		return http.StatusBadRequest
	case model.ErrCodeSearchTimeout:
		return http.StatusGatewayTimeout
	case model.ErrCodeBackendUnreachable, model.ErrCodePortalURLBlocked:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteAPIError はドメインエラーを統一フォーマットで書き込む。
// *model.APIError以外のエラーは詳細を伏せて500を返す。
func WriteAPIError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusForError(apiErr), apiErr)
		return
	}
	WriteInternalServerError(w)
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
