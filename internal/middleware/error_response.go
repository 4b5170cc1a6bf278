package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/billdash/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
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
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// NotFoundHandler は存在しないルートへのリクエストに統一フォーマットの404を返す。
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
		Code:     model.ErrCodeRouteNotFound,
		Message:  "Not found: " + r.URL.Path,
		Category: "validation",
		Action:   "URLを確認してください。",
	})
}

// MethodNotAllowedHandler はルートが対応していないメソッドに統一フォーマットの405を返す。
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, http.StatusMethodNotAllowed, &model.APIError{
		Code:     model.ErrCodeMethodNotAllowed,
		Message:  "Method not allowed: " + r.Method,
		Category: "validation",
		Action:   "リクエストメソッドを確認してください。",
	})
}
