package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/billdash/internal/middleware"
	"github.com/hitoshi/billdash/internal/model"
	"github.com/hitoshi/billdash/internal/session"
)

// maxBodyBytes はリクエストボディの上限。
const maxBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeBody はJSONボディをvにデコードする。
// 数値はjson.Numberとして保持し、バックエンドへ精度を落とさず転送する。
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(v)
}

// handleError はセッション・IdP・バックエンドから返されたエラーを
// 統一エラーフォーマットのレスポンスに変換する。
func handleError(w http.ResponseWriter, err error) {
	var (
		apiErr      *model.APIError
		expired     *model.SessionExpiredError
		credErr     *model.CredentialError
		exchangeErr *model.AuthExchangeError
		callbackErr *session.CallbackError
		backendErr  *model.BackendError
	)

	switch {
	case errors.As(err, &apiErr):
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
	case errors.As(err, &expired):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionExpiredAPIError())
	case errors.As(err, &credErr):
		middleware.WriteErrorResponse(w, credentialStatus(credErr.Kind), model.NewCredentialAPIError(credErr))
	case errors.As(err, &exchangeErr):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthFailedError(model.ErrCodeAuthFailed, exchangeErr.Error()))
	case errors.As(err, &callbackErr):
		code := model.ErrCodeIdPRejectedLogin
		if callbackErr.Reason == session.MissingCodeMessage {
			code = model.ErrCodeMissingAuthCode
		}
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthFailedError(code, callbackErr.Reason))
	case errors.As(err, &backendErr):
		middleware.WriteErrorResponse(w, backendStatus(backendErr.Status), model.NewBackendAPIError(backendErr))
	default:
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeSessionExpired, model.ErrCodeAuthFailed,
		model.ErrCodeMissingAuthCode, model.ErrCodeIdPRejectedLogin:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidAccount:
		return http.StatusBadRequest
	case model.ErrCodeAccountNotFound:
		return http.StatusNotFound
	case model.ErrCodeBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// credentialStatus は認証情報エラーの種別をHTTPステータスに変換する。
func credentialStatus(kind model.CredentialErrorKind) int {
	switch kind {
	case model.CredentialNotAuthorized, model.CredentialUserNotFound:
		return http.StatusUnauthorized
	case model.CredentialUserNotConfirmed:
		return http.StatusForbidden
	case model.CredentialUsernameExists, model.CredentialAlreadyConfirmed:
		return http.StatusConflict
	case model.CredentialUnknown:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

// backendStatus はバックエンドのステータスをクライアント向けに変換する。
// 4xxはそのまま返し、それ以外はゲートウェイエラーとする。
func backendStatus(status int) int {
	if status >= 400 && status < 500 {
		return status
	}
	return http.StatusBadGateway
}

// sessionFrom はSessionMiddlewareが注入したSessionを取得する。
// 見つからない場合は500を書き込みfalseを返す。
func sessionFrom(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		slog.Error("session missing from request context", slog.String("path", r.URL.Path))
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	return sess, true
}
