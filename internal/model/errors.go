package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, backend, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodeCredential       = "CREDENTIAL_ERROR"
	ErrCodeSessionExpired   = "SESSION_EXPIRED"
	ErrCodeBackend          = "BACKEND_ERROR"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInvalidAccount   = "INVALID_ACCOUNT_KIND"
	ErrCodeAccountNotFound  = "ACCOUNT_NOT_FOUND"
	ErrCodeMissingAuthCode  = "MISSING_AUTHORIZATION_CODE"
	ErrCodeIdPRejectedLogin = "IDP_ERROR"
	ErrCodeCSRF             = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	ErrCodeRouteNotFound    = "NOT_FOUND"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "サインインが必要です。",
		Category: "auth",
		Action:   "サインインしてから再度お試しください。",
	}
}

// NewAuthFailedError はサインイン処理の失敗を表すエラーを生成する。
// reasonはIdPから受け取った文言をそのまま表示する。
func NewAuthFailedError(code, reason string) *APIError {
	return &APIError{
		Code:     code,
		Message:  reason,
		Category: "auth",
		Action:   "もう一度サインインしてください。",
	}
}

// NewCredentialAPIError は認証情報エラーをレスポンス形式に変換する。
func NewCredentialAPIError(err *CredentialError) *APIError {
	return &APIError{
		Code:     ErrCodeCredential,
		Message:  err.Message(),
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewSessionExpiredAPIError はセッション期限切れエラーを生成する。
func NewSessionExpiredAPIError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  SessionExpiredMessage,
		Category: "auth",
		Action:   "再度サインインしてください。",
	}
}

// NewBackendAPIError はバックエンドAPIの失敗をレスポンス形式に変換する。
func NewBackendAPIError(err *BackendError) *APIError {
	return &APIError{
		Code:     ErrCodeBackend,
		Message:  err.Error(),
		Category: "backend",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidAccountKindError はアカウント種別が不正な場合のエラーを生成する。
func NewInvalidAccountKindError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAccount,
		Message:  fmt.Sprintf("無効なアカウント種別です: %s", kind),
		Category: "validation",
		Action:   "アカウント種別には payer または usage を指定してください。",
	}
}

// NewCSRFError はCSRFトークン検証失敗のエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRF,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "validation",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitError はレート制限超過のエラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。しばらくしてから再度お試しください。",
		Category: "system",
		Action:   "Retry-Afterで示された時間が経過してから再度お試しください。",
	}
}

// --- 認証・バックエンドのエラー分類 ---

// AuthExchangeError は認可コードからトークンへの交換失敗を表す。
// Bodyにはトークンエンドポイントが返した生のエラーテキストを保持する。
type AuthExchangeError struct {
	Status int
	Body   string
}

func (e *AuthExchangeError) Error() string {
	return fmt.Sprintf("Failed to exchange code for tokens: %s", e.Body)
}

// SessionExpiredMessage はリフレッシュ失敗時にユーザーへ表示する文言。
const SessionExpiredMessage = "Session expired. Please sign in again."

// SessionExpiredError はトークンのリフレッシュ失敗を表す。
// 回復不能であり、呼び出し元は必ず再認証させる。
type SessionExpiredError struct {
	Err error
}

func (e *SessionExpiredError) Error() string {
	return SessionExpiredMessage
}

func (e *SessionExpiredError) Unwrap() error {
	return e.Err
}

// CredentialErrorKind は直接サインイン・サインアップ時の拒否理由の分類。
type CredentialErrorKind string

const (
	CredentialNotAuthorized    CredentialErrorKind = "not_authorized"
	CredentialUserNotConfirmed CredentialErrorKind = "user_not_confirmed"
	CredentialUserNotFound     CredentialErrorKind = "user_not_found"
	CredentialInvalidParameter CredentialErrorKind = "invalid_parameter"
	CredentialUsernameExists   CredentialErrorKind = "username_exists"
	CredentialInvalidPassword  CredentialErrorKind = "invalid_password"
	CredentialCodeMismatch     CredentialErrorKind = "code_mismatch"
	CredentialExpiredCode      CredentialErrorKind = "expired_code"
	CredentialAlreadyConfirmed CredentialErrorKind = "already_confirmed"
	CredentialUnknown          CredentialErrorKind = "unknown"
)

var credentialMessages = map[CredentialErrorKind]string{
	CredentialNotAuthorized:    "Incorrect email or password",
	CredentialUserNotConfirmed: "Please verify your email before signing in",
	CredentialUserNotFound:     "No account found with this email",
	CredentialInvalidParameter: "Invalid email or password format",
	CredentialUsernameExists:   "An account with this email already exists",
	CredentialInvalidPassword:  "Password does not meet requirements",
	CredentialCodeMismatch:     "Invalid verification code",
	CredentialExpiredCode:      "Verification code has expired",
	CredentialAlreadyConfirmed: "User is already confirmed",
}

// CredentialError は直接サインイン・サインアップ・確認の拒否を表す。
// Kindごとに区別できるユーザー向けメッセージを持つ。
type CredentialError struct {
	Kind     CredentialErrorKind
	Fallback string // Unknownの場合に表示するメッセージ
	Err      error
}

// Message はユーザー向けメッセージを返す。
func (e *CredentialError) Message() string {
	if msg, ok := credentialMessages[e.Kind]; ok {
		return msg
	}
	if e.Fallback != "" {
		return e.Fallback
	}
	return "Authentication failed"
}

func (e *CredentialError) Error() string {
	return e.Message()
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// BackendError はバックエンドREST APIが成功以外のステータスを返したことを表す。
type BackendError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("API Error: %s - %s", e.StatusText, e.Body)
}
