// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/billdash/internal/auth"
	"github.com/hitoshi/billdash/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// DashboardURL はコールバック成功後のリダイレクト先。
	DashboardURL string
	CookieSecure bool
}

// AuthHandler はホストUIのOAuthフローと直接サインインのHTTPハンドラー。
type AuthHandler struct {
	idp    auth.IdentityProvider
	config AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(idp auth.IdentityProvider, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		idp:    idp,
		config: config,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type confirmRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type meResponse struct {
	Authenticated bool                `json:"authenticated"`
	State         model.SessionState  `json:"state"`
	User          *model.UserIdentity `json:"user,omitempty"`
}

// Login はホストUIのログインページへリダイレクトする。
// GET /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.redirectToHostedUI(w, r, h.idp.LoginURL)
}

// SignUpRedirect はホストUIのサインアップページへリダイレクトする。
// GET /auth/signup
func (h *AuthHandler) SignUpRedirect(w http.ResponseWriter, r *http.Request) {
	h.redirectToHostedUI(w, r, h.idp.SignUpURL)
}

func (h *AuthHandler) redirectToHostedUI(w http.ResponseWriter, r *http.Request, buildURL func(state string) string) {
	state, err := auth.GenerateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		handleError(w, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setStateCookie(w, state, 600)

	http.Redirect(w, r, buildURL(state), http.StatusTemporaryRedirect)
}

func (h *AuthHandler) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Callback はホストUIからのリダイレクトを処理する。
// GET /auth/callback?code=xxx&state=yyy または ?error=xxx&error_description=yyy
// 成功時はダッシュボードへリダイレクトし、失敗時はIdPの文言をそのまま401で返す。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("browser_id", sess.BrowserID()),
			slog.String("query_state", state),
		)
		handleError(w, model.NewInvalidRequestError("invalid state parameter"))
		return
	}
	h.setStateCookie(w, "", -1)

	if err := sess.HandleCallback(r.Context(), r.URL.Query()); err != nil {
		slog.Warn("oauth callback failed",
			slog.String("browser_id", sess.BrowserID()),
			slog.String("error", err.Error()),
		)
		handleError(w, err)
		return
	}

	http.Redirect(w, r, h.config.DashboardURL, http.StatusTemporaryRedirect)
}

// SignIn はメールアドレスとパスワードで直接サインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		handleError(w, model.NewInvalidRequestError("invalid JSON body"))
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		handleError(w, model.NewInvalidRequestError("email and password are required"))
		return
	}

	if err := sess.SignInWithPassword(r.Context(), req.Email, req.Password); err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{Authenticated: true, State: sess.State(), User: sess.User()})
}

// SignUp は新規ユーザーを登録する。確認コードはメールで送られる。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		handleError(w, model.NewInvalidRequestError("invalid JSON body"))
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		handleError(w, model.NewInvalidRequestError("email and password are required"))
		return
	}

	if err := h.idp.SignUp(r.Context(), req.Email, req.Password, strings.TrimSpace(req.Name)); err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "Account created. Please check your email for the verification code.",
	})
}

// Confirm は確認コードでユーザー登録を完了する。
// POST /auth/confirm
func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeBody(w, r, &req); err != nil {
		handleError(w, model.NewInvalidRequestError("invalid JSON body"))
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Code = strings.TrimSpace(req.Code)
	if req.Email == "" || req.Code == "" {
		handleError(w, model.NewInvalidRequestError("email and code are required"))
		return
	}

	if err := h.idp.ConfirmSignUp(r.Context(), req.Email, req.Code); err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified. You can now sign in.",
	})
}

// Logout はセッションを破棄し、ホストUIのログアウトURLを返す。
// ブラウザはこのURLへ遷移してIdP側のセッションも終了させる。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	logoutURL, err := sess.SignOut(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"logoutUrl": logoutURL})
}

// Me は現在のセッションのユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	if sess.Authenticated() {
		writeJSON(w, http.StatusOK, meResponse{Authenticated: true, State: sess.State(), User: sess.User()})
		return
	}
	if sess.State() == model.SessionExpired {
		handleError(w, model.NewSessionExpiredAPIError())
		return
	}
	handleError(w, model.NewUnauthorizedError())
}

// Refresh はストアのリフレッシュトークンでトークンを更新する。
// 失敗した場合、セッションは期限切れとしてサインアウトされる。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	if err := sess.Refresh(r.Context()); err != nil {
		handleError(w, err)
		return
	}
	if !sess.Authenticated() {
		handleError(w, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, meResponse{Authenticated: true, State: sess.State(), User: sess.User()})
}
