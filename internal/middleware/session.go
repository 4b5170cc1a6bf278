// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/billdash/internal/auth"
	"github.com/hitoshi/billdash/internal/model"
	"github.com/hitoshi/billdash/internal/session"
)

// BrowserCookieName はブラウザを識別するCookieの名前。
const BrowserCookieName = "browser_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	browserIDContextKey = contextKey("browser_id")
	sessionContextKey   = contextKey("session")
)

// SessionResolver はbrowser_idからSessionを取得するインターフェース。
// session.Registryが実装する。
type SessionResolver interface {
	Get(ctx context.Context, browserID string) (*session.Session, error)
}

// BrowserCookieConfig はbrowser_id Cookieの設定。
type BrowserCookieConfig struct {
	Secure bool
	Domain string
	MaxAge int
}

// NewSessionMiddleware はbrowser_id CookieからSessionを解決してコンテキストに注入する。
// Cookieがなければ新しいbrowser_idを発行する。
// 認証状態の検証は行わない（RequireAuthenticatedで行う）。
func NewSessionMiddleware(resolver SessionResolver, cfg BrowserCookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			browserID := ""
			if cookie, err := r.Cookie(BrowserCookieName); err == nil {
				browserID = cookie.Value
			}

			if browserID == "" {
				id, err := auth.GenerateBrowserID()
				if err != nil {
					slog.Error("failed to generate browser id", slog.String("error", err.Error()))
					WriteInternalServerError(w)
					return
				}
				browserID = id
				http.SetCookie(w, &http.Cookie{
					Name:     BrowserCookieName,
					Value:    browserID,
					Path:     "/",
					Domain:   cfg.Domain,
					MaxAge:   cfg.MaxAge,
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			annotateBrowserID(r.Context(), browserID)

			sess, err := resolver.Get(r.Context(), browserID)
			if err != nil {
				slog.Warn("セッションの解決に失敗しました",
					slog.String("browser_id", browserID),
					slog.String("error", err.Error()),
				)
			}
			if sess == nil {
				WriteInternalServerError(w)
				return
			}

			ctx := ContextWithBrowserID(r.Context(), browserID)
			ctx = ContextWithSession(ctx, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthenticated は認証済みセッションのみを通過させる。
// 期限切れのセッションにはSESSION_EXPIRED、それ以外の未認証には
// UNAUTHORIZEDを401で返す。NewSessionMiddlewareの後に配置する。
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFromContext(r.Context())
		if !ok {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		if sess.Authenticated() {
			next.ServeHTTP(w, r)
			return
		}
		if sess.State() == model.SessionExpired {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionExpiredAPIError())
			return
		}
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	})
}

// SessionFromContext はリクエストコンテキストからSessionを取得する。
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*session.Session)
	return sess, ok && sess != nil
}

// BrowserIDFromContext はリクエストコンテキストからbrowser_idを取得する。
func BrowserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(browserIDContextKey).(string)
	return id, ok && id != ""
}

// ContextWithSession はコンテキストにSessionを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// ContextWithBrowserID はコンテキストにbrowser_idを注入する。
func ContextWithBrowserID(ctx context.Context, browserID string) context.Context {
	return context.WithValue(ctx, browserIDContextKey, browserID)
}
