package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/billdash/internal/auth/authtest"
	"github.com/hitoshi/billdash/internal/backend"
	"github.com/hitoshi/billdash/internal/metrics"
	"github.com/hitoshi/billdash/internal/middleware"
	"github.com/hitoshi/billdash/internal/repository"
	"github.com/hitoshi/billdash/internal/security"
	"github.com/hitoshi/billdash/internal/session"
)

const (
	testBrowserID = "browser-1"
	testCSRFToken = "csrf-token-value"
)

// testEnv はルーター全体をテストするための環境。
// バックエンドAPIはhttptest.Serverで差し替える。
type testEnv struct {
	idp      *authtest.Provider
	store    *repository.MemoryTokenStore
	registry *session.Registry
	router   http.Handler
}

func newTestEnv(t *testing.T, backendFn http.HandlerFunc) *testEnv {
	t.Helper()

	if backendFn == nil {
		backendFn = func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("unexpected backend request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}
	server := httptest.NewServer(backendFn)
	t.Cleanup(server.Close)

	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	idp := &authtest.Provider{}
	store := repository.NewMemoryTokenStore()
	registry := session.NewRegistry(session.Deps{IdP: idp, Store: store})

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Sessions:          registry,
		BrowserCookie:     middleware.BrowserCookieConfig{MaxAge: 3600},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Logger:            discard,
		IdP:               idp,
		AuthConfig:        AuthHandlerConfig{DashboardURL: "http://localhost:3000/dashboard"},
		API:               backend.NewClient(server.URL+"/prod", server.Client(), discard, metrics.Nop{}),
		Sanitizer:         security.NewTextSanitizer(),
	})

	return &testEnv{idp: idp, store: store, registry: registry, router: router}
}

// signIn はbrowserIDのセッションを認証済みにする。
func (e *testEnv) signIn(t *testing.T, browserID string) *session.Session {
	t.Helper()
	sess, err := e.registry.Get(context.Background(), browserID)
	if err != nil {
		t.Fatalf("registry.Get() error = %v", err)
	}
	if err := sess.SignIn(context.Background(), authtest.Tokens("access-1")); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	return sess
}

// do はbrowser_id Cookieを付けてリクエストを送る。
// 状態変更メソッドにはCSRFトークンのCookieとヘッダーを付ける。
func (e *testEnv) do(method, path, browserID, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if browserID != "" {
		req.AddCookie(&http.Cookie{Name: middleware.BrowserCookieName, Value: browserID})
	}
	if method != http.MethodGet {
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
		req.Header.Set("X-CSRF-Token", testCSRFToken)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// decodeError はエラーレスポンスのボディをデコードする。
func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v (body=%q)", err, w.Body.String())
	}
	return body
}

// decodeJSON はレスポンスボディをvにデコードする。
func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode body: %v (body=%q)", err, w.Body.String())
	}
}

// writeBackendJSON はフェイクバックエンドのレスポンスを書き込む。
func writeBackendJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}
