package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/billdash/internal/auth"
	"github.com/hitoshi/billdash/internal/metrics"
	"github.com/hitoshi/billdash/internal/middleware"
	"github.com/hitoshi/billdash/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Sessions          middleware.SessionResolver
	BrowserCookie     middleware.BrowserCookieConfig
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 認証
	IdP        auth.IdentityProvider
	AuthConfig AuthHandlerConfig

	// バックエンドAPI
	API       BillingAPI
	Sanitizer security.TextSanitizer

	// Gathererがnilの場合は/metricsを公開しない
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS
//	  → Session → (RequireAuthenticated → RateLimit(General, Write)) → CSRF
//
// /health と /metrics はセッションを必要としない。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.BrowserCookie.Secure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// サブルーターに引き継がせるため、ルート定義より前に設定する
	r.NotFound(middleware.NotFoundHandler)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler)

	authHandler := NewAuthHandler(deps.IdP, deps.AuthConfig)
	proxyHandler := NewProxyHandler(deps.API, deps.Sanitizer)
	dashboardHandler := NewDashboardHandler(deps.API)

	// --- セッション不要のルート ---
	r.Get("/health", healthHandler)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	sessionMiddleware := middleware.NewSessionMiddleware(deps.Sessions, deps.BrowserCookie)
	csrfMiddleware := middleware.NewCSRFMiddleware(deps.CSRF)

	// --- 匿名でもアクセスできるルート ---
	r.Group(func(r chi.Router) {
		r.Use(sessionMiddleware)

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		r.Route("/auth", func(r chi.Router) {
			r.Use(csrfMiddleware)

			// ホストUI
			r.Get("/login", authHandler.Login)
			r.Get("/signup", authHandler.SignUpRedirect)
			r.Get("/callback", authHandler.Callback)

			// 直接サインイン
			r.Post("/signin", authHandler.SignIn)
			r.Post("/signup", authHandler.SignUp)
			r.Post("/confirm", authHandler.Confirm)

			// セッション管理
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
			r.Post("/refresh", authHandler.Refresh)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RequireAuthenticated → RateLimit(General, Write) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(sessionMiddleware)
		r.Use(middleware.RequireAuthenticated)
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(deps.RateLimiter.WriteMiddleware())
		r.Use(csrfMiddleware)

		r.Get("/api/dashboard", dashboardHandler.Dashboard)

		// payer/usageの静的ルートと{kind}のパラメータルートは同じ階層に置く
		r.Route("/api/accounts", func(r chi.Router) {
			r.Get("/unregistered", dashboardHandler.Unregistered)

			r.Get("/payers", proxyHandler.ListPayers)
			r.Post("/payers", proxyHandler.CreatePayer)
			r.Get("/payers/{id}", proxyHandler.GetPayer)
			r.Put("/payers/{id}", proxyHandler.UpdatePayer)
			r.Delete("/payers/{id}", proxyHandler.DeletePayer)

			r.Get("/usages", proxyHandler.ListUsages)
			r.Post("/usages", proxyHandler.CreateUsage)
			r.Get("/usages/{id}", proxyHandler.GetUsage)
			r.Put("/usages/{id}", proxyHandler.UpdateUsage)
			r.Delete("/usages/{id}", proxyHandler.DeleteUsage)

			r.Get("/{kind}/{id}/metrics", dashboardHandler.AccountMetrics)
		})

		r.Route("/api/transactions", func(r chi.Router) {
			r.Get("/", proxyHandler.ListTransactions)
			r.Post("/", proxyHandler.CreateTransaction)
			r.Get("/{payerId}", proxyHandler.ListTransactionsByPayer)
			r.Get("/{payerId}/{accountId}", proxyHandler.ListTransactionsByAccount)
			r.Get("/{payerId}/{accountId}/{txId}", proxyHandler.GetTransaction)
			r.Put("/{payerId}/{accountId}/{txId}", proxyHandler.UpdateTransaction)
			r.Delete("/{payerId}/{accountId}/{txId}", proxyHandler.DeleteTransaction)
		})
	})

	return r
}

// healthHandler GET /health
func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
