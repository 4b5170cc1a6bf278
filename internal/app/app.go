// Package app はサブコマンドごとの依存関係の組み立てと起動を行う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hitoshi/billdash/internal/auth"
	"github.com/hitoshi/billdash/internal/backend"
	"github.com/hitoshi/billdash/internal/config"
	"github.com/hitoshi/billdash/internal/database"
	"github.com/hitoshi/billdash/internal/handler"
	"github.com/hitoshi/billdash/internal/logger"
	"github.com/hitoshi/billdash/internal/metrics"
	"github.com/hitoshi/billdash/internal/middleware"
	"github.com/hitoshi/billdash/internal/repository"
	"github.com/hitoshi/billdash/internal/security"
	"github.com/hitoshi/billdash/internal/session"
	"github.com/hitoshi/billdash/internal/worker/cleanup"
	"github.com/hitoshi/billdash/internal/worker/refresh"
)

// cleanupInterval は保存データクリーンアップの実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// .envファイルがあれば読み込み、環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envを読み込む（既に設定済みの環境変数は上書きしない）
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", slog.String("error", err.Error()))
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		WriteUsage(w)
		return err
	}
	if cmd == CommandHelp {
		WriteUsage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("storage_backend", cfg.StorageBackend),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// tokenStore はSTORAGE_BACKENDに応じて開いた保存先。
// closeは接続の後始末を行う。
type tokenStore struct {
	repository.TokenStore
	close func() error
}

// openTokenStore はSTORAGE_BACKENDに応じたTokenStoreを開く。
func openTokenStore(ctx context.Context, cfg *config.Config) (*tokenStore, error) {
	switch cfg.StorageBackend {
	case "postgres":
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("database connection established")
		return &tokenStore{TokenStore: repository.NewPostgresTokenStore(db), close: db.Close}, nil

	case "redis":
		client, err := repository.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established")
		ttl := time.Duration(cfg.StorageRetentionDays) * 24 * time.Hour
		return &tokenStore{TokenStore: repository.NewRedisTokenStore(client, ttl), close: client.Close}, nil

	default:
		slog.Warn("using in-memory token store; sessions are lost on restart")
		return &tokenStore{TokenStore: repository.NewMemoryTokenStore(), close: func() error { return nil }}, nil
	}
}

// runServe はAPIサーバーモードで起動する。
// 保存先を開き、全依存関係をワイヤリングし、HTTPサーバーとリフレッシュスケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. 保存先
	store, err := openTokenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.close()

	// 2. メトリクス
	reg := metrics.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 3. IdP
	idp, err := auth.NewCognitoProvider(ctx, auth.CognitoConfig{
		Region:          cfg.AWSRegion,
		ClientID:        cfg.CognitoClientID,
		Domain:          cfg.CognitoDomain,
		RedirectSignIn:  cfg.RedirectSignIn,
		RedirectSignOut: cfg.RedirectSignOut,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}

	// 4. セッションとバックエンドクライアント
	registry := session.NewRegistry(session.Deps{
		IdP:     idp,
		Store:   store,
		Metrics: collector,
	})
	apiClient := backend.NewClient(cfg.APIURL(), nil, slog.Default(), collector)

	// 5. ルーターの構築
	// 設定値はreq/min単位
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWrite),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Sessions: registry,
		BrowserCookie: middleware.BrowserCookieConfig{
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
			MaxAge: cfg.BrowserCookieMaxAge,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		IdP: idp,
		AuthConfig: handler.AuthHandlerConfig{
			DashboardURL: cfg.DashboardURL,
			CookieSecure: cfg.CookieSecure,
		},

		API:       apiClient,
		Sanitizer: security.NewTextSanitizer(),

		Gatherer: reg,
	})

	// 6. バックグラウンドジョブ
	scheduler := refresh.NewScheduler(registry, collector, slog.Default(), cfg.RefreshMaxConcurrent)
	go scheduler.Start(ctx, cfg.RefreshCheckInterval)

	// メモリ保存はworkerプロセスから見えないため、サーバー内でクリーンアップする
	if purger, ok := store.TokenStore.(repository.StaleEntryPurger); ok && cfg.StorageBackend == "memory" {
		job := cleanup.NewCleanupJob(purger, collector, slog.Default(), cfg.StorageRetentionDays)
		go job.Start(ctx, cleanupInterval)
	}

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// Postgresの保存データを日次でクリーンアップする。
// Redisはキーの有効期限で、メモリ保存はサーバー内のジョブで削除されるため何もしない。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.StorageBackend != "postgres" {
		slog.Info("worker has nothing to do for this storage backend",
			slog.String("storage_backend", cfg.StorageBackend),
		)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := cleanup.NewCleanupJob(
		repository.NewPostgresTokenStore(db), metrics.Nop{}, slog.Default(), cfg.StorageRetentionDays,
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Int("retention_days", job.RetentionDays),
		slog.Duration("interval", cleanupInterval),
	)

	job.Start(ctx, cleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StorageBackend != "postgres" {
		return fmt.Errorf("migrate requires STORAGE_BACKEND=postgres, got %q", cfg.StorageBackend)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
