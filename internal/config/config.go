package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Cognito
	AWSRegion         string `env:"AWS_REGION" envDefault:"eu-west-1"`
	CognitoUserPoolID string `env:"COGNITO_USER_POOL_ID"`
	CognitoClientID   string `env:"COGNITO_CLIENT_ID,required,notEmpty"`
	CognitoDomain     string `env:"COGNITO_DOMAIN,required,notEmpty"`
	RedirectSignIn    string `env:"REDIRECT_SIGN_IN" envDefault:"http://localhost:8080/auth/callback"`
	RedirectSignOut   string `env:"REDIRECT_SIGN_OUT" envDefault:"http://localhost:3000"`
	DashboardURL      string `env:"DASHBOARD_URL" envDefault:"http://localhost:3000/dashboard"`

	// Billing API
	APIGatewayBaseURL string `env:"API_GATEWAY_BASE_URL"`
	APIGatewayStage   string `env:"API_GATEWAY_STAGE"`
	APIBaseURL        string `env:"API_BASE_URL" envDefault:"http://localhost:3001/api"`

	// Token store
	StorageBackend       string `env:"STORAGE_BACKEND" envDefault:"postgres"` // postgres, redis, memory
	DatabaseURL          string `env:"DATABASE_URL"`
	RedisURL             string `env:"REDIS_URL"`
	StorageRetentionDays int    `env:"STORAGE_RETENTION_DAYS" envDefault:"30"`

	// Session
	BrowserCookieMaxAge  int           `env:"BROWSER_COOKIE_MAX_AGE" envDefault:"2592000"`
	RefreshCheckInterval time.Duration `env:"REFRESH_CHECK_INTERVAL" envDefault:"1m"`
	RefreshMaxConcurrent int           `env:"REFRESH_MAX_CONCURRENT" envDefault:"10"`

	// Rate Limit
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitWrite   int `env:"RATE_LIMIT_WRITE" envDefault:"30"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または保存先の設定が不整合な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	switch cfg.StorageBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when STORAGE_BACKEND=redis")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND: %q", cfg.StorageBackend)
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

// APIURL はバックエンドAPIのベースURLを返す。
// ベースURLとステージの両方が設定されている場合は "{base}/{stage}" を、
// それ以外はAPI_BASE_URLを使用する。
func (c *Config) APIURL() string {
	if c.APIGatewayBaseURL == "" || c.APIGatewayStage == "" {
		return c.APIBaseURL
	}
	return strings.TrimRight(c.APIGatewayBaseURL, "/") + "/" + c.APIGatewayStage
}
