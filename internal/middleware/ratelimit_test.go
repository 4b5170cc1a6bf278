package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/billdash/internal/model"
)

func testRateLimiterConfig(generalBurst, writeBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		WriteRate:       0.5,
		WriteBurst:      writeBurst,
		CleanupInterval: time.Minute,
	}
}

func requestFor(method, browserID string) *http.Request {
	req := httptest.NewRequest(method, "/api/test", nil)
	if browserID != "" {
		req = req.WithContext(ContextWithBrowserID(req.Context(), browserID))
	}
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_AllowsRequestsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFor(http.MethodGet, "browser-1"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i, w.Result().StatusCode)
		}
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(2, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFor(http.MethodGet, "browser-1"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFor(http.MethodGet, "browser-1"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", resp.Header.Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode 429 body: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
	// メッセージは他のエラーと同じく日本語で返す
	if body.Message != "リクエストが多すぎます。しばらくしてから再度お試しください。" {
		t.Errorf("message = %q", body.Message)
	}
	if !strings.Contains(body.Action, "再度お試しください") {
		t.Errorf("action = %q", body.Action)
	}
}

func TestRateLimitMiddleware_IsolatesBrowsers(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestFor(http.MethodGet, "browser-1"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFor(http.MethodGet, "browser-2"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("other browser should not be limited, status = %d", w.Result().StatusCode)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("limiter count = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestRateLimitMiddleware_NoBrowserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 1))
	defer rl.Stop()

	w := httptest.NewRecorder()
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(w, requestFor(http.MethodGet, ""))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Result().StatusCode)
	}
}

func TestWriteRateLimit_OnlyAppliesToWriteMethods(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(100, 1))
	defer rl.Stop()

	handler := rl.WriteMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFor(http.MethodGet, "browser-1"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("GET %d: status = %d, want 200", i, w.Result().StatusCode)
		}
	}
	if rl.WriteLimiterCount() != 0 {
		t.Errorf("GET should not create write limiters, count = %d", rl.WriteLimiterCount())
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFor(http.MethodPost, "browser-1"))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("first POST: status = %d", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFor(http.MethodDelete, "browser-1"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("second write: status = %d, want 429", w.Result().StatusCode)
	}
}

func TestWriteRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 5))
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	write := rl.WriteMiddleware()(okHandler())

	general.ServeHTTP(httptest.NewRecorder(), requestFor(http.MethodGet, "browser-1"))

	w := httptest.NewRecorder()
	general.ServeHTTP(w, requestFor(http.MethodGet, "browser-1"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Fatalf("general should be exhausted, status = %d", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	write.ServeHTTP(w, requestFor(http.MethodPost, "browser-1"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("write limiter should be independent, status = %d", w.Result().StatusCode)
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 5))
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFor(http.MethodGet, "browser-1"))
	rl.WriteMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFor(http.MethodPost, "browser-1"))

	rl.cleanup(time.Now())
	if rl.GeneralLimiterCount() != 1 || rl.WriteLimiterCount() != 1 {
		t.Fatal("fresh entries should survive cleanup")
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 || rl.WriteLimiterCount() != 0 {
		t.Errorf("expired entries should be removed: general=%d write=%d", rl.GeneralLimiterCount(), rl.WriteLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestPerMinuteRateLimiterConfig(t *testing.T) {
	cfg := PerMinuteRateLimiterConfig(120, 30)

	if cfg.GeneralRate != 2 {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.WriteRate != 0.5 {
		t.Errorf("WriteRate = %v, want 0.5", cfg.WriteRate)
	}
	if cfg.WriteBurst != 30 {
		t.Errorf("WriteBurst = %d, want 30", cfg.WriteBurst)
	}
	if cfg != DefaultRateLimiterConfig() {
		t.Error("default config should be 120/30 per minute")
	}
}
