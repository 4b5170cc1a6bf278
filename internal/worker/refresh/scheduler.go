// Package refresh はトークンの期限切れ前リフレッシュを定期実行するスケジューラを提供する。
// 対象はこのプロセスのsession.Registryが保持するセッションのみ。
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/billdash/internal/metrics"
	"github.com/hitoshi/billdash/internal/session"
)

// SessionSource はスケジューラが巡回するセッションの集合。
// session.Registryが実装する。
type SessionSource interface {
	Sessions() []*session.Session
	Prune() int
	Len() int
}

// CycleResult は1回の巡回結果。
type CycleResult struct {
	Checked   int
	Refreshed int
	Failed    int
	Pruned    int
}

// Scheduler は一定間隔で全セッションの有効期限を確認し、
// 期限が迫っているものをリフレッシュする。
// semaphoreパターンで同時実行数を制御する。
type Scheduler struct {
	sessions       SessionSource
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewScheduler(sessions SessionSource, m metrics.MetricsCollector, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sessions:       sessions,
		metrics:        m,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start はintervalごとに巡回を実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("リフレッシュスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("リフレッシュスケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は保持している全セッションの有効期限を1回確認する。
// リフレッシュに失敗したセッションは期限切れとしてサインアウト済みになるため、
// 巡回の最後に匿名・期限切れのセッションをレジストリから取り除く。
func (s *Scheduler) RunOnce(ctx context.Context) CycleResult {
	start := time.Now()
	sessions := s.sessions.Sessions()

	var refreshed, failed atomic.Int64

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, sess := range sessions {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(sess *session.Session) {
			defer wg.Done()
			defer func() { <-sem }()

			did, err := sess.CheckExpiry(ctx)
			if err != nil {
				failed.Add(1)
				s.logger.Warn("トークンのリフレッシュに失敗しました",
					slog.String("browser_id", sess.BrowserID()),
					slog.String("error", err.Error()),
				)
				return
			}
			if did {
				refreshed.Add(1)
			}
		}(sess)
	}

	wg.Wait()

	result := CycleResult{
		Checked:   len(sessions),
		Refreshed: int(refreshed.Load()),
		Failed:    int(failed.Load()),
		Pruned:    s.sessions.Prune(),
	}
	s.metrics.SetLiveSessions(s.sessions.Len())

	if result.Refreshed > 0 || result.Failed > 0 || result.Pruned > 0 {
		s.logger.Info("リフレッシュ巡回が完了しました",
			slog.Int("checked", result.Checked),
			slog.Int("refreshed", result.Refreshed),
			slog.Int("failed", result.Failed),
			slog.Int("pruned", result.Pruned),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}
	return result
}

var _ SessionSource = (*session.Registry)(nil)
