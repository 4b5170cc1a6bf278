// Package cleanup は放置されたブラウザの保存データを削除するジョブを提供する。
// 保持期間（デフォルト30日）を超えて更新されていないトークンと有効期限を
// 日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/billdash/internal/metrics"
	"github.com/hitoshi/billdash/internal/repository"
)

// DefaultRetentionDays は保存データの既定の保持日数。
const DefaultRetentionDays = 30

// CleanupJob は保持期間を超過した保存データの自動削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	purger        repository.StaleEntryPurger
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はDefaultRetentionDaysを使用する。
func NewCleanupJob(purger repository.StaleEntryPurger, m metrics.MetricsCollector, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &CleanupJob{
		purger:        purger,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
		RetentionDays: retentionDays,
	}
}

// Run はRetentionDays日より前に更新された保存データを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.purger.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("保存データのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("保存データのクリーンアップに失敗: %w", err)
	}

	j.metrics.RecordStoragePurged(deletedCount)

	j.logger.Info("保存データのクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降intervalごとに実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	// 失敗はRun内でログに記録済み
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
