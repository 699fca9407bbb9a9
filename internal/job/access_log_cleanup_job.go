package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mailshare/internal/pkg/timeutil"
)

type accessLogPurger interface {
	PurgeBefore(ctx context.Context, cutoff int64) (int64, error)
}

// AccessLogCleanupJob deletes access log rows older than the retention period.
type AccessLogCleanupJob struct {
	logs      accessLogPurger
	retention time.Duration
	now       timeutil.Clock
}

func NewAccessLogCleanupJob(logs accessLogPurger, retention time.Duration, now timeutil.Clock) *AccessLogCleanupJob {
	return &AccessLogCleanupJob{logs: logs, retention: retention, now: timeutil.OrDefault(now)}
}

func (j *AccessLogCleanupJob) Name() string {
	return "access_log_cleanup"
}

func (j *AccessLogCleanupJob) Run(ctx context.Context) error {
	if j.logs == nil {
		return nil
	}
	retention := j.retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	cutoff := j.now().Add(-retention).Unix()
	removed, err := j.logs.PurgeBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("access logs purged", zap.Int64("removed", removed), zap.Int64("cutoff", cutoff))
	return nil
}
