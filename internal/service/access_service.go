package service

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mailshare/internal/model"
	appErr "github.com/xxxsen/mailshare/internal/pkg/errors"
	"github.com/xxxsen/mailshare/internal/pkg/timeutil"
)

const (
	defaultStatsWindow = 24 * time.Hour
	minStatsWindow     = time.Hour
	maxStatsWindow     = 30 * 24 * time.Hour
	defaultLogPageSize = 20
	maxLogPageSize     = 100
	maxUserAgentLength = 512
	maxClientIPLength  = 64
	maxViewerLength    = 320
)

type AccessService struct {
	logs   AccessLogStore
	shares ShareStore
	now    timeutil.Clock
}

func NewAccessService(logs AccessLogStore, shares ShareStore, now timeutil.Clock) *AccessService {
	return &AccessService{logs: logs, shares: shares, now: timeutil.OrDefault(now)}
}

// RecordAccess appends one audit row. It never fails the caller: a lost row
// is logged and dropped.
func (s *AccessService) RecordAccess(ctx context.Context, entry *model.AccessLog) {
	if entry == nil {
		return
	}
	if entry.Ctime == 0 {
		entry.Ctime = s.now().Unix()
	}
	// Request-supplied text, clamped to the column widths in characters.
	entry.UserAgent = lo.Substring(entry.UserAgent, 0, maxUserAgentLength)
	entry.ClientIP = lo.Substring(entry.ClientIP, 0, maxClientIPLength)
	entry.ViewerEmail = lo.Substring(entry.ViewerEmail, 0, maxViewerLength)
	if err := s.logs.Insert(ctx, entry); err != nil {
		logutil.GetLogger(ctx).Error("record share access failed",
			zap.Int64("share_id", entry.ShareID), zap.String("outcome", entry.Outcome), zap.Error(err))
	}
}

// RedactCode keeps the first and last two characters. Codes of four
// characters or fewer are masked entirely.
func RedactCode(code string) string {
	n := lo.RuneLength(code)
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	return lo.Substring(code, 0, 2) + strings.Repeat("*", n-4) + lo.Substring(code, -2, 2)
}

func RedactCodes(codes []string) string {
	return strings.Join(lo.Map(codes, func(code string, _ int) string { return RedactCode(code) }), ",")
}

// GetStats aggregates the trailing window of one owned share. Each figure
// comes from its own query; a failing one is reported in Degraded and left
// at zero instead of failing the whole call.
func (s *AccessService) GetStats(ctx context.Context, ownerID string, shareID int64, window time.Duration) (*model.AccessStats, error) {
	if window == 0 {
		window = defaultStatsWindow
	}
	if window < minStatsWindow || window > maxStatsWindow {
		return nil, appErr.Invalidf("window must be between %s and %s", minStatsWindow, maxStatsWindow)
	}
	if _, err := s.shares.GetByID(ctx, ownerID, shareID); err != nil {
		return nil, err
	}
	since := s.now().Add(-window).Unix()
	stats := &model.AccessStats{ShareID: shareID, WindowSeconds: int64(window / time.Second)}
	logger := logutil.GetLogger(ctx).With(zap.Int64("share_id", shareID))

	degrade := func(metric string, err error) {
		logger.Warn("access stats metric degraded", zap.String("metric", metric), zap.Error(err))
		stats.Degraded = append(stats.Degraded, metric)
	}
	counts := []struct {
		metric  string
		outcome string
		dst     *int64
	}{
		{metric: "total", dst: &stats.Total},
		{metric: "success", outcome: model.AccessOutcomeSuccess, dst: &stats.Success},
		{metric: "failed", outcome: model.AccessOutcomeFailed, dst: &stats.Failed},
		{metric: "rejected", outcome: model.AccessOutcomeRejected, dst: &stats.Rejected},
	}
	for _, c := range counts {
		n, err := s.logs.CountOutcome(ctx, shareID, c.outcome, since)
		if err != nil {
			degrade(c.metric, err)
			continue
		}
		*c.dst = n
	}
	if n, err := s.logs.CountDistinctIP(ctx, shareID, since); err != nil {
		degrade("unique_ips", err)
	} else {
		stats.UniqueIPs = n
	}
	if avg, err := s.logs.AvgSuccessLatency(ctx, shareID, since); err != nil {
		degrade("avg_success_latency_ms", err)
	} else {
		stats.AvgSuccessLatency = avg
	}
	return stats, nil
}

func (s *AccessService) ListLogs(ctx context.Context, ownerID string, shareID int64, page, size int) ([]model.AccessLog, error) {
	if page <= 0 {
		page = 1
	}
	if page > maxPage {
		return nil, appErr.Invalidf("page must be at most %d", maxPage)
	}
	if size == 0 {
		size = defaultLogPageSize
	}
	if size < 0 || size > maxLogPageSize {
		return nil, appErr.Invalidf("size must be between 1 and %d", maxLogPageSize)
	}
	if _, err := s.shares.GetByID(ctx, ownerID, shareID); err != nil {
		return nil, err
	}
	return s.logs.List(ctx, shareID, (page-1)*size, size)
}

func (s *AccessService) PurgeBefore(ctx context.Context, cutoff int64) (int64, error) {
	return s.logs.DeleteBefore(ctx, cutoff)
}
