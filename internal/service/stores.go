package service

import (
	"context"

	"github.com/xxxsen/mailshare/internal/model"
)

// ShareStore is the persistence the registry needs. repo.ShareRepo is the
// production implementation.
type ShareStore interface {
	Create(ctx context.Context, share *model.Share) error
	GetByID(ctx context.Context, userID string, id int64) (*model.Share, error)
	GetActiveByToken(ctx context.Context, token string) (*model.Share, error)
	ListByIDs(ctx context.Context, userID string, ids []int64) ([]model.Share, error)
	List(ctx context.Context, q *model.ShareQuery) ([]model.Share, error)
	Count(ctx context.Context, q *model.ShareQuery) (int64, error)
	Update(ctx context.Context, share *model.Share) error
	UpdateMany(ctx context.Context, shares []*model.Share) error
	UpdateToken(ctx context.Context, userID string, id int64, token string, mtime int64) error
	IncrementDailyCount(ctx context.Context, id int64, mtime int64) error
	ResetDailyCount(ctx context.Context, id int64, today string, mtime int64) (bool, error)
	GetDailyUsage(ctx context.Context, id int64) (int, string, error)
	MarkExpired(ctx context.Context, userID string, now int64) (int64, error)
}

type AccessLogStore interface {
	Insert(ctx context.Context, entry *model.AccessLog) error
	CountOutcome(ctx context.Context, shareID int64, outcome string, since int64) (int64, error)
	CountDistinctIP(ctx context.Context, shareID int64, since int64) (int64, error)
	AvgSuccessLatency(ctx context.Context, shareID int64, since int64) (float64, error)
	List(ctx context.Context, shareID int64, offset, limit int) ([]model.AccessLog, error)
	DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
}
