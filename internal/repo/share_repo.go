package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/didi/gendry/builder"
	"github.com/samber/lo"

	"github.com/xxxsen/mailshare/internal/model"
	"github.com/xxxsen/mailshare/internal/pkg/dbutil"
	appErr "github.com/xxxsen/mailshare/internal/pkg/errors"
)

const shareTable = "shares"

var shareColumns = []string{
	"id", "token", "user_id", "target_email", "name", "keyword_filter", "template_id",
	"share_type", "authorized_emails", "expire_time", "rate_limit_per_second",
	"auto_recovery_seconds", "daily_limit", "daily_limit_enabled", "daily_count",
	"last_reset_date", "display_limit", "display_limit_enabled", "enable_captcha",
	"status", "is_active", "ctime", "mtime",
}

type ShareRepo struct {
	db *sql.DB
}

func NewShareRepo(db *sql.DB) *ShareRepo {
	return &ShareRepo{db: db}
}

func shareFields(share *model.Share) map[string]interface{} {
	emails, _ := json.Marshal(lo.Ternary(share.AuthorizedEmails == nil, []string{}, share.AuthorizedEmails))
	return map[string]interface{}{
		"token":                 share.Token,
		"user_id":               share.UserID,
		"target_email":          share.TargetEmail,
		"name":                  share.Name,
		"keyword_filter":        share.KeywordFilter,
		"template_id":           share.TemplateID,
		"share_type":            share.ShareType,
		"authorized_emails":     string(emails),
		"expire_time":           share.ExpireTime,
		"rate_limit_per_second": share.RateLimitPerSecond,
		"auto_recovery_seconds": share.AutoRecoverySeconds,
		"daily_limit":           share.DailyLimit,
		"daily_limit_enabled":   share.DailyLimitEnabled,
		"daily_count":           share.DailyCount,
		"last_reset_date":       share.LastResetDate,
		"display_limit":         share.DisplayLimit,
		"display_limit_enabled": share.DisplayLimitEnabled,
		"enable_captcha":        share.EnableCaptcha,
		"status":                share.Status,
		"is_active":             share.IsActive,
		"ctime":                 share.Ctime,
		"mtime":                 share.Mtime,
	}
}

// Create inserts share and fills in the generated id. A token collision is
// reported as ErrConflict so the caller can regenerate.
func (r *ShareRepo) Create(ctx context.Context, share *model.Share) error {
	sqlStr, args, err := builder.BuildInsert(shareTable, []map[string]interface{}{shareFields(share)})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr+" RETURNING id", args)
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&share.ID); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *ShareRepo) GetByID(ctx context.Context, userID string, id int64) (*model.Share, error) {
	return r.getOne(ctx, map[string]interface{}{"id": id, "user_id": userID})
}

// GetActiveByToken never returns a disabled row.
func (r *ShareRepo) GetActiveByToken(ctx context.Context, token string) (*model.Share, error) {
	return r.getOne(ctx, map[string]interface{}{"token": token, "is_active": 1})
}

func (r *ShareRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.Share, error) {
	where["_limit"] = []uint{0, 1}
	items, err := r.query(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, appErr.ErrNotFound
	}
	return &items[0], nil
}

func (r *ShareRepo) ListByIDs(ctx context.Context, userID string, ids []int64) ([]model.Share, error) {
	if len(ids) == 0 {
		return []model.Share{}, nil
	}
	where := map[string]interface{}{
		"user_id":     userID,
		"_custom_ids": builder.In{"id": lo.ToAnySlice(ids)},
	}
	return r.query(ctx, where)
}

func (r *ShareRepo) List(ctx context.Context, q *model.ShareQuery) ([]model.Share, error) {
	where := buildShareWhere(q)
	where["_orderby"] = "ctime desc, id desc"
	if q.Size > 0 {
		where["_limit"] = []uint{uint(q.Offset()), uint(q.Size)}
	}
	return r.query(ctx, where)
}

func (r *ShareRepo) Count(ctx context.Context, q *model.ShareQuery) (int64, error) {
	sqlStr, args, err := dbutil.Build(builder.BuildSelect(shareTable, buildShareWhere(q), []string{"COUNT(*)"}))
	if err != nil {
		return 0, err
	}
	var total int64
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func buildShareWhere(q *model.ShareQuery) map[string]interface{} {
	where := map[string]interface{}{"user_id": q.UserID}
	switch q.Status {
	case model.ShareStatusActive, model.ShareStatusExpired:
		where["is_active"] = 1
		where["status"] = q.Status
	case model.ShareStatusDisabled:
		where["is_active"] = 0
	}
	if q.Keyword != "" {
		like := "%" + q.Keyword + "%"
		where["_custom_keyword"] = builder.Custom("(name ILIKE ? OR target_email ILIKE ? OR token ILIKE ?)", like, like, like)
	}
	if q.CreatedFrom > 0 {
		where["ctime >="] = q.CreatedFrom
	}
	if q.CreatedTo > 0 {
		where["ctime <="] = q.CreatedTo
	}
	if q.ExpireFrom > 0 {
		where["expire_time >="] = q.ExpireFrom
	}
	if q.ExpireTo > 0 {
		where["expire_time <="] = q.ExpireTo
	}
	if q.DailyLimitMin > 0 {
		where["daily_limit >="] = q.DailyLimitMin
	}
	if q.DailyLimitMax > 0 {
		where["daily_limit <="] = q.DailyLimitMax
	}
	if len(q.Types) > 0 {
		where["_custom_types"] = builder.In{"share_type": lo.ToAnySlice(q.Types)}
	}
	return where
}

func (r *ShareRepo) query(ctx context.Context, where map[string]interface{}) ([]model.Share, error) {
	sqlStr, args, err := dbutil.Build(builder.BuildSelect(shareTable, where, shareColumns))
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.Share, 0)
	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *share)
	}
	return items, rows.Err()
}

type shareScanner interface {
	Scan(dest ...interface{}) error
}

func scanShare(row shareScanner) (*model.Share, error) {
	var (
		share  model.Share
		emails string
	)
	if err := row.Scan(
		&share.ID, &share.Token, &share.UserID, &share.TargetEmail, &share.Name, &share.KeywordFilter,
		&share.TemplateID, &share.ShareType, &emails, &share.ExpireTime, &share.RateLimitPerSecond,
		&share.AutoRecoverySeconds, &share.DailyLimit, &share.DailyLimitEnabled, &share.DailyCount,
		&share.LastResetDate, &share.DisplayLimit, &share.DisplayLimitEnabled, &share.EnableCaptcha,
		&share.Status, &share.IsActive, &share.Ctime, &share.Mtime,
	); err != nil {
		return nil, err
	}
	share.AuthorizedEmails = []string{}
	if emails != "" {
		if err := json.Unmarshal([]byte(emails), &share.AuthorizedEmails); err != nil {
			return nil, fmt.Errorf("decode authorized_emails of share %d: %w", share.ID, err)
		}
	}
	return &share, nil
}

// Update writes every mutable column of share. Counters are left alone so a
// concurrent increment is never overwritten by a settings change.
func (r *ShareRepo) Update(ctx context.Context, share *model.Share) error {
	return updateShare(ctx, r.db, share)
}

// UpdateMany applies all updates in one transaction.
func (r *ShareRepo) UpdateMany(ctx context.Context, shares []*model.Share) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, share := range shares {
		if err := updateShare(ctx, tx, share); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func updateShare(ctx context.Context, db execer, share *model.Share) error {
	update := shareFields(share)
	for _, col := range []string{"token", "user_id", "target_email", "daily_count", "last_reset_date", "ctime"} {
		delete(update, col)
	}
	where := map[string]interface{}{"id": share.ID, "user_id": share.UserID}
	sqlStr, args, err := dbutil.Build(builder.BuildUpdate(shareTable, where, update))
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *ShareRepo) UpdateToken(ctx context.Context, userID string, id int64, token string, mtime int64) error {
	where := map[string]interface{}{"id": id, "user_id": userID}
	update := map[string]interface{}{"token": token, "mtime": mtime}
	sqlStr, args, err := dbutil.Build(builder.BuildUpdate(shareTable, where, update))
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return requireAffected(res)
}

func (r *ShareRepo) IncrementDailyCount(ctx context.Context, id int64, mtime int64) error {
	sqlStr, args := dbutil.Finalize(`UPDATE shares SET daily_count = daily_count + 1, mtime = ? WHERE id = ?`, []interface{}{mtime, id})
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ResetDailyCount zeroes the counter once per calendar day. It reports
// whether this call performed the reset.
func (r *ShareRepo) ResetDailyCount(ctx context.Context, id int64, today string, mtime int64) (bool, error) {
	sqlStr, args := dbutil.Finalize(
		`UPDATE shares SET daily_count = 0, last_reset_date = ?, mtime = ? WHERE id = ? AND last_reset_date <> ?`,
		[]interface{}{today, mtime, id, today},
	)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *ShareRepo) GetDailyUsage(ctx context.Context, id int64) (int, string, error) {
	sqlStr, args, err := dbutil.Build(builder.BuildSelect(shareTable, map[string]interface{}{"id": id}, []string{"daily_count", "last_reset_date"}))
	if err != nil {
		return 0, "", err
	}
	var (
		count int
		date  string
	)
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count, &date); err != nil {
		if dbutil.IsNoRows(err) {
			return 0, "", appErr.ErrNotFound
		}
		return 0, "", err
	}
	return count, date, nil
}

// MarkExpired flips the owner's lapsed active rows to expired.
func (r *ShareRepo) MarkExpired(ctx context.Context, userID string, now int64) (int64, error) {
	where := map[string]interface{}{
		"user_id":       userID,
		"is_active":     1,
		"status":        model.ShareStatusActive,
		"expire_time >": 0,
		"expire_time <": now,
	}
	update := map[string]interface{}{"status": model.ShareStatusExpired, "mtime": now}
	sqlStr, args, err := dbutil.Build(builder.BuildUpdate(shareTable, where, update))
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}
