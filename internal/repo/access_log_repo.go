package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mailshare/internal/model"
	"github.com/xxxsen/mailshare/internal/pkg/dbutil"
)

const accessLogTable = "share_access_logs"

type AccessLogRepo struct {
	db *sql.DB
}

func NewAccessLogRepo(db *sql.DB) *AccessLogRepo {
	return &AccessLogRepo{db: db}
}

func (r *AccessLogRepo) Insert(ctx context.Context, entry *model.AccessLog) error {
	data := map[string]interface{}{
		"share_id":     entry.ShareID,
		"share_token":  entry.ShareToken,
		"client_ip":    entry.ClientIP,
		"viewer_email": entry.ViewerEmail,
		"outcome":      entry.Outcome,
		"reason":       entry.Reason,
		"codes":        entry.Codes,
		"email_count":  entry.EmailCount,
		"latency_ms":   entry.LatencyMs,
		"user_agent":   entry.UserAgent,
		"ctime":        entry.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert(accessLogTable, []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr+" RETURNING id", args)
	return r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&entry.ID)
}

// CountOutcome counts rows of shareID since the given time. An empty outcome
// counts every row.
func (r *AccessLogRepo) CountOutcome(ctx context.Context, shareID int64, outcome string, since int64) (int64, error) {
	where := map[string]interface{}{"share_id": shareID, "ctime >=": since}
	if outcome != "" {
		where["outcome"] = outcome
	}
	return r.scalarInt(ctx, where, "COUNT(*)")
}

func (r *AccessLogRepo) CountDistinctIP(ctx context.Context, shareID int64, since int64) (int64, error) {
	return r.scalarInt(ctx, map[string]interface{}{"share_id": shareID, "ctime >=": since}, "COUNT(DISTINCT client_ip)")
}

func (r *AccessLogRepo) AvgSuccessLatency(ctx context.Context, shareID int64, since int64) (float64, error) {
	where := map[string]interface{}{"share_id": shareID, "ctime >=": since, "outcome": model.AccessOutcomeSuccess}
	sqlStr, args, err := dbutil.Build(builder.BuildSelect(accessLogTable, where, []string{"COALESCE(AVG(latency_ms), 0)"}))
	if err != nil {
		return 0, err
	}
	var avg float64
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&avg); err != nil {
		return 0, err
	}
	return avg, nil
}

func (r *AccessLogRepo) scalarInt(ctx context.Context, where map[string]interface{}, expr string) (int64, error) {
	sqlStr, args, err := dbutil.Build(builder.BuildSelect(accessLogTable, where, []string{expr}))
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *AccessLogRepo) List(ctx context.Context, shareID int64, offset, limit int) ([]model.AccessLog, error) {
	where := map[string]interface{}{
		"share_id": shareID,
		"_orderby": "ctime desc, id desc",
		"_limit":   []uint{uint(offset), uint(limit)},
	}
	sqlStr, args, err := builder.BuildSelect(accessLogTable, where, []string{
		"id", "share_id", "share_token", "client_ip", "viewer_email", "outcome", "reason",
		"codes", "email_count", "latency_ms", "user_agent", "ctime",
	})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.AccessLog, 0)
	for rows.Next() {
		var item model.AccessLog
		if err := rows.Scan(&item.ID, &item.ShareID, &item.ShareToken, &item.ClientIP, &item.ViewerEmail,
			&item.Outcome, &item.Reason, &item.Codes, &item.EmailCount, &item.LatencyMs, &item.UserAgent, &item.Ctime); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *AccessLogRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	sqlStr, args, err := dbutil.Build(builder.BuildDelete(accessLogTable, map[string]interface{}{"ctime <": cutoff}))
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
