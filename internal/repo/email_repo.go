package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mailshare/internal/model"
	"github.com/xxxsen/mailshare/internal/pkg/dbutil"
)

// EmailRepo reads the mail ingested by the collector process. The gateway
// never writes to it outside of tests.
type EmailRepo struct {
	db *sql.DB
}

func NewEmailRepo(db *sql.DB) *EmailRepo {
	return &EmailRepo{db: db}
}

func (r *EmailRepo) Insert(ctx context.Context, email *model.Email) error {
	data := map[string]interface{}{
		"mailbox":     email.Mailbox,
		"sender":      email.Sender,
		"subject":     email.Subject,
		"body":        email.Body,
		"received_at": email.ReceivedAt,
	}
	sqlStr, args, err := builder.BuildInsert("emails", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr+" RETURNING id", args)
	return r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&email.ID)
}

// ListRecent returns mail delivered to mailbox at or after since, newest
// first.
func (r *EmailRepo) ListRecent(ctx context.Context, mailbox string, since int64, limit uint) ([]model.Email, error) {
	where := map[string]interface{}{
		"mailbox":        mailbox,
		"received_at >=": since,
		"_orderby":       "received_at desc, id desc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	sqlStr, args, err := dbutil.Build(builder.BuildSelect("emails", where, []string{"id", "mailbox", "sender", "subject", "body", "received_at"}))
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.Email, 0)
	for rows.Next() {
		var item model.Email
		if err := rows.Scan(&item.ID, &item.Mailbox, &item.Sender, &item.Subject, &item.Body, &item.ReceivedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
