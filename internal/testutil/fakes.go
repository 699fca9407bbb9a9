package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/xxxsen/mailshare/internal/mailbox"
	"github.com/xxxsen/mailshare/internal/model"
	appErr "github.com/xxxsen/mailshare/internal/pkg/errors"
)

// checkColumns rejects values postgres would refuse: invalid UTF-8, or more
// characters than the VARCHAR width. A zero width is a TEXT column.
func checkColumns(cols map[string]string, widths map[string]int) error {
	for name, value := range cols {
		if !utf8.ValidString(value) {
			return fmt.Errorf("invalid byte sequence for encoding UTF8 in column %s", name)
		}
		if w := widths[name]; w > 0 && lo.RuneLength(value) > w {
			return fmt.Errorf("value too long for type character varying(%d) in column %s", w, name)
		}
	}
	return nil
}

var shareWidths = map[string]int{"target_email": 320, "name": 255, "template_id": 64}

func checkShare(share *model.Share) error {
	cols := map[string]string{
		"target_email":   share.TargetEmail,
		"name":           share.Name,
		"template_id":    share.TemplateID,
		"keyword_filter": share.KeywordFilter,
	}
	for i, email := range share.AuthorizedEmails {
		cols[fmt.Sprintf("authorized_emails[%d]", i)] = email
	}
	return checkColumns(cols, shareWidths)
}

var accessLogWidths = map[string]int{"client_ip": 64, "viewer_email": 320, "user_agent": 512, "reason": 64}

// ShareStore is an in-memory stand-in for repo.ShareRepo.
type ShareStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]model.Share
	// TokenLookups counts GetActiveByToken calls.
	TokenLookups int
	// FailCreate, when set, is returned by the next Create calls.
	FailCreate []error
}

func NewShareStore() *ShareStore {
	return &ShareStore{rows: make(map[int64]model.Share)}
}

func clone(s model.Share) model.Share {
	s.AuthorizedEmails = append([]string{}, s.AuthorizedEmails...)
	return s
}

// Put stores share as-is, bypassing validation. Used to seed fixtures such
// as already expired links.
func (f *ShareStore) Put(share *model.Share) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if share.ID == 0 {
		f.nextID++
		share.ID = f.nextID
	} else if share.ID > f.nextID {
		f.nextID = share.ID
	}
	f.rows[share.ID] = clone(*share)
}

func (f *ShareStore) Row(id int64) (model.Share, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	return clone(row), ok
}

func (f *ShareStore) Create(_ context.Context, share *model.Share) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.FailCreate) > 0 {
		err := f.FailCreate[0]
		f.FailCreate = f.FailCreate[1:]
		return err
	}
	if err := checkShare(share); err != nil {
		return err
	}
	for _, row := range f.rows {
		if row.Token == share.Token {
			return appErr.ErrConflict
		}
	}
	f.nextID++
	share.ID = f.nextID
	f.rows[share.ID] = clone(*share)
	return nil
}

func (f *ShareStore) GetByID(_ context.Context, userID string, id int64) (*model.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.UserID != userID {
		return nil, appErr.ErrNotFound
	}
	row = clone(row)
	return &row, nil
}

func (f *ShareStore) GetActiveByToken(_ context.Context, token string) (*model.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TokenLookups++
	for _, row := range f.rows {
		if row.Token == token && row.IsActive == 1 {
			row = clone(row)
			return &row, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (f *ShareStore) ListByIDs(_ context.Context, userID string, ids []int64) ([]model.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Share, 0, len(ids))
	for _, id := range ids {
		if row, ok := f.rows[id]; ok && row.UserID == userID {
			out = append(out, clone(row))
		}
	}
	return out, nil
}

func (f *ShareStore) matches(row model.Share, q *model.ShareQuery) bool {
	if row.UserID != q.UserID {
		return false
	}
	switch q.Status {
	case model.ShareStatusActive, model.ShareStatusExpired:
		if row.IsActive != 1 || row.Status != q.Status {
			return false
		}
	case model.ShareStatusDisabled:
		if row.IsActive != 0 {
			return false
		}
	}
	if q.Keyword != "" {
		kw := strings.ToLower(q.Keyword)
		if !strings.Contains(strings.ToLower(row.Name), kw) &&
			!strings.Contains(strings.ToLower(row.TargetEmail), kw) &&
			!strings.Contains(strings.ToLower(row.Token), kw) {
			return false
		}
	}
	if q.CreatedFrom > 0 && row.Ctime < q.CreatedFrom || q.CreatedTo > 0 && row.Ctime > q.CreatedTo {
		return false
	}
	if q.ExpireFrom > 0 && row.ExpireTime < q.ExpireFrom || q.ExpireTo > 0 && row.ExpireTime > q.ExpireTo {
		return false
	}
	if q.DailyLimitMin > 0 && row.DailyLimit < q.DailyLimitMin || q.DailyLimitMax > 0 && row.DailyLimit > q.DailyLimitMax {
		return false
	}
	if len(q.Types) > 0 && !lo.Contains(q.Types, row.ShareType) {
		return false
	}
	return true
}

func (f *ShareStore) filtered(q *model.ShareQuery) []model.Share {
	out := make([]model.Share, 0)
	for _, row := range f.rows {
		if f.matches(row, q) {
			out = append(out, clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ctime != out[j].Ctime {
			return out[i].Ctime > out[j].Ctime
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (f *ShareStore) List(_ context.Context, q *model.ShareQuery) ([]model.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.filtered(q)
	if q.Size <= 0 {
		return items, nil
	}
	start := min(q.Offset(), len(items))
	end := min(start+q.Size, len(items))
	return items[start:end], nil
}

func (f *ShareStore) Count(_ context.Context, q *model.ShareQuery) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.filtered(q))), nil
}

func (f *ShareStore) update(share *model.Share) error {
	row, ok := f.rows[share.ID]
	if !ok || row.UserID != share.UserID {
		return appErr.ErrNotFound
	}
	next := clone(*share)
	next.Token = row.Token
	next.TargetEmail = row.TargetEmail
	next.DailyCount = row.DailyCount
	next.LastResetDate = row.LastResetDate
	next.Ctime = row.Ctime
	f.rows[share.ID] = next
	return nil
}

func (f *ShareStore) Update(_ context.Context, share *model.Share) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkShare(share); err != nil {
		return err
	}
	return f.update(share)
}

func (f *ShareStore) UpdateMany(_ context.Context, shares []*model.Share) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, share := range shares {
		if row, ok := f.rows[share.ID]; !ok || row.UserID != share.UserID {
			return appErr.ErrNotFound
		}
	}
	for _, share := range shares {
		_ = f.update(share)
	}
	return nil
}

func (f *ShareStore) UpdateToken(_ context.Context, userID string, id int64, token string, mtime int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.UserID != userID {
		return appErr.ErrNotFound
	}
	for _, other := range f.rows {
		if other.ID != id && other.Token == token {
			return appErr.ErrConflict
		}
	}
	row.Token = token
	row.Mtime = mtime
	f.rows[id] = row
	return nil
}

func (f *ShareStore) IncrementDailyCount(_ context.Context, id int64, mtime int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return appErr.ErrNotFound
	}
	row.DailyCount++
	row.Mtime = mtime
	f.rows[id] = row
	return nil
}

func (f *ShareStore) ResetDailyCount(_ context.Context, id int64, today string, mtime int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.LastResetDate == today {
		return false, nil
	}
	row.DailyCount = 0
	row.LastResetDate = today
	row.Mtime = mtime
	f.rows[id] = row
	return true, nil
}

func (f *ShareStore) GetDailyUsage(_ context.Context, id int64) (int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return 0, "", appErr.ErrNotFound
	}
	return row.DailyCount, row.LastResetDate, nil
}

func (f *ShareStore) MarkExpired(_ context.Context, userID string, now int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, row := range f.rows {
		if row.UserID == userID && row.IsActive == 1 && row.Status == model.ShareStatusActive &&
			row.ExpireTime > 0 && row.ExpireTime < now {
			row.Status = model.ShareStatusExpired
			row.Mtime = now
			f.rows[id] = row
			n++
		}
	}
	return n, nil
}

// AccessLogStore keeps rows in memory. Errs forces a named aggregate
// ("total", "success", "failed", "rejected", "unique_ips", "avg", "insert")
// to fail.
type AccessLogStore struct {
	mu   sync.Mutex
	rows []model.AccessLog
	Errs map[string]error
}

func NewAccessLogStore() *AccessLogStore {
	return &AccessLogStore{Errs: make(map[string]error)}
}

func (f *AccessLogStore) Rows() []model.AccessLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AccessLog{}, f.rows...)
}

func (f *AccessLogStore) Insert(_ context.Context, entry *model.AccessLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["insert"]; err != nil {
		return err
	}
	if err := checkColumns(map[string]string{
		"client_ip":    entry.ClientIP,
		"viewer_email": entry.ViewerEmail,
		"user_agent":   entry.UserAgent,
		"reason":       entry.Reason,
	}, accessLogWidths); err != nil {
		return err
	}
	entry.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, *entry)
	return nil
}

func (f *AccessLogStore) window(shareID, since int64) []model.AccessLog {
	return lo.Filter(f.rows, func(row model.AccessLog, _ int) bool {
		return row.ShareID == shareID && row.Ctime >= since
	})
}

func (f *AccessLogStore) CountOutcome(_ context.Context, shareID int64, outcome string, since int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs[lo.Ternary(outcome == "", "total", outcome)]; err != nil {
		return 0, err
	}
	return int64(lo.CountBy(f.window(shareID, since), func(row model.AccessLog) bool {
		return outcome == "" || row.Outcome == outcome
	})), nil
}

func (f *AccessLogStore) CountDistinctIP(_ context.Context, shareID int64, since int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["unique_ips"]; err != nil {
		return 0, err
	}
	ips := lo.Uniq(lo.Map(f.window(shareID, since), func(row model.AccessLog, _ int) string { return row.ClientIP }))
	return int64(len(ips)), nil
}

func (f *AccessLogStore) AvgSuccessLatency(_ context.Context, shareID int64, since int64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["avg"]; err != nil {
		return 0, err
	}
	rows := lo.Filter(f.window(shareID, since), func(row model.AccessLog, _ int) bool {
		return row.Outcome == model.AccessOutcomeSuccess
	})
	if len(rows) == 0 {
		return 0, nil
	}
	return float64(lo.SumBy(rows, func(row model.AccessLog) int64 { return row.LatencyMs })) / float64(len(rows)), nil
}

func (f *AccessLogStore) List(_ context.Context, shareID int64, offset, limit int) ([]model.AccessLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := lo.Filter(f.rows, func(row model.AccessLog, _ int) bool { return row.ShareID == shareID })
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Ctime > rows[j].Ctime })
	start := min(offset, len(rows))
	end := min(start+limit, len(rows))
	return rows[start:end], nil
}

func (f *AccessLogStore) DeleteBefore(_ context.Context, cutoff int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := lo.Filter(f.rows, func(row model.AccessLog, _ int) bool { return row.Ctime >= cutoff })
	n := int64(len(f.rows) - len(kept))
	f.rows = kept
	return n, nil
}

// Mailbox serves a fixed set of emails through the real keyword filter.
type Mailbox struct {
	mu     sync.Mutex
	Emails []model.Email
	Err    error
	Calls  int
}

func (m *Mailbox) ListEmails(_ context.Context, q mailbox.Query) ([]model.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	items := lo.Filter(m.Emails, func(e model.Email, _ int) bool {
		return strings.EqualFold(e.Mailbox, q.Mailbox) && e.ReceivedAt >= q.Since
	})
	sort.SliceStable(items, func(i, j int) bool { return items[i].ReceivedAt > items[j].ReceivedAt })
	items = mailbox.Filter(items, q.Keywords)
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items, nil
}
