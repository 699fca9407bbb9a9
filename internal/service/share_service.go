package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mailshare/internal/cache"
	"github.com/xxxsen/mailshare/internal/mailbox"
	"github.com/xxxsen/mailshare/internal/model"
	appErr "github.com/xxxsen/mailshare/internal/pkg/errors"
	"github.com/xxxsen/mailshare/internal/pkg/timeutil"
)

const (
	maxTokenAttempts = 3
	maxBatchIDs      = 100
	defaultPageSize  = 20
	maxPageSize      = 100
	maxPage          = 10000

	defaultShareCacheTTL   = 5 * time.Minute
	defaultExpiredCacheTTL = 60 * time.Second
)

const (
	BatchActionExtend   = "extend"
	BatchActionDisable  = "disable"
	BatchActionEnable   = "enable"
	BatchActionSettings = "settings"
)

type ShareService struct {
	store      ShareStore
	cache      *cache.Store
	domain     string
	ttl        time.Duration
	expiredTTL time.Duration
	loc        *time.Location
	now        timeutil.Clock
	newToken   func() (string, error)
}

type ShareOption func(*ShareService)

func WithDefaultDomain(domain string) ShareOption {
	return func(s *ShareService) { s.domain = domain }
}

func WithShareCacheTTL(valid, expired time.Duration) ShareOption {
	return func(s *ShareService) {
		s.ttl = valid
		s.expiredTTL = expired
	}
}

// WithLocation sets the timezone whose calendar day bounds the daily quota.
func WithLocation(loc *time.Location) ShareOption {
	return func(s *ShareService) { s.loc = loc }
}

func WithShareClock(now timeutil.Clock) ShareOption {
	return func(s *ShareService) { s.now = now }
}

func NewShareService(store ShareStore, c *cache.Store, opts ...ShareOption) *ShareService {
	s := &ShareService{
		store:      store,
		cache:      c,
		domain:     "localhost",
		ttl:        defaultShareCacheTTL,
		expiredTTL: defaultExpiredCacheTTL,
		loc:        time.UTC,
		newToken:   newShareToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.now = timeutil.OrDefault(s.now)
	if s.ttl <= 0 {
		s.ttl = defaultShareCacheTTL
	}
	if s.expiredTTL <= 0 {
		s.expiredTTL = defaultExpiredCacheTTL
	}
	return s
}

type CreateShareInput struct {
	TargetEmail         string   `json:"target_email"`
	Name                string   `json:"name"`
	Domain              string   `json:"domain"`
	KeywordFilter       string   `json:"keyword_filter"`
	TemplateID          string   `json:"template_id"`
	ShareType           int      `json:"share_type"`
	AuthorizedEmails    []string `json:"authorized_emails"`
	ExpireTime          int64    `json:"expire_time"`
	RateLimitPerSecond  int      `json:"rate_limit_per_second"`
	AutoRecoverySeconds int      `json:"auto_recovery_seconds"`
	DailyLimit          int      `json:"daily_limit"`
	DailyLimitEnabled   bool     `json:"daily_limit_enabled"`
	DisplayLimit        int      `json:"display_limit"`
	DisplayLimitEnabled bool     `json:"display_limit_enabled"`
	EnableCaptcha       bool     `json:"enable_captcha"`
}

type ShareView struct {
	model.Share
	URL string `json:"url"`
}

type ShareListResult struct {
	Items []ShareView `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
}

// SharePatch holds optional settings. Nil fields are left untouched.
type SharePatch struct {
	Name                *string  `json:"name"`
	KeywordFilter       *string  `json:"keyword_filter"`
	TemplateID          *string  `json:"template_id"`
	ExpireTime          *int64   `json:"expire_time"`
	RateLimitPerSecond  *int     `json:"rate_limit_per_second"`
	AutoRecoverySeconds *int     `json:"auto_recovery_seconds"`
	DailyLimit          *int     `json:"daily_limit"`
	DailyLimitEnabled   *bool    `json:"daily_limit_enabled"`
	DisplayLimit        *int     `json:"display_limit"`
	DisplayLimitEnabled *bool    `json:"display_limit_enabled"`
	EnableCaptcha       *bool    `json:"enable_captcha"`
	AuthorizedEmails    []string `json:"authorized_emails"`
}

type BatchInput struct {
	IDs        []int64     `json:"ids"`
	Action     string      `json:"action"`
	ExtendDays int         `json:"extend_days"`
	Settings   *SharePatch `json:"settings"`
}

type BatchResult struct {
	Action   string  `json:"action"`
	Affected int     `json:"affected"`
	IDs      []int64 `json:"ids"`
}

func ShareCacheKey(token string) string {
	return "share:token:" + token
}

func (s *ShareService) Today() string {
	return timeutil.Today(s.now(), s.loc)
}

func (s *ShareService) view(share *model.Share, domain string) *ShareView {
	if domain == "" {
		domain = s.domain
	}
	return &ShareView{Share: *share, URL: buildShareURL(domain, share.Token)}
}

func (s *ShareService) Create(ctx context.Context, ownerID string, in *CreateShareInput) (*ShareView, error) {
	if ownerID == "" {
		return nil, appErr.ErrUnauthorized
	}
	share, err := s.buildShare(ownerID, in, s.now().Unix())
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return nil, err
		}
		share.Token = token
		err = s.store.Create(ctx, share)
		if err == nil {
			logutil.GetLogger(ctx).Info("share created",
				zap.Int64("share_id", share.ID), zap.String("user_id", ownerID), zap.Int("share_type", share.ShareType))
			return s.view(share, in.Domain), nil
		}
		if !appErr.IsConflict(err) {
			return nil, err
		}
		logutil.GetLogger(ctx).Warn("share token collision, regenerating", zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("%w: could not allocate a unique share token", appErr.ErrInternal)
}

func (s *ShareService) buildShare(ownerID string, in *CreateShareInput, now int64) (*model.Share, error) {
	if in == nil {
		return nil, appErr.Invalidf("request body is required")
	}
	target, err := normalizeEmail(in.TargetEmail)
	if err != nil {
		return nil, err
	}
	emails, err := normalizeEmails(in.AuthorizedEmails)
	if err != nil {
		return nil, err
	}
	expire := in.ExpireTime
	if expire == 0 {
		expire = now + defaultExpireDays*secondsPerDay
	}
	if err := validateExpiry(expire, now); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = target
	}
	share := &model.Share{
		UserID:              ownerID,
		TargetEmail:         target,
		Name:                name,
		KeywordFilter:       mailbox.NormalizeKeywords(in.KeywordFilter),
		TemplateID:          strings.TrimSpace(in.TemplateID),
		ShareType:           lo.Ternary(in.ShareType == 0, model.ShareTypeSingle, in.ShareType),
		AuthorizedEmails:    emails,
		ExpireTime:          expire,
		RateLimitPerSecond:  in.RateLimitPerSecond,
		AutoRecoverySeconds: in.AutoRecoverySeconds,
		DailyLimit:          lo.Ternary(in.DailyLimit == 0, defaultDailyLimit, in.DailyLimit),
		DailyLimitEnabled:   in.DailyLimitEnabled,
		DisplayLimit:        lo.Ternary(in.DisplayLimit == 0, defaultDisplayLimit, in.DisplayLimit),
		DisplayLimitEnabled: in.DisplayLimitEnabled,
		EnableCaptcha:       in.EnableCaptcha,
		IsActive:            1,
		Ctime:               now,
		Mtime:               now,
	}
	share.ApplyStatus(now)
	if err := validateLimits(share); err != nil {
		return nil, err
	}
	return share, nil
}

// Resolve loads the share behind a public token, cache first. Disabled and
// unknown tokens both yield ErrNotFound. For ErrExpired the record is
// returned along with the error so callers can still attribute the access.
func (s *ShareService) Resolve(ctx context.Context, token string) (*model.Share, error) {
	now := s.now().Unix()
	key := ShareCacheKey(token)
	if cached, ok := cache.GetJSON[model.Share](ctx, s.cache, key); ok {
		if cached.IsActive == 0 {
			s.cache.Delete(ctx, key)
			return nil, appErr.ErrNotFound
		}
		cached.ApplyStatus(now)
		if cached.Status == model.ShareStatusExpired {
			return cached, appErr.ErrExpired
		}
		return cached, nil
	}
	share, err := s.store.GetActiveByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	share.ApplyStatus(now)
	if share.Status == model.ShareStatusExpired {
		s.cache.SetJSON(ctx, key, share, s.expiredTTL)
		return share, appErr.ErrExpired
	}
	s.cache.SetJSON(ctx, key, share, s.ttl)
	return share, nil
}

func (s *ShareService) Get(ctx context.Context, ownerID string, id int64) (*ShareView, error) {
	share, err := s.store.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	share.ApplyStatus(s.now().Unix())
	return s.view(share, ""), nil
}

func normalizeShareQuery(q *model.ShareQuery) error {
	if q.UserID == "" {
		return appErr.ErrUnauthorized
	}
	switch q.Status {
	case "", "all":
		q.Status = ""
	case model.ShareStatusActive, model.ShareStatusExpired, model.ShareStatusDisabled:
	default:
		return appErr.Invalidf("unknown status %q", q.Status)
	}
	if q.Page < 0 {
		return appErr.Invalidf("page must be positive")
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Page > maxPage {
		return appErr.Invalidf("page must be at most %d", maxPage)
	}
	if q.Size == 0 {
		q.Size = defaultPageSize
	}
	if q.Size < 0 || q.Size > maxPageSize {
		return appErr.Invalidf("size must be between 1 and %d", maxPageSize)
	}
	for _, t := range q.Types {
		if t != model.ShareTypeSingle && t != model.ShareTypeMulti {
			return appErr.Invalidf("unknown share type %d", t)
		}
	}
	q.Types = lo.Uniq(q.Types)
	q.Keyword = strings.TrimSpace(q.Keyword)
	if q.CreatedFrom > 0 && q.CreatedTo > 0 && q.CreatedFrom > q.CreatedTo {
		return appErr.Invalidf("created range is inverted")
	}
	if q.ExpireFrom > 0 && q.ExpireTo > 0 && q.ExpireFrom > q.ExpireTo {
		return appErr.Invalidf("expire range is inverted")
	}
	if q.DailyLimitMin > 0 && q.DailyLimitMax > 0 && q.DailyLimitMin > q.DailyLimitMax {
		return appErr.Invalidf("daily limit range is inverted")
	}
	return nil
}

// refreshExpired persists the read-time status so status filters see rows
// whose expiry passed since they were last written.
func (s *ShareService) refreshExpired(ctx context.Context, ownerID string) {
	flipped, err := s.store.MarkExpired(ctx, ownerID, s.now().Unix())
	if err != nil {
		logutil.GetLogger(ctx).Error("mark expired shares failed", zap.String("user_id", ownerID), zap.Error(err))
		return
	}
	if flipped > 0 {
		logutil.GetLogger(ctx).Debug("shares marked expired", zap.String("user_id", ownerID), zap.Int64("count", flipped))
	}
}

func (s *ShareService) List(ctx context.Context, q *model.ShareQuery) ([]ShareView, error) {
	if err := normalizeShareQuery(q); err != nil {
		return nil, err
	}
	s.refreshExpired(ctx, q.UserID)
	return s.list(ctx, q)
}

func (s *ShareService) list(ctx context.Context, q *model.ShareQuery) ([]ShareView, error) {
	items, err := s.store.List(ctx, q)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	return lo.Map(items, func(item model.Share, _ int) ShareView {
		item.ApplyStatus(now)
		return *s.view(&item, "")
	}), nil
}

func (s *ShareService) Count(ctx context.Context, q *model.ShareQuery) (int64, error) {
	if err := normalizeShareQuery(q); err != nil {
		return 0, err
	}
	return s.store.Count(ctx, q)
}

func (s *ShareService) ListPage(ctx context.Context, q *model.ShareQuery) (*ShareListResult, error) {
	if err := normalizeShareQuery(q); err != nil {
		return nil, err
	}
	s.refreshExpired(ctx, q.UserID)
	items, err := s.list(ctx, q)
	if err != nil {
		return nil, err
	}
	total, err := s.store.Count(ctx, q)
	if err != nil {
		return nil, err
	}
	return &ShareListResult{Items: items, Total: total, Page: q.Page, Size: q.Size}, nil
}

// BatchOperate checks ownership of every id and validates the whole request
// before writing anything. Updates are applied together or not at all.
func (s *ShareService) BatchOperate(ctx context.Context, ownerID string, in *BatchInput) (*BatchResult, error) {
	if ownerID == "" {
		return nil, appErr.ErrUnauthorized
	}
	if in == nil {
		return nil, appErr.Invalidf("request body is required")
	}
	ids := lo.Uniq(in.IDs)
	if len(ids) == 0 || len(ids) > maxBatchIDs {
		return nil, appErr.Invalidf("ids must contain between 1 and %d entries", maxBatchIDs)
	}
	if lo.SomeBy(ids, func(id int64) bool { return id <= 0 }) {
		return nil, appErr.Invalidf("ids must be positive")
	}
	switch in.Action {
	case BatchActionExtend:
		if in.ExtendDays < 1 || in.ExtendDays > maxExtendDays {
			return nil, appErr.Invalidf("extend_days must be between 1 and %d", maxExtendDays)
		}
	case BatchActionSettings:
		if in.Settings == nil || in.Settings.empty() {
			return nil, appErr.Invalidf("settings must change at least one field")
		}
	case BatchActionDisable, BatchActionEnable:
	default:
		return nil, appErr.Invalidf("unknown action %q", in.Action)
	}

	items, err := s.store.ListByIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, err
	}
	if len(items) != len(ids) {
		return nil, appErr.ErrNotFound
	}
	now := s.now().Unix()
	updates := make([]*model.Share, 0, len(items))
	for i := range items {
		share := &items[i]
		switch in.Action {
		case BatchActionExtend:
			base := share.ExpireTime
			if base < now {
				base = now
			}
			share.ExpireTime = base + int64(in.ExtendDays)*secondsPerDay
			share.ApplyStatus(now)
		case BatchActionDisable:
			share.Disable()
		case BatchActionEnable:
			share.Enable(now)
		case BatchActionSettings:
			if err := in.Settings.apply(share, now); err != nil {
				return nil, fmt.Errorf("share %d: %w", share.ID, err)
			}
		}
		share.Mtime = now
		updates = append(updates, share)
	}
	if err := s.store.UpdateMany(ctx, updates); err != nil {
		return nil, err
	}
	for _, share := range updates {
		s.cache.Delete(ctx, ShareCacheKey(share.Token))
	}
	logutil.GetLogger(ctx).Info("share batch applied",
		zap.String("user_id", ownerID), zap.String("action", in.Action), zap.Int("count", len(updates)))
	return &BatchResult{Action: in.Action, Affected: len(updates), IDs: ids}, nil
}

// Disable soft-deletes one share. Rows are never removed.
func (s *ShareService) Disable(ctx context.Context, ownerID string, id int64) error {
	_, err := s.BatchOperate(ctx, ownerID, &BatchInput{IDs: []int64{id}, Action: BatchActionDisable})
	return err
}

func (p *SharePatch) empty() bool {
	return p.Name == nil && p.KeywordFilter == nil && p.TemplateID == nil && p.ExpireTime == nil &&
		p.RateLimitPerSecond == nil && p.AutoRecoverySeconds == nil && p.DailyLimit == nil &&
		p.DailyLimitEnabled == nil && p.DisplayLimit == nil && p.DisplayLimitEnabled == nil &&
		p.EnableCaptcha == nil && p.AuthorizedEmails == nil
}

func (p *SharePatch) apply(share *model.Share, now int64) error {
	if p.Name != nil {
		share.Name = strings.TrimSpace(*p.Name)
		if share.Name == "" {
			share.Name = share.TargetEmail
		}
	}
	if p.KeywordFilter != nil {
		share.KeywordFilter = mailbox.NormalizeKeywords(*p.KeywordFilter)
	}
	if p.TemplateID != nil {
		share.TemplateID = strings.TrimSpace(*p.TemplateID)
	}
	if p.ExpireTime != nil {
		if err := validateExpiry(*p.ExpireTime, now); err != nil {
			return err
		}
		share.ExpireTime = *p.ExpireTime
	}
	if p.RateLimitPerSecond != nil {
		share.RateLimitPerSecond = *p.RateLimitPerSecond
	}
	if p.AutoRecoverySeconds != nil {
		share.AutoRecoverySeconds = *p.AutoRecoverySeconds
	}
	if p.DailyLimit != nil {
		share.DailyLimit = *p.DailyLimit
	}
	if p.DailyLimitEnabled != nil {
		share.DailyLimitEnabled = *p.DailyLimitEnabled
	}
	if p.DisplayLimit != nil {
		share.DisplayLimit = *p.DisplayLimit
	}
	if p.DisplayLimitEnabled != nil {
		share.DisplayLimitEnabled = *p.DisplayLimitEnabled
	}
	if p.EnableCaptcha != nil {
		share.EnableCaptcha = *p.EnableCaptcha
	}
	if p.AuthorizedEmails != nil {
		emails, err := normalizeEmails(p.AuthorizedEmails)
		if err != nil {
			return err
		}
		share.AuthorizedEmails = emails
	}
	share.ApplyStatus(now)
	return validateLimits(share)
}

func patchForField(field string, raw json.RawMessage) (*SharePatch, error) {
	decode := func(dst interface{}) error {
		if len(raw) == 0 {
			return appErr.Invalidf("value for %s is required", field)
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return appErr.Invalidf("invalid value for %s", field)
		}
		return nil
	}
	p := &SharePatch{}
	var err error
	switch field {
	case "name":
		p.Name = new(string)
		err = decode(p.Name)
	case "keyword_filter":
		p.KeywordFilter = new(string)
		err = decode(p.KeywordFilter)
	case "template_id":
		p.TemplateID = new(string)
		err = decode(p.TemplateID)
	case "expire_time":
		p.ExpireTime = new(int64)
		err = decode(p.ExpireTime)
	case "rate_limit_per_second":
		p.RateLimitPerSecond = new(int)
		err = decode(p.RateLimitPerSecond)
	case "auto_recovery_seconds":
		p.AutoRecoverySeconds = new(int)
		err = decode(p.AutoRecoverySeconds)
	case "daily_limit":
		p.DailyLimit = new(int)
		err = decode(p.DailyLimit)
	case "daily_limit_enabled":
		p.DailyLimitEnabled = new(bool)
		err = decode(p.DailyLimitEnabled)
	case "display_limit":
		p.DisplayLimit = new(int)
		err = decode(p.DisplayLimit)
	case "display_limit_enabled":
		p.DisplayLimitEnabled = new(bool)
		err = decode(p.DisplayLimitEnabled)
	case "enable_captcha":
		p.EnableCaptcha = new(bool)
		err = decode(p.EnableCaptcha)
	case "authorized_emails":
		p.AuthorizedEmails = []string{}
		err = decode(&p.AuthorizedEmails)
		if err == nil && p.AuthorizedEmails == nil {
			p.AuthorizedEmails = []string{}
		}
	default:
		return nil, appErr.Invalidf("unknown field %q", field)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateField changes a single setting of an owned share.
func (s *ShareService) UpdateField(ctx context.Context, ownerID string, id int64, field string, raw json.RawMessage) (*ShareView, error) {
	patch, err := patchForField(field, raw)
	if err != nil {
		return nil, err
	}
	share, err := s.store.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	if err := patch.apply(share, now); err != nil {
		return nil, err
	}
	share.Mtime = now
	if err := s.store.Update(ctx, share); err != nil {
		return nil, err
	}
	s.cache.Delete(ctx, ShareCacheKey(share.Token))
	return s.view(share, ""), nil
}

// RefreshToken rotates the public token. The old token stops resolving at
// once and the new one is cached so its first request skips storage.
func (s *ShareService) RefreshToken(ctx context.Context, ownerID string, id int64) (*ShareView, error) {
	share, err := s.store.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	oldToken := share.Token
	now := s.now().Unix()
	var token string
	for attempt := 0; ; attempt++ {
		if attempt == maxTokenAttempts {
			return nil, fmt.Errorf("%w: could not allocate a unique share token", appErr.ErrInternal)
		}
		if token, err = s.newToken(); err != nil {
			return nil, err
		}
		err = s.store.UpdateToken(ctx, ownerID, id, token, now)
		if err == nil {
			break
		}
		if !appErr.IsConflict(err) {
			return nil, err
		}
	}
	share.Token = token
	share.Mtime = now
	share.ApplyStatus(now)
	s.cache.Delete(ctx, ShareCacheKey(oldToken))
	if share.IsActive == 1 {
		s.cache.SetJSON(ctx, ShareCacheKey(token), share, lo.Ternary(share.Status == model.ShareStatusExpired, s.expiredTTL, s.ttl))
	}
	logutil.GetLogger(ctx).Info("share token rotated", zap.Int64("share_id", id), zap.String("user_id", ownerID))
	return s.view(share, ""), nil
}

func (s *ShareService) IncrementDailyCount(ctx context.Context, id int64) error {
	return s.store.IncrementDailyCount(ctx, id, s.now().Unix())
}

// ResetDailyCount zeroes the counter when today differs from the stored reset
// date. Calling it again on the same day changes nothing.
func (s *ShareService) ResetDailyCount(ctx context.Context, id int64, today string) (bool, error) {
	return s.store.ResetDailyCount(ctx, id, today, s.now().Unix())
}

// DailyUsage reads today's counter from storage. Cached snapshots carry a
// stale count and must not be used for quota decisions. A counter last reset
// on an earlier day reads as zero.
func (s *ShareService) DailyUsage(ctx context.Context, id int64) (int, error) {
	count, date, err := s.store.GetDailyUsage(ctx, id)
	if err != nil {
		return 0, err
	}
	if date != s.Today() {
		return 0, nil
	}
	return count, nil
}
