package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mailshare/internal/captcha"
	"github.com/xxxsen/mailshare/internal/mailbox"
	"github.com/xxxsen/mailshare/internal/metrics"
	"github.com/xxxsen/mailshare/internal/model"
	appErr "github.com/xxxsen/mailshare/internal/pkg/errors"
	"github.com/xxxsen/mailshare/internal/pkg/timeutil"
	"github.com/xxxsen/mailshare/internal/ratelimit"
)

const (
	AccessModeInfo   = "info"
	AccessModeEmails = "emails"
)

type AccessRequest struct {
	Token       string
	ClientIP    string
	ViewerEmail string
	UserAgent   string
	Mode        string
}

// PublicShareInfo is what an anonymous visitor may learn about a link.
type PublicShareInfo struct {
	Name                string `json:"name"`
	TargetEmail         string `json:"target_email"`
	ShareType           int    `json:"share_type"`
	ExpireTime          int64  `json:"expire_time"`
	RateLimitPerSecond  int    `json:"rate_limit_per_second"`
	DailyLimitEnabled   bool   `json:"daily_limit_enabled"`
	DailyLimit          int    `json:"daily_limit"`
	DailyRemaining      *int   `json:"daily_remaining,omitempty"`
	DisplayLimitEnabled bool   `json:"display_limit_enabled"`
	DisplayLimit        int    `json:"display_limit"`
	EnableCaptcha       bool   `json:"enable_captcha"`
}

type EmailView struct {
	ID         int64    `json:"id"`
	Sender     string   `json:"sender"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	ReceivedAt int64    `json:"received_at"`
	Codes      []string `json:"codes"`
}

type AccessResult struct {
	Info   *PublicShareInfo `json:"info"`
	Emails []EmailView      `json:"emails,omitempty"`
}

// GatewayService runs one public request through the link limiter, the
// captcha escalation, the viewer allowlist and the daily quota before the
// mailbox is read. Every attributable pass leaves one access log row.
type GatewayService struct {
	shares   *ShareService
	access   *AccessService
	limiter  *ratelimit.Limiter
	gate     *captcha.Gate
	mail     mailbox.Provider
	lookback time.Duration
	now      timeutil.Clock
}

type GatewayOption func(*GatewayService)

func WithGatewayClock(now timeutil.Clock) GatewayOption {
	return func(g *GatewayService) { g.now = now }
}

// WithEmailLookback bounds how old a returned email may be. Zero keeps only
// the share's creation time as the lower bound.
func WithEmailLookback(d time.Duration) GatewayOption {
	return func(g *GatewayService) { g.lookback = d }
}

func NewGatewayService(shares *ShareService, access *AccessService, limiter *ratelimit.Limiter, gate *captcha.Gate, mail mailbox.Provider, opts ...GatewayOption) *GatewayService {
	g := &GatewayService{shares: shares, access: access, limiter: limiter, gate: gate, mail: mail}
	for _, opt := range opts {
		opt(g)
	}
	g.now = timeutil.OrDefault(g.now)
	return g
}

// LinkRule is the per-token tier for share. Nil when the share has no rate limit.
func LinkRule(share *model.Share) *ratelimit.Rule {
	if !share.RateLimitEnabled() {
		return nil
	}
	return &ratelimit.Rule{
		Scope:        ratelimit.ScopeLink,
		Capacity:     share.RateLimitPerSecond,
		Window:       time.Second,
		AutoRecovery: time.Duration(share.AutoRecoverySeconds) * time.Second,
	}
}

func (g *GatewayService) Access(ctx context.Context, req *AccessRequest) (*AccessResult, error) {
	start := g.now()
	if !IsValidShareToken(req.Token) {
		metrics.GatewayDecisions.WithLabelValues(model.AccessOutcomeRejected, "invalid_token").Inc()
		return nil, appErr.ErrNotFound
	}
	res, share, err := g.run(ctx, req)
	outcome, reason := classifyAccess(err)
	metrics.GatewayDecisions.WithLabelValues(outcome, reason).Inc()
	if share == nil {
		return res, err
	}
	entry := &model.AccessLog{
		ShareID:     share.ID,
		ShareToken:  req.Token,
		ClientIP:    req.ClientIP,
		ViewerEmail: req.ViewerEmail,
		Outcome:     outcome,
		Reason:      lo.Ternary(err == nil, "", reason),
		UserAgent:   req.UserAgent,
		LatencyMs:   g.now().Sub(start).Milliseconds(),
	}
	if res != nil {
		entry.EmailCount = len(res.Emails)
		entry.Codes = RedactCodes(lo.FlatMap(res.Emails, func(e EmailView, _ int) []string { return e.Codes }))
	}
	g.access.RecordAccess(ctx, entry)
	if err != nil {
		logutil.GetLogger(ctx).Info("share access denied",
			zap.Int64("share_id", share.ID), zap.String("ip", req.ClientIP), zap.String("reason", reason), zap.Error(err))
	}
	return res, err
}

func (g *GatewayService) run(ctx context.Context, req *AccessRequest) (*AccessResult, *model.Share, error) {
	share, err := g.shares.Resolve(ctx, req.Token)
	if err != nil {
		return nil, share, err
	}
	if decision := g.limiter.Limit(ctx, req.ClientIP, share.Token, LinkRule(share)); !decision.Allowed {
		if g.gate.Required(ctx, share, req.ClientIP) {
			return nil, share, appErr.ErrCaptchaRequired
		}
		return nil, share, &appErr.RateLimitedError{RetryAfter: decision.RetryAfter}
	}
	if share.IsMultiViewer() {
		viewer := strings.ToLower(strings.TrimSpace(req.ViewerEmail))
		if viewer == "" || !share.IsViewerAuthorized(viewer) {
			return nil, share, fmt.Errorf("%w: viewer is not authorized for this share", appErr.ErrForbidden)
		}
	}
	info := publicInfo(share)
	if req.Mode != AccessModeEmails {
		if share.DailyLimitEnabled {
			used, err := g.shares.DailyUsage(ctx, share.ID)
			if err != nil {
				logutil.GetLogger(ctx).Warn("read daily usage failed", zap.Int64("share_id", share.ID), zap.Error(err))
			} else {
				info.DailyRemaining = lo.ToPtr(max(share.DailyLimit-used, 0))
			}
		}
		return &AccessResult{Info: info}, share, nil
	}

	if _, err := g.shares.ResetDailyCount(ctx, share.ID, g.shares.Today()); err != nil {
		return nil, share, fmt.Errorf("reset daily count: %w", err)
	}
	used := 0
	if share.DailyLimitEnabled {
		if used, err = g.shares.DailyUsage(ctx, share.ID); err != nil {
			return nil, share, fmt.Errorf("read daily usage: %w", err)
		}
		if used >= share.DailyLimit {
			return nil, share, appErr.ErrQuotaExceeded
		}
	}
	emails, err := g.mail.ListEmails(ctx, mailbox.Query{
		Mailbox:  share.TargetEmail,
		Keywords: share.KeywordFilter,
		Since:    g.since(share),
		Limit:    lo.Ternary(share.DisplayLimitEnabled, share.DisplayLimit, 0),
	})
	if err != nil {
		return nil, share, fmt.Errorf("list emails: %w", err)
	}
	views := lo.Map(emails, func(e model.Email, _ int) EmailView {
		return EmailView{ID: e.ID, Sender: e.Sender, Subject: e.Subject, Body: e.Body, ReceivedAt: e.ReceivedAt, Codes: mailbox.ExtractCodes(e)}
	})
	if len(views) > 0 {
		if err := g.shares.IncrementDailyCount(ctx, share.ID); err != nil {
			logutil.GetLogger(ctx).Error("increment daily count failed", zap.Int64("share_id", share.ID), zap.Error(err))
		} else {
			used++
		}
	}
	if share.DailyLimitEnabled {
		info.DailyRemaining = lo.ToPtr(max(share.DailyLimit-used, 0))
	}
	return &AccessResult{Info: info, Emails: views}, share, nil
}

func (g *GatewayService) since(share *model.Share) int64 {
	since := share.Ctime
	if g.lookback > 0 {
		since = max(since, g.now().Add(-g.lookback).Unix())
	}
	return since
}

// Verify completes a captcha challenge for the link behind token.
func (g *GatewayService) Verify(ctx context.Context, token, captchaToken, clientIP string) error {
	if !IsValidShareToken(token) {
		return appErr.ErrNotFound
	}
	share, err := g.shares.Resolve(ctx, token)
	if err != nil {
		return err
	}
	if !share.EnableCaptcha {
		return appErr.Invalidf("captcha is not enabled for this share")
	}
	return g.gate.Verify(ctx, captchaToken, clientIP, share.Token)
}

func publicInfo(share *model.Share) *PublicShareInfo {
	target := share.TargetEmail
	if share.IsMultiViewer() {
		target = maskEmail(target)
	}
	return &PublicShareInfo{
		Name:                share.Name,
		TargetEmail:         target,
		ShareType:           share.ShareType,
		ExpireTime:          share.ExpireTime,
		RateLimitPerSecond:  share.RateLimitPerSecond,
		DailyLimitEnabled:   share.DailyLimitEnabled,
		DailyLimit:          share.DailyLimit,
		DisplayLimitEnabled: share.DisplayLimitEnabled,
		DisplayLimit:        share.DisplayLimit,
		EnableCaptcha:       share.EnableCaptcha,
	}
}

func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return RedactCode(email)
	}
	n := lo.RuneLength(local)
	if n <= 2 {
		return strings.Repeat("*", n) + "@" + domain
	}
	return lo.Substring(local, 0, 2) + strings.Repeat("*", n-2) + "@" + domain
}

// classifyAccess maps a gateway error to the logged outcome and reason.
func classifyAccess(err error) (string, string) {
	switch {
	case err == nil:
		return model.AccessOutcomeSuccess, "ok"
	case errors.Is(err, appErr.ErrCaptchaRequired):
		return model.AccessOutcomeRejected, "captcha_required"
	case errors.Is(err, appErr.ErrTooMany):
		return model.AccessOutcomeRejected, "rate_limited"
	case errors.Is(err, appErr.ErrQuotaExceeded):
		return model.AccessOutcomeRejected, "quota_exceeded"
	case errors.Is(err, appErr.ErrForbidden):
		return model.AccessOutcomeRejected, "forbidden"
	case errors.Is(err, appErr.ErrExpired):
		return model.AccessOutcomeFailed, "expired"
	case appErr.IsNotFound(err):
		return model.AccessOutcomeFailed, "not_found"
	case errors.Is(err, appErr.ErrUpstream):
		return model.AccessOutcomeFailed, "upstream"
	default:
		return model.AccessOutcomeFailed, "internal"
	}
}
