package service

import (
	"net/mail"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/xxxsen/mailshare/internal/model"
	appErr "github.com/xxxsen/mailshare/internal/pkg/errors"
)

const (
	maxRateLimitPerSecond  = 1000
	maxAutoRecoverySeconds = 86400
	maxDailyLimit          = 100000
	maxDisplayLimit        = 100
	maxAuthorizedEmails    = 100
	maxExpireDays          = 365
	maxExtendDays          = 365
	maxNameLength          = 255
	maxTemplateIDLength    = 64
	maxEmailLength         = 320

	defaultExpireDays   = 7
	defaultDailyLimit   = 100
	defaultDisplayLimit = 10

	secondsPerDay = 24 * 60 * 60
)

func validateLimits(s *model.Share) error {
	if s.ShareType != model.ShareTypeSingle && s.ShareType != model.ShareTypeMulti {
		return appErr.Invalidf("share_type must be %d or %d", model.ShareTypeSingle, model.ShareTypeMulti)
	}
	if s.RateLimitPerSecond < 0 || s.RateLimitPerSecond > maxRateLimitPerSecond {
		return appErr.Invalidf("rate_limit_per_second must be between 0 and %d", maxRateLimitPerSecond)
	}
	if s.AutoRecoverySeconds < 0 || s.AutoRecoverySeconds > maxAutoRecoverySeconds {
		return appErr.Invalidf("auto_recovery_seconds must be between 0 and %d", maxAutoRecoverySeconds)
	}
	if s.DailyLimit < 1 || s.DailyLimit > maxDailyLimit {
		return appErr.Invalidf("daily_limit must be between 1 and %d", maxDailyLimit)
	}
	if s.DisplayLimit < 1 || s.DisplayLimit > maxDisplayLimit {
		return appErr.Invalidf("display_limit must be between 1 and %d", maxDisplayLimit)
	}
	if len(s.AuthorizedEmails) > maxAuthorizedEmails {
		return appErr.Invalidf("authorized_emails accepts at most %d entries", maxAuthorizedEmails)
	}
	if s.IsMultiViewer() && len(s.AuthorizedEmails) == 0 {
		return appErr.Invalidf("multi-viewer shares need at least one authorized email")
	}
	if lo.RuneLength(s.Name) > maxNameLength {
		return appErr.Invalidf("name is longer than %d characters", maxNameLength)
	}
	if lo.RuneLength(s.TemplateID) > maxTemplateIDLength {
		return appErr.Invalidf("template_id is longer than %d characters", maxTemplateIDLength)
	}
	return nil
}

func validateExpiry(expireTime, now int64) error {
	if expireTime <= now {
		return appErr.Invalidf("expire_time must be in the future")
	}
	if expireTime > now+maxExpireDays*secondsPerDay {
		return appErr.Invalidf("expire_time must be within %d days", maxExpireDays)
	}
	return nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", appErr.Invalidf("email is required")
	}
	if lo.RuneLength(raw) > maxEmailLength {
		return "", appErr.Invalidf("email is longer than %d characters", maxEmailLength)
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", appErr.Invalidf("invalid email %q", raw)
	}
	return strings.ToLower(addr.Address), nil
}

func normalizeEmails(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if strings.TrimSpace(item) == "" {
			continue
		}
		email, err := normalizeEmail(item)
		if err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return lo.Uniq(out), nil
}

// buildShareURL derives the public link. Plain http is only used for hosts
// that cannot carry a public certificate.
func buildShareURL(domain, token string) string {
	base := strings.TrimRight(strings.TrimSpace(domain), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = shareScheme(base) + "://" + base
	}
	return base + "/share/" + token
}

func shareScheme(domain string) string {
	host := strings.ToLower(domain)
	if u, err := url.Parse("//" + host); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	switch {
	case host == "localhost", host == "0.0.0.0", host == "::1",
		strings.HasPrefix(host, "127."),
		strings.HasSuffix(host, ".local"),
		strings.HasSuffix(host, ".test"),
		strings.HasSuffix(host, ".localhost"):
		return "http"
	}
	return "https"
}
