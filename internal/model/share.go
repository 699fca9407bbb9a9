package model

const (
	ShareStatusActive   = "active"
	ShareStatusExpired  = "expired"
	ShareStatusDisabled = "disabled"
)

const (
	ShareTypeSingle = 1
	ShareTypeMulti  = 2
)

type Share struct {
	ID                  int64    `json:"id"`
	Token               string   `json:"token"`
	UserID              string   `json:"user_id"`
	TargetEmail         string   `json:"target_email"`
	Name                string   `json:"name"`
	KeywordFilter       string   `json:"keyword_filter"`
	TemplateID          string   `json:"template_id"`
	ShareType           int      `json:"share_type"`
	AuthorizedEmails    []string `json:"authorized_emails"`
	ExpireTime          int64    `json:"expire_time"`
	RateLimitPerSecond  int      `json:"rate_limit_per_second"`
	AutoRecoverySeconds int      `json:"auto_recovery_seconds"`
	DailyLimit          int      `json:"daily_limit"`
	DailyLimitEnabled   bool     `json:"daily_limit_enabled"`
	DailyCount          int      `json:"daily_count"`
	LastResetDate       string   `json:"last_reset_date"`
	DisplayLimit        int      `json:"display_limit"`
	DisplayLimitEnabled bool     `json:"display_limit_enabled"`
	EnableCaptcha       bool     `json:"enable_captcha"`
	Status              string   `json:"status"`
	IsActive            int      `json:"is_active"`
	Ctime               int64    `json:"ctime"`
	Mtime               int64    `json:"mtime"`
}

// DeriveStatus is the single place deciding the lifecycle state of a share.
// The active flag wins over the clock: a disabled share never reads as expired.
func DeriveStatus(s *Share, now int64) string {
	if s == nil || s.IsActive == 0 {
		return ShareStatusDisabled
	}
	if s.ExpireTime > 0 && now > s.ExpireTime {
		return ShareStatusExpired
	}
	return ShareStatusActive
}

// ApplyStatus recomputes Status from the clock and keeps IsActive in sync.
func (s *Share) ApplyStatus(now int64) {
	s.Status = DeriveStatus(s, now)
}

func (s *Share) Disable() {
	s.IsActive = 0
	s.Status = ShareStatusDisabled
}

// Enable re-activates the share and derives the status from the stored expiry,
// never from whatever status it had before being disabled.
func (s *Share) Enable(now int64) {
	s.IsActive = 1
	s.ApplyStatus(now)
}

func (s *Share) RateLimitEnabled() bool {
	return s.RateLimitPerSecond > 0
}

func (s *Share) IsMultiViewer() bool {
	return s.ShareType == ShareTypeMulti
}

func (s *Share) IsViewerAuthorized(email string) bool {
	for _, item := range s.AuthorizedEmails {
		if item == email {
			return true
		}
	}
	return false
}

// ShareQuery filters an owner's shares. Zero values leave a dimension
// unfiltered; UserID is always applied.
type ShareQuery struct {
	UserID        string
	Status        string
	Keyword       string
	CreatedFrom   int64
	CreatedTo     int64
	ExpireFrom    int64
	ExpireTo      int64
	DailyLimitMin int
	DailyLimitMax int
	Types         []int
	Page          int
	Size          int
}

func (q *ShareQuery) Offset() int {
	if q.Page <= 1 {
		return 0
	}
	return (q.Page - 1) * q.Size
}
