package model

const (
	AccessOutcomeSuccess  = "success"
	AccessOutcomeFailed   = "failed"
	AccessOutcomeRejected = "rejected"
)

type AccessLog struct {
	ID          int64  `json:"id"`
	ShareID     int64  `json:"share_id"`
	ShareToken  string `json:"share_token"`
	ClientIP    string `json:"client_ip"`
	ViewerEmail string `json:"viewer_email"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason"`
	Codes       string `json:"codes"`
	EmailCount  int    `json:"email_count"`
	LatencyMs   int64  `json:"latency_ms"`
	UserAgent   string `json:"user_agent"`
	Ctime       int64  `json:"ctime"`
}

type AccessStats struct {
	ShareID           int64    `json:"share_id"`
	WindowSeconds     int64    `json:"window_seconds"`
	Total             int64    `json:"total"`
	Success           int64    `json:"success"`
	Failed            int64    `json:"failed"`
	Rejected          int64    `json:"rejected"`
	UniqueIPs         int64    `json:"unique_ips"`
	AvgSuccessLatency float64  `json:"avg_success_latency_ms"`
	Degraded          []string `json:"degraded,omitempty"`
}
