package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mailshare"

var registry = prometheus.NewRegistry()

var (
	GatewayDecisions = newCounterVec("gateway", "decisions_total", "share gateway outcomes", []string{"outcome", "reason"})
	RateLimit        = newCounterVec("ratelimit", "decisions_total", "rate limiter decisions", []string{"scope", "result"})
	RateLimitErrors  = newCounterVec("ratelimit", "backend_errors_total", "rate limiter backend failures (failed open)", []string{"backend"})
	CacheOps         = newCounterVec("cache", "ops_total", "share cache operations", []string{"backend", "op", "result"})
	CaptchaVerify    = newCounterVec("captcha", "verifications_total", "captcha verification results", []string{"result"})
)

func init() {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	registry.MustRegister(vec)
	return vec
}

func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
