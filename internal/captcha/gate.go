// Package captcha escalates rate-limited clients to a human-verification
// challenge. Verification fails closed: a provider that cannot be reached
// never lets a client through.
package captcha

import (
	"context"
	"errors"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xxxsen/mailshare/internal/cache"
	"github.com/xxxsen/mailshare/internal/metrics"
	"github.com/xxxsen/mailshare/internal/model"
	appErr "github.com/xxxsen/mailshare/internal/pkg/errors"
)

const defaultPassTTL = 10 * time.Minute

type Gate struct {
	cache    *cache.Store
	verifier Verifier
	ttl      time.Duration
	throttle *rate.Limiter
}

type GateOption func(*Gate)

func WithPassTTL(ttl time.Duration) GateOption {
	return func(g *Gate) { g.ttl = ttl }
}

// WithVerifyRate caps outbound provider calls for the whole process.
func WithVerifyRate(rps float64, burst int) GateOption {
	return func(g *Gate) { g.throttle = rate.NewLimiter(rate.Limit(rps), burst) }
}

func NewGate(store *cache.Store, verifier Verifier, opts ...GateOption) *Gate {
	g := &Gate{cache: store, verifier: verifier, ttl: defaultPassTTL}
	for _, opt := range opts {
		opt(g)
	}
	if g.ttl <= 0 {
		g.ttl = defaultPassTTL
	}
	return g
}

func PassKey(clientIP, linkToken string) string {
	return "captcha:pass:" + clientIP + ":" + linkToken
}

// Required reports whether clientIP has to solve a challenge for share.
// Shares without captcha never cost a lookup.
func (g *Gate) Required(ctx context.Context, share *model.Share, clientIP string) bool {
	if share == nil || !share.EnableCaptcha {
		return false
	}
	if g == nil {
		return false
	}
	_, ok := g.cache.Get(ctx, PassKey(clientIP, share.Token))
	return !ok
}

// Verify checks externalToken with the provider and, on success, allowlists
// clientIP for linkToken. Repeating it only refreshes the allowlist TTL.
func (g *Gate) Verify(ctx context.Context, externalToken, clientIP, linkToken string) error {
	if externalToken == "" {
		return appErr.Invalidf("captcha token is required")
	}
	if g == nil || g.verifier == nil {
		metrics.CaptchaVerify.WithLabelValues("unconfigured").Inc()
		return appErr.Upstreamf("captcha provider not configured")
	}
	if g.throttle != nil && !g.throttle.Allow() {
		metrics.CaptchaVerify.WithLabelValues("throttled").Inc()
		return appErr.Upstreamf("captcha verification throttled")
	}
	if err := g.verifier.Verify(ctx, externalToken, clientIP); err != nil {
		logger := logutil.GetLogger(ctx).With(zap.String("provider", g.verifier.Name()), zap.String("ip", clientIP))
		if errors.Is(err, appErr.ErrCaptchaFailed) {
			metrics.CaptchaVerify.WithLabelValues("rejected").Inc()
			logger.Info("captcha rejected", zap.Error(err))
			return err
		}
		metrics.CaptchaVerify.WithLabelValues("error").Inc()
		logger.Error("captcha provider failed", zap.Error(err))
		if !errors.Is(err, appErr.ErrUpstream) {
			err = appErr.Upstreamf("%v", err)
		}
		return err
	}
	metrics.CaptchaVerify.WithLabelValues("passed").Inc()
	g.cache.Set(ctx, PassKey(clientIP, linkToken), []byte("1"), g.ttl)
	return nil
}
