package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mailshare/internal/cache"
	"github.com/xxxsen/mailshare/internal/captcha"
	"github.com/xxxsen/mailshare/internal/ratelimit"
	"github.com/xxxsen/mailshare/internal/testutil"
)

const owner = "user-1"

type stubVerifier struct {
	err error
}

func (s *stubVerifier) Name() string { return "stub" }

func (s *stubVerifier) Verify(context.Context, string, string) error { return s.err }

type fixture struct {
	now      time.Time
	store    *testutil.ShareStore
	logs     *testutil.AccessLogStore
	mail     *testutil.Mailbox
	cache    *cache.Store
	verifier *stubVerifier
	shares   *ShareService
	access   *AccessService
	gateway  *GatewayService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		now:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		store:    testutil.NewShareStore(),
		logs:     testutil.NewAccessLogStore(),
		mail:     &testutil.Mailbox{},
		verifier: &stubVerifier{},
	}
	clock := func() time.Time { return f.now }
	f.cache = cache.NewStore(cache.NewMemoryBackend(cache.WithSweepInterval(0), cache.WithClock(clock)))
	f.shares = NewShareService(f.store, f.cache, WithShareClock(clock), WithDefaultDomain("mail.example.com"))
	f.access = NewAccessService(f.logs, f.store, clock)
	limiter := ratelimit.NewLimiter(
		ratelimit.NewMemoryBackend(ratelimit.WithSweepInterval(0), ratelimit.WithClock(clock)),
		ratelimit.WithLimiterClock(clock),
	)
	gate := captcha.NewGate(f.cache, f.verifier)
	f.gateway = NewGatewayService(f.shares, f.access, limiter, gate, f.mail, WithGatewayClock(clock))
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) create(t *testing.T, in *CreateShareInput) *ShareView {
	t.Helper()
	if in.TargetEmail == "" {
		in.TargetEmail = "otp@example.com"
	}
	view, err := f.shares.Create(context.Background(), owner, in)
	require.NoError(t, err)
	return view
}
