package captcha

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mailshare/internal/cache"
	"github.com/xxxsen/mailshare/internal/model"
	appErr "github.com/xxxsen/mailshare/internal/pkg/errors"
)

type stubVerifier struct {
	err   error
	calls int
	ips   []string
}

func (s *stubVerifier) Name() string { return "stub" }
func (s *stubVerifier) Verify(_ context.Context, _ string, remoteIP string) error {
	s.calls++
	s.ips = append(s.ips, remoteIP)
	return s.err
}

type countingBackend struct {
	cache.Backend
	gets int
}

func (c *countingBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.gets++
	return c.Backend.Get(ctx, key)
}

func newStore() (*cache.Store, *countingBackend) {
	b := &countingBackend{Backend: cache.NewMemoryBackend(cache.WithSweepInterval(0))}
	return cache.NewStore(b), b
}

func TestRequiredSkipsLookupWhenDisabled(t *testing.T) {
	store, backend := newStore()
	g := NewGate(store, &stubVerifier{})
	share := &model.Share{Token: "tok", EnableCaptcha: false}

	require.False(t, g.Required(context.Background(), share, "1.1.1.1"))
	require.Zero(t, backend.gets)
}

func TestVerifyAllowlistsIPForLink(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore()
	v := &stubVerifier{}
	g := NewGate(store, v, WithPassTTL(time.Minute))
	share := &model.Share{Token: "tok", EnableCaptcha: true}

	require.True(t, g.Required(ctx, share, "1.1.1.1"))
	require.NoError(t, g.Verify(ctx, "challenge", "1.1.1.1", "tok"))
	require.False(t, g.Required(ctx, share, "1.1.1.1"))
	require.True(t, g.Required(ctx, share, "2.2.2.2"))
	require.True(t, g.Required(ctx, &model.Share{Token: "other", EnableCaptcha: true}, "1.1.1.1"))
	require.Equal(t, []string{"1.1.1.1"}, v.ips)

	// idempotent
	require.NoError(t, g.Verify(ctx, "challenge", "1.1.1.1", "tok"))
	require.False(t, g.Required(ctx, share, "1.1.1.1"))
}

func TestVerifyFailsClosed(t *testing.T) {
	ctx := context.Background()
	share := &model.Share{Token: "tok", EnableCaptcha: true}

	tests := []struct {
		name    string
		gate    func(store *cache.Store) *Gate
		wantErr error
	}{
		{
			name:    "provider unreachable",
			gate:    func(s *cache.Store) *Gate { return NewGate(s, &stubVerifier{err: errors.New("dial tcp: refused")}) },
			wantErr: appErr.ErrUpstream,
		},
		{
			name: "provider rejects",
			gate: func(s *cache.Store) *Gate {
				return NewGate(s, &stubVerifier{err: fmt.Errorf("%w: bad token", appErr.ErrCaptchaFailed)})
			},
			wantErr: appErr.ErrCaptchaFailed,
		},
		{
			name:    "no provider configured",
			gate:    func(s *cache.Store) *Gate { return NewGate(s, nil) },
			wantErr: appErr.ErrUpstream,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newStore()
			g := tt.gate(store)
			err := g.Verify(ctx, "challenge", "1.1.1.1", "tok")
			require.ErrorIs(t, err, tt.wantErr)
			require.True(t, g.Required(ctx, share, "1.1.1.1"))
		})
	}
}

func TestVerifyRequiresToken(t *testing.T) {
	store, _ := newStore()
	v := &stubVerifier{}
	err := NewGate(store, v).Verify(context.Background(), "", "1.1.1.1", "tok")
	require.ErrorIs(t, err, appErr.ErrInvalid)
	require.Zero(t, v.calls)
}

func TestVerifyThrottleFailsClosed(t *testing.T) {
	store, _ := newStore()
	v := &stubVerifier{}
	g := NewGate(store, v, WithVerifyRate(0.001, 1))
	ctx := context.Background()

	require.NoError(t, g.Verify(ctx, "a", "1.1.1.1", "tok"))
	require.ErrorIs(t, g.Verify(ctx, "b", "2.2.2.2", "tok"), appErr.ErrUpstream)
	require.Equal(t, 1, v.calls)
}

func TestPassEntryExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	backend := cache.NewMemoryBackend(cache.WithSweepInterval(0), cache.WithClock(func() time.Time { return now }))
	g := NewGate(cache.NewStore(backend), &stubVerifier{}, WithPassTTL(5*time.Minute))
	ctx := context.Background()
	share := &model.Share{Token: "tok", EnableCaptcha: true}

	require.NoError(t, g.Verify(ctx, "c", "1.1.1.1", "tok"))
	require.False(t, g.Required(ctx, share, "1.1.1.1"))
	now = now.Add(5 * time.Minute)
	require.True(t, g.Required(ctx, share, "1.1.1.1"))
}
