package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/mailshare/internal/cache"
	"github.com/xxxsen/mailshare/internal/captcha"
	"github.com/xxxsen/mailshare/internal/handler"
	"github.com/xxxsen/mailshare/internal/metrics"
	"github.com/xxxsen/mailshare/internal/middleware"
	"github.com/xxxsen/mailshare/internal/pkg/jwt"
	"github.com/xxxsen/mailshare/internal/ratelimit"
	"github.com/xxxsen/mailshare/internal/service"
	"github.com/xxxsen/mailshare/internal/testutil"
)

const testOwner = "owner-1"

var jwtSecret = []byte("test-secret")

type acceptAll struct{}

func (acceptAll) Name() string { return "accept" }

func (acceptAll) Verify(context.Context, string, string) error { return nil }

type env struct {
	t      *testing.T
	now    time.Time
	router http.Handler
	store  *testutil.ShareStore
	logs   *testutil.AccessLogStore
	mail   *testutil.Mailbox
	token  string
}

type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := &env{
		t:     t,
		now:   time.Now().Truncate(time.Second),
		store: testutil.NewShareStore(),
		logs:  testutil.NewAccessLogStore(),
		mail:  &testutil.Mailbox{},
	}
	clock := func() time.Time { return e.now }
	store := cache.NewStore(cache.NewMemoryBackend(cache.WithSweepInterval(0), cache.WithClock(clock)))
	limiter := ratelimit.NewLimiter(
		ratelimit.NewMemoryBackend(ratelimit.WithSweepInterval(0), ratelimit.WithClock(clock)),
		ratelimit.WithLimiterClock(clock),
	)
	shares := service.NewShareService(e.store, store, service.WithShareClock(clock), service.WithDefaultDomain("mail.example.com"))
	access := service.NewAccessService(e.logs, e.store, clock)
	gate := captcha.NewGate(store, acceptAll{})
	gateway := service.NewGatewayService(shares, access, limiter, gate, e.mail, service.WithGatewayClock(clock))

	deps := handler.RouterDeps{
		Shares:    handler.NewShareHandler(shares, access),
		Public:    handler.NewPublicHandler(gateway),
		JWTSecret: jwtSecret,
		PublicLimit: middleware.RateLimit(limiter, &ratelimit.Rule{
			Scope: ratelimit.ScopeStrict, Capacity: 100, Window: time.Minute,
		}),
		Metrics: metrics.Handler(),
	}
	engine, err := webapi.NewEngine(
		"/api",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	e.router = engine

	e.token, err = jwt.GenerateToken(testOwner, "", jwtSecret, time.Hour)
	require.NoError(t, err)
	return e
}

func (e *env) do(method, path string, body interface{}, auth bool) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:5555"
	if auth {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) (int, T) {
	t.Helper()
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	var out T
	if len(resp.Data) > 0 && string(resp.Data) != "null" {
		require.NoError(t, json.Unmarshal(resp.Data, &out))
	}
	return resp.Code, out
}

func (e *env) createShare(in map[string]interface{}) service.ShareView {
	e.t.Helper()
	if _, ok := in["target_email"]; !ok {
		in["target_email"] = "otp@example.com"
	}
	rec := e.do(http.MethodPost, "/api/share/create", in, true)
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	_, view := decode[service.ShareView](e.t, rec)
	require.NotZero(e.t, view.ID)
	return view
}
