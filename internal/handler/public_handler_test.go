package handler_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mailshare/internal/model"
	"github.com/xxxsen/mailshare/internal/pkg/errcode"
	"github.com/xxxsen/mailshare/internal/service"
)

var errBoom = errors.New("boom")

func TestPublicRateLimitStatus(t *testing.T) {
	tests := []struct {
		name       string
		recovery   int
		retryAfter string
	}{
		{name: "no recovery", recovery: 0, retryAfter: ""},
		{name: "with recovery", recovery: 7, retryAfter: "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setupRouter(t)
			view := e.createShare(map[string]interface{}{"rate_limit_per_second": 1, "auto_recovery_seconds": tt.recovery})

			rec := e.do(http.MethodGet, "/api/share/info/"+view.Token, nil, false)
			require.Equal(t, http.StatusOK, rec.Code)
			rec = e.do(http.MethodGet, "/api/share/info/"+view.Token, nil, false)
			require.Equal(t, http.StatusTooManyRequests, rec.Code)
			require.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
			code, _ := decode[any](t, rec)
			require.Equal(t, errcode.ErrTooMany, code)
		})
	}
}

func TestPublicErrorMapping(t *testing.T) {
	e := setupRouter(t)
	expired := &model.Share{
		Token:        strings.Repeat("X", 32),
		UserID:       testOwner,
		TargetEmail:  "otp@example.com",
		ShareType:    model.ShareTypeSingle,
		ExpireTime:   e.now.Add(-time.Hour).Unix(),
		DailyLimit:   100,
		DisplayLimit: 10,
		IsActive:     1,
		Status:       model.ShareStatusActive,
	}
	e.store.Put(expired)
	multi := e.createShare(map[string]interface{}{
		"share_type":        model.ShareTypeMulti,
		"authorized_emails": []string{"alice@example.com"},
	})

	tests := []struct {
		name   string
		path   string
		status int
		code   int
	}{
		{name: "malformed token", path: "/api/share/info/short", status: http.StatusNotFound, code: errcode.ErrNotFound},
		{name: "unknown token", path: "/api/share/info/" + strings.Repeat("u", 32), status: http.StatusNotFound, code: errcode.ErrNotFound},
		{name: "expired", path: "/api/share/info/" + expired.Token, status: http.StatusGone, code: errcode.ErrExpired},
		{name: "viewer missing", path: "/api/share/info/" + multi.Token, status: http.StatusForbidden, code: errcode.ErrForbidden},
		{name: "viewer not allowed", path: "/api/share/emails/" + multi.Token + "?userEmail=bob@example.com", status: http.StatusForbidden, code: errcode.ErrForbidden},
		{name: "viewer allowed", path: "/api/share/emails/" + multi.Token + "?userEmail=alice@example.com", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(http.MethodGet, tt.path, nil, false)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != 0 {
				code, _ := decode[any](t, rec)
				require.Equal(t, tt.code, code)
			}
		})
	}
}

func TestPublicCaptchaFlow(t *testing.T) {
	e := setupRouter(t)
	view := e.createShare(map[string]interface{}{"rate_limit_per_second": 1, "enable_captcha": true})
	plain := e.createShare(map[string]interface{}{})

	rec := e.do(http.MethodGet, "/api/share/info/"+view.Token, nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(http.MethodGet, "/api/share/info/"+view.Token, nil, false)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-Captcha-Required"))
	code, _ := decode[any](t, rec)
	require.Equal(t, errcode.ErrCaptchaRequired, code)

	rec = e.do(http.MethodPost, "/api/share/captcha/"+view.Token, map[string]string{"captcha_token": ""}, false)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(http.MethodPost, "/api/share/captcha/"+plain.Token, map[string]string{"captcha_token": "ok"}, false)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(http.MethodPost, "/api/share/captcha/"+view.Token, map[string]string{"captcha_token": "ok"}, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(http.MethodGet, "/api/share/info/"+view.Token, nil, false)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Empty(t, rec.Header().Get("X-Captcha-Required"))

	e.now = e.now.Add(time.Second)
	rec = e.do(http.MethodGet, "/api/share/info/"+view.Token, nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPublicEmailsAndQuota(t *testing.T) {
	e := setupRouter(t)
	view := e.createShare(map[string]interface{}{"daily_limit": 1, "daily_limit_enabled": true})
	e.mail.Emails = []model.Email{{
		ID:         7,
		Mailbox:    "otp@example.com",
		Sender:     "noreply@service.com",
		Subject:    "Verification code",
		Body:       "Your code is 482913",
		ReceivedAt: e.now.Unix() + 1,
	}}
	e.now = e.now.Add(time.Minute)

	rec := e.do(http.MethodGet, "/api/share/emails/"+view.Token, nil, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, res := decode[service.AccessResult](t, rec)
	require.Len(t, res.Emails, 1)
	require.Equal(t, []string{"482913"}, res.Emails[0].Codes)
	require.Equal(t, 0, *res.Info.DailyRemaining)

	rec = e.do(http.MethodGet, "/api/share/emails/"+view.Token, nil, false)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-Quota-Exceeded"))
	code, _ := decode[any](t, rec)
	require.Equal(t, errcode.ErrQuotaExceeded, code)

	rows := e.logs.Rows()
	require.Len(t, rows, 2)
	require.Equal(t, "48**13", rows[0].Codes)
	require.Equal(t, "quota_exceeded", rows[1].Reason)
}

func TestPublicMailboxFailure(t *testing.T) {
	e := setupRouter(t)
	view := e.createShare(map[string]interface{}{})
	e.mail.Err = errBoom
	rec := e.do(http.MethodGet, "/api/share/emails/"+view.Token, nil, false)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	code, _ := decode[any](t, rec)
	require.Equal(t, errcode.ErrInternal, code)
}
