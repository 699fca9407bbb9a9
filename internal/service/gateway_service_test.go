package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mailshare/internal/model"
	appErr "github.com/xxxsen/mailshare/internal/pkg/errors"
)

func infoRequest(token, ip string) *AccessRequest {
	return &AccessRequest{Token: token, ClientIP: ip, Mode: AccessModeInfo}
}

func emailsRequest(token, ip string) *AccessRequest {
	return &AccessRequest{Token: token, ClientIP: ip, Mode: AccessModeEmails}
}

func TestGatewayFiveRequestsAtThreePerSecond(t *testing.T) {
	for _, recovery := range []int{0, 5} {
		f := newFixture(t)
		ctx := context.Background()
		view := f.create(t, &CreateShareInput{RateLimitPerSecond: 3, AutoRecoverySeconds: recovery})

		allowed, denied := 0, 0
		for i := 0; i < 5; i++ {
			f.advance(100 * time.Millisecond)
			_, err := f.gateway.Access(ctx, infoRequest(view.Token, "1.1.1.1"))
			if err == nil {
				allowed++
				continue
			}
			var limited *appErr.RateLimitedError
			require.True(t, errors.As(err, &limited))
			require.ErrorIs(t, err, appErr.ErrTooMany)
			if recovery > 0 {
				require.Positive(t, limited.RetryAfter)
			} else {
				require.Zero(t, limited.RetryAfter)
			}
			denied++
		}
		require.Equal(t, 3, allowed)
		require.Equal(t, 2, denied)

		rows := f.logs.Rows()
		require.Len(t, rows, 5)
		require.Equal(t, model.AccessOutcomeRejected, rows[4].Outcome)
		require.Equal(t, "rate_limited", rows[4].Reason)
	}
}

func TestGatewayLinksHaveIndependentBudgets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, &CreateShareInput{RateLimitPerSecond: 2})
	b := f.create(t, &CreateShareInput{RateLimitPerSecond: 2})

	for i := 0; i < 2; i++ {
		_, err := f.gateway.Access(ctx, infoRequest(a.Token, "1.1.1.1"))
		require.NoError(t, err)
	}
	_, err := f.gateway.Access(ctx, infoRequest(a.Token, "1.1.1.1"))
	require.ErrorIs(t, err, appErr.ErrTooMany)

	for i := 0; i < 2; i++ {
		_, err := f.gateway.Access(ctx, infoRequest(b.Token, "1.1.1.1"))
		require.NoError(t, err)
	}
}

func TestGatewayZeroRateLimitMeansUnlimited(t *testing.T) {
	f := newFixture(t)
	view := f.create(t, &CreateShareInput{})
	for i := 0; i < 50; i++ {
		_, err := f.gateway.Access(context.Background(), infoRequest(view.Token, "1.1.1.1"))
		require.NoError(t, err)
	}
}

func TestGatewayEscalatesToCaptcha(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.create(t, &CreateShareInput{RateLimitPerSecond: 1, EnableCaptcha: true})

	_, err := f.gateway.Access(ctx, infoRequest(view.Token, "1.1.1.1"))
	require.NoError(t, err)
	_, err = f.gateway.Access(ctx, infoRequest(view.Token, "1.1.1.1"))
	require.ErrorIs(t, err, appErr.ErrCaptchaRequired)

	require.NoError(t, f.gateway.Verify(ctx, view.Token, "challenge", "1.1.1.1"))
	_, err = f.gateway.Access(ctx, infoRequest(view.Token, "1.1.1.1"))
	require.ErrorIs(t, err, appErr.ErrTooMany)
	require.NotErrorIs(t, err, appErr.ErrCaptchaRequired)

	f.advance(time.Second)
	_, err = f.gateway.Access(ctx, infoRequest(view.Token, "1.1.1.1"))
	require.NoError(t, err)

	rows := f.logs.Rows()
	require.Equal(t, "captcha_required", rows[1].Reason)
	require.Equal(t, model.AccessOutcomeRejected, rows[1].Outcome)
}

func TestGatewayVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plain := f.create(t, &CreateShareInput{})
	gated := f.create(t, &CreateShareInput{EnableCaptcha: true})

	require.ErrorIs(t, f.gateway.Verify(ctx, plain.Token, "c", "1.1.1.1"), appErr.ErrInvalid)
	require.ErrorIs(t, f.gateway.Verify(ctx, "bad", "c", "1.1.1.1"), appErr.ErrNotFound)

	f.verifier.err = errors.New("connection reset")
	require.ErrorIs(t, f.gateway.Verify(ctx, gated.Token, "c", "1.1.1.1"), appErr.ErrUpstream)
	f.verifier.err = nil
	require.NoError(t, f.gateway.Verify(ctx, gated.Token, "c", "1.1.1.1"))
}

func TestGatewayMultiViewerAllowlist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.create(t, &CreateShareInput{
		TargetEmail:      "shared@example.com",
		ShareType:        2,
		AuthorizedEmails: []string{"Alice@Example.com"},
	})

	_, err := f.gateway.Access(ctx, infoRequest(view.Token, "1.1.1.1"))
	require.ErrorIs(t, err, appErr.ErrForbidden)

	req := infoRequest(view.Token, "1.1.1.1")
	req.ViewerEmail = "bob@example.com"
	_, err = f.gateway.Access(ctx, req)
	require.ErrorIs(t, err, appErr.ErrForbidden)

	req.ViewerEmail = "alice@example.com"
	res, err := f.gateway.Access(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "sh****@example.com", res.Info.TargetEmail)
}

func TestGatewayEmailsQuotaAndDisplayLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.create(t, &CreateShareInput{
		KeywordFilter:       "code",
		DailyLimit:          2,
		DailyLimitEnabled:   true,
		DisplayLimit:        1,
		DisplayLimitEnabled: true,
	})
	f.mail.Emails = []model.Email{
		{ID: 1, Mailbox: "otp@example.com", Subject: "Your code", Body: "code 123456", ReceivedAt: f.now.Unix() + 10},
		{ID: 2, Mailbox: "otp@example.com", Subject: "Your code", Body: "code 654321", ReceivedAt: f.now.Unix() + 20},
		{ID: 3, Mailbox: "otp@example.com", Subject: "Newsletter", Body: "hello", ReceivedAt: f.now.Unix() + 30},
		{ID: 4, Mailbox: "otp@example.com", Subject: "Old code", Body: "code 111111", ReceivedAt: f.now.Unix() - 10},
	}
	f.advance(time.Minute)

	res, err := f.gateway.Access(ctx, emailsRequest(view.Token, "1.1.1.1"))
	require.NoError(t, err)
	require.Len(t, res.Emails, 1)
	require.EqualValues(t, 2, res.Emails[0].ID)
	require.Equal(t, []string{"654321"}, res.Emails[0].Codes)
	require.Equal(t, 1, *res.Info.DailyRemaining)

	_, err = f.gateway.Access(ctx, emailsRequest(view.Token, "1.1.1.1"))
	require.NoError(t, err)
	_, err = f.gateway.Access(ctx, emailsRequest(view.Token, "1.1.1.1"))
	require.ErrorIs(t, err, appErr.ErrQuotaExceeded)
	require.Equal(t, 2, f.mail.Calls)

	rows := f.logs.Rows()
	require.Len(t, rows, 3)
	require.Equal(t, model.AccessOutcomeSuccess, rows[0].Outcome)
	require.Equal(t, "65**21", rows[0].Codes)
	require.Equal(t, 1, rows[0].EmailCount)
	require.Equal(t, "quota_exceeded", rows[2].Reason)

	f.advance(24 * time.Hour)
	f.mail.Emails[1].ReceivedAt = f.now.Unix()
	_, err = f.gateway.Access(ctx, emailsRequest(view.Token, "1.1.1.1"))
	require.NoError(t, err)
}

func TestGatewayEmptyResultDoesNotConsumeQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.create(t, &CreateShareInput{DailyLimit: 1, DailyLimitEnabled: true})

	for i := 0; i < 3; i++ {
		res, err := f.gateway.Access(ctx, emailsRequest(view.Token, "1.1.1.1"))
		require.NoError(t, err)
		require.Empty(t, res.Emails)
	}
	used, err := f.shares.DailyUsage(ctx, view.ID)
	require.NoError(t, err)
	require.Zero(t, used)
}

func TestGatewayInfoModeSkipsMailbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.create(t, &CreateShareInput{DailyLimit: 4, DailyLimitEnabled: true})

	res, err := f.gateway.Access(ctx, infoRequest(view.Token, "1.1.1.1"))
	require.NoError(t, err)
	require.Zero(t, f.mail.Calls)
	require.Equal(t, 4, *res.Info.DailyRemaining)
	require.Equal(t, "otp@example.com", res.Info.TargetEmail)
}

func TestGatewayFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gateway.Access(ctx, infoRequest("not-a-token", "1.1.1.1"))
	require.ErrorIs(t, err, appErr.ErrNotFound)
	_, err = f.gateway.Access(ctx, infoRequest(strings.Repeat("a", 32), "1.1.1.1"))
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.Empty(t, f.logs.Rows())

	expired := &model.Share{
		Token:        strings.Repeat("E", 32),
		UserID:       owner,
		TargetEmail:  "otp@example.com",
		ShareType:    model.ShareTypeSingle,
		ExpireTime:   f.now.Add(-time.Hour).Unix(),
		DailyLimit:   100,
		DisplayLimit: 10,
		IsActive:     1,
		Status:       model.ShareStatusActive,
	}
	f.store.Put(expired)
	_, err = f.gateway.Access(ctx, infoRequest(expired.Token, "1.1.1.1"))
	require.ErrorIs(t, err, appErr.ErrExpired)
	rows := f.logs.Rows()
	require.Len(t, rows, 1)
	require.Equal(t, expired.ID, rows[0].ShareID)
	require.Equal(t, model.AccessOutcomeFailed, rows[0].Outcome)
	require.Equal(t, "expired", rows[0].Reason)

	view := f.create(t, &CreateShareInput{})
	f.mail.Err = errors.New("db down")
	_, err = f.gateway.Access(ctx, emailsRequest(view.Token, "1.1.1.1"))
	require.Error(t, err)
	rows = f.logs.Rows()
	require.Equal(t, model.AccessOutcomeFailed, rows[len(rows)-1].Outcome)
	require.Equal(t, "internal", rows[len(rows)-1].Reason)
}

func TestGatewayLogsOversizedViewerEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.create(t, &CreateShareInput{RateLimitPerSecond: 1})
	huge := strings.Repeat("x", 1000) + "@example.com"

	for i := 0; i < 2; i++ {
		req := infoRequest(view.Token, "1.1.1.1")
		req.ViewerEmail = huge
		_, _ = f.gateway.Access(ctx, req)
	}

	rows := f.logs.Rows()
	require.Len(t, rows, 2)
	require.Equal(t, model.AccessOutcomeSuccess, rows[0].Outcome)
	require.Equal(t, model.AccessOutcomeRejected, rows[1].Outcome)
	for _, row := range rows {
		require.LessOrEqual(t, len(row.ViewerEmail), maxViewerLength)
	}
}

func TestLinkRule(t *testing.T) {
	require.Nil(t, LinkRule(&model.Share{RateLimitPerSecond: 0, AutoRecoverySeconds: 30}))
	rule := LinkRule(&model.Share{RateLimitPerSecond: 3, AutoRecoverySeconds: 5})
	require.True(t, rule.Enabled())
	require.Equal(t, 3, rule.Capacity)
	require.Equal(t, time.Second, rule.Window)
	require.Equal(t, 5*time.Second, rule.AutoRecovery)
}

func TestGatewaySurvivesAccessLogFailure(t *testing.T) {
	f := newFixture(t)
	f.logs.Errs["insert"] = errors.New("disk full")
	view := f.create(t, &CreateShareInput{})
	_, err := f.gateway.Access(context.Background(), infoRequest(view.Token, "1.1.1.1"))
	require.NoError(t, err)
}

func TestMaskEmail(t *testing.T) {
	require.Equal(t, "al***@example.com", maskEmail("alice@example.com"))
	require.Equal(t, "**@x.com", maskEmail("ab@x.com"))
	require.Equal(t, "张三*@example.com", maskEmail("张三丰@example.com"))
}
