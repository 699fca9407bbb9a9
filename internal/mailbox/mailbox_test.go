package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mailshare/internal/model"
)

func TestNormalizeKeywords(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "", want: ""},
		{raw: " | |", want: ""},
		{raw: "Code| OTP |code|otp|verify", want: "Code|OTP|verify"},
		{raw: "a||b", want: "a|b"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, NormalizeKeywords(tt.raw), tt.raw)
	}
}

func TestNormalizeKeywordsBounds(t *testing.T) {
	terms := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		terms = append(terms, fmt.Sprintf("term%d", i))
	}
	require.Len(t, strings.Split(NormalizeKeywords(strings.Join(terms, "|")), "|"), maxKeywords)
	require.Len(t, NormalizeKeywords(strings.Repeat("x", 100)), maxKeywordLength)

	cjk := NormalizeKeywords(strings.Repeat("验", 100))
	require.True(t, utf8.ValidString(cjk))
	require.Equal(t, maxKeywordLength, utf8.RuneCountInString(cjk))
	require.Equal(t, "验证码", NormalizeKeywords("验证码|验证码"))
}

func TestMatches(t *testing.T) {
	email := model.Email{Sender: "noreply@github.com", Subject: "Your sign-in code", Body: "hello"}
	require.True(t, Matches(email, ""))
	require.True(t, Matches(email, "GITHUB"))
	require.True(t, Matches(email, "slack|Sign-In"))
	require.True(t, Matches(email, "HELLO"))
	require.False(t, Matches(email, "invoice|receipt"))
}

type fakeSource struct {
	items []model.Email
	err   error
	got   string
}

func (f *fakeSource) ListRecent(_ context.Context, mailbox string, since int64, _ uint) ([]model.Email, error) {
	f.got = mailbox
	if f.err != nil {
		return nil, f.err
	}
	out := []model.Email{}
	for _, item := range f.items {
		if item.ReceivedAt >= since {
			out = append(out, item)
		}
	}
	return out, nil
}

func TestRepoProviderFiltersAndCaps(t *testing.T) {
	src := &fakeSource{items: []model.Email{
		{ID: 3, Subject: "code 111111", ReceivedAt: 30},
		{ID: 2, Subject: "newsletter", ReceivedAt: 20},
		{ID: 1, Subject: "code 222222", ReceivedAt: 10},
		{ID: 0, Subject: "code 333333", ReceivedAt: 1},
	}}
	p := NewRepoProvider(src)

	items, err := p.ListEmails(context.Background(), Query{Mailbox: "A@Example.com", Keywords: "code", Since: 5})
	require.NoError(t, err)
	require.Equal(t, "a@example.com", src.got)
	require.Len(t, items, 2)
	require.EqualValues(t, 3, items[0].ID)

	items, err = p.ListEmails(context.Background(), Query{Mailbox: "a@example.com", Keywords: "code", Since: 5, Limit: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)

	src.err = errors.New("boom")
	_, err = p.ListEmails(context.Background(), Query{Mailbox: "a@example.com"})
	require.Error(t, err)
}
