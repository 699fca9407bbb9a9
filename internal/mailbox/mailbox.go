// Package mailbox reads ingested mail on behalf of share links. Delivery and
// storage of the mail itself belong to a separate collector.
package mailbox

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"github.com/xxxsen/mailshare/internal/model"
)

const (
	maxKeywords      = 20
	maxKeywordLength = 64
	// upper bound on rows scanned per request before keyword filtering
	defaultScanLimit = 200
)

type Query struct {
	Mailbox  string
	Keywords string
	Since    int64
	Limit    int
}

type Provider interface {
	ListEmails(ctx context.Context, q Query) ([]model.Email, error)
}

type emailSource interface {
	ListRecent(ctx context.Context, mailbox string, since int64, limit uint) ([]model.Email, error)
}

// RepoProvider serves mail from the emails table.
type RepoProvider struct {
	source    emailSource
	scanLimit uint
}

func NewRepoProvider(source emailSource) *RepoProvider {
	return &RepoProvider{source: source, scanLimit: defaultScanLimit}
}

func (p *RepoProvider) ListEmails(ctx context.Context, q Query) ([]model.Email, error) {
	items, err := p.source.ListRecent(ctx, strings.ToLower(q.Mailbox), q.Since, p.scanLimit)
	if err != nil {
		return nil, err
	}
	items = Filter(items, q.Keywords)
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items, nil
}

// NormalizeKeywords cleans a pipe-delimited filter: blank and repeated
// (case-insensitive) terms are dropped and the list is bounded.
func NormalizeKeywords(raw string) string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, term := range strings.Split(raw, "|") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		term = lo.Substring(term, 0, maxKeywordLength)
		key := strings.ToLower(term)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, term)
		if len(out) == maxKeywords {
			break
		}
	}
	return strings.Join(out, "|")
}

// Matches reports whether any keyword occurs in the subject, sender or body.
// An empty filter matches everything.
func Matches(email model.Email, keywords string) bool {
	terms := lo.Compact(strings.Split(strings.ToLower(keywords), "|"))
	if len(terms) == 0 {
		return true
	}
	haystack := strings.ToLower(email.Subject + "\n" + email.Sender + "\n" + email.Body)
	return lo.SomeBy(terms, func(term string) bool {
		return strings.Contains(haystack, term)
	})
}

func Filter(items []model.Email, keywords string) []model.Email {
	return lo.Filter(items, func(item model.Email, _ int) bool {
		return Matches(item, keywords)
	})
}
