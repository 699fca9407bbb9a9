package captcha

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Verifier exchanges a client-side challenge token with the provider.
// A nil error means the provider accepted the token.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, token, remoteIP string) error
}

type VerifierArgs struct {
	Secret    string
	VerifyURL string
	Client    *http.Client
}

type VerifierFactory func(args VerifierArgs) (Verifier, error)

var registry = map[string]VerifierFactory{}

func Register(name string, factory VerifierFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewVerifier(name string, args VerifierArgs) (Verifier, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("captcha provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported captcha provider: %s", name)
	}
	if args.Client == nil {
		args.Client = &http.Client{Timeout: 5 * time.Second}
	}
	return factory(args)
}
