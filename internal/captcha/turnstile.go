package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	appErr "github.com/xxxsen/mailshare/internal/pkg/errors"
)

const turnstileVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

func init() {
	Register("turnstile", func(args VerifierArgs) (Verifier, error) {
		if args.Secret == "" {
			return nil, fmt.Errorf("turnstile secret is required")
		}
		endpoint := args.VerifyURL
		if endpoint == "" {
			endpoint = turnstileVerifyURL
		}
		return &turnstileVerifier{secret: args.Secret, endpoint: endpoint, client: args.Client}, nil
	})
}

type turnstileVerifier struct {
	secret   string
	endpoint string
	client   *http.Client
}

type turnstileResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

func (v *turnstileVerifier) Name() string {
	return "turnstile"
}

func (v *turnstileVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return appErr.Upstreamf("build siteverify request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	resp, err := v.client.Do(req)
	if err != nil {
		return appErr.Upstreamf("siteverify: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return appErr.Upstreamf("siteverify: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var out turnstileResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return appErr.Upstreamf("decode siteverify: %v", err)
	}
	if !out.Success {
		return fmt.Errorf("%w: %s", appErr.ErrCaptchaFailed, strings.Join(out.ErrorCodes, ","))
	}
	return nil
}
