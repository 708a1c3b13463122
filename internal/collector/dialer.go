package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loganintech/go-reddit/v2/reddit"
	"github.com/qepting91/redditbot/internal/domain"
	"golang.org/x/oauth2"
)

const redditTokenURL = "https://www.reddit.com/api/v1/access_token"

// APIDialer authenticates script apps with the password grant. The grant
// tells us the token scopes and expiry; the session itself is a go-reddit
// client which manages its own token.
type APIDialer struct {
	TokenURL string
	Timeout  time.Duration
	// passed to every go-reddit client, mostly for tests
	Opts []reddit.Opt
}

func NewAPIDialer() *APIDialer {
	return &APIDialer{TokenURL: redditTokenURL, Timeout: 30 * time.Second}
}

func (d *APIDialer) Dial(ctx context.Context, creds domain.Credentials) (domain.Session, domain.Grant, error) {
	grant, err := d.Refresh(ctx, creds)
	if err != nil {
		return nil, domain.Grant{}, err
	}
	client, err := NewAPIClient(creds, d.Opts...)
	if err != nil {
		return nil, domain.Grant{}, fmt.Errorf("create reddit client: %w", err)
	}
	return client, grant, nil
}

// Refresh runs the token grant again. Script apps get no refresh token,
// so renewing means re-authenticating.
func (d *APIDialer) Refresh(ctx context.Context, creds domain.Credentials) (domain.Grant, error) {
	if creds.ClientID == "" || creds.Username == "" {
		return domain.Grant{}, errors.New("client id and username are required")
	}

	cfg := oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  d.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	hc := &http.Client{
		Timeout:   d.Timeout,
		Transport: &userAgentTransport{userAgent: creds.UserAgent, base: http.DefaultTransport},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)

	tok, err := cfg.PasswordCredentialsToken(ctx, creds.Username, creds.Password)
	if err != nil {
		return domain.Grant{}, translate(fmt.Errorf("token grant: %w", err), time.Time{})
	}

	var scopes []string
	if s, ok := tok.Extra("scope").(string); ok {
		scopes = strings.Fields(s)
	}
	return domain.Grant{Scopes: scopes, Expiry: tok.Expiry}, nil
}

type userAgentTransport struct {
	userAgent string
	base      http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}
