// Package auth acquires Microsoft identity tokens for the MS365 store.
package auth

import (
	"context"
	"time"
)

const (
	// DefaultClientID is the public client registration used when none is configured.
	DefaultClientID = "d7b530a4-7680-4c23-a8bf-c52c121d2e87"

	// DefaultAuthority is the multi-tenant authority.
	DefaultAuthority = "https://login.microsoftonline.com/common"
)

// Token is an access token and its expiry.
type Token struct {
	AccessToken string
	ExpiresOn   time.Time
	AccountID   string
}

// Valid reports whether the token is usable for at least another margin.
func (t *Token) Valid(now time.Time, margin time.Duration) bool {
	return t != nil && t.AccessToken != "" && now.Add(margin).Before(t.ExpiresOn)
}

// TokenProvider can acquire access tokens.
type TokenProvider interface {
	GetToken(ctx context.Context) (*Token, error)
	Close() error
}

// StaticToken is a TokenProvider returning a fixed token. It is meant for
// pre-provisioned tokens and tests.
type StaticToken string

// GetToken returns the fixed token.
func (s StaticToken) GetToken(context.Context) (*Token, error) {
	return &Token{AccessToken: string(s), ExpiresOn: time.Now().Add(time.Hour)}, nil
}

// Close is a no-op.
func (StaticToken) Close() error { return nil }
