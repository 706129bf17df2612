package auth

import (
	"context"
	"testing"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
)

func TestTokenValid(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		token *Token
		want  bool
	}{
		{"nil", nil, false},
		{"empty", &Token{ExpiresOn: now.Add(time.Hour)}, false},
		{"fresh", &Token{AccessToken: "x", ExpiresOn: now.Add(time.Hour)}, true},
		{"inside margin", &Token{AccessToken: "x", ExpiresOn: now.Add(time.Minute)}, false},
		{"expired", &Token{AccessToken: "x", ExpiresOn: now.Add(-time.Minute)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.token.Valid(now, 5*time.Minute); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("abc").GetToken(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "abc" || !tok.Valid(time.Now(), time.Minute) {
		t.Errorf("token = %+v", tok)
	}
}

func TestTokenCacheAccessorMissingFile(t *testing.T) {
	acc := &tokenCacheAccessor{path: t.TempDir() + "/missing.json"}
	if err := acc.Replace(context.Background(), nil, cache.ReplaceHints{}); err != nil {
		t.Errorf("Replace() on a missing file = %v, want nil", err)
	}
}
