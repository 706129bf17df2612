package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
)

// DeviceCodeAuth provides authentication via the OAuth device code flow.
// Tokens are cached on disk so the flow only runs once per account.
type DeviceCodeAuth struct {
	client public.Client
	scopes []string
	prompt io.Writer

	mu          sync.Mutex
	cachedToken *Token
	account     public.Account
}

// DeviceCodeOption configures a DeviceCodeAuth.
type DeviceCodeOption func(*deviceCodeConfig)

type deviceCodeConfig struct {
	clientID  string
	authority string
	cacheFile string
	prompt    io.Writer
}

// WithClientID overrides DefaultClientID.
func WithClientID(id string) DeviceCodeOption {
	return func(c *deviceCodeConfig) {
		if id != "" {
			c.clientID = id
		}
	}
}

// WithTenant restricts sign-in to one tenant.
func WithTenant(tenant string) DeviceCodeOption {
	return func(c *deviceCodeConfig) {
		if tenant != "" {
			c.authority = "https://login.microsoftonline.com/" + tenant
		}
	}
}

// WithCacheFile sets the MSAL token cache location. An empty path
// disables on-disk caching.
func WithCacheFile(path string) DeviceCodeOption {
	return func(c *deviceCodeConfig) { c.cacheFile = path }
}

// WithPrompt sets where sign-in instructions are written (stderr by default).
func WithPrompt(w io.Writer) DeviceCodeOption {
	return func(c *deviceCodeConfig) { c.prompt = w }
}

// NewDeviceCodeAuth creates a new device code auth client.
func NewDeviceCodeAuth(scopes []string, opts ...DeviceCodeOption) (*DeviceCodeAuth, error) {
	cfg := deviceCodeConfig{
		clientID:  DefaultClientID,
		authority: DefaultAuthority,
		prompt:    os.Stderr,
	}
	if path, err := getCacheFilePath(); err != nil {
		slog.Warn("could not determine cache file path", "error", err)
	} else {
		cfg.cacheFile = path
	}
	for _, o := range opts {
		o(&cfg)
	}

	popts := []public.Option{public.WithAuthority(cfg.authority)}
	if cfg.cacheFile != "" {
		popts = append(popts, public.WithCache(&tokenCacheAccessor{path: cfg.cacheFile}))
	}

	client, err := public.New(cfg.clientID, popts...)
	if err != nil {
		return nil, fmt.Errorf("create MSAL client: %w", err)
	}

	return &DeviceCodeAuth{
		client: client,
		scopes: scopes,
		prompt: cfg.prompt,
	}, nil
}

// GetToken acquires an access token, using cached token if valid.
func (d *DeviceCodeAuth) GetToken(ctx context.Context) (*Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cachedToken.Valid(time.Now(), 5*time.Minute) {
		return d.cachedToken, nil
	}

	accounts, err := d.client.Accounts(ctx)
	if err != nil {
		slog.Debug("could not get cached accounts", "error", err)
	}

	for _, acct := range accounts {
		result, err := d.client.AcquireTokenSilent(ctx, d.scopes, public.WithSilentAccount(acct))
		if err == nil {
			d.account = acct
			d.cachedToken = &Token{
				AccessToken: result.AccessToken,
				ExpiresOn:   result.ExpiresOn,
				AccountID:   acct.HomeAccountID,
			}
			return d.cachedToken, nil
		}
		slog.Debug("silent auth failed for account", "account", acct.PreferredUsername, "error", err)
	}

	slog.Info("no cached credentials, starting device code flow")
	token, err := d.acquireTokenWithDeviceCode(ctx)
	if err != nil {
		return nil, err
	}

	d.cachedToken = token
	return token, nil
}

// acquireTokenWithDeviceCode performs the device code flow.
func (d *DeviceCodeAuth) acquireTokenWithDeviceCode(ctx context.Context) (*Token, error) {
	dc, err := d.client.AcquireTokenByDeviceCode(ctx, d.scopes)
	if err != nil {
		return nil, fmt.Errorf("start device code flow: %w", err)
	}

	fmt.Fprintf(d.prompt, "\n"+
		"To sign in, use a web browser to open the page %s\n"+
		"and enter the code %s to authenticate.\n\n",
		dc.Result.VerificationURL,
		dc.Result.UserCode)

	result, err := dc.AuthenticationResult(ctx)
	if err != nil {
		return nil, fmt.Errorf("device code auth: %w", err)
	}

	accounts, _ := d.client.Accounts(ctx)
	for _, acct := range accounts {
		if acct.HomeAccountID == result.Account.HomeAccountID {
			d.account = acct
			break
		}
	}

	return &Token{
		AccessToken: result.AccessToken,
		ExpiresOn:   result.ExpiresOn,
		AccountID:   result.Account.HomeAccountID,
	}, nil
}

// Close is a no-op for device code auth.
func (d *DeviceCodeAuth) Close() error {
	return nil
}

// tokenCacheAccessor implements cache.ExportReplace for MSAL token caching.
type tokenCacheAccessor struct {
	path string
}

func (t *tokenCacheAccessor) Replace(ctx context.Context, cache cache.Unmarshaler, hints cache.ReplaceHints) error {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return cache.Unmarshal(data)
}

func (t *tokenCacheAccessor) Export(ctx context.Context, cache cache.Marshaler, hints cache.ExportHints) error {
	data, err := cache.Marshal()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(t.path, data, 0o600)
}

// getCacheFilePath returns the path for the token cache file.
func getCacheFilePath() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "fieldgrid", "msal_token_cache.json"), nil
}

var _ TokenProvider = (*DeviceCodeAuth)(nil)
