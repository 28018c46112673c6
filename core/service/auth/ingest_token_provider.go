// Package auth owns the OAuth credential lifecycle for the mailbox's
// service identity: silent refresh against the cached credential and an
// interactive device-code bootstrap when the refresh token is gone.
package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"ingest_server/pkg/apperr"
	"ingest_server/pkg/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// expirySkew treats tokens about to expire as already expired so a
// token never dies mid-run.
const expirySkew = 2 * time.Minute

// Credential is the on-disk cache record. The file is secret material,
// equivalent in sensitivity to a password.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
	Account      string    `json:"account"`
}

func (c *Credential) valid() bool {
	return c != nil && c.AccessToken != "" && time.Now().Add(expirySkew).Before(c.Expiry)
}

// Options configures a TokenProvider.
type Options struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	Scopes       []string
	CachePath    string
	Account      string
	// DeviceAuthTimeout bounds the interactive wait for a user to
	// complete device-code authorization.
	DeviceAuthTimeout time.Duration
	// Notify surfaces the verification URI and user code to an
	// operator when the device-code flow starts.
	Notify func(verificationURI, userCode string)
	// Endpoint overrides the Azure AD endpoint, used by tests.
	Endpoint *oauth2.Endpoint
}

// TokenProvider implements out.TokenProvider. At most one acquisition
// is in flight per provider: a second caller during an interactive flow
// waits on the first instead of triggering a duplicate device-code
// request.
type TokenProvider struct {
	cfg           *oauth2.Config
	cachePath     string
	account       string
	deviceTimeout time.Duration
	notify        func(verificationURI, userCode string)
	log           *logger.Logger

	mu     sync.Mutex
	cached *Credential
}

// NewTokenProvider creates a TokenProvider. The cache file is loaded
// lazily on first acquisition.
func NewTokenProvider(opts Options) *TokenProvider {
	endpoint := microsoft.AzureADEndpoint(opts.TenantID)
	if opts.Endpoint != nil {
		endpoint = *opts.Endpoint
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{
			"https://graph.microsoft.com/Mail.Read",
			"https://graph.microsoft.com/User.Read",
			"offline_access",
		}
	}

	deviceTimeout := opts.DeviceAuthTimeout
	if deviceTimeout <= 0 {
		deviceTimeout = 15 * time.Minute
	}

	return &TokenProvider{
		cfg: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		cachePath:     opts.CachePath,
		account:       opts.Account,
		deviceTimeout: deviceTimeout,
		notify:        opts.Notify,
		log:           logger.WithField("component", "token_provider"),
	}
}

// AccessToken returns a valid access token, acquiring or refreshing as
// needed. Failure is terminal for the current ingestion run but not
// fatal to the process.
func (p *TokenProvider) AccessToken(ctx context.Context) (string, error) {
	cred, err := p.Acquire(ctx)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// Acquire returns the cached credential when still valid, otherwise
// refreshes silently, otherwise falls back to the device-code flow.
func (p *TokenProvider) Acquire(ctx context.Context) (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached == nil {
		p.cached = p.loadCache()
	}
	if p.cached.valid() {
		return p.cached, nil
	}

	if p.cached.RefreshToken != "" {
		cred, err := p.refresh(ctx, p.cached.RefreshToken)
		if err == nil {
			return cred, nil
		}
		p.log.Warn("silent refresh failed, falling back to device code flow: %v", err)
	}

	return p.deviceFlow(ctx)
}

func (p *TokenProvider) refresh(ctx context.Context, refreshToken string) (*Credential, error) {
	src := p.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, apperr.AuthFailed("refresh token grant failed", err)
	}
	return p.store(tok)
}

func (p *TokenProvider) deviceFlow(ctx context.Context) (*Credential, error) {
	resp, err := p.cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, apperr.AuthFailed("device code request failed", err)
	}

	if p.notify != nil {
		p.notify(resp.VerificationURI, resp.UserCode)
	}
	p.log.Info("device code flow started: visit %s and enter code %s", resp.VerificationURI, resp.UserCode)

	// Bounded wait: the flow is abandoned when the operator does not
	// complete authorization in time.
	waitCtx, cancel := context.WithTimeout(ctx, p.deviceTimeout)
	defer cancel()

	tok, err := p.cfg.DeviceAccessToken(waitCtx, resp)
	if err != nil {
		return nil, apperr.AuthFailed("device code authorization not completed", err)
	}
	return p.store(tok)
}

// store persists the credential to the cache before returning it.
func (p *TokenProvider) store(tok *oauth2.Token) (*Credential, error) {
	cred := &Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Account:      p.account,
	}
	// A rotated refresh token may be omitted from the response; keep
	// the previous one in that case.
	if cred.RefreshToken == "" && p.cached != nil {
		cred.RefreshToken = p.cached.RefreshToken
	}

	if err := p.saveCache(cred); err != nil {
		return nil, apperr.AuthFailed("failed to persist token cache", err)
	}
	p.cached = cred
	return cred, nil
}

// CacheInfo reports cache presence without exposing token values.
func (p *TokenProvider) CacheInfo() (account string, expiry time.Time, exists bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached == nil {
		p.cached = p.loadCache()
	}
	if p.cached.AccessToken == "" && p.cached.RefreshToken == "" {
		return "", time.Time{}, false
	}
	return p.cached.Account, p.cached.Expiry, true
}

// ClearCache drops the cached credential; the next acquisition will
// require device-code authorization.
func (p *TokenProvider) ClearCache() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cached = &Credential{}
	if err := os.Remove(p.cachePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (p *TokenProvider) loadCache() *Credential {
	data, err := os.ReadFile(p.cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.Warn("failed to read token cache: %v", err)
		}
		return &Credential{}
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		p.log.Warn("token cache is corrupt, ignoring: %v", err)
		return &Credential{}
	}
	return &cred
}

// saveCache writes the cache atomically (write-temp-then-rename) so a
// crash mid-write cannot corrupt a previously valid cache.
func (p *TokenProvider) saveCache(cred *Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p.cachePath)
	tmp, err := os.CreateTemp(dir, ".token_cache-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, p.cachePath); err != nil {
		return fmt.Errorf("rename token cache: %w", err)
	}
	return nil
}
