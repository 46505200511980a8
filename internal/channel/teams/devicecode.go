package teams

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// loginBase is the Microsoft identity platform endpoint.
const loginBase = "https://login.microsoftonline.com"

// DeviceTokens is a channel.TokenSource backed by the OAuth device code
// flow. Tokens are cached on disk so the daemon survives restarts
// without a fresh sign-in; Refresh uses the refresh token grant and
// falls back to a full device flow when the refresh token has expired.
type DeviceTokens struct {
	tenantID  string
	clientID  string
	scope     string
	cachePath string
	loginURL  string

	httpClient *http.Client

	mu      sync.Mutex
	access  string
	refresh string
	expires time.Time
}

// tokenCache is the on-disk token representation.
type tokenCache struct {
	Access  string    `json:"access_token"`
	Refresh string    `json:"refresh_token"`
	Expires time.Time `json:"expires_at"`
}

// NewDeviceTokens creates a token source for the given Azure AD app.
// cachePath may be empty to disable persistence.
func NewDeviceTokens(tenantID, clientID, scope, cachePath string) *DeviceTokens {
	if scope == "" {
		scope = "Chat.ReadWrite offline_access"
	}
	d := &DeviceTokens{
		tenantID:  tenantID,
		clientID:  clientID,
		scope:     scope,
		cachePath: cachePath,
		loginURL:  loginBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	d.loadCache()
	return d
}

// Token returns a valid access token, running the device flow on first
// use and refreshing silently when the cached token is near expiry.
func (d *DeviceTokens) Token(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// 5 minute buffer before expiry
	if d.access != "" && time.Until(d.expires) > 5*time.Minute {
		return d.access, nil
	}
	return d.renewLocked(ctx)
}

// Refresh discards the current access token and acquires a new one.
func (d *DeviceTokens) Refresh(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.access = ""
	return d.renewLocked(ctx)
}

// renewLocked tries the refresh token grant first, then the full device
// flow. Caller holds d.mu.
func (d *DeviceTokens) renewLocked(ctx context.Context) (string, error) {
	if d.refresh != "" {
		err := d.refreshGrant(ctx)
		if err == nil {
			return d.access, nil
		}
		slog.Warn("token refresh failed, falling back to device flow", "error", err)
	}
	if err := d.deviceFlow(ctx); err != nil {
		return "", err
	}
	return d.access, nil
}

// refreshGrant exchanges the refresh token for a new access token.
func (d *DeviceTokens) refreshGrant(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {d.refresh},
		"client_id":     {d.clientID},
		"scope":         {d.scope},
	}
	return d.tokenRequest(ctx, form)
}

// deviceFlow runs the full device code flow: request a user code, print
// the sign-in instructions, and poll until the user completes sign-in.
func (d *DeviceTokens) deviceFlow(ctx context.Context) error {
	form := url.Values{
		"client_id": {d.clientID},
		"scope":     {d.scope},
	}
	resp, err := d.httpClient.PostForm(
		fmt.Sprintf("%s/%s/oauth2/v2.0/devicecode", d.loginURL, d.tenantID), form)
	if err != nil {
		return fmt.Errorf("request device code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("device code request HTTP %d: %s", resp.StatusCode, string(body))
	}

	var dc struct {
		DeviceCode string `json:"device_code"`
		UserCode   string `json:"user_code"`
		VerifyURI  string `json:"verification_uri"`
		ExpiresIn  int    `json:"expires_in"`
		Interval   int    `json:"interval"`
		Message    string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&dc); err != nil {
		return fmt.Errorf("parse device code response: %w", err)
	}

	// The operator has to act on this, so it goes to stderr as well as the log
	fmt.Fprintln(os.Stderr, dc.Message)
	slog.Info("device sign-in required", "uri", dc.VerifyURI, "code", dc.UserCode)

	interval := time.Duration(dc.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(dc.ExpiresIn) * time.Second)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		form := url.Values{
			"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
			"device_code": {dc.DeviceCode},
			"client_id":   {d.clientID},
		}
		err := d.tokenRequest(ctx, form)
		if err == nil {
			slog.Info("device sign-in complete")
			return nil
		}
		if strings.Contains(err.Error(), "authorization_pending") {
			continue
		}
		if strings.Contains(err.Error(), "slow_down") {
			interval += 5 * time.Second
			continue
		}
		return err
	}
	return fmt.Errorf("device sign-in timed out after %ds", dc.ExpiresIn)
}

// tokenRequest posts to the token endpoint and stores the result.
func (d *DeviceTokens) tokenRequest(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/oauth2/v2.0/token", d.loginURL, d.tenantID),
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		var oauthErr struct {
			Error string `json:"error"`
		}
		json.Unmarshal(body, &oauthErr)
		if oauthErr.Error != "" {
			return fmt.Errorf("token endpoint: %s", oauthErr.Error)
		}
		return fmt.Errorf("token endpoint HTTP %d: %s", resp.StatusCode, string(body))
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return fmt.Errorf("parse token response: %w", err)
	}

	d.access = tok.AccessToken
	if tok.RefreshToken != "" {
		d.refresh = tok.RefreshToken
	}
	d.expires = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	d.saveCache()
	return nil
}

// loadCache restores tokens from disk. Missing or unreadable caches are
// ignored; the device flow runs on first Token call instead.
func (d *DeviceTokens) loadCache() {
	if d.cachePath == "" {
		return
	}
	data, err := os.ReadFile(d.cachePath)
	if err != nil {
		return
	}
	var c tokenCache
	if err := json.Unmarshal(data, &c); err != nil {
		slog.Warn("ignoring corrupt token cache", "path", d.cachePath, "error", err)
		return
	}
	d.access = c.Access
	d.refresh = c.Refresh
	d.expires = c.Expires
}

// saveCache persists tokens to disk. Caller holds d.mu.
func (d *DeviceTokens) saveCache() {
	if d.cachePath == "" {
		return
	}
	data, err := json.MarshalIndent(tokenCache{
		Access:  d.access,
		Refresh: d.refresh,
		Expires: d.expires,
	}, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(d.cachePath, data, 0o600); err != nil {
		slog.Warn("failed to save token cache", "path", d.cachePath, "error", err)
	}
}
