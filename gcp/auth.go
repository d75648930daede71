package gcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"car-listings-toolkit/utils"
)

// ErrMissingCredentials is returned when the credentials file does not exist.
var ErrMissingCredentials = errors.New("credentials file not found")

// Scopes needed by the uploader and the HDR workflow.
var (
	DriveScopes = []string{drive.DriveScope}
	SheetScopes = []string{sheets.SpreadsheetsScope, drive.DriveReadonlyScope}
)

// AuthConfig selects how the Google clients authenticate.
type AuthConfig struct {
	// ServiceAccountFile wins when set.
	ServiceAccountFile string
	// OAuthCredentialsFile is the installed-app client secret (credentials.json).
	OAuthCredentialsFile string
	// TokenFile caches the user token between runs (token.json).
	TokenFile string
	Scopes    []string
	// Prompt reads the authorization code during the first OAuth run.
	Prompt io.Reader
	Logger *utils.Logger
}

// ClientOptions returns the option set for drive.NewService / sheets.NewService.
func ClientOptions(ctx context.Context, cfg AuthConfig) ([]option.ClientOption, error) {
	if cfg.ServiceAccountFile != "" {
		if _, err := os.Stat(cfg.ServiceAccountFile); err != nil {
			return nil, fmt.Errorf("gcp: service account %q: %w", cfg.ServiceAccountFile, ErrMissingCredentials)
		}
		return []option.ClientOption{
			option.WithCredentialsFile(cfg.ServiceAccountFile),
			option.WithScopes(cfg.Scopes...),
		}, nil
	}

	ts, err := OAuthTokenSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return []option.ClientOption{option.WithTokenSource(ts)}, nil
}

// OAuthTokenSource runs the installed-app flow on first use and caches the
// token in cfg.TokenFile. Refreshed tokens are written back to the cache.
func OAuthTokenSource(ctx context.Context, cfg AuthConfig) (oauth2.TokenSource, error) {
	secret, err := os.ReadFile(cfg.OAuthCredentialsFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("gcp: oauth client %q: %w", cfg.OAuthCredentialsFile, ErrMissingCredentials)
		}
		return nil, fmt.Errorf("gcp: read oauth client: %w", err)
	}

	conf, err := google.ConfigFromJSON(secret, cfg.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("gcp: parse oauth client: %w", err)
	}

	tok, err := LoadToken(cfg.TokenFile)
	if err != nil {
		if cfg.Logger != nil {
			cfg.Logger.Info("[auth] No cached token (%v), starting authorization flow", err)
		}
		tok, err = authorize(ctx, conf, cfg.Prompt)
		if err != nil {
			return nil, err
		}
		if err := SaveToken(cfg.TokenFile, tok); err != nil {
			return nil, err
		}
	}

	return &cachingTokenSource{
		base:   conf.TokenSource(ctx, tok),
		path:   cfg.TokenFile,
		last:   tok.AccessToken,
		logger: cfg.Logger,
	}, nil
}

func authorize(ctx context.Context, conf *oauth2.Config, prompt io.Reader) (*oauth2.Token, error) {
	if prompt == nil {
		prompt = os.Stdin
	}
	url := conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Open the following URL in a browser and paste the authorization code:\n%s\n> ", url)

	code, err := bufio.NewReader(prompt).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("gcp: read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("gcp: empty authorization code")
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("gcp: exchange authorization code: %w", err)
	}
	return tok, nil
}

// LoadToken reads a cached OAuth token.
func LoadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("gcp: decode token %q: %w", path, err)
	}
	return tok, nil
}

// SaveToken writes the token cache with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("gcp: save token %q: %w", path, err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("gcp: encode token: %w", err)
	}
	return nil
}

// cachingTokenSource persists a token whenever the underlying source refreshes it.
type cachingTokenSource struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	path   string
	last   string
	logger *utils.Logger
}

func (c *cachingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := c.base.Token()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if tok.AccessToken != c.last {
		c.last = tok.AccessToken
		if err := SaveToken(c.path, tok); err != nil && c.logger != nil {
			c.logger.Warn("[auth] Could not update token cache: %v", err)
		}
	}
	return tok, nil
}
