package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// googleEndpoint is the OAuth2 endpoint pair for the YouTube Data API.
var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// youtubeReadonlyScope covers search and statistics reads.
const youtubeReadonlyScope = "https://www.googleapis.com/auth/youtube.readonly"

// TokenStore persists a single OAuth token record across runs.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(*oauth2.Token) error
}

// FileTokenStore stores the token as JSON in a local file.
type FileTokenStore struct {
	Path string
}

func (s *FileTokenStore) Load() (*oauth2.Token, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token file %s: %w", s.Path, err)
	}
	return &tok, nil
}

func (s *FileTokenStore) Save(tok *oauth2.Token) error {
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	return os.WriteFile(s.Path, data, 0o600)
}

// GrantPrompter runs the interactive consent exchange: it shows the consent
// URL to the operator and returns the authorization code they paste back.
type GrantPrompter func(authURL string) (string, error)

// StdinPrompter returns a GrantPrompter that prints the consent URL to w
// and reads the authorization code from r.
func StdinPrompter(r io.Reader, w io.Writer) GrantPrompter {
	return func(authURL string) (string, error) {
		fmt.Fprintf(w, "Open the following URL in a browser and authorize access:\n\n  %s\n\nEnter the authorization code: ", authURL)
		scanner := bufio.NewScanner(r)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", errors.New("no authorization code entered")
		}
		code := strings.TrimSpace(scanner.Text())
		if code == "" {
			return "", errors.New("empty authorization code")
		}
		return code, nil
	}
}

// CredentialProvider owns the OAuth token lifecycle: load, refresh, persist,
// and the initial interactive grant. It is the only writer of the token
// store.
type CredentialProvider struct {
	oauth   *oauth2.Config
	store   TokenStore
	prompt  GrantPrompter
	current *oauth2.Token
}

// NewCredentialProvider validates the client identity and builds the
// provider. A missing client ID or secret is a configuration error,
// reported before any network activity.
func NewCredentialProvider(clientID, clientSecret string, store TokenStore, prompt GrantPrompter) (*CredentialProvider, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("missing OAuth client identity: set YOUTUBE_CLIENT_ID and YOUTUBE_CLIENT_SECRET")
	}
	return &CredentialProvider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     googleEndpoint,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{youtubeReadonlyScope},
		},
		store:  store,
		prompt: prompt,
	}, nil
}

// Obtain returns a valid token. A persisted unexpired token is returned
// without any network call. An expired token with a refresh token is
// refreshed and persisted. Otherwise the interactive grant flow runs.
// A failed refresh discards the token and falls back to the grant flow once.
func (p *CredentialProvider) Obtain(ctx context.Context) (*oauth2.Token, error) {
	if p.current == nil {
		tok, err := p.store.Load()
		switch {
		case err == nil:
			p.current = tok
		case !errors.Is(err, fs.ErrNotExist):
			slog.Warn("token store unreadable, starting fresh", slog.Any("error", err))
		}
	}
	if p.current != nil {
		if p.current.Valid() {
			return p.current, nil
		}
		if p.current.RefreshToken != "" {
			tok, err := p.refresh(ctx)
			if err == nil {
				return tok, nil
			}
			slog.Warn("token refresh failed, falling back to interactive grant", slog.Any("error", err))
			p.current = nil
		}
	}
	return p.grant(ctx)
}

// ForceRefresh discards the current access token and refreshes it. Used
// after the API rejects a token that still looked valid locally. If the
// refresh fails, the token is destroyed and the grant flow runs once.
func (p *CredentialProvider) ForceRefresh(ctx context.Context) (*oauth2.Token, error) {
	if p.current != nil && p.current.RefreshToken != "" {
		// Expire the access token so TokenSource hits the token endpoint.
		p.current.Expiry = time.Now().Add(-time.Minute)
		tok, err := p.refresh(ctx)
		if err == nil {
			return tok, nil
		}
		slog.Warn("forced refresh failed, falling back to interactive grant", slog.Any("error", err))
	}
	p.current = nil
	return p.grant(ctx)
}

func (p *CredentialProvider) refresh(ctx context.Context) (*oauth2.Token, error) {
	tok, err := p.oauth.TokenSource(p.httpContext(ctx), p.current).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	p.persist(tok)
	slog.Info("credential refreshed", slog.Time("expiry", tok.Expiry))
	return tok, nil
}

func (p *CredentialProvider) grant(ctx context.Context) (*oauth2.Token, error) {
	authURL := p.oauth.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	code, err := p.prompt(authURL)
	if err != nil {
		return nil, fmt.Errorf("authorization grant: %w", err)
	}
	tok, err := p.oauth.Exchange(p.httpContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	p.persist(tok)
	slog.Info("credential granted", slog.Time("expiry", tok.Expiry))
	return tok, nil
}

// persist stores the token in memory and overwrites the token store.
// A store write failure is not fatal: the run continues on the in-memory
// token and the next run re-grants.
func (p *CredentialProvider) persist(tok *oauth2.Token) {
	p.current = tok
	if err := p.store.Save(tok); err != nil {
		slog.Warn("persist token failed", slog.Any("error", err))
	}
}

// httpContext routes oauth2's own HTTP calls through the engine client.
func (p *CredentialProvider) httpContext(ctx context.Context) context.Context {
	if Cfg.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, Cfg.HTTPClient)
}
