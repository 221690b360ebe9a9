// Package auth obtains and refreshes Google credentials for the
// spreadsheet API.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/kimhsiao/possync/internal/crypto"
	"github.com/kimhsiao/possync/internal/db"
	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/logging"
	"github.com/kimhsiao/possync/internal/models"
	"github.com/kimhsiao/possync/internal/uuid"
)

// Provider authenticates and supplies tokens to the Sheets client.
type Provider interface {
	// Authenticate makes sure a valid token is available.
	Authenticate(ctx context.Context) error
	TokenSource() oauth2.TokenSource
}

// TokenID is the settings document holding the sealed OAuth token.
const TokenID = "google_token"

// TokenStore persists the OAuth token sealed in the settings collection.
type TokenStore struct {
	store  db.LocalStore
	sealer *crypto.Sealer
}

// NewTokenStore creates a TokenStore.
func NewTokenStore(store db.LocalStore, sealer *crypto.Sealer) *TokenStore {
	return &TokenStore{store: store, sealer: sealer}
}

// Load returns the stored token, or nil when none was saved.
func (s *TokenStore) Load(ctx context.Context) (*oauth2.Token, error) {
	rec, err := s.store.Get(ctx, models.CollectionSettings, TokenID)
	if err != nil || rec == nil {
		return nil, err
	}
	plain, err := s.sealer.Open(rec.String("sealed"))
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(plain, &tok); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCryptoFailed, "malformed stored token", err)
	}
	return &tok, nil
}

// Save seals and stores tok.
func (s *TokenStore) Save(ctx context.Context, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode token", err)
	}
	sealed, err := s.sealer.Seal(data)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, models.CollectionSettings, models.Record{"id": TokenID, "sealed": sealed})
}

// Clear removes the stored token.
func (s *TokenStore) Clear(ctx context.Context) error {
	return s.store.Delete(ctx, models.CollectionSettings, TokenID)
}

// Prompter shows the consent URL to the user and returns the authorization code.
type Prompter func(ctx context.Context, authURL string) (string, error)

// OAuth is the interactive installed-app flow.
type OAuth struct {
	cfg    *oauth2.Config
	tokens *TokenStore
	prompt Prompter

	mu     sync.Mutex
	source oauth2.TokenSource
}

var _ Provider = (*OAuth)(nil)

// NewOAuth creates the OAuth flow. prompt may be nil for non-interactive
// processes; Authenticate then fails when no token is stored.
func NewOAuth(clientID, clientSecret, redirectURL string, tokens *TokenStore, prompt Prompter) *OAuth {
	if redirectURL == "" {
		redirectURL = "urn:ietf:wg:oauth:2.0:oob"
	}
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{gsheets.SpreadsheetsScope},
			Endpoint:     google.Endpoint,
		},
		tokens: tokens,
		prompt: prompt,
	}
}

// Authenticate loads the stored token, refreshing it if expired. Without a
// stored token the interactive login runs when a prompter is set.
func (a *OAuth) Authenticate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tok, err := a.tokens.Load(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncAuthFailed, "failed to load stored token", err)
	}
	if tok == nil {
		if a.prompt == nil {
			return apperrors.New(apperrors.ErrSyncAuthFailed, "not signed in; run `possync auth` first")
		}
		if tok, err = a.login(ctx); err != nil {
			return err
		}
	}

	src := &persistingSource{
		base:   a.cfg.TokenSource(context.Background(), tok),
		tokens: a.tokens,
		last:   tok.AccessToken,
	}
	if _, err := src.Token(); err != nil {
		return apperrors.Wrap(apperrors.ErrSyncAuthFailed, "failed to refresh token", err)
	}
	a.source = oauth2.ReuseTokenSource(nil, src)
	return nil
}

// Login forces the interactive consent flow and stores the new token.
func (a *OAuth) Login(ctx context.Context) error {
	if a.prompt == nil {
		return apperrors.New(apperrors.ErrSyncAuthFailed, "interactive login unavailable")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.source = nil
	_, err := a.login(ctx)
	return err
}

func (a *OAuth) login(ctx context.Context) (*oauth2.Token, error) {
	url := a.cfg.AuthCodeURL(uuid.New(), oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	code, err := a.prompt(ctx, url)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSyncAuthFailed, "authorization cancelled", err)
	}

	tok, err := a.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSyncAuthFailed, "failed to exchange authorization code", err)
	}
	if err := a.tokens.Save(ctx, tok); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSyncAuthFailed, "failed to store token", err)
	}
	logging.Info("Signed in to Google")
	return tok, nil
}

// TokenSource returns the authenticated source, or nil before Authenticate.
func (a *OAuth) TokenSource() oauth2.TokenSource {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.source == nil {
		return nil
	}
	return lazySource{a}
}

// lazySource resolves the current source on every call so a later
// Authenticate or Login is picked up by existing clients.
type lazySource struct{ a *OAuth }

func (s lazySource) Token() (*oauth2.Token, error) {
	s.a.mu.Lock()
	src := s.a.source
	s.a.mu.Unlock()
	if src == nil {
		return nil, fmt.Errorf("not authenticated")
	}
	return src.Token()
}

// persistingSource stores refreshed tokens.
type persistingSource struct {
	base   oauth2.TokenSource
	tokens *TokenStore

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.tokens.Save(context.Background(), tok); err != nil {
			logging.WarnErr("Failed to persist refreshed token", err)
		}
	}
	return tok, nil
}

// ServiceAccount authenticates with a service account key.
type ServiceAccount struct {
	source oauth2.TokenSource
}

var _ Provider = (*ServiceAccount)(nil)

// NewServiceAccount parses a JSON service account key.
func NewServiceAccount(jsonKey []byte) (*ServiceAccount, error) {
	cfg, err := google.JWTConfigFromJSON(jsonKey, gsheets.SpreadsheetsScope)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSyncAuthFailed, "invalid service account key", err)
	}
	return &ServiceAccount{source: oauth2.ReuseTokenSource(nil, cfg.TokenSource(context.Background()))}, nil
}

// Authenticate fetches a token to verify the key works.
func (s *ServiceAccount) Authenticate(ctx context.Context) error {
	if _, err := s.source.Token(); err != nil {
		return apperrors.Wrap(apperrors.ErrSyncAuthFailed, "service account token request failed", err)
	}
	return nil
}

// TokenSource returns the service account token source.
func (s *ServiceAccount) TokenSource() oauth2.TokenSource {
	return s.source
}
