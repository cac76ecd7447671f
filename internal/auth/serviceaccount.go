// Package auth exchanges service-account key files for Indexing API bearer tokens.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

// IndexingScope is the OAuth scope required by the Indexing API.
const IndexingScope = "https://www.googleapis.com/auth/indexing"

// DefaultTimeout bounds a token exchange when no HTTPClient is supplied.
const DefaultTimeout = 30 * time.Second

// Config controls the token exchange.
type Config struct {
	Scope string
	// TokenURL overrides the key file's token_uri when set.
	TokenURL string
	// Timeout bounds each token exchange. Ignored when HTTPClient is set.
	Timeout time.Duration
	// HTTPClient is used for the token exchange. Defaults to a client with Timeout.
	HTTPClient *http.Client
}

// ServiceAccount implements indexer.Authenticator with the JWT-bearer grant.
// Token sources are cached per credential so the quota check and the
// submission that follows share one exchange while the token is valid.
type ServiceAccount struct {
	cfg      Config
	readFile func(string) ([]byte, error)
	logger   *zap.Logger

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewServiceAccount builds a ServiceAccount authenticator.
func NewServiceAccount(cfg Config, logger *zap.Logger) *ServiceAccount {
	if cfg.Scope == "" {
		cfg.Scope = IndexingScope
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceAccount{
		cfg:      cfg,
		readFile: os.ReadFile,
		logger:   logger.Named("auth"),
		sources:  make(map[string]oauth2.TokenSource),
	}
}

type tokenResult struct {
	tok *oauth2.Token
	err error
}

// Token returns a bearer token for cred, wrapping every failure in indexer.ErrAuth.
// It returns as soon as ctx is done; an exchange still in flight is bounded by
// the client timeout and its token is kept for the next call.
func (s *ServiceAccount) Token(ctx context.Context, cred indexer.Credential) (string, error) {
	src, err := s.source(ctx, cred)
	if err != nil {
		return "", err
	}
	done := make(chan tokenResult, 1)
	go func() {
		tok, err := src.Token()
		done <- tokenResult{tok: tok, err: err}
	}()

	var res tokenResult
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %s: %w", indexer.ErrAuth, cred.ID, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return "", fmt.Errorf("%w: %s: %w", indexer.ErrAuth, cred.ID, res.err)
	}
	tok := res.tok
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: %s: empty access token", indexer.ErrAuth, cred.ID)
	}
	return tok.AccessToken, nil
}

func (s *ServiceAccount) source(ctx context.Context, cred indexer.Credential) (oauth2.TokenSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.sources[cred.ID]; ok {
		return src, nil
	}

	data, err := s.readFile(cred.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: read key file for %s: %w", indexer.ErrAuth, cred.ID, err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(data, s.cfg.Scope)
	if err != nil {
		return nil, fmt.Errorf("%w: parse key file for %s: %w", indexer.ErrAuth, cred.ID, err)
	}
	if s.cfg.TokenURL != "" {
		jwtCfg.TokenURL = s.cfg.TokenURL
	}

	// The source outlives this call, so it keeps the context values but not its deadline.
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, s.cfg.HTTPClient)
	src := jwtCfg.TokenSource(tokenCtx)
	s.sources[cred.ID] = src
	s.logger.Debug("token source created",
		zap.String("credential", cred.ID),
		zap.String("client_email", jwtCfg.Email),
	)
	return src, nil
}
