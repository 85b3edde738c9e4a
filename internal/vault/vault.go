// Package vault holds each user's OAuth credential pair and keeps the
// access token fresh. Token material is persisted only in encrypted form;
// decryption never leaves this package's boundary.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Failure taxonomy. Callers classify with errors.Is.
var (
	// ErrNoCredential means the user never connected a Drive account.
	ErrNoCredential = errors.New("vault: no credential stored")
	// ErrNeedsReconsent means the refresh token is invalid or revoked —
	// the user must re-authorize; retrying is pointless.
	ErrNeedsReconsent = errors.New("vault: refresh token rejected, re-authorization required")
	// ErrInsufficientScope means the credential lacks a required permission.
	ErrInsufficientScope = errors.New("vault: credential missing required scope")
	// ErrProviderUnavailable is a transient token-endpoint failure.
	ErrProviderUnavailable = errors.New("vault: token endpoint unavailable")
)

// refreshSkew is how close to expiry a token may get before it is refreshed.
const refreshSkew = 5 * time.Minute

// Token endpoint retry tuning.
const (
	refreshRetryBase = 500 * time.Millisecond
	refreshRetryMax  = 3
)

// Credential is a decrypted token pair. It exists only transiently inside
// the vault boundary and in the provider client's Authorization header.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	Expiry       time.Time
}

// Record is the encrypted persisted form of a Credential.
type Record struct {
	UserID        string
	AccessCipher  []byte
	RefreshCipher []byte
	Scope         string
	Expiry        time.Time
	UpdatedAt     time.Time
}

// Store persists encrypted credential records. Implemented by mirror.Store.
type Store interface {
	GetCredential(ctx context.Context, userID string) (*Record, error)
	PutCredential(ctx context.Context, rec *Record) error
	DeleteCredential(ctx context.Context, userID string) error
}

// ErrRecordNotFound is returned by Store implementations when no credential
// row exists for the user.
var ErrRecordNotFound = errors.New("vault: credential record not found")

// Options configures a Vault.
type Options struct {
	TokenURL       string
	ClientID       string
	ClientSecret   string
	RequiredScopes []string
	Logger         *slog.Logger
}

// Vault owns the credential lifecycle: store on connect, transparently
// refresh near expiry, remove on disconnect. Concurrent callers for the
// same user share a single in-flight refresh.
type Vault struct {
	store   Store
	sealer  Sealer
	opts    Options
	logger  *slog.Logger
	group   singleflight.Group
	nowFunc func() time.Time // injectable for deterministic tests
}

// New creates a Vault.
func New(store Store, sealer Sealer, opts Options) *Vault {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Vault{
		store:   store,
		sealer:  sealer,
		opts:    opts,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Connect encrypts and stores a freshly authorized token pair for the user.
// The authorization-code exchange itself happens in the host application's
// landing page; the vault only receives its result.
func (v *Vault) Connect(ctx context.Context, userID string, cred Credential) error {
	if cred.RefreshToken == "" {
		return fmt.Errorf("vault: connect for user %s: credential has no refresh token", userID)
	}

	rec, err := v.seal(userID, cred)
	if err != nil {
		return err
	}

	if err := v.store.PutCredential(ctx, rec); err != nil {
		return fmt.Errorf("vault: storing credential for user %s: %w", userID, err)
	}

	v.logger.Info("credential stored",
		slog.String("user_id", userID),
		slog.Time("expiry", cred.Expiry),
	)

	return nil
}

// Disconnect removes the user's stored credential. Removing an absent
// credential is not an error.
func (v *Vault) Disconnect(ctx context.Context, userID string) error {
	err := v.store.DeleteCredential(ctx, userID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("vault: removing credential for user %s: %w", userID, err)
	}

	v.logger.Info("credential removed", slog.String("user_id", userID))

	return nil
}

// EnsureValidAccessToken returns an access token guaranteed to be valid for
// at least the refresh skew. If the stored token is close to expiry it is
// refreshed synchronously first; concurrent callers for the same user share
// one refresh and the losers re-read the freshly stored token.
func (v *Vault) EnsureValidAccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := v.load(ctx, userID)
	if err != nil {
		return "", err
	}

	if err := v.checkScopes(cred.Scope); err != nil {
		return "", fmt.Errorf("%w (user %s)", err, userID)
	}

	if v.nowFunc().Add(refreshSkew).Before(cred.Expiry) {
		return cred.AccessToken, nil
	}

	// singleflight keys on userID so only one refresh is in flight per user.
	token, err, _ := v.group.Do(userID, func() (any, error) {
		return v.refresh(ctx, userID)
	})
	if err != nil {
		return "", err
	}

	return token.(string), nil
}

// refresh re-reads the credential (a concurrent winner may have refreshed it
// already), exchanges the refresh token, and persists the new pair.
func (v *Vault) refresh(ctx context.Context, userID string) (string, error) {
	cred, err := v.load(ctx, userID)
	if err != nil {
		return "", err
	}

	// Another caller may have refreshed between our expiry check and
	// winning the singleflight slot.
	if v.nowFunc().Add(refreshSkew).Before(cred.Expiry) {
		return cred.AccessToken, nil
	}

	v.logger.Info("refreshing access token",
		slog.String("user_id", userID),
		slog.Time("old_expiry", cred.Expiry),
	)

	newTok, err := v.exchangeRefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		return "", err
	}

	next := Credential{
		AccessToken:  newTok.AccessToken,
		RefreshToken: newTok.RefreshToken,
		Scope:        cred.Scope,
		Expiry:       newTok.Expiry,
	}

	// Providers may omit the refresh token on subsequent grants; losing the
	// stored one is unrecoverable, so always keep it in that case.
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}

	rec, err := v.seal(userID, next)
	if err != nil {
		return "", err
	}

	if err := v.store.PutCredential(ctx, rec); err != nil {
		return "", fmt.Errorf("vault: persisting refreshed credential for user %s: %w", userID, err)
	}

	v.logger.Info("access token refreshed",
		slog.String("user_id", userID),
		slog.Time("new_expiry", next.Expiry),
	)

	return next.AccessToken, nil
}

// exchangeRefreshToken performs the refresh grant against the provider's
// token endpoint, retrying transient failures with exponential backoff.
func (v *Vault) exchangeRefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	cfg := &oauth2.Config{
		ClientID:     v.opts.ClientID,
		ClientSecret: v.opts.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: v.opts.TokenURL},
	}

	var tok *oauth2.Token

	backoff := retry.WithMaxRetries(refreshRetryMax, retry.NewExponential(refreshRetryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

		var exchErr error

		tok, exchErr = src.Token()
		if exchErr == nil {
			return nil
		}

		return classifyRefreshError(exchErr)
	})
	if err != nil {
		return nil, err
	}

	return tok, nil
}

// classifyRefreshError maps a token endpoint failure into the vault
// taxonomy. Transient failures are wrapped as retryable for go-retry.
func classifyRefreshError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		// invalid_grant means the refresh token is revoked or expired —
		// only re-authorization helps.
		if rerr.ErrorCode == "invalid_grant" || strings.Contains(string(rerr.Body), "invalid_grant") {
			return fmt.Errorf("%w: %s", ErrNeedsReconsent, rerr.ErrorCode)
		}

		if rerr.Response != nil && rerr.Response.StatusCode < 500 && rerr.Response.StatusCode != 429 {
			return fmt.Errorf("vault: token endpoint rejected refresh: %w", err)
		}
	}

	// Network errors and 5xx/429 are worth retrying; if retries exhaust,
	// the caller sees ProviderUnavailable.
	return retry.RetryableError(fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
}

// load fetches and decrypts the user's credential.
func (v *Vault) load(ctx context.Context, userID string) (*Credential, error) {
	rec, err := v.store.GetCredential(ctx, userID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, fmt.Errorf("%w (user %s)", ErrNoCredential, userID)
	}

	if err != nil {
		return nil, fmt.Errorf("vault: loading credential for user %s: %w", userID, err)
	}

	access, err := v.sealer.Open(rec.AccessCipher)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypting access token for user %s: %w", userID, err)
	}

	refresh, err := v.sealer.Open(rec.RefreshCipher)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypting refresh token for user %s: %w", userID, err)
	}

	return &Credential{
		AccessToken:  string(access),
		RefreshToken: string(refresh),
		Scope:        rec.Scope,
		Expiry:       rec.Expiry,
	}, nil
}

// seal encrypts a credential into its persisted record form.
func (v *Vault) seal(userID string, cred Credential) (*Record, error) {
	access, err := v.sealer.Seal([]byte(cred.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("vault: encrypting access token: %w", err)
	}

	refresh, err := v.sealer.Seal([]byte(cred.RefreshToken))
	if err != nil {
		return nil, fmt.Errorf("vault: encrypting refresh token: %w", err)
	}

	return &Record{
		UserID:        userID,
		AccessCipher:  access,
		RefreshCipher: refresh,
		Scope:         cred.Scope,
		Expiry:        cred.Expiry,
		UpdatedAt:     v.nowFunc(),
	}, nil
}

// checkScopes verifies the stored scope string covers every required scope.
func (v *Vault) checkScopes(scope string) error {
	if len(v.opts.RequiredScopes) == 0 {
		return nil
	}

	granted := make(map[string]bool)
	for _, s := range strings.Fields(scope) {
		granted[s] = true
	}

	for _, want := range v.opts.RequiredScopes {
		if !granted[want] {
			return fmt.Errorf("%w: %s", ErrInsufficientScope, want)
		}
	}

	return nil
}

// TokenSource adapts the vault to the drive.TokenSource shape for one user.
type TokenSource struct {
	vault  *Vault
	userID string
}

// TokenSourceFor returns a per-user token source backed by the vault.
func (v *Vault) TokenSourceFor(userID string) *TokenSource {
	return &TokenSource{vault: v, userID: userID}
}

// Token returns a valid access token for the bound user.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	return t.vault.EnsureValidAccessToken(ctx, t.userID)
}
