package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"devconnect/database"
	"devconnect/logger"
	"devconnect/models"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	ProviderGoogle    = "google"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

var (
	ErrLinkingDisabled = errors.New("google account linking is not configured")
	ErrAlreadyLinked   = errors.New("google account is linked to another user")
	ErrExchangeFailed  = errors.New("google authorization code exchange failed")
)

type googleUserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type AccountStore interface {
	FindByProviderAccountID(ctx context.Context, providerAccountID string) (*models.Account, error)
	Create(ctx context.Context, a *models.Account) error
}

// GoogleLinker attaches a Google subject to an existing user as an alternate id.
type GoogleLinker struct {
	config      *oauth2.Config
	userInfoURL string
	accounts    AccountStore
	resolver    *Resolver
}

func NewGoogleConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	if clientID == "" || clientSecret == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}
}

func NewGoogleLinker(config *oauth2.Config, accounts AccountStore, resolver *Resolver) *GoogleLinker {
	return &GoogleLinker{config: config, userInfoURL: googleUserInfoURL, accounts: accounts, resolver: resolver}
}

// WithUserInfoURL points the linker at a different userinfo endpoint.
func (l *GoogleLinker) WithUserInfoURL(u string) *GoogleLinker {
	l.userInfoURL = u
	return l
}

func (l *GoogleLinker) AuthURL(state string) string {
	if l.config == nil {
		return ""
	}
	return l.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Link exchanges code and records the Google subject against userID's canonical id.
// Linking the same subject to the same user twice is a no-op.
func (l *GoogleLinker) Link(ctx context.Context, userID, code string) (*models.Account, error) {
	if l.config == nil {
		return nil, ErrLinkingDisabled
	}

	token, err := l.config.Exchange(ctx, code)
	if err != nil {
		logger.Warn("google code exchange failed", zap.Error(err))
		return nil, ErrExchangeFailed
	}
	info, err := l.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}

	ident := l.resolver.Resolve(ctx, userID)

	existing, err := l.accounts.FindByProviderAccountID(ctx, info.ID)
	switch {
	case err == nil && existing.UserID == ident.Canonical:
		return existing, nil
	case err == nil:
		return nil, ErrAlreadyLinked
	case !errors.Is(err, database.ErrNotFound):
		return nil, err
	}

	acct := &models.Account{
		UserID:            ident.Canonical,
		Provider:          ProviderGoogle,
		ProviderAccountID: info.ID,
		Email:             info.Email,
		CreatedAt:         time.Now().UTC(),
	}
	if err := l.accounts.Create(ctx, acct); err != nil {
		if database.IsDuplicate(err) {
			return nil, ErrAlreadyLinked
		}
		return nil, err
	}

	l.resolver.Forget(ctx, ident)
	l.resolver.Forget(ctx, Identity{Canonical: info.ID})
	logger.Info("google account linked", zap.String("userId", ident.Canonical), zap.String("email", info.Email))
	return acct, nil
}

func (l *GoogleLinker) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	client := l.config.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google userinfo: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read google userinfo: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google userinfo: status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse google userinfo: %w", err)
	}
	if info.ID == "" {
		return nil, errors.New("google userinfo: missing subject")
	}
	return &info, nil
}
