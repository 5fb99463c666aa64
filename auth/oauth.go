package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// OAuthConfig holds what is needed to set up the Microsoft identity
// provider for interactive login.
type OAuthConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OAuthUser is the normalized profile returned after a login exchange.
type OAuthUser struct {
	Name  string
	Email string
	Photo string // data URL; never empty, falls back to SVG initials
}

// NewMicrosoftProvider returns an oauth2.Config for the Microsoft identity
// platform scoped to basic profile reading.
func NewMicrosoftProvider(cfg OAuthConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{"openid", "email", "profile", "User.Read"},
		Endpoint:     microsoft.AzureADEndpoint(cfg.TenantID),
	}
}

// FetchMicrosoftUser exchanges the authorization code and reads the user's
// profile (and photo, best-effort) from the Graph API.
func FetchMicrosoftUser(ctx context.Context, oauthCfg *oauth2.Config, code string) (*OAuthUser, error) {
	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: oauth exchange: %w", err)
	}

	client := oauthCfg.Client(ctx, token)
	resp, err := client.Get("https://graph.microsoft.com/v1.0/me")
	if err != nil {
		return nil, fmt.Errorf("auth: fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("auth: profile endpoint returned %d: %s", resp.StatusCode, body)
	}

	var info struct {
		DisplayName       string `json:"displayName"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("auth: decode profile: %w", err)
	}

	email := info.Mail
	if email == "" {
		email = info.UserPrincipalName
	}

	user := &OAuthUser{
		Name:  info.DisplayName,
		Email: strings.ToLower(email),
	}
	user.Photo = fetchPhoto(client, user.Name)
	return user, nil
}

// fetchPhoto retrieves the profile photo as a data URL. Accounts without a
// photo (404 is the normal case) get a generated SVG initials placeholder.
func fetchPhoto(client *http.Client, name string) string {
	resp, err := client.Get("https://graph.microsoft.com/v1.0/me/photo/$value")
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err == nil {
				return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)
			}
		}
	}
	return InitialsPlaceholder(name)
}

// InitialsPlaceholder renders a small SVG avatar with the user's initials,
// returned as a data URL.
func InitialsPlaceholder(name string) string {
	initials := ""
	for i, part := range strings.Fields(name) {
		if i == 2 {
			break
		}
		r := []rune(part)
		initials += strings.ToUpper(string(r[0]))
	}
	if initials == "" {
		initials = "?"
	}
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="32" height="32" viewBox="0 0 32 32"><rect width="32" height="32" rx="16" fill="#dee2e6"/><text x="50%%" y="50%%" dy=".35em" text-anchor="middle" font-family="Arial" font-size="14" fill="#6c757d">%s</text></svg>`, initials)
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}

// PhotoCache keeps the per-email avatar in memory. Photos are too large for
// the session cookie, so they are stored at login time and looked up when
// the user connects to the presence channel. Never persisted.
type PhotoCache struct {
	mu     sync.RWMutex
	photos map[string]string
}

// NewPhotoCache creates an empty cache.
func NewPhotoCache() *PhotoCache {
	return &PhotoCache{photos: make(map[string]string)}
}

// Put stores the avatar for an email.
func (p *PhotoCache) Put(email, photo string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.photos[email] = photo
}

// Get returns the stored avatar, or an initials placeholder derived from the
// fallback name when the email is unknown.
func (p *PhotoCache) Get(email, fallbackName string) string {
	p.mu.RLock()
	photo := p.photos[email]
	p.mu.RUnlock()
	if photo == "" {
		return InitialsPlaceholder(fallbackName)
	}
	return photo
}
