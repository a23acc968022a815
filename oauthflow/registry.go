// Package oauthflow implements the three-legged OAuth2 authorization
// flow: building CSRF- and PKCE-protected provider redirects, and
// exchanging callback codes for tokens that land in the vault.
package oauthflow

import (
	"github.com/credguard/agent-vault/models"
)

// ProviderConfig is the static, process-wide configuration for one
// external platform. Client credentials are not part of it; they are
// resolved lazily from process configuration at call time.
type ProviderConfig struct {
	Slug            string
	AuthURL         string
	TokenURL        string
	UserinfoURL     string
	Scopes          []string
	ClientIDKey     string
	ClientSecretKey string
	GrantType       string
	SupportsPKCE    bool
	OfflineAccess   bool
}

// Registry is a read-only lookup of provider configurations by platform
// slug. Built once at process start; safe for concurrent reads.
type Registry struct {
	providers map[string]ProviderConfig
}

// NewRegistry builds a registry from the given providers. Config keys
// for client credentials default to "<slug>.client_id" and
// "<slug>.client_secret" when unset.
func NewRegistry(providers ...ProviderConfig) *Registry {
	m := make(map[string]ProviderConfig, len(providers))

	for _, p := range providers {
		if p.ClientIDKey == "" {
			p.ClientIDKey = p.Slug + ".client_id"
		}

		if p.ClientSecretKey == "" {
			p.ClientSecretKey = p.Slug + ".client_secret"
		}

		if p.GrantType == "" {
			p.GrantType = "authorization_code"
		}

		m[p.Slug] = p
	}

	return &Registry{providers: m}
}

// Lookup returns the configuration for a platform slug, or
// ErrUnsupportedPlatform.
func (r *Registry) Lookup(slug string) (ProviderConfig, error) {
	p, ok := r.providers[slug]
	if !ok {
		return ProviderConfig{}, models.ErrUnsupportedPlatform
	}

	return p, nil
}

// Slugs returns the registered platform slugs.
func (r *Registry) Slugs() []string {
	slugs := make([]string, 0, len(r.providers))
	for slug := range r.providers {
		slugs = append(slugs, slug)
	}

	return slugs
}

const (
	googleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// DefaultRegistry returns the built-in provider set.
func DefaultRegistry() *Registry {
	return NewRegistry(
		ProviderConfig{
			Slug:        "google_analytics",
			AuthURL:     googleAuthURL,
			TokenURL:    googleTokenURL,
			UserinfoURL: googleUserinfoURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/analytics.readonly",
				"https://www.googleapis.com/auth/userinfo.email",
			},
			SupportsPKCE:  true,
			OfflineAccess: true,
		},
		ProviderConfig{
			Slug:        "google_sheets",
			AuthURL:     googleAuthURL,
			TokenURL:    googleTokenURL,
			UserinfoURL: googleUserinfoURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/spreadsheets",
				"https://www.googleapis.com/auth/drive.file",
				"https://www.googleapis.com/auth/userinfo.email",
			},
			SupportsPKCE:  true,
			OfflineAccess: true,
		},
		ProviderConfig{
			Slug:        "github",
			AuthURL:     "https://github.com/login/oauth/authorize",
			TokenURL:    "https://github.com/login/oauth/access_token",
			UserinfoURL: "https://api.github.com/user",
			Scopes:      []string{"repo", "read:user"},
		},
		ProviderConfig{
			Slug:     "slack",
			AuthURL:  "https://slack.com/oauth/v2/authorize",
			TokenURL: "https://slack.com/api/oauth.v2.access",
			Scopes:   []string{"chat:write", "channels:read"},
		},
		ProviderConfig{
			Slug:     "notion",
			AuthURL:  "https://api.notion.com/v1/oauth/authorize",
			TokenURL: "https://api.notion.com/v1/oauth/token",
		},
		ProviderConfig{
			Slug:          "hubspot",
			AuthURL:       "https://app.hubspot.com/oauth/authorize",
			TokenURL:      "https://api.hubapi.com/oauth/v1/token",
			Scopes:        []string{"crm.objects.contacts.read", "crm.objects.contacts.write"},
			OfflineAccess: true,
		},
	)
}
