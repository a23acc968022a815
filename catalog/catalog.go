// Package catalog exposes the platform definition catalog: which
// platforms exist, how access to each is granted and which fields a
// manually entered credential must carry.
package catalog

import (
	"sort"

	"github.com/credguard/agent-vault/models"
)

// Catalog is a read-only lookup of platform definitions. Built once at
// process start; safe for concurrent reads.
type Catalog struct {
	defs map[string]models.PlatformDefinition
}

// New builds a catalog from the given definitions.
func New(defs ...models.PlatformDefinition) *Catalog {
	m := make(map[string]models.PlatformDefinition, len(defs))
	for _, def := range defs {
		m[def.Slug] = def
	}

	return &Catalog{defs: m}
}

// Get returns the definition for a platform slug, or ErrNotFound.
func (c *Catalog) Get(slug string) (models.PlatformDefinition, error) {
	def, ok := c.defs[slug]
	if !ok {
		return models.PlatformDefinition{}, models.ErrNotFound
	}

	return def, nil
}

// List returns all definitions ordered by slug.
func (c *Catalog) List() []models.PlatformDefinition {
	defs := make([]models.PlatformDefinition, 0, len(c.defs))
	for _, def := range c.defs {
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Slug < defs[j].Slug })

	return defs
}

// ValidateManual checks a manually entered payload against the
// definition's required fields. Extra fields are allowed; missing or
// empty required ones yield a ValidationError naming them.
func ValidateManual(def models.PlatformDefinition, payload models.SecretPayload) error {
	var missing []string

	for _, field := range def.RequiredFields {
		if payload[field.Name] == "" {
			missing = append(missing, field.Name)
		}
	}

	if len(missing) > 0 {
		return &models.ValidationError{Fields: missing}
	}

	return nil
}

// Default returns the built-in platform set: the OAuth platforms served
// by the authorization flow plus the manual-entry ones.
func Default() *Catalog {
	return New(
		models.PlatformDefinition{
			Slug:     "google_analytics",
			Name:     "Google Analytics",
			AuthKind: models.AuthKindOAuth,
		},
		models.PlatformDefinition{
			Slug:     "google_sheets",
			Name:     "Google Sheets",
			AuthKind: models.AuthKindOAuth,
		},
		models.PlatformDefinition{
			Slug:     "github",
			Name:     "GitHub",
			AuthKind: models.AuthKindOAuth,
		},
		models.PlatformDefinition{
			Slug:     "slack",
			Name:     "Slack",
			AuthKind: models.AuthKindOAuth,
		},
		models.PlatformDefinition{
			Slug:     "notion",
			Name:     "Notion",
			AuthKind: models.AuthKindOAuth,
		},
		models.PlatformDefinition{
			Slug:     "hubspot",
			Name:     "HubSpot",
			AuthKind: models.AuthKindOAuth,
		},
		models.PlatformDefinition{
			Slug:     "openai",
			Name:     "OpenAI",
			AuthKind: models.AuthKindManual,
			RequiredFields: []models.CredentialField{
				{Name: "api_key", Label: "API Key", Secret: true},
			},
		},
		models.PlatformDefinition{
			Slug:     "smtp",
			Name:     "SMTP",
			AuthKind: models.AuthKindManual,
			RequiredFields: []models.CredentialField{
				{Name: "host", Label: "Host"},
				{Name: "username", Label: "Username"},
				{Name: "password", Label: "Password", Secret: true},
			},
		},
		models.PlatformDefinition{
			Slug:     "twilio",
			Name:     "Twilio",
			AuthKind: models.AuthKindManual,
			RequiredFields: []models.CredentialField{
				{Name: "account_sid", Label: "Account SID"},
				{Name: "auth_token", Label: "Auth Token", Secret: true},
			},
		},
	)
}
