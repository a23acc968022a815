package models

// AuthKind distinguishes how a platform's credentials are obtained.
const (
	AuthKindOAuth  = "oauth"
	AuthKindManual = "manual"
)

// CredentialField describes one field of a manually entered credential.
type CredentialField struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Secret bool   `json:"secret"`
}

// PlatformDefinition declares the credential schema for one external
// platform: how access is granted and which fields a manual entry must
// carry.
type PlatformDefinition struct {
	Slug           string            `json:"slug"`
	Name           string            `json:"name"`
	AuthKind       string            `json:"auth_kind"`
	RequiredFields []CredentialField `json:"required_fields,omitempty"`
}
