package oauthflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/credguard/agent-vault/config"
	"github.com/credguard/agent-vault/models"
	"github.com/credguard/agent-vault/vault"
)

const (
	defaultStateTTL        = 10 * time.Minute
	defaultExchangeTimeout = 8 * time.Second

	stateTokenBytes = 32
)

// Flow drives the authorization protocol: Initiate builds the provider
// redirect and persists the pending state; HandleCallback validates the
// returning callback, exchanges the code and stores the tokens.
type Flow struct {
	registry    *Registry
	states      models.AuthStateRepository
	vault       *vault.Vault
	cfg         *config.Service
	logger      *zap.Logger
	httpClient  *http.Client
	callbackURL string
	stateTTL    time.Duration
	exchangeTO  time.Duration
}

// Option configures a Flow.
type Option func(*Flow)

// WithHTTPClient sets the HTTP client used for token exchange and
// userinfo calls.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Flow) {
		f.httpClient = client
	}
}

// WithStateTTL sets the lifetime of pending authorization states.
func WithStateTTL(ttl time.Duration) Option {
	return func(f *Flow) {
		f.stateTTL = ttl
	}
}

// WithExchangeTimeout bounds the token exchange network call.
func WithExchangeTimeout(timeout time.Duration) Option {
	return func(f *Flow) {
		f.exchangeTO = timeout
	}
}

// New creates a Flow. callbackURL is this service's OAuth callback
// endpoint registered with the providers.
func New(registry *Registry, states models.AuthStateRepository, v *vault.Vault, cfg *config.Service, callbackURL string, logger *zap.Logger, opts ...Option) *Flow {
	f := &Flow{
		registry:    registry,
		states:      states,
		vault:       v,
		cfg:         cfg,
		logger:      logger,
		httpClient:  http.DefaultClient,
		callbackURL: callbackURL,
		stateTTL:    defaultStateTTL,
		exchangeTO:  defaultExchangeTimeout,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Authorization is the outcome of Initiate. The code verifier is never
// part of it; it stays server-side on the state record.
type Authorization struct {
	URL        string
	StateToken string
}

// Initiate starts a three-legged flow for the (user, agent, platform)
// tuple: it generates the CSRF state token and, for PKCE providers, the
// verifier/challenge pair, persists the pending state and returns the
// provider authorization URL. No state is written for an unsupported
// platform or unresolved client credentials.
func (f *Flow) Initiate(ctx context.Context, userID, agentID, platform string) (*Authorization, error) {
	provider, err := f.registry.Lookup(platform)
	if err != nil {
		return nil, err
	}

	conf, err := f.oauth2Config(ctx, provider, f.callbackURL)
	if err != nil {
		return nil, err
	}

	stateToken, err := randomToken(stateTokenBytes)
	if err != nil {
		return nil, &models.CryptoError{Op: "state token generation", Err: err}
	}

	state := &models.AuthorizationState{
		StateToken:  stateToken,
		UserID:      userID,
		AgentID:     agentID,
		Platform:    platform,
		RedirectURI: f.callbackURL,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(f.stateTTL),
	}

	var authOpts []oauth2.AuthCodeOption

	if provider.OfflineAccess {
		// Offline access and forced consent so the provider issues a
		// refresh token for later non-interactive renewal.
		authOpts = append(authOpts, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	}

	if provider.SupportsPKCE {
		verifier := oauth2.GenerateVerifier()
		state.CodeVerifier = verifier
		authOpts = append(authOpts, oauth2.S256ChallengeOption(verifier))
	}

	if err := f.states.Create(ctx, state); err != nil {
		return nil, &models.StorageError{Op: "create authorization state", Err: err}
	}

	f.logger.Info("initiated authorization",
		zap.String("user_id", userID),
		zap.String("agent_id", agentID),
		zap.String("platform", platform),
		zap.String("state_token", truncate(stateToken)))

	return &Authorization{
		URL:        conf.AuthCodeURL(stateToken, authOpts...),
		StateToken: stateToken,
	}, nil
}

// CallbackResult is the machine-checkable outcome of a callback, meant
// to be encoded onto the post-auth redirect. It never carries secret
// material or raw provider responses.
type CallbackResult struct {
	Success  bool
	Platform string
	Reason   string
}

func rejected(platform, reason string) CallbackResult {
	return CallbackResult{Platform: platform, Reason: reason}
}

// HandleCallback processes the provider's redirect back to us. Every
// failure path yields a usable CallbackResult for the redirect plus the
// underlying error for logging and tests; provider detail is logged,
// never forwarded.
func (f *Flow) HandleCallback(ctx context.Context, code, stateToken, providerError, providerErrorDescription string) (CallbackResult, error) {
	if providerError != "" {
		f.logger.Warn("provider returned an authorization error",
			zap.String("error", providerError),
			zap.String("description", providerErrorDescription))

		reason := providerError
		if providerErrorDescription != "" {
			reason = fmt.Sprintf("%s: %s", providerError, providerErrorDescription)
		}

		return rejected("", reason), &models.TokenExchangeError{Err: errors.New(providerError)}
	}

	if code == "" || stateToken == "" {
		return rejected("", "invalid callback parameters"), &models.ValidationError{Fields: []string{"code", "state"}}
	}

	// Single conditional update: the state is consumed here, before the
	// exchange, so a concurrent replay of the same callback cannot pass.
	state, err := f.states.Consume(ctx, stateToken, time.Now().UTC())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			f.logger.Warn("callback with unknown or already consumed state",
				zap.String("state_token", truncate(stateToken)))

			return rejected("", "invalid or expired state"), models.ErrStateInvalid
		}

		return rejected("", "internal error"), &models.StorageError{Op: "consume authorization state", Err: err}
	}

	if state.Expired(time.Now().UTC()) {
		return rejected(state.Platform, "authorization expired"), models.ErrStateExpired
	}

	provider, err := f.registry.Lookup(state.Platform)
	if err != nil {
		return rejected(state.Platform, "unsupported platform"), err
	}

	conf, err := f.oauth2Config(ctx, provider, state.RedirectURI)
	if err != nil {
		return rejected(state.Platform, "configuration error"), err
	}

	token, err := f.exchange(ctx, conf, provider, code, state.CodeVerifier)
	if err != nil {
		// The raw provider failure (including any response body inside
		// the oauth2 retrieve error) stays in the logs.
		f.logger.Error("token exchange failed",
			zap.String("platform", state.Platform),
			zap.String("user_id", state.UserID),
			zap.Error(err))

		return rejected(state.Platform, "token exchange failed"), &models.TokenExchangeError{Platform: state.Platform, Err: err}
	}

	payload := tokenPayload(token)

	// Identity resolution is best-effort: a failed userinfo call never
	// fails the flow, the identity fields just stay absent.
	for field, value := range f.fetchIdentity(ctx, provider, token.AccessToken) {
		payload[field] = value
	}

	// The owner key comes from the state record, never from the caller.
	key := models.OwnerKey{UserID: state.UserID, AgentID: state.AgentID, Platform: state.Platform}

	if err := f.vault.Store(ctx, key, payload); err != nil {
		f.logger.Error("failed to store exchanged credential",
			zap.String("platform", state.Platform),
			zap.String("user_id", state.UserID),
			zap.Error(err))

		return rejected(state.Platform, "failed to store credential"), err
	}

	f.logger.Info("authorization completed",
		zap.String("user_id", state.UserID),
		zap.String("agent_id", state.AgentID),
		zap.String("platform", state.Platform))

	return CallbackResult{Success: true, Platform: state.Platform}, nil
}

func (f *Flow) oauth2Config(ctx context.Context, provider ProviderConfig, redirectURL string) (*oauth2.Config, error) {
	clientID, err := f.cfg.GetRequiredString(ctx, provider.ClientIDKey)
	if err != nil {
		return nil, err
	}

	clientSecret, err := f.cfg.GetRequiredString(ctx, provider.ClientSecretKey)
	if err != nil {
		return nil, err
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       provider.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  provider.AuthURL,
			TokenURL: provider.TokenURL,
		},
	}, nil
}

func (f *Flow) exchange(ctx context.Context, conf *oauth2.Config, provider ProviderConfig, code, verifier string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, f.exchangeTO)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)

	var opts []oauth2.AuthCodeOption

	if verifier != "" {
		// The verifier, not the challenge, goes on the exchange request.
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	if provider.GrantType != "" && provider.GrantType != "authorization_code" {
		opts = append(opts, oauth2.SetAuthURLParam("grant_type", provider.GrantType))
	}

	token, err := conf.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, err
	}

	if token.AccessToken == "" {
		return nil, errors.New("provider response missing access_token")
	}

	return token, nil
}

// tokenPayload converts a provider token response into the payload the
// vault stores. Unknown provider fields are ignored.
func tokenPayload(token *oauth2.Token) models.SecretPayload {
	payload := models.SecretPayload{
		"access_token": token.AccessToken,
	}

	if token.RefreshToken != "" {
		payload["refresh_token"] = token.RefreshToken
	}

	if token.TokenType != "" {
		payload["token_type"] = token.TokenType
	}

	if !token.Expiry.IsZero() {
		payload["expires_at"] = token.Expiry.UTC().Format(time.RFC3339)
	}

	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		payload["scope"] = scope
	}

	return payload
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// truncate shortens a state token for logging; full tokens never land
// in log output.
func truncate(token string) string {
	if len(token) <= 8 {
		return token
	}

	return token[:8] + "..."
}
