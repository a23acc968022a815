package oauthflow

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/credguard/agent-vault/config"
	"github.com/credguard/agent-vault/models"
	"github.com/credguard/agent-vault/pkg/encryption"
	"github.com/credguard/agent-vault/sqlite"
	"github.com/credguard/agent-vault/vault"
)

// stubProvider plays the OAuth provider: it records token exchange
// requests and returns a canned token response.
type stubProvider struct {
	server *httptest.Server

	mu            sync.Mutex
	tokenRequests []url.Values
}

func newStubProvider(t *testing.T) *stubProvider {
	t.Helper()

	stub := &stubProvider{}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		stub.mu.Lock()
		stub.tokenRequests = append(stub.tokenRequests, r.PostForm)
		stub.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "stub-access-token",
			"refresh_token": "stub-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         "stub.scope",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer stub-access-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"email": "user@example.com",
			"sub":   "stub-account-1",
		})
	})

	stub.server = httptest.NewServer(mux)
	t.Cleanup(stub.server.Close)

	return stub
}

func (s *stubProvider) exchangeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tokenRequests)
}

func (s *stubProvider) lastExchange() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tokenRequests) == 0 {
		return nil
	}

	return s.tokenRequests[len(s.tokenRequests)-1]
}

type flowFixture struct {
	flow   *Flow
	vault  *vault.Vault
	states models.AuthStateRepository
	stub   *stubProvider
}

func newFlowFixture(t *testing.T, opts ...Option) *flowFixture {
	t.Helper()

	stub := newStubProvider(t)

	registry := NewRegistry(ProviderConfig{
		Slug:          "google_analytics",
		AuthURL:       stub.server.URL + "/authorize",
		TokenURL:      stub.server.URL + "/token",
		UserinfoURL:   stub.server.URL + "/userinfo",
		Scopes:        []string{"analytics.readonly"},
		SupportsPKCE:  true,
		OfflineAccess: true,
	}, ProviderConfig{
		Slug:     "plainapp",
		AuthURL:  stub.server.URL + "/authorize",
		TokenURL: stub.server.URL + "/token",
	})

	cfg := config.New(nil, func(key string) string {
		switch key {
		case "GOOGLE_ANALYTICS_CLIENT_ID", "PLAINAPP_CLIENT_ID":
			return "client-id-123"
		case "GOOGLE_ANALYTICS_CLIENT_SECRET", "PLAINAPP_CLIENT_SECRET":
			return "client-secret-456"
		default:
			return ""
		}
	})

	rawKey := make([]byte, encryption.KeySize)
	_, err := rand.Read(rawKey)
	require.NoError(t, err)

	keyring, err := encryption.NewKeyring(map[int]string{1: hex.EncodeToString(rawKey)}, 1)
	require.NoError(t, err)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	v := vault.New(keyring, sqlite.NewVaultRepository(db), zap.NewNop())
	states := sqlite.NewAuthStateRepository(db)

	flow := New(registry, states, v, cfg, "https://vault.example.com/api/integrations/callback", zap.NewNop(), opts...)

	return &flowFixture{flow: flow, vault: v, states: states, stub: stub}
}

func TestInitiate_BuildsAuthorizationURL(t *testing.T) {
	fx := newFlowFixture(t)

	auth, err := fx.flow.Initiate(context.Background(), "u1", "a1", "google_analytics")
	require.NoError(t, err)
	require.NotEmpty(t, auth.StateToken)

	parsed, err := url.Parse(auth.URL)
	require.NoError(t, err)

	q := parsed.Query()
	assert.Equal(t, "client-id-123", q.Get("client_id"))
	assert.Equal(t, "https://vault.example.com/api/integrations/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, auth.StateToken, q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "force", q.Get("approval_prompt"))
}

func TestInitiate_StateTokenEntropy(t *testing.T) {
	fx := newFlowFixture(t)

	seen := make(map[string]struct{})

	for i := 0; i < 64; i++ {
		auth, err := fx.flow.Initiate(context.Background(), "u1", "a1", "google_analytics")
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(auth.StateToken)
		require.NoError(t, err)
		assert.Len(t, raw, stateTokenBytes)

		_, dup := seen[auth.StateToken]
		require.False(t, dup, "state token repeated")
		seen[auth.StateToken] = struct{}{}
	}
}

func TestInitiate_UnsupportedPlatformWritesNoState(t *testing.T) {
	fx := newFlowFixture(t)

	_, err := fx.flow.Initiate(context.Background(), "u1", "a1", "unknown_x")
	assert.ErrorIs(t, err, models.ErrUnsupportedPlatform)

	// Nothing was persisted, so nothing is consumable and the sweep
	// finds nothing.
	n, err := fx.states.DeleteExpired(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInitiate_MissingClientCredentials(t *testing.T) {
	fx := newFlowFixture(t)

	stub := newStubProvider(t)
	registry := NewRegistry(ProviderConfig{
		Slug:     "unconfigured",
		AuthURL:  stub.server.URL + "/authorize",
		TokenURL: stub.server.URL + "/token",
	})

	flow := New(registry, fx.states, fx.vault, config.New(nil, func(string) string { return "" }),
		"https://vault.example.com/callback", zap.NewNop())

	_, err := flow.Initiate(context.Background(), "u1", "a1", "unconfigured")

	var confErr *models.ConfigError
	require.ErrorAs(t, err, &confErr)
}

func TestInitiate_NoPKCEForPlainProvider(t *testing.T) {
	fx := newFlowFixture(t)

	auth, err := fx.flow.Initiate(context.Background(), "u1", "a1", "plainapp")
	require.NoError(t, err)

	parsed, err := url.Parse(auth.URL)
	require.NoError(t, err)

	q := parsed.Query()
	assert.Empty(t, q.Get("code_challenge"))
	assert.Empty(t, q.Get("code_challenge_method"))
	assert.Empty(t, q.Get("access_type"))
}

func TestHandleCallback_EndToEnd(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()

	auth, err := fx.flow.Initiate(ctx, "u1", "a1", "google_analytics")
	require.NoError(t, err)

	parsed, err := url.Parse(auth.URL)
	require.NoError(t, err)
	challenge := parsed.Query().Get("code_challenge")
	require.NotEmpty(t, challenge)

	result, err := fx.flow.HandleCallback(ctx, "abc", auth.StateToken, "", "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "google_analytics", result.Platform)
	assert.Empty(t, result.Reason)

	// The exchange carried the code and the original verifier, and the
	// challenge issued at initiation is S256 of that verifier.
	exchange := fx.stub.lastExchange()
	require.NotNil(t, exchange)
	assert.Equal(t, "abc", exchange.Get("code"))
	assert.Equal(t, "authorization_code", exchange.Get("grant_type"))
	assert.Equal(t, "https://vault.example.com/api/integrations/callback", exchange.Get("redirect_uri"))

	verifier := exchange.Get("code_verifier")
	require.NotEmpty(t, verifier)

	sum := sha256.Sum256([]byte(verifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), challenge)

	// The credential landed in the vault under the state's identity.
	payload, err := fx.vault.Retrieve(ctx, models.OwnerKey{UserID: "u1", AgentID: "a1", Platform: "google_analytics"})
	require.NoError(t, err)
	assert.Equal(t, "stub-access-token", payload["access_token"])
	assert.Equal(t, "stub-refresh-token", payload["refresh_token"])
	assert.Equal(t, "user@example.com", payload["account_email"])
	assert.Equal(t, "stub-account-1", payload["account_id"])
	assert.NotEmpty(t, payload["expires_at"])
}

func TestHandleCallback_StateIsSingleUse(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()

	auth, err := fx.flow.Initiate(ctx, "u1", "a1", "google_analytics")
	require.NoError(t, err)

	first, err := fx.flow.HandleCallback(ctx, "abc", auth.StateToken, "", "")
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := fx.flow.HandleCallback(ctx, "abc", auth.StateToken, "", "")
	assert.ErrorIs(t, err, models.ErrStateInvalid)
	assert.False(t, second.Success)
	assert.Equal(t, "invalid or expired state", second.Reason)

	// Only the first callback reached the provider.
	assert.Equal(t, 1, fx.stub.exchangeCount())
}

func TestHandleCallback_ExpiredStateSkipsExchange(t *testing.T) {
	fx := newFlowFixture(t, WithStateTTL(-time.Minute))
	ctx := context.Background()

	auth, err := fx.flow.Initiate(ctx, "u1", "a1", "google_analytics")
	require.NoError(t, err)

	result, err := fx.flow.HandleCallback(ctx, "abc", auth.StateToken, "", "")
	assert.ErrorIs(t, err, models.ErrStateExpired)
	assert.False(t, result.Success)
	assert.Equal(t, "authorization expired", result.Reason)

	// No outbound token exchange happened.
	assert.Zero(t, fx.stub.exchangeCount())
}

func TestHandleCallback_ProviderErrorShortCircuits(t *testing.T) {
	fx := newFlowFixture(t)

	result, err := fx.flow.HandleCallback(context.Background(), "", "", "access_denied", "user said no")
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "access_denied: user said no", result.Reason)
	assert.Zero(t, fx.stub.exchangeCount())
}

func TestHandleCallback_MissingParameters(t *testing.T) {
	fx := newFlowFixture(t)

	var validationErr *models.ValidationError

	result, err := fx.flow.HandleCallback(context.Background(), "", "some-state", "", "")
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "invalid callback parameters", result.Reason)

	result, err = fx.flow.HandleCallback(context.Background(), "some-code", "", "", "")
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "invalid callback parameters", result.Reason)
}

func TestHandleCallback_UnknownState(t *testing.T) {
	fx := newFlowFixture(t)

	result, err := fx.flow.HandleCallback(context.Background(), "abc", "never-issued", "", "")
	assert.ErrorIs(t, err, models.ErrStateInvalid)
	assert.Equal(t, "invalid or expired state", result.Reason)
	assert.Zero(t, fx.stub.exchangeCount())
}

func TestHandleCallback_TokenEndpointFailure(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	t.Cleanup(failing.Close)

	fx := newFlowFixture(t)

	registry := NewRegistry(ProviderConfig{
		Slug:         "google_analytics",
		AuthURL:      failing.URL + "/authorize",
		TokenURL:     failing.URL + "/token",
		SupportsPKCE: true,
	})

	cfg := config.New(nil, func(key string) string { return "something" })

	flow := New(registry, fx.states, fx.vault, cfg, "https://vault.example.com/callback", zap.NewNop())

	auth, err := flow.Initiate(context.Background(), "u1", "a1", "google_analytics")
	require.NoError(t, err)

	result, err := flow.HandleCallback(context.Background(), "abc", auth.StateToken, "", "")

	var exchangeErr *models.TokenExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.False(t, result.Success)
	assert.Equal(t, "token exchange failed", result.Reason)

	// Nothing was stored.
	_, err = fx.vault.Retrieve(context.Background(), models.OwnerKey{UserID: "u1", AgentID: "a1", Platform: "google_analytics"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestHandleCallback_UserinfoFailureDoesNotFailFlow(t *testing.T) {
	tokenOnly := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "Bearer"})
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	t.Cleanup(tokenOnly.Close)

	fx := newFlowFixture(t)

	registry := NewRegistry(ProviderConfig{
		Slug:        "google_analytics",
		AuthURL:     tokenOnly.URL + "/authorize",
		TokenURL:    tokenOnly.URL + "/token",
		UserinfoURL: tokenOnly.URL + "/userinfo",
	})

	cfg := config.New(nil, func(key string) string { return "something" })
	flow := New(registry, fx.states, fx.vault, cfg, "https://vault.example.com/callback", zap.NewNop())

	auth, err := flow.Initiate(context.Background(), "u1", "a1", "google_analytics")
	require.NoError(t, err)

	result, err := flow.HandleCallback(context.Background(), "abc", auth.StateToken, "", "")
	require.NoError(t, err)
	assert.True(t, result.Success)

	payload, err := fx.vault.Retrieve(context.Background(), models.OwnerKey{UserID: "u1", AgentID: "a1", Platform: "google_analytics"})
	require.NoError(t, err)
	assert.Equal(t, "tok", payload["access_token"])
	assert.Empty(t, payload["account_email"])
}
