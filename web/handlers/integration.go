// Package handlers exposes the credential vault and the OAuth
// authorization flow over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/credguard/agent-vault/catalog"
	"github.com/credguard/agent-vault/models"
	"github.com/credguard/agent-vault/oauthflow"
	"github.com/credguard/agent-vault/vault"
	"github.com/credguard/agent-vault/web/auth"
)

// IntegrationHandler serves the integration endpoints: starting OAuth
// flows, receiving provider callbacks, manual credential entry, status
// and disconnect.
type IntegrationHandler struct {
	flow             *oauthflow.Flow
	vault            *vault.Vault
	catalog          *catalog.Catalog
	postAuthRedirect string
	logger           *zap.Logger
}

func NewIntegrationHandler(flow *oauthflow.Flow, v *vault.Vault, cat *catalog.Catalog, postAuthRedirect string, logger *zap.Logger) *IntegrationHandler {
	return &IntegrationHandler{
		flow:             flow,
		vault:            v,
		catalog:          cat,
		postAuthRedirect: postAuthRedirect,
		logger:           logger,
	}
}

// RegisterRoutes mounts the integration routes. Everything except the
// provider callback sits behind the auth middleware.
func (h *IntegrationHandler) RegisterRoutes(r *mux.Router) {
	r.Handle("/api/integrations/{platform}/connect", auth.Middleware(http.HandlerFunc(h.HandleConnect))).Methods(http.MethodGet)
	r.HandleFunc("/api/integrations/callback", h.HandleCallback).Methods(http.MethodGet)
	r.Handle("/api/integrations/status", auth.Middleware(http.HandlerFunc(h.HandleStatus))).Methods(http.MethodGet)
	r.Handle("/api/integrations/{platform}/credentials", auth.Middleware(http.HandlerFunc(h.HandleManualCredentials))).Methods(http.MethodPut)
	r.Handle("/api/integrations/{platform}", auth.Middleware(http.HandlerFunc(h.HandleDisconnect))).Methods(http.MethodDelete)
	r.HandleFunc("/api/platforms", h.HandleListPlatforms).Methods(http.MethodGet)
}

// HandleConnect starts the OAuth flow and redirects the browser to the
// provider's authorization page.
func (h *IntegrationHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		http.Error(w, "User not authenticated", http.StatusUnauthorized)
		return
	}

	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		http.Error(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	platform := mux.Vars(r)["platform"]

	authz, err := h.flow.Initiate(r.Context(), userID, agentID, platform)
	if err != nil {
		h.logger.Warn("failed to initiate authorization",
			zap.String("platform", platform),
			zap.Error(err))
		writeError(w, err)

		return
	}

	http.Redirect(w, r, authz.URL, http.StatusTemporaryRedirect)
}

// HandleCallback receives the provider redirect. Every path, success or
// failure, ends in a redirect carrying a machine-checkable outcome; raw
// provider detail stays in the logs.
func (h *IntegrationHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	result, err := h.flow.HandleCallback(r.Context(),
		q.Get("code"),
		q.Get("state"),
		q.Get("error"),
		q.Get("error_description"),
	)
	if err != nil {
		h.logger.Warn("authorization callback rejected", zap.Error(err))
	}

	http.Redirect(w, r, h.outcomeURL(result), http.StatusTemporaryRedirect)
}

func (h *IntegrationHandler) outcomeURL(result oauthflow.CallbackResult) string {
	params := url.Values{}

	if result.Success {
		params.Set("connected", "true")
		params.Set("platform", result.Platform)
	} else {
		params.Set("error", result.Reason)
		if result.Platform != "" {
			params.Set("platform", result.Platform)
		}
	}

	return h.postAuthRedirect + "?" + params.Encode()
}

type statusResponse struct {
	Platforms    map[string]bool `json:"platforms"`
	AllConnected bool            `json:"all_connected"`
}

// HandleStatus reports, per platform, whether a credential is stored for
// the (user, agent) pair. The caller may narrow the check to the
// agent's required platforms with ?platforms=a,b; stored secrets are
// never decrypted for this.
func (h *IntegrationHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		http.Error(w, "User not authenticated", http.StatusUnauthorized)
		return
	}

	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		http.Error(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	var slugs []string

	if raw := r.URL.Query().Get("platforms"); raw != "" {
		for _, slug := range strings.Split(raw, ",") {
			if slug = strings.TrimSpace(slug); slug != "" {
				slugs = append(slugs, slug)
			}
		}
	} else {
		for _, def := range h.catalog.List() {
			slugs = append(slugs, def.Slug)
		}
	}

	resp := statusResponse{Platforms: make(map[string]bool, len(slugs)), AllConnected: true}

	for _, slug := range slugs {
		ok, err := h.vault.Exists(r.Context(), models.OwnerKey{UserID: userID, AgentID: agentID, Platform: slug})
		if err != nil {
			h.logger.Error("failed to check credential existence",
				zap.String("platform", slug),
				zap.Error(err))
			http.Error(w, "Failed to check integration status", http.StatusInternalServerError)

			return
		}

		resp.Platforms[slug] = ok

		if !ok {
			resp.AllConnected = false
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleManualCredentials stores a manually entered credential after
// validating it against the platform's required-field schema.
func (h *IntegrationHandler) HandleManualCredentials(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		http.Error(w, "User not authenticated", http.StatusUnauthorized)
		return
	}

	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		http.Error(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	platform := mux.Vars(r)["platform"]

	def, err := h.catalog.Get(platform)
	if err != nil {
		http.Error(w, "Unknown platform", http.StatusNotFound)
		return
	}

	var payload models.SecretPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := catalog.ValidateManual(def, payload); err != nil {
		writeError(w, err)
		return
	}

	key := models.OwnerKey{UserID: userID, AgentID: agentID, Platform: platform}
	if err := h.vault.Store(r.Context(), key, payload); err != nil {
		h.logger.Error("failed to store manual credential",
			zap.String("platform", platform),
			zap.Error(err))
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"stored": true, "platform": platform})
}

// HandleDisconnect deletes the stored credential. Idempotent: deleting
// an absent credential still answers 204.
func (h *IntegrationHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		http.Error(w, "User not authenticated", http.StatusUnauthorized)
		return
	}

	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		http.Error(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	platform := mux.Vars(r)["platform"]

	key := models.OwnerKey{UserID: userID, AgentID: agentID, Platform: platform}
	if err := h.vault.Delete(r.Context(), key); err != nil {
		h.logger.Error("failed to delete credential",
			zap.String("platform", platform),
			zap.Error(err))
		writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleListPlatforms exposes the platform definition catalog.
func (h *IntegrationHandler) HandleListPlatforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.List())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP statuses without leaking
// internal detail.
func writeError(w http.ResponseWriter, err error) {
	var (
		configErr     *models.ConfigError
		validationErr *models.ValidationError
	)

	switch {
	case errors.Is(err, models.ErrUnsupportedPlatform):
		http.Error(w, "Unsupported platform", http.StatusNotFound)
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.As(err, &validationErr):
		http.Error(w, validationErr.Error(), http.StatusBadRequest)
	case errors.As(err, &configErr):
		http.Error(w, "Integration is not configured", http.StatusServiceUnavailable)
	default:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}
