package oauthflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// fetchIdentity resolves the platform-side account identity for display
// purposes. Best-effort: any failure returns nil and the flow proceeds
// without identity fields.
func (f *Flow) fetchIdentity(ctx context.Context, provider ProviderConfig, accessToken string) map[string]string {
	if provider.UserinfoURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserinfoURL, nil)
	if err != nil {
		return nil
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Debug("userinfo request failed",
			zap.String("platform", provider.Slug),
			zap.Error(err))

		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.logger.Debug("userinfo request rejected",
			zap.String("platform", provider.Slug),
			zap.Int("status", resp.StatusCode))

		return nil
	}

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		f.logger.Debug("userinfo response not parseable",
			zap.String("platform", provider.Slug),
			zap.Error(err))

		return nil
	}

	identity := make(map[string]string)

	if email, ok := info["email"].(string); ok && email != "" {
		identity["account_email"] = email
	}

	if name, ok := info["name"].(string); ok && name != "" {
		identity["account_name"] = name
	}

	for _, idField := range []string{"sub", "id", "login"} {
		switch v := info[idField].(type) {
		case string:
			if v != "" {
				identity["account_id"] = v
			}
		case float64:
			identity["account_id"] = fmt.Sprintf("%.0f", v)
		}

		if _, ok := identity["account_id"]; ok {
			break
		}
	}

	if len(identity) == 0 {
		return nil
	}

	return identity
}
