package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/codeagent/internal/api/response"
	"github.com/kiranshivaraju/codeagent/internal/apikey"
	"github.com/kiranshivaraju/codeagent/pkg/models"
)

// APIKeyHeader carries the raw tenant key.
const APIKeyHeader = "X-API-Key"

const lastUsedTimeout = 5 * time.Second

// KeyStore is the part of the store the auth middleware reads.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// Auth resolves API keys to tenants.
type Auth struct {
	store  KeyStore
	logger *slog.Logger
}

func NewAuth(s KeyStore, logger *slog.Logger) *Auth {
	return &Auth{store: s, logger: logger}
}

// Authenticate validates the API key, loads its tenant and stores both the
// tenant and the key prefix in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractKey(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_API_KEY", "Missing X-API-Key header", nil)
			return
		}

		prefix, err := apikey.Prefix(rawKey)
		if err != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_API_KEY", "Invalid API key format", nil)
			return
		}

		keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
		if err != nil {
			a.logger.Error("api key lookup failed", slog.String("error", err.Error()))
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		var key *models.APIKey
		for _, k := range keys {
			if k.DeletedAt == nil && apikey.Matches(k.KeyHash, rawKey) {
				key = k
				break
			}
		}
		if key == nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_API_KEY", "Invalid API key", nil)
			return
		}

		tenant, err := a.store.GetTenant(r.Context(), key.TenantID)
		if err != nil {
			a.logger.Error("tenant lookup failed",
				slog.String("tenant_id", key.TenantID.String()),
				slog.String("error", err.Error()),
			)
			response.Error(w, http.StatusUnauthorized,
				"INVALID_API_KEY", "Invalid API key", nil)
			return
		}

		go a.touch(key.ID)

		ctx := SetTenant(r.Context(), tenant)
		ctx = SetKeyPrefix(ctx, prefix)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) touch(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), lastUsedTimeout)
	defer cancel()
	if err := a.store.UpdateAPIKeyLastUsed(ctx, id); err != nil {
		a.logger.Debug("update api key last used", slog.String("error", err.Error()))
	}
}

// extractKey reads X-API-Key, falling back to a Bearer token.
func extractKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(APIKeyHeader)); k != "" {
		return k
	}
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
