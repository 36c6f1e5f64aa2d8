package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/codeagent/pkg/models"
)

type contextKey string

const (
	tenantKey    contextKey = "tenant"
	keyPrefixKey contextKey = "key_prefix"
)

// SetTenant stores the authenticated tenant in ctx.
func SetTenant(ctx context.Context, t *models.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, t)
}

// GetTenant returns the tenant set by Authenticate.
func GetTenant(r *http.Request) (*models.Tenant, bool) {
	t, ok := r.Context().Value(tenantKey).(*models.Tenant)
	return t, ok && t != nil
}

// SetKeyPrefix stores the lookup prefix of the API key used for the request.
func SetKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok && prefix != ""
}
