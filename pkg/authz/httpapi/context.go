package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/loomctx/loomctx/pkg/identity"
)

// withTenant attaches tenantID, resolved from the caller's API key, to
// ctx for downstream handlers.
func withTenant(ctx context.Context, tenantID identity.TenantID) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenantID)
}

// tenantFromContext retrieves the tenant [authenticate] attached to ctx.
// Handlers reached through the authenticated route group may assume it is
// always present.
func tenantFromContext(ctx context.Context) identity.TenantID {
	tenantID, _ := ctx.Value(tenantContextKey{}).(identity.TenantID)
	return tenantID
}

// readAndRestoreBody reads r.Body in full and replaces it with a fresh
// reader over the same bytes, so a later handler can still read the body
// after a signature-verifying middleware has consumed it.
func readAndRestoreBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
