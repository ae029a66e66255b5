// Package tenantx carries the resolved tenant through request contexts. The
// tenant middleware is the only writer; everything downstream reads.
package tenantx

import "context"

type contextKey int

const tenantKey contextKey = iota

// TenantContext identifies the tenant a request is scoped to.
type TenantContext struct {
	ID   string
	Slug string
}

func WithTenant(ctx context.Context, tenant TenantContext) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

func FromContext(ctx context.Context) (TenantContext, bool) {
	tenant, ok := ctx.Value(tenantKey).(TenantContext)
	return tenant, ok
}

// TenantIDFromContext returns the tenant id, or "" outside a tenant scope.
func TenantIDFromContext(ctx context.Context) string {
	tenant, _ := FromContext(ctx)
	return tenant.ID
}

// SlugFromContext returns the tenant slug, or "" outside a tenant scope.
func SlugFromContext(ctx context.Context) string {
	tenant, _ := FromContext(ctx)
	return tenant.Slug
}
