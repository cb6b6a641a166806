package model

import (
	"context"
	"errors"
	"fmt"
)

// TenantContext identifies the (account, engagement) pair that scopes every
// read and write in the system. It is immutable after construction and safe
// for concurrent reads.
type TenantContext struct {
	AccountID    string `json:"account_id" yaml:"account_id"`
	EngagementID string `json:"engagement_id" yaml:"engagement_id"`
}

// Validate checks that both identifiers are present.
func (tc TenantContext) Validate() error {
	var errs []error
	if tc.AccountID == "" {
		errs = append(errs, fmt.Errorf("AccountID is required"))
	}
	if tc.EngagementID == "" {
		errs = append(errs, fmt.Errorf("EngagementID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Key returns a stable composite key for the tenant, suitable for use in
// lock names and cache keys.
func (tc TenantContext) Key() string {
	return tc.AccountID + "/" + tc.EngagementID
}

// Equal reports whether two tenant contexts identify the same tenant.
func (tc TenantContext) Equal(other TenantContext) bool {
	return tc.AccountID == other.AccountID && tc.EngagementID == other.EngagementID
}

type tenantKey struct{}

// WithTenantContext attaches a TenantContext to the given context.
func WithTenantContext(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, tenantKey{}, tc)
}

// TenantContextFrom extracts the TenantContext from the context. The second
// return value is false if none is present.
func TenantContextFrom(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(tenantKey{}).(TenantContext)
	return tc, ok
}

// MustTenantContext extracts the TenantContext from the context, panicking if
// it is not present. This is safe to call in handlers that are guaranteed to
// run behind the tenant-context middleware.
func MustTenantContext(ctx context.Context) TenantContext {
	tc, ok := TenantContextFrom(ctx)
	if !ok {
		panic("model: TenantContext not found in context")
	}
	return tc
}
