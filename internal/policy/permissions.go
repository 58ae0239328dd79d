// internal/policy/permissions.go
package policy

// Closed catalog of permission identifiers, "resource:action".
// Authorization checks are exact identifier matches against precomputed
// per-role sets; no dynamic discovery at runtime.
const (
	PermProductRead    = "product:read"
	PermProductWrite   = "product:write"
	PermOrderRead      = "order:read"
	PermOrderCreate    = "order:create"
	PermOrderCancel    = "order:cancel"
	PermPaymentRead    = "payment:read"
	PermPaymentRefund  = "payment:refund"
	PermMediaUpload    = "media:upload"
	PermAnalyticsRead  = "analytics:read"
	PermNotifySend     = "notify:send"
	PermUserAdmin      = "user:admin"
	PermRoleAdmin      = "role:admin"
)

var catalog = map[string]struct{}{
	PermProductRead:   {},
	PermProductWrite:  {},
	PermOrderRead:     {},
	PermOrderCreate:   {},
	PermOrderCancel:   {},
	PermPaymentRead:   {},
	PermPaymentRefund: {},
	PermMediaUpload:   {},
	PermAnalyticsRead: {},
	PermNotifySend:    {},
	PermUserAdmin:     {},
	PermRoleAdmin:     {},
}

// KnownPermission reports whether p belongs to the closed catalog.
func KnownPermission(p string) bool {
	_, ok := catalog[p]
	return ok
}
