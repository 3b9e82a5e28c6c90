package auth

import "context"

type contextKey string

const contextKeyIdentity contextKey = "auth.identity"

// WithIdentity stores the verified device identity in context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext extracts the device identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	identity, ok := ctx.Value(contextKeyIdentity).(Identity)
	if !ok || identity.DeviceID == "" {
		return Identity{}, false
	}
	return identity, true
}

// DeviceIDFromContext extracts the bound device id from context.
func DeviceIDFromContext(ctx context.Context) string {
	identity, _ := IdentityFromContext(ctx)
	return identity.DeviceID
}
