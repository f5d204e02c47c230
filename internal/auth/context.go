package auth

import "context"

type contextKey string

const userContextKey contextKey = "user"

// SetUserContext attaches verified claims to ctx.
func SetUserContext(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// GetUserFromContext retrieves claims attached by SetUserContext.
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(userContextKey).(*Claims)
	return claims, ok
}
