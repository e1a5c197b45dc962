// Package contextkey holds the keys under which the HTTP middleware stores
// request-scoped values. A dedicated type keeps the keys collision-free
// across packages.
package contextkey

type contextKey string

// UserIDKey is the context key for the authenticated user's id (hex string).
const UserIDKey = contextKey("userID")

// JwtErrorKey is the context key for a token validation error, when one
// occurred. Handlers decide how to react to it.
const JwtErrorKey = contextKey("jwtError")
