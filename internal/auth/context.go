package auth

import (
	"context"
	"strings"
)

type ctxKey string

const (
	partyKey ctxKey = "auth_party"
	rolesKey ctxKey = "auth_roles"
)

// ContextWithParty stores the caller identity in the context.
func ContextWithParty(ctx context.Context, party string, roles []string) context.Context {
	ctx = context.WithValue(ctx, partyKey, strings.TrimSpace(party))
	if len(roles) > 0 {
		ctx = context.WithValue(ctx, rolesKey, dedupeRoles(roles))
	}
	return ctx
}

// PartyFromContext extracts the authenticated caller identity from context.
func PartyFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(partyKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// RolesFromContext returns the roles stored in context (deduplicated and lower-cased).
func RolesFromContext(ctx context.Context) []string {
	v, ok := ctx.Value(rolesKey).([]string)
	if !ok || len(v) == 0 {
		return nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return out
}

// HasRole checks whether the context contains the specified role.
func HasRole(ctx context.Context, role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range RolesFromContext(ctx) {
		if r == role {
			return true
		}
	}
	return false
}
