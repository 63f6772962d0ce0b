package auth

import (
	"context"
	"errors"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

var ErrNoIdentity = errors.New("auth: no identity in context")

type identityKey struct{}

// ContextWith returns ctx carrying id.
func ContextWith(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func WithIdentity(ctx context.Context, userID, organizationID, role string) context.Context {
	return ContextWith(ctx, Identity{UserID: userID, OrganizationID: organizationID, Role: role})
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func UserID(ctx context.Context) (string, error) {
	return field(ctx, func(id Identity) string { return id.UserID })
}

func OrganizationID(ctx context.Context) (string, error) {
	return field(ctx, func(id Identity) string { return id.OrganizationID })
}

func Role(ctx context.Context) (string, error) {
	return field(ctx, func(id Identity) string { return id.Role })
}

func field(ctx context.Context, get func(Identity) string) (string, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", ErrNoIdentity
	}
	if v := get(id); v != "" {
		return v, nil
	}
	return "", ErrNoIdentity
}
