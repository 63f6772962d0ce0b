package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims carry one organization per token. Acting on another tenant is a
// server-side decision (super_admin), never a claim.
type Claims struct {
	jwt.RegisteredClaims

	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	Role           string    `json:"role"`
	TokenType      TokenType `json:"token_type"`
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, OrganizationID: c.OrganizationID, Role: c.Role}
}

func (c Claims) check(expected TokenType) error {
	switch {
	case c.TokenType != expected:
		return errors.New("token_type mismatch")
	case c.UserID == "":
		return errors.New("user_id missing")
	case c.OrganizationID == "":
		return errors.New("organization_id missing")
	case c.Role == "":
		return errors.New("role missing")
	}
	return nil
}
