package service

import (
	"fmt"

	"auth-security/internal/config"
)

// Identity is the authenticated caller taken from the bearer token
type Identity struct {
	UserID string
	Roles  []string
}

func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AccessPolicy decides whose event logs a caller may read:
// admins read anyone's, users read only their own.
type AccessPolicy struct {
	AdminRole string
	UserRole  string
}

func NewAccessPolicy(cfg config.AuthConfig) AccessPolicy {
	p := AccessPolicy{AdminRole: cfg.AdminRole, UserRole: cfg.UserRole}
	if p.AdminRole == "" {
		p.AdminRole = "ADMIN"
	}
	if p.UserRole == "" {
		p.UserRole = "USER"
	}
	return p
}

func (p AccessPolicy) Authorize(caller Identity, userID string) error {
	if caller.HasRole(p.AdminRole) {
		return nil
	}
	if caller.HasRole(p.UserRole) && caller.UserID != "" && caller.UserID == userID {
		return nil
	}
	return fmt.Errorf("%w: %s may not read events of %s", ErrAccessDenied, caller.UserID, userID)
}
