package agent

import (
	"strings"
	"time"

	"github.com/metislabs/metis/pkg/errors"
)

// DefaultSecurityLifetime is how long a security context stays valid after
// it is issued.
const DefaultSecurityLifetime = 300 * time.Second

// SecurityContext carries the caller's identity for a request. A context is
// only trusted for a bounded window after issuance.
type SecurityContext struct {
	Identity    string    `json:"identity"`
	AccessLevel string    `json:"access_level"`
	IssuedAt    time.Time `json:"issued_at"`
}

// NewSecurityContext issues a context for the given identity, stamped now.
func NewSecurityContext(identity, accessLevel string) *SecurityContext {
	return &SecurityContext{
		Identity:    identity,
		AccessLevel: accessLevel,
		IssuedAt:    time.Now(),
	}
}

// Validate checks the context for completeness and age against lifetime.
// Zero lifetime means DefaultSecurityLifetime.
func (sc *SecurityContext) Validate(now time.Time, lifetime time.Duration) error {
	if lifetime <= 0 {
		lifetime = DefaultSecurityLifetime
	}
	if sc == nil {
		return errors.New(errors.CodeSecurityInvalid, "security context is nil", nil)
	}
	if strings.TrimSpace(sc.Identity) == "" {
		return errors.New(errors.CodeSecurityInvalid, "security context identity is required", nil)
	}
	if strings.TrimSpace(sc.AccessLevel) == "" {
		return errors.New(errors.CodeSecurityInvalid, "security context access level is required", nil).
			WithContext("identity", sc.Identity)
	}
	if sc.IssuedAt.IsZero() {
		return errors.New(errors.CodeSecurityInvalid, "security context timestamp is required", nil).
			WithContext("identity", sc.Identity)
	}
	if age := now.Sub(sc.IssuedAt); age > lifetime {
		return errors.New(errors.CodeSecurityExpired, "security context has expired", nil).
			WithContext("identity", sc.Identity).
			WithContext("age", age.String()).
			WithContext("lifetime", lifetime.String())
	}
	return nil
}
