// Package identity establishes and tracks the session identity of the
// gallery: an anonymous visitor or an authenticated account, plus the
// policy deciding which identity counts as the administering artist.
package identity

import (
	"errors"
	"strings"

	"atelier/api/internal/util"
)

// Identity is the resolved session identity. The zero value means no
// identity has been established yet.
type Identity struct {
	UserID    string
	Email     string
	Anonymous bool
}

func (i Identity) IsZero() bool {
	return i == Identity{}
}

// NewAnonymous mints a fresh anonymous visitor identity.
func NewAnonymous() Identity {
	return Identity{UserID: util.NewID("guest"), Anonymous: true}
}

// Policy decides whether an identity may administer the gallery. It is a
// deployment-time constant injected at construction, never user-configurable.
type Policy func(Identity) bool

// AdminEmail admits only the designated artist address.
func AdminEmail(addr string) Policy {
	addr = strings.ToLower(strings.TrimSpace(addr))
	return func(id Identity) bool {
		if addr == "" || id.Anonymous {
			return false
		}
		return strings.ToLower(id.Email) == addr
	}
}

// AnyAuthenticated admits every non-anonymous account.
func AnyAuthenticated() Policy {
	return func(id Identity) bool {
		return !id.IsZero() && !id.Anonymous
	}
}

// Mode selects between signing in to an existing account and creating one.
type Mode string

const (
	ModeSignIn Mode = "signIn"
	ModeSignUp Mode = "signUp"
)

var (
	// ErrInvalidCredentials is the only login failure shown to callers,
	// regardless of the underlying provider error.
	ErrInvalidCredentials = errors.New("incorrect email or password")

	// ErrEmailNotVerified is returned while an account is pending email
	// verification.
	ErrEmailNotVerified = errors.New("email not verified")
)
