package identity

import (
	"context"
	"fmt"
	"log"
	"sync"

	"atelier/api/internal/auth"
	"atelier/api/internal/authpw"
	"atelier/api/internal/store"
)

// Accounts is the slice of the account service the resolver needs.
type Accounts interface {
	SignUp(ctx context.Context, req authpw.SignUpRequest) (*authpw.SignUpResponse, error)
	SignIn(ctx context.Context, req authpw.SignInRequest) (*authpw.SignInResponse, error)
}

// BootstrapFunc resolves a pre-issued token to an identity at startup.
type BootstrapFunc func(ctx context.Context, token string) (Identity, error)

// UserLookup resolves a user id to its account record.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
}

// TokenBootstrap adopts a pre-issued access token at startup: the token is
// verified against the signing secret, anonymous claims become a visitor
// identity, authenticated ones must match an existing account.
func TokenBootstrap(secret []byte, users UserLookup) BootstrapFunc {
	return func(ctx context.Context, token string) (Identity, error) {
		claims, err := auth.ParseToken(secret, token)
		if err != nil {
			return Identity{}, fmt.Errorf("parse bootstrap token: %w", err)
		}
		if claims.Anon {
			return Identity{UserID: claims.Sub, Anonymous: true}, nil
		}
		user, err := users.GetUserByID(ctx, claims.Sub)
		if err != nil {
			return Identity{}, fmt.Errorf("bootstrap token account %s: %w", claims.Sub, err)
		}
		return Identity{UserID: user.ID, Email: user.Email}, nil
	}
}

// Resolver owns the current session identity and notifies subscribers on
// every transition. The gallery stays readable to visitors, so logout
// always re-establishes an anonymous identity rather than clearing it.
type Resolver struct {
	accounts  Accounts
	policy    Policy
	bootstrap BootstrapFunc

	mu       sync.Mutex
	current  Identity
	nextSub  int
	subs     map[int]func(Identity)
}

func NewResolver(accounts Accounts, policy Policy, bootstrap BootstrapFunc) *Resolver {
	return &Resolver{
		accounts:  accounts,
		policy:    policy,
		bootstrap: bootstrap,
		subs:      make(map[int]func(Identity)),
	}
}

// Initialize establishes the startup identity: a bootstrap-token session
// when a token is supplied and resolvable, otherwise an anonymous visitor
// session. Bootstrap failures degrade to anonymous; they are logged, never
// surfaced, because read access must continue.
func (r *Resolver) Initialize(ctx context.Context, bootstrapToken string) Identity {
	if bootstrapToken != "" {
		if r.bootstrap == nil {
			log.Printf("identity: bootstrap token supplied but no token resolver configured, continuing anonymously")
		} else if ident, err := r.bootstrap(ctx, bootstrapToken); err == nil {
			r.setCurrent(ident)
			return ident
		} else {
			log.Printf("identity: bootstrap token rejected, continuing anonymously: %v", err)
		}
	}

	ident := NewAnonymous()
	r.setCurrent(ident)
	return ident
}

// Current returns the current identity (zero before Initialize).
func (r *Resolver) Current() Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Subscribe registers a listener invoked on every identity transition.
// The returned cancel func unregisters it and is safe to call repeatedly.
func (r *Resolver) Subscribe(fn func(Identity)) (cancel func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Login authenticates (or creates) an account and replaces the current
// identity. Every provider rejection collapses to ErrInvalidCredentials so
// raw provider text never reaches the caller; an unverified account is the
// one distinguished case.
func (r *Resolver) Login(ctx context.Context, email, password string, mode Mode) (Identity, error) {
	switch mode {
	case ModeSignUp:
		resp, err := r.accounts.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password})
		if err != nil {
			log.Printf("identity: sign-up rejected: %v", err)
			return Identity{}, ErrInvalidCredentials
		}
		if resp.RequiresEmailVerify {
			return Identity{}, ErrEmailNotVerified
		}
		ident := Identity{UserID: resp.UserID, Email: email}
		r.setCurrent(ident)
		return ident, nil

	case ModeSignIn:
		resp, err := r.accounts.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
		if err != nil {
			log.Printf("identity: sign-in rejected: %v", err)
			return Identity{}, ErrInvalidCredentials
		}
		if resp.RequiresVerify {
			return Identity{}, ErrEmailNotVerified
		}
		ident := Identity{UserID: resp.User.ID, Email: resp.User.Email}
		r.setCurrent(ident)
		return ident, nil

	default:
		return Identity{}, ErrInvalidCredentials
	}
}

// Logout clears the authenticated identity and immediately re-establishes
// an anonymous one.
func (r *Resolver) Logout(ctx context.Context) Identity {
	ident := NewAnonymous()
	r.setCurrent(ident)
	return ident
}

// IsAdmin applies the injected policy.
func (r *Resolver) IsAdmin(id Identity) bool {
	return r.policy(id)
}

func (r *Resolver) setCurrent(ident Identity) {
	r.mu.Lock()
	r.current = ident
	listeners := make([]func(Identity), 0, len(r.subs))
	for _, fn := range r.subs {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(ident)
	}
}
