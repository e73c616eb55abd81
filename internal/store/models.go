package store

import "time"

// Artwork is one gallery piece. CreatedAt is epoch milliseconds, sampled
// client-side at write time; it exists only to order the gallery.
type Artwork struct {
	ID        string
	Title     string
	Medium    string
	URL       string
	CreatedAt int64
}

type User struct {
	ID                    string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
}

// ArtworkRevision captures the title/medium a piece carried before an edit.
type ArtworkRevision struct {
	ID        int64
	ArtworkID string
	Title     string
	Medium    string
	EditedBy  string
	CreatedAt time.Time
}

// SessionIdentity is the identity payload persisted with a refresh session.
// Anonymous visitor sessions have no user row, only a generated guest id.
type SessionIdentity struct {
	UserID    string
	Email     string
	Anonymous bool
}
