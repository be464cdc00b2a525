package domain

import (
	"net/http"
	"time"
)

// State is the lifecycle state of the portal session.
type State string

const (
	StateUninitialized  State = "UNINITIALIZED"
	StateAuthenticating State = "AUTHENTICATING"
	StateValid          State = "VALID"
	StateInvalid        State = "INVALID"
)

// Handle is an established portal session. The cookies are applied to the
// portal HTTP client; the browser that produced them is already closed.
type Handle struct {
	// Cookies is the authenticated cookie set.
	Cookies []*http.Cookie
	// EstablishedAt is when the login completed.
	EstablishedAt time.Time
	// FromCache reports whether the handle was restored from the
	// credential store instead of a fresh login.
	FromCache bool
}

// Status is a point in time view of the session for the admin surface.
type Status struct {
	// State is the current lifecycle state.
	State State `json:"state"`
	// EstablishedAt is when the current session was created, zero if none.
	EstablishedAt time.Time `json:"established_at,omitempty"`
	// AgeSeconds is the age of the current session.
	AgeSeconds int64 `json:"age_seconds"`
	// LoginAttempts counts logins performed since startup.
	LoginAttempts int `json:"login_attempts"`
}
