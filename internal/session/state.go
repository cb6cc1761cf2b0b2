package session

import "errors"

// ErrInvalidSession marks a stored token the provider would not resolve to a
// user. The session has already been reset when it is returned.
var ErrInvalidSession = errors.New("invalid session")

type State int

const (
	// Anonymous holds neither token nor user.
	Anonymous State = iota
	// SSOPending means the browser was sent to the provider to sign in.
	SSOPending
	// Exchanging means a callback code is being traded for a token.
	Exchanging
	// AuthenticatedUnresolved holds a token whose user is not known yet.
	AuthenticatedUnresolved
	// Authenticated holds both the token and its user.
	Authenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case SSOPending:
		return "sso_pending"
	case Exchanging:
		return "exchanging"
	case AuthenticatedUnresolved:
		return "authenticated_unresolved"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}
