package identity

import "errors"

// Code exchange errors.
var (
	// ErrMissingVerifier indicates a callback with no sign-in in flight for
	// this browser: a stale bookmark, a replayed callback, or cleared storage.
	// The user has to start signing in again.
	ErrMissingVerifier = errors.New("no PKCE verifier for this sign-in")

	// ErrExchangeFailed indicates the provider rejected the code or could not
	// be reached during the exchange.
	ErrExchangeFailed = errors.New("authorization code exchange failed")
)

// Profile errors.
var (
	// ErrUnauthorized indicates the provider rejected the bearer token.
	ErrUnauthorized = errors.New("provider rejected the access token")

	// ErrNetwork indicates a transport failure or an unavailable provider.
	ErrNetwork = errors.New("identity provider unreachable")

	// ErrInvalidProfile indicates a profile response that could not be decoded.
	ErrInvalidProfile = errors.New("invalid profile response")
)
