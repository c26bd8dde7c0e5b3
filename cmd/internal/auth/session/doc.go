// Package session implements trackr's session protocol.
//
// A login (or registration) issues a short-lived signed access assertion and
// a long-lived opaque refresh token. Refresh tokens are single use: every
// successful refresh consumes the presented token and issues a replacement in
// one atomic ledger operation. Presenting a token that was already consumed or
// revoked is treated as theft and revokes every live token of that user.
//
// Refresh tokens are stored only as digests (HMAC-SHA256 when
// TRACKR_TOKEN_HMAC_KEY is set, SHA-256 otherwise). Access assertions are
// verified statelessly.
//
// HTTP transport lives in package api; this package has no net/http dependency.
package session
