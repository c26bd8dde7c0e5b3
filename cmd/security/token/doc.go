// Package token owns opaque bearer-token primitives: generation and the
// one-way digest used to store and look tokens up.
//
// Digests are HMAC-SHA256 when TRACKR_TOKEN_HMAC_KEY is configured and plain
// SHA-256 otherwise. Output is always 64 lowercase hex chars.
package token
