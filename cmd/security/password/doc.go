// Package password hashes and verifies user passwords with Argon2id.
//
// Hashes use the PHC string layout ($argon2id$v=19$m=..,t=..,p=..$salt$key).
// Encoded hashes are treated as untrusted input: Verify rejects parameters far
// above the configured cost so a planted hash cannot pin the CPU.
package password
