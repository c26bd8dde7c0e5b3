// Package identity is the credential store: users, their normalized emails
// and their password hashes. Hashing itself lives in security/password; this
// package only persists the result.
package identity
