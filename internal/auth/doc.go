// Package auth protects the HomeNet API with a single administrator login.
//
// The administrator credential comes from configuration: a username and
// an Argon2id password hash in PHC format. A successful login returns a
// short-lived HS256 JWT, which the API middleware validates by signature
// and expiry only.
//
// Authentication is off when no JWT secret is configured.
package auth
