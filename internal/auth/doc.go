// Package auth verifies operator bearer tokens and enforces scopes.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (PEM public
// key) carrying "sub" and a "scopes" array. Scope "read" covers status and
// telemetry; "control" covers starting and aborting actions and the pilot
// console.
package auth
