// Package auth holds the shared domain of the identity provider: the user
// read model, credential hashing, the claims permission table, service
// tokens, id token signing and the bun repositories behind them.
//
// User records:
//   - User rows are a projection of the event log. Only the projection
//     listener and rebuilds write them; every row carries the sequence of
//     the last event applied to it.
//   - Reservations hold usernames and email addresses while the event that
//     claims them is in flight. The unique indexes on the reservations table
//     are the only uniqueness guarantee.
//
// Credentials:
//   - Users carry a legacy salted digest and a bcrypt hash. CredentialStore
//     prefers the bcrypt slot and upgrades legacy-only users after a
//     successful login.
//
// Tokens:
//   - ServiceTokenCodec issues the HS256 bearer credential shared by every
//     service a principal has logged into.
//   - IDTokenSigner issues RS256 id tokens whose key is published as a JWKS.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter for logins, consent and
//     grants. Sinks run best-effort (errors are logged).
package auth
