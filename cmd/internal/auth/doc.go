// Package auth binds the realtime connection to the signed-in session.
//
// A successful login connects the realtime channel with the access token; the
// connection is dropped on logout and when the token expires. Tokens live in
// process memory only and are never verified client-side: the expiry is read
// from the unverified JWT claims.
package auth
