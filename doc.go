// Package auth is the client side session layer of the studio app. It
// signs users in through a hosted identity provider, keeps the matching
// profile document in sync and decides where each role may go.
//
// Sign in:
//   - IdentityClient wraps an IdentityProvider (see provider/firebase) and
//     runs the account gate after every successful sign in. Inactive
//     profiles are signed out before the session resolves.
//   - Migrator moves legacy documents keyed by email onto the uid keyed
//     document and removes duplicates of the same email.
//
// Session:
//   - SessionController owns the auth state subscription and drives a
//     ProfileReconciler per identity. The SessionStore is the single source
//     for guards, the realtime manager and the HTTP shell.
//   - Guards are pure functions of SessionState; middleware/guardware maps
//     their decisions onto go-router routes.
//
// Activity sinks:
//   - ActivitySink receives sign in, sign out and profile events. Sinks run
//     best-effort (errors are logged); activitymap shapes events for logs.
package auth
