// Package session owns the signing session state machine.
//
// A session is either Unauthenticated or Authenticated with exactly one
// cached account. Authenticate validates the PIN locally, runs the credential
// gateway's find-or-create ceremony, derives the signing key from the
// returned hardware secret, and caches the resulting account in memory.
// Nothing derived here ever touches storage.
//
// The cached account survives until Logout, until the bound external address
// changes (any binding event invalidates, even re-selecting the same
// address), or until the process exits. Authenticate calls are serialized so
// only one credential prompt can be in flight; a queued call finds the cache
// populated and returns without a hardware round-trip.
//
// Because the platform's hardware-secret consistency across devices is an
// assumption this code cannot verify, the manager records the derived address
// per bound external address (policy-controlled: none, session, persistent)
// and fails with ErrAccountMismatch when a later derivation disagrees,
// instead of silently signing with a different key.
package session
