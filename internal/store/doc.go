// Package store provides persistent bookkeeping for facewallet using SQLite.
//
// The store holds two kinds of rows:
//
//   - AccountBinding: the external address a signing session was bound to,
//     the platform credential used for it, and the derived signing address
//     last observed. The derived address is the reference point the session
//     manager checks new derivations against, so a platform that stops
//     returning consistent hardware secrets is detected instead of silently
//     producing a different key.
//   - Credential: registered passkeys (platform credential ID, COSE public
//     key, sign counter) so later assertions can be validated.
//
// Nothing here is secret material. PINs, PIN digests, hardware secrets, and
// private keys are never written to the store; losing or deleting the
// database loses convenience and the mismatch check, not the account.
//
// SQLiteStore implements Store on modernc.org/sqlite. MockStore is an
// in-memory implementation for tests.
package store
