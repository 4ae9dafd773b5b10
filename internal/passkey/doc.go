// Package passkey implements the credential capability over WebAuthn.
//
// The daemon cannot reach the platform authenticator itself; the browser can.
// So the capability's blocking Create/Get calls are realized as a
// message-passing round-trip: the call parks on a pending prompt, the UI
// discovers it via Pending, runs the begin/finish ceremony against the
// go-webauthn relying party, and the finish (or cancel) resolves the parked
// call with the assertion outcome.
//
// The PRF extension carries the PIN digest as the evaluation input on both
// registration and assertion, and the hardware secret is read back from
// prf.results.first in the client extension outputs. A ceremony that
// completes without a PRF output resolves the call with ErrSecretMissing,
// which callers treat as fatal for the device.
//
// Exactly one prompt may be pending at a time, mirroring the session
// manager's serialization of authenticate calls.
package passkey
