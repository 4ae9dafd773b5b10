// ABOUTME: Deterministic secp256k1 private key derivation from a hardware secret
// ABOUTME: Rejection-samples SHA-256 chains until the scalar satisfies curve validity

package derive

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrDerivationUnreachable is returned when rejection sampling fails to find
// a valid scalar within the iteration cap. With a 256-bit hash and the
// secp256k1 order this is not expected to occur in practice; the cap exists
// so the loop stays total.
var ErrDerivationUnreachable = errors.New("key derivation did not converge")

// maxRejectionRounds bounds the rehash loop. The probability of a single
// SHA-256 output falling outside [1, N) is below 2^-128, so any bound above
// a handful of rounds is already unreachable.
const maxRejectionRounds = 128

// curveOrder is the secp256k1 group order N.
var curveOrder = crypto.S256().Params().N

// Key derives a secp256k1 private key from an opaque hardware secret and a
// domain tag. The derivation is deterministic: identical inputs produce an
// identical key on every call and on every machine.
//
// seed = SHA-256(domainTag || hardwareSecret); while seed is not a valid
// scalar (zero, or >= N), seed = SHA-256(seed). The first valid seed becomes
// the private key.
func Key(hardwareSecret, domainTag []byte) (*ecdsa.PrivateKey, error) {
	h := sha256.New()
	h.Write(domainTag)
	h.Write(hardwareSecret)
	seed := h.Sum(nil)

	for i := 0; i < maxRejectionRounds; i++ {
		if validScalar(seed) {
			// ToECDSA applies its own range check, marginally stricter than
			// ours at the top of the range. Treat its rejection as one more
			// sampling round so both checks agree on the final key.
			if key, err := crypto.ToECDSA(seed); err == nil {
				return key, nil
			}
		}
		next := sha256.Sum256(seed)
		seed = next[:]
	}
	return nil, ErrDerivationUnreachable
}

// validScalar reports whether b encodes a nonzero scalar below the curve order.
func validScalar(b []byte) bool {
	s := new(big.Int).SetBytes(b)
	return s.Sign() != 0 && s.Cmp(curveOrder) < 0
}
