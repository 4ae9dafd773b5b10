// ABOUTME: In-memory signing account built on go-ethereum's secp256k1 primitives
// ABOUTME: Signs EIP-191 personal messages with 65-byte recoverable signatures

package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrDestroyed is returned when signing is attempted after Destroy.
var ErrDestroyed = errors.New("account destroyed")

// SignatureLength is the size of a recoverable secp256k1 signature.
const SignatureLength = 65

// Signature is a 65-byte [R || S || V] recoverable signature with the
// personal-message convention V in {27, 28}.
type Signature [SignatureLength]byte

// Hex returns the 0x-prefixed hex encoding of the signature.
func (s Signature) Hex() string {
	return "0x" + hex.EncodeToString(s[:])
}

// Account pairs a private key with its derived address. The key lives only
// in memory; the account owns it exclusively until Destroy.
type Account struct {
	// mu serializes signing against teardown so Destroy can never zero the
	// scalar out from under an in-flight SignText.
	mu        sync.Mutex
	key       *ecdsa.PrivateKey
	address   common.Address
	destroyed bool
}

// FromKey wraps a derived private key into a signing account.
func FromKey(key *ecdsa.PrivateKey) *Account {
	return &Account{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the account's Ethereum address.
func (a *Account) Address() common.Address {
	return a.address
}

// SignText signs msg under the EIP-191 personal-message scheme and returns
// the recoverable signature.
func (a *Account) SignText(msg []byte) (Signature, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var sig Signature
	if a.destroyed {
		return sig, ErrDestroyed
	}

	raw, err := crypto.Sign(accounts.TextHash(msg), a.key)
	if err != nil {
		return sig, err
	}

	copy(sig[:], raw)
	// crypto.Sign yields V in {0, 1}; personal_sign expects {27, 28}.
	sig[64] += 27
	return sig, nil
}

// Destroy zeroizes the private key material. The account is unusable after.
func (a *Account) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.destroyed = true
	if a.key != nil && a.key.D != nil {
		a.key.D.Set(big.NewInt(0))
	}
	a.key = nil
}
