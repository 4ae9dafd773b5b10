// ABOUTME: Tracks the single active external address bound to the signer
// ABOUTME: Validates manual input and notifies subscribers on every change

package binding

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidAddress is returned when manual input fails hex or checksum
// validation. The active binding is left unchanged.
var ErrInvalidAddress = errors.New("invalid address")

// Listener receives the new active address. A binding event fires on every
// set, including re-selection of the current address, so dependents can
// always favor re-authentication over a stale cache.
type Listener func(common.Address)

// Binding holds exactly one active address at a time.
type Binding struct {
	mu        sync.Mutex
	active    common.Address
	bound     bool
	listeners []Listener
	logger    *slog.Logger
}

// New returns an empty binding.
func New() *Binding {
	return &Binding{
		logger: slog.Default().With("component", "binding"),
	}
}

// Subscribe registers a change listener. Listeners are invoked synchronously
// from the Set call, after the binding has been updated.
func (b *Binding) Subscribe(fn Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// SetManual binds a user-typed address. The input must be a 0x-prefixed hex
// address; mixed-case input must additionally carry a valid EIP-55 checksum.
func (b *Binding) SetManual(input string) error {
	addr, err := parseAddress(input)
	if err != nil {
		return err
	}
	b.set(addr)
	return nil
}

// SetFromWallet binds an address supplied by a connected wallet. Wallet
// connectors hand over parsed addresses, so no checksum re-validation runs.
func (b *Binding) SetFromWallet(addr common.Address) {
	b.set(addr)
}

// Active returns the bound address, and whether one is bound at all.
func (b *Binding) Active() (common.Address, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active, b.bound
}

// Clear drops the active binding and notifies subscribers with the zero
// address.
func (b *Binding) Clear() {
	b.mu.Lock()
	b.active = common.Address{}
	b.bound = false
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(common.Address{})
	}
}

func (b *Binding) set(addr common.Address) {
	b.mu.Lock()
	b.active = addr
	b.bound = true
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	b.logger.Debug("address bound", "address", addr.Hex())
	for _, fn := range listeners {
		fn(addr)
	}
}

// parseAddress validates hex shape and, for mixed-case input, the EIP-55
// checksum. All-lower and all-upper input carries no checksum and is
// accepted as-is.
func parseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, ErrInvalidAddress
	}

	addr := common.HexToAddress(input)

	// IsHexAddress accepts 0x and 0X alike.
	stripped := strings.TrimPrefix(strings.TrimPrefix(input, "0x"), "0X")
	lower := strings.ToLower(stripped)
	upper := strings.ToUpper(stripped)
	if stripped != lower && stripped != upper {
		if "0x"+stripped != addr.Hex() {
			return common.Address{}, ErrInvalidAddress
		}
	}
	return addr, nil
}
