package draw

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Roller sources the random roll for a draw. Injected so deterministic
// rolls can be supplied in tests.
type Roller interface {
	// Roll returns a uniformly distributed integer in [0, max).
	Roll(max int64) (int64, error)
}

// CryptoRoller draws rolls from crypto/rand. Incentive outcomes must not be
// predictable, so this is the only Roller used outside tests.
type CryptoRoller struct{}

// Roll returns a cryptographically strong random integer in [0, max).
func (CryptoRoller) Roll(max int64) (int64, error) {
	if max <= 0 {
		return 0, fmt.Errorf("roll max must be positive, got %d", max)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return 0, fmt.Errorf("failed to source random roll: %w", err)
	}
	return n.Int64(), nil
}
