package aml

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address is the canonical textual form of a 20-byte EVM account:
// lowercase, 0x-prefixed, 40 hex characters. It is the only form used as a
// map key anywhere in the engine.
type Address string

// ParseAddress validates s and returns its canonical form.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("%w: %q missing 0x prefix", ErrInvalidAddress, s)
	}
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Address(strings.ToLower(common.HexToAddress(s).Hex())), nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return string(a)
}

// Short renders 0x1234…abcd for log lines and chat replies.
func (a Address) Short() string {
	s := string(a)
	if len(s) < 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}
