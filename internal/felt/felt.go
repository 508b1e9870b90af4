// Package felt implements the field element used to encode every on-chain
// call argument, together with the textual encodings the CLI accepts.
package felt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// modulus is the Stark field prime, 2^251 + 17*2^192 + 1. Every felt is a
// canonical representative strictly below it.
var modulus = uint256.MustFromHex("0x800000000000011000000000000000000000000000000000000000000000001")

// maxShortStringLen is the byte capacity of a short-string encoded felt.
const maxShortStringLen = 31

// Felt is a single Stark field element. The zero value is the felt 0 and the
// type is comparable with ==.
type Felt struct {
	v uint256.Int
}

// Zero is the felt 0.
var Zero = Felt{}

// FromUint64 builds a felt from a machine integer.
func FromUint64(n uint64) Felt {
	var f Felt
	f.v.SetUint64(n)
	return f
}

// FromBytesBE interprets b as a big-endian unsigned integer. It fails when
// the value is not below the field modulus or b exceeds 32 bytes.
func FromBytesBE(b []byte) (Felt, error) {
	if len(b) > 32 {
		return Felt{}, fmt.Errorf("felt value exceeds 32 bytes (got %d)", len(b))
	}
	var f Felt
	f.v.SetBytes(b)
	if !f.v.Lt(modulus) {
		return Felt{}, fmt.Errorf("value 0x%x is not below the field modulus", b)
	}
	return f, nil
}

// Parse reads a felt from its textual form: a 0x-prefixed hexadecimal
// literal or a bare decimal literal. The hex prefix and digits are accepted
// in either case.
func Parse(s string) (Felt, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Felt{}, fmt.Errorf("empty felt value")
	}

	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		// FromHex rejects leading zeros but addresses are routinely
		// zero-padded (0x049d... == 0x49d...), so strip them first.
		digits := strings.TrimLeft(strings.ToLower(s[2:]), "0")
		if digits == "" {
			if len(s) == 2 {
				return Felt{}, fmt.Errorf("invalid felt value %q: no digits", s)
			}
			return Felt{}, nil
		}
		v, err = uint256.FromHex("0x" + digits)
	} else {
		digits := strings.TrimLeft(s, "0")
		if digits == "" {
			return Felt{}, nil
		}
		v, err = uint256.FromDecimal(digits)
	}
	if err != nil {
		return Felt{}, fmt.Errorf("invalid felt value %q: %w", s, err)
	}
	if !v.Lt(modulus) {
		return Felt{}, fmt.Errorf("felt value %q is not below the field modulus", s)
	}
	return Felt{v: *v}, nil
}

// FromUint256 reduces nothing: it fails when v does not fit the field.
func FromUint256(v *uint256.Int) (Felt, error) {
	if v == nil {
		return Felt{}, nil
	}
	if !v.Lt(modulus) {
		return Felt{}, fmt.Errorf("value %s is not below the field modulus", v.Hex())
	}
	return Felt{v: *v}, nil
}

// EncodeShortString packs up to 31 ASCII bytes into a single felt,
// big-endian, the Cairo short-string convention.
func EncodeShortString(s string) (Felt, error) {
	if len(s) > maxShortStringLen {
		return Felt{}, fmt.Errorf("short string %q exceeds %d bytes", s, maxShortStringLen)
	}
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return Felt{}, fmt.Errorf("short string %q contains a non-ASCII byte at index %d", s, i)
		}
	}
	var f Felt
	f.v.SetBytes([]byte(s))
	return f, nil
}

// DecodeShortString reverses EncodeShortString. Non-printable results are
// reported as an error so chain ids decoded from RPC stay readable.
func DecodeShortString(f Felt) (string, error) {
	raw := f.v.Bytes()
	for _, b := range raw {
		if b < 0x20 || b > 0x7e {
			return "", fmt.Errorf("felt %s does not decode to a printable short string", f.String())
		}
	}
	return string(raw), nil
}

// Selector derives the Starknet entrypoint selector for a method name:
// Keccak-256 truncated to 250 bits.
func Selector(name string) (Felt, error) {
	if name == "" {
		return Felt{}, fmt.Errorf("entrypoint name is empty")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c != '_' && (c < '0' || c > '9') && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return Felt{}, fmt.Errorf("entrypoint name %q contains invalid character %q", name, c)
		}
	}
	h := crypto.Keccak256([]byte(name))
	h[0] &= 0x03
	var f Felt
	f.v.SetBytes(h)
	return f, nil
}

// Bytes32 returns the 32-byte big-endian representation.
func (f Felt) Bytes32() [32]byte {
	return f.v.Bytes32()
}

// IsZero reports whether the felt is 0.
func (f Felt) IsZero() bool {
	return f.v.IsZero()
}

// Uint256 returns a copy of the underlying integer.
func (f Felt) Uint256() *uint256.Int {
	v := f.v
	return &v
}

// String renders the felt as minimal 0x-prefixed lowercase hex.
func (f Felt) String() string {
	return f.v.Hex()
}

// Decimal renders the felt in base 10.
func (f Felt) Decimal() string {
	return f.v.Dec()
}

// MarshalJSON encodes the felt as its hex string form.
func (f Felt) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON accepts the same textual forms as Parse.
func (f *Felt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
