// Package calldata turns the CLI's textual calldata tokens into the felt
// sequence a call expects. The codec is pure: no I/O, and equal input always
// produces equal output.
package calldata

import (
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/felt"
)

const (
	prefixU256 = "u256:"
	prefixStr  = "str:"
)

// EncodeToken expands one token into one or more felts.
//
// Recognized forms, in precedence order:
//   - "u256:<dec|hex>"  a 256-bit unsigned value split into two felts,
//     low 128 bits first;
//   - "str:<text>"      a Cairo short string (at most 31 ASCII bytes);
//   - "0x<hex>"         a single felt;
//   - "<dec>"           a single felt.
func EncodeToken(token string) ([]felt.Felt, error) {
	switch {
	case strings.HasPrefix(token, prefixU256):
		return encodeU256(strings.TrimPrefix(token, prefixU256))
	case strings.HasPrefix(token, prefixStr):
		f, err := felt.EncodeShortString(strings.TrimPrefix(token, prefixStr))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "invalid short string token "+token)
		}
		return []felt.Felt{f}, nil
	default:
		f, err := felt.Parse(token)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "invalid felt token "+token)
		}
		return []felt.Felt{f}, nil
	}
}

// Encode expands every token in order. On failure the error names the
// offending token and its 1-based position.
func Encode(tokens []string) ([]felt.Felt, error) {
	out := make([]felt.Felt, 0, len(tokens))
	for i, token := range tokens {
		felts, err := EncodeToken(strings.TrimSpace(token))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err,
				"calldata token "+strings.TrimSpace(token)+" at position "+strconv.Itoa(i+1))
		}
		out = append(out, felts...)
	}
	return out, nil
}

// Split parses a comma-separated calldata string into trimmed tokens. An
// empty input yields no tokens.
func Split(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		tokens = append(tokens, strings.TrimSpace(part))
	}
	return tokens
}

func encodeU256(literal string) ([]felt.Felt, error) {
	literal = strings.TrimSpace(literal)
	if literal == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "u256 token has no value")
	}

	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(literal, "0x") || strings.HasPrefix(literal, "0X") {
		digits := strings.TrimLeft(strings.ToLower(literal[2:]), "0")
		if digits == "" {
			v = new(uint256.Int)
		} else {
			v, err = uint256.FromHex("0x" + digits)
		}
	} else {
		digits := strings.TrimLeft(literal, "0")
		if digits == "" {
			v = new(uint256.Int)
		} else {
			v, err = uint256.FromDecimal(digits)
		}
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "invalid u256 value "+literal)
	}

	// Low 128 bits first, then high, matching the Cairo u256 layout.
	b := v.Bytes32()
	low, err := felt.FromBytesBE(b[16:32])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "invalid u256 low half")
	}
	high, err := felt.FromBytesBE(b[0:16])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "invalid u256 high half")
	}
	return []felt.Felt{low, high}, nil
}

