package calldata

import (
	"strings"
	"testing"

	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/felt"
)

func TestEncodeU256SplitsLowHigh(t *testing.T) {
	// 10^18 fits in the low half entirely.
	felts, err := EncodeToken("u256:1000000000000000000")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(felts) != 2 {
		t.Fatalf("expected 2 felts, got %d", len(felts))
	}
	if felts[0].String() != "0xde0b6b3a7640000" {
		t.Fatalf("unexpected low half: %s", felts[0].String())
	}
	if !felts[1].IsZero() {
		t.Fatalf("expected zero high half, got %s", felts[1].String())
	}

	// 2^128 lands exactly in the high half.
	felts, err = EncodeToken("u256:0x100000000000000000000000000000000")
	if err != nil {
		t.Fatalf("encode 2^128: %v", err)
	}
	if !felts[0].IsZero() {
		t.Fatalf("expected zero low half, got %s", felts[0].String())
	}
	if felts[1] != felt.FromUint64(1) {
		t.Fatalf("expected high half 1, got %s", felts[1].String())
	}
}

func TestEncodeShortStringToken(t *testing.T) {
	felts, err := EncodeToken("str:hello")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(felts) != 1 || felts[0].String() != "0x68656c6c6f" {
		t.Fatalf("unexpected encoding: %+v", felts)
	}
}

func TestEncodePlainFelts(t *testing.T) {
	felts, err := Encode([]string{"0x1f4", "500"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(felts) != 2 || felts[0] != felts[1] {
		t.Fatalf("hex and decimal forms of 500 should match: %+v", felts)
	}
}

func TestEncodeReportsTokenPosition(t *testing.T) {
	_, err := Encode([]string{"0x1", "not-a-felt", "0x2"})
	if err == nil {
		t.Fatal("expected error for invalid token")
	}
	if xerrors.CodeOf(err) != xerrors.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %s", xerrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "position 2") {
		t.Fatalf("error should name position 2: %v", err)
	}
}

func TestEncodeU256Invalid(t *testing.T) {
	for _, token := range []string{"u256:", "u256:notanumber", "u256:0xzz"} {
		if _, err := EncodeToken(token); err == nil {
			t.Fatalf("expected error for token %q", token)
		}
	}
}

func TestSplit(t *testing.T) {
	tokens := Split(" 0x1 , u256:5 ,str:ok ")
	if len(tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(tokens))
	}
	if tokens[0] != "0x1" || tokens[1] != "u256:5" || tokens[2] != "str:ok" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
	if got := Split("  "); got != nil {
		t.Fatalf("expected nil for blank input, got %+v", got)
	}
}
