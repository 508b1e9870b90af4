package chain

import (
	"crypto/rand"
	"math/big"

	starkcurve "github.com/consensys/gnark-crypto/ecc/stark-curve"
	"github.com/consensys/gnark-crypto/ecc/stark-curve/fr"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/felt"
)

// Signature is a stark-curve ECDSA signature pair.
type Signature struct {
	R felt.Felt
	S felt.Felt
}

// Elements returns the signature in wire order.
func (s Signature) Elements() []felt.Felt {
	return []felt.Felt{s.R, s.S}
}

// Sign produces an ECDSA signature of msgHash under privateKey on the
// stark curve. The nonce is drawn fresh for every attempt.
func Sign(privateKey, msgHash felt.Felt) (Signature, error) {
	n := fr.Modulus()

	priv := new(big.Int)
	pb := privateKey.Bytes32()
	priv.SetBytes(pb[:])
	if priv.Sign() == 0 || priv.Cmp(n) >= 0 {
		return Signature{}, xerrors.New(xerrors.CodeInvalidInput, "签名私钥不在曲线阶范围内")
	}

	z := new(big.Int)
	hb := msgHash.Bytes32()
	z.SetBytes(hb[:])
	z.Mod(z, n)

	for attempt := 0; attempt < 64; attempt++ {
		k, err := rand.Int(rand.Reader, n)
		if err != nil {
			return Signature{}, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "生成签名随机数失败")
		}
		if k.Sign() == 0 {
			continue
		}

		var point starkcurve.G1Affine
		point.ScalarMultiplicationBase(k)
		xBytes := point.X.Bytes()

		r := new(big.Int).SetBytes(xBytes[:])
		r.Mod(r, n)
		if r.Sign() == 0 {
			continue
		}

		// s = k^-1 (z + r*d) mod n
		s := new(big.Int).Mul(r, priv)
		s.Add(s, z)
		s.Mul(s, new(big.Int).ModInverse(k, n))
		s.Mod(s, n)
		if s.Sign() == 0 {
			continue
		}

		rf, err := felt.FromBytesBE(r.Bytes())
		if err != nil {
			continue
		}
		sf, err := felt.FromBytesBE(s.Bytes())
		if err != nil {
			continue
		}
		return Signature{R: rf, S: sf}, nil
	}
	return Signature{}, xerrors.New(xerrors.CodeTransactionFailed, "签名多次尝试均失败")
}

// HashElements folds a tag and a felt sequence into a single field element.
// The length is mixed in so sequences of different arity never collide.
func HashElements(tag string, elements []felt.Felt) felt.Felt {
	data := make([]byte, 0, len(tag)+(len(elements)+1)*32)
	data = append(data, []byte(tag)...)
	count := felt.FromUint64(uint64(len(elements)))
	cb := count.Bytes32()
	data = append(data, cb[:]...)
	for _, element := range elements {
		eb := element.Bytes32()
		data = append(data, eb[:]...)
	}
	hash := crypto.Keccak256(data)
	hash[0] &= 0x03
	f, _ := felt.FromBytesBE(hash)
	return f
}

// InvokeV3Hash computes the signed digest of an invoke transaction.
func InvokeV3Hash(sender, nonce, chainID felt.Felt, calldata []felt.Felt) felt.Felt {
	elements := make([]felt.Felt, 0, len(calldata)+3)
	elements = append(elements, sender, nonce, chainID)
	elements = append(elements, calldata...)
	return HashElements("invoke_v3", elements)
}

// OutsideExecutionHash computes the signed digest of an outside execution
// envelope relayed through the paymaster.
func OutsideExecutionHash(account, nonce, executeBefore, chainID felt.Felt, calldata []felt.Felt) felt.Felt {
	elements := make([]felt.Felt, 0, len(calldata)+4)
	elements = append(elements, account, nonce, executeBefore, chainID)
	elements = append(elements, calldata...)
	return HashElements("outside_execution", elements)
}
