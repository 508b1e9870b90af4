// Package keystore 管理会话签名密钥对：在本地生成、以属主限定权限落盘，
// 私钥永不离开本机。
package keystore

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"

	starkcurve "github.com/consensys/gnark-crypto/ecc/stark-curve"
	"github.com/consensys/gnark-crypto/ecc/stark-curve/fr"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/felt"
	"StarkSession/internal/lockfile"
)

const (
	signerFileName = "session_signer.json"
	lockFileName   = "signer.lock"
)

// Keypair 是一组会话签名密钥。PrivateKey 是机密，仅在签名时使用。
type Keypair struct {
	PublicKey  felt.Felt `json:"public_key"`
	PrivateKey felt.Felt `json:"private_key"`
}

// keyGUIDDomain 是派生密钥标识时的域分隔前缀。
const keyGUIDDomain = "Starknet Signer"

// KeyGUID 由会话公钥派生确定性标识，同一公钥永远得到同一标识。
// 远端查询与本地会话存储都以它为键。
func KeyGUID(publicKey felt.Felt) felt.Felt {
	pub := publicKey.Bytes32()
	hash := crypto.Keccak256([]byte(keyGUIDDomain), pub[:])
	// 截断到域内
	hash[0] &= 0x03
	guid, _ := felt.FromBytesBE(hash)
	return guid
}

// GUID 返回密钥对的确定性标识。
func (k *Keypair) GUID() felt.Felt {
	return KeyGUID(k.PublicKey)
}

// Store 是文件后端的密钥存储。
type Store struct {
	dir string
}

// NewStore 构造指向 dir 的密钥存储，目录不存在时创建。
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "create keystore directory")
	}
	return &Store{dir: dir}, nil
}

// Dir 返回存储目录。
func (s *Store) Dir() string {
	return s.dir
}

// Generate 生成并持久化一组新的 stark 曲线密钥对。已有密钥时必须显式
// 传入 overwrite，避免悄悄替换一个可能已被授权的公钥。
func (s *Store) Generate(overwrite bool) (*Keypair, error) {
	lock, err := lockfile.Acquire(filepath.Join(s.dir, lockFileName))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "lock keystore")
	}
	defer lock.Release()

	path := filepath.Join(s.dir, signerFileName)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil, xerrors.New(xerrors.CodeInvalidInput,
				"a session keypair already exists",
				xerrors.WithHint("pass --overwrite to replace it, or 'starksession clear' to remove all session state"))
		}
	}

	keypair, err := newKeypair()
	if err != nil {
		return nil, err
	}
	if err := s.writeSigner(path, keypair); err != nil {
		return nil, err
	}
	return keypair, nil
}

// Load 读取已持久化的密钥对，不存在时返回 (nil, nil)。
func (s *Store) Load() (*Keypair, error) {
	lock, err := lockfile.Acquire(filepath.Join(s.dir, lockFileName))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "lock keystore")
	}
	defer lock.Release()

	raw, err := os.ReadFile(filepath.Join(s.dir, signerFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read session signer")
	}

	var keypair Keypair
	if err := json.Unmarshal(raw, &keypair); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "parse session signer")
	}
	return &keypair, nil
}

// Require 与 Load 相同，但缺失时返回 NO_KEYPAIR。
func (s *Store) Require() (*Keypair, error) {
	keypair, err := s.Load()
	if err != nil {
		return nil, err
	}
	if keypair == nil {
		return nil, xerrors.New(xerrors.CodeNoKeypair, "")
	}
	return keypair, nil
}

// Clear 删除已持久化的密钥对。不存在时是无操作。
func (s *Store) Clear() error {
	lock, err := lockfile.Acquire(filepath.Join(s.dir, lockFileName))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "lock keystore")
	}
	defer lock.Release()

	if err := os.Remove(filepath.Join(s.dir, signerFileName)); err != nil && !os.IsNotExist(err) {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "remove session signer")
	}
	return nil
}

func (s *Store) writeSigner(path string, keypair *Keypair) error {
	raw, err := json.MarshalIndent(keypair, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode session signer")
	}

	tmp, err := os.CreateTemp(s.dir, ".signer-*")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "create signer temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "restrict signer permissions")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "write session signer")
	}
	if err := tmp.Close(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "flush session signer")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "persist session signer")
	}
	return nil
}

// newKeypair 在 stark 曲线上生成随机标量与对应公钥（基点倍乘结果的 x 坐标）。
func newKeypair() (*Keypair, error) {
	var scalar *big.Int
	for {
		k, err := rand.Int(rand.Reader, fr.Modulus())
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "sample private key scalar")
		}
		if k.Sign() != 0 {
			scalar = k
			break
		}
	}

	var point starkcurve.G1Affine
	point.ScalarMultiplicationBase(scalar)
	x := point.X.Bytes()

	publicKey, err := felt.FromBytesBE(x[:])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "derive public key")
	}
	privateKey, err := felt.FromBytesBE(scalar.Bytes())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode private key")
	}
	return &Keypair{PublicKey: publicKey, PrivateKey: privateKey}, nil
}
