// Package session 持久化授权完成后的会话凭据，并以密钥身份为键提供
// 幂等读取。凭据只有在握手进入 Authorized 状态时才会落盘。
package session

import (
	"context"
	"encoding/json"
	"time"

	"StarkSession/internal/felt"
	"StarkSession/internal/policy"
)

// SignerKind 标记远端报告的签名方变体。核心将其视为不透明凭据，
// 除了拒绝不认识的变体外不解析内部结构。
type SignerKind string

const (
	SignerStarknet SignerKind = "starknet"
	SignerWebauthn SignerKind = "webauthn"
)

// OwnerSigner 是远端报告的所有者签名方描述。Data 原样存储转发。
type OwnerSigner struct {
	Kind SignerKind      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Credentials 是一次成功授权的终态产物。
type Credentials struct {
	// KeyGUID 是由会话公钥派生的确定性标识，也是存储键。
	KeyGUID   string    `json:"key_guid"`
	PublicKey felt.Felt `json:"public_key"`

	AccountAddress felt.Felt   `json:"account_address"`
	AccountID      string      `json:"account_id,omitempty"`
	ChainID        felt.Felt   `json:"chain_id"`
	ExpiresAt      int64       `json:"expires_at"`
	Authorization  []felt.Felt `json:"authorization"`
	RPCURL         string      `json:"rpc_url"`
	OwnerSigner    OwnerSigner `json:"owner_signer"`

	// PolicySnapshot 是本地请求授权时使用的策略文档。
	PolicySnapshot *policy.Document `json:"policy_snapshot"`
	// AuthorizedPolicy 是远端报告的实际批准策略，可能与请求不同。
	AuthorizedPolicy *policy.Document `json:"authorized_policy,omitempty"`
	// PolicyDiverged 标记两份快照不一致，提示调用方留意部分批准。
	PolicyDiverged bool `json:"policy_diverged,omitempty"`

	CreatedAt int64 `json:"created_at"`
}

// Expired 判断会话在 now 时刻是否过期。到期时刻本身视为已过期。
func (c *Credentials) Expired(now time.Time) bool {
	return c == nil || now.Unix() >= c.ExpiresAt
}

// ChainName 尝试将链 ID 解码为可读短串（如 SN_SEPOLIA），失败时退回十六进制。
func (c *Credentials) ChainName() string {
	if name, err := felt.DecodeShortString(c.ChainID); err == nil && name != "" {
		return name
	}
	return c.ChainID.String()
}

// EffectivePolicy 返回策略校验应使用的快照：优先远端批准的版本。
func (c *Credentials) EffectivePolicy() *policy.Document {
	if c == nil {
		return nil
	}
	if c.AuthorizedPolicy != nil {
		return c.AuthorizedPolicy
	}
	return c.PolicySnapshot
}

// Store 抽象会话凭据的持久化后端，实现必须对并发进程安全。
type Store interface {
	Save(ctx context.Context, creds *Credentials) error
	// Load 返回 keyGUID 对应的凭据；不存在是预期状况，返回 (nil, nil)。
	Load(ctx context.Context, keyGUID string) (*Credentials, error)
	List(ctx context.Context, opts ...ListOption) ([]*Credentials, error)
	Clear(ctx context.Context, keyGUID string) error
	ClearAll(ctx context.Context) error
	Close() error
}
