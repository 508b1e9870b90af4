// Package handshake 驱动会话授权的完整生命周期：构造授权请求引用、
// 轮询远端审批结果，并在授权完成时把凭据原子化落盘。流程是一个
// 单向状态机：Idle -> RequestBuilt -> Polling -> {Authorized, TimedOut, Failed}。
package handshake

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"StarkSession/internal/api"
	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/felt"
	"StarkSession/internal/keystore"
	"StarkSession/internal/policy"
	"StarkSession/internal/session"
	"StarkSession/pkg/logger"
)

// State 表示握手所处的阶段。
type State string

const (
	StateIdle         State = "idle"
	StateRequestBuilt State = "request_built"
	StatePolling      State = "polling"
	StateAuthorized   State = "authorized"
	StateTimedOut     State = "timed_out"
	StateFailed       State = "failed"
)

const (
	// DefaultPollInterval 是两次远端查询之间的等待时间。
	DefaultPollInterval = 3 * time.Second
	// DefaultBudget 是放弃轮询前的总预算。
	DefaultBudget = 6 * time.Minute
)

// Clock 抽象时间来源，测试中可注入假时钟驱动轮询。
type Clock interface {
	Now() time.Time
	// Sleep 阻塞 d 时长，ctx 取消时提前返回其错误。
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Lookup 抽象远端授权结果查询。(nil, nil) 表示审批尚未完成。
type Lookup interface {
	QuerySessionInfo(ctx context.Context, keyGUID string) (*api.SessionInfo, error)
}

var _ Lookup = (*api.Client)(nil)

// Request 是等待远端审批的授权请求。
type Request struct {
	// URL 是用户需要在浏览器中打开的授权页面。
	URL string
	// ShortURL 是可选的短链，仅用于展示。
	ShortURL string

	PublicKey felt.Felt
	KeyGUID   felt.Felt
	Policy    *policy.Document
	RPCURL    string
}

// DisplayURL 返回展示给用户的地址，优先短链。
func (r *Request) DisplayURL() string {
	if r.ShortURL != "" {
		return r.ShortURL
	}
	return r.URL
}

// BuildRequest 构造授权请求引用。mode=cli 告知远端不要在回跳中携带
// 会话数据，凭据随后通过查询接口获取。
func BuildRequest(keychainURL string, publicKey felt.Felt, doc *policy.Document, rpcURL string) (*Request, error) {
	if publicKey.IsZero() {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "会话公钥不能为零")
	}
	if doc == nil || len(doc.Contracts) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "授权请求必须携带非空策略文档",
			xerrors.WithHint("使用 --file 提供策略文件，或使用 --preset 加载预设策略"))
	}
	if strings.TrimSpace(rpcURL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "授权请求缺少 RPC 地址")
	}

	base, err := url.Parse(strings.TrimSpace(keychainURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "keychain 地址无效: "+keychainURL)
	}

	encoded, err := doc.EncodeForURL()
	if err != nil {
		return nil, err
	}

	base.Path = strings.TrimRight(base.Path, "/") + "/session"
	query := base.Query()
	query.Set("public_key", publicKey.String())
	query.Set("policies", encoded)
	query.Set("rpc_url", rpcURL)
	query.Set("mode", "cli")
	base.RawQuery = query.Encode()

	return &Request{
		URL:       base.String(),
		PublicKey: publicKey,
		KeyGUID:   keystore.KeyGUID(publicKey),
		Policy:    doc,
		RPCURL:    rpcURL,
	}, nil
}

// Handshake 负责轮询远端审批结果并持久化凭据。
type Handshake struct {
	lookup   Lookup
	store    session.Store
	clock    Clock
	interval time.Duration
	budget   time.Duration

	state State
}

// Option 调整握手行为。
type Option func(*Handshake)

// WithClock 注入自定义时钟。
func WithClock(clock Clock) Option {
	return func(h *Handshake) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithPollInterval 调整轮询间隔。
func WithPollInterval(interval time.Duration) Option {
	return func(h *Handshake) {
		if interval > 0 {
			h.interval = interval
		}
	}
}

// WithBudget 调整轮询总预算。
func WithBudget(budget time.Duration) Option {
	return func(h *Handshake) {
		if budget > 0 {
			h.budget = budget
		}
	}
}

// New 创建握手执行器。
func New(lookup Lookup, store session.Store, opts ...Option) *Handshake {
	h := &Handshake{
		lookup:   lookup,
		store:    store,
		clock:    systemClock{},
		interval: DefaultPollInterval,
		budget:   DefaultBudget,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// State 返回当前状态，供状态上报使用。
func (h *Handshake) State() State { return h.state }

// Await 轮询远端直到审批完成、预算耗尽或上下文取消。凭据只有在
// 授权成功时才写入存储；超时与失败不留任何部分状态。
func (h *Handshake) Await(ctx context.Context, req *Request) (*session.Credentials, error) {
	if req == nil {
		h.state = StateFailed
		return nil, xerrors.New(xerrors.CodeInvalidInput, "授权请求不能为空")
	}
	h.state = StatePolling

	guid := req.KeyGUID.String()
	deadline := h.clock.Now().Add(h.budget)

	// 先立即查询一次：若远端早已批准（重复授权场景），直接复用结果。
	for attempt := 0; ; attempt++ {
		info, err := h.lookup.QuerySessionInfo(ctx, guid)
		if err != nil {
			if ctx.Err() != nil {
				h.state = StateFailed
				return nil, xerrors.Wrap(xerrors.CodeCallbackTimeout, ctx.Err(), "等待授权被中断")
			}
			// 瞬时查询失败不终止轮询
			logger.Named("handshake").Warn("授权查询失败，稍后重试", slog.Int("attempt", attempt), slog.Any("error", err))
		} else if info != nil {
			creds, convErr := h.finalize(ctx, req, info)
			if convErr != nil {
				h.state = StateFailed
				return nil, convErr
			}
			h.state = StateAuthorized
			logger.Audit().Info("会话授权完成",
				slog.String("key_guid", guid),
				slog.String("account", creds.AccountAddress.String()),
				slog.String("chain", creds.ChainName()),
				slog.Int64("expires_at", creds.ExpiresAt),
			)
			return creds, nil
		}

		if !h.clock.Now().Add(h.interval).Before(deadline) {
			h.state = StateTimedOut
			return nil, xerrors.New(xerrors.CodeCallbackTimeout, "等待授权超时",
				xerrors.WithHint("确认浏览器中已完成授权后重新执行 authorize"))
		}
		if err := h.clock.Sleep(ctx, h.interval); err != nil {
			h.state = StateFailed
			return nil, xerrors.Wrap(xerrors.CodeCallbackTimeout, err, "等待授权被中断")
		}
	}
}

// finalize 把远端返回的会话信息转换为本地凭据并落盘。
func (h *Handshake) finalize(ctx context.Context, req *Request, info *api.SessionInfo) (*session.Credentials, error) {
	authorization, err := info.AuthorizationFelts()
	if err != nil {
		return nil, err
	}
	address, err := info.AddressFelt()
	if err != nil {
		return nil, err
	}
	chainID, err := info.ChainIDFelt()
	if err != nil {
		return nil, err
	}
	if info.ExpiresAt <= 0 {
		return nil, xerrors.New(xerrors.CodeLookupFailure, "远端返回的过期时间无效")
	}

	signer, err := convertSigner(info.OwnerSigner)
	if err != nil {
		return nil, err
	}

	rpcURL := req.RPCURL
	if strings.TrimSpace(info.RPCURL) != "" {
		rpcURL = info.RPCURL
	}

	creds := &session.Credentials{
		KeyGUID:        req.KeyGUID.String(),
		PublicKey:      req.PublicKey,
		AccountAddress: address,
		AccountID:      info.Username,
		ChainID:        chainID,
		ExpiresAt:      info.ExpiresAt,
		Authorization:  authorization,
		RPCURL:         rpcURL,
		OwnerSigner:    signer,
		PolicySnapshot: req.Policy.Clone(),
		CreatedAt:      h.clock.Now().Unix(),
	}

	// 远端可能只批准了请求策略的子集，以其上报为准。
	if authorized := decodeAuthorizedPolicy(info.Policies); authorized != nil {
		creds.AuthorizedPolicy = authorized
		if !authorized.Equal(req.Policy) {
			creds.PolicyDiverged = true
			logger.Named("handshake").Warn("远端批准的策略与请求不一致", slog.String("key_guid", creds.KeyGUID))
		}
	}

	if err := h.store.Save(ctx, creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// convertSigner 校验签名方变体。内部数据原样保存，不做解析。
func convertSigner(envelope api.SignerEnvelope) (session.OwnerSigner, error) {
	kind := session.SignerKind(strings.ToLower(strings.TrimSpace(envelope.Kind)))
	switch kind {
	case session.SignerStarknet, session.SignerWebauthn:
		return session.OwnerSigner{Kind: kind, Data: envelope.Raw}, nil
	default:
		return session.OwnerSigner{}, xerrors.Newf(xerrors.CodeLookupFailure,
			"远端返回了无法识别的签名方类型: %q", envelope.Kind)
	}
}

// decodeAuthorizedPolicy 尽力解析远端上报的策略，失败时返回 nil。
func decodeAuthorizedPolicy(raw json.RawMessage) *policy.Document {
	if len(raw) == 0 {
		return nil
	}
	doc, err := policy.Unmarshal(raw)
	if err != nil {
		return nil
	}
	return doc
}
