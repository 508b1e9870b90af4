// Package executor 在已授权会话的约束下执行链上调用：先做过期与策略
// 两道门禁，再按付费偏好选择 paymaster 代付或自付费路径，最后可选地
// 等待交易确认。每次执行都有独立的调用标识并写入审计日志。
package executor

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"StarkSession/internal/calldata"
	"StarkSession/internal/chain"
	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/felt"
	"StarkSession/internal/keystore"
	"StarkSession/internal/policy"
	"StarkSession/internal/session"
	"StarkSession/pkg/logger"
)

// ChainClient 抽象执行所需的节点交互，便于测试注入。
type ChainClient interface {
	Nonce(ctx context.Context, account felt.Felt) (felt.Felt, error)
	EstimateFee(ctx context.Context, req chain.InvokeRequest) (*chain.FeeEstimate, error)
	SubmitInvoke(ctx context.Context, req chain.InvokeRequest) (felt.Felt, error)
	ExecuteFromOutside(ctx context.Context, req chain.OutsideRequest) (felt.Felt, error)
	WaitForConfirmation(ctx context.Context, hash felt.Felt, timeout time.Duration) (*chain.Receipt, error)
	Close()
}

// Dialer 建立到指定 RPC 端点的连接。
type Dialer func(ctx context.Context, rpcURL string) (ChainClient, error)

// DefaultDialer 使用真实的 JSON-RPC 客户端。
func DefaultDialer(ctx context.Context, rpcURL string) (ChainClient, error) {
	return chain.Dial(ctx, rpcURL)
}

// CallInput 是一笔调用的文本形式，字段尚未解析。
type CallInput struct {
	Contract   string
	Entrypoint string
	Calldata   []string
}

// ParseCallInput 解析 "合约,入口点[,calldata...]" 形式的调用描述。
func ParseCallInput(raw string) (CallInput, error) {
	parts := strings.Split(raw, ",")
	if len(parts) < 2 {
		return CallInput{}, xerrors.Newf(xerrors.CodeInvalidInput,
			"调用描述 %q 无效，期望格式: 合约地址,入口点[,calldata...]", raw)
	}
	input := CallInput{
		Contract:   strings.TrimSpace(parts[0]),
		Entrypoint: strings.TrimSpace(parts[1]),
	}
	for _, token := range parts[2:] {
		input.Calldata = append(input.Calldata, strings.TrimSpace(token))
	}
	if input.Contract == "" || input.Entrypoint == "" {
		return CallInput{}, xerrors.Newf(xerrors.CodeInvalidInput,
			"调用描述 %q 缺少合约地址或入口点", raw)
	}
	return input, nil
}

// Options 控制单次执行的行为。
type Options struct {
	// NoPaymaster 为真时跳过代付，直接自付费执行。
	NoPaymaster bool
	// Wait 为真时阻塞等待交易确认。
	Wait bool
	// ConfirmationTimeout 是等待确认的上限，零值使用默认。
	ConfirmationTimeout time.Duration
}

// DefaultConfirmationTimeout 是等待交易确认的默认上限。
const DefaultConfirmationTimeout = 60 * time.Second

// Result 是一次执行的产物。
type Result struct {
	InvocationID    string         `json:"invocation_id"`
	TransactionHash felt.Felt      `json:"transaction_hash"`
	ChainName       string         `json:"chain"`
	UsedPaymaster   bool           `json:"used_paymaster"`
	Receipt         *chain.Receipt `json:"receipt,omitempty"`
}

// Executor 协调密钥、会话与节点三方完成一次受策略约束的执行。
type Executor struct {
	keys     *keystore.Store
	sessions session.Store
	dial     Dialer
}

// New 创建执行器。dial 为 nil 时使用真实连接。
func New(keys *keystore.Store, sessions session.Store, dial Dialer) *Executor {
	if dial == nil {
		dial = DefaultDialer
	}
	return &Executor{keys: keys, sessions: sessions, dial: dial}
}

// Execute 在当前会话下执行一组调用。会话缺失、过期或调用越权都会在
// 任何网络交互发生之前被拒绝。
func (e *Executor) Execute(ctx context.Context, inputs []CallInput, opts Options) (*Result, error) {
	keypair, err := e.keys.Require()
	if err != nil {
		return nil, err
	}
	creds, err := e.loadCredentials(ctx, keypair.PublicKey)
	if err != nil {
		return nil, err
	}
	if creds.Expired(time.Now()) {
		return nil, xerrors.New(xerrors.CodeSessionExpired, "会话已过期",
			xerrors.WithHint("重新执行 authorize 获取新的会话授权"))
	}

	calls, targets, err := buildCalls(inputs)
	if err != nil {
		return nil, err
	}
	if err := policy.Validate(creds.EffectivePolicy(), targets); err != nil {
		return nil, err
	}

	client, err := e.dial(ctx, creds.RPCURL)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	invocationID := uuid.NewString()
	flat := chain.FlattenCalls(calls)

	var hash felt.Felt
	usedPaymaster := !opts.NoPaymaster
	if usedPaymaster {
		hash, err = e.executeFromOutside(ctx, client, keypair, creds, flat)
	} else {
		hash, err = e.executeSelfFunded(ctx, client, keypair, creds, flat)
	}
	if err != nil {
		logger.Audit().Warn("会话执行失败",
			slog.String("invocation_id", invocationID),
			slog.String("account", creds.AccountAddress.String()),
			slog.Bool("paymaster", usedPaymaster),
			slog.Any("error", err),
		)
		return nil, err
	}

	result := &Result{
		InvocationID:    invocationID,
		TransactionHash: hash,
		ChainName:       creds.ChainName(),
		UsedPaymaster:   usedPaymaster,
	}
	logger.Audit().Info("会话执行已提交",
		slog.String("invocation_id", invocationID),
		slog.String("tx_hash", hash.String()),
		slog.String("account", creds.AccountAddress.String()),
		slog.String("chain", result.ChainName),
		slog.Bool("paymaster", usedPaymaster),
		slog.Int("calls", len(calls)),
	)

	if opts.Wait {
		timeout := opts.ConfirmationTimeout
		if timeout <= 0 {
			timeout = DefaultConfirmationTimeout
		}
		receipt, err := client.WaitForConfirmation(ctx, hash, timeout)
		if err != nil {
			return result, err
		}
		result.Receipt = receipt
	}
	return result, nil
}

// loadCredentials 按当前公钥定位会话凭据。
func (e *Executor) loadCredentials(ctx context.Context, publicKey felt.Felt) (*session.Credentials, error) {
	guid := keystore.KeyGUID(publicKey)
	creds, err := e.sessions.Load(ctx, guid.String())
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, xerrors.New(xerrors.CodeNoSession, "没有可用的会话",
			xerrors.WithHint("先执行 authorize 完成会话授权"))
	}
	return creds, nil
}

// buildCalls 把文本调用描述解析为链上调用与策略校验目标。
func buildCalls(inputs []CallInput) ([]chain.Call, []policy.CallTarget, error) {
	if len(inputs) == 0 {
		return nil, nil, xerrors.New(xerrors.CodeInvalidInput, "没有提供任何调用")
	}
	calls := make([]chain.Call, 0, len(inputs))
	targets := make([]policy.CallTarget, 0, len(inputs))
	for _, input := range inputs {
		contract, err := felt.Parse(input.Contract)
		if err != nil {
			return nil, nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "合约地址无效: "+input.Contract)
		}
		selector, err := felt.Selector(input.Entrypoint)
		if err != nil {
			return nil, nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "入口点无效: "+input.Entrypoint)
		}
		encoded, err := calldata.Encode(input.Calldata)
		if err != nil {
			return nil, nil, err
		}
		calls = append(calls, chain.Call{ContractAddress: contract, Selector: selector, Calldata: encoded})
		targets = append(targets, policy.CallTarget{Contract: input.Contract, Entrypoint: input.Entrypoint})
	}
	return calls, targets, nil
}

// executeFromOutside 走 paymaster 代付路径。
func (e *Executor) executeFromOutside(ctx context.Context, client ChainClient, keypair *keystore.Keypair, creds *session.Credentials, flat []felt.Felt) (felt.Felt, error) {
	nonce, err := randomFelt()
	if err != nil {
		return felt.Felt{}, err
	}
	executeBefore := felt.FromUint64(uint64(creds.ExpiresAt))

	digest := chain.OutsideExecutionHash(creds.AccountAddress, nonce, executeBefore, creds.ChainID, flat)
	signature, err := chain.Sign(keypair.PrivateKey, digest)
	if err != nil {
		return felt.Felt{}, err
	}

	return client.ExecuteFromOutside(ctx, chain.OutsideRequest{
		AccountAddress: creds.AccountAddress,
		Nonce:          nonce,
		ExecuteBefore:  executeBefore,
		Calldata:       flat,
		Signature:      sessionSignature(creds, signature),
	})
}

// executeSelfFunded 走自付费路径：估算费用后附加余量提交。
func (e *Executor) executeSelfFunded(ctx context.Context, client ChainClient, keypair *keystore.Keypair, creds *session.Credentials, flat []felt.Felt) (felt.Felt, error) {
	nonce, err := client.Nonce(ctx, creds.AccountAddress)
	if err != nil {
		return felt.Felt{}, err
	}

	request := chain.InvokeRequest{
		SenderAddress: creds.AccountAddress,
		Calldata:      flat,
		Nonce:         nonce,
	}
	estimate, err := client.EstimateFee(ctx, request)
	if err != nil {
		return felt.Felt{}, err
	}
	request.MaxGasAmount, request.MaxGasPrice, err = boundsWithMargin(estimate)
	if err != nil {
		return felt.Felt{}, err
	}

	digest := chain.InvokeV3Hash(creds.AccountAddress, nonce, creds.ChainID, flat)
	signature, err := chain.Sign(keypair.PrivateKey, digest)
	if err != nil {
		return felt.Felt{}, err
	}
	request.Signature = sessionSignature(creds, signature)

	return client.SubmitInvoke(ctx, request)
}

// sessionSignature 组装线上签名：授权签名在前，会话签名在后。
func sessionSignature(creds *session.Credentials, sig chain.Signature) []felt.Felt {
	out := make([]felt.Felt, 0, len(creds.Authorization)+2)
	out = append(out, creds.Authorization...)
	out = append(out, sig.Elements()...)
	return out
}

// boundsWithMargin 在估算值上附加 50% 余量，避免临界失败。
func boundsWithMargin(estimate *chain.FeeEstimate) (amount, price uint64, err error) {
	gas, err := parseUint(estimate.GasConsumed)
	if err != nil {
		return 0, 0, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "费用估算中的 gas 用量无效")
	}
	gasPrice, err := parseUint(estimate.GasPrice)
	if err != nil {
		return 0, 0, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "费用估算中的 gas 单价无效")
	}
	return gas + gas/2, gasPrice + gasPrice/2, nil
}

func parseUint(raw string) (uint64, error) {
	value, err := felt.Parse(raw)
	if err != nil {
		return 0, err
	}
	return value.Uint256().Uint64(), nil
}

// randomFelt 产生一个均匀分布的非零随机域元素。
func randomFelt() (felt.Felt, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 250)
	for {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return felt.Felt{}, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "生成随机数失败")
		}
		if n.Sign() == 0 {
			continue
		}
		f, err := felt.FromBytesBE(n.Bytes())
		if err != nil {
			continue
		}
		return f, nil
	}
}
