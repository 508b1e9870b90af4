// Package chain 封装与 Starknet 节点的 JSON-RPC 交互：链标识查询、费用
// 估算、交易提交、paymaster 转发以及回执轮询。上层只面对 felt 与
// Call，不接触原始 RPC 负载。
package chain

import (
	"context"
	"strings"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/felt"
)

// Call 表示对单个合约入口点的一次调用。
type Call struct {
	ContractAddress felt.Felt
	Selector        felt.Felt
	Calldata        []felt.Felt
}

// FlattenCalls 把多笔调用编码为账户 __execute__ 所需的扁平 calldata：
// [调用数, 每笔调用的 (to, selector, calldata_len, calldata...)]。
func FlattenCalls(calls []Call) []felt.Felt {
	out := make([]felt.Felt, 0, 1+len(calls)*4)
	out = append(out, felt.FromUint64(uint64(len(calls))))
	for _, call := range calls {
		out = append(out, call.ContractAddress, call.Selector, felt.FromUint64(uint64(len(call.Calldata))))
		out = append(out, call.Calldata...)
	}
	return out
}

// FeeEstimate 是节点返回的费用估算。
type FeeEstimate struct {
	GasConsumed string `json:"gas_consumed"`
	GasPrice    string `json:"gas_price"`
	OverallFee  string `json:"overall_fee"`
	Unit        string `json:"unit"`
}

// Receipt 是交易回执的关键字段。
type Receipt struct {
	TransactionHash string `json:"transaction_hash"`
	ExecutionStatus string `json:"execution_status"`
	FinalityStatus  string `json:"finality_status"`
	RevertReason    string `json:"revert_reason,omitempty"`
	BlockNumber     uint64 `json:"block_number,omitempty"`
}

// Succeeded 判断交易是否执行成功。
func (r *Receipt) Succeeded() bool {
	return r != nil && r.ExecutionStatus == "SUCCEEDED"
}

type resourceBound struct {
	MaxAmount       string `json:"max_amount"`
	MaxPricePerUnit string `json:"max_price_per_unit"`
}

type resourceBounds struct {
	L1Gas resourceBound `json:"l1_gas"`
	L2Gas resourceBound `json:"l2_gas"`
}

type invokeTxn struct {
	Type          string         `json:"type"`
	Version       string         `json:"version"`
	SenderAddress string         `json:"sender_address"`
	Calldata      []string       `json:"calldata"`
	Signature     []string       `json:"signature"`
	Nonce         string         `json:"nonce"`
	Bounds        resourceBounds `json:"resource_bounds"`
	Tip           string         `json:"tip"`
	PaymasterData []string       `json:"paymaster_data"`
	DeployData    []string       `json:"account_deployment_data"`
	NonceDAMode   string         `json:"nonce_data_availability_mode"`
	FeeDAMode     string         `json:"fee_data_availability_mode"`
}

type outsideExecution struct {
	Caller        string   `json:"caller"`
	Nonce         string   `json:"nonce"`
	ExecuteAfter  string   `json:"execute_after"`
	ExecuteBefore string   `json:"execute_before"`
	Calldata      []string `json:"calldata"`
}

// Client 是单个 Starknet 端点的 JSON-RPC 客户端。
type Client struct {
	rpc *gethrpc.Client
	url string
}

// Dial 建立到指定 RPC 端点的连接。
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	trimmed := strings.TrimSpace(rpcURL)
	if trimmed == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "未配置 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, trimmed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "连接 Starknet 节点失败")
	}
	return &Client{rpc: rpcClient, url: trimmed}, nil
}

// URL 返回连接的端点地址。
func (c *Client) URL() string { return c.url }

// Close 释放底层连接。
func (c *Client) Close() {
	if c != nil && c.rpc != nil {
		c.rpc.Close()
	}
}

// ChainID 查询节点所在链的标识。
func (c *Client) ChainID(ctx context.Context) (felt.Felt, error) {
	var raw string
	if err := c.rpc.CallContext(ctx, &raw, "starknet_chainId"); err != nil {
		return felt.Felt{}, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "查询链标识失败")
	}
	id, err := felt.Parse(raw)
	if err != nil {
		return felt.Felt{}, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "节点返回的链标识无效")
	}
	return id, nil
}

// Nonce 查询账户在 pending 块上的 nonce。
func (c *Client) Nonce(ctx context.Context, account felt.Felt) (felt.Felt, error) {
	var raw string
	if err := c.rpc.CallContext(ctx, &raw, "starknet_getNonce", "pending", account.String()); err != nil {
		return felt.Felt{}, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "查询账户 nonce 失败")
	}
	nonce, err := felt.Parse(raw)
	if err != nil {
		return felt.Felt{}, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "节点返回的 nonce 无效")
	}
	return nonce, nil
}

// InvokeRequest 描述一笔待提交的自付费交易。
type InvokeRequest struct {
	SenderAddress felt.Felt
	Calldata      []felt.Felt
	Signature     []felt.Felt
	Nonce         felt.Felt
	MaxGasAmount  uint64
	MaxGasPrice   uint64
}

func (r InvokeRequest) wire() invokeTxn {
	bound := resourceBound{
		MaxAmount:       felt.FromUint64(r.MaxGasAmount).String(),
		MaxPricePerUnit: felt.FromUint64(r.MaxGasPrice).String(),
	}
	return invokeTxn{
		Type:          "INVOKE",
		Version:       "0x3",
		SenderAddress: r.SenderAddress.String(),
		Calldata:      feltsToHex(r.Calldata),
		Signature:     feltsToHex(r.Signature),
		Nonce:         r.Nonce.String(),
		Bounds:        resourceBounds{L1Gas: bound, L2Gas: resourceBound{MaxAmount: "0x0", MaxPricePerUnit: "0x0"}},
		Tip:           "0x0",
		PaymasterData: []string{},
		DeployData:    []string{},
		NonceDAMode:   "L1",
		FeeDAMode:     "L1",
	}
}

// EstimateFee 估算交易费用。签名字段允许为空，节点以 SKIP_VALIDATE 模拟。
func (c *Client) EstimateFee(ctx context.Context, req InvokeRequest) (*FeeEstimate, error) {
	var estimates []FeeEstimate
	err := c.rpc.CallContext(ctx, &estimates, "starknet_estimateFee",
		[]invokeTxn{req.wire()}, []string{"SKIP_VALIDATE"}, "pending")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "估算交易费用失败")
	}
	if len(estimates) == 0 {
		return nil, xerrors.New(xerrors.CodeTransactionFailed, "节点未返回费用估算")
	}
	return &estimates[0], nil
}

// SubmitInvoke 提交自付费交易并返回交易哈希。
func (c *Client) SubmitInvoke(ctx context.Context, req InvokeRequest) (felt.Felt, error) {
	var result struct {
		TransactionHash string `json:"transaction_hash"`
	}
	if err := c.rpc.CallContext(ctx, &result, "starknet_addInvokeTransaction", req.wire()); err != nil {
		return felt.Felt{}, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "提交交易失败")
	}
	hash, err := felt.Parse(result.TransactionHash)
	if err != nil {
		return felt.Felt{}, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "节点返回的交易哈希无效")
	}
	return hash, nil
}

// OutsideRequest 描述一笔经 paymaster 转发的免费交易。
type OutsideRequest struct {
	AccountAddress felt.Felt
	Nonce          felt.Felt
	ExecuteBefore  felt.Felt
	Calldata       []felt.Felt
	Signature      []felt.Felt
}

// ExecuteFromOutside 把已签名的调用交给 paymaster 代付执行。
func (c *Client) ExecuteFromOutside(ctx context.Context, req OutsideRequest) (felt.Felt, error) {
	envelope := outsideExecution{
		Caller:        "ANY_CALLER",
		Nonce:         req.Nonce.String(),
		ExecuteAfter:  "0x0",
		ExecuteBefore: req.ExecuteBefore.String(),
		Calldata:      feltsToHex(req.Calldata),
	}
	var result struct {
		TransactionHash string `json:"transaction_hash"`
	}
	err := c.rpc.CallContext(ctx, &result, "cartridge_addExecuteOutsideTransaction",
		req.AccountAddress.String(), envelope, feltsToHex(req.Signature))
	if err != nil {
		return felt.Felt{}, xerrors.Wrap(xerrors.CodePaymasterUnavailable, err, "paymaster 执行失败",
			xerrors.WithHint("使用 --no-paymaster 改为自付费执行"))
	}
	hash, err := felt.Parse(result.TransactionHash)
	if err != nil {
		return felt.Felt{}, xerrors.Wrap(xerrors.CodePaymasterUnavailable, err, "paymaster 返回的交易哈希无效")
	}
	return hash, nil
}

// TransactionReceipt 查询交易回执，未确认时返回 (nil, nil)。
func (c *Client) TransactionReceipt(ctx context.Context, hash felt.Felt) (*Receipt, error) {
	var receipt Receipt
	err := c.rpc.CallContext(ctx, &receipt, "starknet_getTransactionReceipt", hash.String())
	if err != nil {
		// 节点用错误码 29 表示交易尚未被收录
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "查询交易回执失败")
	}
	if receipt.TransactionHash == "" {
		return nil, nil
	}
	return &receipt, nil
}

// DefaultReceiptInterval 是回执轮询的间隔。
const DefaultReceiptInterval = 2 * time.Second

// WaitForConfirmation 轮询回执直到交易确认、超时或上下文取消。
func (c *Client) WaitForConfirmation(ctx context.Context, hash felt.Felt, timeout time.Duration) (*Receipt, error) {
	deadline := time.Now().Add(timeout)
	for {
		receipt, err := c.TransactionReceipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			if !receipt.Succeeded() {
				return receipt, xerrors.Newf(xerrors.CodeTransactionFailed,
					"交易被回滚: %s", receipt.RevertReason)
			}
			return receipt, nil
		}

		if time.Now().Add(DefaultReceiptInterval).After(deadline) {
			return nil, xerrors.Newf(xerrors.CodeConfirmationTimeout,
				"等待交易确认超时 (%s)", timeout)
		}
		timer := time.NewTimer(DefaultReceiptInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, xerrors.Wrap(xerrors.CodeConfirmationTimeout, ctx.Err(), "等待交易确认被中断")
		case <-timer.C:
		}
	}
}

func feltsToHex(values []felt.Felt) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, value.String())
	}
	return out
}
