package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/felt"
)

type rpcCall struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newRPCServer serves a JSON-RPC endpoint whose responses are looked up by
// method name. The last request per method is recorded for inspection.
func newRPCServer(t *testing.T, responses map[string]any, errors map[string]string) (*httptest.Server, map[string]rpcCall) {
	t.Helper()
	seen := make(map[string]rpcCall)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call rpcCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Fatalf("decode rpc call: %v", err)
		}
		seen[call.Method] = call

		w.Header().Set("Content-Type", "application/json")
		if message, ok := errors[call.Method]; ok {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": call.ID,
				"error": map[string]any{"code": 29, "message": message},
			})
			return
		}
		result, ok := responses[call.Method]
		if !ok {
			t.Fatalf("unexpected rpc method: %s", call.Method)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": call.ID, "result": result,
		})
	}))
	return srv, seen
}

func TestClientChainIDAndNonce(t *testing.T) {
	srv, seen := newRPCServer(t, map[string]any{
		"starknet_chainId":  "0x534e5f5345504f4c4941",
		"starknet_getNonce": "0x5",
	}, nil)
	defer srv.Close()

	client, err := Dial(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(context.Background())
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	if name, err := felt.DecodeShortString(chainID); err != nil || name != "SN_SEPOLIA" {
		t.Fatalf("unexpected chain id: %s (%v)", chainID.String(), err)
	}

	nonce, err := client.Nonce(context.Background(), felt.FromUint64(0xacc))
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != felt.FromUint64(5) {
		t.Fatalf("unexpected nonce: %s", nonce.String())
	}

	call := seen["starknet_getNonce"]
	if len(call.Params) != 2 {
		t.Fatalf("expected block tag and address, got %d params", len(call.Params))
	}
	var blockTag string
	if err := json.Unmarshal(call.Params[0], &blockTag); err != nil || blockTag != "pending" {
		t.Fatalf("nonce should be read from the pending block, got %q", blockTag)
	}
}

func TestClientSubmitInvoke(t *testing.T) {
	srv, seen := newRPCServer(t, map[string]any{
		"starknet_addInvokeTransaction": map[string]string{"transaction_hash": "0x999"},
	}, nil)
	defer srv.Close()

	client, err := Dial(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	hash, err := client.SubmitInvoke(context.Background(), InvokeRequest{
		SenderAddress: felt.FromUint64(0xacc),
		Calldata:      []felt.Felt{felt.FromUint64(1)},
		Signature:     []felt.Felt{felt.FromUint64(2), felt.FromUint64(3)},
		Nonce:         felt.FromUint64(5),
		MaxGasAmount:  150,
		MaxGasPrice:   15,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if hash != felt.FromUint64(0x999) {
		t.Fatalf("unexpected hash: %s", hash.String())
	}

	var txn invokeTxn
	call := seen["starknet_addInvokeTransaction"]
	if len(call.Params) != 1 {
		t.Fatalf("expected a single txn param, got %d", len(call.Params))
	}
	if err := json.Unmarshal(call.Params[0], &txn); err != nil {
		t.Fatalf("decode txn: %v", err)
	}
	if txn.Type != "INVOKE" || txn.Version != "0x3" {
		t.Fatalf("unexpected txn envelope: %+v", txn)
	}
	if txn.Bounds.L1Gas.MaxAmount != "0x96" || txn.Bounds.L1Gas.MaxPricePerUnit != "0xf" {
		t.Fatalf("unexpected resource bounds: %+v", txn.Bounds)
	}
	if txn.Nonce != "0x5" || len(txn.Signature) != 2 {
		t.Fatalf("unexpected txn fields: %+v", txn)
	}
}

func TestClientExecuteFromOutside(t *testing.T) {
	srv, seen := newRPCServer(t, map[string]any{
		"cartridge_addExecuteOutsideTransaction": map[string]string{"transaction_hash": "0x777"},
	}, nil)
	defer srv.Close()

	client, err := Dial(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	hash, err := client.ExecuteFromOutside(context.Background(), OutsideRequest{
		AccountAddress: felt.FromUint64(0xacc),
		Nonce:          felt.FromUint64(0x123),
		ExecuteBefore:  felt.FromUint64(1_700_000_000),
		Calldata:       []felt.Felt{felt.FromUint64(1)},
		Signature:      []felt.Felt{felt.FromUint64(2), felt.FromUint64(3)},
	})
	if err != nil {
		t.Fatalf("execute from outside: %v", err)
	}
	if hash != felt.FromUint64(0x777) {
		t.Fatalf("unexpected hash: %s", hash.String())
	}

	call := seen["cartridge_addExecuteOutsideTransaction"]
	if len(call.Params) != 3 {
		t.Fatalf("expected address, envelope and signature, got %d params", len(call.Params))
	}
	var envelope outsideExecution
	if err := json.Unmarshal(call.Params[1], &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Caller != "ANY_CALLER" || envelope.ExecuteAfter != "0x0" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if envelope.Nonce != "0x123" {
		t.Fatalf("unexpected envelope nonce: %s", envelope.Nonce)
	}
}

func TestClientExecuteFromOutsideUnavailable(t *testing.T) {
	srv, _ := newRPCServer(t, nil, map[string]string{
		"cartridge_addExecuteOutsideTransaction": "method not supported",
	})
	defer srv.Close()

	client, err := Dial(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	_, err = client.ExecuteFromOutside(context.Background(), OutsideRequest{})
	if xerrors.CodeOf(err) != xerrors.CodePaymasterUnavailable {
		t.Fatalf("expected PAYMASTER_UNAVAILABLE, got %v", err)
	}
	if xerrors.HintOf(err) == "" {
		t.Fatal("the failure should hint at --no-paymaster")
	}
}

func TestClientTransactionReceipt(t *testing.T) {
	srv, _ := newRPCServer(t, map[string]any{
		"starknet_getTransactionReceipt": Receipt{
			TransactionHash: "0x999",
			ExecutionStatus: "SUCCEEDED",
			FinalityStatus:  "ACCEPTED_ON_L2",
			BlockNumber:     128,
		},
	}, nil)
	defer srv.Close()

	client, err := Dial(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	receipt, err := client.TransactionReceipt(context.Background(), felt.FromUint64(0x999))
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if receipt == nil || !receipt.Succeeded() || receipt.BlockNumber != 128 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestClientTransactionReceiptPending(t *testing.T) {
	srv, _ := newRPCServer(t, nil, map[string]string{
		"starknet_getTransactionReceipt": "Transaction hash not found",
	})
	defer srv.Close()

	client, err := Dial(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	receipt, err := client.TransactionReceipt(context.Background(), felt.FromUint64(0x1))
	if err != nil {
		t.Fatalf("an unconfirmed transaction is not an error: %v", err)
	}
	if receipt != nil {
		t.Fatalf("expected nil receipt, got %+v", receipt)
	}
}

func TestDialRejectsEmptyURL(t *testing.T) {
	if _, err := Dial(context.Background(), "  "); err == nil {
		t.Fatal("expected error for an empty rpc url")
	}
}

func TestWaitForConfirmationRevert(t *testing.T) {
	srv, _ := newRPCServer(t, map[string]any{
		"starknet_getTransactionReceipt": Receipt{
			TransactionHash: "0x999",
			ExecutionStatus: "REVERTED",
			FinalityStatus:  "ACCEPTED_ON_L2",
			RevertReason:    "insufficient balance",
		},
	}, nil)
	defer srv.Close()

	client, err := Dial(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	receipt, err := client.WaitForConfirmation(context.Background(), felt.FromUint64(0x999), DefaultReceiptInterval)
	if xerrors.CodeOf(err) != xerrors.CodeTransactionFailed {
		t.Fatalf("expected TRANSACTION_FAILED for a revert, got %v", err)
	}
	if receipt == nil || receipt.RevertReason != "insufficient balance" {
		t.Fatalf("the reverted receipt should be returned: %+v", receipt)
	}
}
