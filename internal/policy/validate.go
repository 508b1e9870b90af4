package policy

import (
	"sort"
	"strings"

	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/felt"
)

// CallTarget 标识一次待校验的调用：合约地址与入口点名。
type CallTarget struct {
	Contract   string
	Entrypoint string
}

// Validate 在提交前校验整批调用。任意一个调用不合规时整批拒绝，
// 错误信息点名违规的合约或入口点。地址比较经过 felt 归一化，
// 以兼容前导零与大小写差异。
//
// 本地校验是纵深防御：权威判定始终在远端签名方，这里只负责在
// 发起网络请求之前给出可操作的失败信息。
func Validate(doc *Document, calls []CallTarget) error {
	if doc == nil || len(doc.Contracts) == 0 {
		return xerrors.New(xerrors.CodePolicyViolation, "no policy snapshot available for validation")
	}
	if len(calls) == 0 {
		return xerrors.New(xerrors.CodeInvalidInput, "no calls provided to execute")
	}

	for _, call := range calls {
		contract, ok := lookupContract(doc, call.Contract)
		if !ok {
			return xerrors.Newf(xerrors.CodePolicyViolation,
				"contract %s is not authorized by the current session policies", call.Contract)
		}

		allowed := false
		for _, method := range contract.Methods {
			if method.Entrypoint == call.Entrypoint {
				allowed = true
				break
			}
		}
		if !allowed {
			entrypoints := make([]string, 0, len(contract.Methods))
			for _, method := range contract.Methods {
				entrypoints = append(entrypoints, method.Entrypoint)
			}
			sort.Strings(entrypoints)
			return xerrors.Newf(xerrors.CodePolicyViolation,
				"entrypoint %q on contract %s is not authorized by the current session (allowed: %s)",
				call.Entrypoint, call.Contract, strings.Join(entrypoints, ", "))
		}
	}
	return nil
}

func lookupContract(doc *Document, address string) (Contract, bool) {
	target, targetErr := felt.Parse(address)
	for addr, contract := range doc.Contracts {
		if targetErr == nil {
			if known, err := felt.Parse(addr); err == nil {
				if known == target {
					return contract, true
				}
				continue
			}
		}
		if strings.EqualFold(addr, address) {
			return contract, true
		}
	}
	return Contract{}, false
}
