package executor

import (
	"encoding/json"
	"os"

	xerrors "StarkSession/internal/errors"
)

// multicallFile 是批量调用文件的结构，所有调用打包进同一笔交易，
// 全部成功或全部回滚。
type multicallFile struct {
	Calls []multicallEntry `json:"calls"`
}

type multicallEntry struct {
	ContractAddress string   `json:"contractAddress"`
	Entrypoint      string   `json:"entrypoint"`
	Calldata        []string `json:"calldata"`
}

// ParseMulticallFile 读取批量调用文件并转换为调用描述。
func ParseMulticallFile(path string) ([]CallInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "读取批量调用文件失败: "+path)
	}

	var file multicallFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "解析批量调用文件失败: "+path)
	}
	if len(file.Calls) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "批量调用文件中没有任何调用")
	}

	inputs := make([]CallInput, 0, len(file.Calls))
	for i, entry := range file.Calls {
		if entry.ContractAddress == "" || entry.Entrypoint == "" {
			return nil, xerrors.Newf(xerrors.CodeInvalidInput,
				"批量调用文件第 %d 项缺少合约地址或入口点", i+1)
		}
		inputs = append(inputs, CallInput{
			Contract:   entry.ContractAddress,
			Entrypoint: entry.Entrypoint,
			Calldata:   entry.Calldata,
		})
	}
	return inputs, nil
}
