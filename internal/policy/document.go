// Package policy models the declarative allow-list a session is authorized
// against and validates proposed calls before anything touches the network.
package policy

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"os"
	"sort"
	"strings"

	xerrors "StarkSession/internal/errors"
	"StarkSession/internal/felt"
)

// Method 描述单个允许调用的入口点。Authorized 字段仅反映远端批准结果，
// 本地校验不以它为准。
type Method struct {
	Name        string `json:"name"`
	Entrypoint  string `json:"entrypoint"`
	Description string `json:"description,omitempty"`
	Authorized  *bool  `json:"authorized,omitempty"`
}

// Contract 描述一个合约下允许的方法集合。
type Contract struct {
	Name    string   `json:"name,omitempty"`
	Methods []Method `json:"methods"`
}

// Document 是会话策略文档：合约地址到方法允许列表的映射。
type Document struct {
	Contracts map[string]Contract `json:"contracts"`
}

// Normalize 将文档转为规范形式：合约地址重写为 felt 规范十六进制，
// 每个合约的方法按入口点名字典序排序。合约键的顺序由 JSON 编码时的
// 键排序保证，因此规范化后的文档编码是字节稳定的，`0xAAA` 与 `0xaaa`
// 指向同一合约的两份文档规范化后相等。
func (d *Document) Normalize() {
	normalized := make(map[string]Contract, len(d.Contracts))
	for addr, contract := range d.Contracts {
		key := addr
		if parsed, err := felt.Parse(addr); err == nil {
			key = parsed.String()
		}
		if existing, ok := normalized[key]; ok {
			contract = mergeContracts(existing, contract)
		}
		methods := append([]Method(nil), contract.Methods...)
		sort.Slice(methods, func(i, j int) bool {
			return methods[i].Entrypoint < methods[j].Entrypoint
		})
		contract.Methods = methods
		normalized[key] = contract
	}
	d.Contracts = normalized
}

// mergeContracts 合并同一地址不同写法下的方法集合，入口点去重。
func mergeContracts(a, b Contract) Contract {
	merged := a
	if merged.Name == "" {
		merged.Name = b.Name
	}
	seen := make(map[string]struct{}, len(a.Methods))
	for _, method := range a.Methods {
		seen[method.Entrypoint] = struct{}{}
	}
	for _, method := range b.Methods {
		if _, dup := seen[method.Entrypoint]; dup {
			continue
		}
		seen[method.Entrypoint] = struct{}{}
		merged.Methods = append(merged.Methods, method)
	}
	return merged
}

// Check 校验文档自身的结构约束：地址可解析、方法入口点非空且在合约内唯一。
func (d *Document) Check() error {
	if len(d.Contracts) == 0 {
		return xerrors.New(xerrors.CodeInvalidInput, "policy document has no contracts")
	}
	for addr, contract := range d.Contracts {
		if _, err := felt.Parse(addr); err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidInput, err, "invalid contract address "+addr)
		}
		if len(contract.Methods) == 0 {
			return xerrors.Newf(xerrors.CodeInvalidInput, "contract %s has no methods", addr)
		}
		seen := make(map[string]struct{}, len(contract.Methods))
		for _, method := range contract.Methods {
			entrypoint := strings.TrimSpace(method.Entrypoint)
			if entrypoint == "" {
				return xerrors.Newf(xerrors.CodeInvalidInput, "contract %s has a method without an entrypoint", addr)
			}
			if _, dup := seen[entrypoint]; dup {
				return xerrors.Newf(xerrors.CodeInvalidInput, "contract %s lists entrypoint %q twice", addr, entrypoint)
			}
			seen[entrypoint] = struct{}{}
		}
	}
	return nil
}

// CanonicalJSON 输出规范化文档的确定性 JSON 编码。相等的文档编码字节一致，
// 这是幂等重授权检测的前提。
func (d *Document) CanonicalJSON() ([]byte, error) {
	clone := d.Clone()
	clone.Normalize()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(clone); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "encode policy document")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EncodeForURL 将文档编码为 URL 安全的形式（规范 JSON 的 base64url）。
func (d *Document) EncodeForURL() (string, error) {
	canonical, err := d.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(canonical), nil
}

// Decode 还原 EncodeForURL 的输出。
func Decode(encoded string) (*Document, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "decode policy document")
	}
	return Unmarshal(raw)
}

// Unmarshal 解析 JSON 字节为规范化文档。
func Unmarshal(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "invalid policy document")
	}
	if err := doc.Check(); err != nil {
		return nil, err
	}
	doc.Normalize()
	return &doc, nil
}

// ParseFile 读取本地策略文件。
func ParseFile(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "read policy file "+path)
	}
	return Unmarshal(raw)
}

// Clone 返回文档的深拷贝。
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	clone := &Document{Contracts: make(map[string]Contract, len(d.Contracts))}
	for addr, contract := range d.Contracts {
		copied := contract
		copied.Methods = append([]Method(nil), contract.Methods...)
		clone.Contracts[addr] = copied
	}
	return clone
}

// Equal 通过规范编码比较两个文档。
func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	a, errA := d.CanonicalJSON()
	b, errB := other.CanonicalJSON()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Counts 返回合约数与入口点总数，供展示层使用。
func (d *Document) Counts() (contracts, entrypoints int) {
	if d == nil {
		return 0, 0
	}
	contracts = len(d.Contracts)
	for _, c := range d.Contracts {
		entrypoints += len(c.Methods)
	}
	return contracts, entrypoints
}
