package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "StarkSession/internal/errors"
)

// DefaultPresetBaseURL 指向公开的预设目录。
const DefaultPresetBaseURL = "https://raw.githubusercontent.com/cartridge-gg/presets/refs/heads/main/configs"

const defaultPresetTimeout = 15 * time.Second

// PresetConfig 是远端预设文件的原始结构。
type PresetConfig struct {
	Origin []string                     `json:"origin"`
	Chains map[string]PresetChainConfig `json:"chains"`
	Theme  json.RawMessage              `json:"theme,omitempty"`
}

// PresetChainConfig 是预设中单条链的配置。
type PresetChainConfig struct {
	Policies PresetPolicies `json:"policies"`
}

// PresetPolicies 是预设中链级别的策略集合。
type PresetPolicies struct {
	Contracts map[string]PresetContract `json:"contracts"`
	Messages  []json.RawMessage         `json:"messages,omitempty"`
}

// PresetContract 是预设中单个合约的策略。
type PresetContract struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Methods     []PresetMethod `json:"methods"`
}

// PresetMethod 是预设中单个方法的策略。
type PresetMethod struct {
	Name        string `json:"name"`
	Entrypoint  string `json:"entrypoint"`
	Description string `json:"description,omitempty"`
}

// PresetResolver 从远端目录拉取命名预设并抽取指定链的策略文档。
type PresetResolver struct {
	baseURL    string
	httpClient *http.Client
}

// NewPresetResolver 构造 PresetResolver。baseURL 为空时使用默认目录，
// httpClient 为 nil 时使用带超时的默认客户端。
func NewPresetResolver(baseURL string, httpClient *http.Client) *PresetResolver {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultPresetBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultPresetTimeout}
	}
	return &PresetResolver{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Resolve 拉取名为 name 的预设并返回 chainID 对应的策略文档。
func (r *PresetResolver) Resolve(ctx context.Context, name, chainID string) (*Document, error) {
	preset, err := r.Fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	return ExtractChainPolicies(preset, name, chainID)
}

// Fetch 拉取并解析预设配置文件。
func (r *PresetResolver) Fetch(ctx context.Context, name string) (*PresetConfig, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "preset name is empty")
	}

	url := fmt.Sprintf("%s/%s/config.json", r.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "build preset request")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLookupFailure, err, "fetch preset "+name)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, xerrors.Newf(xerrors.CodePresetNotFound, "preset %q not found", name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.Newf(xerrors.CodeLookupFailure, "preset catalogue returned status %d for %q", resp.StatusCode, name)
	}

	var preset PresetConfig
	if err := json.NewDecoder(resp.Body).Decode(&preset); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "parse preset "+name)
	}
	return &preset, nil
}

// ExtractChainPolicies 将预设中 chainID 对应的策略转为本地文档。
// 链不受支持时错误中列出该预设可用的链。
func ExtractChainPolicies(preset *PresetConfig, name, chainID string) (*Document, error) {
	chain, ok := preset.Chains[chainID]
	if !ok {
		available := make([]string, 0, len(preset.Chains))
		for id := range preset.Chains {
			available = append(available, id)
		}
		sort.Strings(available)
		return nil, xerrors.Newf(xerrors.CodePresetChainUnsupported,
			"preset %q does not support chain %q (available: %s)", name, chainID, strings.Join(available, ", "))
	}

	doc := &Document{Contracts: make(map[string]Contract, len(chain.Policies.Contracts))}
	for addr, contract := range chain.Policies.Contracts {
		methods := make([]Method, 0, len(contract.Methods))
		for _, m := range contract.Methods {
			methods = append(methods, Method{
				Name:        m.Name,
				Entrypoint:  m.Entrypoint,
				Description: m.Description,
			})
		}
		doc.Contracts[addr] = Contract{Name: contract.Name, Methods: methods}
	}
	if err := doc.Check(); err != nil {
		return nil, err
	}
	doc.Normalize()
	return doc, nil
}
