package chain

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "StarkSession/internal/errors"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single network endpoint definition. Keys in
// the YAML file are chain names such as SN_MAIN or SN_SEPOLIA.
type ChainDefinition struct {
	RPCURL      string `yaml:"rpc_url"`
	Description string `yaml:"description"`
}

// DefaultChainDefinitions returns the built-in network catalogue. A user
// supplied chains.yaml extends or overrides these entries.
func DefaultChainDefinitions() ChainDefinitions {
	return ChainDefinitions{Chains: map[string]ChainDefinition{
		"SN_MAIN": {
			RPCURL:      "https://api.cartridge.gg/x/starknet/mainnet",
			Description: "Starknet mainnet",
		},
		"SN_SEPOLIA": {
			RPCURL:      "https://api.cartridge.gg/x/starknet/sepolia",
			Description: "Starknet Sepolia testnet",
		},
	}}
}

// LoadChainDefinitions parses the YAML file containing network metadata and
// merges it over the built-in catalogue. An empty path returns the built-in
// catalogue unchanged.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	defs := DefaultChainDefinitions()
	if strings.TrimSpace(path) == "" {
		return defs, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, xerrors.Wrap(xerrors.CodeInvalidInput, err, "读取链配置失败")
	}

	var loaded ChainDefinitions
	if err := yaml.Unmarshal(content, &loaded); err != nil {
		return ChainDefinitions{}, xerrors.Wrap(xerrors.CodeInvalidInput, err, "解析链配置失败")
	}
	for name, def := range loaded.Chains {
		defs.Chains[strings.ToUpper(strings.TrimSpace(name))] = def
	}
	return defs, nil
}

// ResolveRPCURL maps a chain name to its RPC endpoint.
func (d ChainDefinitions) ResolveRPCURL(chainName string) (string, error) {
	name := strings.ToUpper(strings.TrimSpace(chainName))
	if def, ok := d.Chains[name]; ok && strings.TrimSpace(def.RPCURL) != "" {
		return def.RPCURL, nil
	}
	return "", xerrors.Newf(xerrors.CodeInvalidInput,
		"未知的链标识 %q，可用: %s", chainName, strings.Join(d.Names(), ", "))
}

// Names returns the known chain names in sorted order.
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
