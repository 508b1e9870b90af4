package chain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	xerrors "StarkSession/internal/errors"
)

func TestDefaultChainDefinitions(t *testing.T) {
	defs := DefaultChainDefinitions()
	for _, name := range []string{"SN_MAIN", "SN_SEPOLIA"} {
		url, err := defs.ResolveRPCURL(name)
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		if url == "" {
			t.Fatalf("empty rpc url for %s", name)
		}
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs.Chains) != 2 {
		t.Fatalf("expected the built-in catalogue, got %d chains", len(defs.Chains))
	}
}

func TestLoadChainDefinitionsMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := `chains:
  sn_devnet:
    rpc_url: http://localhost:5050
    description: local devnet
  SN_SEPOLIA:
    rpc_url: https://sepolia.example/rpc
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write chains file: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Lowercase keys are normalized, new chains extend the catalogue.
	url, err := defs.ResolveRPCURL("SN_DEVNET")
	if err != nil {
		t.Fatalf("resolve devnet: %v", err)
	}
	if url != "http://localhost:5050" {
		t.Fatalf("unexpected devnet url: %s", url)
	}

	// User entries override built-in ones.
	url, err = defs.ResolveRPCURL("sn_sepolia")
	if err != nil {
		t.Fatalf("resolve sepolia: %v", err)
	}
	if url != "https://sepolia.example/rpc" {
		t.Fatalf("expected the override, got %s", url)
	}

	// Untouched built-ins survive the merge.
	if _, err := defs.ResolveRPCURL("SN_MAIN"); err != nil {
		t.Fatalf("resolve mainnet: %v", err)
	}
}

func TestResolveRPCURLUnknownChain(t *testing.T) {
	defs := DefaultChainDefinitions()
	_, err := defs.ResolveRPCURL("SN_NOWHERE")
	if xerrors.CodeOf(err) != xerrors.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	if !strings.Contains(err.Error(), "SN_MAIN") || !strings.Contains(err.Error(), "SN_SEPOLIA") {
		t.Fatalf("error should list the known chains: %v", err)
	}
}

func TestLoadChainDefinitionsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	if err := os.WriteFile(path, []byte("chains: ["), 0o600); err != nil {
		t.Fatalf("write chains file: %v", err)
	}
	if _, err := LoadChainDefinitions(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
	if _, err := LoadChainDefinitions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}
