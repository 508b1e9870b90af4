package policy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "StarkSession/internal/errors"
)

const presetFixture = `{
  "origin": ["example.com"],
  "chains": {
    "SN_SEPOLIA": {
      "policies": {
        "contracts": {
          "0x49d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7": {
            "name": "ETH",
            "methods": [
              {"name": "Transfer", "entrypoint": "transfer"},
              {"name": "Approve", "entrypoint": "approve"}
            ]
          }
        }
      }
    }
  }
}`

func TestPresetResolveSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/eternum/config.json" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(presetFixture))
	}))
	defer srv.Close()

	resolver := NewPresetResolver(srv.URL, srv.Client())
	doc, err := resolver.Resolve(context.Background(), "eternum", "SN_SEPOLIA")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	contracts, entrypoints := doc.Counts()
	if contracts != 1 || entrypoints != 2 {
		t.Fatalf("unexpected document: %d contracts, %d entrypoints", contracts, entrypoints)
	}
	err = Validate(doc, []CallTarget{
		{Contract: "0x49d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7", Entrypoint: "transfer"},
	})
	if err != nil {
		t.Fatalf("resolved document should authorize transfer: %v", err)
	}
}

func TestPresetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	resolver := NewPresetResolver(srv.URL, srv.Client())
	_, err := resolver.Resolve(context.Background(), "missing", "SN_SEPOLIA")
	if xerrors.CodeOf(err) != xerrors.CodePresetNotFound {
		t.Fatalf("expected PRESET_NOT_FOUND, got %v", err)
	}
}

func TestPresetChainUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(presetFixture))
	}))
	defer srv.Close()

	resolver := NewPresetResolver(srv.URL, srv.Client())
	_, err := resolver.Resolve(context.Background(), "eternum", "SN_MAIN")
	if xerrors.CodeOf(err) != xerrors.CodePresetChainUnsupported {
		t.Fatalf("expected PRESET_CHAIN_UNSUPPORTED, got %v", err)
	}
	if !strings.Contains(err.Error(), "SN_SEPOLIA") {
		t.Fatalf("error should list available chains: %v", err)
	}
}

func TestPresetServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	resolver := NewPresetResolver(srv.URL, srv.Client())
	_, err := resolver.Resolve(context.Background(), "eternum", "SN_SEPOLIA")
	if xerrors.CodeOf(err) != xerrors.CodeLookupFailure {
		t.Fatalf("expected LOOKUP_FAILURE, got %v", err)
	}
}

func TestPresetEmptyName(t *testing.T) {
	resolver := NewPresetResolver("", nil)
	_, err := resolver.Resolve(context.Background(), "  ", "SN_SEPOLIA")
	if xerrors.CodeOf(err) != xerrors.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}
