package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	xerrors "StarkSession/internal/errors"
)

func TestFormatterSuccessJSON(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(&buf, true)

	f.Success("session authorized", map[string]string{"key_guid": "0xabc"})

	var outcome Outcome
	if err := json.Unmarshal(buf.Bytes(), &outcome); err != nil {
		t.Fatalf("outcome should be valid json: %v", err)
	}
	if outcome.Status != "success" || outcome.Message != "session authorized" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	data, ok := outcome.Data.(map[string]any)
	if !ok || data["key_guid"] != "0xabc" {
		t.Fatalf("unexpected data: %+v", outcome.Data)
	}
}

func TestFormatterSuccessHuman(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(&buf, false)

	f.Success("done", map[string]string{"ignored": "yes"})
	if got := buf.String(); got != "done\n" {
		t.Fatalf("human mode should print only the message, got %q", got)
	}
}

func TestFormatterFailureJSON(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(&buf, true)

	f.Failure(xerrors.New(xerrors.CodeNoSession, ""))

	var outcome Outcome
	if err := json.Unmarshal(buf.Bytes(), &outcome); err != nil {
		t.Fatalf("outcome should be valid json: %v", err)
	}
	if outcome.Status != "error" || outcome.ErrorCode != "NO_SESSION" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.RecoveryHint == "" {
		t.Fatal("the registry hint should be carried into the outcome")
	}
}

func TestFormatterFailureHuman(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(&buf, false)

	f.Failure(xerrors.New(xerrors.CodeSessionExpired, "", xerrors.WithHint("authorize again")))

	out := buf.String()
	if !strings.Contains(out, "error [SESSION_EXPIRED]") {
		t.Fatalf("expected the error code in the output: %q", out)
	}
	if !strings.Contains(out, "hint: authorize again") {
		t.Fatalf("expected the hint in the output: %q", out)
	}
}

func TestFormatterInfoSilentInJSONMode(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(&buf, true)

	f.Info("progress line")
	f.Infof("another %s", "line")
	if buf.Len() != 0 {
		t.Fatalf("info lines must not pollute json output: %q", buf.String())
	}

	human := NewFormatter(&buf, false)
	human.Infof("waiting for %s", "authorization")
	if got := buf.String(); got != "waiting for authorization\n" {
		t.Fatalf("unexpected info output: %q", got)
	}
}
