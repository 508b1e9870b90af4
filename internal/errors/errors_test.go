package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestNewUsesRegistryDefaults(t *testing.T) {
	err := New(CodeNoSession, "")
	if err.Message() != "no authorized session found" {
		t.Fatalf("unexpected default message: %q", err.Message())
	}
	if err.RecoveryHint() == "" {
		t.Fatal("expected the registered recovery hint")
	}
	if err.Severity() != SeverityInfo {
		t.Fatalf("unexpected severity: %s", err.Severity())
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	err := New(CodeLookupFailure, "lookup broke",
		WithHint("try again in a minute"),
		WithRetryable(false),
		WithSeverity(SeverityCritical),
	)
	if err.RecoveryHint() != "try again in a minute" {
		t.Fatalf("unexpected hint: %q", err.RecoveryHint())
	}
	if err.Retryable() {
		t.Fatal("retryable should be overridden to false")
	}
	if err.Severity() != SeverityCritical {
		t.Fatalf("unexpected severity: %s", err.Severity())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(CodeStorageFailure, cause, "open session store")

	if !stdErrors.Is(err, cause) {
		t.Fatal("wrapped cause should survive errors.Is")
	}
	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	msg := err.Error()
	if msg != "[STORAGE_FAILURE] open session store: connection refused" {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := Newf(CodePolicyViolation, "contract %s not allowed", "0x1")
	if !stdErrors.Is(err, New(CodePolicyViolation, "")) {
		t.Fatal("errors with the same code should match")
	}
	if stdErrors.Is(err, New(CodeNoSession, "")) {
		t.Fatal("errors with different codes must not match")
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if CodeOf(fmt.Errorf("plain")) != CodeUnknown {
		t.Fatal("plain errors map to UNKNOWN")
	}
	if HintOf(fmt.Errorf("plain")) != "" {
		t.Fatal("plain errors carry no hint")
	}
	if RetryableError(fmt.Errorf("plain")) {
		t.Fatal("plain errors are not retryable")
	}
}

func TestCodeOfUnwrapsNestedErrors(t *testing.T) {
	inner := New(CodeCallbackTimeout, "")
	outer := fmt.Errorf("await: %w", inner)
	if CodeOf(outer) != CodeCallbackTimeout {
		t.Fatalf("expected the nested code, got %s", CodeOf(outer))
	}
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "TEST_ONLY"
	Register(code, Attributes{Message: "test failure", Severity: SeverityWarning, Retryable: true})

	err := New(code, "")
	if err.Message() != "test failure" {
		t.Fatalf("unexpected message: %q", err.Message())
	}
	if !err.Retryable() {
		t.Fatal("expected the registered retryable default")
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	attr := AttributesOf(Code("NEVER_REGISTERED"))
	if attr.Message != "unknown error" {
		t.Fatalf("unexpected fallback: %+v", attr)
	}
}
