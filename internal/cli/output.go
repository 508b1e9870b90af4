package cli

import (
	"encoding/json"
	"fmt"
	"io"

	xerrors "StarkSession/internal/errors"
)

// Outcome is the structured result envelope emitted in JSON mode. Every
// command ends with exactly one outcome on stdout so scripted callers can
// branch on status and error_code without parsing prose.
type Outcome struct {
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	Message      string `json:"message,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
	Data         any    `json:"data,omitempty"`
}

// Formatter renders command results in either human or JSON form.
type Formatter struct {
	out  io.Writer
	json bool
}

// NewFormatter creates a formatter writing to out.
func NewFormatter(out io.Writer, jsonOutput bool) *Formatter {
	return &Formatter{out: out, json: jsonOutput}
}

// JSON reports whether the formatter is in JSON mode.
func (f *Formatter) JSON() bool { return f.json }

// Success emits a success outcome. In human mode data is ignored and the
// caller is expected to have printed its own summary lines.
func (f *Formatter) Success(message string, data any) {
	if !f.json {
		if message != "" {
			fmt.Fprintln(f.out, message)
		}
		return
	}
	f.emit(Outcome{Status: "success", Message: message, Data: data})
}

// Failure emits an error outcome derived from err.
func (f *Formatter) Failure(err error) {
	code := xerrors.CodeOf(err)
	hint := xerrors.HintOf(err)
	if !f.json {
		fmt.Fprintf(f.out, "error [%s]: %v\n", code, err)
		if hint != "" {
			fmt.Fprintf(f.out, "hint: %s\n", hint)
		}
		return
	}
	f.emit(Outcome{
		Status:       "error",
		ErrorCode:    string(code),
		Message:      err.Error(),
		RecoveryHint: hint,
	})
}

// Info prints a human-mode progress line. Silent in JSON mode to keep
// stdout machine-parseable.
func (f *Formatter) Info(message string) {
	if f.json {
		return
	}
	fmt.Fprintln(f.out, message)
}

// Infof is Info with formatting.
func (f *Formatter) Infof(format string, args ...any) {
	f.Info(fmt.Sprintf(format, args...))
}

func (f *Formatter) emit(outcome Outcome) {
	encoder := json.NewEncoder(f.out)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(outcome)
}
