package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码，命令出口会原样输出给调用方。
type Code string

// Severity 描述错误的严重程度，用于日志与审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message      string
	Severity     Severity
	Retryable    bool
	RecoveryHint string
}

const (
	CodeUnknown                Code = "UNKNOWN"
	CodeInvalidInput           Code = "INVALID_INPUT"
	CodeNoKeypair              Code = "NO_KEYPAIR"
	CodeNoSession              Code = "NO_SESSION"
	CodeSessionExpired         Code = "SESSION_EXPIRED"
	CodeCallbackTimeout        Code = "CALLBACK_TIMEOUT"
	CodeConfirmationTimeout    Code = "CONFIRMATION_TIMEOUT"
	CodePolicyViolation        Code = "POLICY_VIOLATION"
	CodePresetNotFound         Code = "PRESET_NOT_FOUND"
	CodePresetChainUnsupported Code = "PRESET_CHAIN_UNSUPPORTED"
	CodeTransactionFailed      Code = "TRANSACTION_FAILED"
	CodePaymasterUnavailable   Code = "PAYMASTER_UNAVAILABLE"
	CodeLookupFailure          Code = "LOOKUP_FAILURE"
	CodeStorageFailure         Code = "STORAGE_FAILURE"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
		},
		CodeInvalidInput: {
			Message:  "invalid input",
			Severity: SeverityInfo,
		},
		CodeNoKeypair: {
			Message:      "no session keypair found",
			Severity:     SeverityInfo,
			RecoveryHint: "run 'starksession generate' to create a session keypair",
		},
		CodeNoSession: {
			Message:      "no authorized session found",
			Severity:     SeverityInfo,
			RecoveryHint: "run 'starksession authorize' to authorize a session",
		},
		CodeSessionExpired: {
			Message:      "session expired",
			Severity:     SeverityInfo,
			RecoveryHint: "run 'starksession authorize' to authorize a new session",
		},
		CodeCallbackTimeout: {
			Message:      "no authorization received within the wait budget",
			Severity:     SeverityWarning,
			Retryable:    true,
			RecoveryHint: "run 'starksession authorize' again and approve the request in your browser",
		},
		CodeConfirmationTimeout: {
			Message:      "transaction confirmation timed out",
			Severity:     SeverityWarning,
			Retryable:    true,
			RecoveryHint: "the transaction may still land; check the hash with 'starksession receipt'",
		},
		CodePolicyViolation: {
			Message:      "call rejected by session policy",
			Severity:     SeverityWarning,
			RecoveryHint: "authorize a new session with policies that cover this call",
		},
		CodePresetNotFound: {
			Message:      "preset not found",
			Severity:     SeverityInfo,
			RecoveryHint: "check the preset name against the published preset catalogue",
		},
		CodePresetChainUnsupported: {
			Message:  "preset does not support the requested chain",
			Severity: SeverityInfo,
		},
		CodeTransactionFailed: {
			Message:  "transaction submission failed",
			Severity: SeverityWarning,
		},
		CodePaymasterUnavailable: {
			Message:      "paymaster execution unavailable",
			Severity:     SeverityWarning,
			RecoveryHint: "retry with --no-paymaster to submit a self-funded transaction",
		},
		CodeLookupFailure: {
			Message:   "remote lookup failed",
			Severity:  SeverityWarning,
			Retryable: true,
		},
		CodeStorageFailure: {
			Message:  "local storage failure",
			Severity: SeverityCritical,
		},
	}
)

// Register 允许模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性，未注册时回退到 UNKNOWN。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	hint      *string
	retryable *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithHint 覆盖默认的恢复提示。
func WithHint(hint string) Option {
	return func(e *Error) {
		e.hint = &hint
	}
}

// WithRetryable 指定错误是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。message 为空时使用注册表中的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Newf 以格式化方式创建错误。
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// RecoveryHint 返回面向调用方的恢复提示。
func (e *Error) RecoveryHint() string {
	if e == nil {
		return ""
	}
	if e.hint != nil {
		return *e.hint
	}
	return AttributesOf(e.code).RecoveryHint
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HintOf 返回错误对应的恢复提示，无提示时为空字符串。
func HintOf(err error) string {
	if e, ok := From(err); ok {
		return e.RecoveryHint()
	}
	return ""
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
