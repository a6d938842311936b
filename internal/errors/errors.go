package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
// Message 同时作为面向用户的默认提示文案。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"

	// 钱包解析层。
	CodeNoWallet      Code = "NO_WALLET"
	CodeNoProvider    Code = "NO_PROVIDER"
	CodeWrongNetwork  Code = "WRONG_NETWORK"
	CodeChainNotAdded Code = "CHAIN_NOT_ADDED"
	CodeUserRejected  Code = "USER_REJECTED"
	CodeRPCFailure    Code = "RPC_FAILURE"

	// 后端状态服务。
	CodeBackendFailure       Code = "BACKEND_FAILURE"
	CodeBackendInconsistency Code = "BACKEND_INCONSISTENCY"
	CodeBackendUnavailable   Code = "BACKEND_UNAVAILABLE"

	// 编排器。
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeBusy              Code = "BUSY"
	CodeStepLocked        Code = "STEP_LOCKED"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeInvalidArgument: {
			Message:  "invalid argument",
			Severity: SeverityInfo,
		},
		CodeNotFound: {
			Message:  "resource not found",
			Severity: SeverityInfo,
		},
		CodeConflict: {
			Message:  "resource conflict",
			Severity: SeverityWarning,
		},
		CodeInitializationFailure: {
			Message:   "service not initialized",
			Severity:  SeverityWarning,
			Retryable: true,
			Alert:     true,
		},
		CodeStorageFailure: {
			Message:   "storage failure",
			Severity:  SeverityCritical,
			Retryable: true,
			Alert:     true,
		},
		CodeQueueFailure: {
			Message:   "queue failure",
			Severity:  SeverityCritical,
			Retryable: true,
			Alert:     true,
		},
		CodeTimeout: {
			Message:   "operation timed out",
			Severity:  SeverityWarning,
			Retryable: true,
		},
		CodeNoWallet: {
			Message:  "Connect a wallet to continue",
			Severity: SeverityInfo,
		},
		CodeNoProvider: {
			Message:  "No wallet provider available",
			Severity: SeverityInfo,
		},
		CodeWrongNetwork: {
			Message:   "Please switch your wallet to the required network",
			Severity:  SeverityInfo,
			Retryable: true,
		},
		CodeChainNotAdded: {
			Message:  "Please add the network to your wallet and try again",
			Severity: SeverityInfo,
		},
		CodeUserRejected: {
			Message:   "Transaction rejected",
			Severity:  SeverityInfo,
			Retryable: true,
		},
		CodeRPCFailure: {
			Message:   "network request failed",
			Severity:  SeverityWarning,
			Retryable: true,
		},
		CodeBackendFailure: {
			Message:   "backend request failed",
			Severity:  SeverityWarning,
			Retryable: true,
		},
		CodeBackendInconsistency: {
			Message:   "on-chain step confirmed but backend update failed",
			Severity:  SeverityCritical,
			Retryable: true,
			Alert:     true,
		},
		CodeBackendUnavailable: {
			Message:   "backend temporarily unavailable",
			Severity:  SeverityWarning,
			Retryable: true,
			Alert:     true,
		},
		CodeInvalidTransition: {
			Message:  "step not available yet",
			Severity: SeverityInfo,
		},
		CodeBusy: {
			Message:  "another action is already in progress",
			Severity: SeverityInfo,
		},
		CodeStepLocked: {
			Message:  "complete the previous steps first",
			Severity: SeverityInfo,
		},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
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
	metadata  map[string]string
	retryable *bool
	alert     *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 指定错误是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithAlert 指定错误是否需要告警。
func WithAlert(alert bool) Option {
	return func(e *Error) {
		e.alert = &alert
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
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

// Metadata 返回附加信息。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
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

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	if e.alert != nil {
		return *e.alert
	}
	return AttributesOf(e.code).Alert
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

// Is 判断 err 链上是否存在指定错误码。
func Is(err error, code Code) bool {
	for err != nil {
		var target *Error
		if !stdErrors.As(err, &target) {
			return false
		}
		if target.code == code {
			return true
		}
		err = target.cause
	}
	return false
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
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

// UserMessage 将任意错误转换为一条面向用户的提示。
// 用户拒绝签名与网络相关错误使用固定文案，其余错误返回原始信息。
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	e, ok := From(err)
	if !ok {
		return err.Error()
	}
	switch e.Code() {
	case CodeUserRejected, CodeNoWallet, CodeNoProvider, CodeBusy:
		return AttributesOf(e.Code()).Message
	case CodeChainNotAdded, CodeWrongNetwork, CodeStepLocked, CodeInvalidTransition:
		return e.Message()
	}
	if e.cause != nil {
		return rawMessage(e.cause)
	}
	return e.Message()
}

func rawMessage(err error) string {
	if e, ok := From(err); ok {
		if e.cause != nil {
			return rawMessage(e.cause)
		}
		return e.Message()
	}
	return err.Error()
}
