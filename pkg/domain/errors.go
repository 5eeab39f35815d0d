package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrElementNotFound       = errors.New("element not found")
	ErrElementNotVisible     = errors.New("element not visible")
	ErrElementNotInteractive = errors.New("element not interactive")
	ErrTimeout               = errors.New("timeout")
	ErrRetryExhausted        = errors.New("retry exhausted")
	ErrFrameNotFound         = errors.New("frame not found")
	ErrTransportClosed       = errors.New("transport closed")
	ErrFilteredCommand       = errors.New("filtered command")
)

// ProtocolError 浏览器返回的原始协议错误
type ProtocolError struct {
	Method  string
	Code    int
	Message string
	Data    string
}

func (e *ProtocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("CDP error in %s: %s (code %d): %s", e.Method, e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("CDP error in %s: %s (code %d)", e.Method, e.Message, e.Code)
}

// ElementError 元素相关错误，Kind 为 ErrElementNotFound/NotVisible/NotInteractive 之一
type ElementError struct {
	Kind     error
	Selector string
	Reason   string
}

func (e *ElementError) Error() string {
	msg := e.Kind.Error()
	if e.Selector != "" {
		msg += ": " + e.Selector
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *ElementError) Unwrap() error { return e.Kind }

// NotFound 构造 ElementNotFound
func NotFound(selector string) error {
	return &ElementError{Kind: ErrElementNotFound, Selector: selector}
}

// NotVisible 构造 ElementNotVisible
func NotVisible(selector string) error {
	return &ElementError{Kind: ErrElementNotVisible, Selector: selector}
}

// NotInteractive 构造 ElementNotInteractive
func NotInteractive(selector, reason string) error {
	return &ElementError{Kind: ErrElementNotInteractive, Selector: selector, Reason: reason}
}

// TimeoutError 等待超时
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.After, e.Op)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// RetryExhaustedError 重试耗尽，LastErr 为最后一次失败
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap 只暴露 ErrRetryExhausted，最后的错误通过 LastErr 读取
func (e *RetryExhaustedError) Unwrap() error { return ErrRetryExhausted }

// FilteredCommandError 命令被过滤表拦截
type FilteredCommandError struct {
	Method string
	Reason string
}

func (e *FilteredCommandError) Error() string {
	return fmt.Sprintf("command %s filtered: %s", e.Method, e.Reason)
}

func (e *FilteredCommandError) Unwrap() error { return ErrFilteredCommand }

// TransportClosed 包装连接终止原因
func TransportClosed(cause error) error {
	switch {
	case cause == nil:
		return ErrTransportClosed
	case errors.Is(cause, ErrTransportClosed):
		return cause
	}
	return fmt.Errorf("%w: %w", ErrTransportClosed, cause)
}

// FrameNotFound 会话已分离
func FrameNotFound(id SessionID) error {
	return fmt.Errorf("%w: session %s detached", ErrFrameNotFound, id)
}

// IsTerminal 连接或会话已不可用，重试没有意义
func IsTerminal(err error) bool {
	return errors.Is(err, ErrTransportClosed) || errors.Is(err, ErrFrameNotFound)
}

// IsMissing 元素不存在或不可见，try 系列操作据此返回 false
func IsMissing(err error) bool {
	return errors.Is(err, ErrElementNotFound) || errors.Is(err, ErrElementNotVisible)
}
