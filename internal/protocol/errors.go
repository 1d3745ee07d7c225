package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProtocolError 浏览器拒绝命令时返回的错误
type ProtocolError struct {
	Method string
	Cause  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %v", e.Method, e.Cause)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// StaleContextError 上下文（目标页面/执行环境）在操作中途被销毁
type StaleContextError struct {
	Method string
	Cause  error
}

func (e *StaleContextError) Error() string {
	return fmt.Sprintf("browsing context was destroyed during %s: %v", e.Method, e.Cause)
}

func (e *StaleContextError) Unwrap() error { return e.Cause }

// 已知的上下文失效错误文案，来自 Chromium 不同版本的实际返回
var staleContextMarkers = []string{
	"Invalid InterceptionId",
	"No resource with given identifier",
	"Cannot find context with specified id",
	"Target closed",
	"Session closed",
	"Session with given id not found",
}

func wrapCommandError(method string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	for _, marker := range staleContextMarkers {
		if strings.Contains(msg, marker) {
			return &StaleContextError{Method: method, Cause: err}
		}
	}
	return &ProtocolError{Method: method, Cause: err}
}

// IsStaleContext 判断错误是否为上下文失效
func IsStaleContext(err error) bool {
	var sc *StaleContextError
	return errors.As(err, &sc)
}
