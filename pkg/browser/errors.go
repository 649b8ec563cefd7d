package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 选择器在重试耗尽后仍未命中
	ErrNotFound = errors.New("element not found")
	// ErrLaunch 浏览器进程启动失败
	ErrLaunch = errors.New("browser launch failed")
	// ErrClosed 会话已关闭
	ErrClosed = errors.New("browser session closed")
)

// NotFoundError 重试轮询耗尽
type NotFoundError struct {
	Selector string
	Attempts int
	// Err 最后一次查询的错误，可能为空
	Err error
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("element not found: selector %q after %d attempts", e.Selector, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// LaunchError 会话启动失败，对该会话是致命的
type LaunchError struct {
	Stage string
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("browser launch failed (%s): %v", e.Stage, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Is(target error) bool { return target == ErrLaunch }
