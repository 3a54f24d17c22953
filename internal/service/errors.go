// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"
)

// ErrNotFound 表示引用的租户、记录或检测结果不存在。
var ErrNotFound = errors.New("not found")

// ErrSearchDisabled 表示未启用检索索引。
var ErrSearchDisabled = errors.New("detection search is not enabled")

// ValidationError 表示输入在任何状态变更之前被拒绝。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ExportError 表示合规导出在某个阶段失败，不会返回不完整的导出包。
type ExportError struct {
	Stage string
	Err   error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("compliance export failed at %s: %v", e.Stage, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}
