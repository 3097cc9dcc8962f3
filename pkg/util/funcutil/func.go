package funcutil

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// CheckCtxValid 判断上下文是否仍然有效（未取消且未超时）。
func CheckCtxValid(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	default:
		return true
	}
}

// GetFunctionName 返回函数 i 的短名称，主要用于日志。
func GetFunctionName(i any) string {
	name := runtime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

// CheckCtxValidErr 与 CheckCtxValid 类似，但返回带描述的错误。
func CheckCtxValidErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	default:
		return nil
	}
}
