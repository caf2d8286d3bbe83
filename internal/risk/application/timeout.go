package application

import (
	"context"
	"fmt"
	"time"
)

// callWithTimeout 在 d 内等待 fn 返回，超时后立即返回 ctx 错误而不等待 fn。
// fn 会收到带截止时间的 ctx；不遵守 ctx 的实现只会泄漏一个后台 goroutine，不会拖住调用方。
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- result{zero, fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
