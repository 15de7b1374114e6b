package pool

import (
	"context"
	"fmt"
	"sync"
)

// Map 在池中并发执行 fn，结果与 items 顺序一致。
// 每个元素的错误写入 errs 的对应位置，一个元素失败不影响其他元素。
// p 为 nil 时顺序执行。
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))

	if p == nil {
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				continue
			}
			results[i], errs[i] = fn(ctx, item)
		}
		return results, errs
	}

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		err := p.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("panic: %v", r)
				}
			}()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			results[i], errs[i] = fn(ctx, item)
		})
		if err != nil {
			errs[i] = err
			wg.Done()
		}
	}
	wg.Wait()
	return results, errs
}
