package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	p, err := New("test", DefaultConfig())
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	if p.Name() != "test" {
		t.Errorf("池名称不匹配: 期望 test, 实际 %s", p.Name())
	}
	if p.Cap() != 4 {
		t.Errorf("池容量不匹配: 期望 4, 实际 %d", p.Cap())
	}

	if _, err := New("bad", &Config{Capacity: 0}); err == nil {
		t.Error("容量为 0 时应返回错误")
	}
}

func TestSubmit(t *testing.T) {
	p, err := New("test", &Config{Capacity: 10, ExpiryDuration: time.Second})
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Release()

	var counter atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		if err := p.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		}); err != nil {
			t.Errorf("提交任务失败: %v", err)
			wg.Done()
		}
	}
	wg.Wait()

	if counter.Load() != 100 {
		t.Errorf("任务执行数不匹配: 期望 100, 实际 %d", counter.Load())
	}
	if s := p.Stats(); s.Submitted != 100 {
		t.Errorf("统计不匹配: %+v", s)
	}
}

func TestSubmitAfterRelease(t *testing.T) {
	p, err := New("test", nil)
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	p.Release()
	p.Release()

	if err := p.Submit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("期望 ErrPoolClosed, 实际 %v", err)
	}
}

func TestReleaseTimeoutWaitsForTasks(t *testing.T) {
	p, err := New("test", &Config{Capacity: 2})
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	var done atomic.Bool
	if err := p.Submit(func() {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
	}); err != nil {
		t.Fatalf("提交失败: %v", err)
	}

	if err := p.ReleaseTimeout(time.Second); err != nil {
		t.Fatalf("ReleaseTimeout: %v", err)
	}
	if !done.Load() {
		t.Error("ReleaseTimeout 应等待任务完成")
	}
	if err := p.ReleaseTimeout(time.Second); err != nil {
		t.Errorf("重复关闭应返回 nil, 实际 %v", err)
	}
}

func TestSubmitWithCancelledContext(t *testing.T) {
	p, _ := New("test", nil)
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.SubmitWithContext(ctx, func() { t.Error("不应执行") }); !errors.Is(err, context.Canceled) {
		t.Errorf("期望 context.Canceled, 实际 %v", err)
	}
}

func TestNonblockingOverload(t *testing.T) {
	p, _ := New("test", &Config{Capacity: 1, Nonblocking: true})
	defer p.Release()

	block := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit(func() { close(started); <-block }); err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}
	<-started

	if err := p.Submit(func() {}); !errors.Is(err, ErrPoolOverload) {
		t.Errorf("期望 ErrPoolOverload, 实际 %v", err)
	}
	close(block)

	if s := p.Stats(); s.Rejected != 1 {
		t.Errorf("拒绝数不匹配: %d", s.Rejected)
	}
}

func TestMapKeepsOrder(t *testing.T) {
	p, _ := New("test", &Config{Capacity: 3})
	defer p.Release()

	items := []int{5, 1, 4, 2, 3}
	results, errs := Map(context.Background(), p, items, func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		if n == 4 {
			return 0, errors.New("four")
		}
		return n * 10, nil
	})

	want := []int{50, 10, 0, 20, 30}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("results[%d] = %d, 期望 %d", i, results[i], want[i])
		}
	}
	for i, err := range errs {
		if (i == 2) != (err != nil) {
			t.Errorf("errs[%d] = %v", i, err)
		}
	}
}

func TestMapRecoversPanic(t *testing.T) {
	p, _ := New("test", nil)
	defer p.Release()

	_, errs := Map(context.Background(), p, []string{"ok", "boom"}, func(_ context.Context, s string) (string, error) {
		if s == "boom" {
			panic("bad input")
		}
		return s, nil
	})
	if errs[0] != nil || errs[1] == nil {
		t.Errorf("errs = %v", errs)
	}
}

func TestMapWithoutPool(t *testing.T) {
	results, errs := Map(context.Background(), nil, []int{1, 2}, func(_ context.Context, n int) (int, error) {
		return n + 1, nil
	})
	if results[0] != 2 || results[1] != 3 || errs[0] != nil || errs[1] != nil {
		t.Errorf("results = %v, errs = %v", results, errs)
	}
}
