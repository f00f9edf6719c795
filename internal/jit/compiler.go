// compiler.go - 编译器主入口

package jit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/globopt"
	"github.com/tangzhangming/globopt/internal/ir"
)

// ============================================================================
// 编译器
// ============================================================================

// Compiler 编译器
type Compiler struct {
	cfg *config.Config
	log *zap.Logger

	// 已编译的函数，键为函数名
	cache sync.Map
	// 每个函数的关闭历史，跨多次 Compile 保留
	histories sync.Map

	stats Stats

	// 流水线末尾是否做死存储删除
	deadStore bool
}

// Option 编译器选项
type Option func(*Compiler)

// WithLogger 设置日志
func WithLogger(log *zap.Logger) Option {
	return func(c *Compiler) { c.log = log }
}

// WithDeadStorePass 开关死存储删除，默认开启
func WithDeadStorePass(on bool) Option {
	return func(c *Compiler) { c.deadStore = on }
}

// NewCompiler 创建编译器，cfg 为 nil 时使用默认配置
func NewCompiler(cfg *config.Config, opts ...Option) *Compiler {
	if cfg == nil {
		cfg = config.Default()
	}
	c := &Compiler{cfg: cfg, deadStore: true}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// History 返回函数的关闭历史
func (c *Compiler) History(name string) *config.History {
	h, _ := c.histories.LoadOrStore(name, config.NewHistory())
	return h.(*config.History)
}

// Lookup 查找已编译的结果
func (c *Compiler) Lookup(name string) (*Result, bool) {
	r, ok := c.cache.Load(name)
	if !ok {
		return nil, false
	}
	return r.(*Result), true
}

// Invalidate 丢弃函数的编译结果，历史保留
func (c *Compiler) Invalidate(name string) {
	c.cache.Delete(name)
}

// Stats 返回累计统计
func (c *Compiler) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

// Compile 编译函数，原函数不被修改
//
// 推测失败时记录到 h 中，关闭对应的优化族后从头再编译，最多
// MaxRecompiles 次。h 为 nil 时使用编译器为该函数名保存的历史。
func (c *Compiler) Compile(ctx context.Context, fn *ir.Func, h *config.History) (*Result, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	if err := fn.Validate(); err != nil {
		c.stats.Failed.Inc()
		return nil, fmt.Errorf("compile %s: %w", fn.Name, err)
	}

	if h == nil {
		h = c.History(fn.Name)
	}
	limit := c.cfg.GlobOpt.MaxRecompiles
	if limit <= 0 {
		limit = config.DefaultMaxRecompiles
	}
	start := time.Now()

	for attempt := 1; ; attempt++ {
		u := &Unit{Func: fn.Clone(), Flags: c.cfg.Resolve(h)}
		err := NewPipeline(c.cfg, c.log, c.deadStore).Run(ctx, u)
		if re, ok := globopt.IsRecompile(err); ok {
			c.stats.Recompiles.Inc()
			h.Disable(re.Feature, re.Reason)
			c.log.Warn("recompiling",
				zap.String("func", fn.Name),
				zap.Stringer("feature", re.Feature),
				zap.String("reason", re.Reason),
				zap.Int("attempt", attempt))
			if attempt > limit {
				c.stats.Failed.Inc()
				return nil, fmt.Errorf("compile %s: %w: %v", fn.Name, ErrTooManyRecompiles, err)
			}
			continue
		}
		if err != nil {
			c.stats.Failed.Inc()
			return nil, fmt.Errorf("compile %s: %w", fn.Name, err)
		}

		table, err := ir.EncodeBailOutTable(u.Func)
		if err != nil {
			c.stats.Failed.Inc()
			return nil, fmt.Errorf("compile %s: bailout table: %w", fn.Name, err)
		}
		d := time.Since(start)
		c.stats.record(u.Stats, u.DeadStores, d)
		res := &Result{
			Func:         u.Func,
			BailOutTable: table,
			Stats:        u.Stats,
			DeadStores:   u.DeadStores,
			Attempts:     attempt,
			Disabled:     h.Disabled(),
		}
		c.cache.Store(fn.Name, res)
		c.log.Info("compiled",
			zap.String("func", fn.Name),
			zap.Int("attempts", attempt),
			zap.Duration("time", d),
			zap.Stringer("stats", u.Stats))
		return res, nil
	}
}

// CompileAll 并发编译多个函数，返回所有失败合并后的错误
//
// 函数名必须互不相同。
func (c *Compiler) CompileAll(ctx context.Context, fns []*ir.Func) ([]*Result, error) {
	results := make([]*Result, len(fns))
	errs := make([]error, len(fns))
	var wg sync.WaitGroup
	for n, fn := range fns {
		wg.Add(1)
		go func(n int, fn *ir.Func) {
			defer wg.Done()
			results[n], errs[n] = c.Compile(ctx, fn, nil)
		}(n, fn)
	}
	wg.Wait()
	return results, multierr.Combine(errs...)
}
