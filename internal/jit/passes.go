// passes.go - 优化流水线

package jit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/globopt"
	"github.com/tangzhangming/globopt/internal/ir"
)

// ============================================================================
// Pass 接口
// ============================================================================

// Unit 流水线处理的编译单元
type Unit struct {
	Func  *ir.Func
	Flags *config.Flags
	Stats globopt.Stats
	// DeadStores 死存储删除去掉的指令数
	DeadStores int
}

// Pass 流水线中的一步
type Pass interface {
	Name() string
	Run(ctx context.Context, u *Unit) error
}

// ============================================================================
// Pass 管理器
// ============================================================================

// PassManager 按顺序运行 Pass，任一出错即停止
type PassManager struct {
	passes []Pass
	log    *zap.Logger
	stats  PassStats
}

// PassStats Pass 统计信息
type PassStats struct {
	PassesRun   int
	PerPassTime map[string]time.Duration
}

// NewPassManager 创建 Pass 管理器
func NewPassManager(log *zap.Logger) *PassManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &PassManager{
		log:   log,
		stats: PassStats{PerPassTime: make(map[string]time.Duration)},
	}
}

// AddPass 添加 Pass
func (pm *PassManager) AddPass(p Pass) {
	pm.passes = append(pm.passes, p)
}

// Passes 已添加的 Pass 名称
func (pm *PassManager) Passes() []string {
	names := make([]string, len(pm.passes))
	for n, p := range pm.passes {
		names[n] = p.Name()
	}
	return names
}

// Run 运行所有 Pass
func (pm *PassManager) Run(ctx context.Context, u *Unit) error {
	for _, p := range pm.passes {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := p.Run(ctx, u)
		pm.stats.PassesRun++
		pm.stats.PerPassTime[p.Name()] += time.Since(start)
		if err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
		pm.log.Debug("pass done", zap.String("pass", p.Name()), zap.String("func", u.Func.Name))
	}
	return nil
}

// Stats 获取统计信息
func (pm *PassManager) Stats() PassStats {
	return pm.stats
}

// ============================================================================
// 预置 Pass
// ============================================================================

// LoopAnalysisPass 识别循环并建立 landing pad
type LoopAnalysisPass struct{}

func (LoopAnalysisPass) Name() string { return "loops" }

func (LoopAnalysisPass) Run(_ context.Context, u *Unit) error {
	u.Func.AnalyzeLoops()
	return nil
}

// LivenessPass 反向活跃分析
type LivenessPass struct{}

func (LivenessPass) Name() string { return "liveness" }

func (LivenessPass) Run(_ context.Context, u *Unit) error {
	ir.ComputeLiveness(u.Func)
	return nil
}

// GlobOptPass 前向全局优化
type GlobOptPass struct {
	Log             *zap.Logger
	Verify          bool
	MaxPrepassDepth int
}

func (GlobOptPass) Name() string { return "globopt" }

func (p GlobOptPass) Run(ctx context.Context, u *Unit) error {
	g := globopt.New(u.Func, globopt.Options{
		Flags:           u.Flags,
		Logger:          p.Log,
		Verify:          p.Verify,
		MaxPrepassDepth: p.MaxPrepassDepth,
	})
	err := g.Optimize(ctx)
	u.Stats = g.Stats()
	return err
}

// NewPipeline 标准流水线：循环识别、活跃分析、前向优化（含尾复制），可选死存储删除
func NewPipeline(cfg *config.Config, log *zap.Logger, deadStore bool) *PassManager {
	pm := NewPassManager(log)
	pm.AddPass(LoopAnalysisPass{})
	pm.AddPass(LivenessPass{})
	pm.AddPass(GlobOptPass{
		Log:             log,
		Verify:          cfg.GlobOpt.Verify,
		MaxPrepassDepth: cfg.GlobOpt.MaxPrepassDepth,
	})
	if deadStore {
		pm.AddPass(DeadStorePass{})
	}
	return pm
}
