// induction.go - 归纳变量
//
// 预扫描时，每个块的数据记录循环内符号沿当前路径累计的变化量。
// 形如 i = i + c 的更新累加常量 c；其他任何定义都使变化量不确定。
// 汇合点对变化量取并；回边处汇总的结果就是每次迭代的变化量。

package globopt

import (
	"math"

	"go.uber.org/zap"

	"github.com/tangzhangming/globopt/internal/ir"
)

// InductionVariable 归纳变量
type InductionVariable struct {
	Sym ir.SymID
	// ChangeBounds 每次迭代的变化量区间
	ChangeBounds IntConstantBounds
	// Determinate 所有更新都是常量步长且只在本循环（不在内层循环）中执行
	Determinate bool
	// Unroll 每次迭代经过的更新次数
	Unroll int
}

func newInductionVariable(s ir.SymID, delta int32) *InductionVariable {
	return &InductionVariable{Sym: s, ChangeBounds: IntConstantBounds{delta, delta}, Determinate: true, Unroll: 1}
}

// Add 沿路径再累加一次更新
func (iv *InductionVariable) Add(delta int32) {
	if !iv.Determinate {
		return
	}
	r, overflow := iv.ChangeBounds.Add(IntConstantBounds{delta, delta})
	if overflow {
		iv.SetUnknown()
		return
	}
	iv.ChangeBounds = r
	iv.Unroll++
}

// SetUnknown 变化量未知
func (iv *InductionVariable) SetUnknown() {
	iv.Determinate = false
	iv.ChangeBounds = FullIntRange
}

// SetUnbounded 在内层循环中按固定方向更新：方向已知，次数未知
func (iv *InductionVariable) SetUnbounded(delta int32) {
	if !iv.Determinate && !iv.IsChangeUnidirectional() {
		return
	}
	iv.Determinate = false
	if delta >= 0 && iv.ChangeBounds.Lower >= 0 {
		iv.ChangeBounds = IntConstantBounds{iv.ChangeBounds.Lower, math.MaxInt32}
	} else if delta <= 0 && iv.ChangeBounds.Upper <= 0 {
		iv.ChangeBounds = IntConstantBounds{math.MinInt32, iv.ChangeBounds.Upper}
	} else {
		iv.ChangeBounds = FullIntRange
	}
}

// Merge 汇合点合并；另一条路径上没有记录时视为变化 0
func (iv *InductionVariable) Merge(o *InductionVariable) {
	if o == nil {
		iv.ChangeBounds = iv.ChangeBounds.Union(IntConstantBounds{0, 0})
		iv.Determinate = false
		return
	}
	iv.ChangeBounds = iv.ChangeBounds.Union(o.ChangeBounds)
	iv.Determinate = iv.Determinate && o.Determinate && iv.Unroll == o.Unroll
	if o.Unroll > iv.Unroll {
		iv.Unroll = o.Unroll
	}
}

// IsChangeDeterminate 每次迭代的变化量是确定的常量
func (iv *InductionVariable) IsChangeDeterminate() bool {
	return iv.Determinate && iv.ChangeBounds.IsConstant()
}

// IsChangeUnidirectional 变化方向固定
func (iv *InductionVariable) IsChangeUnidirectional() bool {
	return iv.ChangeBounds.Lower >= 0 || iv.ChangeBounds.Upper <= 0
}

// Direction 变化方向：1 递增，-1 递减，0 不定
func (iv *InductionVariable) Direction() int {
	switch {
	case iv.ChangeBounds.Lower >= 0 && iv.ChangeBounds.Upper > 0:
		return 1
	case iv.ChangeBounds.Upper <= 0 && iv.ChangeBounds.Lower < 0:
		return -1
	}
	return 0
}

// ============================================================================
// 检测
// ============================================================================

// inductionUpdate 识别 i = i + c / i = i - c / Incr / Decr，返回常量步长
func (g *GlobOpt) inductionUpdate(instr *ir.Instr) (ir.SymID, int32, bool) {
	dst := instr.DstSym()
	if dst == ir.NoSym {
		return ir.NoSym, 0, false
	}
	v := g.fn.Syms.VarSym(dst)
	srcIs := func(o *ir.Opnd) bool { return o.IsReg() && g.fn.Syms.VarSym(o.Sym) == v }
	constOf := func(o *ir.Opnd) (int32, bool) {
		if o == nil {
			return 0, false
		}
		if o.IsIntConst() {
			return o.Int, true
		}
		if o.IsReg() {
			if val := g.data.Value(g.fn.Syms.VarSym(o.Sym)); val != nil {
				return val.Info.IsIntConstant()
			}
		}
		return 0, false
	}
	switch instr.Op {
	case ir.OpIncr:
		if srcIs(instr.Src1) {
			return v, 1, true
		}
	case ir.OpDecr:
		if srcIs(instr.Src1) {
			return v, -1, true
		}
	case ir.OpAdd, ir.OpAddI4:
		if srcIs(instr.Src1) {
			if c, ok := constOf(instr.Src2); ok {
				return v, c, true
			}
		}
		if srcIs(instr.Src2) {
			if c, ok := constOf(instr.Src1); ok {
				return v, c, true
			}
		}
	case ir.OpSub, ir.OpSubI4:
		if srcIs(instr.Src1) {
			if c, ok := constOf(instr.Src2); ok && c != math.MinInt32 {
				return v, -c, true
			}
		}
	}
	return ir.NoSym, 0, false
}

// DetectInductionVariables 预扫描期间记录循环内符号的定义
func (g *GlobOpt) DetectInductionVariables(instr *ir.Instr) {
	ls := g.prepassLoop()
	if ls == nil {
		return
	}
	dst := instr.DstSym()
	if dst == ir.NoSym {
		return
	}
	v := g.fn.Syms.VarSym(dst)
	if !ls.defs.Test(uint(v)) {
		return
	}
	if g.data.inductionVariables == nil {
		g.data.inductionVariables = make(map[ir.SymID]*InductionVariable)
	}
	iv := g.data.inductionVariables[v]
	s, delta, ok := g.inductionUpdate(instr)
	inner := g.currentBlock.Loop != ls.loop.ID
	switch {
	case !ok:
		if iv == nil {
			iv = &InductionVariable{Sym: v}
			g.data.inductionVariables[v] = iv
		}
		iv.SetUnknown()
	case inner:
		if iv == nil {
			iv = newInductionVariable(s, 0)
			g.data.inductionVariables[v] = iv
		}
		iv.SetUnbounded(delta)
	case iv == nil:
		g.data.inductionVariables[v] = newInductionVariable(s, delta)
	default:
		iv.Add(delta)
	}
}

// DetectUnknownChangesToInductionVariables 合并各回边的记录，得到循环的归纳变量
func (g *GlobOpt) DetectUnknownChangesToInductionVariables(ls *loopState, backEdges []*BlockData) {
	ls.inductionVars = make(map[ir.SymID]*InductionVariable)
	if len(backEdges) == 0 {
		return
	}
	for s := range backEdges[0].inductionVariables {
		merged := *backEdges[0].inductionVariables[s]
		for _, d := range backEdges[1:] {
			merged.Merge(d.inductionVariables[s])
		}
		if merged.IsChangeUnidirectional() && merged.ChangeBounds != (IntConstantBounds{0, 0}) {
			ls.inductionVars[s] = &merged
		}
	}
	for _, d := range backEdges[1:] {
		for s := range d.inductionVariables {
			if _, ok := backEdges[0].inductionVariables[s]; !ok {
				delete(ls.inductionVars, s)
			}
		}
	}
	for s, iv := range ls.inductionVars {
		g.log.Debug("induction variable",
			zap.Int("loop", int(ls.loop.ID)),
			zap.String("sym", g.fn.Syms.Get(s).Name),
			zap.Stringer("change", iv.ChangeBounds),
			zap.Bool("determinate", iv.IsChangeDeterminate()))
	}
}
