// branch.go - 比较与条件分支

package globopt

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// cmpRanges 两个 int 区间上比较的结果；不确定时 ok 为 false
func cmpRanges(op ir.Opcode, a, b IntConstantBounds) (result, ok bool) {
	switch op {
	case ir.OpCmLt:
		if a.Upper < b.Lower {
			return true, true
		}
		if a.Lower >= b.Upper {
			return false, true
		}
	case ir.OpCmLe:
		if a.Upper <= b.Lower {
			return true, true
		}
		if a.Lower > b.Upper {
			return false, true
		}
	case ir.OpCmGt:
		return cmpRanges(ir.OpCmLt, b, a)
	case ir.OpCmGe:
		return cmpRanges(ir.OpCmLe, b, a)
	case ir.OpCmEq, ir.OpCmSrEq:
		if a.IsConstant() && b.IsConstant() && a.Lower == b.Lower {
			return true, true
		}
		if _, overlap := a.Intersect(b); !overlap {
			return false, true
		}
	case ir.OpCmNeq, ir.OpCmSrNeq:
		r, ok := cmpRanges(ir.OpCmEq, a, b)
		return !r, ok
	}
	return false, false
}

// evalCompare 比较在已知值下的结果
func evalCompare(op ir.Opcode, v1, v2 *Value) (bool, bool) {
	if v1 == nil || v2 == nil {
		return false, false
	}
	if a, ok := constRVal(v1); ok {
		if b, ok := constRVal(v2); ok {
			r, ok := ir.FoldBinary(op, a, b)
			return ok && r.Bool, ok
		}
	}
	ra, okA := v1.Info.IntRange()
	rb, okB := v2.Info.IntRange()
	if !okA || !okB {
		return false, false
	}
	if v1.Number == v2.Number {
		switch op {
		case ir.OpCmEq, ir.OpCmSrEq, ir.OpCmLe, ir.OpCmGe:
			return true, true
		case ir.OpCmNeq, ir.OpCmSrNeq, ir.OpCmLt, ir.OpCmGt:
			return false, true
		}
	}
	return cmpRanges(op, ra, rb)
}

// compareOperand 比较的操作数形式：已有 int32 或 float64 形式时直接使用，
// 循环中 likely int 的操作数转换为 int32 供后续使用
func (g *GlobOpt) compareOperand(instr *ir.Instr, o *ir.Opnd, v *Value, forceInt bool) *ir.Opnd {
	if o == nil || !o.IsReg() {
		return o
	}
	s := g.varSym(o.Sym)
	d := g.data
	switch {
	case d.IsLiveLosslessInt32(s):
		return g.reg(g.shadow(s, ir.ReprInt32))
	case d.IsLiveFloat64(s) && !d.IsLiveVar(s):
		return g.reg(g.shadow(s, ir.ReprFloat64))
	}
	if g.enabled(config.FeatureTypeSpec) && v != nil {
		t := v.Info.Type()
		if forceInt || t.IsInt() ||
			t.IsLikelyInt() && g.enabled(config.FeatureAggressiveIntTypeSpec) && g.loopOf(g.currentBlock) != nil {
			if r := g.ToInt32(instr, o, false); r != nil {
				return r
			}
		}
	}
	return g.ToVar(instr, o)
}

// optCompare Cm 系列：折叠或选择操作数形式，结果为布尔值
func (g *GlobOpt) optCompare(instr *ir.Instr) {
	v1 := g.valueOf(instr.Src1)
	v2 := g.valueOf(instr.Src2)
	if g.enabled(config.FeatureConstFold) {
		if r, ok := evalCompare(instr.Op, v1, v2); ok {
			g.replaceWithConst(instr, ir.BoolOpnd(r))
			return
		}
	}
	s1 := g.compareOperand(instr, instr.Src1, v1, false)
	s2 := g.compareOperand(instr, instr.Src2, v2, false)
	if !g.IsPrepass() {
		instr.Src1, instr.Src2 = s1, s2
	}
	if instr.Op.Has(ir.FlagImplicitCalls) && g.mayCallUserCode(instr.Src1, instr.Src2) {
		g.OptImplicitCalls(instr)
	}
	g.setDst(instr, g.NewValue(NewGenericInfo(ir.Boolean)), ir.ReprVar)
}

// ============================================================================
// 分支
// ============================================================================

// optBranch 条件分支：switch 推测检查、折叠、操作数形式
func (g *GlobOpt) optBranch(instr *ir.Instr) bool {
	if !instr.IsConditionalBranch() {
		return false
	}
	v1 := g.valueOf(instr.Src1)
	v2 := g.valueOf(instr.Src2)
	forceInt, ok := g.checkSwitchSpec(instr, v1, v2)
	if !ok {
		return false
	}
	if g.enabled(config.FeatureConstFold) {
		if taken, ok := g.evalBranch(instr, v1, v2); ok && g.foldBranch(instr, taken) {
			return false
		}
	}
	if instr.Op == ir.OpBrTrue || instr.Op == ir.OpBrFalse {
		g.optBoolBranch(instr, v1)
		return false
	}
	s1 := g.compareOperand(instr, instr.Src1, v1, forceInt)
	s2 := g.compareOperand(instr, instr.Src2, v2, forceInt)
	if !g.IsPrepass() {
		instr.Src1, instr.Src2 = s1, s2
	}
	if instr.Op.Has(ir.FlagImplicitCalls) && g.mayCallUserCode(instr.Src1, instr.Src2) {
		g.OptImplicitCalls(instr)
	}
	return false
}

// checkSwitchSpec switch 分支按 int 或字符串特化的推测与已知类型矛盾时
// 要求关闭对应优化重新编译
func (g *GlobOpt) checkSwitchSpec(instr *ir.Instr, v1, v2 *Value) (forceInt, ok bool) {
	p := instr.Profile
	if p == nil || !instr.Op.IsCompareBranch() {
		return false, true
	}
	types := func() []ir.ValueType {
		var out []ir.ValueType
		for _, v := range []*Value{v1, v2} {
			if v != nil {
				out = append(out, v.Info.Type())
			}
		}
		return out
	}
	if p.SwitchIntSpec && g.enabled(config.FeatureSwitchIntSpec) {
		for _, t := range types() {
			if t.IsNotInt() {
				g.recompile(config.FeatureSwitchIntSpec, "switch operand is not int")
				return false, false
			}
		}
		return true, true
	}
	if p.StringSwitchSpec && g.enabled(config.FeatureStringSwitchSpec) {
		for _, t := range types() {
			if t.IsNotString() {
				g.recompile(config.FeatureStringSwitchSpec, "switch operand is not string")
				return false, false
			}
		}
	}
	return false, true
}

// recompile 记录重新编译请求。预扫描中看到的类型还不是最终结果，忽略
func (g *GlobOpt) recompile(f config.Feature, reason string) {
	if g.IsPrepass() || g.err != nil {
		return
	}
	g.log.Info("recompile", zap.Stringer("feature", f), zap.String("reason", reason))
	g.err = &RecompileError{Feature: f, Reason: reason}
}

// evalBranch 分支在已知值下是否跳转
func (g *GlobOpt) evalBranch(instr *ir.Instr, v1, v2 *Value) (bool, bool) {
	op := instr.Op
	if op == ir.OpBrTrue || op == ir.OpBrFalse {
		if v1 == nil {
			return false, false
		}
		want := op == ir.OpBrTrue
		if a, ok := constRVal(v1); ok {
			return ir.FoldBranch(op, a, ir.RVal{})
		}
		t := v1.Info.Type()
		switch {
		case t.IsObject():
			return want, true
		case t.IsUndefined(), t.IsNull():
			return !want, true
		}
		if r, ok := v1.Info.IntRange(); ok && !r.Contains(0) {
			return want, true
		}
		return false, false
	}
	return evalCompare(op.Info().Compare, v1, v2)
}

// foldBranch 把结果已知的分支改为无条件跳转或删除。循环回边不动
func (g *GlobOpt) foldBranch(instr *ir.Instr, taken bool) bool {
	if g.IsPrepass() {
		return false
	}
	b := g.currentBlock
	removed := instr.Target
	if taken {
		removed = b.Fallthrough()
	}
	if removed == ir.NoBlock || g.fn.Blocks[removed].IsLoopHeader {
		return false
	}
	if taken {
		instr.Op = ir.OpBr
		instr.Src1, instr.Src2 = nil, nil
		instr.BailOut = nil
	} else {
		b.Remove(instr)
	}
	// 两条出边指向同一块时只删除其中一条
	g.fn.RemoveEdge(b.ID, removed)
	g.stats.FoldedBranches++
	g.log.Debug("folded branch", zap.Int("block", int(b.ID)), zap.Bool("taken", taken))
	return true
}

// optBoolBranch BrTrue/BrFalse：BrTrue !x 改为 BrFalse x
func (g *GlobOpt) optBoolBranch(instr *ir.Instr, v1 *Value) {
	if !g.IsPrepass() && v1 != nil {
		if orig, ok := g.notOf[v1.Number]; ok {
			if holder := g.symHolding(g.data, orig, ir.ReprVar); holder != ir.NoSym {
				inv, _ := instr.Op.InvertBranch(false)
				instr.Op = inv
				instr.Src1 = g.reg(holder)
				g.stats.Peepholes++
				return
			}
		}
	}
	s1 := g.compareOperand(instr, instr.Src1, v1, false)
	if !g.IsPrepass() {
		instr.Src1 = s1
	}
}
