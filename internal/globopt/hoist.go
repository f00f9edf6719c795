// hoist.go - 循环不变量外提
//
// 源操作数在循环中都不变的纯计算移到 landing pad。带保护的 int 运算在
// landing pad 上用那里的值区间重新推导保护原因，循环内由路径条件得到
// 的区间在 landing pad 上并不成立。需要保护的计算只从支配全部回边的块
// 外提，条件执行的计算留在原处。属性读取只在对象类型已在 landing pad
// 上检查、循环禁止隐式调用时外提。

package globopt

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// intSpecializedOrigin int 特化操作码对应的装箱操作码，用于重新推导保护
var intSpecializedOrigin = map[ir.Opcode]ir.Opcode{
	ir.OpAddI4:  ir.OpAdd,
	ir.OpSubI4:  ir.OpSub,
	ir.OpMulI4:  ir.OpMul,
	ir.OpDivI4:  ir.OpDiv,
	ir.OpRemI4:  ir.OpRem,
	ir.OpNegI4:  ir.OpNeg,
	ir.OpNotI4:  ir.OpNot,
	ir.OpAndI4:  ir.OpAnd,
	ir.OpOrI4:   ir.OpOr,
	ir.OpXorI4:  ir.OpXor,
	ir.OpShlI4:  ir.OpShl,
	ir.OpShrI4:  ir.OpShr,
	ir.OpShrUI4: ir.OpShrU,
}

// OptIsInvariant 操作数在循环 ls 中不变，且在 landing pad 出口以同一表示可用
func (g *GlobOpt) OptIsInvariant(o *ir.Opnd, ls *loopState) bool {
	if o == nil {
		return true
	}
	switch o.Kind {
	case ir.OpndIntConst, ir.OpndFloatConst, ir.OpndAddr:
		return true
	case ir.OpndProperty:
		return g.fieldInvariantIn(o.Sym, ls)
	case ir.OpndReg:
	default:
		return false
	}
	lp := ls.lpData
	if lp == nil {
		return false
	}
	s := g.varSym(o.Sym)
	if ls.defs.Test(uint(s)) {
		return false
	}
	lpv, cur := lp.Value(s), g.data.Value(s)
	if lpv == nil || cur == nil || lpv.Number != cur.Number {
		return false
	}
	r := g.fn.Syms.Get(o.Sym).Repr
	if r == ir.ReprInt32 {
		return lp.IsLiveInt32(s)
	}
	return lp.IsLiveRepr(s, r)
}

// hoistableOp 操作码是否考虑外提
func hoistableOp(op ir.Opcode) bool {
	switch {
	case !op.Has(ir.FlagCanHoist), op.IsBranch(), op.Has(ir.FlagConversion):
		return false
	case op >= ir.OpCheckArray && op <= ir.OpMemcopy:
		// 数组检查与边界检查有专门的外提
		return false
	case op == ir.OpLd, op == ir.OpLdI4, op == ir.OpLdF8:
		return false
	}
	return true
}

// TryHoistInvariant 指令的源在循环中不变时，把计算移到最外层可能的
// landing pad
func (g *GlobOpt) TryHoistInvariant(instr *ir.Instr) {
	if g.IsPrepass() || !g.enabled(config.FeatureInvariantHoist) || !hoistableOp(instr.Op) {
		return
	}
	if instr.Op == ir.OpLdFld && !g.enabled(config.FeatureFieldHoist) {
		return
	}
	if instr.Dst == nil || !instr.Dst.IsReg() || instr.Src1 == nil {
		return
	}
	if instr.HasBailOut() && !instr.Op.Has(ir.FlagIntSpecialized) {
		return
	}
	var target *loopState
	var targetInfo *ValueInfo
	var targetKind ir.BailOutKind
	for ls := g.loopOf(g.currentBlock); ls != nil; ls = g.parentLoop(ls) {
		if ls.state != loopRealPass || ls.lpData == nil {
			break
		}
		if !g.OptIsInvariant(instr.Src1, ls) || !g.OptIsInvariant(instr.Src2, ls) {
			break
		}
		info, kind, ok := g.HoistInvariantValueInfo(instr, ls)
		if !ok || kind != ir.BailOutInvalid && !g.dominatesBackEdges(ls) {
			break
		}
		target, targetInfo, targetKind = ls, info, kind
	}
	if target == nil {
		return
	}
	g.OptHoistInvariant(instr, target, targetInfo, targetKind)
}

// HoistInvariantValueInfo 指令在 ls 的 landing pad 上执行时结果的值信息与所需保护。
// 可能回调用户代码的指令不外提
func (g *GlobOpt) HoistInvariantValueInfo(instr *ir.Instr, ls *loopState) (*ValueInfo, ir.BailOutKind, bool) {
	lp := ls.lpData
	op := instr.Op
	if op.Has(ir.FlagImplicitCalls) {
		for _, o := range []*ir.Opnd{instr.Src1, instr.Src2} {
			switch {
			case o == nil:
			case o.IsProperty():
				if !ls.implicitCallsDisabled || !g.checkedTypeIn(lp, o) {
					return nil, 0, false
				}
			case o.IsReg():
				if v := g.operandValueIn(lp, o); v == nil || v.Info.Type().CanCallUserCodeOnConversion() {
					return nil, 0, false
				}
			}
		}
	}
	switch {
	case op.Has(ir.FlagIntSpecialized):
		orig, ok := intSpecializedOrigin[op]
		if !ok {
			return nil, 0, false
		}
		a := g.lpIntRange(lp, instr.Src1)
		b := g.lpIntRange(lp, instr.Src2)
		r, kind, ok := intResult(orig, a, b, instr.IgnoreIntOverflow, instr.IgnoreNegativeZero)
		if !ok {
			return nil, 0, false
		}
		// 循环内不需要保护时 landing pad 上仍可能需要
		return NewIntRangeInfo(r), kind, true
	case op.Has(ir.FlagFloatSpecialized):
		return NewGenericInfo(ir.Number), ir.BailOutInvalid, true
	case op.Has(ir.FlagCompare), op == ir.OpLogicalNot:
		return NewGenericInfo(ir.Boolean), ir.BailOutInvalid, true
	case op.Has(ir.FlagSimd):
		if form, r, ok := op.SimdInfo(); ok {
			return simdResultInfo(form, r), ir.BailOutInvalid, true
		}
	}
	t := ir.Unknown
	if v := g.data.Value(g.varSym(instr.Dst.Sym)); v != nil {
		t = v.Info.Type().ToLikely()
	}
	return typeInfo(t), ir.BailOutInvalid, true
}

// lpIntRange 操作数在 landing pad 上的 int 区间
func (g *GlobOpt) lpIntRange(lp *BlockData, o *ir.Opnd) IntConstantBounds {
	if o == nil {
		return IntConstantBounds{}
	}
	if o.IsIntConst() {
		return IntConstantBounds{o.Int, o.Int}
	}
	if v := g.operandValueIn(lp, o); v != nil {
		if r, ok := v.Info.IntRange(); ok {
			return r
		}
	}
	return FullIntRange
}

// OptHoistInvariant 把指令移到 ls 的 landing pad。目标在循环外不可见时直接移动，
// 否则在 landing pad 计算到临时变量，原位置改为复制
func (g *GlobOpt) OptHoistInvariant(instr *ir.Instr, ls *loopState, info *ValueInfo, kind ir.BailOutKind) {
	b := g.currentBlock
	pad := g.fn.Blocks[ls.loop.LandingPad]
	r := g.fn.Syms.Get(instr.Dst.Sym).Repr
	dst := g.varSym(instr.Dst.Sym)
	v := g.data.Value(dst)
	if v == nil {
		return
	}
	lp := ls.lpData
	if g.canMoveDef(dst, ls) {
		b.Remove(instr)
		pad.InsertBeforeTerminator(instr)
		g.addSharedBailOut(ls, instr, kind)
		lp.SetValue(dst, &Value{Number: v.Number, Info: info.WithSymStore(dst)})
		lp.MakeLive(dst, r, false)
	} else {
		ldOp := ir.OpLd
		switch r {
		case ir.ReprInt32:
			ldOp = ir.OpLdI4
		case ir.ReprFloat64:
			ldOp = ir.OpLdF8
		}
		t := g.newTemp()
		ts := g.reg(g.shadow(t, r))
		ld := g.newInstr(ldOp, instr.Dst, ts, nil, instr)
		b.InsertBefore(instr, ld)
		b.Remove(instr)
		instr.Dst = ts
		pad.InsertBeforeTerminator(instr)
		g.addSharedBailOut(ls, instr, kind)
		lp.SetValue(t, &Value{Number: v.Number, Info: info.WithSymStore(t)})
		lp.MakeLive(t, r, false)
		g.data.SetValue(t, v)
		g.data.MakeLive(t, r, false)
	}
	if instr.Op == ir.OpLdFld {
		lp.SetFieldValue(instr.Src1.Sym, lp.Value(g.varSym(instr.Dst.Sym)))
		g.stats.FieldHoists++
	}
	g.stats.HoistedInstrs++
	g.log.Debug("hoisted",
		zap.Int("instr", int(instr.ID)),
		zap.Stringer("op", instr.Op),
		zap.Int("loop", int(ls.loop.ID)))
}

// canMoveDef 变量只有这一个定义，且在循环头与循环出口都不活跃
func (g *GlobOpt) canMoveDef(s ir.SymID, target *loopState) bool {
	if !g.isOrigSym(s) || !g.isSingleDef(s) {
		return false
	}
	for ls := g.loopOf(g.currentBlock); ls != nil; ls = g.parentLoop(ls) {
		if g.isLiveIn(g.fn.Blocks[ls.loop.Header], s) {
			return false
		}
		for _, e := range g.loopExits(ls.loop) {
			if g.isLiveIn(g.fn.Blocks[e], s) {
				return false
			}
		}
		if ls == target {
			break
		}
	}
	return true
}

// loopExits 循环的出口块
func (g *GlobOpt) loopExits(l *ir.Loop) []ir.BlockID {
	var exits []ir.BlockID
	seen := make(map[ir.BlockID]bool)
	for _, id := range l.BlockList {
		for _, s := range g.fn.Blocks[id].Succs {
			if !l.Contains(s) && !seen[s] {
				seen[s] = true
				exits = append(exits, s)
			}
		}
	}
	return exits
}
