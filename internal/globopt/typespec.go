// typespec.go - 表示转换
//
// 每个变量同时可能以装箱、int32、float64、SIMD 形式存在，块数据记录
// 哪些形式当前可用。指令需要某种形式而它不可用时插入转换；转换对象在
// 当前循环中不变时，转换放到最外层可能的 landing pad 中，在整个循环里
// 都可以使用。

package globopt

import (
	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// ToVar 返回操作数的装箱形式
func (g *GlobOpt) ToVar(instr *ir.Instr, o *ir.Opnd) *ir.Opnd {
	if o == nil {
		return nil
	}
	switch o.Kind {
	case ir.OpndIntConst, ir.OpndFloatConst:
		if o.Type == ir.TyVar {
			return o
		}
		c := o.Copy()
		c.Type = ir.TyVar
		return c
	case ir.OpndReg:
	default:
		return o
	}
	s := g.varSym(o.Sym)
	d := g.data
	g.valueOf(o)
	if d.IsLiveVar(s) || !d.IsSpecialized(s) {
		d.MakeLive(s, ir.ReprVar, false)
		return g.varOpnd(o, s)
	}
	g.convert(instr, s, ir.ReprVar, false)
	return g.varOpnd(o, s)
}

// varOpnd 变量符号的寄存器操作数，保留原操作数的 profile 类型
func (g *GlobOpt) varOpnd(o *ir.Opnd, s ir.SymID) *ir.Opnd {
	if o.Sym == s {
		return o
	}
	r := g.reg(s)
	r.ValueType = o.ValueType
	return r
}

// ToInt32 返回操作数的 int32 形式。lossy 为 true 时按位运算语义截断
func (g *GlobOpt) ToInt32(instr *ir.Instr, o *ir.Opnd, lossy bool) *ir.Opnd {
	if o.IsConst() {
		c, ok := constInt32(o, lossy)
		if !ok {
			return nil
		}
		return ir.IntConstOpnd(c, ir.TyInt32)
	}
	if !o.IsReg() {
		return nil
	}
	s := g.varSym(o.Sym)
	d := g.data
	v := g.valueOf(o)
	if c, ok := v.Info.IsIntConstant(); ok {
		return ir.IntConstOpnd(c, ir.TyInt32)
	}
	if f, ok := v.Info.IsNumberConstant(); ok && lossy {
		return ir.IntConstOpnd(ir.ToInt32(f), ir.TyInt32)
	}
	if d.IsLiveLosslessInt32(s) || lossy && d.IsLiveInt32(s) {
		return g.reg(g.shadow(s, ir.ReprInt32))
	}
	g.convert(instr, s, ir.ReprInt32, lossy)
	return g.reg(g.shadow(s, ir.ReprInt32))
}

// ToFloat64 返回操作数的 float64 形式
func (g *GlobOpt) ToFloat64(instr *ir.Instr, o *ir.Opnd) *ir.Opnd {
	if o.IsConst() {
		f, ok := constFloat64(o)
		if !ok {
			return nil
		}
		return ir.FloatConstOpnd(f)
	}
	if !o.IsReg() {
		return nil
	}
	s := g.varSym(o.Sym)
	d := g.data
	v := g.valueOf(o)
	if f, ok := v.Info.IsNumberConstant(); ok {
		return ir.FloatConstOpnd(f)
	}
	if d.IsLiveFloat64(s) {
		return g.reg(g.shadow(s, ir.ReprFloat64))
	}
	g.convert(instr, s, ir.ReprFloat64, false)
	return g.reg(g.shadow(s, ir.ReprFloat64))
}

// ToSimd128 返回操作数的 SIMD 形式
func (g *GlobOpt) ToSimd128(instr *ir.Instr, o *ir.Opnd, r ir.Repr) *ir.Opnd {
	if !o.IsReg() {
		return nil
	}
	s := g.varSym(o.Sym)
	g.valueOf(o)
	if !g.data.IsLiveSimd(s, r) {
		g.convert(instr, s, r, false)
	}
	return g.reg(g.shadow(s, r))
}

// constInt32 常量操作数的 int32 值
func constInt32(o *ir.Opnd, lossy bool) (int32, bool) {
	if o.IsIntConst() {
		return o.Int, true
	}
	v, ok := ir.ConstVal(o)
	if !ok || v.Kind == ir.RString && !lossy {
		return 0, false
	}
	f := ir.ToNumber(v)
	if ir.IsInt32Value(f) {
		return int32(f), true
	}
	if lossy {
		return ir.ToInt32(f), true
	}
	return 0, false
}

// constFloat64 常量操作数的数值；只接受数值常量
func constFloat64(o *ir.Opnd) (float64, bool) {
	switch o.Kind {
	case ir.OpndIntConst:
		return float64(o.Int), true
	case ir.OpndFloatConst:
		return o.Float, true
	}
	return 0, false
}

// ============================================================================
// 转换
// ============================================================================

// conversionFor 在数据 d 下把 s 转换到表示 r 所需的操作码、源符号与保护
func (g *GlobOpt) conversionFor(d *BlockData, s ir.SymID, r ir.Repr, lossy bool) (ir.Opcode, ir.SymID, ir.BailOutKind) {
	t := ir.Unknown
	if v := d.Value(s); v != nil {
		t = v.Info.Type()
	}
	switch r {
	case ir.ReprVar:
		return ir.OpToVar, g.liveShadow(d, s), ir.BailOutInvalid
	case ir.ReprInt32:
		src := s
		fromFloat := !d.IsLiveVar(s) && d.IsLiveFloat64(s)
		if fromFloat {
			src = g.shadow(s, ir.ReprFloat64)
		}
		if lossy {
			if !fromFloat && t.CanCallUserCodeOnConversion() {
				return ir.OpToInt32Lossy, src, ir.BailOutOnImplicitCalls
			}
			return ir.OpToInt32Lossy, src, ir.BailOutInvalid
		}
		if t.IsInt() {
			return ir.OpToInt32, src, ir.BailOutInvalid
		}
		return ir.OpToInt32, src, ir.BailOutIntOnly
	case ir.ReprFloat64:
		if d.IsLiveLosslessInt32(s) {
			return ir.OpToFloat64, g.shadow(s, ir.ReprInt32), ir.BailOutInvalid
		}
		if t.IsNumber() {
			return ir.OpToFloat64, s, ir.BailOutInvalid
		}
		return ir.OpToFloat64, s, ir.BailOutNumberOnly
	}
	if r == ir.ReprSimd128F4 && t.IsSimd128F4() || r == ir.ReprSimd128I4 && t.IsSimd128I4() {
		return ir.OpToSimd128, s, ir.BailOutInvalid
	}
	return ir.OpToSimd128, s, ir.BailOutOnNotSimd
}

// narrowAfterConversion 带保护的转换通过之后值的类型
func narrowAfterConversion(v *Value, r ir.Repr, kind ir.BailOutKind) {
	if v == nil || kind == ir.BailOutInvalid {
		return
	}
	switch {
	case kind.Has(ir.BailOutIntOnly):
		v.Info = narrowTo(v.Info, ir.KindInt)
	case kind.Has(ir.BailOutNumberOnly):
		v.Info = narrowTo(v.Info, ir.KindNumber)
	case kind.Has(ir.BailOutOnNotSimd):
		k := ir.KindSimd128F4
		if r == ir.ReprSimd128I4 {
			k = ir.KindSimd128I4
		}
		v.Info = narrowTo(v.Info, k)
	}
}

// convert 使 s 的表示 r 在当前位置可用。预扫描只更新块数据
func (g *GlobOpt) convert(instr *ir.Instr, s ir.SymID, r ir.Repr, lossy bool) {
	d := g.data
	v := d.Value(s)
	if r != ir.ReprVar && v != nil {
		if ls := g.conversionHoistTarget(s, v.Number); ls != nil {
			g.hoistConversion(ls, s, r, lossy)
			_, _, kind := g.conversionFor(d, s, r, lossy)
			narrowAfterConversion(v, r, kind)
			d.MakeLive(s, r, lossy && !ls.lpData.IsLiveLosslessInt32(s))
			return
		}
	}
	op, src, kind := g.conversionFor(d, s, r, lossy)
	if !g.IsPrepass() {
		conv := g.newInstr(op, g.reg(g.shadow(s, r)), g.reg(src), nil, instr)
		g.insertBefore(g.currentBlock, instr, conv)
		g.addBailOut(conv, kind)
		g.stats.Conversions++
	}
	narrowAfterConversion(v, r, kind)
	d.MakeLive(s, r, lossy)
}

// conversionHoistTarget s 在其中不变、且 landing pad 上持有同一个值的最外层循环
func (g *GlobOpt) conversionHoistTarget(s ir.SymID, vn ValueNumber) *loopState {
	if g.IsPrepass() || !g.enabled(config.FeatureInvariantHoist) {
		return nil
	}
	var target *loopState
	for ls := g.loopOf(g.currentBlock); ls != nil; ls = g.parentLoop(ls) {
		if ls.state != loopRealPass || ls.lpData == nil || ls.defs.Test(uint(s)) {
			break
		}
		lpv := ls.lpData.Value(s)
		if lpv == nil || lpv.Number != vn || !(ls.lpData.IsLiveVar(s) || ls.lpData.IsLiveFloat64(s)) {
			break
		}
		target = ls
	}
	return target
}

// parentLoop 外层循环的状态
func (g *GlobOpt) parentLoop(ls *loopState) *loopState {
	if ls.loop.Parent == ir.NoLoop {
		return nil
	}
	return g.loops[ls.loop.Parent]
}

// hoistConversion 在 landing pad 末尾生成转换，保护共享循环的恢复点
func (g *GlobOpt) hoistConversion(ls *loopState, s ir.SymID, r ir.Repr, lossy bool) {
	lp := ls.lpData
	if lp.IsLiveRepr(s, r) || lossy && r == ir.ReprInt32 && lp.IsLiveInt32(s) {
		return
	}
	op, src, kind := g.conversionFor(lp, s, r, lossy)
	pad := g.fn.Blocks[ls.loop.LandingPad]
	like := pad.Terminator()
	if like == nil {
		like = pad.Last()
	}
	conv := g.newInstr(op, g.reg(g.shadow(s, r)), g.reg(src), nil, like)
	pad.InsertBeforeTerminator(conv)
	g.addSharedBailOut(ls, conv, kind)
	narrowAfterConversion(lp.Value(s), r, kind)
	lp.MakeLive(s, r, lossy)
	g.stats.HoistedConversions++
}
