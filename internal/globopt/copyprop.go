// copyprop.go - 复制传播
//
// 源操作数的值已知为常量时换成常量（操作码允许常量源时），否则换成
// 值的原始持有者。只读块数据，不分配值编号。

package globopt

import (
	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// CopyProp 对指令的源操作数做复制传播
func (g *GlobOpt) CopyProp(instr *ir.Instr) {
	if g.IsPrepass() || !g.enabled(config.FeatureCopyProp) || instr.Op.Has(ir.FlagSymbolicUse) {
		return
	}
	constOK := instr.Op.Has(ir.FlagConstSrc)
	instr.Src1 = g.copyPropOpnd(instr.Src1, constOK)
	instr.Src2 = g.copyPropOpnd(instr.Src2, constOK)
	for n, a := range instr.Args {
		instr.Args[n] = g.copyPropOpnd(a, false)
	}
}

func (g *GlobOpt) copyPropOpnd(o *ir.Opnd, constOK bool) *ir.Opnd {
	if o == nil || !o.IsReg() {
		return o
	}
	d := g.data
	s := g.varSym(o.Sym)
	v := d.Value(s)
	if v == nil {
		return o
	}
	r := g.fn.Syms.Get(o.Sym).Repr
	if constOK {
		if c := constOpndFor(v, r); c != nil {
			g.stats.CopyProps++
			return c
		}
	}
	st := v.Info.SymStore()
	if st == ir.NoSym || st == s || g.isProperty(st) || !g.holds(d, st, v.Number) {
		return o
	}
	switch {
	case r == ir.ReprInt32:
		// 有损形式只能替换有损形式
		if !d.IsLiveLosslessInt32(st) && (d.IsLiveLosslessInt32(s) || !d.IsLiveInt32(st)) {
			return o
		}
	case !d.IsLiveRepr(st, r):
		return o
	}
	n := g.reg(g.shadow(st, r))
	n.ValueType = o.ValueType
	g.stats.CopyProps++
	return n
}

// constOpndFor 常量值在表示 r 下的常量操作数
func constOpndFor(v *Value, r ir.Repr) *ir.Opnd {
	if c, ok := v.Info.IsIntConstant(); ok {
		switch r {
		case ir.ReprVar:
			return ir.IntConstOpnd(c, ir.TyVar)
		case ir.ReprInt32:
			return ir.IntConstOpnd(c, ir.TyInt32)
		case ir.ReprFloat64:
			return ir.FloatConstOpnd(float64(c))
		}
		return nil
	}
	if f, ok := v.Info.IsFloatConstant(); ok {
		switch r {
		case ir.ReprVar:
			o := ir.FloatConstOpnd(f)
			o.Type = ir.TyVar
			return o
		case ir.ReprFloat64:
			return ir.FloatConstOpnd(f)
		}
		return nil
	}
	if c, ok := v.Info.IsVarConstant(); ok && r == ir.ReprVar {
		return ir.AddrOpnd(c)
	}
	return nil
}
