// simd.go - SIMD 运算的表示选择

package globopt

import (
	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// simdKind 向量表示对应的值类型
func simdKind(r ir.Repr) ir.Kind {
	if r == ir.ReprSimd128I4 {
		return ir.KindSimd128I4
	}
	return ir.KindSimd128F4
}

// simdResultInfo SIMD 结果的值信息。取 lane 的结果是标量
func simdResultInfo(form ir.SimdForm, r ir.Repr) *ValueInfo {
	switch {
	case form != ir.SimdExtractLane:
		return NewGenericInfo(ir.KindsOf(simdKind(r)))
	case r == ir.ReprSimd128I4:
		return NewIntRangeInfo(FullIntRange)
	}
	return NewGenericInfo(ir.Number)
}

// simdScalar lane 标量操作数的特化形式。I4 的 lane 按 int32 回绕
func (g *GlobOpt) simdScalar(instr *ir.Instr, o *ir.Opnd, r ir.Repr) *ir.Opnd {
	if r == ir.ReprSimd128I4 {
		return g.ToInt32(instr, o, true)
	}
	return g.ToFloat64(instr, o)
}

// optSimd SIMD 运算：向量操作数使用 SIMD 表示，lane 标量使用对应的标量表示
func (g *GlobOpt) optSimd(instr *ir.Instr) {
	form, r, ok := instr.Op.SimdInfo()
	if !ok {
		g.optGeneric(instr)
		return
	}
	g.valueOf(instr.Src1)
	g.valueOf(instr.Src2)
	if !g.enabled(config.FeatureSimdTypeSpec) || !config.SimdSupported() {
		s1 := g.ToVar(instr, instr.Src1)
		s2 := instr.Src2
		if form != ir.SimdExtractLane {
			s2 = g.ToVar(instr, instr.Src2)
		}
		if !g.IsPrepass() {
			instr.Src1, instr.Src2 = s1, s2
		}
		g.setDst(instr, g.NewValue(simdResultInfo(form, r)), ir.ReprVar)
		return
	}
	var s1, s2 *ir.Opnd
	switch form {
	case ir.SimdSplat:
		s1 = g.simdScalar(instr, instr.Src1, r)
	case ir.SimdUnary:
		s1 = g.ToSimd128(instr, instr.Src1, r)
	case ir.SimdBinary:
		s1 = g.ToSimd128(instr, instr.Src1, r)
		s2 = g.ToSimd128(instr, instr.Src2, r)
	case ir.SimdExtractLane:
		// lane 号是常量
		s1 = g.ToSimd128(instr, instr.Src1, r)
		s2 = instr.Src2
	case ir.SimdReplaceLane:
		s1 = g.ToSimd128(instr, instr.Src1, r)
		s2 = g.simdScalar(instr, instr.Src2, r)
	}
	if s1 == nil {
		s1 = g.ToVar(instr, instr.Src1)
	}
	if instr.Src2 != nil && s2 == nil {
		s2 = g.ToVar(instr, instr.Src2)
	}
	if !g.IsPrepass() {
		instr.Src1, instr.Src2 = s1, s2
		g.stats.SpecializedInstrs++
	}
	dr := r
	if form == ir.SimdExtractLane {
		dr = ir.ScalarRepr(r)
	}
	g.setDst(instr, g.NewValue(simdResultInfo(form, r)), dr)
}
