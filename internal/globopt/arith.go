// arith.go - 算术、位运算与常量折叠
//
// 处理顺序：常量折叠、窥孔化简、int32 特化、float64 特化，都不成立时
// 保持装箱运算。特化的纯运算按 (操作码, 操作数值编号, 结果表示) 做公共
// 子表达式消除。

package globopt

import (
	"math"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// intConv 操作数转换为 int32 的方式
type intConv uint8

const (
	convNone intConv = iota
	convLossless
	convLossy
)

// optArith 装箱算术、位运算、LogicalNot 与 Conv_Num
func (g *GlobOpt) optArith(instr *ir.Instr) {
	op := instr.Op
	if op.Has(ir.FlagIntSpecialized) || op.Has(ir.FlagFloatSpecialized) {
		g.optSpecialized(instr)
		return
	}
	v1 := g.valueOf(instr.Src1)
	v2 := g.valueOf(instr.Src2)
	if g.enabled(config.FeatureConstFold) {
		if g.foldArith(instr, v1, v2) {
			return
		}
		if !g.IsPrepass() && g.peephole(instr, v1, v2) {
			return
		}
	}
	if op == ir.OpLogicalNot {
		g.optLogicalNot(instr, v1)
		return
	}
	if g.enabled(config.FeatureTypeSpec) {
		if g.typeSpecInt(instr, v1, v2) {
			return
		}
		if g.typeSpecFloat(instr, v1, v2) {
			return
		}
	}
	g.optBoxedArith(instr, v1, v2)
}

// ============================================================================
// 常量折叠与窥孔
// ============================================================================

// constRVal 常量值对应的运行时值
func constRVal(v *Value) (ir.RVal, bool) {
	if v == nil {
		return ir.RVal{}, false
	}
	if f, ok := v.Info.IsNumberConstant(); ok {
		return ir.Num(f), true
	}
	if c, ok := v.Info.IsVarConstant(); ok {
		return ir.ConstVal(ir.AddrOpnd(c))
	}
	return ir.RVal{}, false
}

// foldArith 操作数都是常量时把指令改为常量赋值
func (g *GlobOpt) foldArith(instr *ir.Instr, v1, v2 *Value) bool {
	a, ok := constRVal(v1)
	if !ok {
		return false
	}
	var r ir.RVal
	switch {
	case instr.Src2 != nil:
		b, ok := constRVal(v2)
		if !ok {
			return false
		}
		if r, ok = ir.FoldBinary(instr.Op, a, b); !ok {
			return false
		}
	case instr.Op == ir.OpConvNum:
		r = ir.Num(ir.ToNumber(a))
	default:
		if r, ok = ir.FoldUnary(instr.Op, a); !ok {
			return false
		}
	}
	c, ok := ir.ConstOpnd(r)
	if !ok {
		return false
	}
	g.replaceWithConst(instr, c)
	return true
}

// replaceWithConst 指令的结果是已知常量
func (g *GlobOpt) replaceWithConst(instr *ir.Instr, c *ir.Opnd) {
	if !g.IsPrepass() {
		instr.Op = ir.OpLd
		instr.Src1, instr.Src2, instr.Args = c, nil, nil
		instr.BailOut = nil
		g.stats.ConstFolds++
	}
	g.setDst(instr, g.constOpndValue(c), ir.ReprVar)
}

// replaceWithLd 指令的结果就是 src 的值
func (g *GlobOpt) replaceWithLd(instr *ir.Instr, src *ir.Opnd) {
	instr.Op = ir.OpLd
	instr.Src1, instr.Src2, instr.Args = src, nil, nil
	instr.BailOut = nil
	g.stats.Peepholes++
	g.optLd(instr)
}

// peephole 恒等运算化简；只在正式遍历中执行
func (g *GlobOpt) peephole(instr *ir.Instr, v1, v2 *Value) bool {
	op := instr.Op
	if op == ir.OpLogicalNot {
		return g.doubleNot(instr, v1)
	}
	if op == ir.OpConvNum {
		if v1.Info.Type().IsNumber() {
			g.replaceWithLd(instr, instr.Src1)
			return true
		}
		return false
	}
	if v2 == nil {
		return false
	}
	try := func(x *ir.Opnd, xv, cv *Value) bool {
		c, ok := cv.Info.IsNumberConstant()
		if !ok || xv.Info.IsConstant() {
			return false
		}
		posZero := c == 0 && !math.Signbit(c)
		t := xv.Info.Type()
		switch {
		case op == ir.OpAdd && posZero && t.IsInt(),
			(op == ir.OpOr || op == ir.OpXor) && posZero && t.IsInt(),
			op == ir.OpAnd && c == -1 && t.IsInt(),
			op == ir.OpMul && c == 1 && t.IsNumber():
			g.replaceWithLd(instr, x)
			return true
		case op == ir.OpOr && c == -1 && t.IsPrimitive():
			g.replaceWithConst(instr, ir.IntConstOpnd(-1, ir.TyVar))
			return true
		case op == ir.OpAnd && c == 0 && t.IsPrimitive():
			g.replaceWithConst(instr, ir.IntConstOpnd(0, ir.TyVar))
			return true
		}
		return false
	}
	switch op {
	case ir.OpSub, ir.OpDiv, ir.OpShl, ir.OpShr:
		c, ok := v2.Info.IsNumberConstant()
		if !ok || v1.Info.IsConstant() {
			return false
		}
		t := v1.Info.Type()
		posZero := c == 0 && !math.Signbit(c)
		if op == ir.OpSub && posZero && t.IsNumber() ||
			op == ir.OpDiv && c == 1 && t.IsNumber() ||
			(op == ir.OpShl || op == ir.OpShr) && posZero && t.IsInt() {
			g.replaceWithLd(instr, instr.Src1)
			return true
		}
		return false
	}
	if !op.Has(ir.FlagCommutative) {
		return false
	}
	return try(instr.Src1, v1, v2) || try(instr.Src2, v2, v1)
}

// doubleNot !!x 在 x 确定为布尔值时就是 x
func (g *GlobOpt) doubleNot(instr *ir.Instr, v1 *Value) bool {
	orig, ok := g.notOf[v1.Number]
	if !ok {
		return false
	}
	holder := g.symHolding(g.data, orig, ir.ReprVar)
	if holder == ir.NoSym {
		return false
	}
	if hv := g.data.Value(holder); hv == nil || !hv.Info.Type().IsBoolean() {
		return false
	}
	g.replaceWithLd(instr, g.reg(holder))
	return true
}

// symHolding 当前持有编号 vn 且表示 r 可用的变量符号
func (g *GlobOpt) symHolding(d *BlockData, vn ValueNumber, r ir.Repr) ir.SymID {
	for _, s := range d.SymsWithNumber(vn) {
		if g.isProperty(s) {
			continue
		}
		if d.IsLiveRepr(s, r) {
			return s
		}
	}
	return ir.NoSym
}

func (g *GlobOpt) optLogicalNot(instr *ir.Instr, v1 *Value) {
	src := g.ToVar(instr, instr.Src1)
	if !g.IsPrepass() {
		instr.Src1 = src
	}
	v := g.NewValue(NewGenericInfo(ir.Boolean))
	g.setDst(instr, v, ir.ReprVar)
	if v1 != nil {
		g.notOf[v.Number] = v1.Number
	}
}

// ============================================================================
// int32 特化
// ============================================================================

// intConvFor 操作数能否、以何种方式转换为 int32
func (g *GlobOpt) intConvFor(o *ir.Opnd, v *Value, bitwise bool) (intConv, bool) {
	if o == nil {
		return convNone, true
	}
	lossyOK := bitwise && g.enabled(config.FeatureLossyIntTypeSpec)
	if o.IsConst() {
		if _, ok := constInt32(o, false); ok {
			return convLossless, true
		}
		if _, ok := constInt32(o, true); ok && lossyOK {
			return convLossy, true
		}
		return convNone, false
	}
	if !o.IsReg() || v == nil {
		return convNone, false
	}
	s := g.varSym(o.Sym)
	d := g.data
	t := v.Info.Type()
	switch {
	case d.IsLiveLosslessInt32(s) || t.IsInt():
		return convLossless, true
	case lossyOK && (t.IsLikelyPrimitive() || d.IsLiveInt32(s) || d.IsLiveFloat64(s)):
		return convLossy, true
	case t.IsLikelyInt() && g.enabled(config.FeatureAggressiveIntTypeSpec):
		return convLossless, true
	}
	return convNone, false
}

// IsWorthSpecializingToInt32 int32 特化是否值得。只是 likely int、块内与
// landing pad 中都还没有 int32 形式、只在这里使用一次的操作数，在另一个
// 操作数也不是 int 且结果此后不再使用时不值得转换
func (g *GlobOpt) IsWorthSpecializingToInt32(instr *ir.Instr, v1, v2 *Value) bool {
	d := g.data
	ls := g.loopOf(g.currentBlock)
	for _, o := range []*ir.Opnd{instr.Src1, instr.Src2} {
		if !o.IsReg() {
			continue
		}
		s := g.varSym(o.Sym)
		if d.IsLiveLosslessInt32(s) || ls != nil && ls.lpData != nil && ls.lpData.IsLiveLosslessInt32(s) {
			return true
		}
	}
	for _, v := range []*Value{v1, v2} {
		if v != nil && !v.Info.IsConstant() && v.Info.Type().IsInt() {
			return true
		}
	}
	if g.dstLiveAfter(instr) {
		return true
	}
	for _, o := range []*ir.Opnd{instr.Src1, instr.Src2} {
		if o.IsReg() && g.usesInBlock(g.varSym(o.Sym)) > 1 {
			return true
		}
	}
	return false
}

// dstLiveAfter 指令的结果此后是否还会被读取
func (g *GlobOpt) dstLiveAfter(instr *ir.Instr) bool {
	dst := instr.DstSym()
	if dst == ir.NoSym {
		return false
	}
	v := g.varSym(dst)
	for n := instr.Next(); n != nil; n = n.Next() {
		for _, u := range n.UsedSyms(g.fn.Syms) {
			if g.varSym(u) == v {
				return true
			}
		}
		if d := n.DstSym(); d != ir.NoSym && g.varSym(d) == v {
			return false
		}
	}
	b := g.currentBlock
	return b.Live == nil || b.Live.LiveOut.Test(uint(v))
}

// usesInBlock 变量在当前块中被读取的次数
func (g *GlobOpt) usesInBlock(s ir.SymID) int {
	n := 0
	for i := g.currentBlock.First(); i != nil; i = i.Next() {
		for _, u := range i.UsedSyms(g.fn.Syms) {
			if g.varSym(u) == s {
				n++
			}
		}
	}
	return n
}

// intRangeOf 操作数作为 int32 使用时的区间
func (g *GlobOpt) intRangeOf(o *ir.Opnd, v *Value, c intConv) IntConstantBounds {
	if o.IsConst() {
		n, _ := constInt32(o, c == convLossy)
		return IntConstantBounds{n, n}
	}
	if v == nil {
		return FullIntRange
	}
	if r, ok := v.Info.IntRange(); ok {
		return r
	}
	return FullIntRange
}

// intResult int32 运算结果的区间与需要的保护。ok 为 false 表示结果
// 必然不是 int32，不应按 int32 特化
func intResult(op ir.Opcode, a, b IntConstantBounds, ignoreOverflow, ignoreNegZero bool) (r IntConstantBounds, kind ir.BailOutKind, ok bool) {
	overflowKind := ir.BailOutOnOverflow
	check := func(lo, hi int64) bool {
		if lo > math.MaxInt32 || hi < math.MinInt32 {
			return false
		}
		if lo < math.MinInt32 || hi > math.MaxInt32 {
			if ignoreOverflow {
				r = FullIntRange
				return true
			}
			kind |= overflowKind
			lo = max64(lo, math.MinInt32)
			hi = min64(hi, math.MaxInt32)
		}
		r = IntConstantBounds{int32(lo), int32(hi)}
		return true
	}
	switch op {
	case ir.OpAdd, ir.OpIncr:
		if op == ir.OpIncr {
			b = IntConstantBounds{1, 1}
		}
		ok = check(int64(a.Lower)+int64(b.Lower), int64(a.Upper)+int64(b.Upper))
	case ir.OpSub, ir.OpDecr:
		if op == ir.OpDecr {
			b = IntConstantBounds{1, 1}
		}
		ok = check(int64(a.Lower)-int64(b.Upper), int64(a.Upper)-int64(b.Lower))
	case ir.OpMul:
		overflowKind = ir.BailOutOnMulOverflow
		lo, hi := mulRange(a, b)
		ok = check(lo, hi)
		if ok && !ignoreNegZero && MulMayBeNegativeZero(a, b) {
			kind |= ir.BailOutOnNegativeZero
		}
	case ir.OpDiv:
		kind |= ir.BailOutIntOnly
		r, ok = FullIntRange, true
		if a.Lower >= 0 && b.Lower >= 1 {
			r = IntConstantBounds{0, a.Upper}
		}
		if a.Contains(math.MinInt32) && b.Contains(-1) {
			kind |= ir.BailOutOnOverflow
		}
	case ir.OpRem:
		var nonZero bool
		r, nonZero = a.Rem(b)
		if !nonZero {
			kind |= ir.BailOutIntOnly
		}
		if a.Lower < 0 && !ignoreNegZero {
			kind |= ir.BailOutOnNegativeZero
		}
		ok = true
	case ir.OpNeg:
		ok = check(-int64(a.Upper), -int64(a.Lower))
		if ok && !ignoreNegZero && a.Contains(0) {
			kind |= ir.BailOutOnNegativeZero
		}
	case ir.OpNot:
		r, ok = a.Not(), true
	case ir.OpAnd:
		r, ok = a.And(b), true
	case ir.OpOr:
		r, ok = a.Or(b), true
	case ir.OpXor:
		r, ok = a.Xor(b), true
	case ir.OpShl:
		r, ok = a.Shl(b), true
	case ir.OpShr:
		r, ok = a.Shr(b), true
	case ir.OpShrU:
		if a.Upper < 0 && b.IsConstant() && b.Lower&31 == 0 {
			return FullIntRange, 0, false
		}
		var overflow bool
		r, overflow = a.ShrU(b)
		if overflow {
			if ignoreOverflow {
				r = FullIntRange
			} else {
				kind |= ir.BailOutOnOverflow
				r = IntConstantBounds{0, math.MaxInt32}
			}
		}
		ok = true
	case ir.OpConvNum:
		r, ok = a, true
	}
	return r, kind, ok
}

func mulRange(a, b IntConstantBounds) (lo, hi int64) {
	c := [4]int64{
		int64(a.Lower) * int64(b.Lower),
		int64(a.Lower) * int64(b.Upper),
		int64(a.Upper) * int64(b.Lower),
		int64(a.Upper) * int64(b.Upper),
	}
	lo, hi = c[0], c[0]
	for _, v := range c[1:] {
		lo, hi = min64(lo, v), max64(hi, v)
	}
	return lo, hi
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// typeSpecInt 尝试 int32 特化
func (g *GlobOpt) typeSpecInt(instr *ir.Instr, v1, v2 *Value) bool {
	op := instr.Op
	info := op.Info()
	if info.Int == ir.OpNop {
		return false
	}
	bitwise := op.Has(ir.FlagBitwise)
	c1, ok := g.intConvFor(instr.Src1, v1, bitwise)
	if !ok {
		return false
	}
	c2, ok := g.intConvFor(instr.Src2, v2, bitwise)
	if !ok {
		return false
	}
	if op == ir.OpDiv && (instr.Profile == nil || !instr.Profile.ValueType.IsLikelyInt()) {
		return false
	}
	if !g.IsWorthSpecializingToInt32(instr, v1, v2) {
		return false
	}
	r1 := g.intRangeOf(instr.Src1, v1, c1)
	r2 := g.intRangeOf(instr.Src2, v2, c2)
	rng, kind, ok := intResult(op, r1, r2, instr.IgnoreIntOverflow, instr.IgnoreNegativeZero)
	if !ok {
		return false
	}

	if g.cseHit(instr, v1, v2, ir.ReprInt32) {
		return true
	}
	s1 := g.ToInt32(instr, instr.Src1, c1 == convLossy)
	var s2 *ir.Opnd
	switch {
	case instr.Src2 != nil:
		s2 = g.ToInt32(instr, instr.Src2, c2 == convLossy)
	case op == ir.OpIncr || op == ir.OpDecr:
		s2 = ir.IntConstOpnd(1, ir.TyInt32)
	}
	if !g.IsPrepass() {
		key, keyOK := g.exprKeyFor(instr, v1, v2, ir.ReprInt32)
		instr.Op = info.Int
		instr.Src1, instr.Src2 = s1, s2
		g.addBailOut(instr, kind)
		g.stats.SpecializedInstrs++
		v := g.NewValue(g.relativeResult(NewIntRangeInfo(rng), op, v1, v2, kind, instr.IgnoreIntOverflow))
		g.setDst(instr, v, ir.ReprInt32)
		if keyOK {
			g.exprs[key] = v.Number
		}
		return true
	}
	v := g.NewValue(g.relativeResult(NewIntRangeInfo(rng), op, v1, v2, kind, instr.IgnoreIntOverflow))
	g.setDst(instr, v, ir.ReprInt32)
	return true
}

// relativeResult x + c 的结果相对于 x 的边界
func (g *GlobOpt) relativeResult(info *ValueInfo, op ir.Opcode, v1, v2 *Value, kind ir.BailOutKind, ignoreOverflow bool) *ValueInfo {
	if ignoreOverflow && kind&ir.BailOutOnOverflow == 0 {
		return info
	}
	var base *Value
	var c int32
	constOf := func(v *Value) (int32, bool) {
		if v == nil {
			return 0, false
		}
		return v.Info.IsIntConstant()
	}
	switch op {
	case ir.OpIncr:
		base, c = v1, 1
	case ir.OpDecr:
		base, c = v1, -1
	case ir.OpAdd:
		if k, ok := constOf(v2); ok {
			base, c = v1, k
		} else if k, ok := constOf(v1); ok {
			base, c = v2, k
		}
	case ir.OpSub:
		if k, ok := constOf(v2); ok && k != math.MinInt32 {
			base, c = v1, -k
		}
	}
	if base == nil || base.Info.IsConstant() {
		return info
	}
	rel := base.Info.Relative().Shift(c).WithLower(base.Number, c).WithUpper(base.Number, c)
	return info.WithRelative(rel)
}

// ============================================================================
// float64 特化
// ============================================================================

// floatConvOK 操作数能否转换为 float64
func (g *GlobOpt) floatConvOK(o *ir.Opnd, v *Value) bool {
	if o == nil {
		return true
	}
	if o.IsConst() {
		_, ok := constFloat64(o)
		return ok
	}
	if !o.IsReg() || v == nil {
		return false
	}
	s := g.varSym(o.Sym)
	d := g.data
	return d.IsLiveFloat64(s) || d.IsLiveLosslessInt32(s) || v.Info.Type().IsLikelyNumber()
}

// typeSpecFloat 尝试 float64 特化
func (g *GlobOpt) typeSpecFloat(instr *ir.Instr, v1, v2 *Value) bool {
	op := instr.Op
	info := op.Info()
	if info.Float == ir.OpNop || !g.enabled(config.FeatureFloatTypeSpec) {
		return false
	}
	if !g.floatConvOK(instr.Src1, v1) || !g.floatConvOK(instr.Src2, v2) {
		return false
	}
	if !g.isWorthSpecializingToFloat64(instr, v1, v2) {
		return false
	}
	if g.cseHit(instr, v1, v2, ir.ReprFloat64) {
		return true
	}
	s1 := g.ToFloat64(instr, instr.Src1)
	var s2 *ir.Opnd
	switch {
	case instr.Src2 != nil:
		s2 = g.ToFloat64(instr, instr.Src2)
	case op == ir.OpIncr || op == ir.OpDecr:
		s2 = ir.FloatConstOpnd(1)
	}
	v := g.NewValue(NewGenericInfo(ir.Number))
	if !g.IsPrepass() {
		key, keyOK := g.exprKeyFor(instr, v1, v2, ir.ReprFloat64)
		instr.Op = info.Float
		instr.Src1, instr.Src2 = s1, s2
		g.stats.SpecializedInstrs++
		if keyOK {
			g.exprs[key] = v.Number
		}
	}
	g.setDst(instr, v, ir.ReprFloat64)
	return true
}

func (g *GlobOpt) isWorthSpecializingToFloat64(instr *ir.Instr, v1, v2 *Value) bool {
	d := g.data
	for _, o := range []*ir.Opnd{instr.Src1, instr.Src2} {
		if o.IsReg() && d.IsLiveFloat64(g.varSym(o.Sym)) {
			return true
		}
	}
	for _, v := range []*Value{v1, v2} {
		if v != nil && !v.Info.IsConstant() && v.Info.Type().IsNumber() {
			return true
		}
	}
	return g.loopOf(g.currentBlock) != nil || g.dstLiveAfter(instr)
}

// ============================================================================
// 公共子表达式
// ============================================================================

// exprKeyFor 特化纯运算的表达式键
func (g *GlobOpt) exprKeyFor(instr *ir.Instr, v1, v2 *Value, r ir.Repr) (exprKey, bool) {
	if v1 == nil || instr.Src2 != nil && v2 == nil {
		return exprKey{}, false
	}
	k := exprKey{op: instr.Op, src1: v1.Number, dstRepr: r}
	if v2 != nil {
		k.src2, k.hasSrc2 = v2.Number, true
		if instr.Op.Has(ir.FlagCommutative) && k.src1 > k.src2 {
			k.src1, k.src2 = k.src2, k.src1
		}
	}
	if instr.IgnoreIntOverflow {
		k.constArg |= 1
	}
	if instr.IgnoreNegativeZero {
		k.constArg |= 2
	}
	return k, true
}

// cseHit 同一表达式的结果已由某个符号持有时改为赋值
func (g *GlobOpt) cseHit(instr *ir.Instr, v1, v2 *Value, r ir.Repr) bool {
	if g.IsPrepass() || !g.enabled(config.FeatureCopyProp) {
		return false
	}
	key, ok := g.exprKeyFor(instr, v1, v2, r)
	if !ok {
		return false
	}
	vn, ok := g.exprs[key]
	if !ok {
		return false
	}
	holder := g.symHolding(g.data, vn, r)
	if holder == ir.NoSym {
		return false
	}
	hv := g.data.Value(holder)
	op := ir.OpLdI4
	if r == ir.ReprFloat64 {
		op = ir.OpLdF8
	}
	instr.Op = op
	instr.Src1, instr.Src2 = g.reg(g.shadow(holder, r)), nil
	instr.BailOut = nil
	g.stats.CSEs++
	g.setDst(instr, hv, r)
	return true
}

// ============================================================================
// 装箱运算
// ============================================================================

// optBoxedArith 保持装箱运算，结果类型由操作数推出
func (g *GlobOpt) optBoxedArith(instr *ir.Instr, v1, v2 *Value) {
	s1 := g.ToVar(instr, instr.Src1)
	s2 := g.ToVar(instr, instr.Src2)
	if !g.IsPrepass() {
		instr.Src1, instr.Src2 = s1, s2
	}
	if instr.Op.Has(ir.FlagImplicitCalls) && g.mayCallUserCode(instr.Src1, instr.Src2) {
		g.OptImplicitCalls(instr)
	}
	g.setDst(instr, g.NewValue(g.boxedResultInfo(instr, v1, v2)), ir.ReprVar)
}

// boxedResultInfo 装箱运算结果的值信息
func (g *GlobOpt) boxedResultInfo(instr *ir.Instr, v1, v2 *Value) *ValueInfo {
	op := instr.Op
	t1, t2 := ir.Unknown, ir.Unknown
	if v1 != nil {
		t1 = v1.Info.Type()
	}
	if v2 != nil {
		t2 = v2.Info.Type()
	}
	rangeOf := func(v *Value) IntConstantBounds {
		if v == nil {
			return FullIntRange
		}
		if r, ok := v.Info.IntRange(); ok {
			return r
		}
		return FullIntRange
	}
	switch {
	case op.Has(ir.FlagBitwise):
		r, kind, ok := intResult(op, rangeOf(v1), rangeOf(v2), instr.IgnoreIntOverflow, true)
		if !ok || kind != 0 {
			return NewGenericInfo(ir.Number)
		}
		return NewIntRangeInfo(r)
	case op == ir.OpAdd:
		switch {
		case t1.IsString() || t2.IsString():
			return NewGenericInfo(ir.String)
		case !t1.IsNumber() || !t2.IsNumber():
			if t1.IsLikelyNumber() && t2.IsLikelyNumber() {
				return NewGenericInfo(ir.Number.ToLikely())
			}
			return g.profileInfo(instr)
		}
		fallthrough
	case op == ir.OpSub, op == ir.OpMul, op == ir.OpIncr, op == ir.OpDecr, op == ir.OpNeg:
		if t1.IsInt() && (v2 == nil || t2.IsInt()) {
			r, kind, ok := intResult(op, rangeOf(v1), rangeOf(v2), false, false)
			if ok && kind == 0 {
				return NewIntRangeInfo(r)
			}
		}
		return NewGenericInfo(ir.Number)
	case op == ir.OpConvNum:
		if t1.IsInt() {
			return NewIntRangeInfo(rangeOf(v1))
		}
		return NewGenericInfo(ir.Number)
	case op == ir.OpDiv, op == ir.OpRem:
		return NewGenericInfo(ir.Number)
	}
	return g.profileInfo(instr)
}

// optSpecialized 输入中已经特化的运算：操作数保持特化形式
func (g *GlobOpt) optSpecialized(instr *ir.Instr) {
	isInt := instr.Op.Has(ir.FlagIntSpecialized)
	conv := func(o *ir.Opnd) *ir.Opnd {
		if o == nil {
			return nil
		}
		if isInt {
			return g.ToInt32(instr, o, false)
		}
		return g.ToFloat64(instr, o)
	}
	s1, s2 := conv(instr.Src1), conv(instr.Src2)
	if !g.IsPrepass() {
		if s1 != nil {
			instr.Src1 = s1
		}
		if s2 != nil {
			instr.Src2 = s2
		}
	}
	if isInt {
		g.setDst(instr, g.NewValue(NewIntRangeInfo(FullIntRange)), ir.ReprInt32)
		return
	}
	g.setDst(instr, g.NewValue(NewGenericInfo(ir.Number)), ir.ReprFloat64)
}

// ============================================================================
// 内建数学函数
// ============================================================================

func isMathOp(op ir.Opcode) bool {
	return op >= ir.OpMathAbs && op <= ir.OpMathMax
}

// optMath 内建数学函数：常量折叠，结果确定为数值
func (g *GlobOpt) optMath(instr *ir.Instr) {
	v1 := g.valueOf(instr.Src1)
	v2 := g.valueOf(instr.Src2)
	if g.enabled(config.FeatureConstFold) {
		if a, ok := constRVal(v1); ok {
			var r ir.RVal
			if instr.Src2 != nil {
				if b, ok2 := constRVal(v2); ok2 {
					r, ok = ir.FoldBinary(instr.Op, a, b)
				} else {
					ok = false
				}
			} else {
				r, ok = ir.FoldUnary(instr.Op, a)
			}
			if c, ok2 := ir.ConstOpnd(r); ok && ok2 {
				g.replaceWithConst(instr, c)
				return
			}
		}
	}
	s1 := g.ToVar(instr, instr.Src1)
	s2 := g.ToVar(instr, instr.Src2)
	if !g.IsPrepass() {
		instr.Src1, instr.Src2 = s1, s2
	}
	if g.mayCallUserCode(instr.Src1, instr.Src2) {
		g.OptImplicitCalls(instr)
	}
	info := NewGenericInfo(ir.Number)
	if r, ok := v1.Info.IntRange(); ok && instr.Src2 == nil {
		switch instr.Op {
		case ir.OpMathFloor, ir.OpMathCeil:
			info = NewIntRangeInfo(r)
		case ir.OpMathAbs:
			if r.Lower > math.MinInt32 {
				lo, hi := int64(r.Lower), int64(r.Upper)
				if lo < 0 {
					lo = -lo
				}
				if hi < 0 {
					hi = -hi
				}
				m := max64(lo, hi)
				low := int64(0)
				if r.Lower > 0 {
					low = int64(r.Lower)
				} else if r.Upper < 0 {
					low = -int64(r.Upper)
				}
				info = NewIntRangeInfo(IntConstantBounds{int32(low), int32(m)})
			}
		}
	}
	g.setDst(instr, g.NewValue(info), ir.ReprVar)
}
