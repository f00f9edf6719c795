// arrays.go - 数组元素访问
//
// 元素访问前确认数组类型（必要时插入 CheckArray，能外提时放到 landing
// pad），取头段长度，判断上下界检查能否省略或外提到循环外。
// 数组事实随写入与调用按失效类别降级。

package globopt

import (
	"math"

	"go.uber.org/zap"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// maxArrayLength 数组长度的上界
const maxArrayLength = math.MaxInt32

// arrayAccess 一次元素访问的分析结果
type arrayAccess struct {
	opnd  *ir.Opnd
	base  ir.SymID
	value *Value
	typ   ir.ValueType
	// optimized 基址确定是可直接访问元素的数组
	optimized bool

	index    *Value
	idxOpnd  *ir.Opnd
	idxRange IntConstantBounds
	intIndex bool
	// negative 下标必然小于 0
	negative bool

	length    *Value
	lengthSym ir.SymID
	lowerOK   bool
	upperOK   bool
}

func (a *arrayAccess) inBounds() bool { return a.lowerOK && a.upperOK }

// arrayTypeEnabled 数组种类对应的特化是否开启
func (g *GlobOpt) arrayTypeEnabled(t ir.ValueType) bool {
	if t.ObjectType().IsTypedArray() {
		return g.enabled(config.FeatureTypedArrayTypeSpec)
	}
	return g.enabled(config.FeatureNativeArrayTypeSpec)
}

// loopKills 循环对数组事实的失效汇总；含调用时全部失效
func loopKills(ls *loopState) JsArrayKills {
	if ls.hasCall {
		return KillsAllArrays
	}
	return ls.jsArrayKills
}

func conventionalKind(ot ir.ObjectType) ir.BailOutKind {
	if ot.IsTypedArray() {
		return ir.BailOutConventionalTypedArrayAccessOnly
	}
	return ir.BailOutConventionalNativeArrayAccessOnly
}

// padLike landing pad 中新指令的字节码位置参照
func padLike(pad *ir.Block) *ir.Instr {
	if t := pad.Terminator(); t != nil {
		return t
	}
	return pad.Last()
}

// OptArraySrc 分析元素访问的基址与下标。o 为访问的 Indir 操作数
func (g *GlobOpt) OptArraySrc(instr *ir.Instr, o *ir.Opnd) *arrayAccess {
	base := g.varSym(o.Sym)
	bo := g.reg(base)
	acc := &arrayAccess{opnd: o, base: base}
	acc.value = g.valueOf(bo)
	if r := g.ToVar(instr, bo); r != nil && !g.IsPrepass() {
		o.Sym = r.Sym
	}
	t := acc.value.Info.Type()
	if !t.IsLikelyOptimizedArray() {
		p := instr.Profile
		if p == nil || !p.ArrayType.IsLikelyOptimizedArray() || t.Kinds()&ir.KindObject == 0 {
			g.arrayIndex(instr, acc, false)
			return acc
		}
		t = p.ArrayType.ToLikely()
	}
	if !g.arrayTypeEnabled(t) {
		g.arrayIndex(instr, acc, false)
		return acc
	}
	if !t.IsOptimizedArray() {
		t = g.checkArray(instr, acc, t)
	}
	acc.typ, acc.optimized = t, true
	g.arrayIndex(instr, acc, true)
	if !acc.intIndex || acc.negative {
		return acc
	}
	g.arrayBounds(instr, acc)
	if !g.IsPrepass() {
		info := &ir.ArrayOpndInfo{
			HeadSegmentSym:            acc.value.Info.HeadSegmentSym(),
			HeadSegmentLengthSym:      acc.value.Info.HeadSegmentLengthSym(),
			LengthSym:                 acc.value.Info.LengthSym(),
			EliminatedLowerBoundCheck: acc.lowerOK,
			EliminatedUpperBoundCheck: acc.upperOK,
		}
		o.Array = info
	}
	return acc
}

// arrayIndex 下标的形式：数组访问时 likely int 的下标转换为 int32
func (g *GlobOpt) arrayIndex(instr *ir.Instr, acc *arrayAccess, spec bool) {
	o := acc.opnd
	if o.Index == ir.NoSym {
		acc.intIndex = true
		acc.idxRange = IntConstantBounds{o.Offset, o.Offset}
		acc.index = g.intConstValue(o.Offset)
		acc.idxOpnd = ir.IntConstOpnd(o.Offset, ir.TyInt32)
		acc.negative = o.Offset < 0
		return
	}
	io := g.reg(g.varSym(o.Index))
	acc.index = g.valueOf(io)
	t := acc.index.Info.Type()
	if spec && g.enabled(config.FeatureTypeSpec) && t.IsLikelyInt() {
		if i32 := g.ToInt32(instr, io, false); i32 != nil {
			acc.intIndex = true
			acc.idxOpnd = i32
			if i32.IsIntConst() {
				acc.idxRange = IntConstantBounds{i32.Int, i32.Int}
				if !g.IsPrepass() {
					o.Index, o.Offset = ir.NoSym, i32.Int
				}
			} else {
				acc.idxRange = FullIntRange
				if r, ok := acc.index.Info.IntRange(); ok {
					acc.idxRange = r
				}
				if !g.IsPrepass() {
					o.Index = i32.Sym
				}
			}
			acc.negative = acc.idxRange.Upper < 0
			return
		}
	}
	v := g.ToVar(instr, io)
	if !g.IsPrepass() {
		o.Index = v.Sym
	}
	if t.CanCallUserCodeOnConversion() {
		g.OptImplicitCalls(instr)
	}
}

// checkArray 基址只是 likely 数组：插入 CheckArray，之后基址确定为该数组
func (g *GlobOpt) checkArray(instr *ir.Instr, acc *arrayAccess, t ir.ValueType) ir.ValueType {
	def := t.ToDefinite().WithNoMissingValues(false)
	kind := ir.BailOutOnNotArray
	switch {
	case def.IsNativeArray():
		kind = ir.BailOutOnNotNativeArray
	case def.IsTypedArray():
		kind = ir.BailOutOnNotTypedArray
	}
	if !g.IsPrepass() {
		ls, already := g.arrayCheckHoistTarget(acc.base, def)
		switch {
		case already:
		case ls != nil:
			pad := g.fn.Blocks[ls.loop.LandingPad]
			src := g.reg(acc.base)
			src.ValueType = def
			chk := g.newInstr(ir.OpCheckArray, nil, src, nil, padLike(pad))
			pad.InsertBeforeTerminator(chk)
			g.addSharedBailOut(ls, chk, kind)
			if lpv := ls.lpData.Value(acc.base); lpv != nil {
				lpv.Info = lpv.Info.WithType(def)
			}
			g.stats.ArrayChecks++
			g.stats.HoistedInstrs++
			g.log.Debug("hoisted array check",
				zap.String("base", g.symName(acc.base)),
				zap.Int("loop", int(ls.loop.ID)))
		default:
			src := g.reg(acc.base)
			src.ValueType = def
			chk := g.newInstr(ir.OpCheckArray, nil, src, nil, instr)
			g.currentBlock.InsertBefore(instr, chk)
			g.addBailOut(chk, kind)
			g.stats.ArrayChecks++
		}
	}
	acc.value.Info = acc.value.Info.WithType(def)
	return def
}

// arrayCheckHoistTarget 数组检查可以外提到的最外层循环。already 表示
// 某层 landing pad 上基址已经确定为该数组
func (g *GlobOpt) arrayCheckHoistTarget(base ir.SymID, def ir.ValueType) (target *loopState, already bool) {
	if !g.enabled(config.FeatureArrayCheckHoist) {
		return nil, false
	}
	for ls := g.loopOf(g.currentBlock); ls != nil; ls = g.parentLoop(ls) {
		if ls.state != loopRealPass || ls.lpData == nil || !g.OptIsInvariant(g.reg(base), ls) {
			break
		}
		if loopKills(ls).KillsTypeFacts(def) {
			break
		}
		lpv := ls.lpData.Value(base)
		if lpv == nil {
			break
		}
		if lt := lpv.Info.Type(); lt.IsOptimizedArray() && lt.ObjectType() == def.ObjectType() {
			return ls, true
		}
		target = ls
	}
	return target, false
}

// ============================================================================
// 长度与边界
// ============================================================================

// ensureArrayLength 头段长度所在的 int32 符号及其值，必要时生成加载。
// 优化的数组只有一个段，头段长度与长度相同，共用一个符号
func (g *GlobOpt) ensureArrayLength(instr *ir.Instr, acc *arrayAccess) (ir.SymID, *Value) {
	d := g.data
	info := acc.value.Info
	for _, s := range []ir.SymID{info.HeadSegmentLengthSym(), info.LengthSym()} {
		if s == ir.NoSym {
			continue
		}
		if v := d.Value(g.varSym(s)); v != nil && d.IsLiveInt32(g.varSym(s)) {
			return s, v
		}
	}
	if g.IsPrepass() {
		return ir.NoSym, nil
	}
	t := g.newTemp()
	ts := g.shadow(t, ir.ReprInt32)
	lenV := g.NewValue(NewIntRangeInfo(IntConstantBounds{0, maxArrayLength}).WithSymStore(t))
	if ls := g.arrayLengthHoistTarget(acc); ls != nil {
		pad := g.fn.Blocks[ls.loop.LandingPad]
		ld := g.newInstr(ir.OpLdHeadSegmentLength, g.reg(ts), g.reg(acc.base), nil, padLike(pad))
		pad.InsertBeforeTerminator(ld)
		lp := ls.lpData
		lp.SetValue(t, &Value{Number: lenV.Number, Info: lenV.Info})
		lp.MakeLive(t, ir.ReprInt32, false)
		if lpv := lp.Value(acc.base); lpv != nil {
			lpv.Info = lpv.Info.WithArraySyms(lpv.Info.HeadSegmentSym(), ts, ts)
		}
		g.stats.HoistedInstrs++
	} else {
		ld := g.newInstr(ir.OpLdHeadSegmentLength, g.reg(ts), g.reg(acc.base), nil, instr)
		g.currentBlock.InsertBefore(instr, ld)
	}
	d.SetValue(t, lenV)
	d.MakeLive(t, ir.ReprInt32, false)
	acc.value.Info = acc.value.Info.WithArraySyms(acc.value.Info.HeadSegmentSym(), ts, ts)
	return ts, lenV
}

// arrayLengthHoistTarget 长度加载可以外提到的最外层循环：基址不变、
// landing pad 上基址确定是同种数组、循环不改变长度
func (g *GlobOpt) arrayLengthHoistTarget(acc *arrayAccess) *loopState {
	if !g.enabled(config.FeatureArraySegmentHoist) && !g.enabled(config.FeatureArrayLengthHoist) {
		return nil
	}
	var target *loopState
	for ls := g.loopOf(g.currentBlock); ls != nil; ls = g.parentLoop(ls) {
		if ls.state != loopRealPass || ls.lpData == nil || !g.OptIsInvariant(g.reg(acc.base), ls) {
			break
		}
		k := loopKills(ls)
		if k.Any(KillsArrayHeadSegmentLengths|KillsArrayLengths) || k.KillsTypeFacts(acc.typ) {
			break
		}
		lpv := ls.lpData.Value(acc.base)
		if lpv == nil {
			break
		}
		lt := lpv.Info.Type()
		if !lt.IsOptimizedArray() || lt.ObjectType() != acc.typ.ObjectType() {
			break
		}
		target = ls
	}
	return target
}

// arrayBounds 判断上下界检查是否可以省略，不能省略时尝试外提
func (g *GlobOpt) arrayBounds(instr *ir.Instr, acc *arrayAccess) {
	if !g.enabled(config.FeatureBoundCheckElimination) {
		return
	}
	zero := g.intConstValue(0)
	acc.lowerOK = g.IsBoundCheckRedundant(zero, acc.index, 0)
	acc.lengthSym, acc.length = g.ensureArrayLength(instr, acc)
	if acc.length != nil {
		acc.upperOK = g.IsBoundCheckRedundant(acc.index, acc.length, -1)
	}
	if g.IsPrepass() {
		return
	}
	if acc.inBounds() {
		g.stats.EliminatedBoundChecks++
		return
	}
	if acc.length == nil || !g.enabled(config.FeatureBoundCheckHoist) {
		return
	}
	if !acc.lowerOK {
		acc.lowerOK = g.HoistBoundCheck(acc, true)
	}
	if !acc.upperOK {
		acc.upperOK = g.HoistBoundCheck(acc, false)
	}
}

// IsBoundCheckRedundant left <= right + off 是否已知成立
func (g *GlobOpt) IsBoundCheckRedundant(left, right *Value, off int32) bool {
	if left == nil || right == nil {
		return false
	}
	if left.Number == right.Number && off >= 0 {
		return true
	}
	found := false
	g.data.availableIntBoundChecks.Each(func(c IntBoundCheck) bool {
		if c.Left == left.Number && c.Right == right.Number && c.Offset <= off {
			found = true
		}
		return found
	})
	if found {
		return true
	}
	if rel := left.Info.Relative(); rel != nil {
		if u, ok := rel.Upper(right.Number); ok && u <= off {
			return true
		}
	}
	if rel := right.Info.Relative(); rel != nil {
		if l, ok := rel.Lower(left.Number); ok && int64(-l) <= int64(off) {
			return true
		}
	}
	lr, okL := left.Info.IntRange()
	rr, okR := right.Info.IntRange()
	return okL && okR && int64(lr.Upper) <= int64(rr.Lower)+int64(off)
}

// boundCandidate 外提检查的一个候选：下标 <= opnd + off（上界）或 下标 >= opnd + off（下界）
type boundCandidate struct {
	opnd      *ir.Opnd
	off       int32
	loopCount bool
}

// HoistBoundCheck 把下标的一侧边界检查外提到最外层可能的 landing pad
func (g *GlobOpt) HoistBoundCheck(acc *arrayAccess, lower bool) bool {
	var target *loopState
	var cand boundCandidate
	for ls := g.loopOf(g.currentBlock); ls != nil; ls = g.parentLoop(ls) {
		if ls.state != loopRealPass || ls.lpData == nil {
			break
		}
		if !lower && !g.lengthAvailableIn(ls, acc) {
			break
		}
		c, ok := g.DetermineArrayBoundCheckHoistability(acc, ls, lower)
		if !ok {
			break
		}
		target, cand = ls, c
	}
	if target == nil {
		return false
	}
	pad := g.fn.Blocks[target.loop.LandingPad]
	kind := ir.BailOutOnFailedHoistedBoundCheck
	if cand.loopCount {
		kind = ir.BailOutOnFailedHoistedLoopCountBasedBoundCheck
	}
	var bc *ir.Instr
	if lower {
		// 0 <= l + off
		bc = g.newInstr(ir.OpBoundCheck, nil, ir.IntConstOpnd(0, ir.TyInt32), cand.opnd, padLike(pad))
		bc.Offset = cand.off
	} else {
		// u <= length - 1 - off
		bc = g.newInstr(ir.OpBoundCheck, nil, cand.opnd, g.reg(acc.lengthSym), padLike(pad))
		bc.Offset = -1 - cand.off
	}
	pad.InsertBeforeTerminator(bc)
	g.addSharedBailOut(target, bc, kind)
	g.stats.HoistedBoundChecks++
	g.log.Debug("hoisted bound check",
		zap.Bool("lower", lower),
		zap.Int("loop", int(target.loop.ID)),
		zap.Stringer("kind", kind))
	return true
}

// lengthAvailableIn 长度符号在 ls 的 landing pad 出口持有同一个值
func (g *GlobOpt) lengthAvailableIn(ls *loopState, acc *arrayAccess) bool {
	s := g.varSym(acc.lengthSym)
	v := ls.lpData.Value(s)
	return v != nil && v.Number == acc.length.Number && ls.lpData.IsLiveInt32(s)
}

// DetermineArrayBoundCheckHoistability 在 ls 的 landing pad 上能否检查下标的一侧边界
func (g *GlobOpt) DetermineArrayBoundCheckHoistability(acc *arrayAccess, ls *loopState, lower bool) (boundCandidate, bool) {
	if acc.idxOpnd != nil && !acc.idxOpnd.IsConst() && g.OptIsInvariant(acc.idxOpnd, ls) {
		return boundCandidate{opnd: acc.idxOpnd}, true
	}
	if c, ok := g.relativeBoundCandidate(acc, ls, lower); ok {
		return c, true
	}
	if !lower && acc.idxRange.Upper < maxArrayLength {
		if _, ok := acc.index.Info.IntRange(); ok {
			return boundCandidate{opnd: ir.IntConstOpnd(acc.idxRange.Upper, ir.TyInt32)}, true
		}
	}
	return boundCandidate{}, false
}

// relativeBoundCandidate 以下标相对边界中的某个基准值做检查，该值需在
// landing pad 上以 int32 形式可用
func (g *GlobOpt) relativeBoundCandidate(acc *arrayAccess, ls *loopState, lower bool) (boundCandidate, bool) {
	rel := acc.index.Info.Relative()
	if rel == nil {
		return boundCandidate{}, false
	}
	isIV := false
	if acc.idxOpnd != nil && acc.idxOpnd.IsReg() {
		_, isIV = ls.inductionVars[g.varSym(acc.idxOpnd.Sym)]
	}
	for _, b := range rel.Bases() {
		var off int32
		var ok bool
		if lower {
			off, ok = rel.Lower(b)
		} else {
			off, ok = rel.Upper(b)
		}
		if !ok {
			continue
		}
		if !lower && int64(-1)-int64(off) < math.MinInt32 {
			continue
		}
		o := g.lpOperandFor(ls, b)
		if o == nil {
			continue
		}
		loopCount := !lower && isIV
		if loopCount && !g.enabled(config.FeatureLoopCountBoundCheckHoist) {
			continue
		}
		return boundCandidate{opnd: o, off: off, loopCount: loopCount}, true
	}
	return boundCandidate{}, false
}

// lpOperandFor ls 的 landing pad 出口持有编号 vn 的 int32 操作数
func (g *GlobOpt) lpOperandFor(ls *loopState, vn ValueNumber) *ir.Opnd {
	for c, n := range g.intConstants {
		if n == vn {
			return ir.IntConstOpnd(c, ir.TyInt32)
		}
	}
	lp := ls.lpData
	for _, s := range lp.SymsWithNumber(vn) {
		if g.isProperty(s) {
			continue
		}
		if lp.IsLiveLosslessInt32(s) {
			return g.reg(g.shadow(s, ir.ReprInt32))
		}
		if lp.IsLiveVar(s) && lp.Value(s).Info.Type().IsInt() {
			g.hoistConversion(ls, s, ir.ReprInt32, false)
			return g.reg(g.shadow(s, ir.ReprInt32))
		}
	}
	return nil
}

// recordAccessFacts 访问之后下标确定在 [0, length) 内
func (g *GlobOpt) recordAccessFacts(acc *arrayAccess, guarded bool) {
	if acc.length == nil || !acc.intIndex || !(guarded || acc.inBounds()) {
		return
	}
	d := g.data
	d.availableIntBoundChecks.Add(IntBoundCheck{Left: acc.index.Number, Right: acc.length.Number, Offset: -1})
	if r, ok := acc.index.Info.IntRange(); ok && r.Lower < 0 && guarded {
		acc.index.Info = acc.index.Info.WithIntRange(IntConstantBounds{0, r.Upper})
	}
}

// ============================================================================
// 元素读写
// ============================================================================

// optLdElem 读元素：整数或浮点元素的数组结果直接以 int32/float64 形式给出
func (g *GlobOpt) optLdElem(instr *ir.Instr) bool {
	acc := g.OptArraySrc(instr, instr.Src1)
	if !acc.optimized {
		if g.mayCallUserCode(g.reg(acc.base)) {
			g.OptImplicitCalls(instr)
		}
		g.setDst(instr, g.NewValue(g.profileInfo(instr)), ir.ReprVar)
		return false
	}
	ot := acc.typ.ObjectType()
	ek := ot.ElementKind()
	if acc.negative {
		// 下标必然为负：结果总是 undefined
		if p := instr.Profile; p != nil && p.ValueType.IsLikelyNumber() && ek&ir.KindNumber != 0 && !g.IsPrepass() {
			g.truncateBlock(instr)
			return true
		}
		if !g.IsPrepass() {
			instr.Src1.Array = &ir.ArrayOpndInfo{HelperOnly: true}
		}
		g.setDst(instr, g.NewValue(typeInfo(ir.KindsOf(ir.KindUndefined))), ir.ReprVar)
		return false
	}

	r := ir.ReprVar
	var info *ValueInfo
	switch {
	case ek == ir.KindInt && g.enabled(config.FeatureTypeSpec):
		lo, hi, _ := ot.ElementRange()
		r, info = ir.ReprInt32, NewIntRangeInfo(IntConstantBounds{int32(lo), int32(hi)})
	case ek == ir.KindNumber && g.enabled(config.FeatureFloatTypeSpec):
		r, info = ir.ReprFloat64, NewGenericInfo(ir.Number)
	case ek != ir.KindAll && acc.inBounds() && (ot.IsTypedArray() || acc.typ.HasNoMissingValues()):
		info = NewGenericInfo(ir.KindsOf(ek))
	default:
		info = g.profileInfo(instr)
	}
	kind := ir.BailOutInvalid
	if r != ir.ReprVar {
		if !acc.inBounds() {
			kind |= conventionalKind(ot)
		}
		if ot.IsNativeArray() && !acc.typ.HasNoMissingValues() {
			kind |= ir.BailOutOnMissingValue
		}
	}
	if !g.IsPrepass() {
		g.addBailOut(instr, kind)
		if r != ir.ReprVar {
			g.stats.SpecializedInstrs++
		}
	}
	g.recordAccessFacts(acc, kind&ir.BailOutConventionalAccess != 0)
	g.setDst(instr, g.NewValue(info), r)
	g.CollectMemcopyLdElementI(instr, acc)
	return false
}

// storeSrc 写入值的形式：整数元素数组写 int32，浮点元素数组写 float64
func (g *GlobOpt) storeSrc(instr *ir.Instr, ot ir.ObjectType, v *Value) *ir.Opnd {
	vt := ir.Unknown
	if v != nil {
		vt = v.Info.Type()
	}
	intSpec := g.enabled(config.FeatureTypeSpec)
	floatSpec := g.enabled(config.FeatureFloatTypeSpec)
	var src *ir.Opnd
	switch {
	case ot.IsTypedArray() && ot.ElementKind() == ir.KindInt && ot != ir.ObjectUint8ClampedArray:
		// 写入时按位截断，有损转换结果相同
		if intSpec && vt.IsLikelyNumber() {
			src = g.ToInt32(instr, instr.Src1, true)
		}
	case ot == ir.ObjectFloat32Array || ot == ir.ObjectFloat64Array:
		if floatSpec && vt.IsLikelyNumber() {
			src = g.ToFloat64(instr, instr.Src1)
		}
	case ot == ir.ObjectNativeIntArray:
		if intSpec && vt.IsLikelyInt() {
			src = g.ToInt32(instr, instr.Src1, false)
		}
	case ot == ir.ObjectNativeFloatArray:
		if floatSpec && vt.IsLikelyNumber() {
			src = g.ToFloat64(instr, instr.Src1)
		}
	}
	if src == nil {
		src = g.ToVar(instr, instr.Src1)
	}
	return src
}

// maybeUndefined 值可能是 undefined（写入后数组出现空洞）
func maybeUndefined(v *Value) bool {
	if v == nil {
		return true
	}
	t := v.Info.Type()
	return t.IsLikely() || t.IsUninitialized() || t.Kinds()&ir.KindUndefined != 0
}

// optStElem 写元素
func (g *GlobOpt) optStElem(instr *ir.Instr) bool {
	acc := g.OptArraySrc(instr, instr.Dst)
	v := g.valueOf(instr.Src1)
	d := g.data
	if !acc.optimized || acc.negative {
		src := g.ToVar(instr, instr.Src1)
		if !g.IsPrepass() {
			instr.Src1 = src
			if acc.negative && acc.optimized {
				instr.Dst.Array = &ir.ArrayOpndInfo{HelperOnly: true}
			}
		}
		if acc.optimized {
			// 负下标写不影响元素
			return false
		}
		g.ProcessValueKills(KillsAllArrays &^ KillsTypedArrays)
		d.KillAllFields(g.fn.Syms, nil)
		g.recordKillAllFields()
		if g.mayCallUserCode(g.reg(acc.base)) {
			g.OptImplicitCalls(instr)
		}
		return false
	}

	ot := acc.typ.ObjectType()
	src := g.storeSrc(instr, ot, v)
	if !g.IsPrepass() {
		instr.Src1 = src
	}
	specialized := src.IsReg() && g.fn.Syms.Get(src.Sym).Repr != ir.ReprVar || src.IsConst() && src.Type != ir.TyVar
	kind := ir.BailOutInvalid
	var k JsArrayKills
	switch {
	case ot.IsTypedArray():
		// 越界写被忽略，值按元素类型截断
	case ot.IsNativeArray():
		if !acc.inBounds() {
			kind |= ir.BailOutConventionalNativeArrayAccessOnly
		}
		if ot == ir.ObjectNativeIntArray && !specialized {
			kind |= ir.BailOutOnArrayAccessHelperCall
		}
		if ot == ir.ObjectNativeFloatArray && !specialized && !(v != nil && v.Info.Type().IsNumber()) {
			k |= KillsNativeArrays
		}
		if !specialized && maybeUndefined(v) {
			k |= KillsArraysWithNoMissingValues
		}
	default:
		if !acc.inBounds() {
			kind |= ir.BailOutOnArrayAccessHelperCall
			k |= KillsArrayHeadSegmentLengths | KillsArrayLengths
		}
		if maybeUndefined(v) {
			k |= KillsArraysWithNoMissingValues
		}
	}
	if !g.IsPrepass() {
		g.addBailOut(instr, kind)
		if specialized {
			g.stats.SpecializedInstrs++
		}
	}
	g.ProcessValueKills(k)
	g.recordAccessFacts(acc, kind&ir.BailOutConventionalAccess != 0)
	g.CollectMemsetStElementI(instr, acc, src)
	return false
}

// optLdLen 读长度：确定的数组改为读长度符号
func (g *GlobOpt) optLdLen(instr *ir.Instr) {
	bv := g.valueOf(instr.Src1)
	base := g.varSym(instr.Src1.Sym)
	src := g.ToVar(instr, instr.Src1)
	if !g.IsPrepass() {
		instr.Src1 = src
	}
	t := bv.Info.Type()
	if t.IsOptimizedArray() && g.enabled(config.FeatureTypeSpec) && g.arrayTypeEnabled(t) {
		acc := &arrayAccess{base: base, value: bv, typ: t, optimized: true}
		if ls, lv := g.ensureArrayLength(instr, acc); lv != nil {
			if !g.IsPrepass() {
				instr.Op = ir.OpLdI4
				instr.Src1 = g.reg(ls)
			}
			g.setDst(instr, lv, ir.ReprInt32)
			return
		}
		g.setDst(instr, g.NewValue(NewIntRangeInfo(IntConstantBounds{0, maxArrayLength})), ir.ReprInt32)
		return
	}
	var info *ValueInfo
	switch {
	case t.IsString(), t.IsOptimizedArray():
		info = NewIntRangeInfo(IntConstantBounds{0, maxArrayLength})
	case t.IsLikelyOptimizedArray(), t.IsLikelyString():
		info = typeInfo(ir.Int.ToLikely())
	default:
		info = g.profileInfo(instr)
	}
	g.setDst(instr, g.NewValue(info), ir.ReprVar)
}

// CheckJsArrayKills 修改数组长度的指令使哪些数组事实失效
func (g *GlobOpt) CheckJsArrayKills(instr *ir.Instr) JsArrayKills {
	switch instr.Op {
	case ir.OpStLen:
		return KillsArrayHeadSegmentLengths | KillsArrayLengths | KillsArraysWithNoMissingValues
	case ir.OpArrayPush:
		k := KillsArrayHeadSegmentLengths | KillsArrayLengths
		v := g.valueOf(instr.Src2)
		if v == nil || !v.Info.Type().IsInt() {
			k |= KillsNativeArrays
		}
		if maybeUndefined(v) {
			k |= KillsArraysWithNoMissingValues
		}
		return k
	case ir.OpStElem:
		return KillsAllArrays &^ KillsTypedArrays
	}
	return 0
}

// ProcessValueKills 当前块数据中的数组事实按 k 失效，并记入所在循环
func (g *GlobOpt) ProcessValueKills(k JsArrayKills) {
	if k == 0 {
		return
	}
	g.recordArrayKills(k)
	g.killArraysIn(g.data, k)
}

// optArrayMutation StLen 与 Array.push
func (g *GlobOpt) optArrayMutation(instr *ir.Instr) {
	var base *ir.Opnd
	if instr.Op == ir.OpStLen {
		base = instr.Dst
		nb := g.ToVar(instr, instr.Dst)
		s1 := g.ToVar(instr, instr.Src1)
		if !g.IsPrepass() {
			instr.Dst, instr.Src1 = nb, s1
		}
	} else {
		base = instr.Src1
		s1 := g.ToVar(instr, instr.Src1)
		s2 := g.ToVar(instr, instr.Src2)
		if !g.IsPrepass() {
			instr.Src1, instr.Src2 = s1, s2
		}
	}
	t := g.typeOf(base)
	g.ProcessValueKills(g.CheckJsArrayKills(instr))
	if !t.IsLikelyOptimizedArray() && g.mayCallUserCode(base) {
		g.OptImplicitCalls(instr)
	}
}
