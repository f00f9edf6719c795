// walker.go - 前向遍历
//
// 按逆后序处理基本块。普通块汇合前驱数据；循环头先预扫描循环体，再由
// landing pad 数据构造正式的循环头数据。每条指令按操作码分派到对应的
// 优化，目标操作数统一经 setDst 更新块数据。

package globopt

import (
	"context"

	"github.com/bits-and-blooms/bitset"
	"go.uber.org/zap"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// Optimize 对函数执行一次前向全局优化。函数需已识别循环
func (g *GlobOpt) Optimize(ctx context.Context) error {
	f := g.fn
	if f.Entry == ir.NoBlock || len(f.Blocks) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, b := range f.Blocks {
		if !b.Deleted && b.Live == nil {
			ir.ComputeLiveness(f)
			break
		}
	}
	g.origSyms = f.Syms.Len()
	g.processed = bitset.New(uint(len(f.Blocks)))
	g.countDefs()
	g.initLoops()
	g.log.Debug("optimize",
		zap.Int("blocks", len(f.Blocks)),
		zap.Int("loops", len(f.Loops)),
		zap.Int("syms", g.origSyms))

	if err := g.forwardPass(ctx); err != nil {
		return err
	}
	if g.enabled(config.FeatureTailDup) {
		g.TailDupPass()
	}
	if g.verify {
		if err := g.Verify(); err != nil {
			return err
		}
	}
	g.log.Debug("optimized", zap.Stringer("stats", g.stats))
	return nil
}

func (g *GlobOpt) forwardPass(ctx context.Context) error {
	for _, id := range g.fn.RPO() {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := g.fn.Blocks[id]
		if b.Deleted {
			continue
		}
		g.optBlock(b)
		if g.err != nil {
			return g.err
		}
	}
	return g.err
}

// optBlock 正式遍历处理一个块
func (g *GlobOpt) optBlock(b *ir.Block) {
	var d *BlockData
	switch {
	case b.ID == g.fn.Entry:
		d = newBlockData(b.ID, uint(g.fn.Syms.Len()))
		g.maskLiveIn(b, d)
	case b.IsLoopHeader && g.loopHeaderOf(b) != nil:
		ls := g.loopHeaderOf(b)
		lp := g.fn.Blocks[ls.loop.LandingPad]
		lpData := g.blockData[lp.ID]
		if lpData == nil {
			break
		}
		lpData = g.edgeData(lp, b, lpData)
		g.prepass(ls, lpData)
		ls.state = loopRealPass
		d = g.realHeaderData(ls, lpData)
	default:
		d = g.entryData(b)
	}
	if d == nil {
		g.deleteBlock(b)
		return
	}
	g.optBlockBody(b, d)
	g.finishBlock(b)
}

// loopHeaderOf b 为循环头时返回该循环的状态
func (g *GlobOpt) loopHeaderOf(b *ir.Block) *loopState {
	ls := g.loopOf(b)
	if ls == nil || ls.loop.Header != b.ID {
		return nil
	}
	return ls
}

// deleteBlock 删除不可达块
func (g *GlobOpt) deleteBlock(b *ir.Block) {
	for _, s := range append([]ir.BlockID(nil), b.Succs...) {
		g.fn.RemoveEdge(b.ID, s)
	}
	for _, p := range append([]ir.BlockID(nil), b.Preds...) {
		g.fn.RemoveEdge(p, b.ID)
	}
	b.Deleted = true
	g.processed.Set(uint(b.ID))
	g.log.Debug("unreachable block", zap.Int("block", int(b.ID)))
	g.blockDone(b)
}

// optBlockBody 依次优化块内指令。预扫描与正式遍历共用
func (g *GlobOpt) optBlockBody(b *ir.Block, d *BlockData) {
	g.currentBlock = b
	g.data = d
	for instr := b.First(); instr != nil; {
		next := instr.Next()
		if g.OptInstr(instr) {
			break
		}
		if g.err != nil && !g.IsPrepass() {
			return
		}
		instr = next
	}
	g.currentInstr = nil
}

// finishBlock 块处理完：回边补偿、保存出口数据
func (g *GlobOpt) finishBlock(b *ir.Block) {
	remaining := 0
	seen := make(map[ir.BlockID]bool, len(b.Succs))
	for _, s := range append([]ir.BlockID(nil), b.Succs...) {
		if seen[s] {
			continue
		}
		seen[s] = true
		sb := g.fn.Blocks[s]
		if ls := g.loopHeaderOf(sb); ls != nil && ls.loop.IsBackEdge(b.ID) {
			if ls.state == loopRealPass {
				g.compensateBackEdge(ls, b)
			}
			continue
		}
		remaining++
	}
	if g.verify {
		g.verifyBlock(b, g.data)
	}
	if remaining > 0 {
		g.blockData[b.ID] = g.data
		g.succsRemaining[b.ID] = remaining
	}
	g.processed.Set(uint(b.ID))
	g.blockDone(b)
	g.data = nil
	g.currentBlock = nil
}

// truncateBlock 指令必然失败：把它改为无条件退出并删除其后的指令与出边
func (g *GlobOpt) truncateBlock(instr *ir.Instr) {
	b := g.currentBlock
	// 恢复点按删除之前的活跃信息计算
	rp := g.restorePoint(instr)
	for n := instr.Next(); n != nil; {
		next := n.Next()
		b.Remove(n)
		n = next
	}
	for _, s := range append([]ir.BlockID(nil), b.Succs...) {
		g.fn.RemoveEdge(b.ID, s)
	}
	instr.Op = ir.OpBailOut
	instr.Dst, instr.Src1, instr.Src2, instr.Args = nil, nil, nil, nil
	instr.BailOut = &ir.BailOutInfo{Kind: ir.BailOutUnconditional, Restore: rp}
	g.stats.BailOuts++
	g.log.Debug("unconditional bailout", zap.Int("block", int(b.ID)), zap.Int("instr", int(instr.ID)))
}

// ============================================================================
// 指令分派
// ============================================================================

// OptInstr 优化一条指令。返回 true 表示块在此结束
func (g *GlobOpt) OptInstr(instr *ir.Instr) bool {
	g.currentInstr = instr
	op := instr.Op
	if op == ir.OpNop || op == ir.OpByteCodeUses {
		return false
	}
	g.noteEscapes(instr)
	g.byteCodeUses, g.byteCodeUsesAt = g.byteCodeUses[:0], instr.ByteCodeOffset
	for _, s := range instr.UsedSyms(g.fn.Syms) {
		g.byteCodeUses = append(g.byteCodeUses, g.fn.Syms.VarSym(s))
	}
	if !g.IsPrepass() {
		g.CopyProp(instr)
	}
	switch {
	case op == ir.OpArgIn:
		g.setDst(instr, g.NewValue(g.profileInfo(instr)), ir.ReprVar)
	case op == ir.OpLd || op == ir.OpLdI4 || op == ir.OpLdF8:
		g.optLd(instr)
	case op == ir.OpRet:
		if src := g.ToVar(instr, instr.Src1); src != nil && !g.IsPrepass() {
			instr.Src1 = src
		}
	case op == ir.OpBailOut:
		return true
	case op.IsBranch():
		return g.optBranch(instr)
	case op == ir.OpCall:
		g.optCall(instr)
	case op == ir.OpLdFld:
		g.optLdFld(instr)
	case op == ir.OpStFld:
		g.optStFld(instr)
	case op == ir.OpDeleteFld:
		g.optDeleteFld(instr)
	case op == ir.OpCheckObjType:
		g.optCheckObjType(instr)
	case op == ir.OpNewObject || op == ir.OpNewArray:
		g.optNewObject(instr)
	case op == ir.OpLdElem:
		return g.optLdElem(instr)
	case op == ir.OpStElem:
		return g.optStElem(instr)
	case op == ir.OpLdLen:
		g.optLdLen(instr)
	case op == ir.OpStLen || op == ir.OpArrayPush:
		g.optArrayMutation(instr)
	case op.Has(ir.FlagSimd):
		g.optSimd(instr)
	case op.Has(ir.FlagCompare):
		g.optCompare(instr)
	case isMathOp(op):
		g.optMath(instr)
	case op.Has(ir.FlagArith), op.Has(ir.FlagBitwise), op == ir.OpLogicalNot, op == ir.OpConvNum:
		g.optArith(instr)
	default:
		g.optGeneric(instr)
	}
	if instr.Block == g.currentBlock.ID && (instr.Prev() != nil || g.currentBlock.First() == instr) {
		g.TryHoistInvariant(instr)
	}
	return false
}

// noteEscapes 新建对象作为普通操作数使用时视为逃逸
func (g *GlobOpt) noteEscapes(instr *ir.Instr) {
	d := g.data
	if d.freshObjects.Cardinality() == 0 {
		return
	}
	switch instr.Op {
	case ir.OpLd, ir.OpLdLen, ir.OpCheckArray, ir.OpLdHeadSegment, ir.OpLdHeadSegmentLength, ir.OpLdArrayLength:
		return
	}
	escape := func(o *ir.Opnd) {
		if !o.IsReg() {
			return
		}
		if v := d.Value(g.varSym(o.Sym)); v != nil {
			d.freshObjects.Remove(v.Number)
		}
	}
	escape(instr.Src1)
	escape(instr.Src2)
	for _, a := range instr.Args {
		escape(a)
	}
}

// ============================================================================
// 值与目标
// ============================================================================

// typeInfo 只有类型的值信息；数组类型得到数组信息
func typeInfo(t ir.ValueType) *ValueInfo {
	return NewGenericInfo(ir.Uninitialized).WithType(t)
}

// profileInfo 由 profile 得到结果的 likely 类型
func (g *GlobOpt) profileInfo(instr *ir.Instr) *ValueInfo {
	if p := instr.Profile; p != nil && !p.ValueType.IsUninitialized() {
		return typeInfo(p.ValueType.ToLikely())
	}
	return typeInfo(ir.Unknown)
}

// valueOf 操作数在当前块中的值。变量第一次出现时分配新编号
func (g *GlobOpt) valueOf(o *ir.Opnd) *Value {
	if o == nil {
		return nil
	}
	switch o.Kind {
	case ir.OpndIntConst, ir.OpndFloatConst, ir.OpndAddr:
		return g.constOpndValue(o)
	case ir.OpndProperty:
		return g.fieldValue(o.Sym)
	case ir.OpndReg:
	default:
		return nil
	}
	s := g.varSym(o.Sym)
	d := g.data
	if v := d.Value(s); v != nil {
		return v
	}
	var info *ValueInfo
	switch {
	case d.IsLiveLosslessInt32(s):
		info = NewIntRangeInfo(FullIntRange)
	case d.IsLiveFloat64(s) && !d.IsLiveVar(s):
		info = NewGenericInfo(ir.Number)
	case !o.ValueType.IsUninitialized():
		info = typeInfo(o.ValueType.ToLikely())
	default:
		info = typeInfo(ir.Unknown)
	}
	v := g.NewValue(info.WithSymStore(s))
	d.SetValue(s, v)
	if !d.IsLiveAny(s) {
		d.MakeLive(s, ir.ReprVar, false)
	}
	return v
}

// operandValueIn 操作数在 d 中的值；没有记录时返回 nil
func (g *GlobOpt) operandValueIn(d *BlockData, o *ir.Opnd) *Value {
	switch {
	case o == nil:
		return nil
	case o.IsReg():
		return d.Value(g.varSym(o.Sym))
	case o.IsConst():
		return g.constOpndValue(o)
	}
	return nil
}

// typeOf 操作数当前的值类型
func (g *GlobOpt) typeOf(o *ir.Opnd) ir.ValueType {
	if v := g.valueOf(o); v != nil {
		return v.Info.Type()
	}
	return ir.Unknown
}

// holds 符号 s 当前是否持有编号 vn
func (g *GlobOpt) holds(d *BlockData, s ir.SymID, vn ValueNumber) bool {
	v := d.Value(s)
	return v != nil && v.Number == vn
}

// defineSym 变量 s 被重新定义为 v，r 为定义所用的表示
func (g *GlobOpt) defineSym(s ir.SymID, v *Value, r ir.Repr) {
	d := g.data
	d.SetValue(s, v)
	d.SetDefRepr(s, r)
	if v.Info.Type().IsLikelyOptimizedArray() {
		d.valuesToKillOnCalls.Add(v.Number)
	}
	for _, p := range g.fn.Syms.PropertySymsByBase(s) {
		d.KillField(p)
	}
}

// setDst 指令的目标得到值 v，表示为 r。正式遍历中目标操作数改为对应的影子符号
func (g *GlobOpt) setDst(instr *ir.Instr, v *Value, r ir.Repr) {
	if instr.Dst == nil || !instr.Dst.IsReg() {
		return
	}
	s := g.varSym(instr.Dst.Sym)
	if !g.IsPrepass() && instr.Dst.Sym != g.shadow(s, r) {
		instr.Dst = g.reg(g.shadow(s, r))
	}
	if st := v.Info.SymStore(); st == ir.NoSym || st == s || !g.holds(g.data, st, v.Number) {
		v.Info = v.Info.WithSymStore(s)
	}
	g.defineSym(s, v, r)
	if g.IsPrepass() {
		g.DetectInductionVariables(instr)
	}
}

// ============================================================================
// 各类指令
// ============================================================================

// optLd 赋值：目标与源共享同一个值
func (g *GlobOpt) optLd(instr *ir.Instr) {
	src := instr.Src1
	dst := g.varSym(instr.Dst.Sym)
	if src.IsReg() && g.varSym(src.Sym) == dst {
		// x = x
		if !g.IsPrepass() {
			g.currentBlock.Remove(instr)
			g.stats.Peepholes++
		}
		g.valueOf(src)
		return
	}
	v := g.valueOf(src)
	r := ir.ReprVar
	switch instr.Op {
	case ir.OpLdI4:
		r = ir.ReprInt32
	case ir.OpLdF8:
		r = ir.ReprFloat64
	}
	if src.IsReg() && instr.Op == ir.OpLd {
		s := g.varSym(src.Sym)
		d := g.data
		if !d.IsLiveVar(s) && d.IsSpecialized(s) {
			op, nsrc := instr.Op, src
			switch {
			case d.IsLiveLosslessInt32(s):
				op, r = ir.OpLdI4, ir.ReprInt32
				nsrc = g.reg(g.shadow(s, ir.ReprInt32))
			case d.IsLiveFloat64(s):
				op, r = ir.OpLdF8, ir.ReprFloat64
				nsrc = g.reg(g.shadow(s, ir.ReprFloat64))
			default:
				nsrc = g.ToVar(instr, src)
			}
			if !g.IsPrepass() {
				instr.Op, instr.Src1 = op, nsrc
			}
		}
	}
	if src.IsReg() {
		if st := v.Info.SymStore(); st == ir.NoSym || !g.holds(g.data, st, v.Number) {
			v.Info = v.Info.WithSymStore(g.varSym(src.Sym))
		}
	}
	g.setDst(instr, v, r)
	if src.IsReg() && r == ir.ReprVar {
		g.ValueNumberObjectType(dst, g.varSym(src.Sym))
	}
}

// optCall 调用：参数装箱，可能修改任意对象
func (g *GlobOpt) optCall(instr *ir.Instr) {
	for n, a := range instr.Args {
		if src := g.ToVar(instr, a); !g.IsPrepass() {
			instr.Args[n] = src
		}
	}
	g.killForCall()
	if instr.Dst != nil {
		g.setDst(instr, g.NewValue(g.profileInfo(instr)), ir.ReprVar)
	}
}

// killForCall 调用或隐式调用之后：数组与字段事实失效。未逃逸对象的字段保留
func (g *GlobOpt) killForCall() {
	d := g.data
	g.killArraysIn(d, KillsAllArrays)
	d.KillAllFields(g.fn.Syms, g.isFreshField)
	g.recordCall()
}

// isFreshField 属性符号的对象是否为未逃逸的新建对象
func (g *GlobOpt) isFreshField(s ir.SymID) bool {
	d := g.data
	sym := g.fn.Syms.Get(s)
	if sym == nil {
		return false
	}
	v := d.Value(sym.Base)
	return v != nil && d.freshObjects.Contains(v.Number)
}

// OptImplicitCalls 指令可能在转换时回调用户代码。循环内附加保护，
// 循环外使事实失效
func (g *GlobOpt) OptImplicitCalls(instr *ir.Instr) {
	if g.loopOf(g.currentBlock) != nil {
		if !g.IsPrepass() {
			g.addBailOut(instr, ir.BailOutOnImplicitCalls)
		}
		return
	}
	g.killForCall()
}

// mayCallUserCode 操作数是否可能在转换时回调用户代码
func (g *GlobOpt) mayCallUserCode(srcs ...*ir.Opnd) bool {
	for _, o := range srcs {
		if o == nil {
			continue
		}
		if g.typeOf(o).CanCallUserCodeOnConversion() {
			return true
		}
	}
	return false
}

// optNewObject 新建对象与数组：结果确定为对象，尚未逃逸
func (g *GlobOpt) optNewObject(instr *ir.Instr) {
	info := NewGenericInfo(ir.Object)
	if instr.Op == ir.OpNewArray {
		if src := g.ToVar(instr, instr.Src1); src != nil && !g.IsPrepass() {
			instr.Src1 = src
		}
		ot := ir.ObjectArray
		if p := instr.Profile; p != nil && p.ValueType.IsLikelyOptimizedArray() {
			ot = p.ValueType.ObjectType()
		}
		info = typeInfo(ir.ArrayOf(ot).WithNoMissingValues(true))
	}
	v := g.NewValue(info)
	g.setDst(instr, v, ir.ReprVar)
	g.data.freshObjects.Add(v.Number)
	if instr.Op == ir.OpNewObject && g.enabled(config.FeatureObjTypeSpec) {
		g.setObjType(g.data, g.varSym(instr.Dst.Sym), ir.NewShape())
	}
}

// optGeneric 没有专门处理的指令：源装箱，结果类型取 profile
func (g *GlobOpt) optGeneric(instr *ir.Instr) {
	if instr.Op.Has(ir.FlagConversion) {
		g.optConversion(instr)
		return
	}
	s1 := g.ToVar(instr, instr.Src1)
	s2 := g.ToVar(instr, instr.Src2)
	if !g.IsPrepass() {
		instr.Src1, instr.Src2 = s1, s2
	}
	if instr.Op.HasSideEffects() {
		g.killForCall()
	}
	if instr.DstSym() != ir.NoSym && instr.Dst.IsReg() {
		g.setDst(instr, g.NewValue(g.profileInfo(instr)), ir.ReprVar)
	}
}

// optConversion 输入中已有的表示转换
func (g *GlobOpt) optConversion(instr *ir.Instr) {
	v := g.valueOf(instr.Src1)
	if instr.Dst == nil || !instr.Dst.IsReg() {
		return
	}
	dsym := g.fn.Syms.Get(instr.Dst.Sym)
	r := dsym.Repr
	s := g.varSym(instr.Dst.Sym)
	if instr.Src1.IsReg() && g.varSym(instr.Src1.Sym) == s && v != nil {
		// 同一变量换表示：值不变
		switch instr.Op {
		case ir.OpToInt32:
			v.Info = narrowTo(v.Info, ir.KindInt)
		case ir.OpToFloat64:
			v.Info = narrowTo(v.Info, ir.KindNumber)
		}
		g.data.MakeLive(s, r, instr.Op == ir.OpToInt32Lossy)
		return
	}
	var info *ValueInfo
	switch instr.Op {
	case ir.OpToInt32, ir.OpToInt32Lossy:
		info = NewIntRangeInfo(FullIntRange)
	case ir.OpToFloat64:
		info = NewGenericInfo(ir.Number)
	default:
		info = g.profileInfo(instr)
	}
	g.setDst(instr, g.NewValue(info), r)
}

// narrowTo 保护通过后值只可能是 k 中的种类
func narrowTo(info *ValueInfo, k ir.Kind) *ValueInfo {
	t := info.Type()
	kinds := t.Kinds() & k
	if kinds == 0 {
		kinds = k
	}
	nt := ir.KindsOf(kinds)
	if t == nt {
		return info
	}
	if _, ok := info.IntRange(); ok && nt.IsInt() {
		return info.WithType(ir.Int)
	}
	return info.WithType(nt)
}
