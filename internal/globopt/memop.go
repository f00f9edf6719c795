// memop.go - memset / memcopy 识别
//
// 最内层循环里以归纳变量为下标、每次迭代执行一次的元素写，若写入不变
// 值则改为 landing pad 上的一次 Memset，若写入的是另一个数组同一下标
// 读出的值则改为 Memcopy。循环结束时统一校验与生成。

package globopt

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

type memOpKind uint8

const (
	memOpLoad memOpKind = iota
	memOpSet
	memOpCopy
)

// memOpCandidate 候选的元素访问
type memOpCandidate struct {
	kind  memOpKind
	instr *ir.Instr
	block ir.BlockID
	base  ir.SymID
	iv    ir.SymID
	idxVN ValueNumber
	// valueVN 读出（或写入）的值的编号
	valueVN ValueNumber
	// value memset 写入的操作数
	value *ir.Opnd
	// load memcopy 对应的读
	load *memOpCandidate
	typ  ir.ObjectType
}

// loopCount 循环次数的计算方式：归纳变量 iv 与不变的 bound 比较，
// 条件成立时继续
type loopCount struct {
	iv    ir.SymID
	bound *ir.Opnd
	cmp   ir.Opcode
	dir   int
}

// memOpLoop 元素访问所在的最内层循环，下标是从循环头取值的单位步长归纳变量
func (g *GlobOpt) memOpLoop(acc *arrayAccess) (*loopState, ir.SymID) {
	if g.IsPrepass() || !acc.optimized || !acc.intIndex || acc.negative || acc.opnd.Index == ir.NoSym {
		return nil, ir.NoSym
	}
	ls := g.loopOf(g.currentBlock)
	if ls == nil || ls.state != loopRealPass || len(ls.loop.Children) > 0 || ls.lpData == nil {
		return nil, ir.NoSym
	}
	iv := g.varSym(acc.opnd.Index)
	ind := ls.inductionVars[iv]
	if ind == nil || !ind.IsChangeDeterminate() || ind.Unroll != 1 {
		return nil, ir.NoSym
	}
	if c := ind.ChangeBounds.Lower; c != 1 && c != -1 {
		return nil, ir.NoSym
	}
	if hv, ok := ls.headerValues[iv]; !ok || hv != acc.index.Number {
		return nil, ir.NoSym
	}
	if !g.OptIsInvariant(g.reg(acc.base), ls) {
		return nil, ir.NoSym
	}
	return ls, iv
}

// CollectMemcopyLdElementI 记录可能作为 memcopy 源的元素读
func (g *GlobOpt) CollectMemcopyLdElementI(instr *ir.Instr, acc *arrayAccess) {
	if !g.enabled(config.FeatureMemcopy) {
		return
	}
	ls, iv := g.memOpLoop(acc)
	if ls == nil || instr.Dst == nil {
		return
	}
	// 可能有空洞的原生数组：读带 OnMissingValue 保护时，批量复制原样搬运空洞
	if acc.typ.IsNativeArray() && !acc.typ.HasNoMissingValues() &&
		!(instr.HasBailOut() && instr.BailOut.Kind.Has(ir.BailOutOnMissingValue)) {
		return
	}
	v := g.data.Value(g.varSym(instr.Dst.Sym))
	if v == nil {
		return
	}
	ls.memops = append(ls.memops, &memOpCandidate{
		kind:    memOpLoad,
		instr:   instr,
		block:   g.currentBlock.ID,
		base:    acc.base,
		iv:      iv,
		idxVN:   acc.index.Number,
		valueVN: v.Number,
		typ:     acc.typ.ObjectType(),
	})
}

// CollectMemsetStElementI 记录候选的元素写：写入不变值为 memset，
// 否则尝试作为 memcopy
func (g *GlobOpt) CollectMemsetStElementI(instr *ir.Instr, acc *arrayAccess, src *ir.Opnd) {
	ls, iv := g.memOpLoop(acc)
	if ls == nil {
		return
	}
	if !g.enabled(config.FeatureMemset) || !g.OptIsInvariant(src, ls) {
		g.CollectMemcopyStElementI(instr, acc, src, ls, iv)
		return
	}
	ls.memops = append(ls.memops, &memOpCandidate{
		kind:  memOpSet,
		instr: instr,
		block: g.currentBlock.ID,
		base:  acc.base,
		iv:    iv,
		idxVN: acc.index.Number,
		value: src,
		typ:   acc.typ.ObjectType(),
	})
}

// CollectMemcopyStElementI 写入的值是同一下标从同种数组读出的值
func (g *GlobOpt) CollectMemcopyStElementI(instr *ir.Instr, acc *arrayAccess, src *ir.Opnd, ls *loopState, iv ir.SymID) {
	if !g.enabled(config.FeatureMemcopy) || !src.IsReg() {
		return
	}
	v := g.valueOf(src)
	if v == nil {
		return
	}
	for _, ld := range ls.memops {
		if ld.kind != memOpLoad || ld.valueVN != v.Number || ld.idxVN != acc.index.Number || ld.typ != acc.typ.ObjectType() {
			continue
		}
		ls.memops = append(ls.memops, &memOpCandidate{
			kind:    memOpCopy,
			instr:   instr,
			block:   g.currentBlock.ID,
			base:    acc.base,
			iv:      iv,
			idxVN:   acc.index.Number,
			valueVN: v.Number,
			load:    ld,
			typ:     acc.typ.ObjectType(),
		})
		return
	}
}

// ============================================================================
// 校验
// ============================================================================

// DetermineLoopCount 循环头以归纳变量与不变界比较决定是否继续时，
// 给出计数方式
func (g *GlobOpt) DetermineLoopCount(ls *loopState) *loopCount {
	if ls.countDone {
		return ls.count
	}
	ls.countDone = true
	header := g.fn.Blocks[ls.loop.Header]
	term := header.Terminator()
	if term == nil || !term.Op.IsCompareBranch() || term.Src1 == nil || term.Src2 == nil {
		return nil
	}
	cmp := term.Op
	if !ls.loop.Contains(term.Target) {
		inv, ok := cmp.InvertBranch(true)
		if !ok {
			return nil
		}
		cmp = inv
	}
	var ivOpnd, bound *ir.Opnd
	switch {
	case term.Src1.IsReg() && ls.inductionVars[g.varSym(term.Src1.Sym)] != nil:
		ivOpnd, bound = term.Src1, term.Src2
	case term.Src2.IsReg() && ls.inductionVars[g.varSym(term.Src2.Sym)] != nil:
		ivOpnd, bound = term.Src2, term.Src1
		cmp = cmp.SwapBranch()
	default:
		return nil
	}
	iv := g.varSym(ivOpnd.Sym)
	ind := ls.inductionVars[iv]
	if !ind.IsChangeDeterminate() || ind.Unroll != 1 {
		return nil
	}
	dir := int(ind.ChangeBounds.Lower)
	switch {
	case dir == 1 && (cmp == ir.OpBrLt || cmp == ir.OpBrLe):
	case dir == -1 && (cmp == ir.OpBrGt || cmp == ir.OpBrGe):
	default:
		return nil
	}
	switch {
	case bound.IsIntConst():
	case bound.IsReg():
		b := g.varSym(bound.Sym)
		if ls.defs.Test(uint(b)) || ls.lpData.Value(b) == nil {
			return nil
		}
		bound = g.reg(b)
	default:
		return nil
	}
	for i := header.First(); i != nil; i = i.Next() {
		if d := i.DstSym(); d != ir.NoSym && g.varSym(d) == iv {
			return nil
		}
	}
	ls.count = &loopCount{iv: iv, bound: bound, cmp: cmp, dir: dir}
	return ls.count
}

// straightLoop 只有循环头有出口，循环体是一条直链
func (g *GlobOpt) straightLoop(ls *loopState) bool {
	l := ls.loop
	if len(l.BackEdges) != 1 {
		return false
	}
	for _, id := range l.BlockList {
		b := g.fn.Blocks[id]
		if id == l.Header {
			in := 0
			for _, s := range b.Succs {
				if l.Contains(s) {
					in++
				}
			}
			if in != 1 {
				return false
			}
			continue
		}
		if len(b.Succs) != 1 || len(b.Preds) != 1 || !l.Contains(b.Succs[0]) {
			return false
		}
	}
	return true
}

// ValidateMemOpCandidates 循环中除候选外没有其他可能读写数组的指令。
// 返回保留的候选
func (g *GlobOpt) ValidateMemOpCandidates(ls *loopState, lc *loopCount) []*memOpCandidate {
	keep := make(map[*ir.Instr]*memOpCandidate)
	used := make(map[*memOpCandidate]bool)
	for _, c := range ls.memops {
		if c.kind == memOpLoad || c.iv != lc.iv {
			continue
		}
		keep[c.instr] = c
		if c.load != nil {
			used[c.load] = true
		}
	}
	for _, c := range ls.memops {
		if c.kind == memOpLoad && used[c] {
			keep[c.instr] = c
		}
	}
	if len(keep) == 0 {
		return nil
	}
	header := g.fn.Blocks[ls.loop.Header]
	for _, id := range ls.loop.BlockList {
		b := g.fn.Blocks[id]
		for i := b.First(); i != nil; i = i.Next() {
			if _, ok := keep[i]; ok {
				continue
			}
			switch {
			case i.Op == ir.OpLdElem, i.Op == ir.OpStElem, i.Op == ir.OpStLen, i.Op == ir.OpArrayPush,
				i.Op == ir.OpCall, i.Op == ir.OpMemset, i.Op == ir.OpMemcopy:
				return nil
			case i.BailOut != nil && i.BailOut.Kind.Has(ir.BailOutOnImplicitCalls):
				return nil
			case i.Op.Has(ir.FlagImplicitCalls) && !(b == header && i == header.Terminator()):
				return nil
			}
		}
	}
	var out []*memOpCandidate
	for _, c := range ls.memops {
		if c.kind == memOpLoad || keep[c.instr] != c {
			continue
		}
		if c.kind == memOpCopy && !g.loadOnlyFeedsStore(ls, c) {
			// 留在循环里的写与批量操作的顺序无法保持
			return nil
		}
		out = append(out, c)
	}
	return out
}

// loadOnlyFeedsStore memcopy 的读结果只被对应的写使用
func (g *GlobOpt) loadOnlyFeedsStore(ls *loopState, c *memOpCandidate) bool {
	dst := g.varSym(c.load.instr.Dst.Sym)
	if g.isLiveIn(g.fn.Blocks[ls.loop.Header], dst) {
		return false
	}
	for _, e := range g.loopExits(ls.loop) {
		if g.isLiveIn(g.fn.Blocks[e], dst) {
			return false
		}
	}
	for _, id := range ls.loop.BlockList {
		for i := g.fn.Blocks[id].First(); i != nil; i = i.Next() {
			if i == c.instr {
				continue
			}
			for _, s := range i.UsedSyms(g.fn.Syms) {
				if g.varSym(s) == dst {
					return false
				}
			}
		}
	}
	return true
}

// ============================================================================
// 生成
// ============================================================================

// ProcessMemOp 循环结束时把通过校验的候选改为 landing pad 上的批量操作
func (g *GlobOpt) ProcessMemOp(ls *loopState) {
	if len(ls.memops) == 0 || ls.lpData == nil || !g.straightLoop(ls) {
		return
	}
	lc := g.DetermineLoopCount(ls)
	if lc == nil {
		return
	}
	cands := g.ValidateMemOpCandidates(ls, lc)
	if len(cands) == 0 {
		return
	}
	start, count := g.GenerateLoopCount(ls, lc)
	if count == nil {
		return
	}
	for _, c := range cands {
		g.EmitMemop(ls, c, start, count)
	}
}

// lpInt32 操作数在 landing pad 上的 int32 形式，必要时在那里转换
func (g *GlobOpt) lpInt32(ls *loopState, o *ir.Opnd) *ir.Opnd {
	if o.IsIntConst() {
		return ir.IntConstOpnd(o.Int, ir.TyInt32)
	}
	s := g.varSym(o.Sym)
	lp := ls.lpData
	if lp.Value(s) == nil {
		return nil
	}
	if !lp.IsLiveLosslessInt32(s) {
		if !lp.IsLiveVar(s) {
			return nil
		}
		g.hoistConversion(ls, s, ir.ReprInt32, false)
	}
	return g.reg(g.shadow(s, ir.ReprInt32))
}

// lpArith 在 landing pad 上计算 a op b，结果是 int32 操作数
func (g *GlobOpt) lpArith(ls *loopState, op ir.Opcode, a, b *ir.Opnd) *ir.Opnd {
	orig := intSpecializedOrigin[op]
	if a.IsIntConst() && b.IsIntConst() {
		r, _, ok := intResult(orig, IntConstantBounds{a.Int, a.Int}, IntConstantBounds{b.Int, b.Int}, false, false)
		if !ok || !r.IsConstant() {
			return nil
		}
		return ir.IntConstOpnd(r.Lower, ir.TyInt32)
	}
	lp := ls.lpData
	r, kind, ok := intResult(orig, g.lpIntRange(lp, a), g.lpIntRange(lp, b), false, false)
	if !ok {
		return nil
	}
	pad := g.fn.Blocks[ls.loop.LandingPad]
	t := g.newTemp()
	dst := g.reg(g.shadow(t, ir.ReprInt32))
	i := g.newInstr(op, dst, a, b, padLike(pad))
	pad.InsertBeforeTerminator(i)
	g.addSharedBailOut(ls, i, kind)
	lp.SetValue(t, g.NewValue(NewIntRangeInfo(r).WithSymStore(t)))
	lp.MakeLive(t, ir.ReprInt32, false)
	return dst
}

// GenerateLoopCount 在 landing pad 上计算起始下标与迭代次数
func (g *GlobOpt) GenerateLoopCount(ls *loopState, lc *loopCount) (start, count *ir.Opnd) {
	i0 := g.lpInt32(ls, g.reg(lc.iv))
	n := g.lpInt32(ls, lc.bound)
	if i0 == nil || n == nil {
		return nil, nil
	}
	one := ir.IntConstOpnd(1, ir.TyInt32)
	switch lc.cmp {
	case ir.OpBrLt:
		start, count = i0, g.lpArith(ls, ir.OpSubI4, n, i0)
	case ir.OpBrLe:
		start = i0
		if d := g.lpArith(ls, ir.OpSubI4, n, i0); d != nil {
			count = g.lpArith(ls, ir.OpAddI4, d, one)
		}
	case ir.OpBrGt:
		start, count = g.lpArith(ls, ir.OpAddI4, n, one), g.lpArith(ls, ir.OpSubI4, i0, n)
	case ir.OpBrGe:
		start = n
		if d := g.lpArith(ls, ir.OpSubI4, i0, n); d != nil {
			count = g.lpArith(ls, ir.OpAddI4, d, one)
		}
	}
	if start == nil || count == nil {
		return nil, nil
	}
	return start, count
}

// indirAt 基址 base 从 start 开始的元素
func indirAt(base ir.SymID, start *ir.Opnd) *ir.Opnd {
	if start.IsIntConst() {
		return ir.IndirConstOpnd(base, start.Int)
	}
	return ir.IndirOpnd(base, start.Sym)
}

// EmitMemop 生成批量操作并删除循环中的元素写（memcopy 还有对应的读）
func (g *GlobOpt) EmitMemop(ls *loopState, c *memOpCandidate, start, count *ir.Opnd) {
	pad := g.fn.Blocks[ls.loop.LandingPad]
	var m *ir.Instr
	if c.kind == memOpSet {
		m = g.newInstr(ir.OpMemset, indirAt(c.base, start), c.value, count, c.instr)
		g.stats.Memsets++
	} else {
		m = g.newInstr(ir.OpMemcopy, indirAt(c.base, start), indirAt(c.load.base, start), count, c.instr)
		g.stats.Memcopies++
	}
	pad.InsertBeforeTerminator(m)
	g.addSharedBailOut(ls, m, ir.BailOutOnMemOpError)
	g.fn.Blocks[c.block].Remove(c.instr)
	if c.load != nil {
		g.fn.Blocks[c.load.block].Remove(c.load.instr)
	}
	g.log.Debug("memop",
		zap.Stringer("op", m.Op),
		zap.String("base", g.symName(c.base)),
		zap.Int("loop", int(ls.loop.ID)))
}
