// merge.go - 块入口数据
//
// 前驱按逆后序先于后继处理，回边除外。块入口数据由已处理前驱的出口
// 数据汇合得到：
//   - 只在所有前驱中都有值的符号保留值；值编号不同时按编号对取新编号
//   - 特化表示取交集，任一前驱需要变量形式时其余前驱补装箱
//   - 已执行的边界检查与新建对象取交集
// 汇合后按块入口的活跃信息去掉已死的符号。

package globopt

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// predData 前驱的出口数据
func (g *GlobOpt) predData(p ir.BlockID) *BlockData {
	if g.IsPrepass() {
		return g.prepassData[p]
	}
	return g.blockData[p]
}

// entryData 汇合所有前驱得到块入口数据；没有可达前驱时返回 nil
func (g *GlobOpt) entryData(b *ir.Block) *BlockData {
	var preds []*ir.Block
	var datas []*BlockData
	var ls *loopState
	if b.IsLoopHeader {
		ls = g.loops[b.Loop]
	}
	seen := make(map[ir.BlockID]bool, len(b.Preds))
	for _, p := range b.Preds {
		pb := g.fn.Blocks[p]
		if pb.Deleted || seen[p] {
			continue
		}
		if ls != nil && ls.loop.IsBackEdge(p) {
			continue
		}
		d := g.predData(p)
		if d == nil {
			continue
		}
		seen[p] = true
		preds = append(preds, pb)
		datas = append(datas, g.edgeData(pb, b, d))
	}
	if len(datas) == 0 {
		return nil
	}
	return g.mergePredData(b, preds, datas)
}

// edgeData 沿边 p->b 的数据：多后继时拷贝，并加上分支条件成立的事实
func (g *GlobOpt) edgeData(p, b *ir.Block, d *BlockData) *BlockData {
	out := d
	switch {
	case g.IsPrepass() || len(p.Succs) > 1:
		out = d.Clone()
	default:
		delete(g.blockData, p.ID)
	}
	if !g.IsPrepass() {
		g.succsRemaining[p.ID]--
		if g.succsRemaining[p.ID] <= 0 {
			delete(g.blockData, p.ID)
		}
	}
	if g.enabled(config.FeaturePathDependentValues) {
		g.applyEdgeFacts(p, b.ID, out)
	}
	return out
}

// maskLiveIn 去掉在块入口已死的符号
func (g *GlobOpt) maskLiveIn(b *ir.Block, d *BlockData) {
	if b.Live == nil {
		return
	}
	live, fields := b.Live.LiveIn, b.Live.UpwardExposedFields
	for s := range d.symToValue {
		if !g.isOrigSym(s) {
			continue
		}
		if g.isProperty(s) {
			if !fields.Test(uint(s)) && !g.isObjTypeSym(s) {
				d.KillField(s)
			}
			continue
		}
		if !live.Test(uint(s)) {
			delete(d.symToValue, s)
		}
	}
	for _, bs := range []*bitset.BitSet{d.liveVar, d.liveInt32, d.liveLossyInt32,
		d.liveFloat64, d.liveSimdF4, d.liveSimdI4} {
		for i, ok := bs.NextSet(0); ok && int(i) < g.origSyms; i, ok = bs.NextSet(i + 1) {
			if !live.Test(i) {
				bs.Clear(i)
			}
		}
	}
}

// mergePredData 汇合多个前驱的数据
func (g *GlobOpt) mergePredData(b *ir.Block, preds []*ir.Block, datas []*BlockData) *BlockData {
	if len(datas) == 1 {
		d := datas[0]
		d.block = b.ID
		g.maskLiveIn(b, d)
		return d
	}
	n := uint(g.fn.Syms.Len())
	out := newBlockData(b.ID, n)

	if !g.IsPrepass() {
		g.reloadArraySyms(preds, datas)
	}
	g.mergeLiveness(b, preds, datas, out)

	g.mergeValues = make(map[[2]ValueNumber]ValueNumber)
	shared := make(map[ValueNumber]*Value)
	for s, v0 := range datas[0].symToValue {
		isField := g.isProperty(s)
		if isField && !datas[0].IsFieldLive(s) {
			continue
		}
		vn, info := v0.Number, v0.Info
		ok := true
		for _, d := range datas[1:] {
			v := d.symToValue[s]
			if v == nil || isField && !d.IsFieldLive(s) {
				ok = false
				break
			}
			if v.Number == vn {
				info = MergeInfo(info, v.Info, true)
				continue
			}
			key := [2]ValueNumber{vn, v.Number}
			m, found := g.mergeValues[key]
			if !found {
				m = g.newValueNumber()
				g.mergeValues[key] = m
			}
			info = MergeInfo(info, v.Info, false)
			vn = m
		}
		if !ok {
			continue
		}
		nv, found := shared[vn]
		if !found {
			nv = &Value{Number: vn, Info: info}
			shared[vn] = nv
		}
		out.symToValue[s] = nv
		if isField {
			out.liveFields.Set(uint(s))
		}
		if nv.Info.Type().IsLikelyOptimizedArray() {
			out.valuesToKillOnCalls.Add(vn)
		}
	}

	out.availableIntBoundChecks = datas[0].availableIntBoundChecks.Clone()
	out.freshObjects = datas[0].freshObjects.Clone()
	for _, d := range datas[1:] {
		out.availableIntBoundChecks = out.availableIntBoundChecks.Intersect(d.availableIntBoundChecks)
		out.freshObjects = out.freshObjects.Intersect(d.freshObjects)
	}
	if g.IsPrepass() {
		g.mergeInductionVariables(datas, out)
	}
	g.maskLiveIn(b, out)
	return out
}

// mergeLiveness 特化表示取交集；需要变量形式而某前驱没有时在该前驱末尾装箱
func (g *GlobOpt) mergeLiveness(b *ir.Block, preds []*ir.Block, datas []*BlockData, out *BlockData) {
	n := uint(g.fn.Syms.Len())
	anyLive := bitset.New(n)
	varAny := bitset.New(n)
	lossyAny := bitset.New(n)
	int32All := datas[0].liveInt32.Clone()
	floatAll := datas[0].liveFloat64.Clone()
	f4All := datas[0].liveSimdF4.Clone()
	i4All := datas[0].liveSimdI4.Clone()
	fieldsAll := datas[0].liveFields.Clone()
	for _, d := range datas {
		anyLive.InPlaceUnion(d.liveVar)
		anyLive.InPlaceUnion(d.liveInt32)
		anyLive.InPlaceUnion(d.liveFloat64)
		anyLive.InPlaceUnion(d.liveSimdF4)
		anyLive.InPlaceUnion(d.liveSimdI4)
		varAny.InPlaceUnion(d.liveVar)
		lossyAny.InPlaceUnion(d.liveLossyInt32)
		int32All.InPlaceIntersection(d.liveInt32)
		floatAll.InPlaceIntersection(d.liveFloat64)
		f4All.InPlaceIntersection(d.liveSimdF4)
		i4All.InPlaceIntersection(d.liveSimdI4)
		fieldsAll.InPlaceIntersection(d.liveFields)
	}
	spec := int32All.Union(floatAll)
	spec.InPlaceUnion(f4All)
	spec.InPlaceUnion(i4All)
	vars := varAny.Union(anyLive.Difference(spec))

	for k, d := range datas {
		need := vars.Difference(d.liveVar)
		for i, ok := need.NextSet(0); ok; i, ok = need.NextSet(i + 1) {
			s := ir.SymID(i)
			if !d.IsSpecialized(s) {
				continue
			}
			if !g.IsPrepass() {
				g.compensateToVar(preds[k], d, s)
			}
			d.MakeLive(s, ir.ReprVar, false)
		}
	}

	out.liveVar = vars
	out.liveInt32 = int32All
	out.liveLossyInt32 = lossyAny.Intersection(int32All)
	out.liveFloat64 = floatAll
	out.liveSimdF4 = f4All
	out.liveSimdI4 = i4All
	out.liveFields = fieldsAll
}

// compensateToVar 在前驱 p 末尾装箱 s。转换在 p 的所有出边上都执行，
// 尚未被其他后继取走的出口数据同步更新
func (g *GlobOpt) compensateToVar(p *ir.Block, d *BlockData, s ir.SymID) {
	i := g.fn.NewInstr(ir.OpToVar, g.reg(s), g.reg(g.liveShadow(d, s)), nil)
	if t := p.Terminator(); t != nil {
		i.ByteCodeOffset = t.ByteCodeOffset
	} else if l := p.Last(); l != nil {
		i.ByteCodeOffset = l.ByteCodeOffset
	}
	p.InsertBeforeTerminator(i)
	g.stats.Conversions++
	if pd := g.blockData[p.ID]; pd != nil && pd != d {
		pd.MakeLive(s, ir.ReprVar, false)
	}
}

// reloadArraySyms 同一数组在部分前驱中带有头段长度或长度符号时，在缺少的
// 前驱末尾重新加载，使汇合后仍然保留该符号
func (g *GlobOpt) reloadArraySyms(preds []*ir.Block, datas []*BlockData) {
	for s, v0 := range datas[0].symToValue {
		if !v0.Info.Type().IsLikelyOptimizedArray() || g.isProperty(s) {
			continue
		}
		vals := make([]*Value, len(datas))
		ok := true
		for k, d := range datas {
			v := d.symToValue[s]
			if v == nil || v.Number != v0.Number || !v.Info.Type().IsOptimizedArray() {
				ok = false
				break
			}
			vals[k] = v
		}
		if !ok {
			continue
		}
		g.reloadArraySym(s, preds, datas, vals, false)
		g.reloadArraySym(s, preds, datas, vals, true)
	}
}

func (g *GlobOpt) reloadArraySym(s ir.SymID, preds []*ir.Block, datas []*BlockData, vals []*Value, length bool) {
	symOf := func(i *ValueInfo) ir.SymID {
		if length {
			return i.LengthSym()
		}
		return i.HeadSegmentLengthSym()
	}
	x := ir.NoSym
	missing := false
	for _, v := range vals {
		switch cur := symOf(v.Info); {
		case cur == ir.NoSym:
			missing = true
		case x == ir.NoSym:
			x = cur
		case x != cur:
			return
		}
	}
	if x == ir.NoSym || !missing {
		return
	}
	op := ir.OpLdHeadSegmentLength
	if length {
		op = ir.OpLdArrayLength
	}
	for k, v := range vals {
		d := datas[k]
		if symOf(v.Info) != ir.NoSym || !d.IsLiveVar(s) {
			continue
		}
		p := preds[k]
		i := g.fn.NewInstr(op, g.reg(x), g.reg(s), nil)
		if t := p.Terminator(); t != nil {
			i.ByteCodeOffset = t.ByteCodeOffset
		}
		p.InsertBeforeTerminator(i)
		xv := g.varSym(x)
		lenVal := g.NewValue(NewIntRangeInfo(IntConstantBounds{0, maxArrayLength}))
		for _, pd := range []*BlockData{d, g.blockData[p.ID]} {
			if pd == nil {
				continue
			}
			pd.SetValue(xv, lenVal)
			pd.MakeLive(xv, ir.ReprInt32, false)
			if pv := pd.Value(s); pv != nil && pv.Number == v.Number {
				hs, hsl, ln := pv.Info.HeadSegmentSym(), pv.Info.HeadSegmentLengthSym(), pv.Info.LengthSym()
				if length {
					ln = x
				} else {
					hsl = x
				}
				pv.Info = pv.Info.WithArraySyms(hs, hsl, ln)
			}
		}
	}
}

// mergeInductionVariables 预扫描中合并各路径的归纳变量记录
func (g *GlobOpt) mergeInductionVariables(datas []*BlockData, out *BlockData) {
	has := false
	for _, d := range datas {
		if d.inductionVariables != nil {
			has = true
		}
	}
	if !has {
		return
	}
	out.inductionVariables = make(map[ir.SymID]*InductionVariable)
	syms := make(map[ir.SymID]bool)
	for _, d := range datas {
		for s := range d.inductionVariables {
			syms[s] = true
		}
	}
	for s := range syms {
		var m *InductionVariable
		missing := false
		for _, d := range datas {
			iv := d.inductionVariables[s]
			if m == nil {
				if iv == nil {
					missing = true
					continue
				}
				cp := *iv
				m = &cp
				continue
			}
			m.Merge(iv)
		}
		if missing {
			m.Merge(nil)
		}
		out.inductionVariables[s] = m
	}
}

// ============================================================================
// 路径相关事实
// ============================================================================

// applyEdgeFacts 沿条件分支的一条出边加入比较结果蕴含的整数区间与关系
func (g *GlobOpt) applyEdgeFacts(p *ir.Block, succ ir.BlockID, d *BlockData) {
	t := p.Terminator()
	if t == nil || !t.Op.IsCompareBranch() {
		return
	}
	taken := succ == t.Target
	if taken && p.Fallthrough() == succ {
		return
	}
	a, b := g.operandValueIn(d, t.Src1), g.operandValueIn(d, t.Src2)
	if a == nil || b == nil {
		return
	}
	ra, okA := a.Info.IntRange()
	rb, okB := b.Info.IntRange()
	if !okA || !okB {
		return
	}
	// 两边都确定为 int 时比较不会遇到 NaN，不成立的一边可以取反
	cmp := t.Op.Info().Compare
	if !taken {
		cmp = invertCompare(cmp)
	}
	switch cmp {
	case ir.OpCmLt:
		g.refineLess(d, a, b, ra, rb, 1)
	case ir.OpCmLe:
		g.refineLess(d, a, b, ra, rb, 0)
	case ir.OpCmGt:
		g.refineLess(d, b, a, rb, ra, 1)
	case ir.OpCmGe:
		g.refineLess(d, b, a, rb, ra, 0)
	case ir.OpCmEq, ir.OpCmSrEq:
		if r, ok := ra.Intersect(rb); ok {
			a.Info = a.Info.WithIntRange(r)
			b.Info = b.Info.WithIntRange(r)
		}
	case ir.OpCmNeq, ir.OpCmSrNeq:
		if c, ok := b.Info.IsIntConstant(); ok {
			a.Info = excludeEndpoint(a.Info, ra, c)
		} else if c, ok := a.Info.IsIntConstant(); ok {
			b.Info = excludeEndpoint(b.Info, rb, c)
		}
	}
}

// refineLess 在 a <= b - gap 成立的路径上收紧两边
func (g *GlobOpt) refineLess(d *BlockData, a, b *Value, ra, rb IntConstantBounds, gap int32) {
	if a.Number == b.Number {
		return
	}
	up := int64(rb.Upper) - int64(gap)
	lo := int64(ra.Lower) + int64(gap)
	if up < int64(ra.Upper) {
		if r, ok := ra.Intersect(IntConstantBounds{ra.Lower, clamp32(up)}); ok {
			a.Info = a.Info.WithIntRange(r)
		}
	}
	if lo > int64(rb.Lower) {
		if r, ok := rb.Intersect(IntConstantBounds{clamp32(lo), rb.Upper}); ok {
			b.Info = b.Info.WithIntRange(r)
		}
	}
	if _, isConst := b.Info.IsIntConstant(); !isConst {
		a.Info = a.Info.WithRelative(a.Info.Relative().WithUpper(b.Number, -gap))
	}
	if _, isConst := a.Info.IsIntConstant(); !isConst {
		b.Info = b.Info.WithRelative(b.Info.Relative().WithLower(a.Number, gap))
	}
	d.availableIntBoundChecks.Add(IntBoundCheck{Left: a.Number, Right: b.Number, Offset: -gap})
}

// excludeEndpoint 已知 v != c：c 恰为区间端点时收紧
func excludeEndpoint(info *ValueInfo, r IntConstantBounds, c int32) *ValueInfo {
	switch {
	case r.IsConstant():
		return info
	case r.Lower == c:
		return info.WithIntRange(IntConstantBounds{c + 1, r.Upper})
	case r.Upper == c:
		return info.WithIntRange(IntConstantBounds{r.Lower, c - 1})
	}
	return info
}

func invertCompare(op ir.Opcode) ir.Opcode {
	switch op {
	case ir.OpCmLt:
		return ir.OpCmGe
	case ir.OpCmLe:
		return ir.OpCmGt
	case ir.OpCmGt:
		return ir.OpCmLe
	case ir.OpCmGe:
		return ir.OpCmLt
	case ir.OpCmEq:
		return ir.OpCmNeq
	case ir.OpCmNeq:
		return ir.OpCmEq
	case ir.OpCmSrEq:
		return ir.OpCmSrNeq
	case ir.OpCmSrNeq:
		return ir.OpCmSrEq
	}
	return op
}

func clamp32(v int64) int32 {
	switch {
	case v < -1<<31:
		return -1 << 31
	case v > 1<<31-1:
		return 1<<31 - 1
	}
	return int32(v)
}
