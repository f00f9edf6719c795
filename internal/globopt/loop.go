// loop.go - 循环处理
//
// 到达循环头时先对循环体做一次预扫描：不修改 IR，只收集循环对数组与
// 字段事实的破坏、是否含调用、归纳变量以及回边处的值类型。正式遍历
// 据此构造循环头数据：循环内被重新定义的变量取新的值编号，未被破坏的
// 事实从 landing pad 保留下来。
//
// 回边不参与汇合；每条回边处把活跃表示补齐到循环头的假设。

package globopt

import (
	"math"

	"github.com/bits-and-blooms/bitset"
	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

type loopPassState uint8

const (
	loopNotVisited loopPassState = iota
	loopPrepass
	loopRealPass
	loopDone
)

// liveSnapshot 循环头入口处各表示的活跃情况
type liveSnapshot struct {
	vars, int32s, lossy, float64s, simdF4, simdI4 *bitset.BitSet
}

func snapshotLive(d *BlockData) liveSnapshot {
	return liveSnapshot{
		vars:     d.liveVar.Clone(),
		int32s:   d.liveInt32.Clone(),
		lossy:    d.liveLossyInt32.Clone(),
		float64s: d.liveFloat64.Clone(),
		simdF4:   d.liveSimdF4.Clone(),
		simdI4:   d.liveSimdI4.Clone(),
	}
}

func (l liveSnapshot) any() *bitset.BitSet {
	u := l.vars.Union(l.int32s)
	u.InPlaceUnion(l.float64s)
	u.InPlaceUnion(l.simdF4)
	u.InPlaceUnion(l.simdI4)
	return u
}

// loopState 一个循环在本次优化中的状态
type loopState struct {
	loop  *ir.Loop
	state loopPassState
	// defs 循环内被定义的变量符号
	defs *bitset.BitSet

	// 预扫描汇总
	jsArrayKills   JsArrayKills
	fieldKills     mapset.Set[ir.PropertyID]
	killsAllFields bool
	hasCall        bool
	inductionVars  map[ir.SymID]*InductionVariable
	backEdgeTypes  map[ir.SymID]ir.ValueType
	// objTypeUses 循环中有带类型信息的属性访问
	objTypeUses bool
	// preFields 循环中读到且入口处未知的字段，值为 profile 类型
	preFields map[ir.SymID]ir.Shape

	// 正式遍历
	lpData       *BlockData
	headerLive   liveSnapshot
	headerValues map[ir.SymID]ValueNumber
	forcedInt    *bitset.BitSet
	forcedFloat  *bitset.BitSet
	bailTarget   *ir.RestorePoint
	// implicitCallsDisabled 循环内回调用户代码即退出
	implicitCallsDisabled bool
	remaining    int
	count        *loopCount
	countDone    bool
	memops       []*memOpCandidate
}

func (ls *loopState) resetSummary() {
	ls.jsArrayKills = 0
	ls.fieldKills = mapset.NewThreadUnsafeSet[ir.PropertyID]()
	ls.killsAllFields = false
	ls.hasCall = false
	ls.inductionVars = make(map[ir.SymID]*InductionVariable)
	ls.backEdgeTypes = make(map[ir.SymID]ir.ValueType)
	ls.objTypeUses = false
	ls.preFields = make(map[ir.SymID]ir.Shape)
}

// conservativeSummary 无法预扫描时假设循环破坏一切
func (ls *loopState) conservativeSummary() {
	ls.resetSummary()
	ls.jsArrayKills = KillsAllArrays
	ls.killsAllFields = true
	ls.hasCall = true
}

// killsField 循环是否可能改写属性 prop
func (ls *loopState) killsField(prop ir.PropertyID) bool {
	return ls.killsAllFields || ls.hasCall || ls.fieldKills.Contains(prop)
}

func (g *GlobOpt) initLoops() {
	g.loops = make([]*loopState, len(g.fn.Loops))
	n := uint(g.fn.Syms.Len())
	for _, l := range g.fn.Loops {
		ls := &loopState{loop: l, defs: bitset.New(n)}
		for _, id := range l.BlockList {
			b := g.fn.Blocks[id]
			if b.Deleted {
				continue
			}
			if b.Live != nil {
				ls.defs.InPlaceUnion(b.Live.Defs)
			}
			ls.remaining++
		}
		ls.resetSummary()
		g.loops[l.ID] = ls
	}
}

// loopOf 块所在最内层循环的状态
func (g *GlobOpt) loopOf(b *ir.Block) *loopState {
	if b.Loop == ir.NoLoop || int(b.Loop) >= len(g.loops) {
		return nil
	}
	return g.loops[b.Loop]
}

// prepassLoop 正在预扫描的最内层循环
func (g *GlobOpt) prepassLoop() *loopState {
	if len(g.prepassStack) == 0 {
		return nil
	}
	return g.prepassStack[len(g.prepassStack)-1]
}

// ============================================================================
// 破坏记录
// ============================================================================

// recordArrayKills 把数组事实的破坏记到所有包含当前块的预扫描循环上
func (g *GlobOpt) recordArrayKills(k JsArrayKills) {
	if k == 0 {
		return
	}
	for _, ls := range g.prepassStack {
		if ls.loop.Contains(g.currentBlock.ID) {
			ls.jsArrayKills |= k
		}
	}
}

func (g *GlobOpt) recordFieldKill(prop ir.PropertyID) {
	for _, ls := range g.prepassStack {
		if ls.loop.Contains(g.currentBlock.ID) {
			ls.fieldKills.Add(prop)
		}
	}
}

func (g *GlobOpt) recordKillAllFields() {
	for _, ls := range g.prepassStack {
		if ls.loop.Contains(g.currentBlock.ID) {
			ls.killsAllFields = true
		}
	}
}

func (g *GlobOpt) recordCall() {
	for _, ls := range g.prepassStack {
		if ls.loop.Contains(g.currentBlock.ID) {
			ls.hasCall = true
		}
	}
}

// killArraysIn 使 d 中所有数组值按 k 降级
func (g *GlobOpt) killArraysIn(d *BlockData, k JsArrayKills) {
	if k == 0 {
		return
	}
	for _, v := range d.symToValue {
		if ni := k.ApplyToInfo(v.Info); ni != v.Info {
			v.Info = ni
		}
	}
	d.valuesToKillOnCalls.Clear()
	for _, v := range d.symToValue {
		if v.Info.Type().IsLikelyOptimizedArray() {
			d.valuesToKillOnCalls.Add(v.Number)
		}
	}
}

// killLoopFields 循环头处去掉被循环改写的字段
func (g *GlobOpt) killLoopFields(ls *loopState, d *BlockData, summarized bool) {
	if !summarized || ls.killsAllFields || ls.hasCall {
		d.KillAllFields(g.fn.Syms, nil)
		return
	}
	d.KillAllFields(g.fn.Syms, func(s ir.SymID) bool {
		sym := g.fn.Syms.Get(s)
		return !ls.fieldKills.Contains(sym.PropertyID) && !ls.defs.Test(uint(sym.Base))
	})
}

// ============================================================================
// 预扫描
// ============================================================================

// prepass 预扫描循环体，结果记入 ls
func (g *GlobOpt) prepass(ls *loopState, lp *BlockData) {
	g.stats.PrepassLoops++
	savedData, savedBlock, savedInstr := g.data, g.currentBlock, g.currentInstr
	savedUses, savedUsesAt := append([]ir.SymID(nil), g.byteCodeUses...), g.byteCodeUsesAt
	savedPrepassData := g.prepassData
	prevState := ls.state
	ls.state = loopPrepass
	ls.resetSummary()
	g.prepassStack = append(g.prepassStack, ls)
	g.prepassData = make(map[ir.BlockID]*BlockData)

	var backEdges []*BlockData
	for _, id := range ls.loop.BlockList {
		b := g.fn.Blocks[id]
		if b.Deleted {
			continue
		}
		var d *BlockData
		switch {
		case id == ls.loop.Header:
			d = g.prepassHeaderData(ls, lp, false)
			d.inductionVariables = make(map[ir.SymID]*InductionVariable)
		case b.IsLoopHeader:
			inner := g.loops[b.Loop]
			ilp := g.prepassData[inner.loop.LandingPad]
			if ilp == nil {
				continue
			}
			if len(g.prepassStack) < g.maxPrepassDepth {
				g.prepass(inner, ilp)
			} else {
				inner.conservativeSummary()
			}
			d = g.prepassHeaderData(inner, ilp, true)
		default:
			d = g.entryData(b)
			if d == nil {
				continue
			}
		}
		g.optBlockBody(b, d)
		g.prepassData[id] = g.data
		if ls.loop.IsBackEdge(id) {
			backEdges = append(backEdges, g.data)
		}
	}

	g.DetectUnknownChangesToInductionVariables(ls, backEdges)
	for i, ok := ls.defs.NextSet(0); ok; i, ok = ls.defs.NextSet(i + 1) {
		s := ir.SymID(i)
		t := ir.Uninitialized
		for _, d := range backEdges {
			if v := d.Value(s); v != nil {
				t = t.Merge(v.Info.Type())
			}
		}
		if t != ir.Uninitialized {
			ls.backEdgeTypes[s] = t
		}
	}
	g.log.Debug("loop prepass",
		zap.Int("loop", int(ls.loop.ID)),
		zap.Stringer("arrayKills", ls.jsArrayKills),
		zap.Bool("killsAllFields", ls.killsAllFields),
		zap.Bool("hasCall", ls.hasCall),
		zap.Int("inductionVars", len(ls.inductionVars)))

	g.prepassStack = g.prepassStack[:len(g.prepassStack)-1]
	g.prepassData = savedPrepassData
	g.data, g.currentBlock, g.currentInstr = savedData, savedBlock, savedInstr
	g.byteCodeUses, g.byteCodeUsesAt = savedUses, savedUsesAt
	ls.state = prevState
}

// prepassHeaderData 预扫描中的循环头数据。summarized 为 false 时循环的
// 破坏情况未知，按最保守处理
func (g *GlobOpt) prepassHeaderData(ls *loopState, lp *BlockData, summarized bool) *BlockData {
	header := g.fn.Blocks[ls.loop.Header]
	h := lp.Clone()
	h.block = header.ID
	h.freshObjects.Clear()
	kills := KillsAllArrays
	if summarized {
		kills = ls.jsArrayKills
		if ls.hasCall {
			kills = KillsAllArrays
		}
	}
	g.killArraysIn(h, kills)
	g.killLoopFields(ls, h, summarized)
	for i, ok := ls.defs.NextSet(0); ok; i, ok = ls.defs.NextSet(i + 1) {
		s := ir.SymID(i)
		h.Kill(s)
		if !g.isLiveIn(header, s) {
			h.SetValue(s, nil)
			continue
		}
		t := ir.Unknown
		if v := lp.Value(s); v != nil {
			t = v.Info.Type().ToLikely()
		}
		if bt, ok := ls.backEdgeTypes[s]; ok && summarized {
			t = t.Merge(bt).ToLikely()
		}
		h.SetValue(s, g.NewValue(NewGenericInfo(t).WithType(t)))
		h.MakeLive(s, ir.ReprVar, false)
	}
	g.maskLiveIn(header, h)
	return h
}

// ============================================================================
// 正式遍历的循环头
// ============================================================================

// forceIntAtHeader 循环内重新定义的变量是否在循环头按 int32 传递
func (g *GlobOpt) forceIntAtHeader(ls *loopState, lpv *Value, be ir.ValueType) bool {
	if lpv == nil || be == ir.Uninitialized || !g.enabled(config.FeatureTypeSpec) {
		return false
	}
	lt := lpv.Info.Type()
	if lt.IsInt() && be.IsInt() {
		return true
	}
	return g.enabled(config.FeatureAggressiveIntTypeSpec) && lt.IsLikelyInt() && be.IsLikelyInt()
}

func (g *GlobOpt) forceFloatAtHeader(ls *loopState, lpv *Value, be ir.ValueType) bool {
	if lpv == nil || be == ir.Uninitialized || !g.enabled(config.FeatureTypeSpec) ||
		!g.enabled(config.FeatureFloatTypeSpec) {
		return false
	}
	return lpv.Info.Type().IsLikelyNumber() && be.IsLikelyNumber()
}

// headerIntRange 被强制为 int 的归纳变量在循环头的区间与相对边界
func (g *GlobOpt) headerIntRange(ls *loopState, s ir.SymID, lpv *Value) (IntConstantBounds, *IntBounds) {
	iv := ls.inductionVars[s]
	if iv == nil || !iv.IsChangeUnidirectional() {
		return FullIntRange, nil
	}
	r, ok := lpv.Info.LikelyIntRange()
	if !ok {
		return FullIntRange, nil
	}
	switch iv.Direction() {
	case 1:
		return IntConstantBounds{r.Lower, math.MaxInt32}, NewIntBounds().WithLower(lpv.Number, 0)
	case -1:
		return IntConstantBounds{math.MinInt32, r.Upper}, NewIntBounds().WithUpper(lpv.Number, 0)
	}
	return FullIntRange, nil
}

// realHeaderData 构造正式遍历的循环头数据，并在 landing pad 中补齐循环头
// 假设的表示
func (g *GlobOpt) realHeaderData(ls *loopState, lp *BlockData) *BlockData {
	header := g.fn.Blocks[ls.loop.Header]
	n := uint(g.fn.Syms.Len())
	ls.lpData = lp
	ls.forcedInt = bitset.New(n)
	ls.forcedFloat = bitset.New(n)
	ls.headerValues = make(map[ir.SymID]ValueNumber)
	if ls.objTypeUses && g.enabled(config.FeatureObjTypeSpec) && g.enabled(config.FeatureFieldHoist) {
		g.EnsureDisableImplicitCallRegion(ls)
	}
	if g.enabled(config.FeatureFieldPRE) {
		g.PreloadFields(ls, lp)
	}

	h := lp.Clone()
	h.block = header.ID
	h.freshObjects.Clear()
	h.inductionVariables = nil
	kills := ls.jsArrayKills
	if ls.hasCall {
		kills = KillsAllArrays
	}
	g.killArraysIn(h, kills)
	g.killLoopFields(ls, h, true)

	varDefs := bitset.New(n)
	for i, ok := ls.defs.NextSet(0); ok; i, ok = ls.defs.NextSet(i + 1) {
		s := ir.SymID(i)
		lpv := lp.Value(s)
		h.Kill(s)
		h.SetValue(s, nil)
		if !g.isLiveIn(header, s) {
			continue
		}
		be, ok := ls.backEdgeTypes[s]
		if !ok {
			be = ir.Uninitialized
		}
		var v *Value
		switch {
		case g.forceIntAtHeader(ls, lpv, be):
			rng, rel := g.headerIntRange(ls, s, lpv)
			v = g.NewValue(NewIntRangeInfo(rng).WithRelative(rel))
			h.MakeLive(s, ir.ReprInt32, false)
			ls.forcedInt.Set(uint(s))
		case g.forceFloatAtHeader(ls, lpv, be):
			v = g.NewValue(NewGenericInfo(ir.Number))
			h.MakeLive(s, ir.ReprFloat64, false)
			ls.forcedFloat.Set(uint(s))
		default:
			t := ir.Unknown
			if lpv != nil {
				t = lpv.Info.Type().Merge(be).ToLikely()
			}
			v = g.NewValue(NewGenericInfo(t).WithType(t))
			h.MakeLive(s, ir.ReprVar, false)
			varDefs.Set(uint(s))
		}
		h.SetValue(s, v)
		ls.headerValues[s] = v.Number
	}
	g.maskLiveIn(header, h)
	ls.headerLive = snapshotLive(h)
	g.primeLandingPad(ls, varDefs)
	return h
}

// primeLandingPad 在 landing pad 末尾把循环头假设的表示准备好
func (g *GlobOpt) primeLandingPad(ls *loopState, varDefs *bitset.BitSet) {
	lp := ls.lpData
	pad := g.fn.Blocks[ls.loop.LandingPad]
	like := pad.Terminator()
	if like == nil {
		like = pad.Last()
	}
	emit := func(i *ir.Instr) {
		if like != nil {
			i.ByteCodeOffset = like.ByteCodeOffset
		}
		pad.InsertBeforeTerminator(i)
		g.stats.Conversions++
	}
	for i, ok := ls.forcedInt.NextSet(0); ok; i, ok = ls.forcedInt.NextSet(i + 1) {
		s := ir.SymID(i)
		if lp.IsLiveLosslessInt32(s) {
			continue
		}
		src := g.reg(s)
		if !lp.IsLiveVar(s) && lp.IsLiveFloat64(s) {
			src = g.reg(g.shadow(s, ir.ReprFloat64))
		}
		conv := g.fn.NewInstr(ir.OpToInt32, g.reg(g.shadow(s, ir.ReprInt32)), src, nil)
		emit(conv)
		v := lp.Value(s)
		if v == nil || !v.Info.Type().IsInt() {
			g.addSharedBailOut(ls, conv, ir.BailOutIntOnly)
		}
		if v != nil {
			v.Info = v.Info.WithType(ir.Int)
		}
		lp.MakeLive(s, ir.ReprInt32, false)
	}
	for i, ok := ls.forcedFloat.NextSet(0); ok; i, ok = ls.forcedFloat.NextSet(i + 1) {
		s := ir.SymID(i)
		if lp.IsLiveFloat64(s) {
			continue
		}
		src := g.reg(s)
		v := lp.Value(s)
		guard := v == nil || !v.Info.Type().IsNumber()
		if !lp.IsLiveVar(s) && lp.IsLiveLosslessInt32(s) {
			src, guard = g.reg(g.shadow(s, ir.ReprInt32)), false
		}
		conv := g.fn.NewInstr(ir.OpToFloat64, g.reg(g.shadow(s, ir.ReprFloat64)), src, nil)
		emit(conv)
		if guard {
			g.addSharedBailOut(ls, conv, ir.BailOutNumberOnly)
			if v != nil {
				v.Info = v.Info.WithType(ir.Number)
			}
		}
		lp.MakeLive(s, ir.ReprFloat64, false)
	}
	for i, ok := varDefs.NextSet(0); ok; i, ok = varDefs.NextSet(i + 1) {
		s := ir.SymID(i)
		if lp.IsLiveVar(s) || !lp.IsSpecialized(s) {
			continue
		}
		emit(g.fn.NewInstr(ir.OpToVar, g.reg(s), g.reg(g.liveShadow(lp, s)), nil))
		lp.MakeLive(s, ir.ReprVar, false)
	}
}

// liveShadow 装箱时使用的特化形式：无损 int32、float64、SIMD
func (g *GlobOpt) liveShadow(d *BlockData, s ir.SymID) ir.SymID {
	switch {
	case d.IsLiveLosslessInt32(s):
		return g.shadow(s, ir.ReprInt32)
	case d.IsLiveFloat64(s):
		return g.shadow(s, ir.ReprFloat64)
	case d.IsLiveSimd(s, ir.ReprSimd128F4):
		return g.shadow(s, ir.ReprSimd128F4)
	case d.IsLiveSimd(s, ir.ReprSimd128I4):
		return g.shadow(s, ir.ReprSimd128I4)
	}
	return s
}

// ============================================================================
// 回边补偿
// ============================================================================

// compensateBackEdge 在回边块末尾补齐循环头假设的表示。需要保护的转换
// 在回边块有多个后继时放进新建的中转块，只在回到循环头的路径上执行
func (g *GlobOpt) compensateBackEdge(ls *loopState, b *ir.Block) {
	d := g.data
	pre := d.Clone()
	hl := ls.headerLive
	type conv struct {
		instr *ir.Instr
		kind  ir.BailOutKind
	}
	var convs []conv
	add := func(op ir.Opcode, s ir.SymID, r ir.Repr, src ir.SymID, kind ir.BailOutKind) {
		i := g.fn.NewInstr(op, g.reg(g.shadow(s, r)), g.reg(src), nil)
		convs = append(convs, conv{i, kind})
		d.MakeLive(s, r, op == ir.OpToInt32Lossy)
	}
	typeOf := func(s ir.SymID) ir.ValueType {
		if v := d.Value(s); v != nil {
			return v.Info.Type()
		}
		return ir.Unknown
	}
	all := hl.any()
	for i, ok := all.NextSet(0); ok; i, ok = all.NextSet(i + 1) {
		s := ir.SymID(i)
		if hl.vars.Test(i) && !d.IsLiveVar(s) && d.IsSpecialized(s) {
			add(ir.OpToVar, s, ir.ReprVar, g.liveShadow(d, s), 0)
		}
		numSrc := s
		if !d.IsLiveVar(s) && d.IsLiveFloat64(s) {
			numSrc = g.shadow(s, ir.ReprFloat64)
		}
		if hl.int32s.Test(i) {
			lossy := hl.lossy.Test(i)
			switch {
			case !lossy && !d.IsLiveLosslessInt32(s):
				var k ir.BailOutKind
				if !typeOf(s).IsInt() {
					k = ir.BailOutIntOnly
				}
				add(ir.OpToInt32, s, ir.ReprInt32, numSrc, k)
			case lossy && !d.IsLiveInt32(s):
				var k ir.BailOutKind
				if numSrc == s && typeOf(s).CanCallUserCodeOnConversion() {
					k = ir.BailOutOnImplicitCalls
				}
				add(ir.OpToInt32Lossy, s, ir.ReprInt32, numSrc, k)
			}
		}
		if hl.float64s.Test(i) && !d.IsLiveFloat64(s) {
			src, k := s, ir.BailOutNumberOnly
			if d.IsLiveLosslessInt32(s) {
				src, k = g.shadow(s, ir.ReprInt32), 0
			} else if typeOf(s).IsNumber() {
				k = 0
			}
			add(ir.OpToFloat64, s, ir.ReprFloat64, src, k)
		}
		for _, r := range []ir.Repr{ir.ReprSimd128F4, ir.ReprSimd128I4} {
			snap := hl.simdF4
			if r == ir.ReprSimd128I4 {
				snap = hl.simdI4
			}
			if snap.Test(i) && !d.IsLiveSimd(s, r) {
				add(ir.OpToSimd128, s, r, s, ir.BailOutOnNotSimd)
			}
		}
	}
	if len(convs) == 0 {
		return
	}
	guarded := false
	for _, c := range convs {
		if c.kind != 0 {
			guarded = true
		}
	}
	target := b
	if guarded && len(b.Succs) > 1 {
		target = g.airlock(ls, b)
		// 出口路径不经过中转块，b 的出口状态不含这些转换
		d.liveVar, d.liveInt32, d.liveLossyInt32 = pre.liveVar.Clone(), pre.liveInt32.Clone(), pre.liveLossyInt32.Clone()
		d.liveFloat64, d.liveSimdF4, d.liveSimdI4 = pre.liveFloat64.Clone(), pre.liveSimdF4.Clone(), pre.liveSimdI4.Clone()
	}
	like := target.Terminator()
	for _, c := range convs {
		if like != nil {
			c.instr.ByteCodeOffset = like.ByteCodeOffset
		}
		target.InsertBeforeTerminator(c.instr)
		g.stats.Conversions++
	}
	// 恢复点按转换之前的表示计算
	saved := g.data
	g.data = pre
	for _, c := range convs {
		g.addBailOut(c.instr, c.kind)
	}
	g.data = saved
}

// airlock 在回边 b->header 上插入中转块
func (g *GlobOpt) airlock(ls *loopState, b *ir.Block) *ir.Block {
	header := g.fn.Blocks[ls.loop.Header]
	a := g.fn.NewBlock()
	a.Loop = ls.loop.ID
	g.fn.RetargetEdge(b.ID, header.ID, a.ID)
	g.fn.AddEdge(a.ID, header.ID)
	br := g.fn.NewInstr(ir.OpBr, nil, nil, nil)
	br.Target = header.ID
	if t := b.Terminator(); t != nil {
		br.ByteCodeOffset = t.ByteCodeOffset
	}
	a.Append(br)
	if header.Live != nil {
		a.Live = &ir.LiveInfo{
			LiveIn:              header.Live.LiveIn.Clone(),
			LiveOut:             header.Live.LiveIn.Clone(),
			UpwardExposedFields: header.Live.UpwardExposedFields.Clone(),
			Defs:                bitset.New(uint(g.fn.Syms.Len())),
		}
	}
	for l := ls.loop; l != nil; l = g.fn.Loop(l.Parent) {
		l.Blocks.Set(uint(a.ID))
		l.BlockList = append(l.BlockList, a.ID)
	}
	for n, be := range ls.loop.BackEdges {
		if be == b.ID {
			ls.loop.BackEdges[n] = a.ID
		}
	}
	g.log.Debug("airlock", zap.Int("from", int(b.ID)), zap.Int("block", int(a.ID)))
	return a
}

// ============================================================================
// 循环结束
// ============================================================================

// blockDone 正式遍历中块处理完（或被删除）时更新所属循环的计数
func (g *GlobOpt) blockDone(b *ir.Block) {
	for ls := g.loopOf(b); ls != nil; {
		ls.remaining--
		if ls.remaining == 0 && ls.state == loopRealPass {
			g.endLoop(ls)
		}
		if ls.loop.Parent == ir.NoLoop {
			break
		}
		ls = g.loops[ls.loop.Parent]
	}
}

func (g *GlobOpt) endLoop(ls *loopState) {
	ls.state = loopDone
	if g.enabled(config.FeatureMemset) || g.enabled(config.FeatureMemcopy) {
		g.ProcessMemOp(ls)
	}
	ls.memops = nil
}
