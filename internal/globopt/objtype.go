// objtype.go - 对象类型值编号与类型检查
//
// 每个对象变量有一个类型符号 (base, $type)，与属性符号一样存放在 liveFields
// 中，因此调用、循环头和变量重新定义使字段失效的地方也使类型失效。同一
// 类型在函数中总是同一个值编号，汇合时各前驱类型不同则得到新编号，类型
// 未知。
//
// 带 profile 类型的属性访问：类型已知且一致时访问不再检查；未知时访问自己
// 检查并带 FailedTypeCheck 保护，之后类型已知。加属性的写把对象改为新类型，
// 其他对象变量可能指向同一个对象，它们的类型全部失效。循环中不变对象的
// 检查移到 landing pad，循环内的读取与字段 PRE 依赖这次检查。

package globopt

import (
	"sort"

	"go.uber.org/zap"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// ============================================================================
// 类型值
// ============================================================================

// objTypeSym base 变量的类型符号
func (g *GlobOpt) objTypeSym(base ir.SymID) ir.SymID {
	return g.fn.Syms.ObjTypeSym(g.varSym(base))
}

func (g *GlobOpt) isObjTypeSym(s ir.SymID) bool {
	sym := g.fn.Syms.Get(s)
	return sym != nil && sym.IsObjType()
}

// shapeValue 类型对应的值；同一类型总是同一个编号
func (g *GlobOpt) shapeValue(s ir.Shape) *Value {
	k := s.Key()
	vn, ok := g.shapeNumbers[k]
	if !ok {
		vn = g.newValueNumber()
		g.shapeNumbers[k] = vn
		g.numberShapes[vn] = s
	}
	return &Value{Number: vn, Info: typeInfo(ir.Unknown)}
}

// objTypeIn d 中 base 已知的类型
func (g *GlobOpt) objTypeIn(d *BlockData, base ir.SymID) (ir.Shape, bool) {
	ts := g.objTypeSym(base)
	if !d.IsFieldLive(ts) {
		return nil, false
	}
	v := d.Value(ts)
	if v == nil {
		return nil, false
	}
	s, ok := g.numberShapes[v.Number]
	return s, ok
}

// setObjType base 的类型为 s
func (g *GlobOpt) setObjType(d *BlockData, base ir.SymID, s ir.Shape) {
	d.SetFieldValue(g.objTypeSym(base), g.shapeValue(s))
}

// KillObjectType base 的类型失效
func (g *GlobOpt) KillObjectType(d *BlockData, base ir.SymID) {
	d.KillField(g.objTypeSym(base))
	g.recordFieldKill(ir.ObjTypeProperty)
}

// KillAllObjectTypes 全部对象类型失效，except 保留
func (g *GlobOpt) KillAllObjectTypes(d *BlockData, except ir.SymID) {
	for i, ok := d.liveFields.NextSet(0); ok; i, ok = d.liveFields.NextSet(i + 1) {
		s := ir.SymID(i)
		if s != except && g.isObjTypeSym(s) {
			d.KillField(s)
		}
	}
	g.recordFieldKill(ir.ObjTypeProperty)
}

// ValueNumberObjectType 复制对象变量：目标得到源的类型。defineSym 已经
// 去掉了目标原来的类型
func (g *GlobOpt) ValueNumberObjectType(dst, src ir.SymID) {
	if !g.enabled(config.FeatureObjTypeSpec) {
		return
	}
	if s, ok := g.objTypeIn(g.data, src); ok {
		g.setObjType(g.data, dst, s)
	}
}

// ============================================================================
// 属性访问
// ============================================================================

// profiledObjType 由 profile 得到访问的类型信息。读不存在的属性不特化
func (g *GlobOpt) profiledObjType(instr *ir.Instr, prop ir.PropertyID, store bool) *ir.ObjTypeSpec {
	p := instr.Profile
	if p == nil || p.Shape == nil {
		return nil
	}
	switch {
	case p.Shape.Has(prop):
		return &ir.ObjTypeSpec{Shape: p.Shape, Final: p.Shape}
	case store:
		return &ir.ObjTypeSpec{Shape: p.Shape, Final: p.Shape.With(prop)}
	}
	return nil
}

// OptObjTypeAccess 属性访问 o 的类型检查。类型已知时按已知类型特化，不再
// 检查；未知时先尝试把检查移到 landing pad，否则访问自带检查。访问之后
// 更新 base 的类型
func (g *GlobOpt) OptObjTypeAccess(instr *ir.Instr, o *ir.Opnd, store bool) {
	if !g.IsPrepass() {
		o.ObjType = nil
	}
	d := g.data
	if !g.enabled(config.FeatureObjTypeSpec) {
		if store {
			g.KillAllObjectTypes(d, ir.NoSym)
		}
		return
	}
	sym := g.fn.Syms.Get(o.Sym)
	base, prop := sym.Base, sym.PropertyID
	if bv := d.Value(base); bv != nil && bv.Info.Type().IsDefinite() && !bv.Info.Type().IsLikelyObject() {
		if store {
			g.KillAllObjectTypes(d, ir.NoSym)
		}
		return
	}
	spec := g.profiledObjType(instr, prop, store)
	cur, known := g.objTypeIn(d, base)
	switch {
	case known && (cur.Has(prop) || store):
		// 类型已经证明，不需要 profile
		spec = &ir.ObjTypeSpec{Shape: cur, Final: cur.With(prop), Checked: true}
		g.stats.TypeChecksRemoved++
	case known:
		spec = nil
	case spec != nil:
		if g.hoistObjTypeCheck(instr, base, spec.Shape) {
			spec.Checked = true
		} else if !g.IsPrepass() {
			g.SetTypeCheckBailOut(instr)
		}
	}
	if spec == nil {
		if store {
			// 可能给任意对象加属性
			g.KillAllObjectTypes(d, ir.NoSym)
		}
		return
	}
	if g.IsPrepass() {
		for _, ls := range g.prepassStack {
			if ls.loop.Contains(g.currentBlock.ID) {
				ls.objTypeUses = true
			}
		}
	} else {
		o.ObjType = spec
	}
	if spec.AddsProperty() {
		g.KillAllObjectTypes(d, g.objTypeSym(base))
	}
	g.setObjType(d, base, spec.Final)
}

// SetTypeCheckBailOut 访问自带类型检查，失败时退出
func (g *GlobOpt) SetTypeCheckBailOut(instr *ir.Instr) {
	g.addBailOut(instr, ir.BailOutFailedTypeCheck)
	g.stats.TypeChecks++
}

// optCheckObjType 已有的类型检查：类型已知且一致时删除
func (g *GlobOpt) optCheckObjType(instr *ir.Instr) {
	src := instr.Src1
	if !src.IsReg() || src.ObjType == nil {
		return
	}
	base := g.varSym(src.Sym)
	g.valueOf(src)
	if cur, ok := g.objTypeIn(g.data, base); ok && cur.Equal(src.ObjType.Shape) {
		if !g.IsPrepass() {
			g.currentBlock.Remove(instr)
			g.stats.TypeChecksRemoved++
		}
		return
	}
	if g.enabled(config.FeatureObjTypeSpec) {
		g.setObjType(g.data, base, src.ObjType.Shape)
	}
}

// ============================================================================
// 循环
// ============================================================================

// dominatesBackEdges 当前块是否支配循环的全部回边，即每次迭代都会执行
func (g *GlobOpt) dominatesBackEdges(ls *loopState) bool {
	for _, be := range ls.loop.BackEdges {
		if !g.fn.Dominates(g.currentBlock.ID, be) {
			return false
		}
	}
	return len(ls.loop.BackEdges) > 0
}

// EnsureDisableImplicitCallRegion 循环依赖 landing pad 上检查过的类型与字段：
// 循环内未特化的属性访问都带 OnImplicitCalls 保护，回调用户代码即退出
func (g *GlobOpt) EnsureDisableImplicitCallRegion(ls *loopState) {
	if ls.implicitCallsDisabled {
		return
	}
	ls.implicitCallsDisabled = true
	g.log.Debug("implicit calls disabled", zap.Int("loop", int(ls.loop.ID)))
}

// inImplicitCallRegion 当前块是否在禁止隐式调用的循环中
func (g *GlobOpt) inImplicitCallRegion() bool {
	for ls := g.loopOf(g.currentBlock); ls != nil; ls = g.parentLoop(ls) {
		if ls.implicitCallsDisabled {
			return true
		}
	}
	return false
}

// guardImplicitCalls 禁止隐式调用的循环中，未特化的属性访问附加保护
func (g *GlobOpt) guardImplicitCalls(instr *ir.Instr, o *ir.Opnd) {
	if g.IsPrepass() || o.ObjType != nil || !g.inImplicitCallRegion() {
		return
	}
	g.addBailOut(instr, ir.BailOutOnImplicitCalls)
}

// hoistObjTypeCheck 把不变对象的类型检查移到最外层可能的 landing pad。
// 从该循环到当前块的数据都得到 base 的类型
func (g *GlobOpt) hoistObjTypeCheck(instr *ir.Instr, base ir.SymID, shape ir.Shape) bool {
	if g.IsPrepass() || !g.enabled(config.FeatureFieldHoist) {
		return false
	}
	var chain []*loopState
	for ls := g.loopOf(g.currentBlock); ls != nil; ls = g.parentLoop(ls) {
		if ls.state != loopRealPass || ls.lpData == nil || !ls.implicitCallsDisabled {
			break
		}
		if ls.killsField(ir.ObjTypeProperty) || !g.OptIsInvariant(g.reg(base), ls) || !g.dominatesBackEdges(ls) {
			break
		}
		if cur, ok := g.objTypeIn(ls.lpData, base); ok && !cur.Equal(shape) {
			break
		}
		chain = append(chain, ls)
	}
	if len(chain) == 0 {
		return false
	}
	target := chain[len(chain)-1]
	if _, ok := g.objTypeIn(target.lpData, base); !ok {
		g.insertObjTypeCheck(target, base, shape, instr)
	}
	for _, ls := range chain {
		g.setObjType(ls.lpData, base, shape)
	}
	g.log.Debug("hoisted type check",
		zap.String("object", g.symName(base)),
		zap.Int("loop", int(target.loop.ID)))
	return true
}

// insertObjTypeCheck 在 ls 的 landing pad 末尾检查 base 的类型，失败时从循环头重新执行
func (g *GlobOpt) insertObjTypeCheck(ls *loopState, base ir.SymID, shape ir.Shape, like *ir.Instr) {
	pad := g.fn.Blocks[ls.loop.LandingPad]
	src := g.reg(base)
	src.ObjType = &ir.ObjTypeSpec{Shape: shape, Final: shape}
	chk := g.newInstr(ir.OpCheckObjType, nil, src, nil, like)
	pad.InsertBeforeTerminator(chk)
	g.addSharedBailOut(ls, chk, ir.BailOutFailedTypeCheck)
	g.stats.TypeCheckHoists++
}

// notePreloadCandidate 预扫描中读到循环入口处未知的字段，记为 PRE 候选
func (g *GlobOpt) notePreloadCandidate(ps ir.SymID, instr *ir.Instr) {
	sym := g.fn.Syms.Get(ps)
	spec := g.profiledObjType(instr, sym.PropertyID, false)
	if spec == nil {
		return
	}
	for _, ls := range g.prepassStack {
		if !ls.loop.Contains(g.currentBlock.ID) {
			continue
		}
		if _, ok := ls.preFields[ps]; !ok {
			ls.preFields[ps] = spec.Shape
		}
	}
}

// PreloadFields 字段 PRE：循环中读到、循环不改写的字段在 landing pad 上
// 先读一次。对象类型在 landing pad 上检查，读取本身不再检查；循环内的读取
// 之后由字段复制传播改为读临时变量
func (g *GlobOpt) PreloadFields(ls *loopState, lp *BlockData) {
	if len(ls.preFields) == 0 || !ls.implicitCallsDisabled {
		return
	}
	header := g.fn.Blocks[ls.loop.Header]
	like := header.First()
	if like == nil {
		return
	}
	pad := g.fn.Blocks[ls.loop.LandingPad]
	fields := make([]ir.SymID, 0, len(ls.preFields))
	for ps := range ls.preFields {
		fields = append(fields, ps)
	}
	sort.Slice(fields, func(a, b int) bool { return fields[a] < fields[b] })

	for _, ps := range fields {
		shape := ls.preFields[ps]
		sym := g.fn.Syms.Get(ps)
		base, prop := sym.Base, sym.PropertyID
		switch {
		case lp.IsFieldLive(ps), ls.killsField(prop), ls.killsField(ir.ObjTypeProperty):
			continue
		case ls.defs.Test(uint(base)), !g.isLiveIn(header, base), !lp.IsLiveVar(base), lp.Value(base) == nil:
			continue
		}
		if cur, ok := g.objTypeIn(lp, base); ok {
			if !cur.Has(prop) {
				continue
			}
			shape = cur
		} else {
			g.insertObjTypeCheck(ls, base, shape, like)
			g.setObjType(lp, base, shape)
		}
		t := g.newTemp()
		src := ir.PropertyOpnd(ps)
		src.ObjType = &ir.ObjTypeSpec{Shape: shape, Final: shape, Checked: true}
		ld := g.newInstr(ir.OpLdFld, g.reg(t), src, nil, like)
		pad.InsertBeforeTerminator(ld)
		v := g.NewValue(typeInfo(ir.Unknown).WithSymStore(t))
		lp.SetValue(t, v)
		lp.MakeLive(t, ir.ReprVar, false)
		lp.SetFieldValue(ps, v)
		g.stats.FieldPREs++
		g.log.Debug("field pre",
			zap.String("field", g.symName(ps)),
			zap.Int("loop", int(ls.loop.ID)))
	}
}

// checkedTypeIn 属性操作数的类型已检查，且在 d 中仍然成立
func (g *GlobOpt) checkedTypeIn(d *BlockData, o *ir.Opnd) bool {
	t := o.ObjType
	if t == nil || !t.Checked || t.AddsProperty() {
		return false
	}
	cur, ok := g.objTypeIn(d, g.fn.Syms.Get(o.Sym).Base)
	return ok && cur.Equal(t.Shape)
}
