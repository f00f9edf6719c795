// fields.go - 属性值编号
//
// 属性符号 (base, prop) 与变量一样参与值编号。写属性使同名属性全部失效
// （不同的 base 可能是同一个对象），调用使全部属性失效，未逃逸的新建
// 对象除外。访问的类型检查见 objtype.go。

package globopt

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// SetFieldValue 属性符号得到值 v
func (d *BlockData) SetFieldValue(s ir.SymID, v *Value) {
	d.symToValue[s] = v
	d.liveFields.Set(bit(s))
}

// fieldValue 属性符号当前的值；失效或第一次读取时分配新编号
func (g *GlobOpt) fieldValue(ps ir.SymID) *Value {
	d := g.data
	if d.IsFieldLive(ps) {
		if v := d.Value(ps); v != nil {
			return v
		}
	}
	v := g.NewValue(typeInfo(ir.Unknown).WithSymStore(ps))
	d.SetFieldValue(ps, v)
	return v
}

// killFieldsByProp 写属性 prop：所有 base 上的同名属性失效
func (g *GlobOpt) killFieldsByProp(prop ir.PropertyID, except ir.SymID) {
	d := g.data
	for _, s := range g.fn.Syms.PropertySymsByID(prop) {
		if s != except {
			d.KillField(s)
		}
	}
	g.recordFieldKill(prop)
}

// optLdFld 读属性：属性值已知时结果与它共享编号，可能时改为复制
func (g *GlobOpt) optLdFld(instr *ir.Instr) {
	ps := instr.Src1.Sym
	sym := g.fn.Syms.Get(ps)
	d := g.data
	base := g.valueOf(g.reg(sym.Base))
	dst := g.varSym(instr.Dst.Sym)

	if v := d.Value(ps); v != nil && d.IsFieldLive(ps) {
		if !g.IsPrepass() && g.enabled(config.FeatureFieldCopyProp) {
			if holder := g.symHolding(d, v.Number, ir.ReprVar); holder != ir.NoSym {
				instr.Op = ir.OpLd
				instr.Src1 = g.reg(holder)
				g.stats.FieldCopyProps++
				g.log.Debug("field copy-prop",
					zap.String("field", g.symName(ps)),
					zap.String("from", g.symName(holder)))
				g.optLd(instr)
				return
			}
		}
		g.OptObjTypeAccess(instr, instr.Src1, false)
		g.guardImplicitCalls(instr, instr.Src1)
		g.setDst(instr, v, ir.ReprVar)
		if sym.Base != dst {
			d.SetFieldValue(ps, v)
		}
		return
	}

	if g.IsPrepass() {
		g.notePreloadCandidate(ps, instr)
	}
	g.OptObjTypeAccess(instr, instr.Src1, false)
	g.guardImplicitCalls(instr, instr.Src1)
	info := g.profileInfo(instr)
	if base != nil && !base.Info.Type().IsLikelyObject() && base.Info.Type().IsDefinite() {
		// 原始值上读属性
		info = typeInfo(ir.Unknown)
	}
	v := g.NewValue(info)
	g.setDst(instr, v, ir.ReprVar)
	if sym.Base != dst {
		d.SetFieldValue(ps, v)
	}
}

// optStFld 写属性：同名属性失效，被写的属性得到写入的值
func (g *GlobOpt) optStFld(instr *ir.Instr) {
	ps := instr.Dst.Sym
	sym := g.fn.Syms.Get(ps)
	g.valueOf(g.reg(sym.Base))
	v := g.valueOf(instr.Src1)
	src := g.ToVar(instr, instr.Src1)
	if !g.IsPrepass() {
		instr.Src1 = src
	}
	g.OptObjTypeAccess(instr, instr.Dst, true)
	g.guardImplicitCalls(instr, instr.Dst)
	d := g.data
	g.killFieldsByProp(sym.PropertyID, ps)
	if v == nil {
		d.KillField(ps)
		return
	}
	d.SetFieldValue(ps, v)
}

// optDeleteFld 删除属性
func (g *GlobOpt) optDeleteFld(instr *ir.Instr) {
	sym := g.fn.Syms.Get(instr.Src1.Sym)
	g.valueOf(g.reg(sym.Base))
	g.guardImplicitCalls(instr, instr.Src1)
	g.killFieldsByProp(sym.PropertyID, ir.NoSym)
	g.KillAllObjectTypes(g.data, ir.NoSym)
}

// fieldInvariantIn 属性在循环中不会被改写
func (g *GlobOpt) fieldInvariantIn(ps ir.SymID, ls *loopState) bool {
	sym := g.fn.Syms.Get(ps)
	if sym == nil || !g.enabled(config.FeatureFieldHoist) {
		return false
	}
	return !ls.killsField(sym.PropertyID) && g.OptIsInvariant(g.reg(sym.Base), ls)
}
