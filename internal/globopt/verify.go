// verify.go - 调试检查
//
// 开启 Verify 时每个块结束检查块数据，优化结束检查整个函数的结构。
// 发现的问题汇总为一个错误返回。

package globopt

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/tangzhangming/globopt/internal/ir"
)

func (g *GlobOpt) invariantf(b ir.BlockID, i *ir.Instr, format string, args ...interface{}) {
	e := &InvariantError{Block: b, Msg: fmt.Sprintf(format, args...)}
	if i != nil {
		e.Instr = i.ID
	}
	g.verifyErrs = multierr.Append(g.verifyErrs, e)
}

// verifyBlock 块处理完时的块数据检查
func (g *GlobOpt) verifyBlock(b *ir.Block, d *BlockData) {
	if d == nil {
		return
	}
	for _, s := range d.Syms() {
		v := d.Value(s)
		if v == nil || v.Info == nil {
			g.invariantf(b.ID, nil, "%s has no value info", g.symName(s))
			continue
		}
		if c, ok := v.Info.IsIntConstant(); ok {
			if r, ok := v.Info.IntRange(); ok && (r.Lower != c || r.Upper != c) {
				g.invariantf(b.ID, nil, "%s constant %d with range %s", g.symName(s), c, r)
			}
		}
		if r, ok := v.Info.IntRange(); ok && r.Lower > r.Upper {
			g.invariantf(b.ID, nil, "%s empty range %s", g.symName(s), r)
		}
		if d.IsLiveLossyInt32(s) && !d.IsLiveInt32(s) {
			g.invariantf(b.ID, nil, "%s lossy int32 without int32 liveness", g.symName(s))
		}
		if d.IsSpecialized(s) && g.isProperty(s) {
			g.invariantf(b.ID, nil, "field %s live specialized", g.symName(s))
		}
	}
}

// verifyInstrs 块内指令的结构检查
func (g *GlobOpt) verifyInstrs(b *ir.Block) {
	for i := b.First(); i != nil; i = i.Next() {
		if i.Block != b.ID {
			g.invariantf(b.ID, i, "instr records block B%d", i.Block)
		}
		if i.Op.Has(ir.FlagTerminator) && i.Next() != nil {
			g.invariantf(b.ID, i, "%s is not last", i.Op)
		}
		for _, o := range []*ir.Opnd{i.Dst, i.Src1, i.Src2} {
			if o.IsReg() && g.fn.Syms.Get(o.Sym).Repr.Type() != o.Type {
				g.invariantf(b.ID, i, "operand %s type %s differs from its sym", g.symName(o.Sym), o.Type)
			}
		}
		switch {
		case i.Op == ir.OpCheckArray, i.Op == ir.OpBoundCheck, i.Op == ir.OpMemset, i.Op == ir.OpMemcopy,
			i.Op == ir.OpBailOut:
			if !i.HasBailOut() {
				g.invariantf(b.ID, i, "%s without bailout", i.Op)
			}
		case i.Op.Has(ir.FlagIntSpecialized):
			for _, o := range []*ir.Opnd{i.Dst, i.Src1, i.Src2} {
				if o != nil && o.Type != ir.TyInt32 && !o.IsIntConst() {
					g.invariantf(b.ID, i, "%s operand is not int32", i.Op)
				}
			}
		case i.Op.Has(ir.FlagFloatSpecialized):
			for _, o := range []*ir.Opnd{i.Dst, i.Src1, i.Src2} {
				if o != nil && o.Type != ir.TyFloat64 {
					g.invariantf(b.ID, i, "%s operand is not float64", i.Op)
				}
			}
		}
		if i.HasBailOut() && i.BailOut.Restore == nil {
			g.invariantf(b.ID, i, "bailout %s without restore point", i.BailOut.Kind)
		}
	}
}

// Verify 优化结束后检查函数结构，并返回遍历中累积的问题
func (g *GlobOpt) Verify() error {
	f := g.fn
	for _, b := range f.Blocks {
		if b.Deleted {
			continue
		}
		for _, s := range b.Succs {
			if f.Blocks[s].Deleted {
				g.invariantf(b.ID, nil, "edge to deleted block B%d", s)
			}
			if !containsBlock(f.Blocks[s].Preds, b.ID) {
				g.invariantf(b.ID, nil, "B%d does not list B%d as a predecessor", s, b.ID)
			}
		}
		t := b.Terminator()
		switch {
		case t == nil:
			if len(b.Succs) > 1 {
				g.invariantf(b.ID, nil, "fallthrough block has %d successors", len(b.Succs))
			}
		case t.Op.IsConditionalBranch():
			if !containsBlock(b.Succs, t.Target) {
				g.invariantf(b.ID, t, "branch target B%d is not a successor", t.Target)
			}
		case t.Op.IsBranch():
			if len(b.Succs) != 1 || b.Succs[0] != t.Target {
				g.invariantf(b.ID, t, "branch target B%d does not match successors", t.Target)
			}
		default:
			if len(b.Succs) != 0 {
				g.invariantf(b.ID, t, "%s block has successors", t.Op)
			}
		}
		g.verifyInstrs(b)
	}
	err := g.verifyErrs
	g.verifyErrs = nil
	return err
}

func containsBlock(s []ir.BlockID, id ir.BlockID) bool {
	for _, x := range s {
		if x == id {
			return true
		}
	}
	return false
}
