// deadstore.go - 死存储删除
//
// 前向优化之后的反向清理：结果不再被使用的纯计算直接删除。恢复点
// 引用的符号一律视为活跃。

package jit

import (
	"context"

	"github.com/bits-and-blooms/bitset"

	"github.com/tangzhangming/globopt/internal/ir"
)

// DeadStorePass 删除结果无用的纯指令
type DeadStorePass struct{}

func (DeadStorePass) Name() string { return "deadstore" }

func (DeadStorePass) Run(_ context.Context, u *Unit) error {
	f := u.Func
	ir.ComputeLiveness(f)
	pinned := restoredSyms(f)
	for _, id := range f.RPO() {
		b := f.Blocks[id]
		if b.Live == nil {
			continue
		}
		live := b.Live.LiveOut.Clone()
		for i := b.Last(); i != nil; {
			prev := i.Prev()
			d := i.DstSym()
			if d != ir.NoSym && removable(i) {
				v := uint(f.Syms.VarSym(d))
				if !live.Test(v) && !pinned.Test(v) {
					b.Remove(i)
					u.DeadStores++
					i = prev
					continue
				}
			}
			if d != ir.NoSym {
				live.Clear(uint(f.Syms.VarSym(d)))
			}
			for _, s := range i.UsedSyms(f.Syms) {
				live.Set(uint(f.Syms.VarSym(s)))
			}
			i = prev
		}
	}
	return nil
}

// removable 无副作用、不会调用用户代码、没有保护的指令
func removable(i *ir.Instr) bool {
	op := i.Op
	if !op.Has(ir.FlagPure) || op.Has(ir.FlagImplicitCalls) || op.HasSideEffects() || op.IsBranch() {
		return false
	}
	return !i.HasBailOut() && i.Dst.IsReg()
}

// restoredSyms 所有恢复点引用的变量符号
func restoredSyms(f *ir.Func) *bitset.BitSet {
	s := bitset.New(uint(f.Syms.Len()))
	for _, b := range f.Blocks {
		if b.Deleted {
			continue
		}
		for i := b.First(); i != nil; i = i.Next() {
			if i.BailOut == nil || i.BailOut.Restore == nil {
				continue
			}
			for _, r := range i.BailOut.Restore.Syms {
				s.Set(uint(f.Syms.VarSym(r.Sym)))
			}
		}
	}
	return s
}
