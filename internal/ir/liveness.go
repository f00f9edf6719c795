// liveness.go - 反向活跃分析
//
// 前向优化只读取这里的结果：块的 LiveIn/LiveOut 与向上暴露的属性。
// 影子符号一律折算为其变量符号。

package ir

import "github.com/bits-and-blooms/bitset"

// ComputeLiveness 计算所有块的活跃信息
func ComputeLiveness(f *Func) {
	n := uint(f.Syms.Len())
	order := f.RPO()
	ue := make(map[BlockID]*bitset.BitSet, len(order))
	ueFields := make(map[BlockID]*bitset.BitSet, len(order))
	fieldKillAll := make(map[BlockID]bool, len(order))
	fieldDefs := make(map[BlockID]*bitset.BitSet, len(order))
	for _, id := range order {
		b := f.Blocks[id]
		defs, uses := bitset.New(n), bitset.New(n)
		fdefs, fuses := bitset.New(n), bitset.New(n)
		killAll := false
		for i := b.first; i != nil; i = i.next {
			for _, s := range i.UsedSyms(f.Syms) {
				v := uint(f.Syms.VarSym(s))
				if !defs.Test(v) {
					uses.Set(v)
				}
			}
			if i.Op == OpLdFld && i.Src1.IsProperty() {
				ps := uint(i.Src1.Sym)
				if !fdefs.Test(ps) && !killAll {
					fuses.Set(ps)
				}
			}
			if i.Op == OpStFld && i.Dst.IsProperty() {
				fdefs.Set(uint(i.Dst.Sym))
			}
			if i.Op.Has(FlagCallsUserCode) {
				killAll = true
			}
			if d := i.DstSym(); d != NoSym {
				defs.Set(uint(f.Syms.VarSym(d)))
			}
		}
		ue[id], ueFields[id], fieldDefs[id], fieldKillAll[id] = uses, fuses, fdefs, killAll
		b.Live = &LiveInfo{
			LiveIn:              uses.Clone(),
			LiveOut:             bitset.New(n),
			UpwardExposedFields: fuses.Clone(),
			Defs:                defs,
		}
	}

	for changed := true; changed; {
		changed = false
		for k := len(order) - 1; k >= 0; k-- {
			b := f.Blocks[order[k]]
			out, fout := bitset.New(n), bitset.New(n)
			for _, s := range b.Succs {
				if sb := f.Blocks[s]; sb.Live != nil {
					out.InPlaceUnion(sb.Live.LiveIn)
					fout.InPlaceUnion(sb.Live.UpwardExposedFields)
				}
			}
			in := out.Difference(b.Live.Defs)
			in.InPlaceUnion(ue[b.ID])
			fin := ueFields[b.ID].Clone()
			if !fieldKillAll[b.ID] {
				fin.InPlaceUnion(fout.Difference(fieldDefs[b.ID]))
			}
			if !in.Equal(b.Live.LiveIn) || !out.Equal(b.Live.LiveOut) || !fin.Equal(b.Live.UpwardExposedFields) {
				changed = true
			}
			b.Live.LiveIn, b.Live.LiveOut, b.Live.UpwardExposedFields = in, out, fin
		}
	}
}

// LiveAfter 返回紧随指令之后活跃的变量符号
func LiveAfter(f *Func, instr *Instr) *bitset.BitSet {
	b := f.Blocks[instr.Block]
	var live *bitset.BitSet
	if b.Live != nil && b.Live.LiveOut != nil {
		live = b.Live.LiveOut.Clone()
	} else {
		live = bitset.New(uint(f.Syms.Len()))
	}
	for i := b.last; i != nil && i != instr; i = i.prev {
		if d := i.DstSym(); d != NoSym {
			live.Clear(uint(f.Syms.VarSym(d)))
		}
		for _, s := range i.UsedSyms(f.Syms) {
			live.Set(uint(f.Syms.VarSym(s)))
		}
	}
	return live
}

// LiveBefore 返回指令执行前活跃的变量符号
func LiveBefore(f *Func, instr *Instr) *bitset.BitSet {
	live := LiveAfter(f, instr)
	if d := instr.DstSym(); d != NoSym {
		live.Clear(uint(f.Syms.VarSym(d)))
	}
	for _, s := range instr.UsedSyms(f.Syms) {
		live.Set(uint(f.Syms.VarSym(s)))
	}
	return live
}
