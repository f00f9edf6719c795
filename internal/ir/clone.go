// clone.go - 函数深拷贝
//
// 重新编译时需要从未经修改的输入重新开始，因此驱动器在每次尝试前
// 拷贝一份函数。

package ir

// Clone 深拷贝函数（指令、块、循环、符号表）
func (f *Func) Clone() *Func {
	c := &Func{
		Name:      f.Name,
		Syms:      f.Syms.Clone(),
		Entry:     f.Entry,
		Params:    append([]SymID(nil), f.Params...),
		nextInstr: f.nextInstr,
	}
	restores := make(map[*RestorePoint]*RestorePoint)
	for _, b := range f.Blocks {
		nb := &Block{
			ID:           b.ID,
			Preds:        append([]BlockID(nil), b.Preds...),
			Succs:        append([]BlockID(nil), b.Succs...),
			Loop:         b.Loop,
			IsLoopHeader: b.IsLoopHeader,
			IsLandingPad: b.IsLandingPad,
			Deleted:      b.Deleted,
		}
		if b.Live != nil {
			nb.Live = &LiveInfo{
				LiveIn:              b.Live.LiveIn.Clone(),
				LiveOut:             b.Live.LiveOut.Clone(),
				UpwardExposedFields: b.Live.UpwardExposedFields.Clone(),
				Defs:                b.Live.Defs.Clone(),
			}
		}
		for i := b.first; i != nil; i = i.next {
			nb.Append(i.clone(restores))
		}
		c.Blocks = append(c.Blocks, nb)
	}
	for _, l := range f.Loops {
		c.Loops = append(c.Loops, &Loop{
			ID:         l.ID,
			Header:     l.Header,
			LandingPad: l.LandingPad,
			Parent:     l.Parent,
			Children:   append([]LoopID(nil), l.Children...),
			Blocks:     l.Blocks.Clone(),
			BackEdges:  append([]BlockID(nil), l.BackEdges...),
			Depth:      l.Depth,
			BlockList:  append([]BlockID(nil), l.BlockList...),
		})
	}
	if f.idom != nil {
		c.idom = append([]BlockID(nil), f.idom...)
		c.rpoIndex = append([]int(nil), f.rpoIndex...)
	}
	return c
}

func (i *Instr) clone(restores map[*RestorePoint]*RestorePoint) *Instr {
	c := &Instr{
		ID:                 i.ID,
		Op:                 i.Op,
		Dst:                i.Dst.Copy(),
		Src1:               i.Src1.Copy(),
		Src2:               i.Src2.Copy(),
		Target:             i.Target,
		Offset:             i.Offset,
		ByteCodeOffset:     i.ByteCodeOffset,
		IgnoreIntOverflow:  i.IgnoreIntOverflow,
		IgnoreNegativeZero: i.IgnoreNegativeZero,
		ByteCodeUses:       append([]SymID(nil), i.ByteCodeUses...),
	}
	for _, a := range i.Args {
		c.Args = append(c.Args, a.Copy())
	}
	if i.Profile != nil {
		p := *i.Profile
		c.Profile = &p
	}
	if i.BailOut != nil {
		c.BailOut = &BailOutInfo{Kind: i.BailOut.Kind}
		if r := i.BailOut.Restore; r != nil {
			nr, ok := restores[r]
			if !ok {
				nr = &RestorePoint{
					ByteCodeOffset: r.ByteCodeOffset,
					Syms:           append([]RestoreSym(nil), r.Syms...),
					Shared:         r.Shared,
					Loop:           r.Loop,
				}
				restores[r] = nr
			}
			c.BailOut.Restore = nr
		}
	}
	return c
}

// CloneInstr 复制一条指令并分配新编号，用于尾复制；恢复点与原指令共享
func (f *Func) CloneInstr(i *Instr) *Instr {
	c := i.clone(make(map[*RestorePoint]*RestorePoint))
	if i.BailOut != nil {
		c.BailOut.Restore = i.BailOut.Restore
	}
	f.nextInstr++
	c.ID = f.nextInstr
	c.Block = NoBlock
	return c
}
