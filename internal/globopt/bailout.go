// bailout.go - 保护与恢复点
//
// 每个保护记录恢复执行所需的符号及其当前表示。块内保护的恢复点取指令
// 之前活跃的变量；外提到 landing pad 的保护共享循环的恢复点，从循环头
// 重新开始执行。

package globopt

import (
	"github.com/tangzhangming/globopt/internal/ir"
)

// restoreRepr 恢复时从哪种表示装箱：优先变量，其次无损 int32、float64、SIMD
func restoreRepr(d *BlockData, s ir.SymID) ir.Repr {
	switch {
	case d.IsLiveVar(s) || !d.IsLiveAny(s):
		return ir.ReprVar
	case d.IsLiveLosslessInt32(s):
		return ir.ReprInt32
	case d.IsLiveFloat64(s):
		return ir.ReprFloat64
	case d.IsLiveSimd(s, ir.ReprSimd128F4):
		return ir.ReprSimd128F4
	case d.IsLiveSimd(s, ir.ReprSimd128I4):
		return ir.ReprSimd128I4
	}
	return ir.ReprVar
}

// restorePoint 生成 instr 执行之前的恢复点。instr 必须已经插入块中
func (g *GlobOpt) restorePoint(instr *ir.Instr) *ir.RestorePoint {
	live := ir.LiveBefore(g.fn, instr)
	if g.byteCodeUsesAt == instr.ByteCodeOffset {
		for _, s := range g.byteCodeUses {
			live.Set(uint(s))
		}
	}
	rp := &ir.RestorePoint{ByteCodeOffset: instr.ByteCodeOffset, Loop: ir.NoLoop}
	for i, ok := live.NextSet(0); ok; i, ok = live.NextSet(i + 1) {
		s := ir.SymID(i)
		if g.isProperty(s) {
			continue
		}
		rp.Syms = append(rp.Syms, ir.RestoreSym{Sym: s, From: restoreRepr(g.data, s)})
	}
	return rp
}

// addBailOut 为指令附加保护原因；已有保护时合并原因
func (g *GlobOpt) addBailOut(instr *ir.Instr, kind ir.BailOutKind) {
	if kind == ir.BailOutInvalid {
		return
	}
	if instr.HasBailOut() {
		instr.BailOut.Add(kind)
		return
	}
	instr.BailOut = &ir.BailOutInfo{Kind: kind, Restore: g.restorePoint(instr)}
	g.stats.BailOuts++
}

// EnsureBailTarget 返回循环共享的恢复点，按需创建。
// 恢复点位于循环头，符号表示取 landing pad 出口处的状态
func (g *GlobOpt) EnsureBailTarget(ls *loopState) *ir.RestorePoint {
	if ls.bailTarget != nil {
		return ls.bailTarget
	}
	header := g.fn.Blocks[ls.loop.Header]
	rp := &ir.RestorePoint{Shared: true, Loop: ls.loop.ID}
	if f := header.First(); f != nil {
		rp.ByteCodeOffset = f.ByteCodeOffset
	}
	if header.Live != nil {
		live := header.Live.LiveIn
		for i, ok := live.NextSet(0); ok; i, ok = live.NextSet(i + 1) {
			s := ir.SymID(i)
			if g.isProperty(s) {
				continue
			}
			rp.Syms = append(rp.Syms, ir.RestoreSym{Sym: s, From: restoreRepr(ls.lpData, s)})
		}
	}
	ls.bailTarget = rp
	return rp
}

// addSharedBailOut 外提到 landing pad 的指令使用循环共享的恢复点
func (g *GlobOpt) addSharedBailOut(ls *loopState, instr *ir.Instr, kind ir.BailOutKind) {
	if kind == ir.BailOutInvalid {
		instr.BailOut = nil
		return
	}
	instr.BailOut = &ir.BailOutInfo{Kind: kind | ir.BailOutShared, Restore: g.EnsureBailTarget(ls)}
	g.stats.BailOuts++
}
