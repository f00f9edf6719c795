// taildup.go - 尾复制
//
// 优化结束后，多个前驱无条件跳到同一个很短的块时，把这个块复制到各个
// 前驱末尾，省去跳转。块通常以返回结束，或是循环体里几条路径共用的
// 回边块（i++; Br header）；后者复制后每个前驱各自成为回边。

package globopt

import (
	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/tangzhangming/globopt/internal/ir"
)

// tailDupMaxInstrs 可以复制的块的最大指令数（含末尾控制转移）
const tailDupMaxInstrs = 4

// TailDupPass 对所有合适的尾块做复制
func (g *GlobOpt) TailDupPass() {
	f := g.fn
	work := mapset.NewThreadUnsafeSet[ir.BlockID]()
	for _, b := range f.Blocks {
		if g.canTailDup(b) {
			work.Add(b.ID)
		}
	}
	for _, id := range f.RPO() {
		if !work.Contains(id) {
			continue
		}
		b := f.Blocks[id]
		if g.TryTailDup(b) {
			g.log.Debug("tail dup", zap.Int("block", int(id)))
		}
	}
}

// canTailDup 块足够短，不是循环头或 landing pad，至少有两个前驱。
// 跳到循环头的块必须是该循环的回边
func (g *GlobOpt) canTailDup(b *ir.Block) bool {
	if b.Deleted || b.ID == g.fn.Entry || b.IsLoopHeader || b.IsLandingPad {
		return false
	}
	if b.Len() > tailDupMaxInstrs || len(b.Preds) < 2 || len(b.Succs) > 1 {
		return false
	}
	if t := b.Terminator(); t != nil && t.Op.IsConditionalBranch() {
		return false
	}
	for _, s := range b.Succs {
		if l := g.headerLoop(s); l != nil && !l.IsBackEdge(b.ID) {
			return false
		}
	}
	return true
}

// headerLoop s 是循环头时返回该循环
func (g *GlobOpt) headerLoop(s ir.BlockID) *ir.Loop {
	hb := g.fn.Blocks[s]
	if !hb.IsLoopHeader {
		return nil
	}
	if l := g.fn.Loop(hb.Loop); l != nil && l.Header == s {
		return l
	}
	return nil
}

// TryTailDup 把 b 复制到每个以无条件跳转进入它的同循环前驱中。
// b 是回边时前驱接替它成为回边，b 删除后从循环中去掉
func (g *GlobOpt) TryTailDup(b *ir.Block) bool {
	f := g.fn
	done := false
	for _, pid := range append([]ir.BlockID(nil), b.Preds...) {
		p := f.Blocks[pid]
		if pid == b.ID || p.Loop != b.Loop || len(p.Succs) != 1 {
			continue
		}
		t := p.Terminator()
		switch {
		case t == nil:
		case t.Op == ir.OpBr && t.Target == b.ID:
			p.Remove(t)
		default:
			continue
		}
		for i := b.First(); i != nil; i = i.Next() {
			p.Append(f.CloneInstr(i))
		}
		f.RemoveEdge(pid, b.ID)
		for _, s := range b.Succs {
			f.AddEdge(pid, s)
			if l := g.headerLoop(s); l != nil && !l.IsBackEdge(pid) {
				l.BackEdges = append(l.BackEdges, pid)
			}
		}
		g.stats.TailDups++
		done = true
	}
	if len(b.Preds) == 0 {
		for _, s := range append([]ir.BlockID(nil), b.Succs...) {
			f.RemoveEdge(b.ID, s)
		}
		b.Deleted = true
		for l := f.Loop(b.Loop); l != nil; l = f.Loop(l.Parent) {
			l.RemoveBlock(b.ID)
		}
	}
	return done
}
