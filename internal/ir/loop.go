// loop.go - 支配树与循环结构
//
// 算法概述：
// 1. 按逆后序迭代计算直接支配者（Cooper, Harvey, Kennedy）
// 2. 目标块支配源块的边为回边，回边的自然循环构成循环体
// 3. 同一循环头的循环合并，按包含关系建立嵌套树
// 4. 为每个循环确保存在专用的 landing pad

package ir

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
)

// Loop 循环结构
type Loop struct {
	ID         LoopID
	Header     BlockID
	LandingPad BlockID
	Parent     LoopID
	Children   []LoopID
	Blocks     *bitset.BitSet
	BackEdges  []BlockID
	Depth      int
	// BlockList 循环内的块，按逆后序
	BlockList []BlockID
}

// Contains 块是否在循环内
func (l *Loop) Contains(b BlockID) bool {
	return b >= 0 && l.Blocks.Test(uint(b))
}

// RemoveBlock 从循环中去掉一个被删除的块，它所在的回边一并去掉
func (l *Loop) RemoveBlock(b BlockID) {
	l.Blocks.Clear(uint(b))
	for n, x := range l.BlockList {
		if x == b {
			l.BlockList = append(l.BlockList[:n:n], l.BlockList[n+1:]...)
			break
		}
	}
	for n, x := range l.BackEdges {
		if x == b {
			l.BackEdges = append(l.BackEdges[:n:n], l.BackEdges[n+1:]...)
			break
		}
	}
}

// IsBackEdge from->Header 是否为该循环的回边
func (l *Loop) IsBackEdge(from BlockID) bool {
	for _, b := range l.BackEdges {
		if b == from {
			return true
		}
	}
	return false
}

// IsAncestorOf 判断 l 是否为 other 或其祖先
func (f *Func) IsAncestorOf(l, other LoopID) bool {
	for other != NoLoop {
		if other == l {
			return true
		}
		other = f.Loops[other].Parent
	}
	return false
}

// ============================================================================
// 支配树
// ============================================================================

// ComputeDominators 计算直接支配者
func (f *Func) ComputeDominators() {
	order := f.RPO()
	f.rpoIndex = make([]int, len(f.Blocks))
	for i := range f.rpoIndex {
		f.rpoIndex[i] = -1
	}
	for n, b := range order {
		f.rpoIndex[b] = n
	}
	f.idom = make([]BlockID, len(f.Blocks))
	for i := range f.idom {
		f.idom[i] = NoBlock
	}
	if len(order) == 0 {
		return
	}
	f.idom[f.Entry] = f.Entry

	intersect := func(a, b BlockID) BlockID {
		for a != b {
			for f.rpoIndex[a] > f.rpoIndex[b] {
				a = f.idom[a]
			}
			for f.rpoIndex[b] > f.rpoIndex[a] {
				b = f.idom[b]
			}
		}
		return a
	}

	for changed := true; changed; {
		changed = false
		for _, b := range order[1:] {
			newIdom := NoBlock
			for _, p := range f.Blocks[b].Preds {
				if f.rpoIndex[p] < 0 || f.idom[p] == NoBlock {
					continue
				}
				if newIdom == NoBlock {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if newIdom != NoBlock && f.idom[b] != newIdom {
				f.idom[b] = newIdom
				changed = true
			}
		}
	}
}

// IDom 返回直接支配者
func (f *Func) IDom(b BlockID) BlockID {
	if f.idom == nil || int(b) >= len(f.idom) {
		return NoBlock
	}
	return f.idom[b]
}

// Dominates 判断 a 是否支配 b
func (f *Func) Dominates(a, b BlockID) bool {
	if f.idom == nil {
		f.ComputeDominators()
	}
	if int(b) >= len(f.idom) || int(a) >= len(f.idom) {
		return false
	}
	for {
		if a == b {
			return true
		}
		if b == f.Entry || f.idom[b] == NoBlock {
			return false
		}
		b = f.idom[b]
	}
}

// ============================================================================
// 循环分析
// ============================================================================

// AnalyzeLoops 识别自然循环、建立嵌套关系并插入 landing pad
func (f *Func) AnalyzeLoops() {
	f.ComputeDominators()
	f.Loops = nil
	for _, b := range f.Blocks {
		b.Loop = NoLoop
		b.IsLoopHeader = false
	}

	headers := make(map[BlockID]*Loop)
	var headerOrder []BlockID
	for _, id := range f.RPO() {
		for _, s := range f.Blocks[id].Succs {
			if !f.Dominates(s, id) {
				continue
			}
			l, ok := headers[s]
			if !ok {
				l = &Loop{Header: s, Parent: NoLoop, LandingPad: NoBlock,
					Blocks: bitset.New(uint(len(f.Blocks)))}
				headers[s] = l
				headerOrder = append(headerOrder, s)
			}
			l.BackEdges = append(l.BackEdges, id)
			f.collectLoopBody(l, id)
		}
	}
	if len(headers) == 0 {
		return
	}

	loops := make([]*Loop, 0, len(headers))
	for _, h := range headerOrder {
		loops = append(loops, headers[h])
	}
	// 外层循环先于内层循环
	sort.SliceStable(loops, func(i, j int) bool {
		return loops[i].Blocks.Count() > loops[j].Blocks.Count()
	})
	for n, l := range loops {
		l.ID = LoopID(n)
		f.Blocks[l.Header].IsLoopHeader = true
	}
	f.Loops = loops
	for _, l := range loops {
		// 最小的包含者即父循环
		for p := len(loops) - 1; p >= 0; p-- {
			outer := loops[p]
			if outer == l || outer.Blocks.Count() <= l.Blocks.Count() {
				continue
			}
			if outer.Blocks.IsSuperSet(l.Blocks) {
				l.Parent = outer.ID
				outer.Children = append(outer.Children, l.ID)
				break
			}
		}
	}
	for _, l := range loops {
		for p := l.Parent; p != NoLoop; p = loops[p].Parent {
			l.Depth++
		}
	}
	for _, l := range loops {
		f.ensureLandingPad(l)
	}
	f.assignInnermostLoops()
	f.ComputeDominators()
	order := f.RPO()
	for _, l := range loops {
		l.BlockList = l.BlockList[:0]
		for _, b := range order {
			if l.Contains(b) {
				l.BlockList = append(l.BlockList, b)
			}
		}
	}
}

func (f *Func) collectLoopBody(l *Loop, tail BlockID) {
	l.Blocks.Set(uint(l.Header))
	stack := []BlockID{tail}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if l.Blocks.Test(uint(b)) {
			continue
		}
		l.Blocks.Set(uint(b))
		stack = append(stack, f.Blocks[b].Preds...)
	}
}

func (f *Func) assignInnermostLoops() {
	for _, b := range f.Blocks {
		b.Loop = NoLoop
		depth := -1
		for _, l := range f.Loops {
			if l.Contains(b.ID) && l.Depth > depth {
				b.Loop, depth = l.ID, l.Depth
			}
		}
	}
}

// ensureLandingPad 确保循环头只有一个循环外前驱，且该前驱只跳向循环头
func (f *Func) ensureLandingPad(l *Loop) {
	header := f.Blocks[l.Header]
	var outside []BlockID
	for _, p := range header.Preds {
		if !l.Contains(p) {
			outside = append(outside, p)
		}
	}
	if len(outside) == 1 {
		p := f.Blocks[outside[0]]
		if len(p.Succs) == 1 && !p.IsLoopHeader && !p.IsLandingPad {
			p.IsLandingPad = true
			l.LandingPad = p.ID
			return
		}
	}
	pad := f.NewBlock()
	pad.IsLandingPad = true
	for _, p := range outside {
		f.RetargetEdge(p, l.Header, pad.ID)
	}
	f.AddEdge(pad.ID, l.Header)
	br := f.NewInstr(OpBr, nil, nil, nil)
	br.Target = l.Header
	pad.Append(br)
	for p := l.Parent; p != NoLoop; p = f.Loops[p].Parent {
		f.Loops[p].Blocks.Set(uint(pad.ID))
	}
	l.LandingPad = pad.ID
	// 入口块作为循环头时，landing pad 成为新的入口
	if f.Entry == l.Header {
		f.Entry = pad.ID
	}
}

// LoopOf 返回块所在的最内层循环
func (f *Func) LoopOf(b BlockID) *Loop {
	return f.Loop(f.Blocks[b].Loop)
}
