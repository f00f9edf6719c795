// func.go - 函数与基本块

package ir

import (
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// BlockID 基本块句柄
type BlockID int32

// NoBlock 空块
const NoBlock BlockID = -1

// LoopID 循环句柄
type LoopID int32

// NoLoop 不在任何循环中
const NoLoop LoopID = -1

// LiveInfo 反向活跃分析的结果，前向优化只读
type LiveInfo struct {
	// LiveIn 块入口处向上暴露的变量符号
	LiveIn *bitset.BitSet
	// LiveOut 块出口处活跃的变量符号
	LiveOut *bitset.BitSet
	// UpwardExposedFields 块入口处向上暴露的属性符号
	UpwardExposedFields *bitset.BitSet
	// Defs 块内被定义的变量符号
	Defs *bitset.BitSet
}

// Block 基本块
type Block struct {
	ID    BlockID
	Preds []BlockID
	Succs []BlockID
	Loop  LoopID

	IsLoopHeader bool
	IsLandingPad bool
	Deleted      bool

	Live *LiveInfo

	first, last *Instr
	count       int
}

// First 第一条指令
func (b *Block) First() *Instr { return b.first }

// Last 最后一条指令
func (b *Block) Last() *Instr { return b.last }

// Len 指令条数
func (b *Block) Len() int { return b.count }

// Instrs 返回指令快照
func (b *Block) Instrs() []*Instr {
	out := make([]*Instr, 0, b.count)
	for i := b.first; i != nil; i = i.next {
		out = append(out, i)
	}
	return out
}

// Append 追加指令
func (b *Block) Append(i *Instr) {
	i.Block = b.ID
	i.prev, i.next = b.last, nil
	if b.last != nil {
		b.last.next = i
	} else {
		b.first = i
	}
	b.last = i
	b.count++
}

// InsertBefore 在 ref 之前插入 i；ref 为 nil 时追加
func (b *Block) InsertBefore(ref, i *Instr) {
	if ref == nil {
		b.Append(i)
		return
	}
	i.Block = b.ID
	i.next = ref
	i.prev = ref.prev
	if ref.prev != nil {
		ref.prev.next = i
	} else {
		b.first = i
	}
	ref.prev = i
	b.count++
}

// InsertAfter 在 ref 之后插入 i；ref 为 nil 时插到块首
func (b *Block) InsertAfter(ref, i *Instr) {
	if ref == nil {
		if b.first == nil {
			b.Append(i)
			return
		}
		b.InsertBefore(b.first, i)
		return
	}
	if ref.next == nil {
		b.Append(i)
		return
	}
	b.InsertBefore(ref.next, i)
}

// Remove 移除指令
func (b *Block) Remove(i *Instr) {
	if i.prev != nil {
		i.prev.next = i.next
	} else {
		b.first = i.next
	}
	if i.next != nil {
		i.next.prev = i.prev
	} else {
		b.last = i.prev
	}
	i.prev, i.next = nil, nil
	b.count--
}

// Terminator 返回块尾的分支、返回或 bailout 指令
func (b *Block) Terminator() *Instr {
	if b.last != nil && b.last.Op.Has(FlagTerminator) {
		return b.last
	}
	return nil
}

// InsertBeforeTerminator 在块尾控制转移指令之前插入
func (b *Block) InsertBeforeTerminator(i *Instr) {
	b.InsertBefore(b.Terminator(), i)
}

// Fallthrough 返回顺序执行的后继
func (b *Block) Fallthrough() BlockID {
	t := b.Terminator()
	if t != nil && !t.Op.IsConditionalBranch() {
		return NoBlock
	}
	for _, s := range b.Succs {
		if t == nil || s != t.Target {
			return s
		}
	}
	if len(b.Succs) > 0 {
		return b.Succs[0]
	}
	return NoBlock
}

// Func IR 函数
type Func struct {
	Name   string
	Syms   *SymTable
	Blocks []*Block
	Loops  []*Loop
	Entry  BlockID
	Params []SymID

	nextInstr InstrID
	idom      []BlockID
	rpoIndex  []int
}

// NewFunc 创建函数
func NewFunc(name string) *Func {
	return &Func{Name: name, Syms: NewSymTable(), Entry: NoBlock}
}

// NewBlock 创建基本块
func (f *Func) NewBlock() *Block {
	b := &Block{ID: BlockID(len(f.Blocks)), Loop: NoLoop}
	f.Blocks = append(f.Blocks, b)
	if f.Entry == NoBlock {
		f.Entry = b.ID
	}
	return b
}

// Block 按句柄取块
func (f *Func) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(f.Blocks) {
		return nil
	}
	return f.Blocks[id]
}

// Loop 按句柄取循环
func (f *Func) Loop(id LoopID) *Loop {
	if id < 0 || int(id) >= len(f.Loops) {
		return nil
	}
	return f.Loops[id]
}

// NewInstr 创建指令（未插入任何块）
func (f *Func) NewInstr(op Opcode, dst, src1, src2 *Opnd) *Instr {
	f.nextInstr++
	return &Instr{ID: f.nextInstr, Op: op, Dst: dst, Src1: src1, Src2: src2, Target: NoBlock, Block: NoBlock}
}

// Reg 以符号创建寄存器操作数
func (f *Func) Reg(id SymID) *Opnd {
	return RegOpnd(f.Syms.Get(id))
}

// AddEdge 添加控制流边
func (f *Func) AddEdge(from, to BlockID) {
	fb, tb := f.Blocks[from], f.Blocks[to]
	fb.Succs = append(fb.Succs, to)
	tb.Preds = append(tb.Preds, from)
}

// RemoveEdge 删除一条控制流边
func (f *Func) RemoveEdge(from, to BlockID) {
	fb, tb := f.Blocks[from], f.Blocks[to]
	fb.Succs = removeOne(fb.Succs, to)
	tb.Preds = removeOne(tb.Preds, from)
}

// RetargetEdge 将 from->old 的边改为 from->to，同时修正分支目标
func (f *Func) RetargetEdge(from, old, to BlockID) {
	fb := f.Blocks[from]
	for n, s := range fb.Succs {
		if s == old {
			fb.Succs[n] = to
			break
		}
	}
	f.Blocks[old].Preds = removeOne(f.Blocks[old].Preds, from)
	f.Blocks[to].Preds = append(f.Blocks[to].Preds, from)
	if t := fb.Terminator(); t != nil && t.Op.IsBranch() && t.Target == old {
		t.Target = to
	}
}

func removeOne(s []BlockID, v BlockID) []BlockID {
	for n, x := range s {
		if x == v {
			return append(s[:n:n], s[n+1:]...)
		}
	}
	return s
}

// RPO 返回从入口可达块的逆后序
func (f *Func) RPO() []BlockID {
	visited := make([]bool, len(f.Blocks))
	post := make([]BlockID, 0, len(f.Blocks))
	type frame struct {
		b BlockID
		n int
	}
	if f.Entry == NoBlock {
		return nil
	}
	stack := []frame{{f.Entry, 0}}
	visited[f.Entry] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := f.Blocks[top.b].Succs
		if top.n < len(succs) {
			s := succs[top.n]
			top.n++
			if !visited[s] && !f.Blocks[s].Deleted {
				visited[s] = true
				stack = append(stack, frame{s, 0})
			}
			continue
		}
		post = append(post, top.b)
		stack = stack[:len(stack)-1]
	}
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// RemoveUnreachable 删除不可达块，返回删除数量
func (f *Func) RemoveUnreachable() int {
	reach := bitset.New(uint(len(f.Blocks)))
	for _, b := range f.RPO() {
		reach.Set(uint(b))
	}
	removed := 0
	for _, b := range f.Blocks {
		if b.Deleted || reach.Test(uint(b.ID)) {
			continue
		}
		for _, s := range append([]BlockID(nil), b.Succs...) {
			f.RemoveEdge(b.ID, s)
		}
		b.Deleted = true
		removed++
	}
	return removed
}

// InstrCount 返回指令总数
func (f *Func) InstrCount() int {
	n := 0
	for _, b := range f.Blocks {
		if !b.Deleted {
			n += b.count
		}
	}
	return n
}

// String 打印函数
func (f *Func) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s\n", f.Name)
	for _, id := range f.RPO() {
		b := f.Blocks[id]
		fmt.Fprintf(&sb, "B%d", b.ID)
		if b.IsLoopHeader {
			sb.WriteString(" (loop header)")
		}
		if b.IsLandingPad {
			sb.WriteString(" (landing pad)")
		}
		fmt.Fprintf(&sb, " preds=%v succs=%v\n", b.Preds, b.Succs)
		for i := b.first; i != nil; i = i.next {
			sb.WriteString("  ")
			sb.WriteString(i.Text(f.Syms))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
