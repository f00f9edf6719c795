// instr.go - IR 指令

package ir

import (
	"fmt"
	"strings"
)

// InstrID 指令编号
type InstrID int32

// Profile 单条指令的 profile 信息
type Profile struct {
	// ValueType 观察到的结果类型
	ValueType ValueType
	// ArrayType 元素访问观察到的数组类型
	ArrayType ValueType
	// ExpectTaken 分支预期跳转
	ExpectTaken bool
	// SwitchIntSpec switch 分支按 int 特化
	SwitchIntSpec bool
	// StringSwitchSpec switch 分支按字符串特化
	StringSwitchSpec bool
	// Shape 属性访问观察到的对象类型（访问之前）
	Shape Shape
}

// Instr IR 指令
type Instr struct {
	ID   InstrID
	Op   Opcode
	Dst  *Opnd
	Src1 *Opnd
	Src2 *Opnd
	// Args 调用参数、Memset/Memcopy 的长度等附加源操作数
	Args []*Opnd

	// Target 分支跳转目标
	Target BlockID
	// Offset BoundCheck 的偏移：检查 Src1 <= Src2 + Offset；ReplaceLane 替换的 lane
	Offset int32

	Profile        *Profile
	BailOut        *BailOutInfo
	ByteCodeOffset int32

	IgnoreIntOverflow  bool
	IgnoreNegativeZero bool

	// ByteCodeUses OpByteCodeUses 保持存活的符号
	ByteCodeUses []SymID

	Block BlockID

	prev, next *Instr
}

// Next 下一条指令
func (i *Instr) Next() *Instr { return i.next }

// Prev 上一条指令
func (i *Instr) Prev() *Instr { return i.prev }

// IsBranch 是否为分支
func (i *Instr) IsBranch() bool { return i.Op.IsBranch() }

// IsConditionalBranch 是否为条件分支
func (i *Instr) IsConditionalBranch() bool { return i.Op.IsConditionalBranch() }

// HasBailOut 是否附带 bailout
func (i *Instr) HasBailOut() bool { return i.BailOut != nil && i.BailOut.Kind != BailOutInvalid }

// Srcs 返回所有源操作数（不含 nil）
func (i *Instr) Srcs() []*Opnd {
	out := make([]*Opnd, 0, 2+len(i.Args))
	if i.Src1 != nil {
		out = append(out, i.Src1)
	}
	if i.Src2 != nil {
		out = append(out, i.Src2)
	}
	for _, a := range i.Args {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// UsedSyms 返回指令读取的符号（含下标与属性的基址）
func (i *Instr) UsedSyms(syms *SymTable) []SymID {
	var out []SymID
	add := func(o *Opnd) {
		if o == nil {
			return
		}
		switch o.Kind {
		case OpndReg:
			out = append(out, o.Sym)
		case OpndProperty:
			if s := syms.Get(o.Sym); s != nil {
				out = append(out, s.Base)
			}
		case OpndIndir:
			out = append(out, o.Sym)
			if o.Index != NoSym {
				out = append(out, o.Index)
			}
		}
	}
	for _, s := range i.Srcs() {
		add(s)
	}
	if i.Dst != nil && (i.Dst.Kind != OpndReg || i.Op == OpStLen) {
		add(i.Dst)
	}
	out = append(out, i.ByteCodeUses...)
	return out
}

// DstSym 返回写入的寄存器符号。StLen 的目标是被修改的数组，不算定义
func (i *Instr) DstSym() SymID {
	if i.Dst != nil && i.Dst.Kind == OpndReg && i.Op != OpStLen {
		return i.Dst.Sym
	}
	return NoSym
}

// Text 返回指令文本
func (i *Instr) Text(syms *SymTable) string {
	var sb strings.Builder
	if i.Dst != nil {
		sb.WriteString(i.Dst.Text(syms))
		sb.WriteString(" = ")
	}
	sb.WriteString(i.Op.String())
	srcs := i.Srcs()
	for n, s := range srcs {
		if n == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(s.Text(syms))
	}
	if i.Op == OpBoundCheck && i.Offset != 0 {
		fmt.Fprintf(&sb, " %+d", i.Offset)
	}
	if i.Op.IsBranch() {
		fmt.Fprintf(&sb, " -> B%d", i.Target)
	}
	if i.Op == OpByteCodeUses {
		for n, s := range i.ByteCodeUses {
			if n == 0 {
				sb.WriteByte(' ')
			} else {
				sb.WriteString(", ")
			}
			sb.WriteString(syms.Get(s).Name)
		}
	}
	if i.HasBailOut() {
		fmt.Fprintf(&sb, " [bailout: %s]", i.BailOut.Kind)
	}
	return sb.String()
}
