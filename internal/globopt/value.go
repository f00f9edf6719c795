// value.go - 值编号与值信息
//
// 同一值编号的两个 Value 在任何出现的位置都表示同一个运行时值。
// ValueInfo 描述此时此地对该值的了解（类型、常量、区间、相对边界、
// 数组附属符号），按不可变对象使用：修改总是通过 With* 得到新对象。

package globopt

import (
	"fmt"
	"math"
	"strings"

	"github.com/tangzhangming/globopt/internal/ir"
)

// ValueNumber 值编号
type ValueNumber int32

// NoValueNumber 无效编号
const NoValueNumber ValueNumber = 0

// InfoKind 值信息种类
type InfoKind uint8

const (
	InfoGeneric InfoKind = iota
	InfoIntConstant
	InfoIntRange
	InfoIntBounded
	InfoFloatConstant
	InfoVarConstant
	InfoArray
)

var infoKindNames = [...]string{"Generic", "IntConstant", "IntRange", "IntBounded", "FloatConstant", "VarConstant", "Array"}

// String 种类名
func (k InfoKind) String() string {
	if int(k) < len(infoKindNames) {
		return infoKindNames[k]
	}
	return fmt.Sprintf("InfoKind(%d)", k)
}

// ValueInfo 值信息
type ValueInfo struct {
	kind     InfoKind
	typ      ir.ValueType
	symStore ir.SymID

	ints IntConstantBounds
	rel  *IntBounds

	floatConst float64
	varConst   ir.VarConst

	headSegment       ir.SymID
	headSegmentLength ir.SymID
	length            ir.SymID
}

// NewGenericInfo 只有类型的值信息
func NewGenericInfo(t ir.ValueType) *ValueInfo {
	return &ValueInfo{kind: InfoGeneric, typ: t}
}

// NewIntConstantInfo int32 常量
func NewIntConstantInfo(v int32) *ValueInfo {
	return &ValueInfo{kind: InfoIntConstant, typ: ir.Int, ints: IntConstantBounds{v, v}}
}

// NewIntRangeInfo 确定为 int 的区间值；单点区间退化为常量
func NewIntRangeInfo(b IntConstantBounds) *ValueInfo {
	if b.IsConstant() {
		return NewIntConstantInfo(b.Lower)
	}
	return &ValueInfo{kind: InfoIntRange, typ: ir.Int, ints: b}
}

// NewFloatConstantInfo 浮点常量；可精确表示为 int32 的值使用整数常量
func NewFloatConstantInfo(f float64) *ValueInfo {
	if ir.IsInt32Value(f) {
		return NewIntConstantInfo(int32(f))
	}
	return &ValueInfo{kind: InfoFloatConstant, typ: ir.Float, floatConst: f}
}

// NewVarConstantInfo 装箱常量
func NewVarConstantInfo(c ir.VarConst) *ValueInfo {
	return &ValueInfo{kind: InfoVarConstant, typ: c.ValueType(), varConst: c}
}

// NewArrayInfo 带附属符号的数组值
func NewArrayInfo(t ir.ValueType, headSegment, headSegmentLength, length ir.SymID) *ValueInfo {
	return &ValueInfo{kind: InfoArray, typ: t, headSegment: headSegment,
		headSegmentLength: headSegmentLength, length: length}
}

func (i *ValueInfo) copy() *ValueInfo {
	c := *i
	return &c
}

// Kind 种类
func (i *ValueInfo) Kind() InfoKind { return i.kind }

// Type 值类型
func (i *ValueInfo) Type() ir.ValueType { return i.typ }

// SymStore 持有该值的符号（复制传播候选）
func (i *ValueInfo) SymStore() ir.SymID { return i.symStore }

// IsIntConstant 是否为整数常量
func (i *ValueInfo) IsIntConstant() (int32, bool) {
	if i.kind == InfoIntConstant {
		return i.ints.Lower, true
	}
	return 0, false
}

// IsFloatConstant 是否为非整数的浮点常量
func (i *ValueInfo) IsFloatConstant() (float64, bool) {
	if i.kind == InfoFloatConstant {
		return i.floatConst, true
	}
	return 0, false
}

// IsNumberConstant 整数或浮点常量
func (i *ValueInfo) IsNumberConstant() (float64, bool) {
	switch i.kind {
	case InfoIntConstant:
		return float64(i.ints.Lower), true
	case InfoFloatConstant:
		return i.floatConst, true
	}
	return 0, false
}

// IsVarConstant 是否为装箱常量
func (i *ValueInfo) IsVarConstant() (ir.VarConst, bool) {
	if i.kind == InfoVarConstant {
		return i.varConst, true
	}
	return ir.VarConst{}, false
}

// IsConstant 任意种类的常量
func (i *ValueInfo) IsConstant() bool {
	return i.kind == InfoIntConstant || i.kind == InfoFloatConstant || i.kind == InfoVarConstant
}

// IntRange 返回整数区间；确定为 int 但没有区间信息时返回完整区间
func (i *ValueInfo) IntRange() (IntConstantBounds, bool) {
	switch i.kind {
	case InfoIntConstant, InfoIntRange, InfoIntBounded:
		return i.ints, true
	}
	if i.typ.IsInt() {
		return FullIntRange, true
	}
	return IntConstantBounds{}, false
}

// LikelyIntRange 确定或可能为 int 时的区间
func (i *ValueInfo) LikelyIntRange() (IntConstantBounds, bool) {
	if r, ok := i.IntRange(); ok {
		return r, true
	}
	if i.typ.IsLikelyInt() {
		return FullIntRange, true
	}
	return IntConstantBounds{}, false
}

// Relative 相对边界（可能为 nil）
func (i *ValueInfo) Relative() *IntBounds { return i.rel }

// HeadSegmentSym 数组头段符号
func (i *ValueInfo) HeadSegmentSym() ir.SymID { return i.headSegment }

// HeadSegmentLengthSym 数组头段长度符号
func (i *ValueInfo) HeadSegmentLengthSym() ir.SymID { return i.headSegmentLength }

// LengthSym 数组长度符号
func (i *ValueInfo) LengthSym() ir.SymID { return i.length }

// HasArraySyms 是否带有任意数组附属符号
func (i *ValueInfo) HasArraySyms() bool {
	return i.headSegment != ir.NoSym || i.headSegmentLength != ir.NoSym || i.length != ir.NoSym
}

// WithType 替换类型。整数类信息在类型不再确定为 int 时退化为普通信息
func (i *ValueInfo) WithType(t ir.ValueType) *ValueInfo {
	if i.typ == t {
		return i
	}
	c := i.copy()
	c.typ = t
	switch c.kind {
	case InfoIntConstant, InfoIntRange, InfoIntBounded:
		if !t.IsInt() {
			c.kind, c.ints, c.rel = InfoGeneric, IntConstantBounds{}, nil
		}
	case InfoFloatConstant:
		if !t.IsFloat() && !t.IsNumber() {
			c.kind = InfoGeneric
		}
	case InfoVarConstant:
		if t != c.varConst.ValueType() {
			c.kind = InfoGeneric
		}
	case InfoArray:
		if !t.IsLikelyOptimizedArray() {
			c.kind = InfoGeneric
			c.headSegment, c.headSegmentLength, c.length = ir.NoSym, ir.NoSym, ir.NoSym
		}
	case InfoGeneric:
		if t.IsLikelyOptimizedArray() {
			c.kind = InfoArray
		}
	}
	return c
}

// WithSymStore 设置持有符号
func (i *ValueInfo) WithSymStore(s ir.SymID) *ValueInfo {
	if i.symStore == s {
		return i
	}
	c := i.copy()
	c.symStore = s
	return c
}

// WithIntRange 设置整数区间，类型随之成为确定的 int
func (i *ValueInfo) WithIntRange(b IntConstantBounds) *ValueInfo {
	if b.IsConstant() {
		return NewIntConstantInfo(b.Lower).WithSymStore(i.symStore)
	}
	c := i.copy()
	c.typ = ir.Int
	c.ints = b
	c.headSegment, c.headSegmentLength, c.length = ir.NoSym, ir.NoSym, ir.NoSym
	if c.rel.IsEmpty() {
		c.kind, c.rel = InfoIntRange, nil
	} else {
		c.kind = InfoIntBounded
	}
	return c
}

// WithRelative 设置相对边界
func (i *ValueInfo) WithRelative(rel *IntBounds) *ValueInfo {
	r, ok := i.IntRange()
	if !ok {
		return i
	}
	if i.kind == InfoIntConstant {
		// 常量本身已是最精确的信息
		return i
	}
	c := i.copy()
	c.ints = r
	if rel.IsEmpty() {
		c.kind, c.rel = InfoIntRange, nil
	} else {
		c.kind, c.rel = InfoIntBounded, rel
	}
	return c
}

// WithArraySyms 设置数组附属符号
func (i *ValueInfo) WithArraySyms(hs, hsl, length ir.SymID) *ValueInfo {
	if !i.typ.IsLikelyOptimizedArray() {
		return i
	}
	c := i.copy()
	c.kind = InfoArray
	c.headSegment, c.headSegmentLength, c.length = hs, hsl, length
	return c
}

// String 调试文本
func (i *ValueInfo) String() string {
	var sb strings.Builder
	sb.WriteString(i.typ.String())
	switch i.kind {
	case InfoIntConstant:
		fmt.Fprintf(&sb, " const %d", i.ints.Lower)
	case InfoIntRange:
		fmt.Fprintf(&sb, " %s", i.ints)
	case InfoIntBounded:
		fmt.Fprintf(&sb, " %s %s", i.ints, i.rel)
	case InfoFloatConstant:
		fmt.Fprintf(&sb, " const %g", i.floatConst)
	case InfoVarConstant:
		fmt.Fprintf(&sb, " const %s", i.varConst)
	case InfoArray:
		fmt.Fprintf(&sb, " hs=s%d hsl=s%d len=s%d", i.headSegment, i.headSegmentLength, i.length)
	}
	if i.symStore != ir.NoSym {
		fmt.Fprintf(&sb, " store=s%d", i.symStore)
	}
	return sb.String()
}

// ============================================================================
// 合并
// ============================================================================

// MergeInfo 汇合点合并两个值信息。sameNumber 表示两边值编号相同
func MergeInfo(a, b *ValueInfo, sameNumber bool) *ValueInfo {
	if a == b {
		return a
	}
	t := a.typ.Merge(b.typ)
	var r *ValueInfo
	ra, okA := a.IntRange()
	rb, okB := b.IntRange()
	switch {
	case okA && okB && t.IsInt():
		r = NewIntRangeInfo(ra.Union(rb))
		if !r.typ.IsInt() {
			r.typ = t
		}
		if r.kind != InfoIntConstant {
			if rel := a.rel.Union(b.rel); !rel.IsEmpty() {
				r.kind, r.rel = InfoIntBounded, rel
			}
		}
	case a.kind == InfoFloatConstant && b.kind == InfoFloatConstant &&
		math.Float64bits(a.floatConst) == math.Float64bits(b.floatConst):
		r = a.copy()
	case a.kind == InfoVarConstant && b.kind == InfoVarConstant && a.varConst == b.varConst:
		r = a.copy()
	default:
		r = NewGenericInfo(t)
		if t.IsLikelyOptimizedArray() {
			r.kind = InfoArray
			if sameNumber {
				if a.headSegment == b.headSegment {
					r.headSegment = a.headSegment
				}
				if a.headSegmentLength == b.headSegmentLength {
					r.headSegmentLength = a.headSegmentLength
				}
				if a.length == b.length {
					r.length = a.length
				}
			}
		}
	}
	r.typ = t
	if a.symStore == b.symStore {
		r.symStore = a.symStore
	} else {
		r.symStore = ir.NoSym
	}
	return r
}

// ============================================================================
// Value
// ============================================================================

// Value 值编号 + 当前块中的值信息。同一块内持有相同 Value 对象的符号共享信息
type Value struct {
	Number ValueNumber
	Info   *ValueInfo
}

// String 调试文本
func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("v%d(%s)", v.Number, v.Info)
}
