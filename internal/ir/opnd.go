// opnd.go - 操作数

package ir

import (
	"fmt"
	"math"
	"strconv"
)

// IRType 操作数的机器表示
type IRType uint8

const (
	TyVar IRType = iota
	TyInt32
	TyFloat64
	TySimd128F4
	TySimd128I4
)

// String 返回类型名
func (t IRType) String() string {
	switch t {
	case TyInt32:
		return "i32"
	case TyFloat64:
		return "f64"
	case TySimd128F4:
		return "f4"
	case TySimd128I4:
		return "i4"
	}
	return "var"
}

// Repr 返回对应的符号表示
func (t IRType) Repr() Repr {
	switch t {
	case TyInt32:
		return ReprInt32
	case TyFloat64:
		return ReprFloat64
	case TySimd128F4:
		return ReprSimd128F4
	case TySimd128I4:
		return ReprSimd128I4
	}
	return ReprVar
}

// OpndKind 操作数种类
type OpndKind uint8

const (
	OpndReg OpndKind = iota
	OpndProperty
	OpndIndir
	OpndIntConst
	OpndFloatConst
	OpndAddr
)

// ConstKind 装箱常量种类
type ConstKind uint8

const (
	ConstUndefined ConstKind = iota
	ConstNull
	ConstBool
	ConstString
)

// VarConst 装箱常量
type VarConst struct {
	Kind ConstKind
	Bool bool
	Str  string
}

// ValueType 常量对应的值类型
func (c VarConst) ValueType() ValueType {
	switch c.Kind {
	case ConstNull:
		return Null
	case ConstBool:
		return Boolean
	case ConstString:
		return String
	}
	return Undefined
}

// String 返回常量字面量
func (c VarConst) String() string {
	switch c.Kind {
	case ConstNull:
		return "null"
	case ConstBool:
		return strconv.FormatBool(c.Bool)
	case ConstString:
		return strconv.Quote(c.Str)
	}
	return "undefined"
}

// ArrayOpndInfo 数组访问附带的优化信息
type ArrayOpndInfo struct {
	HeadSegmentSym       SymID
	HeadSegmentLengthSym SymID
	LengthSym            SymID

	EliminatedLowerBoundCheck bool
	EliminatedUpperBoundCheck bool
	// HelperOnly 访问必然走慢路径
	HelperOnly bool
}

// Opnd 操作数
type Opnd struct {
	Kind      OpndKind
	Type      IRType
	ValueType ValueType // producer 提供的 profile 类型

	Sym    SymID // Reg/Property 的符号；Indir 的基址
	Index  SymID // Indir 的下标符号，NoSym 时使用 Offset
	Offset int32

	Int   int32
	Float float64
	Const VarConst

	Array *ArrayOpndInfo
	// ObjType 属性访问与类型检查的对象类型
	ObjType *ObjTypeSpec
}

// RegOpnd 寄存器操作数
func RegOpnd(s *Sym) *Opnd {
	return &Opnd{Kind: OpndReg, Sym: s.ID, Type: s.Repr.Type()}
}

// PropertyOpnd 属性操作数
func PropertyOpnd(s SymID) *Opnd {
	return &Opnd{Kind: OpndProperty, Sym: s}
}

// IndirOpnd 下标访问操作数 base[index]
func IndirOpnd(base, index SymID) *Opnd {
	return &Opnd{Kind: OpndIndir, Sym: base, Index: index}
}

// IndirConstOpnd 常量下标访问 base[offset]
func IndirConstOpnd(base SymID, offset int32) *Opnd {
	return &Opnd{Kind: OpndIndir, Sym: base, Offset: offset}
}

// IntConstOpnd 整数常量
func IntConstOpnd(v int32, ty IRType) *Opnd {
	return &Opnd{Kind: OpndIntConst, Int: v, Type: ty, ValueType: Int}
}

// FloatConstOpnd 浮点常量
func FloatConstOpnd(v float64) *Opnd {
	vt := Float
	if IsInt32Value(v) {
		vt = Int
	}
	return &Opnd{Kind: OpndFloatConst, Float: v, Type: TyFloat64, ValueType: vt}
}

// AddrOpnd 装箱常量
func AddrOpnd(c VarConst) *Opnd {
	return &Opnd{Kind: OpndAddr, Const: c, ValueType: c.ValueType()}
}

// UndefinedOpnd undefined 常量
func UndefinedOpnd() *Opnd { return AddrOpnd(VarConst{Kind: ConstUndefined}) }

// BoolOpnd 布尔常量
func BoolOpnd(b bool) *Opnd { return AddrOpnd(VarConst{Kind: ConstBool, Bool: b}) }

// StringOpnd 字符串常量
func StringOpnd(s string) *Opnd { return AddrOpnd(VarConst{Kind: ConstString, Str: s}) }

// IsReg 是否为寄存器操作数
func (o *Opnd) IsReg() bool { return o != nil && o.Kind == OpndReg }

// IsConst 是否为常量操作数
func (o *Opnd) IsConst() bool {
	return o != nil && (o.Kind == OpndIntConst || o.Kind == OpndFloatConst || o.Kind == OpndAddr)
}

// IsIntConst 是否为整数常量
func (o *Opnd) IsIntConst() bool { return o != nil && o.Kind == OpndIntConst }

// IsIndir 是否为下标访问
func (o *Opnd) IsIndir() bool { return o != nil && o.Kind == OpndIndir }

// IsProperty 是否为属性访问
func (o *Opnd) IsProperty() bool { return o != nil && o.Kind == OpndProperty }

// Copy 浅拷贝操作数（数组信息深拷贝）
func (o *Opnd) Copy() *Opnd {
	if o == nil {
		return nil
	}
	c := *o
	if o.Array != nil {
		a := *o.Array
		c.Array = &a
	}
	if o.ObjType != nil {
		t := *o.ObjType
		c.ObjType = &t
	}
	return &c
}

// Text 返回操作数文本
func (o *Opnd) Text(syms *SymTable) string {
	if o == nil {
		return "_"
	}
	name := func(id SymID) string {
		if s := syms.Get(id); s != nil {
			return s.Name
		}
		return fmt.Sprintf("s%d", id)
	}
	switch o.Kind {
	case OpndReg:
		return name(o.Sym)
	case OpndProperty:
		if t := o.ObjType; t != nil && t.Checked {
			return "[" + name(o.Sym) + "]" + t.Shape.Text(syms)
		}
		return "[" + name(o.Sym) + "]"
	case OpndIndir:
		if o.Index != NoSym {
			return name(o.Sym) + "[" + name(o.Index) + "]"
		}
		return fmt.Sprintf("%s[%d]", name(o.Sym), o.Offset)
	case OpndIntConst:
		if o.Type == TyInt32 {
			return fmt.Sprintf("%d.i32", o.Int)
		}
		return strconv.Itoa(int(o.Int))
	case OpndFloatConst:
		return strconv.FormatFloat(o.Float, 'g', -1, 64) + ".f64"
	case OpndAddr:
		return o.Const.String()
	}
	return "?"
}

// IsInt32Value 判断浮点数能否精确表示为 int32（-0 不能）
func IsInt32Value(f float64) bool {
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return false
	}
	return !(f == 0 && math.Signbit(f))
}
