// objtype.go - 对象类型（形状）
//
// 对象的类型由它拥有的属性集合决定。属性访问可以带上 profile 观察到的
// 类型：访问自己检查类型，或者依赖前面已经做过的检查。类型符号 (base, $type)
// 与属性符号一样参与值编号，同一类型在整个函数中使用同一个值编号。

package ir

import (
	"sort"
	"strconv"
	"strings"
)

// ObjTypeProperty 类型符号使用的保留属性标识
const ObjTypeProperty PropertyID = 0

// Shape 对象的属性集合，按属性标识升序
type Shape []PropertyID

// NewShape 由属性标识构造类型
func NewShape(props ...PropertyID) Shape {
	s := append(Shape{}, props...)
	sort.Slice(s, func(a, b int) bool { return s[a] < s[b] })
	out := s[:0]
	for n, p := range s {
		if n == 0 || p != s[n-1] {
			out = append(out, p)
		}
	}
	return out
}

// Has 类型是否含属性 p
func (s Shape) Has(p PropertyID) bool {
	n := sort.Search(len(s), func(i int) bool { return s[i] >= p })
	return n < len(s) && s[n] == p
}

// With 增加属性 p 之后的类型
func (s Shape) With(p PropertyID) Shape {
	if s.Has(p) {
		return s
	}
	return NewShape(append(append(Shape{}, s...), p)...)
}

// Equal 两个类型相同
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for n := range s {
		if s[n] != o[n] {
			return false
		}
	}
	return true
}

// Key 作为 map 键的文本
func (s Shape) Key() string {
	var sb strings.Builder
	for n, p := range s {
		if n > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(p)))
	}
	return sb.String()
}

// Text 以属性名表示的类型
func (s Shape) Text(syms *SymTable) string {
	names := make([]string, len(s))
	for n, p := range s {
		names[n] = syms.PropertyName(p)
	}
	return "{" + strings.Join(names, ",") + "}"
}

// ObjTypeSpec 属性访问的类型信息
type ObjTypeSpec struct {
	// Shape 访问之前对象应有的类型
	Shape Shape
	// Final 加属性的写之后对象的类型；不加属性时与 Shape 相同
	Final Shape
	// Checked 前面的检查已保证类型，访问不再检查
	Checked bool
}

// AddsProperty 是否为加属性的写
func (t *ObjTypeSpec) AddsProperty() bool { return len(t.Final) != len(t.Shape) }

// ObjTypeSym 返回 base 的类型符号，按需创建
func (t *SymTable) ObjTypeSym(base SymID) SymID {
	return t.PropertySym(base, ObjTypeProperty)
}

// IsObjType 是否为类型符号
func (s *Sym) IsObjType() bool { return s.Kind == SymProperty && s.PropertyID == ObjTypeProperty }

// Shape 对象当前的类型
func (o *RObj) Shape() Shape {
	props := make([]PropertyID, 0, len(o.Fields))
	for p := range o.Fields {
		props = append(props, p)
	}
	return NewShape(props...)
}
