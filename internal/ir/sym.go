// sym.go - 符号表
//
// 所有符号存放在以 SymID 为下标的 arena 中。一个变量的 int32/float64/SIMD
// 表示是挂在同一变量下的影子符号（shadow），通过 VarSym 反向链接到原变量。

package ir

import "fmt"

// SymID 符号句柄，0 表示无符号
type SymID int32

// NoSym 空符号
const NoSym SymID = 0

// PropertyID 属性标识
type PropertyID int32

// Repr 值的表示形式
type Repr uint8

const (
	ReprVar Repr = iota
	ReprInt32
	ReprFloat64
	ReprSimd128F4
	ReprSimd128I4
	reprCount
)

var reprNames = [reprCount]string{"var", "int32", "float64", "simd128f4", "simd128i4"}

// String 返回表示名称
func (r Repr) String() string {
	if r < reprCount {
		return reprNames[r]
	}
	return fmt.Sprintf("repr(%d)", r)
}

// MarshalText 实现 encoding.TextMarshaler
func (r Repr) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (r *Repr) UnmarshalText(b []byte) error {
	for i, n := range reprNames {
		if n == string(b) {
			*r = Repr(i)
			return nil
		}
	}
	return fmt.Errorf("unknown representation %q", b)
}

// Type 表示对应的 IR 类型
func (r Repr) Type() IRType {
	switch r {
	case ReprInt32:
		return TyInt32
	case ReprFloat64:
		return TyFloat64
	case ReprSimd128F4:
		return TySimd128F4
	case ReprSimd128I4:
		return TySimd128I4
	}
	return TyVar
}

// SymKind 符号种类
type SymKind uint8

const (
	SymStack SymKind = iota
	SymProperty
)

// Sym 符号
type Sym struct {
	ID     SymID
	Kind   SymKind
	Repr   Repr
	VarSym SymID // 影子符号指向的变量符号；变量符号指向自身
	Name   string
	IsTemp bool

	// 属性符号
	Base       SymID
	PropertyID PropertyID

	shadows [reprCount]SymID
}

// IsProperty 是否为属性符号
func (s *Sym) IsProperty() bool { return s.Kind == SymProperty }

// IsTypeSpec 是否为类型特化的影子符号
func (s *Sym) IsTypeSpec() bool { return s.Repr != ReprVar }

type propKey struct {
	base SymID
	prop PropertyID
}

// SymTable 符号 arena
type SymTable struct {
	syms      []Sym
	props     map[propKey]SymID
	byProp    map[PropertyID][]SymID
	byBase    map[SymID][]SymID
	propNames map[PropertyID]string
	propIDs   map[string]PropertyID
	nextTemp  int
}

// NewSymTable 创建符号表
func NewSymTable() *SymTable {
	return &SymTable{
		syms:      make([]Sym, 1, 64),
		props:     make(map[propKey]SymID),
		byProp:    make(map[PropertyID][]SymID),
		byBase:    make(map[SymID][]SymID),
		propNames: make(map[PropertyID]string),
		propIDs:   make(map[string]PropertyID),
	}
}

// Len 返回 arena 容量（最大 SymID + 1）
func (t *SymTable) Len() int { return len(t.syms) }

// Get 按句柄取符号
func (t *SymTable) Get(id SymID) *Sym {
	if id <= 0 || int(id) >= len(t.syms) {
		return nil
	}
	return &t.syms[id]
}

func (t *SymTable) alloc(s Sym) *Sym {
	s.ID = SymID(len(t.syms))
	t.syms = append(t.syms, s)
	return &t.syms[s.ID]
}

// NewStackSym 创建变量符号
func (t *SymTable) NewStackSym(name string) *Sym {
	s := t.alloc(Sym{Kind: SymStack, Name: name})
	s.VarSym = s.ID
	s.shadows[ReprVar] = s.ID
	return s
}

// NewTemp 创建编译器临时变量
func (t *SymTable) NewTemp() *Sym {
	t.nextTemp++
	s := t.NewStackSym(fmt.Sprintf("t%d", t.nextTemp))
	s.IsTemp = true
	return s
}

// TypeSpecSym 返回变量在指定表示下的影子符号，按需创建
func (t *SymTable) TypeSpecSym(id SymID, r Repr) SymID {
	v := t.VarSym(id)
	if r == ReprVar {
		return v
	}
	if sh := t.syms[v].shadows[r]; sh != NoSym {
		return sh
	}
	base := t.syms[v]
	s := t.alloc(Sym{
		Kind:   SymStack,
		Repr:   r,
		VarSym: v,
		Name:   base.Name + "." + r.String(),
		IsTemp: base.IsTemp,
	})
	t.syms[v].shadows[r] = s.ID
	return s.ID
}

// VarSym 返回影子符号的变量符号
func (t *SymTable) VarSym(id SymID) SymID {
	if s := t.Get(id); s != nil && s.Kind == SymStack {
		return s.VarSym
	}
	return id
}

// Shadow 返回已存在的影子符号，不存在时返回 NoSym
func (t *SymTable) Shadow(id SymID, r Repr) SymID {
	v := t.VarSym(id)
	if s := t.Get(v); s != nil {
		return s.shadows[r]
	}
	return NoSym
}

// Property 返回属性名对应的属性标识，按需分配
func (t *SymTable) Property(name string) PropertyID {
	if id, ok := t.propIDs[name]; ok {
		return id
	}
	id := PropertyID(len(t.propIDs) + 1)
	t.propIDs[name] = id
	t.propNames[id] = name
	return id
}

// PropertyName 返回属性名
func (t *SymTable) PropertyName(id PropertyID) string {
	if id == ObjTypeProperty {
		return "$type"
	}
	if n, ok := t.propNames[id]; ok {
		return n
	}
	return fmt.Sprintf("#%d", id)
}

// PropertySym 返回 (base, prop) 对应的属性符号，按需创建
func (t *SymTable) PropertySym(base SymID, prop PropertyID) SymID {
	base = t.VarSym(base)
	k := propKey{base, prop}
	if id, ok := t.props[k]; ok {
		return id
	}
	s := t.alloc(Sym{
		Kind:       SymProperty,
		Base:       base,
		PropertyID: prop,
		Name:       t.syms[base].Name + "." + t.PropertyName(prop),
	})
	s.VarSym = s.ID
	t.props[k] = s.ID
	t.byProp[prop] = append(t.byProp[prop], s.ID)
	t.byBase[base] = append(t.byBase[base], s.ID)
	return s.ID
}

// PropertySymsByID 返回同一属性标识的所有属性符号
func (t *SymTable) PropertySymsByID(prop PropertyID) []SymID {
	return t.byProp[prop]
}

// PropertySymsByBase 返回以 base 为对象的所有属性符号
func (t *SymTable) PropertySymsByBase(base SymID) []SymID {
	return t.byBase[t.VarSym(base)]
}

// Clone 深拷贝符号表
func (t *SymTable) Clone() *SymTable {
	c := &SymTable{
		syms:      append([]Sym(nil), t.syms...),
		props:     make(map[propKey]SymID, len(t.props)),
		byProp:    make(map[PropertyID][]SymID, len(t.byProp)),
		byBase:    make(map[SymID][]SymID, len(t.byBase)),
		propNames: make(map[PropertyID]string, len(t.propNames)),
		propIDs:   make(map[string]PropertyID, len(t.propIDs)),
		nextTemp:  t.nextTemp,
	}
	for k, v := range t.props {
		c.props[k] = v
	}
	for k, v := range t.byProp {
		c.byProp[k] = append([]SymID(nil), v...)
	}
	for k, v := range t.byBase {
		c.byBase[k] = append([]SymID(nil), v...)
	}
	for k, v := range t.propNames {
		c.propNames[k] = v
	}
	for k, v := range t.propIDs {
		c.propIDs[k] = v
	}
	return c
}
