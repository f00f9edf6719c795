// blockdata.go - 块数据
//
// 每个基本块在前向遍历中拥有一份 BlockData：符号到 Value 的映射、
// 各表示的活跃位向量、依赖数组事实的值集合、已执行过的边界检查，
// 以及预扫描期间的归纳变量。位向量以变量符号为下标，影子符号折算为变量符号。

package globopt

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/tangzhangming/globopt/internal/ir"
)

// IntBoundCheck 已保证成立的关系 Left <= Right + Offset
type IntBoundCheck struct {
	Left, Right ValueNumber
	Offset      int32
}

// BlockData 块数据
type BlockData struct {
	block ir.BlockID

	symToValue map[ir.SymID]*Value

	liveVar        *bitset.BitSet
	liveInt32      *bitset.BitSet
	liveLossyInt32 *bitset.BitSet
	liveFloat64    *bitset.BitSet
	liveSimdF4     *bitset.BitSet
	liveSimdI4     *bitset.BitSet
	// liveFields 值仍然有效的属性符号
	liveFields *bitset.BitSet

	// valuesToKillOnCalls 带有数组事实、调用时需要降级的值
	valuesToKillOnCalls mapset.Set[ValueNumber]
	// availableIntBoundChecks 已由保护或检查保证的关系
	availableIntBoundChecks mapset.Set[IntBoundCheck]
	// freshObjects 本函数新建且尚未逃逸的对象，写它们的字段不影响其他对象
	freshObjects mapset.Set[ValueNumber]

	// inductionVariables 预扫描时沿路径累计的变化量
	inductionVariables map[ir.SymID]*InductionVariable
}

func newBlockData(block ir.BlockID, n uint) *BlockData {
	return &BlockData{
		block:                   block,
		symToValue:              make(map[ir.SymID]*Value),
		liveVar:                 bitset.New(n),
		liveInt32:               bitset.New(n),
		liveLossyInt32:          bitset.New(n),
		liveFloat64:             bitset.New(n),
		liveSimdF4:              bitset.New(n),
		liveSimdI4:              bitset.New(n),
		liveFields:              bitset.New(n),
		valuesToKillOnCalls:     mapset.NewThreadUnsafeSet[ValueNumber](),
		availableIntBoundChecks: mapset.NewThreadUnsafeSet[IntBoundCheck](),
		freshObjects:            mapset.NewThreadUnsafeSet[ValueNumber](),
	}
}

// Clone 深拷贝；共享同一 Value 对象的符号在拷贝中仍然共享
func (d *BlockData) Clone() *BlockData {
	c := &BlockData{
		block:                   d.block,
		symToValue:              make(map[ir.SymID]*Value, len(d.symToValue)),
		liveVar:                 d.liveVar.Clone(),
		liveInt32:               d.liveInt32.Clone(),
		liveLossyInt32:          d.liveLossyInt32.Clone(),
		liveFloat64:             d.liveFloat64.Clone(),
		liveSimdF4:              d.liveSimdF4.Clone(),
		liveSimdI4:              d.liveSimdI4.Clone(),
		liveFields:              d.liveFields.Clone(),
		valuesToKillOnCalls:     d.valuesToKillOnCalls.Clone(),
		availableIntBoundChecks: d.availableIntBoundChecks.Clone(),
		freshObjects:            d.freshObjects.Clone(),
	}
	mapped := make(map[*Value]*Value, len(d.symToValue))
	for s, v := range d.symToValue {
		nv, ok := mapped[v]
		if !ok {
			nv = &Value{Number: v.Number, Info: v.Info}
			mapped[v] = nv
		}
		c.symToValue[s] = nv
	}
	if d.inductionVariables != nil {
		c.inductionVariables = make(map[ir.SymID]*InductionVariable, len(d.inductionVariables))
		for s, iv := range d.inductionVariables {
			cp := *iv
			c.inductionVariables[s] = &cp
		}
	}
	return c
}

// Value 返回符号当前的值
func (d *BlockData) Value(s ir.SymID) *Value {
	return d.symToValue[s]
}

// SetValue 设置符号的值
func (d *BlockData) SetValue(s ir.SymID, v *Value) {
	if v == nil {
		delete(d.symToValue, s)
		return
	}
	d.symToValue[s] = v
}

// Syms 返回有值的符号（升序）
func (d *BlockData) Syms() []ir.SymID {
	out := make([]ir.SymID, 0, len(d.symToValue))
	for s := range d.symToValue {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SymsWithNumber 返回持有给定编号的符号
func (d *BlockData) SymsWithNumber(vn ValueNumber) []ir.SymID {
	var out []ir.SymID
	for s, v := range d.symToValue {
		if v.Number == vn {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ============================================================================
// 活跃表示
// ============================================================================

func bit(s ir.SymID) uint { return uint(s) }

// IsLiveVar 变量形式是否可用
func (d *BlockData) IsLiveVar(s ir.SymID) bool { return d.liveVar.Test(bit(s)) }

// IsLiveInt32 int32 形式是否可用（含有损）
func (d *BlockData) IsLiveInt32(s ir.SymID) bool { return d.liveInt32.Test(bit(s)) }

// IsLiveLosslessInt32 无损 int32 形式是否可用
func (d *BlockData) IsLiveLosslessInt32(s ir.SymID) bool {
	return d.liveInt32.Test(bit(s)) && !d.liveLossyInt32.Test(bit(s))
}

// IsLiveLossyInt32 有损 int32 形式是否可用
func (d *BlockData) IsLiveLossyInt32(s ir.SymID) bool { return d.liveLossyInt32.Test(bit(s)) }

// IsLiveFloat64 float64 形式是否可用
func (d *BlockData) IsLiveFloat64(s ir.SymID) bool { return d.liveFloat64.Test(bit(s)) }

// IsLiveSimd SIMD 形式是否可用
func (d *BlockData) IsLiveSimd(s ir.SymID, r ir.Repr) bool {
	if r == ir.ReprSimd128I4 {
		return d.liveSimdI4.Test(bit(s))
	}
	return d.liveSimdF4.Test(bit(s))
}

// IsLiveRepr 给定表示是否可用；int32 只看无损形式
func (d *BlockData) IsLiveRepr(s ir.SymID, r ir.Repr) bool {
	switch r {
	case ir.ReprInt32:
		return d.IsLiveLosslessInt32(s)
	case ir.ReprFloat64:
		return d.IsLiveFloat64(s)
	case ir.ReprSimd128F4, ir.ReprSimd128I4:
		return d.IsLiveSimd(s, r)
	}
	return d.IsLiveVar(s)
}

// IsLiveAny 任意表示可用
func (d *BlockData) IsLiveAny(s ir.SymID) bool {
	b := bit(s)
	return d.liveVar.Test(b) || d.liveInt32.Test(b) || d.liveFloat64.Test(b) ||
		d.liveSimdF4.Test(b) || d.liveSimdI4.Test(b)
}

// IsSpecialized 是否已有特化形式
func (d *BlockData) IsSpecialized(s ir.SymID) bool {
	b := bit(s)
	return d.liveInt32.Test(b) || d.liveFloat64.Test(b) || d.liveSimdF4.Test(b) || d.liveSimdI4.Test(b)
}

// MakeLive 增加一种可用表示，不影响其他表示
func (d *BlockData) MakeLive(s ir.SymID, r ir.Repr, lossy bool) {
	b := bit(s)
	switch r {
	case ir.ReprVar:
		d.liveVar.Set(b)
	case ir.ReprInt32:
		if !d.liveInt32.Test(b) || !lossy {
			// 已有无损形式时保持无损
			if lossy {
				d.liveLossyInt32.Set(b)
			} else {
				d.liveLossyInt32.Clear(b)
			}
		}
		d.liveInt32.Set(b)
	case ir.ReprFloat64:
		d.liveFloat64.Set(b)
	case ir.ReprSimd128F4:
		d.liveSimdF4.Set(b)
	case ir.ReprSimd128I4:
		d.liveSimdI4.Set(b)
	}
}

// SetDefRepr 符号被重新定义：只有定义所用的表示可用
func (d *BlockData) SetDefRepr(s ir.SymID, r ir.Repr) {
	d.Kill(s)
	d.MakeLive(s, r, false)
}

// Kill 清除符号所有表示
func (d *BlockData) Kill(s ir.SymID) {
	b := bit(s)
	d.liveVar.Clear(b)
	d.liveInt32.Clear(b)
	d.liveLossyInt32.Clear(b)
	d.liveFloat64.Clear(b)
	d.liveSimdF4.Clear(b)
	d.liveSimdI4.Clear(b)
}

// ============================================================================
// 字段
// ============================================================================

// IsFieldLive 属性符号的值是否仍然有效
func (d *BlockData) IsFieldLive(s ir.SymID) bool { return d.liveFields.Test(bit(s)) }

// KillField 使一个属性符号失效
func (d *BlockData) KillField(s ir.SymID) {
	d.liveFields.Clear(bit(s))
	delete(d.symToValue, s)
}

// KillAllFields 使全部属性符号失效；keep 返回 true 的保留
func (d *BlockData) KillAllFields(syms *ir.SymTable, keep func(ir.SymID) bool) {
	for i, ok := d.liveFields.NextSet(0); ok; i, ok = d.liveFields.NextSet(i + 1) {
		s := ir.SymID(i)
		if keep != nil && keep(s) {
			continue
		}
		d.KillField(s)
	}
	for s := range d.symToValue {
		if sym := syms.Get(s); sym != nil && sym.IsProperty() && !d.liveFields.Test(bit(s)) {
			delete(d.symToValue, s)
		}
	}
}
