// intbounds.go - 整数区间与相对边界
//
// IntConstantBounds 是闭区间 [Lower, Upper]，算术传播在 int64 上进行，
// 结果超出 int32 时报告溢出。IntBounds 记录相对于其他值编号的偏移：
//   lower[b] = o 表示 v >= b + o
//   upper[b] = o 表示 v <= b + o
// 两者都按不可变值使用，修改总是返回新对象。

package globopt

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// IntConstantBounds int32 闭区间
type IntConstantBounds struct {
	Lower, Upper int32
}

// FullIntRange 完整 int32 区间
var FullIntRange = IntConstantBounds{math.MinInt32, math.MaxInt32}

// NewIntConstantBounds 创建区间，lo > hi 时交换
func NewIntConstantBounds(lo, hi int32) IntConstantBounds {
	if lo > hi {
		lo, hi = hi, lo
	}
	return IntConstantBounds{lo, hi}
}

// IsConstant 是否为单点
func (b IntConstantBounds) IsConstant() bool { return b.Lower == b.Upper }

// Contains 是否包含 v
func (b IntConstantBounds) Contains(v int32) bool { return b.Lower <= v && v <= b.Upper }

// IsNonNegative 是否全部非负
func (b IntConstantBounds) IsNonNegative() bool { return b.Lower >= 0 }

// IsNegative 是否全部为负
func (b IntConstantBounds) IsNegative() bool { return b.Upper < 0 }

// Union 两个区间的并（凸包）
func (b IntConstantBounds) Union(o IntConstantBounds) IntConstantBounds {
	return IntConstantBounds{min32(b.Lower, o.Lower), max32(b.Upper, o.Upper)}
}

// Intersect 两个区间的交，为空时 ok 为 false
func (b IntConstantBounds) Intersect(o IntConstantBounds) (IntConstantBounds, bool) {
	r := IntConstantBounds{max32(b.Lower, o.Lower), min32(b.Upper, o.Upper)}
	return r, r.Lower <= r.Upper
}

// String 区间文本
func (b IntConstantBounds) String() string {
	return fmt.Sprintf("[%d, %d]", b.Lower, b.Upper)
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func fromInt64(lo, hi int64) (IntConstantBounds, bool) {
	if lo < math.MinInt32 || hi > math.MaxInt32 {
		return FullIntRange, true
	}
	return IntConstantBounds{int32(lo), int32(hi)}, false
}

// Add 区间加法；overflow 表示结果可能超出 int32
func (b IntConstantBounds) Add(o IntConstantBounds) (r IntConstantBounds, overflow bool) {
	return fromInt64(int64(b.Lower)+int64(o.Lower), int64(b.Upper)+int64(o.Upper))
}

// Sub 区间减法
func (b IntConstantBounds) Sub(o IntConstantBounds) (r IntConstantBounds, overflow bool) {
	return fromInt64(int64(b.Lower)-int64(o.Upper), int64(b.Upper)-int64(o.Lower))
}

// Mul 区间乘法
func (b IntConstantBounds) Mul(o IntConstantBounds) (r IntConstantBounds, overflow bool) {
	c := [4]int64{
		int64(b.Lower) * int64(o.Lower),
		int64(b.Lower) * int64(o.Upper),
		int64(b.Upper) * int64(o.Lower),
		int64(b.Upper) * int64(o.Upper),
	}
	lo, hi := c[0], c[0]
	for _, v := range c[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return fromInt64(lo, hi)
}

// Neg 区间取负
func (b IntConstantBounds) Neg() (r IntConstantBounds, overflow bool) {
	return fromInt64(-int64(b.Upper), -int64(b.Lower))
}

// Rem 区间取余；除数可能为 0 时 ok 为 false
func (b IntConstantBounds) Rem(o IntConstantBounds) (r IntConstantBounds, ok bool) {
	if o.Contains(0) {
		return FullIntRange, false
	}
	m := int64(o.Upper)
	if -int64(o.Lower) > m {
		m = -int64(o.Lower)
	}
	m-- // |r| < |divisor|
	lo, hi := -m, m
	if b.Lower >= 0 {
		lo = 0
		if int64(b.Upper) < hi {
			hi = int64(b.Upper)
		}
	} else if b.Upper <= 0 {
		hi = 0
		if int64(b.Lower) > lo {
			lo = int64(b.Lower)
		}
	}
	r, _ = fromInt64(lo, hi)
	return r, true
}

// And 按位与
func (b IntConstantBounds) And(o IntConstantBounds) IntConstantBounds {
	switch {
	case b.Lower >= 0 && o.Lower >= 0:
		return IntConstantBounds{0, min32(b.Upper, o.Upper)}
	case b.Lower >= 0:
		return IntConstantBounds{0, b.Upper}
	case o.Lower >= 0:
		return IntConstantBounds{0, o.Upper}
	}
	return FullIntRange
}

// Or 按位或
func (b IntConstantBounds) Or(o IntConstantBounds) IntConstantBounds {
	if b.Lower >= 0 && o.Lower >= 0 {
		return IntConstantBounds{max32(b.Lower, o.Lower), bitCeil(max32(b.Upper, o.Upper))}
	}
	if b.Upper < 0 || o.Upper < 0 {
		return IntConstantBounds{math.MinInt32, -1}
	}
	return FullIntRange
}

// Xor 按位异或
func (b IntConstantBounds) Xor(o IntConstantBounds) IntConstantBounds {
	if b.Lower >= 0 && o.Lower >= 0 {
		return IntConstantBounds{0, bitCeil(max32(b.Upper, o.Upper))}
	}
	return FullIntRange
}

// Not 按位取反
func (b IntConstantBounds) Not() IntConstantBounds {
	return IntConstantBounds{^b.Upper, ^b.Lower}
}

// bitCeil 返回不小于 v 的 2^k-1
func bitCeil(v int32) int32 {
	r := int32(0)
	for r < v {
		r = r<<1 | 1
	}
	return r
}

// Shl 左移；移位量必须是常量区间才能精确
func (b IntConstantBounds) Shl(o IntConstantBounds) IntConstantBounds {
	if !o.IsConstant() {
		return FullIntRange
	}
	s := uint(o.Lower) & 31
	r, overflow := fromInt64(int64(b.Lower)<<s, int64(b.Upper)<<s)
	if overflow {
		// 结果按 int32 回绕，区间失去意义
		return FullIntRange
	}
	return r
}

// Shr 算术右移
func (b IntConstantBounds) Shr(o IntConstantBounds) IntConstantBounds {
	if !o.IsConstant() {
		if b.Lower >= 0 {
			return IntConstantBounds{0, b.Upper}
		}
		return IntConstantBounds{min32(b.Lower, 0), max32(b.Upper, 0)}
	}
	s := uint(o.Lower) & 31
	return IntConstantBounds{b.Lower >> s, b.Upper >> s}
}

// ShrU 逻辑右移；结果可能超过 int32 时 overflow 为 true
func (b IntConstantBounds) ShrU(o IntConstantBounds) (r IntConstantBounds, overflow bool) {
	if b.Lower >= 0 {
		if o.IsConstant() {
			s := uint(o.Lower) & 31
			return IntConstantBounds{b.Lower >> s, b.Upper >> s}, false
		}
		return IntConstantBounds{0, b.Upper}, false
	}
	if o.IsConstant() {
		s := uint(o.Lower) & 31
		if s == 0 {
			return FullIntRange, true
		}
		return IntConstantBounds{0, int32(uint32(math.MaxUint32) >> s)}, false
	}
	if o.Lower > 0 && o.Upper <= 31 {
		return IntConstantBounds{0, math.MaxInt32}, false
	}
	return FullIntRange, true
}

// MulMayBeNegativeZero 乘积可能为 -0
func MulMayBeNegativeZero(a, b IntConstantBounds) bool {
	return (a.Contains(0) && b.Lower < 0) || (b.Contains(0) && a.Lower < 0)
}

// ============================================================================
// 相对边界
// ============================================================================

// IntBounds 相对于其他值编号的边界
type IntBounds struct {
	lower map[ValueNumber]int32
	upper map[ValueNumber]int32
}

// NewIntBounds 创建空的相对边界
func NewIntBounds() *IntBounds {
	return &IntBounds{lower: map[ValueNumber]int32{}, upper: map[ValueNumber]int32{}}
}

// Clone 拷贝
func (b *IntBounds) Clone() *IntBounds {
	c := NewIntBounds()
	if b == nil {
		return c
	}
	for k, v := range b.lower {
		c.lower[k] = v
	}
	for k, v := range b.upper {
		c.upper[k] = v
	}
	return c
}

// IsEmpty 是否没有任何相对边界
func (b *IntBounds) IsEmpty() bool {
	return b == nil || len(b.lower) == 0 && len(b.upper) == 0
}

// Lower 返回 v >= base + off 中的 off
func (b *IntBounds) Lower(base ValueNumber) (int32, bool) {
	if b == nil {
		return 0, false
	}
	o, ok := b.lower[base]
	return o, ok
}

// Upper 返回 v <= base + off 中的 off
func (b *IntBounds) Upper(base ValueNumber) (int32, bool) {
	if b == nil {
		return 0, false
	}
	o, ok := b.upper[base]
	return o, ok
}

// WithLower 增加下界，保留较强者
func (b *IntBounds) WithLower(base ValueNumber, off int32) *IntBounds {
	if o, ok := b.Lower(base); ok && o >= off {
		return b
	}
	c := b.Clone()
	c.lower[base] = off
	return c
}

// WithUpper 增加上界，保留较强者
func (b *IntBounds) WithUpper(base ValueNumber, off int32) *IntBounds {
	if o, ok := b.Upper(base); ok && o <= off {
		return b
	}
	c := b.Clone()
	c.upper[base] = off
	return c
}

// Shift 值加上 delta 之后的相对边界，偏移溢出的项被丢弃
func (b *IntBounds) Shift(delta int32) *IntBounds {
	c := NewIntBounds()
	if b == nil {
		return c
	}
	for k, v := range b.lower {
		if r := int64(v) + int64(delta); r >= math.MinInt32 && r <= math.MaxInt32 {
			c.lower[k] = int32(r)
		}
	}
	for k, v := range b.upper {
		if r := int64(v) + int64(delta); r >= math.MinInt32 && r <= math.MaxInt32 {
			c.upper[k] = int32(r)
		}
	}
	return c
}

// Union 汇合点处只保留两边都成立的边界，取较弱者
func (b *IntBounds) Union(o *IntBounds) *IntBounds {
	c := NewIntBounds()
	if b == nil || o == nil {
		return c
	}
	for k, v := range b.lower {
		if w, ok := o.lower[k]; ok {
			c.lower[k] = min32(v, w)
		}
	}
	for k, v := range b.upper {
		if w, ok := o.upper[k]; ok {
			c.upper[k] = max32(v, w)
		}
	}
	return c
}

// Bases 返回出现过的所有基准值编号（升序）
func (b *IntBounds) Bases() []ValueNumber {
	if b == nil {
		return nil
	}
	seen := make(map[ValueNumber]bool)
	var out []ValueNumber
	for k := range b.lower {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for k := range b.upper {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String 相对边界文本
func (b *IntBounds) String() string {
	if b.IsEmpty() {
		return "{}"
	}
	var parts []string
	for _, k := range b.Bases() {
		if o, ok := b.lower[k]; ok {
			parts = append(parts, fmt.Sprintf(">=v%d%+d", k, o))
		}
		if o, ok := b.upper[k]; ok {
			parts = append(parts, fmt.Sprintf("<=v%d%+d", k, o))
		}
	}
	return "{" + strings.Join(parts, " ") + "}"
}
