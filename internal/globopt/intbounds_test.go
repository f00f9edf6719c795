// intbounds_test.go - 整数区间测试

package globopt

import (
	"math"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"pgregory.net/rapid"
)

func TestIntConstantBoundsBasics(t *testing.T) {
	b := NewIntConstantBounds(5, -3)
	assert.Equal(t, b, IntConstantBounds{-3, 5})
	assert.Assert(t, b.Contains(0))
	assert.Assert(t, !b.IsNonNegative())
	assert.Assert(t, !b.IsConstant())

	u := b.Union(IntConstantBounds{10, 12})
	assert.Equal(t, u, IntConstantBounds{-3, 12})

	_, ok := b.Intersect(IntConstantBounds{6, 7})
	assert.Assert(t, !ok)
	r, ok := b.Intersect(IntConstantBounds{0, 100})
	assert.Assert(t, ok)
	assert.Equal(t, r, IntConstantBounds{0, 5})
	assert.Equal(t, r.String(), "[0, 5]")
}

func TestIntConstantBoundsOverflow(t *testing.T) {
	_, overflow := IntConstantBounds{math.MaxInt32 - 1, math.MaxInt32}.Add(IntConstantBounds{1, 1})
	assert.Assert(t, overflow)

	r, overflow := IntConstantBounds{0, 10}.Sub(IntConstantBounds{1, 2})
	assert.Assert(t, !overflow)
	assert.Equal(t, r, IntConstantBounds{-2, 9})

	_, overflow = IntConstantBounds{math.MinInt32, math.MinInt32}.Neg()
	assert.Assert(t, overflow)

	r, overflow = IntConstantBounds{-3, 4}.Mul(IntConstantBounds{-2, 5})
	assert.Assert(t, !overflow)
	assert.Equal(t, r, IntConstantBounds{-15, 20})

	_, ok := IntConstantBounds{1, 10}.Rem(IntConstantBounds{-1, 1})
	assert.Assert(t, !ok)
	r, ok = IntConstantBounds{0, 100}.Rem(IntConstantBounds{8, 8})
	assert.Assert(t, ok)
	assert.Equal(t, r, IntConstantBounds{0, 7})
}

func TestMulMayBeNegativeZero(t *testing.T) {
	assert.Assert(t, MulMayBeNegativeZero(IntConstantBounds{0, 3}, IntConstantBounds{-1, 1}))
	assert.Assert(t, !MulMayBeNegativeZero(IntConstantBounds{0, 3}, IntConstantBounds{0, 1}))
	assert.Assert(t, !MulMayBeNegativeZero(IntConstantBounds{1, 3}, IntConstantBounds{-4, -1}))
}

func genBounds(t *rapid.T, label string) IntConstantBounds {
	lo := rapid.Int32Range(-1<<20, 1<<20).Draw(t, label+"_lo")
	width := rapid.Int32Range(0, 1<<12).Draw(t, label+"_w")
	return IntConstantBounds{lo, lo + width}
}

func pick(t *rapid.T, b IntConstantBounds, label string) int32 {
	return rapid.Int32Range(b.Lower, b.Upper).Draw(t, label)
}

// TestIntConstantBoundsSound 区间运算的结果包含任意成员运算的结果
func TestIntConstantBoundsSound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a, b := genBounds(t, "a"), genBounds(t, "b")
		x, y := int64(pick(t, a, "x")), int64(pick(t, b, "y"))
		in := func(r IntConstantBounds, v int64) bool {
			return int64(r.Lower) <= v && v <= int64(r.Upper)
		}

		if r, overflow := a.Add(b); !overflow && !in(r, x+y) {
			t.Fatalf("%s + %s = %s misses %d", a, b, r, x+y)
		}
		if r, overflow := a.Sub(b); !overflow && !in(r, x-y) {
			t.Fatalf("%s - %s = %s misses %d", a, b, r, x-y)
		}
		if r, overflow := a.Mul(b); !overflow && !in(r, x*y) {
			t.Fatalf("%s * %s = %s misses %d", a, b, r, x*y)
		}
		if r, ok := a.Rem(b); ok && !in(r, x%y) {
			t.Fatalf("%s %% %s = %s misses %d", a, b, r, x%y)
		}
		if r := a.And(b); !in(r, x&y) {
			t.Fatalf("%s & %s = %s misses %d", a, b, r, x&y)
		}
		if r := a.Or(b); !in(r, int64(int32(x)|int32(y))) {
			t.Fatalf("%s | %s = %s misses %d", a, b, r, x|y)
		}
		if r := a.Xor(b); !in(r, int64(int32(x)^int32(y))) {
			t.Fatalf("%s ^ %s = %s misses %d", a, b, r, x^y)
		}
		if r := a.Not(); !in(r, int64(^int32(x))) {
			t.Fatalf("~%s = %s misses %d", a, r, ^x)
		}

		s := rapid.Int32Range(0, 31).Draw(t, "shift")
		sb := IntConstantBounds{s, s}
		if r := a.Shl(sb); !in(r, int64(int32(x)<<uint(s))) {
			t.Fatalf("%s << %d = %s misses", a, s, r)
		}
		if r := a.Shr(sb); !in(r, int64(int32(x)>>uint(s))) {
			t.Fatalf("%s >> %d = %s misses", a, s, r)
		}
		if r, overflow := a.ShrU(sb); !overflow && !in(r, int64(uint32(int32(x))>>uint(s))) {
			t.Fatalf("%s >>> %d = %s misses", a, s, r)
		}
	})
}

func TestIntBounds(t *testing.T) {
	var nilBounds *IntBounds
	assert.Assert(t, nilBounds.IsEmpty())
	_, ok := nilBounds.Upper(1)
	assert.Assert(t, !ok)

	b := NewIntBounds().WithUpper(7, -1).WithLower(3, 0)
	o, ok := b.Upper(7)
	assert.Assert(t, ok)
	assert.Equal(t, o, int32(-1))

	// 较弱的边界不替换已有的
	assert.Assert(t, b.WithUpper(7, 5) == b)
	stronger := b.WithUpper(7, -4)
	o, _ = stronger.Upper(7)
	assert.Equal(t, o, int32(-4))
	o, _ = b.Upper(7)
	assert.Equal(t, o, int32(-1))

	s := b.Shift(1)
	o, _ = s.Upper(7)
	assert.Equal(t, o, int32(0))
	o, _ = s.Lower(3)
	assert.Equal(t, o, int32(1))

	u := b.Union(NewIntBounds().WithUpper(7, 2))
	o, ok = u.Upper(7)
	assert.Assert(t, ok)
	assert.Equal(t, o, int32(2))
	_, ok = u.Lower(3)
	assert.Assert(t, !ok)

	assert.Check(t, is.DeepEqual(b.Bases(), []ValueNumber{3, 7}))
	assert.Equal(t, b.String(), "{>=v3+0 <=v7-1}")
}
