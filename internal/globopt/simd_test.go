// simd_test.go - SIMD 表示选择测试

package globopt

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"pgregory.net/rapid"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// buildSimd F4 与 I4 运算各一串，取出的 lane 相加返回
func buildSimd(t *testing.T) *ir.Func {
	b := ir.NewBuilder("simd")
	p := b.Param("p", ir.Number.ToLikely())
	q := b.Param("q", ir.Int.ToLikely())
	v, w, m, x := b.Sym("v"), b.Sym("w"), b.Sym("m"), b.Sym("x")
	k, u, y, r := b.Sym("k"), b.Sym("u"), b.Sym("y"), b.Sym("r")
	b.Unary(ir.OpSimdSplatF4, v, b.Reg(p))
	b.Binary(ir.OpSimdAddF4, w, b.Reg(v), b.Reg(v))
	b.ReplaceLane(ir.OpSimdReplaceLaneF4, w, w, b.Reg(q), 3)
	b.Binary(ir.OpSimdMaxF4, m, b.Reg(w), b.Reg(v))
	b.ExtractLane(ir.OpSimdExtractLaneF4, x, m, 3)
	b.Unary(ir.OpSimdSplatI4, k, b.Reg(q))
	b.Binary(ir.OpSimdMulI4, u, b.Reg(k), b.Reg(k))
	b.Unary(ir.OpSimdNegI4, u, b.Reg(u))
	b.ExtractLane(ir.OpSimdExtractLaneI4, y, u, 0)
	b.Binary(ir.OpAdd, r, b.Reg(x), b.Reg(y))
	b.Ret(b.Reg(r))
	return finish(t, b)
}

func TestSimdSpecialized(t *testing.T) {
	f := buildSimd(t)
	opt, st := optimize(t, f, config.AllEnabled())
	if config.SimdSupported() {
		assert.Assert(t, st.SpecializedInstrs >= 9)
		lanes := instrsOf(opt, ir.OpSimdExtractLaneI4)
		assert.Assert(t, is.Len(lanes, 1))
		assert.Equal(t, lanes[0].Dst.Type, ir.TyInt32)
		assert.Assert(t, lanes[0].Src2.IsIntConst())
		lanes = instrsOf(opt, ir.OpSimdExtractLaneF4)
		assert.Assert(t, is.Len(lanes, 1))
		assert.Equal(t, lanes[0].Dst.Type, ir.TyFloat64)
	}
	res := checkSame(t, f, opt, nil, ir.Num(1.5), ir.Num(3))
	assert.Assert(t, !res.BailedOut)
	assert.Equal(t, res.Value.Num, -6.0)
	for _, args := range [][]ir.RVal{
		{ir.Num(-2), ir.Num(70000)},
		{ir.Num(0.25), ir.Num(-1)},
		{ir.Str("x"), ir.Num(2)},
		{ir.Num(4), ir.Num(2.5)},
	} {
		checkSame(t, f, opt, nil, args...)
	}
}

func TestSimdDisabled(t *testing.T) {
	f := buildSimd(t)
	c := config.Default()
	c.Set(config.FeatureSimdTypeSpec, false)
	opt, _ := optimize(t, f, c.Resolve(nil))
	lanes := instrsOf(opt, ir.OpSimdExtractLaneI4)
	assert.Assert(t, is.Len(lanes, 1))
	assert.Equal(t, lanes[0].Dst.Type, ir.TyVar)
	assert.Assert(t, lanes[0].Src2.IsIntConst())
	assert.Equal(t, checkSame(t, f, opt, nil, ir.Num(1.5), ir.Num(3)).Value.Num, -6.0)
}

// TestSimdAgrees 特化与否，SIMD 运算的结果一致
func TestSimdAgrees(t *testing.T) {
	f := buildSimd(t)
	on, _ := optimize(t, f, config.AllEnabled())
	c := config.Default()
	c.Set(config.FeatureSimdTypeSpec, false)
	off, _ := optimize(t, f, c.Resolve(nil))
	rapid.Check(t, func(t *rapid.T) {
		p := ir.Num(rapid.SampledFrom([]float64{0, -0.5, 1.5, 3, 1e9, -7}).Draw(t, "p"))
		q := ir.Num(float64(rapid.Int32().Draw(t, "q")))
		args := []ir.RVal{p, q}
		for _, opt := range []*ir.Func{on, off} {
			if _, err := compareRuns(f, opt, nil, args); err != nil {
				t.Fatalf("%v\n%s", err, opt)
			}
		}
	})
}
