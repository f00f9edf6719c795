// properties_test.go - 复制传播、MemOp、表示转换与数组访问的性质测试

package globopt

import (
	"context"
	"fmt"
	"math"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"pgregory.net/rapid"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// optimizeT rapid 中使用的 optimize
func optimizeT(t *rapid.T, f *ir.Func, flags *config.Flags) (*ir.Func, Stats) {
	g := New(f.Clone(), Options{Flags: flags, Verify: true})
	if err := g.Optimize(context.Background()); err != nil {
		t.Fatalf("optimize: %v\n%s", err, f)
	}
	return g.Func(), g.Stats()
}

// onlyFeature 只打开 feat 的开关
func onlyFeature(feat config.Feature) *config.Flags {
	c := config.Default()
	for _, f := range config.Features() {
		c.Set(f, f == feat)
	}
	return c.Resolve(nil)
}

// ============================================================================
// 复制传播
// ============================================================================

// genCopies 复制与加法组成的直线程序，返回 a + b + c
func genCopies(t *rapid.T) *ir.Func {
	b := ir.NewBuilder("copies")
	p := b.Param("p", ir.Unknown)
	q := b.Param("q", ir.Unknown)
	vars := []ir.SymID{b.Sym("a"), b.Sym("b"), b.Sym("c")}
	for _, v := range vars {
		b.Ld(v, b.Reg(p))
	}
	srcs := append([]ir.SymID{p, q}, vars...)
	n := rapid.IntRange(1, 8).Draw(t, "n")
	for k := 0; k < n; k++ {
		l := fmt.Sprintf("op%d", k)
		dst := rapid.SampledFrom(vars).Draw(t, l+"_dst")
		src := genOpnd(t, b, srcs, l+"_a")
		if rapid.Bool().Draw(t, l+"_copy") {
			b.Ld(dst, src)
			continue
		}
		b.Binary(ir.OpAdd, dst, src, genOpnd(t, b, srcs, l+"_b"))
	}
	r := b.Sym("r")
	b.Binary(ir.OpAdd, r, b.Reg(vars[0]), b.Reg(vars[1]))
	b.Binary(ir.OpAdd, r, b.Reg(r), b.Reg(vars[2]))
	b.Ret(b.Reg(r))
	f, err := b.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	return f
}

// TestCopyPropIdempotent 复制传播的结果再做一次复制传播不再改写
func TestCopyPropIdempotent(t *testing.T) {
	flags := onlyFeature(config.FeatureCopyProp)
	rapid.Check(t, func(t *rapid.T) {
		f := genCopies(t)
		once, _ := optimizeT(t, f, flags)
		again := once.Clone()
		ir.ComputeLiveness(again)
		twice, st := optimizeT(t, again, flags)
		if st.CopyProps != 0 {
			t.Fatalf("second pass rewrote %d operands\nfirst:\n%s\nsecond:\n%s", st.CopyProps, once, twice)
		}
		p := ir.Num(float64(rapid.IntRange(-3, 3).Draw(t, "p")))
		q := rapid.SampledFrom([]ir.RVal{ir.Num(2), ir.Str("s"), ir.Undef()}).Draw(t, "q")
		for _, opt := range []*ir.Func{once, twice} {
			if _, err := compareRuns(f, opt, nil, []ir.RVal{p, q}); err != nil {
				t.Fatalf("%v\n%s", err, opt)
			}
		}
	})
}

// ============================================================================
// MemOp
// ============================================================================

func genIntArray(t *rapid.T, label string, holes bool) ir.RVal {
	n := rapid.IntRange(0, 6).Draw(t, label+"_len")
	elems := make([]float64, n)
	for k := range elems {
		elems[k] = float64(rapid.IntRange(-50, 50).Draw(t, fmt.Sprintf("%s%d", label, k)))
	}
	arr := ir.NewRArray(ir.ObjectNativeIntArray, elems...)
	if holes && n > 0 && rapid.Bool().Draw(t, label+"_hole") {
		arr.Obj.Array.Elems[rapid.IntRange(0, n-1).Draw(t, label+"_at")] = ir.Undef()
	}
	return arr
}

// TestMemOpEquivalence 批量操作与逐元素循环得到相同的数组
func TestMemOpEquivalence(t *testing.T) {
	fill := buildFill(t)
	fillOpt, st := optimize(t, fill, config.AllEnabled())
	assert.Equal(t, st.Memsets, 1)
	cp := buildCopyLoop(t)
	cpOpt, st := optimize(t, cp, config.AllEnabled())
	assert.Equal(t, st.Memcopies, 1)

	rapid.Check(t, func(t *rapid.T) {
		n := ir.Num(float64(rapid.IntRange(-1, 8).Draw(t, "n")))
		a := genIntArray(t, "a", false)
		if _, err := compareRuns(fill, fillOpt, nil, []ir.RVal{a, n}); err != nil {
			t.Fatalf("memset: %v", err)
		}
		dst, src := genIntArray(t, "dst", false), genIntArray(t, "src", true)
		if _, err := compareRuns(cp, cpOpt, nil, []ir.RVal{dst, src, n}); err != nil {
			t.Fatalf("memcopy: %v", err)
		}
	})
}

// ============================================================================
// 表示转换
// ============================================================================

// buildRoundTrip 特化后的值装箱写回对象
func buildRoundTrip(t *testing.T, loop bool) *ir.Func {
	b := ir.NewBuilder("roundtrip")
	p := b.Param("p", ir.Int.ToLikely())
	q := b.Param("q", ir.Number.ToLikely())
	o := b.Param("o", ir.Object.ToLikely())
	x, y, z := b.Sym("x"), b.Sym("y"), b.Sym("z")
	var header, exit ir.BlockID
	i := b.Sym("i")
	if loop {
		b.Ld(i, b.Int(0))
		header, exit = b.NewBlock(), b.NewBlock()
		body := b.NewBlock()
		b.Fallthrough(header)
		b.SetBlock(header)
		b.BrCond(ir.OpBrGe, b.Reg(i), b.Int(2), exit, body)
		b.SetBlock(body)
	}
	b.Binary(ir.OpSub, x, b.Reg(p), b.Int(1))
	b.Binary(ir.OpMul, y, b.Reg(q), b.Int(2))
	b.StFld(o, "a", b.Reg(p))
	b.StFld(o, "b", b.Reg(x))
	b.StFld(o, "c", b.Reg(y))
	b.Binary(ir.OpAdd, z, b.Reg(x), b.Reg(y))
	if loop {
		b.Binary(ir.OpAdd, i, b.Reg(i), b.Int(1))
		b.Br(header)
		b.SetBlock(exit)
	}
	b.Ret(b.Reg(z))
	return finish(t, b)
}

var roundTripInputs = []ir.RVal{
	ir.Num(0), ir.Num(1), ir.Num(-1), ir.Num(2147483647), ir.Num(-2147483648),
	ir.Num(2147483648), ir.Num(1.5), ir.Num(math.Copysign(0, -1)), ir.Str("7"), ir.Undef(),
}

// TestConversionRoundTrip 装箱与特化形式之间来回转换，写回的值与原值无法区分
func TestConversionRoundTrip(t *testing.T) {
	for _, loop := range []bool{false, true} {
		f := buildRoundTrip(t, loop)
		opt, st := optimize(t, f, config.AllEnabled())
		assert.Assert(t, st.SpecializedInstrs > 0)
		rapid.Check(t, func(rt *rapid.T) {
			p := rapid.SampledFrom(roundTripInputs).Draw(rt, "p")
			q := rapid.SampledFrom(append(roundTripInputs, ir.Num(0.1), ir.Num(1e300))).Draw(rt, "q")
			args := []ir.RVal{p, q, ir.NewRObject()}
			if _, err := compareRuns(f, opt, nil, args); err != nil {
				rt.Fatalf("loop=%v: %v\n%s", loop, err, opt)
			}
		})
	}
}

// buildLossy q | 0 需要有损 int32，q + 1 需要原值
func buildLossy(t *testing.T, loop bool) *ir.Func {
	b := ir.NewBuilder("lossy")
	q := b.Param("q", ir.Number.ToLikely())
	a, c, r, i := b.Sym("a"), b.Sym("c"), b.Sym("r"), b.Sym("i")
	b.Ld(r, b.Int(0))
	var header, exit ir.BlockID
	if loop {
		b.Ld(i, b.Int(0))
		header, exit = b.NewBlock(), b.NewBlock()
		body := b.NewBlock()
		b.Fallthrough(header)
		b.SetBlock(header)
		b.BrCond(ir.OpBrGe, b.Reg(i), b.Int(3), exit, body)
		b.SetBlock(body)
	}
	b.Binary(ir.OpOr, a, b.Reg(q), b.Int(0))
	b.Binary(ir.OpAdd, c, b.Reg(q), b.Int(1))
	b.Binary(ir.OpAdd, r, b.Reg(r), b.Reg(a))
	b.Binary(ir.OpAdd, r, b.Reg(r), b.Reg(c))
	if loop {
		b.Binary(ir.OpAdd, i, b.Reg(i), b.Int(1))
		b.Br(header)
		b.SetBlock(exit)
	}
	b.Ret(b.Reg(r))
	return finish(t, b)
}

// TestLossyIntNotReused 有损 int32 形式不会代替原值参与运算
func TestLossyIntNotReused(t *testing.T) {
	for _, loop := range []bool{false, true} {
		f := buildLossy(t, loop)
		opt, _ := optimize(t, f, config.AllEnabled())
		res := checkSame(t, f, opt, nil, ir.Num(1.5))
		if !loop {
			assert.Equal(t, res.Value.Num, 3.5)
		}
		rapid.Check(t, func(rt *rapid.T) {
			q := rapid.OneOf(
				rapid.Float64Range(-1e10, 1e10),
				rapid.SampledFrom([]float64{4294967301, -2.5, 0.5, 2147483648, -2147483649}),
			).Draw(rt, "q")
			if _, err := compareRuns(f, opt, nil, []ir.RVal{ir.Num(q)}); err != nil {
				rt.Fatalf("loop=%v: %v\n%s", loop, err, opt)
			}
		})
	}
}

// ============================================================================
// 数组访问
// ============================================================================

// TestBoundCheckEliminatedInLoop 循环中连续两次 a[i]，第二次复用第一次的边界检查
func TestBoundCheckEliminatedInLoop(t *testing.T) {
	arr := ir.ArrayOf(ir.ObjectNativeIntArray).ToLikely()
	b := ir.NewBuilder("bceloop")
	a := b.Param("a", arr)
	n := b.Param("n", ir.Int.ToLikely())
	i, s, x, y := b.Sym("i"), b.Sym("s"), b.Sym("x"), b.Sym("y")
	b.Ld(i, b.Int(0))
	b.Ld(s, b.Int(0))
	header, body, exit := b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Fallthrough(header)
	b.SetBlock(header)
	b.BrCond(ir.OpBrGe, b.Reg(i), b.Reg(n), exit, body)
	b.SetBlock(body)
	b.LdElem(x, a, i, arr)
	b.LdElem(y, a, i, arr)
	b.Binary(ir.OpAdd, s, b.Reg(s), b.Reg(x))
	b.Binary(ir.OpAdd, s, b.Reg(s), b.Reg(y))
	b.Binary(ir.OpAdd, i, b.Reg(i), b.Int(1))
	b.Br(header)
	b.SetBlock(exit)
	b.Ret(b.Reg(s))
	f := finish(t, b)

	opt, st := optimize(t, f, config.AllEnabled())
	assert.Assert(t, st.EliminatedBoundChecks >= 1)
	lds := instrsOf(opt, ir.OpLdElem)
	assert.Assert(t, is.Len(lds, 2))
	second := lds[1].Src1.Array
	assert.Assert(t, second != nil && second.EliminatedLowerBoundCheck && second.EliminatedUpperBoundCheck)

	a1 := ir.NewRArray(ir.ObjectNativeIntArray, 1, 2, 3)
	assert.Equal(t, checkSame(t, f, opt, nil, a1, ir.Num(3)).Value.Num, 12.0)
	for _, k := range []float64{0, 2, 5} {
		checkSame(t, f, opt, nil, a1, ir.Num(k))
	}
	checkSame(t, f, opt, nil, ir.NewRArray(ir.ObjectArray, 1, 2, 3), ir.Num(3))
}

// TestNegativeIndexThroughBranch 分支证明下标为负，访问改为无条件退出
func TestNegativeIndexThroughBranch(t *testing.T) {
	arr := ir.ArrayOf(ir.ObjectNativeIntArray).ToLikely()
	b := ir.NewBuilder("negbranch")
	a := b.Param("a", arr)
	p := b.Param("p", ir.Int.ToLikely())
	n := b.Param("n", ir.Int.ToLikely())
	j, v := b.Sym("j"), b.Sym("v")
	b.Ld(j, b.Int(0))
	header, body, neg, latch, exit := b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Fallthrough(header)
	b.SetBlock(header)
	b.BrCond(ir.OpBrGe, b.Reg(j), b.Reg(n), exit, body)
	b.SetBlock(body)
	b.BrCond(ir.OpBrLt, b.Reg(p), b.Int(0), neg, latch)
	b.SetBlock(neg)
	ld := b.LdElem(v, a, p, arr)
	ld.Profile.ValueType = ir.Int.ToLikely()
	b.Ret(b.Reg(v))
	b.SetBlock(latch)
	b.Binary(ir.OpAdd, j, b.Reg(j), b.Int(1))
	b.Br(header)
	b.SetBlock(exit)
	b.Ret(b.Int(0))
	f := finish(t, b)

	opt, _ := optimize(t, f, config.AllEnabled())
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpLdElem), 0))
	bails := instrsOf(opt, ir.OpBailOut)
	assert.Assert(t, is.Len(bails, 1))
	assert.Equal(t, bails[0].Block, neg)

	a1 := ir.NewRArray(ir.ObjectNativeIntArray, 1, 2)
	res := checkSame(t, f, opt, nil, a1, ir.Num(-1), ir.Num(2))
	assert.Assert(t, res.BailedOut)
	assert.Assert(t, res.BailOut.Has(ir.BailOutUnconditional))
	for _, args := range [][]ir.RVal{
		{a1, ir.Num(0), ir.Num(2)},
		{a1, ir.Num(-3), ir.Num(0)},
		{a1, ir.Num(1.5), ir.Num(2)},
	} {
		checkSame(t, f, opt, nil, args...)
	}
}
