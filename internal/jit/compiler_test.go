// compiler_test.go - 编译驱动测试

package jit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// buildSum for (i = 0; i < n; i++) s += i; return s
func buildSum(t *testing.T, name string) *ir.Func {
	t.Helper()
	b := ir.NewBuilder(name)
	n := b.Param("n", ir.Int.ToLikely())
	i, s := b.Sym("i"), b.Sym("s")
	b.Ld(i, b.Int(0))
	b.Ld(s, b.Int(0))
	header, body, exit := b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Fallthrough(header)
	b.SetBlock(header)
	b.BrCond(ir.OpBrGe, b.Reg(i), b.Reg(n), exit, body)
	b.SetBlock(body)
	b.Binary(ir.OpAdd, s, b.Reg(s), b.Reg(i))
	b.Binary(ir.OpAdd, i, b.Reg(i), b.Int(1))
	b.Br(header)
	b.SetBlock(exit)
	b.Ret(b.Reg(s))
	f, err := b.Finish()
	assert.NilError(t, err)
	return f
}

// buildSwitch 以 int 特化的 switch 比较字符串常量，第二个分支以字符串特化比较整数
func buildSwitch(t *testing.T, withStringCase bool) *ir.Func {
	t.Helper()
	b := ir.NewBuilder("switch")
	p := b.Param("p", ir.Int.ToLikely())
	hit, next := b.NewBlock(), b.NewBlock()
	br := b.BrCond(ir.OpBrEq, b.Reg(p), ir.StringOpnd("abc"), hit, next)
	br.Profile = &ir.Profile{SwitchIntSpec: true}
	b.SetBlock(hit)
	b.Ret(b.Int(1))
	b.SetBlock(next)
	if withStringCase {
		hit2, miss := b.NewBlock(), b.NewBlock()
		br := b.BrCond(ir.OpBrEq, b.Reg(p), b.Int(5), hit2, miss)
		br.Profile = &ir.Profile{StringSwitchSpec: true}
		b.SetBlock(hit2)
		b.Ret(b.Int(2))
		b.SetBlock(miss)
	}
	b.Ret(b.Int(0))
	f, err := b.Finish()
	assert.NilError(t, err)
	return f
}

func TestCompile(t *testing.T) {
	c := NewCompiler(nil, WithLogger(zaptest.NewLogger(t)))
	f := buildSum(t, "sum")
	before := f.String()

	res, err := c.Compile(context.Background(), f, nil)
	assert.NilError(t, err)
	assert.Equal(t, res.Attempts, 1)
	assert.Assert(t, is.Len(res.Disabled, 0))
	assert.Assert(t, res.Stats.SpecializedInstrs > 0)
	// 原函数不被修改
	assert.Equal(t, f.String(), before)

	_, err = ir.DecodeBailOutTable(res.BailOutTable)
	assert.NilError(t, err)

	for _, n := range []float64{0, 1, 10} {
		want, err := (&ir.Interp{}).Run(f, []ir.RVal{ir.Num(n)})
		assert.NilError(t, err)
		got, err := (&ir.Interp{}).Run(res.Func, []ir.RVal{ir.Num(n)})
		assert.NilError(t, err)
		assert.Assert(t, !got.BailedOut)
		assert.Equal(t, got.Value.Num, want.Value.Num)
	}
	// 非 int 参数在 n 的转换处退出，恢复后在原函数中完成循环
	got, err := (&ir.Interp{Fallback: f}).Run(res.Func, []ir.RVal{ir.Num(2.5)})
	assert.NilError(t, err)
	assert.Assert(t, got.BailedOut)
	assert.Assert(t, got.Resumed)
	assert.Equal(t, got.Value.Num, 3.0)

	cached, ok := c.Lookup("sum")
	assert.Assert(t, ok)
	assert.Assert(t, cached == res)
	c.Invalidate("sum")
	_, ok = c.Lookup("sum")
	assert.Assert(t, !ok)

	st := c.Stats()
	assert.Equal(t, st.Compiled, int64(1))
	assert.Equal(t, st.Failed, int64(0))
	assert.Assert(t, is.Contains(st.String(), "compiled=1"))
}

func TestCompileRecompiles(t *testing.T) {
	c := NewCompiler(nil)
	f := buildSwitch(t, false)

	res, err := c.Compile(context.Background(), f, nil)
	assert.NilError(t, err)
	assert.Equal(t, res.Attempts, 2)
	if diff := cmp.Diff([]config.Feature{config.FeatureSwitchIntSpec}, res.Disabled); diff != "" {
		t.Fatalf("disabled features (-want +got):\n%s", diff)
	}
	h := c.History("switch")
	assert.Assert(t, h.IsDisabled(config.FeatureSwitchIntSpec))
	assert.Assert(t, is.Contains(h.Reason(config.FeatureSwitchIntSpec), "not int"))
	assert.Equal(t, c.Stats().Recompiles, int64(1))

	// 历史保留：再次编译一次成功
	res, err = c.Compile(context.Background(), f, nil)
	assert.NilError(t, err)
	assert.Equal(t, res.Attempts, 1)

	got, err := (&ir.Interp{}).Run(res.Func, []ir.RVal{ir.Str("abc")})
	assert.NilError(t, err)
	assert.Equal(t, got.Value.Num, 1.0)
}

func TestCompileExplicitHistory(t *testing.T) {
	c := NewCompiler(nil)
	h := config.NewHistory()
	h.Disable(config.FeatureSwitchIntSpec, "known bad")

	res, err := c.Compile(context.Background(), buildSwitch(t, false), h)
	assert.NilError(t, err)
	assert.Equal(t, res.Attempts, 1)
	// 编译器自己保存的历史不受影响
	assert.Assert(t, !c.History("switch").IsDisabled(config.FeatureSwitchIntSpec))
}

func TestTooManyRecompiles(t *testing.T) {
	cfg := config.Default()
	cfg.GlobOpt.MaxRecompiles = 1
	c := NewCompiler(cfg)

	_, err := c.Compile(context.Background(), buildSwitch(t, true), nil)
	assert.Assert(t, errors.Is(err, ErrTooManyRecompiles), "err = %v", err)
	h := c.History("switch")
	assert.Assert(t, h.IsDisabled(config.FeatureSwitchIntSpec))
	assert.Assert(t, h.IsDisabled(config.FeatureStringSwitchSpec))
	st := c.Stats()
	assert.Equal(t, st.Failed, int64(1))
	assert.Equal(t, st.Recompiles, int64(2))
	_, ok := c.Lookup("switch")
	assert.Assert(t, !ok)
}

func TestCompileErrors(t *testing.T) {
	c := NewCompiler(nil)
	_, err := c.Compile(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNilFunc)

	b := ir.NewBuilder("bad")
	next := b.NewBlock()
	b.Ret(nil)
	b.Fallthrough(next)
	_, err = c.Compile(context.Background(), b.Func(), nil)
	assert.ErrorContains(t, err, "compile bad")
	assert.Equal(t, c.Stats().Failed, int64(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Compile(ctx, buildSum(t, "sum"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeadStores(t *testing.T) {
	build := func() *ir.Func {
		b := ir.NewBuilder("dead")
		p := b.Param("p", ir.Unknown)
		x, y := b.Sym("x"), b.Sym("y")
		b.Ld(x, b.Reg(p))
		b.Ld(y, b.Int(5))
		b.Ret(b.Reg(p))
		f, err := b.Finish()
		assert.NilError(t, err)
		return f
	}

	res, err := NewCompiler(nil).Compile(context.Background(), build(), nil)
	assert.NilError(t, err)
	assert.Assert(t, res.DeadStores >= 2)
	assert.Equal(t, res.Func.InstrCount(), 2)

	res, err = NewCompiler(nil, WithDeadStorePass(false)).Compile(context.Background(), build(), nil)
	assert.NilError(t, err)
	assert.Equal(t, res.DeadStores, 0)
	assert.Equal(t, res.Func.InstrCount(), 4)
}

func TestCompileAll(t *testing.T) {
	c := NewCompiler(nil)
	fns := []*ir.Func{buildSum(t, "a"), buildSum(t, "b"), buildSwitch(t, false)}
	results, err := c.CompileAll(context.Background(), fns)
	assert.NilError(t, err)
	assert.Assert(t, is.Len(results, 3))
	for n, r := range results {
		assert.Equal(t, r.Func.Name, fns[n].Name)
		_, ok := c.Lookup(fns[n].Name)
		assert.Assert(t, ok)
	}
	assert.Equal(t, c.Stats().Compiled, int64(3))

	_, err = c.CompileAll(context.Background(), []*ir.Func{buildSum(t, "c"), nil})
	assert.ErrorContains(t, err, ErrNilFunc.Error())
}

func TestPipelinePasses(t *testing.T) {
	cfg := config.Default()
	assert.Assert(t, is.DeepEqual(NewPipeline(cfg, nil, true).Passes(),
		[]string{"loops", "liveness", "globopt", "deadstore"}))
	assert.Assert(t, is.DeepEqual(NewPipeline(cfg, nil, false).Passes(),
		[]string{"loops", "liveness", "globopt"}))
}
