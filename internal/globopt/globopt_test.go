// globopt_test.go - 前向优化测试
//
// 优化后的函数与原函数在解释器中对照执行，结果与参数的副作用必须一致。
// 退出之后按恢复点装箱，在原函数中从恢复位置继续执行到结束；保护失败
// 而没有退出信息视为错误。

package globopt

import (
	"context"
	"fmt"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"pgregory.net/rapid"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// ============================================================================
// 辅助
// ============================================================================

func finish(t testing.TB, b *ir.Builder) *ir.Func {
	t.Helper()
	f, err := b.Finish()
	assert.NilError(t, err)
	return f
}

// optimize 优化 f 的拷贝，f 本身不变
func optimize(t testing.TB, f *ir.Func, flags *config.Flags) (*ir.Func, Stats) {
	t.Helper()
	g := New(f.Clone(), Options{Flags: flags, Verify: true})
	assert.NilError(t, g.Optimize(context.Background()))
	return g.Func(), g.Stats()
}

func cloneArgs(args []ir.RVal) []ir.RVal {
	out := make([]ir.RVal, len(args))
	for n, a := range args {
		out[n] = a.Clone()
	}
	return out
}

// compareRuns 对照执行。优化后的函数退出时在 orig 中继续，最终结果同样比较
func compareRuns(orig, opt *ir.Func, host map[string]ir.HostFunc, args []ir.RVal) (*ir.RunResult, error) {
	wantArgs, gotArgs := cloneArgs(args), cloneArgs(args)
	want, err := (&ir.Interp{Host: host}).Run(orig, wantArgs)
	if err != nil {
		return nil, fmt.Errorf("original: %w", err)
	}
	got, err := (&ir.Interp{Host: host, Fallback: orig}).Run(opt, gotArgs)
	if err != nil {
		return nil, fmt.Errorf("optimized: %w", err)
	}
	if got.BailedOut != got.Resumed {
		return got, fmt.Errorf("bailout %s did not resume", got.BailOut)
	}
	if !want.Value.DeepEqual(got.Value) {
		return got, fmt.Errorf("result %s, want %s", got.Value, want.Value)
	}
	for n := range wantArgs {
		if !wantArgs[n].DeepEqual(gotArgs[n]) {
			return got, fmt.Errorf("arg %d is %s, want %s", n, gotArgs[n], wantArgs[n])
		}
	}
	return got, nil
}

func checkSame(t *testing.T, orig, opt *ir.Func, host map[string]ir.HostFunc, args ...ir.RVal) *ir.RunResult {
	t.Helper()
	res, err := compareRuns(orig, opt, host, args)
	assert.NilError(t, err, "args %v\n%s", args, opt)
	return res
}

// instrsOf 函数中所有未删除块里操作码为 op 的指令
func instrsOf(f *ir.Func, op ir.Opcode) []*ir.Instr {
	var out []*ir.Instr
	for _, b := range f.Blocks {
		if b.Deleted {
			continue
		}
		for i := b.First(); i != nil; i = i.Next() {
			if i.Op == op {
				out = append(out, i)
			}
		}
	}
	return out
}

// precedes a 与 b 在同一块中且 a 在前
func precedes(a, b *ir.Instr) bool {
	if a.Block != b.Block {
		return false
	}
	for i := a.Next(); i != nil; i = i.Next() {
		if i == b {
			return true
		}
	}
	return false
}

// shaped 以属性名构造对象
func shaped(f *ir.Func, fields map[string]float64) ir.RVal {
	o := ir.NewRObject()
	for name, v := range fields {
		o.Obj.Fields[f.Syms.Property(name)] = ir.Num(v)
	}
	return o
}

// ============================================================================
// 常量与复制
// ============================================================================

func TestConstFold(t *testing.T) {
	b := ir.NewBuilder("fold")
	x, y := b.Sym("x"), b.Sym("y")
	b.Ld(x, b.Int(2))
	b.Binary(ir.OpAdd, y, b.Reg(x), b.Int(3))
	b.Ret(b.Reg(y))
	f := finish(t, b)

	opt, st := optimize(t, f, config.AllEnabled())
	assert.Assert(t, st.ConstFolds > 0)
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpAdd), 0))
	res := checkSame(t, f, opt, nil)
	assert.Equal(t, res.Value.Num, 5.0)
}

func TestFoldedBranch(t *testing.T) {
	b := ir.NewBuilder("branch")
	c := b.Sym("c")
	b.Ld(c, b.Int(1))
	then, els := b.NewBlock(), b.NewBlock()
	b.BrCond(ir.OpBrEq, b.Reg(c), b.Int(1), then, els)
	b.SetBlock(then)
	b.Ret(b.Int(10))
	b.SetBlock(els)
	b.Ret(b.Int(20))
	f := finish(t, b)

	opt, st := optimize(t, f, config.AllEnabled())
	assert.Equal(t, st.FoldedBranches, 1)
	assert.Assert(t, opt.Blocks[els].Deleted)
	res := checkSame(t, f, opt, nil)
	assert.Equal(t, res.Value.Num, 10.0)
}

func TestCopyProp(t *testing.T) {
	build := func() *ir.Func {
		b := ir.NewBuilder("copy")
		p := b.Param("p", ir.Unknown)
		x, y := b.Sym("x"), b.Sym("y")
		b.Ld(x, b.Reg(p))
		b.Binary(ir.OpAdd, y, b.Reg(x), b.Reg(x))
		b.Ret(b.Reg(y))
		return finish(t, b)
	}
	f := build()
	opt, st := optimize(t, f, config.AllEnabled())
	assert.Assert(t, st.CopyProps > 0)
	checkSame(t, f, opt, nil, ir.Num(4))
	checkSame(t, f, opt, nil, ir.Str("ab"))

	c := config.Default()
	c.Set(config.FeatureCopyProp, false)
	_, st = optimize(t, build(), c.Resolve(nil))
	assert.Equal(t, st.CopyProps, 0)
}

func TestAllDisabled(t *testing.T) {
	b := ir.NewBuilder("off")
	p := b.Param("p", ir.Int.ToLikely())
	x := b.Sym("x")
	b.Binary(ir.OpAdd, x, b.Reg(p), b.Int(1))
	b.Ret(b.Reg(x))
	f := finish(t, b)

	opt, st := optimize(t, f, nil)
	assert.Equal(t, st.SpecializedInstrs, 0)
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpAddI4), 0))
	checkSame(t, f, opt, nil, ir.Num(1))
}

// ============================================================================
// int 特化
// ============================================================================

func TestIntSpecNoOverflow(t *testing.T) {
	b := ir.NewBuilder("spec")
	p := b.Param("p", ir.Int.ToLikely())
	x, y := b.Sym("x"), b.Sym("y")
	b.Binary(ir.OpAnd, y, b.Reg(p), b.Int(10))
	b.Binary(ir.OpAdd, x, b.Reg(y), b.Int(1))
	b.Ret(b.Reg(x))
	f := finish(t, b)

	opt, st := optimize(t, f, config.AllEnabled())
	assert.Assert(t, st.SpecializedInstrs >= 2)
	adds := instrsOf(opt, ir.OpAddI4)
	assert.Assert(t, is.Len(adds, 1))
	// y 在 [0, 10] 中，加 1 不会溢出
	assert.Assert(t, !adds[0].HasBailOut())

	for _, arg := range []ir.RVal{ir.Num(5), ir.Num(7.5), ir.Num(-3), ir.Str("12"), ir.Undef()} {
		checkSame(t, f, opt, nil, arg)
	}
}

func TestIntSpecOverflowBailOut(t *testing.T) {
	b := ir.NewBuilder("overflow")
	p := b.Param("p", ir.Int.ToLikely())
	x, y, y2 := b.Sym("x"), b.Sym("y"), b.Sym("y2")
	b.Binary(ir.OpAnd, y, b.Reg(p), b.Int(1))
	b.Binary(ir.OpAdd, y2, b.Reg(y), b.Int(2147483646))
	b.Binary(ir.OpAdd, x, b.Reg(y2), b.Int(1))
	b.Ret(b.Reg(x))
	f := finish(t, b)

	opt, _ := optimize(t, f, config.AllEnabled())
	guarded := 0
	for _, i := range instrsOf(opt, ir.OpAddI4) {
		if i.HasBailOut() && i.BailOut.Kind.Has(ir.BailOutOnOverflow) {
			guarded++
		}
	}
	assert.Equal(t, guarded, 1)

	res := checkSame(t, f, opt, nil, ir.Num(0))
	assert.Assert(t, !res.BailedOut)
	assert.Equal(t, res.Value.Num, 2147483647.0)

	res = checkSame(t, f, opt, nil, ir.Num(1))
	assert.Assert(t, res.BailedOut)
	assert.Assert(t, res.BailOut.Has(ir.BailOutOnOverflow))
}

func TestSwitchSpecRecompile(t *testing.T) {
	b := ir.NewBuilder("switch")
	p := b.Param("p", ir.Int.ToLikely())
	hit, miss := b.NewBlock(), b.NewBlock()
	br := b.BrCond(ir.OpBrEq, b.Reg(p), ir.StringOpnd("abc"), hit, miss)
	br.Profile = &ir.Profile{SwitchIntSpec: true}
	b.SetBlock(hit)
	b.Ret(b.Int(1))
	b.SetBlock(miss)
	b.Ret(b.Int(0))
	f := finish(t, b)

	g := New(f.Clone(), Options{Flags: config.AllEnabled()})
	err := g.Optimize(context.Background())
	re, ok := IsRecompile(err)
	assert.Assert(t, ok, "err = %v", err)
	assert.Equal(t, re.Feature, config.FeatureSwitchIntSpec)
	assert.ErrorContains(t, err, "switch_int_spec")

	// 关闭该优化后正常完成
	c := config.Default()
	c.Set(config.FeatureSwitchIntSpec, false)
	opt, _ := optimize(t, f, c.Resolve(nil))
	checkSame(t, f, opt, nil, ir.Str("abc"))
	checkSame(t, f, opt, nil, ir.Num(3))
}

// ============================================================================
// 属性
// ============================================================================

func TestFieldCopyProp(t *testing.T) {
	b := ir.NewBuilder("fields")
	o := b.Param("o", ir.Object.ToLikely())
	x, y, r := b.Sym("x"), b.Sym("y"), b.Sym("r")
	b.LdFld(x, o, "f")
	b.StFld(o, "g", b.Int(1))
	b.LdFld(y, o, "f")
	b.Binary(ir.OpAdd, r, b.Reg(x), b.Reg(y))
	b.Ret(b.Reg(r))
	f := finish(t, b)

	opt, st := optimize(t, f, config.AllEnabled())
	assert.Equal(t, st.FieldCopyProps, 1)
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpLdFld), 1))

	obj := ir.NewRObject()
	obj.Obj.Fields[f.Syms.Property("f")] = ir.Num(20)
	res := checkSame(t, f, opt, nil, obj)
	assert.Equal(t, res.Value.Num, 40.0)
}

func TestFieldKilledByCall(t *testing.T) {
	b := ir.NewBuilder("kill")
	o := b.Param("o", ir.Object.ToLikely())
	x, y, r := b.Sym("x"), b.Sym("y"), b.Sym("r")
	b.LdFld(x, o, "f")
	b.Call(ir.NoSym, "bump", b.Reg(o))
	b.LdFld(y, o, "f")
	b.Binary(ir.OpAdd, r, b.Reg(x), b.Reg(y))
	b.Ret(b.Reg(r))
	f := finish(t, b)
	prop := f.Syms.Property("f")

	host := map[string]ir.HostFunc{
		"bump": func(args []ir.RVal) ir.RVal {
			fields := args[0].Obj.Fields
			fields[prop] = ir.Num(fields[prop].Num + 1)
			return ir.Undef()
		},
	}
	opt, st := optimize(t, f, config.AllEnabled())
	assert.Equal(t, st.FieldCopyProps, 0)
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpLdFld), 2))

	obj := ir.NewRObject()
	obj.Obj.Fields[prop] = ir.Num(1)
	res := checkSame(t, f, opt, host, obj)
	assert.Equal(t, res.Value.Num, 3.0)
}

// buildFieldLoop for (i = 0; i < n; i++) s += o.f; return s
func buildFieldLoop(t *testing.T) *ir.Func {
	b := ir.NewBuilder("fieldloop")
	o := b.Param("o", ir.Object.ToLikely())
	n := b.Param("n", ir.Int.ToLikely())
	i, s, x := b.Sym("i"), b.Sym("s"), b.Sym("x")
	b.Ld(i, b.Int(0))
	b.Ld(s, b.Int(0))
	header, body, exit := b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Fallthrough(header)
	b.SetBlock(header)
	b.BrCond(ir.OpBrGe, b.Reg(i), b.Reg(n), exit, body)
	b.SetBlock(body)
	b.WithShape(b.LdFld(x, o, "f"), "f")
	b.Binary(ir.OpAdd, s, b.Reg(s), b.Reg(x))
	b.Binary(ir.OpAdd, i, b.Reg(i), b.Int(1))
	b.Br(header)
	b.SetBlock(exit)
	b.Ret(b.Reg(s))
	return finish(t, b)
}

// TestFieldHoist 关闭字段 PRE：类型检查与读取都移到 landing pad
func TestFieldHoist(t *testing.T) {
	f := buildFieldLoop(t)
	flags := config.AllEnabled()
	flags.Disable(config.FeatureFieldPRE)
	opt, st := optimize(t, f, flags)
	assert.Equal(t, st.FieldHoists, 1)
	assert.Equal(t, st.TypeCheckHoists, 1)
	pad := opt.Loops[0].LandingPad
	lds := instrsOf(opt, ir.OpLdFld)
	assert.Assert(t, is.Len(lds, 1))
	assert.Equal(t, lds[0].Block, pad)
	assert.Assert(t, lds[0].Src1.ObjType != nil && lds[0].Src1.ObjType.Checked)
	assert.Assert(t, !lds[0].HasBailOut())
	chks := instrsOf(opt, ir.OpCheckObjType)
	assert.Assert(t, is.Len(chks, 1))
	assert.Equal(t, chks[0].Block, pad)
	assert.Assert(t, chks[0].BailOut.Kind.Has(ir.BailOutFailedTypeCheck))
	assert.Assert(t, precedes(chks[0], lds[0]))

	obj := shaped(f, map[string]float64{"f": 2})
	for _, n := range []float64{0, 1, 3} {
		res := checkSame(t, f, opt, nil, obj, ir.Num(n))
		assert.Assert(t, !res.BailedOut)
		assert.Equal(t, res.Value.Num, 2*n)
	}
	// 类型不同：在 landing pad 上退出，从循环头继续
	res := checkSame(t, f, opt, nil, shaped(f, map[string]float64{"f": 2, "g": 1}), ir.Num(3))
	assert.Assert(t, res.BailedOut)
	assert.Assert(t, res.BailOut.Has(ir.BailOutFailedTypeCheck))
	assert.Equal(t, res.Value.Num, 6.0)
}

// ============================================================================
// 循环
// ============================================================================

func TestInvariantHoist(t *testing.T) {
	b := ir.NewBuilder("hoist")
	p := b.Param("p", ir.Int.ToLikely())
	n := b.Param("n", ir.Int.ToLikely())
	i, s, k := b.Sym("i"), b.Sym("s"), b.Sym("k")
	b.Ld(i, b.Int(0))
	b.Ld(s, b.Int(0))
	header, body, exit := b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Fallthrough(header)
	b.SetBlock(header)
	b.BrCond(ir.OpBrGe, b.Reg(i), b.Reg(n), exit, body)
	b.SetBlock(body)
	b.Binary(ir.OpMul, k, b.Reg(p), b.Int(3))
	b.Binary(ir.OpAdd, s, b.Reg(s), b.Reg(k))
	b.Binary(ir.OpAdd, i, b.Reg(i), b.Int(1))
	b.Br(header)
	b.SetBlock(exit)
	b.Ret(b.Reg(s))
	f := finish(t, b)

	opt, st := optimize(t, f, config.AllEnabled())
	assert.Assert(t, st.HoistedInstrs >= 1)
	assert.Assert(t, st.PrepassLoops >= 1)
	pad := opt.Blocks[opt.Loops[0].LandingPad]
	found := false
	for i := pad.First(); i != nil; i = i.Next() {
		if i.Op == ir.OpMulI4 {
			found = true
		}
	}
	assert.Assert(t, found, "%s", opt)

	for _, args := range [][]ir.RVal{
		{ir.Num(2), ir.Num(4)},
		{ir.Num(-7), ir.Num(0)},
		{ir.Num(0), ir.Num(2)},
		{ir.Num(1 << 30), ir.Num(1)},
		{ir.Num(1.5), ir.Num(3)},
	} {
		checkSame(t, f, opt, nil, args...)
	}
}

// buildFill for (i = 0; i < n; i++) a[i] = 0
func buildFill(t *testing.T) *ir.Func {
	arr := ir.ArrayOf(ir.ObjectNativeIntArray).ToLikely()
	b := ir.NewBuilder("fill")
	a := b.Param("a", arr)
	n := b.Param("n", ir.Int.ToLikely())
	i := b.Sym("i")
	b.Ld(i, b.Int(0))
	header, body, exit := b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Fallthrough(header)
	b.SetBlock(header)
	b.BrCond(ir.OpBrGe, b.Reg(i), b.Reg(n), exit, body)
	b.SetBlock(body)
	b.StElem(a, i, b.Int(0), arr)
	b.Binary(ir.OpAdd, i, b.Reg(i), b.Int(1))
	b.Br(header)
	b.SetBlock(exit)
	b.Ret(nil)
	return finish(t, b)
}

func TestMemset(t *testing.T) {
	f := buildFill(t)
	opt, st := optimize(t, f, config.AllEnabled())
	assert.Equal(t, st.Memsets, 1)
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpStElem), 0))
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpMemset), 1))

	arr := ir.NewRArray(ir.ObjectNativeIntArray, 1, 2, 3, 4, 5)
	res := checkSame(t, f, opt, nil, arr, ir.Num(5))
	assert.Assert(t, !res.BailedOut)
	res = checkSame(t, f, opt, nil, arr, ir.Num(3))
	assert.Assert(t, !res.BailedOut)
	res = checkSame(t, f, opt, nil, arr, ir.Num(0))
	assert.Assert(t, !res.BailedOut)
	// 超出长度时在循环前退出
	checkSame(t, f, opt, nil, arr, ir.Num(9))
}

func TestMemsetDisabled(t *testing.T) {
	f := buildFill(t)
	c := config.Default()
	c.Set(config.FeatureMemset, false)
	opt, st := optimize(t, f, c.Resolve(nil))
	assert.Equal(t, st.Memsets, 0)
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpStElem), 1))
	checkSame(t, f, opt, nil, ir.NewRArray(ir.ObjectNativeIntArray, 1, 2, 3), ir.Num(3))
}

// buildCopyLoop for (i = 0; i < n; i++) dst[i] = src[i]
func buildCopyLoop(t *testing.T) *ir.Func {
	arr := ir.ArrayOf(ir.ObjectNativeIntArray).ToLikely()
	b := ir.NewBuilder("copyloop")
	dst := b.Param("dst", arr)
	src := b.Param("src", arr)
	n := b.Param("n", ir.Int.ToLikely())
	i, v := b.Sym("i"), b.Sym("v")
	b.Ld(i, b.Int(0))
	header, body, exit := b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Fallthrough(header)
	b.SetBlock(header)
	b.BrCond(ir.OpBrGe, b.Reg(i), b.Reg(n), exit, body)
	b.SetBlock(body)
	b.LdElem(v, src, i, arr)
	b.StElem(dst, i, b.Reg(v), arr)
	b.Binary(ir.OpAdd, i, b.Reg(i), b.Int(1))
	b.Br(header)
	b.SetBlock(exit)
	b.Ret(nil)
	return finish(t, b)
}

func TestCopyLoop(t *testing.T) {
	f := buildCopyLoop(t)
	opt, st := optimize(t, f, config.AllEnabled())
	assert.Equal(t, st.Memcopies, 1)
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpStElem), 0))
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpLdElem), 0))
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpMemcopy), 1))
	for _, n := range []float64{0, 2, 4, 6} {
		checkSame(t, f, opt, nil,
			ir.NewRArray(ir.ObjectNativeIntArray, 0, 0, 0, 0),
			ir.NewRArray(ir.ObjectNativeIntArray, 5, 6, 7, 8),
			ir.Num(n))
	}
	// 源数组有空洞：空洞原样复制
	holey := ir.NewRArray(ir.ObjectNativeIntArray, 5, 6, 7, 8)
	holey.Obj.Array.Elems[1] = ir.Undef()
	res := checkSame(t, f, opt, nil, ir.NewRArray(ir.ObjectNativeIntArray, 0, 0, 0, 0), holey, ir.Num(4))
	assert.Assert(t, !res.BailedOut)
}

func TestTailDup(t *testing.T) {
	b := ir.NewBuilder("taildup")
	p := b.Param("p", ir.Int.ToLikely())
	x := b.Sym("x")
	then, els, join := b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.BrCond(ir.OpBrLt, b.Reg(p), b.Int(0), then, els)
	b.SetBlock(then)
	b.Ld(x, b.Int(1))
	b.Br(join)
	b.SetBlock(els)
	b.Ld(x, b.Int(2))
	b.Fallthrough(join)
	b.SetBlock(join)
	b.Ret(b.Reg(x))
	f := finish(t, b)

	opt, st := optimize(t, f, config.AllEnabled())
	assert.Equal(t, st.TailDups, 2)
	assert.Assert(t, opt.Blocks[join].Deleted)
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpRet), 2))
	assert.Equal(t, checkSame(t, f, opt, nil, ir.Num(-1)).Value.Num, 1.0)
	assert.Equal(t, checkSame(t, f, opt, nil, ir.Num(1)).Value.Num, 2.0)
}

// TestTailDupBackEdge 循环体内菱形共用的回边块复制到两条路径上
func TestTailDupBackEdge(t *testing.T) {
	b := ir.NewBuilder("taildup_latch")
	n := b.Param("n", ir.Int.ToLikely())
	i, s := b.Sym("i"), b.Sym("s")
	b.Ld(i, b.Int(0))
	b.Ld(s, b.Int(0))
	header, body, then, els, latch, exit := b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Fallthrough(header)
	b.SetBlock(header)
	b.BrCond(ir.OpBrGe, b.Reg(i), b.Reg(n), exit, body)
	b.SetBlock(body)
	b.BrCond(ir.OpBrLt, b.Reg(i), b.Int(2), then, els)
	b.SetBlock(then)
	b.Binary(ir.OpAdd, s, b.Reg(s), b.Int(1))
	b.Br(latch)
	b.SetBlock(els)
	b.Binary(ir.OpAdd, s, b.Reg(s), b.Int(10))
	b.Fallthrough(latch)
	b.SetBlock(latch)
	b.Binary(ir.OpAdd, i, b.Reg(i), b.Int(1))
	b.Br(header)
	b.SetBlock(exit)
	b.Ret(b.Reg(s))
	f := finish(t, b)

	opt, st := optimize(t, f, config.AllEnabled())
	assert.Equal(t, st.TailDups, 2)
	assert.Assert(t, opt.Blocks[latch].Deleted)
	l := opt.Loop(opt.Blocks[header].Loop)
	assert.Assert(t, l != nil)
	assert.Assert(t, l.IsBackEdge(then) && l.IsBackEdge(els))
	assert.Assert(t, !l.IsBackEdge(latch) && !l.Contains(latch))
	assert.Assert(t, is.Contains(opt.Blocks[header].Preds, then))
	assert.Assert(t, is.Contains(opt.Blocks[header].Preds, els))
	for _, k := range []float64{0, 1, 2, 5} {
		checkSame(t, f, opt, nil, ir.Num(k))
	}
	assert.Equal(t, checkSame(t, f, opt, nil, ir.Num(4)).Value.Num, 22.0)
}

// ============================================================================
// 数组
// ============================================================================

func TestBoundCheckEliminated(t *testing.T) {
	arr := ir.ArrayOf(ir.ObjectNativeIntArray).ToLikely()
	b := ir.NewBuilder("bce")
	a := b.Param("a", arr)
	i := b.Param("i", ir.Int.ToLikely())
	x, y, r := b.Sym("x"), b.Sym("y"), b.Sym("r")
	b.LdElem(x, a, i, arr)
	b.LdElem(y, a, i, arr)
	b.Binary(ir.OpAdd, r, b.Reg(x), b.Reg(y))
	b.Ret(b.Reg(r))
	f := finish(t, b)

	opt, st := optimize(t, f, config.AllEnabled())
	assert.Equal(t, st.EliminatedBoundChecks, 1)
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpCheckArray), 1))
	lds := instrsOf(opt, ir.OpLdElem)
	assert.Assert(t, is.Len(lds, 2))
	assert.Assert(t, lds[0].HasBailOut())
	second := lds[1].Src1.Array
	assert.Assert(t, second != nil && second.EliminatedLowerBoundCheck && second.EliminatedUpperBoundCheck)

	a1 := ir.NewRArray(ir.ObjectNativeIntArray, 5, 6, 7)
	assert.Equal(t, checkSame(t, f, opt, nil, a1, ir.Num(1)).Value.Num, 12.0)
	for _, idx := range []float64{-1, 3, 0.5} {
		checkSame(t, f, opt, nil, a1, ir.Num(idx))
	}
	// 数组类型与 profile 不符
	checkSame(t, f, opt, nil, ir.NewRArray(ir.ObjectArray, 5, 6, 7), ir.Num(1))
}

func TestNegativeIndexBailOut(t *testing.T) {
	arr := ir.ArrayOf(ir.ObjectNativeIntArray).ToLikely()
	b := ir.NewBuilder("negative")
	a := b.Param("a", arr)
	i, v := b.Sym("i"), b.Sym("v")
	b.Ld(i, b.Int(-1))
	ld := b.LdElem(v, a, i, arr)
	ld.Profile.ValueType = ir.Int.ToLikely()
	b.Ret(b.Reg(v))
	f := finish(t, b)

	opt, _ := optimize(t, f, config.AllEnabled())
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpBailOut), 1))
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpRet), 0))
	res := checkSame(t, f, opt, nil, ir.NewRArray(ir.ObjectNativeIntArray, 1))
	assert.Assert(t, res.BailedOut)
	assert.Assert(t, res.BailOut.Has(ir.BailOutUnconditional))
}

// ============================================================================
// 随机程序对照
// ============================================================================

var propOps = []ir.Opcode{
	ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr,
}

func genOpnd(t *rapid.T, b *ir.Builder, srcs []ir.SymID, label string) *ir.Opnd {
	if rapid.Bool().Draw(t, label+"_const") {
		return b.Int(rapid.Int32Range(-4, 8).Draw(t, label+"_c"))
	}
	return b.Reg(rapid.SampledFrom(srcs).Draw(t, label+"_sym"))
}

func genOps(t *rapid.T, b *ir.Builder, dsts, srcs []ir.SymID, label string) {
	n := rapid.IntRange(0, 4).Draw(t, label+"_n")
	for k := 0; k < n; k++ {
		l := fmt.Sprintf("%s%d", label, k)
		op := rapid.SampledFrom(propOps).Draw(t, l+"_op")
		dst := rapid.SampledFrom(dsts).Draw(t, l+"_dst")
		b.Binary(op, dst, genOpnd(t, b, srcs, l+"_a"), genOpnd(t, b, srcs, l+"_b"))
	}
}

// genProgram 入口运算、菱形分支、计数循环，返回 x + y + z
func genProgram(t *rapid.T) *ir.Func {
	b := ir.NewBuilder("random")
	p := b.Param("p", ir.Int.ToLikely())
	q := b.Param("q", ir.Number.ToLikely())
	x, y, z := b.Sym("x"), b.Sym("y"), b.Sym("z")
	vars := []ir.SymID{x, y, z}
	for _, v := range vars {
		b.Ld(v, b.Int(rapid.Int32Range(-3, 3).Draw(t, fmt.Sprintf("init%d", v))))
	}
	srcs := []ir.SymID{x, y, z, p, q}
	genOps(t, b, vars, srcs, "entry")

	then, els, join := b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.BrCond(ir.OpBrLt, b.Reg(x), b.Reg(y), then, els)
	b.SetBlock(then)
	genOps(t, b, vars, srcs, "then")
	b.Br(join)
	b.SetBlock(els)
	genOps(t, b, vars, srcs, "else")
	b.Fallthrough(join)

	b.SetBlock(join)
	i := b.Sym("i")
	b.Ld(i, b.Int(0))
	header, body, exit := b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Fallthrough(header)
	b.SetBlock(header)
	b.BrCond(ir.OpBrGe, b.Reg(i), b.Int(rapid.Int32Range(0, 3).Draw(t, "trips")), exit, body)
	b.SetBlock(body)
	genOps(t, b, vars, []ir.SymID{x, y, z, p, q, i}, "body")
	b.Binary(ir.OpAdd, i, b.Reg(i), b.Int(1))
	b.Br(header)

	b.SetBlock(exit)
	r := b.Sym("r")
	b.Binary(ir.OpAdd, r, b.Reg(x), b.Reg(y))
	b.Binary(ir.OpAdd, r, b.Reg(r), b.Reg(z))
	b.Ret(b.Reg(r))

	f, err := b.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	return f
}

// TestRandomProgramsAgree 随机程序优化前后行为一致
func TestRandomProgramsAgree(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := genProgram(t)
		g := New(f.Clone(), Options{Flags: config.AllEnabled(), Verify: true})
		if err := g.Optimize(context.Background()); err != nil {
			t.Fatalf("optimize: %v\n%s", err, f)
		}
		opt := g.Func()

		p := ir.Num(float64(rapid.IntRange(-5, 5).Draw(t, "p")))
		q := ir.Num(rapid.SampledFrom([]float64{0, 0.5, -2, 3, 1e10}).Draw(t, "q"))
		if _, err := compareRuns(f, opt, nil, []ir.RVal{p, q}); err != nil {
			t.Fatalf("%v\noriginal:\n%s\noptimized:\n%s", err, f, opt)
		}
	})
}

func TestOptimizeCanceled(t *testing.T) {
	f := buildFill(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(f.Clone(), Options{Flags: config.AllEnabled()}).Optimize(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
