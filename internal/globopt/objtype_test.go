// objtype_test.go - 对象类型、类型检查与字段 PRE 测试

package globopt

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// ============================================================================
// 直线代码
// ============================================================================

func TestTypeCheckEliminated(t *testing.T) {
	b := ir.NewBuilder("typecheck")
	o := b.Param("o", ir.Object.ToLikely())
	x, y, r := b.Sym("x"), b.Sym("y"), b.Sym("r")
	b.WithShape(b.LdFld(x, o, "f"), "f", "g")
	b.WithShape(b.LdFld(y, o, "g"), "f", "g")
	b.Binary(ir.OpAdd, r, b.Reg(x), b.Reg(y))
	b.Ret(b.Reg(r))
	f := finish(t, b)

	opt, st := optimize(t, f, config.AllEnabled())
	assert.Equal(t, st.TypeChecks, 1)
	assert.Equal(t, st.TypeChecksRemoved, 1)
	lds := instrsOf(opt, ir.OpLdFld)
	assert.Assert(t, is.Len(lds, 2))
	first, second := lds[0], lds[1]
	assert.Assert(t, first.HasBailOut() && first.BailOut.Kind.Has(ir.BailOutFailedTypeCheck))
	assert.Assert(t, first.Src1.ObjType != nil && !first.Src1.ObjType.Checked)
	assert.Assert(t, !second.HasBailOut())
	assert.Assert(t, second.Src1.ObjType != nil && second.Src1.ObjType.Checked)

	res := checkSame(t, f, opt, nil, shaped(f, map[string]float64{"f": 1, "g": 2}))
	assert.Assert(t, !res.BailedOut)
	assert.Equal(t, res.Value.Num, 3.0)

	for _, arg := range []ir.RVal{
		shaped(f, map[string]float64{"f": 1}),
		shaped(f, map[string]float64{"f": 1, "g": 2, "h": 3}),
		ir.Num(3),
	} {
		res := checkSame(t, f, opt, nil, arg)
		assert.Assert(t, res.BailedOut)
		assert.Assert(t, res.BailOut.Has(ir.BailOutFailedTypeCheck))
	}
}

func TestObjTypeSpecDisabled(t *testing.T) {
	b := ir.NewBuilder("notype")
	o := b.Param("o", ir.Object.ToLikely())
	x := b.Sym("x")
	b.WithShape(b.LdFld(x, o, "f"), "f")
	b.Ret(b.Reg(x))
	f := finish(t, b)

	c := config.Default()
	c.Set(config.FeatureObjTypeSpec, false)
	opt, st := optimize(t, f, c.Resolve(nil))
	assert.Equal(t, st.TypeChecks, 0)
	lds := instrsOf(opt, ir.OpLdFld)
	assert.Assert(t, is.Len(lds, 1))
	assert.Assert(t, lds[0].Src1.ObjType == nil)
	assert.Assert(t, !lds[0].HasBailOut())
	checkSame(t, f, opt, nil, shaped(f, map[string]float64{"f": 1, "g": 2}))
}

// TestAddingStores 新建对象的类型已知，加属性的写不需要检查
func TestAddingStores(t *testing.T) {
	b := ir.NewBuilder("newobj")
	p := b.Param("p", ir.Unknown)
	o, x := b.Sym("o"), b.Sym("x")
	b.Emit(ir.OpNewObject, b.Reg(o), nil, nil)
	b.StFld(o, "f", b.Reg(p))
	b.StFld(o, "g", b.Int(2))
	b.LdFld(x, o, "f")
	b.Ret(b.Reg(x))
	f := finish(t, b)

	opt, st := optimize(t, f, config.AllEnabled())
	assert.Equal(t, st.TypeChecks, 0)
	assert.Assert(t, st.TypeChecksRemoved >= 2)
	sts := instrsOf(opt, ir.OpStFld)
	assert.Assert(t, is.Len(sts, 2))
	for n, i := range sts {
		spec := i.Dst.ObjType
		assert.Assert(t, spec != nil && spec.Checked && spec.AddsProperty())
		assert.Assert(t, is.Len(spec.Shape, n))
		assert.Assert(t, is.Len(spec.Final, n+1))
		assert.Assert(t, !i.HasBailOut())
	}
	assert.Equal(t, checkSame(t, f, opt, nil, ir.Num(7)).Value.Num, 7.0)
	checkSame(t, f, opt, nil, ir.Str("s"))
}

// TestTypeKilledByDelete 删除属性之后类型未知，后面的访问重新检查
func TestTypeKilledByDelete(t *testing.T) {
	b := ir.NewBuilder("delete")
	o := b.Param("o", ir.Object.ToLikely())
	x, y, r := b.Sym("x"), b.Sym("y"), b.Sym("r")
	b.WithShape(b.LdFld(x, o, "f"), "f", "g", "h")
	fn := b.Func()
	h := fn.Syms.PropertySym(o, fn.Syms.Property("h"))
	b.Emit(ir.OpDeleteFld, nil, ir.PropertyOpnd(h), nil)
	b.WithShape(b.LdFld(y, o, "g"), "f", "g")
	b.Binary(ir.OpAdd, r, b.Reg(x), b.Reg(y))
	b.Ret(b.Reg(r))
	f := finish(t, b)

	opt, st := optimize(t, f, config.AllEnabled())
	assert.Equal(t, st.TypeChecks, 2)
	assert.Equal(t, st.TypeChecksRemoved, 0)
	res := checkSame(t, f, opt, nil, shaped(f, map[string]float64{"f": 1, "g": 2, "h": 3}))
	assert.Assert(t, !res.BailedOut)
	assert.Equal(t, res.Value.Num, 3.0)
}

// TestTypeKilledByCall 调用可能给对象加属性
func TestTypeKilledByCall(t *testing.T) {
	b := ir.NewBuilder("grow")
	o := b.Param("o", ir.Object.ToLikely())
	x, y, r := b.Sym("x"), b.Sym("y"), b.Sym("r")
	b.WithShape(b.LdFld(x, o, "f"), "f", "g")
	b.Call(ir.NoSym, "grow", b.Reg(o))
	b.WithShape(b.LdFld(y, o, "g"), "f", "g", "h")
	b.Binary(ir.OpAdd, r, b.Reg(x), b.Reg(y))
	b.Ret(b.Reg(r))
	f := finish(t, b)
	h := f.Syms.Property("h")

	host := map[string]ir.HostFunc{
		"grow": func(args []ir.RVal) ir.RVal {
			args[0].Obj.Fields[h] = ir.Num(0)
			return ir.Undef()
		},
	}
	opt, st := optimize(t, f, config.AllEnabled())
	assert.Equal(t, st.TypeChecks, 2)
	res := checkSame(t, f, opt, host, shaped(f, map[string]float64{"f": 1, "g": 2}))
	assert.Assert(t, !res.BailedOut)
	assert.Equal(t, res.Value.Num, 3.0)
}

// ============================================================================
// 循环
// ============================================================================

// buildCondFieldLoop for (i = 0; i < n; i++) if (i < 2) s += o.f; return s
func buildCondFieldLoop(t *testing.T, profiled bool) (*ir.Func, ir.BlockID) {
	b := ir.NewBuilder("condfield")
	o := b.Param("o", ir.Object.ToLikely())
	n := b.Param("n", ir.Int.ToLikely())
	i, s, x := b.Sym("i"), b.Sym("s"), b.Sym("x")
	b.Ld(i, b.Int(0))
	b.Ld(s, b.Int(0))
	header, body, then, latch, exit := b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Fallthrough(header)
	b.SetBlock(header)
	b.BrCond(ir.OpBrGe, b.Reg(i), b.Reg(n), exit, body)
	b.SetBlock(body)
	b.BrCond(ir.OpBrGe, b.Reg(i), b.Int(2), latch, then)
	b.SetBlock(then)
	ld := b.LdFld(x, o, "f")
	if profiled {
		b.WithShape(ld, "f")
	}
	b.Binary(ir.OpAdd, s, b.Reg(s), b.Reg(x))
	b.Fallthrough(latch)
	b.SetBlock(latch)
	b.Binary(ir.OpAdd, i, b.Reg(i), b.Int(1))
	b.Br(header)
	b.SetBlock(exit)
	b.Ret(b.Reg(s))
	return finish(t, b), then
}

// TestFieldPRE 条件执行的读取在 landing pad 上先读，类型在那里检查
func TestFieldPRE(t *testing.T) {
	f, _ := buildCondFieldLoop(t, true)
	opt, st := optimize(t, f, config.AllEnabled())
	assert.Equal(t, st.FieldPREs, 1)
	assert.Equal(t, st.TypeCheckHoists, 1)
	assert.Equal(t, st.FieldHoists, 0)
	pad := opt.Loops[0].LandingPad

	chks := instrsOf(opt, ir.OpCheckObjType)
	assert.Assert(t, is.Len(chks, 1))
	assert.Equal(t, chks[0].Block, pad)
	assert.Assert(t, chks[0].BailOut.Kind.Has(ir.BailOutFailedTypeCheck))
	lds := instrsOf(opt, ir.OpLdFld)
	assert.Assert(t, is.Len(lds, 1))
	assert.Equal(t, lds[0].Block, pad)
	assert.Assert(t, lds[0].Src1.ObjType != nil && lds[0].Src1.ObjType.Checked)
	assert.Assert(t, precedes(chks[0], lds[0]))

	obj := shaped(f, map[string]float64{"f": 3})
	for _, n := range []float64{0, 1, 4} {
		res := checkSame(t, f, opt, nil, obj, ir.Num(n))
		assert.Assert(t, !res.BailedOut)
	}
	assert.Equal(t, checkSame(t, f, opt, nil, obj, ir.Num(4)).Value.Num, 6.0)

	// landing pad 上的检查失败，循环从头在原函数中执行
	for _, arg := range []ir.RVal{shaped(f, map[string]float64{"f": 3, "g": 1}), ir.Num(1)} {
		for _, n := range []float64{0, 4} {
			res := checkSame(t, f, opt, nil, arg, ir.Num(n))
			assert.Assert(t, res.BailedOut)
		}
	}
}

// TestConditionalFieldLoadStays 没有类型信息的条件读取留在原处
func TestConditionalFieldLoadStays(t *testing.T) {
	f, then := buildCondFieldLoop(t, false)
	opt, st := optimize(t, f, config.AllEnabled())
	assert.Equal(t, st.FieldHoists, 0)
	assert.Equal(t, st.FieldPREs, 0)
	lds := instrsOf(opt, ir.OpLdFld)
	assert.Assert(t, is.Len(lds, 1))
	assert.Equal(t, lds[0].Block, then)
	assert.Assert(t, is.Len(instrsOf(opt, ir.OpCheckObjType), 0))

	for _, arg := range []ir.RVal{shaped(f, map[string]float64{"f": 3}), ir.Num(1), ir.Str("s")} {
		for _, n := range []float64{0, 1, 4} {
			res := checkSame(t, f, opt, nil, arg, ir.Num(n))
			assert.Assert(t, !res.BailedOut || !res.BailOut.Has(ir.BailOutFailedTypeCheck))
		}
	}
}

// TestConditionalTypeCheckStays 关闭字段 PRE 时条件读取自己检查类型，检查不外提
func TestConditionalTypeCheckStays(t *testing.T) {
	f, then := buildCondFieldLoop(t, true)
	flags := config.AllEnabled()
	flags.Disable(config.FeatureFieldPRE)
	opt, st := optimize(t, f, flags)
	assert.Equal(t, st.TypeCheckHoists, 0)
	assert.Equal(t, st.FieldHoists, 0)
	lds := instrsOf(opt, ir.OpLdFld)
	assert.Assert(t, is.Len(lds, 1))
	assert.Equal(t, lds[0].Block, then)
	assert.Assert(t, lds[0].HasBailOut() && lds[0].BailOut.Kind.Has(ir.BailOutFailedTypeCheck))

	checkSame(t, f, opt, nil, shaped(f, map[string]float64{"f": 3}), ir.Num(4))
	// 不进入条件分支时不检查
	res := checkSame(t, f, opt, nil, ir.Num(1), ir.Num(0))
	assert.Assert(t, !res.BailedOut)
	res = checkSame(t, f, opt, nil, shaped(f, map[string]float64{"f": 3, "g": 1}), ir.Num(4))
	assert.Assert(t, res.BailedOut)
	assert.Assert(t, res.BailOut.Has(ir.BailOutFailedTypeCheck))
}

// TestGuardedMulNotHoisted 条件执行、需要溢出保护的乘法不外提
func TestGuardedMulNotHoisted(t *testing.T) {
	b := ir.NewBuilder("condmul")
	p := b.Param("p", ir.Int.ToLikely())
	n := b.Param("n", ir.Int.ToLikely())
	i, s, k := b.Sym("i"), b.Sym("s"), b.Sym("k")
	b.Ld(i, b.Int(0))
	b.Ld(s, b.Int(0))
	header, body, then, latch, exit := b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Fallthrough(header)
	b.SetBlock(header)
	b.BrCond(ir.OpBrGe, b.Reg(i), b.Reg(n), exit, body)
	b.SetBlock(body)
	b.BrCond(ir.OpBrGe, b.Reg(i), b.Int(1), latch, then)
	b.SetBlock(then)
	b.Binary(ir.OpMul, k, b.Reg(p), b.Int(3))
	b.Binary(ir.OpAdd, s, b.Reg(s), b.Reg(k))
	b.Fallthrough(latch)
	b.SetBlock(latch)
	b.Binary(ir.OpAdd, i, b.Reg(i), b.Int(1))
	b.Br(header)
	b.SetBlock(exit)
	b.Ret(b.Reg(s))
	f := finish(t, b)

	opt, _ := optimize(t, f, config.AllEnabled())
	muls := instrsOf(opt, ir.OpMulI4)
	assert.Assert(t, is.Len(muls, 1))
	assert.Equal(t, muls[0].Block, then)
	assert.Assert(t, muls[0].HasBailOut())

	for _, args := range [][]ir.RVal{
		{ir.Num(2), ir.Num(3)},
		{ir.Num(1 << 30), ir.Num(0)},
		{ir.Num(1 << 30), ir.Num(2)},
		{ir.Num(-5), ir.Num(1)},
	} {
		checkSame(t, f, opt, nil, args...)
	}
}
