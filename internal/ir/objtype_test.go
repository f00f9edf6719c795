// objtype_test.go - 对象类型与 SIMD 执行测试

package ir

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestShape(t *testing.T) {
	s := NewShape(3, 1, 3, 2)
	assert.DeepEqual(t, s, Shape{1, 2, 3})
	assert.Equal(t, s.Key(), "1,2,3")
	assert.Assert(t, s.Has(2))
	assert.Assert(t, !s.Has(4))

	w := s.With(4)
	assert.DeepEqual(t, w, Shape{1, 2, 3, 4})
	assert.DeepEqual(t, s, Shape{1, 2, 3})
	assert.Assert(t, s.With(1).Equal(s))
	assert.Assert(t, !w.Equal(s))
	assert.Assert(t, NewShape().Equal(Shape{}))
}

func TestObjShape(t *testing.T) {
	o := NewRObject()
	assert.Assert(t, is.Len(o.Obj.Shape(), 0))
	o.Obj.Fields[5] = Num(1)
	o.Obj.Fields[2] = Num(2)
	assert.DeepEqual(t, o.Obj.Shape(), Shape{2, 5})
}

// buildTypedLoad 构建 return o.f，访问带 {f} 类型
func buildTypedLoad(t *testing.T) (*Func, *Instr, PropertyID, PropertyID) {
	t.Helper()
	b := NewBuilder("typed")
	o, x := b.Param("o", Object.ToLikely()), b.Sym("x")
	ld := b.LdFld(x, o, "f")
	b.Ret(b.Reg(x))
	f, err := b.Finish()
	assert.NilError(t, err)
	fp, gp := f.Syms.Property("f"), f.Syms.Property("g")
	ld.Src1.ObjType = &ObjTypeSpec{Shape: NewShape(fp), Final: NewShape(fp)}
	ld.BailOut = &BailOutInfo{Kind: BailOutFailedTypeCheck, Restore: &RestorePoint{ByteCodeOffset: ld.ByteCodeOffset}}
	return f, ld, fp, gp
}

func TestInterpTypeCheck(t *testing.T) {
	f, ld, fp, gp := buildTypedLoad(t)

	o := NewRObject()
	o.Obj.Fields[fp] = Num(2)
	res, err := (&Interp{}).Run(f, []RVal{o})
	assert.NilError(t, err)
	assert.Assert(t, !res.BailedOut)
	assert.Equal(t, res.Value.Num, 2.0)

	o.Obj.Fields[gp] = Num(3)
	res, err = (&Interp{}).Run(f, []RVal{o})
	assert.NilError(t, err)
	assert.Assert(t, res.BailedOut)
	assert.Equal(t, res.BailOut, BailOutFailedTypeCheck)

	res, err = (&Interp{}).Run(f, []RVal{Num(1)})
	assert.NilError(t, err)
	assert.Assert(t, res.BailedOut)

	// 已检查的访问遇到不同类型说明优化不正确
	ld.Src1.ObjType.Checked = true
	ld.BailOut = nil
	_, err = (&Interp{}).Run(f, []RVal{o})
	assert.Assert(t, errors.Is(err, ErrUnsound))
}

func TestInterpSimdI4(t *testing.T) {
	b := NewBuilder("simdi4")
	q := b.Param("q", Number)
	k, u, y := b.Sym("k"), b.Sym("u"), b.Sym("y")
	b.Unary(OpSimdSplatI4, k, b.Reg(q))
	b.Binary(OpSimdMulI4, u, b.Reg(k), b.Reg(k))
	b.ExtractLane(OpSimdExtractLaneI4, y, u, 3)
	b.Ret(b.Reg(y))
	f, err := b.Finish()
	assert.NilError(t, err)

	for _, tc := range []struct{ in, want float64 }{
		{3, 9},
		{-4, 16},
		// 70000 * 70000 按 int32 回绕
		{70000, 605032704},
		// lane 写入时截断
		{2.9, 4},
	} {
		res, err := (&Interp{}).Run(f, []RVal{Num(tc.in)})
		assert.NilError(t, err)
		assert.Equal(t, res.Value.Num, tc.want, "q=%v", tc.in)
	}
}

func TestInterpSimdReplaceLane(t *testing.T) {
	b := NewBuilder("simdf4")
	p := b.Param("p", Number)
	v, w, a, c, r := b.Sym("v"), b.Sym("w"), b.Sym("a"), b.Sym("c"), b.Sym("r")
	b.Unary(OpSimdSplatF4, v, b.Reg(p))
	b.ReplaceLane(OpSimdReplaceLaneF4, w, v, b.Float(9), 2)
	b.ExtractLane(OpSimdExtractLaneF4, a, w, 2)
	b.ExtractLane(OpSimdExtractLaneF4, c, w, 1)
	b.Binary(OpAdd, r, b.Reg(a), b.Reg(c))
	b.Ret(b.Reg(r))
	f, err := b.Finish()
	assert.NilError(t, err)

	res, err := (&Interp{}).Run(f, []RVal{Num(1.5)})
	assert.NilError(t, err)
	assert.Equal(t, res.Value.Num, 10.5)
}
