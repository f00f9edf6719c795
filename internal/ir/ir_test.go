// ir_test.go - IR 构建、循环与活跃分析测试

package ir

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

// buildSum 构建 for (i = 0; i < n; i++) s += i; return s
func buildSum(t *testing.T) (f *Func, header, body, exit BlockID) {
	t.Helper()
	b := NewBuilder("sum")
	n := b.Param("n", Int.ToLikely())
	i, s := b.Sym("i"), b.Sym("s")
	b.Ld(i, b.Int(0))
	b.Ld(s, b.Int(0))
	header, body, exit = b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Fallthrough(header)

	b.SetBlock(header)
	b.BrCond(OpBrGe, b.Reg(i), b.Reg(n), exit, body)

	b.SetBlock(body)
	b.Binary(OpAdd, s, b.Reg(s), b.Reg(i))
	b.Binary(OpAdd, i, b.Reg(i), b.Int(1))
	b.Br(header)

	b.SetBlock(exit)
	b.Ret(b.Reg(s))

	f, err := b.Finish()
	assert.NilError(t, err)
	return f, header, body, exit
}

func TestBuilderLoop(t *testing.T) {
	f, header, body, exit := buildSum(t)
	assert.Assert(t, is.Len(f.Loops, 1))
	l := f.Loops[0]
	assert.Equal(t, l.Header, header)
	// 入口块只跳向循环头，直接作为 landing pad
	assert.Equal(t, l.LandingPad, f.Entry)
	assert.Assert(t, f.Blocks[f.Entry].IsLandingPad)
	assert.Assert(t, l.IsBackEdge(body))
	assert.Assert(t, l.Contains(body))
	assert.Assert(t, !l.Contains(exit))
	assert.Equal(t, f.Blocks[body].Loop, l.ID)
	assert.Equal(t, f.Blocks[exit].Loop, NoLoop)
	assert.Assert(t, f.Dominates(header, body))
	assert.Assert(t, !f.Dominates(body, exit))
}

func TestNestedLoops(t *testing.T) {
	b := NewBuilder("nested")
	n := b.Param("n", Int)
	i, j := b.Sym("i"), b.Sym("j")
	b.Ld(i, b.Int(0))
	outer, initJ, inner, latch, innerBody, exit := b.NewBlock(), b.NewBlock(), b.NewBlock(),
		b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Fallthrough(outer)

	b.SetBlock(outer)
	b.BrCond(OpBrGe, b.Reg(i), b.Reg(n), exit, initJ)
	b.SetBlock(initJ)
	b.Ld(j, b.Int(0))
	b.Fallthrough(inner)
	b.SetBlock(inner)
	b.BrCond(OpBrGe, b.Reg(j), b.Reg(n), latch, innerBody)
	b.SetBlock(innerBody)
	b.Binary(OpAdd, j, b.Reg(j), b.Int(1))
	b.Br(inner)
	b.SetBlock(latch)
	b.Binary(OpAdd, i, b.Reg(i), b.Int(1))
	b.Br(outer)
	b.SetBlock(exit)
	b.Ret(b.Reg(i))

	f, err := b.Finish()
	assert.NilError(t, err)
	assert.Assert(t, is.Len(f.Loops, 2))
	o, in := f.Loops[0], f.Loops[1]
	assert.Equal(t, o.Header, outer)
	assert.Equal(t, in.Header, inner)
	assert.Equal(t, in.Parent, o.ID)
	assert.Equal(t, in.Depth, 1)
	assert.Equal(t, in.LandingPad, initJ)
	assert.Assert(t, is.DeepEqual(o.Children, []LoopID{in.ID}))
	assert.Equal(t, f.Blocks[innerBody].Loop, in.ID)
	assert.Equal(t, f.Blocks[latch].Loop, o.ID)
	assert.Assert(t, f.IsAncestorOf(o.ID, in.ID))
	assert.Assert(t, !f.IsAncestorOf(in.ID, o.ID))

	res, err := (&Interp{}).Run(f, []RVal{Num(3)})
	assert.NilError(t, err)
	assert.Equal(t, res.Value.Num, 3.0)
}

func TestLandingPadInserted(t *testing.T) {
	// 循环头有两个循环外前驱时插入新的 landing pad
	b := NewBuilder("pad")
	x := b.Param("x", Int)
	left, right, header, body, exit := b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.BrCond(OpBrTrue, b.Reg(x), nil, left, right)
	b.SetBlock(left)
	b.Br(header)
	b.SetBlock(right)
	b.Br(header)
	b.SetBlock(header)
	b.BrCond(OpBrGe, b.Reg(x), b.Int(10), exit, body)
	b.SetBlock(body)
	b.Binary(OpAdd, x, b.Reg(x), b.Int(1))
	b.Br(header)
	b.SetBlock(exit)
	b.Ret(b.Reg(x))

	f, err := b.Finish()
	assert.NilError(t, err)
	l := f.Loops[0]
	pad := f.Blocks[l.LandingPad]
	assert.Assert(t, pad.IsLandingPad)
	assert.Assert(t, l.LandingPad != left && l.LandingPad != right)
	assert.Assert(t, is.DeepEqual(pad.Succs, []BlockID{header}))
	assert.Assert(t, is.Len(pad.Preds, 2))
	assert.NilError(t, f.Validate())

	res, err := (&Interp{}).Run(f, []RVal{Num(4)})
	assert.NilError(t, err)
	assert.Equal(t, res.Value.Num, 10.0)
}

func TestValidate(t *testing.T) {
	b := NewBuilder("bad")
	next := b.NewBlock()
	b.Ret(nil)
	b.Fallthrough(next)
	_, err := b.Finish()
	assert.ErrorContains(t, err, "with successors")
}

func TestLiveness(t *testing.T) {
	f, header, body, exit := buildSum(t)
	n, i, s := f.Params[0], f.Syms.Get(2).ID, f.Syms.Get(3).ID
	live := f.Blocks[header].Live
	for _, v := range []SymID{n, i, s} {
		assert.Check(t, live.LiveIn.Test(uint(v)), "sym %d", v)
	}
	assert.Assert(t, f.Blocks[body].Live.Defs.Test(uint(i)))
	assert.Assert(t, f.Blocks[body].Live.Defs.Test(uint(s)))
	assert.Equal(t, f.Blocks[exit].Live.LiveOut.Count(), uint(0))
	assert.Assert(t, f.Blocks[exit].Live.LiveIn.Test(uint(s)))
	assert.Assert(t, !f.Blocks[exit].Live.LiveIn.Test(uint(i)))

	// 影子符号折算为变量符号
	sh := f.Syms.TypeSpecSym(i, ReprInt32)
	assert.Equal(t, f.Syms.VarSym(sh), i)
	assert.Equal(t, f.Syms.Shadow(i, ReprInt32), sh)
	assert.Equal(t, f.Syms.TypeSpecSym(i, ReprInt32), sh)
}

func TestInterpSum(t *testing.T) {
	f, _, _, _ := buildSum(t)
	res, err := (&Interp{}).Run(f, []RVal{Num(5)})
	assert.NilError(t, err)
	assert.Assert(t, !res.BailedOut)
	assert.Equal(t, res.Value.Num, 10.0)

	_, err = (&Interp{MaxSteps: 20}).Run(f, []RVal{Num(1000)})
	assert.Assert(t, errors.Is(err, ErrStepLimit))
}

func TestInterpGuards(t *testing.T) {
	build := func(withBailOut bool) *Func {
		b := NewBuilder("guard")
		x := b.Param("x", Number)
		sh := b.Func().Syms.TypeSpecSym(x, ReprInt32)
		conv := b.Emit(OpToInt32, b.Reg(sh), b.Reg(x), nil)
		if withBailOut {
			conv.BailOut = &BailOutInfo{Kind: BailOutIntOnly, Restore: &RestorePoint{ByteCodeOffset: 1}}
		}
		b.Ret(b.Reg(sh))
		f, err := b.Finish()
		assert.NilError(t, err)
		return f
	}

	res, err := (&Interp{}).Run(build(true), []RVal{Num(7)})
	assert.NilError(t, err)
	assert.Equal(t, res.Value.Num, 7.0)

	res, err = (&Interp{}).Run(build(true), []RVal{Num(1.5)})
	assert.NilError(t, err)
	assert.Assert(t, res.BailedOut)
	assert.Equal(t, res.BailOut, BailOutIntOnly)

	_, err = (&Interp{}).Run(build(false), []RVal{Num(1.5)})
	assert.Assert(t, errors.Is(err, ErrUnsound))
}

func TestInterpResume(t *testing.T) {
	b := NewBuilder("resume")
	x, y := b.Param("x", Number), b.Sym("y")
	b.Binary(OpAdd, y, b.Reg(x), b.Int(1))
	b.Ret(b.Reg(y))
	orig, err := b.Finish()
	assert.NilError(t, err)

	opt := orig.Clone()
	entry := opt.Blocks[opt.Entry]
	add := entry.First().Next()
	assert.Equal(t, add.Op, OpAdd)
	sh := opt.Syms.TypeSpecSym(x, ReprInt32)
	conv := opt.NewInstr(OpToInt32, opt.Reg(sh), opt.Reg(x), nil)
	conv.ByteCodeOffset = add.ByteCodeOffset
	conv.BailOut = &BailOutInfo{Kind: BailOutIntOnly, Restore: &RestorePoint{
		ByteCodeOffset: add.ByteCodeOffset,
		Syms:           []RestoreSym{{Sym: x, From: ReprVar}},
	}}
	entry.InsertBefore(add, conv)

	res, err := (&Interp{Fallback: orig}).Run(opt, []RVal{Num(1.5)})
	assert.NilError(t, err)
	assert.Assert(t, res.BailedOut && res.Resumed)
	assert.Equal(t, res.Value.Num, 2.5)

	// 没有 Fallback 时只报告退出
	res, err = (&Interp{}).Run(opt, []RVal{Num(1.5)})
	assert.NilError(t, err)
	assert.Assert(t, res.BailedOut && !res.Resumed)

	// 恢复点缺少仍然要用到的符号时原函数读到 undefined
	conv.BailOut.Restore.Syms = nil
	res, err = (&Interp{Fallback: orig}).Run(opt, []RVal{Num(1.5)})
	assert.NilError(t, err)
	assert.Assert(t, res.Value.Kind != RNumber || res.Value.Num != 2.5)
}

func TestInterpResumeShared(t *testing.T) {
	f, header, _, _ := buildSum(t)
	opt := f.Clone()
	l := opt.Loop(opt.Blocks[header].Loop)
	assert.Assert(t, l != nil)
	pad := opt.Blocks[l.LandingPad]
	arg := opt.Blocks[opt.Entry].First()
	n, i, s := arg.Dst.Sym, arg.Next().Dst.Sym, arg.Next().Next().Dst.Sym
	sh := opt.Syms.TypeSpecSym(n, ReprInt32)
	conv := opt.NewInstr(OpToInt32, opt.Reg(sh), opt.Reg(n), nil)
	conv.BailOut = &BailOutInfo{Kind: BailOutIntOnly | BailOutShared, Restore: &RestorePoint{
		Shared: true,
		Loop:   l.ID,
		Syms:   []RestoreSym{{Sym: n}, {Sym: i, From: ReprInt32}, {Sym: s}},
	}}
	pad.InsertBeforeTerminator(conv)

	res, err := (&Interp{Fallback: f}).Run(opt, []RVal{Num(2.5)})
	assert.NilError(t, err)
	assert.Assert(t, res.Resumed)
	// i 的 int32 表示尚未定义，退回变量本身
	assert.Equal(t, res.Value.Num, 3.0)
}

func TestInterpArrays(t *testing.T) {
	b := NewBuilder("arr")
	a := b.Param("a", ArrayOf(ObjectNativeIntArray).ToLikely())
	i, v, n := b.Sym("i"), b.Sym("v"), b.Sym("n")
	b.Ld(i, b.Int(1))
	b.LdElem(v, a, i, ArrayOf(ObjectNativeIntArray).ToLikely())
	b.StElem(a, i, b.Int(40), ArrayOf(ObjectNativeIntArray).ToLikely())
	b.LdLen(n, a)
	b.Binary(OpAdd, v, b.Reg(v), b.Reg(n))
	b.Ret(b.Reg(v))
	f, err := b.Finish()
	assert.NilError(t, err)

	arr := NewRArray(ObjectNativeIntArray, 1, 2, 3)
	res, err := (&Interp{}).Run(f, []RVal{arr})
	assert.NilError(t, err)
	assert.Equal(t, res.Value.Num, 5.0)
	assert.Equal(t, arr.Obj.Array.Elems[1].Num, 40.0)
}

func TestCloneIsDeep(t *testing.T) {
	f, _, body, _ := buildSum(t)
	first := f.Blocks[body].First()
	first.BailOut = &BailOutInfo{Kind: BailOutOnOverflow, Restore: &RestorePoint{ByteCodeOffset: 3}}
	second := first.Next()
	second.BailOut = &BailOutInfo{Kind: BailOutOnOverflow, Restore: first.BailOut.Restore}

	c := f.Clone()
	cb := c.Blocks[body]
	assert.Equal(t, cb.Len(), f.Blocks[body].Len())
	cb.Remove(cb.First())
	assert.Equal(t, f.Blocks[body].Len(), 3)

	// 拷贝内部仍然共享恢复点，但不与原函数共享
	cf := cb.First()
	assert.Assert(t, cf.BailOut.Restore != second.BailOut.Restore)
	assert.Equal(t, cf.BailOut.Restore.ByteCodeOffset, int32(3))

	dup := f.CloneInstr(first)
	assert.Assert(t, dup.ID != first.ID)
	assert.Assert(t, dup.BailOut.Restore == first.BailOut.Restore)
}

func TestBailOutTable(t *testing.T) {
	f, _, body, _ := buildSum(t)
	i := f.Syms.Get(2).ID
	add := f.Blocks[body].First()
	add.BailOut = &BailOutInfo{
		Kind: BailOutOnOverflow | BailOutIntOnly,
		Restore: &RestorePoint{
			ByteCodeOffset: 9,
			Syms:           []RestoreSym{{Sym: f.Syms.TypeSpecSym(i, ReprInt32), From: ReprInt32}},
			Shared:         true,
			Loop:           0,
		},
	}
	data, err := EncodeBailOutTable(f)
	assert.NilError(t, err)
	recs, err := DecodeBailOutTable(data)
	assert.NilError(t, err)
	assert.Assert(t, is.Len(recs, 1))
	r := recs[0]
	assert.Equal(t, r.Instr, add.ID)
	assert.Equal(t, r.Kind, BailOutOnOverflow|BailOutIntOnly)
	assert.Equal(t, r.ByteCodeOffset, int32(9))
	assert.Assert(t, r.Shared)
	assert.Assert(t, is.Len(r.Restore, 1))
	assert.Equal(t, r.Restore[0].Name, "i.int32")
	assert.Equal(t, r.Restore[0].From, ReprInt32)

	_, err = DecodeBailOutTable([]byte(`[{"kind":"NoSuchKind"}]`))
	assert.ErrorContains(t, err, "failed to decode bailout table")
}

func TestBailOutKindText(t *testing.T) {
	k := BailOutOnNotArray | BailOutShared
	assert.Equal(t, k.String(), "OnNotArray|Shared")
	var back BailOutKind
	assert.NilError(t, back.UnmarshalText([]byte(k.String())))
	assert.Equal(t, back, k)
	assert.Equal(t, BailOutInvalid.String(), "Invalid")
	assert.Assert(t, k.Has(BailOutShared))
}
