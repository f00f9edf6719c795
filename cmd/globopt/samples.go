package main

import (
	"fmt"
	"sort"

	"github.com/tangzhangming/globopt/internal/ir"
)

// sample 示例函数
type sample struct {
	name   string
	desc   string
	build  func() (*ir.Func, error)
	inputs func(fn *ir.Func) [][]ir.RVal
}

var samples = []sample{
	{
		name:  "sum",
		desc:  "for (i = 0; i < n; i++) s += i",
		build: buildSum,
		inputs: func(*ir.Func) [][]ir.RVal {
			return [][]ir.RVal{{ir.Num(0)}, {ir.Num(10)}, {ir.Num(100000)}, {ir.Num(2.5)}}
		},
	},
	{
		name:  "fill",
		desc:  "for (i = 0; i < n; i++) a[i] = 0",
		build: buildFill,
		inputs: func(*ir.Func) [][]ir.RVal {
			a := ir.NewRArray(ir.ObjectNativeIntArray, 1, 2, 3, 4, 5, 6, 7, 8)
			return [][]ir.RVal{{a, ir.Num(8)}, {a, ir.Num(3)}, {a, ir.Num(20)}}
		},
	},
	{
		name:  "field",
		desc:  "for (i = 0; i < n; i++) s += o.f * i",
		build: buildField,
		inputs: func(fn *ir.Func) [][]ir.RVal {
			o := ir.NewRObject()
			o.Obj.Fields[fn.Syms.Property("f")] = ir.Num(3)
			return [][]ir.RVal{{o, ir.Num(5)}, {o, ir.Num(0)}}
		},
	},
	{
		name:  "bits",
		desc:  "x = (p & 0xff) + 1; return x << 2",
		build: buildBits,
		inputs: func(*ir.Func) [][]ir.RVal {
			return [][]ir.RVal{{ir.Num(300)}, {ir.Num(-1)}, {ir.Num(1.75)}, {ir.Str("17")}}
		},
	},
}

func sampleNames() []string {
	names := make([]string, len(samples))
	for n, s := range samples {
		names[n] = s.name
	}
	sort.Strings(names)
	return names
}

func selectSamples(names []string) ([]sample, error) {
	if len(names) == 0 {
		return samples, nil
	}
	var out []sample
	for _, name := range names {
		found := false
		for _, s := range samples {
			if s.name == name {
				out = append(out, s)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown sample %q", name)
		}
	}
	return out, nil
}

// countedLoop 建立 for (i = 0; i < n; i++) 的结构，body 填写循环体
func countedLoop(b *ir.Builder, n ir.SymID, body func(i ir.SymID)) {
	i := b.Sym("i")
	b.Ld(i, b.Int(0))
	header, bodyBlock, exit := b.NewBlock(), b.NewBlock(), b.NewBlock()
	b.Fallthrough(header)
	b.SetBlock(header)
	b.BrCond(ir.OpBrGe, b.Reg(i), b.Reg(n), exit, bodyBlock)
	b.SetBlock(bodyBlock)
	body(i)
	b.Binary(ir.OpAdd, i, b.Reg(i), b.Int(1))
	b.Br(header)
	b.SetBlock(exit)
}

func buildSum() (*ir.Func, error) {
	b := ir.NewBuilder("sum")
	n := b.Param("n", ir.Int.ToLikely())
	s := b.Sym("s")
	b.Ld(s, b.Int(0))
	countedLoop(b, n, func(i ir.SymID) {
		b.Binary(ir.OpAdd, s, b.Reg(s), b.Reg(i))
	})
	b.Ret(b.Reg(s))
	return b.Finish()
}

func buildFill() (*ir.Func, error) {
	arr := ir.ArrayOf(ir.ObjectNativeIntArray).ToLikely()
	b := ir.NewBuilder("fill")
	a := b.Param("a", arr)
	n := b.Param("n", ir.Int.ToLikely())
	countedLoop(b, n, func(i ir.SymID) {
		b.StElem(a, i, b.Int(0), arr)
	})
	b.Ret(nil)
	return b.Finish()
}

func buildField() (*ir.Func, error) {
	b := ir.NewBuilder("field")
	o := b.Param("o", ir.Object.ToLikely())
	n := b.Param("n", ir.Int.ToLikely())
	s, x := b.Sym("s"), b.Sym("x")
	b.Ld(s, b.Int(0))
	countedLoop(b, n, func(i ir.SymID) {
		b.LdFld(x, o, "f")
		b.Binary(ir.OpMul, x, b.Reg(x), b.Reg(i))
		b.Binary(ir.OpAdd, s, b.Reg(s), b.Reg(x))
	})
	b.Ret(b.Reg(s))
	return b.Finish()
}

func buildBits() (*ir.Func, error) {
	b := ir.NewBuilder("bits")
	p := b.Param("p", ir.Int.ToLikely())
	x := b.Sym("x")
	b.Binary(ir.OpAnd, x, b.Reg(p), b.Int(0xff))
	b.Binary(ir.OpAdd, x, b.Reg(x), b.Int(1))
	b.Binary(ir.OpShl, x, b.Reg(x), b.Int(2))
	b.Ret(b.Reg(x))
	return b.Finish()
}
