// simd.go - 128 位 SIMD 运算
//
// 四个 lane 以 float64 存放。I4 运算的结果按 int32 回绕，I4 的 lane 读出
// 时同样截断为 int32，保证写入 int32 表示的值总是合法。

package ir

import "math"

// SimdForm SIMD 操作的操作数形式
type SimdForm uint8

const (
	// SimdSplat 标量复制到四个 lane
	SimdSplat SimdForm = iota
	SimdUnary
	SimdBinary
	// SimdExtractLane 取出 Src2（常量）指定的 lane
	SimdExtractLane
	// SimdReplaceLane 把 Offset 指定的 lane 替换为 Src2
	SimdReplaceLane
)

type simdInfo struct {
	form SimdForm
	repr Repr
}

var simdInfos = map[Opcode]simdInfo{
	OpSimdSplatF4:       {SimdSplat, ReprSimd128F4},
	OpSimdAddF4:         {SimdBinary, ReprSimd128F4},
	OpSimdSubF4:         {SimdBinary, ReprSimd128F4},
	OpSimdMulF4:         {SimdBinary, ReprSimd128F4},
	OpSimdDivF4:         {SimdBinary, ReprSimd128F4},
	OpSimdMinF4:         {SimdBinary, ReprSimd128F4},
	OpSimdMaxF4:         {SimdBinary, ReprSimd128F4},
	OpSimdNegF4:         {SimdUnary, ReprSimd128F4},
	OpSimdAbsF4:         {SimdUnary, ReprSimd128F4},
	OpSimdSqrtF4:        {SimdUnary, ReprSimd128F4},
	OpSimdExtractLaneF4: {SimdExtractLane, ReprSimd128F4},
	OpSimdReplaceLaneF4: {SimdReplaceLane, ReprSimd128F4},
	OpSimdSplatI4:       {SimdSplat, ReprSimd128I4},
	OpSimdAddI4:         {SimdBinary, ReprSimd128I4},
	OpSimdSubI4:         {SimdBinary, ReprSimd128I4},
	OpSimdMulI4:         {SimdBinary, ReprSimd128I4},
	OpSimdNegI4:         {SimdUnary, ReprSimd128I4},
	OpSimdAndI4:         {SimdBinary, ReprSimd128I4},
	OpSimdOrI4:          {SimdBinary, ReprSimd128I4},
	OpSimdXorI4:         {SimdBinary, ReprSimd128I4},
	OpSimdExtractLaneI4: {SimdExtractLane, ReprSimd128I4},
	OpSimdReplaceLaneI4: {SimdReplaceLane, ReprSimd128I4},
}

// SimdInfo SIMD 操作码的形式与向量表示
func (op Opcode) SimdInfo() (SimdForm, Repr, bool) {
	i, ok := simdInfos[op]
	return i.form, i.repr, ok
}

// ScalarRepr lane 标量的表示
func ScalarRepr(r Repr) Repr {
	if r == ReprSimd128I4 {
		return ReprInt32
	}
	return ReprFloat64
}

// simdLane 按向量类型规整一个 lane
func simdLane(r Repr, f float64) float64 {
	if r == ReprSimd128I4 {
		return float64(ToInt32(f))
	}
	return f
}

// simdApply 逐 lane 计算
func simdApply(op Opcode, a, b [4]float64) [4]float64 {
	var out [4]float64
	for n := range out {
		x, y := a[n], b[n]
		var z float64
		switch op {
		case OpSimdAddF4, OpSimdAddI4:
			z = x + y
		case OpSimdSubF4, OpSimdSubI4:
			z = x - y
		case OpSimdMulF4:
			z = x * y
		case OpSimdMulI4:
			z = float64(ToInt32(x) * ToInt32(y))
		case OpSimdDivF4:
			z = x / y
		case OpSimdMinF4:
			z = math.Min(x, y)
		case OpSimdMaxF4:
			z = math.Max(x, y)
		case OpSimdNegF4, OpSimdNegI4:
			z = -x
		case OpSimdAbsF4:
			z = math.Abs(x)
		case OpSimdSqrtF4:
			z = math.Sqrt(x)
		case OpSimdAndI4:
			z = float64(ToInt32(x) & ToInt32(y))
		case OpSimdOrI4:
			z = float64(ToInt32(x) | ToInt32(y))
		case OpSimdXorI4:
			z = float64(ToInt32(x) ^ ToInt32(y))
		}
		out[n] = z
	}
	return out
}

// execSimd 执行 SIMD 指令
func (fr *frame) execSimd(i *Instr) error {
	form, r, _ := i.Op.SimdInfo()
	switch form {
	case SimdSplat:
		f, err := fr.readNum(i.Src1)
		if err != nil {
			return err
		}
		f = simdLane(r, f)
		return fr.write(i.Dst, RVal{Kind: RSimd, Lanes: [4]float64{f, f, f, f}})
	case SimdExtractLane:
		v, err := fr.read(i.Src1)
		if err != nil {
			return err
		}
		lane := int(i.Src2.Int) & 3
		return fr.write(i.Dst, Num(simdLane(r, v.Lanes[lane])))
	case SimdReplaceLane:
		v, err := fr.read(i.Src1)
		if err != nil {
			return err
		}
		f, err := fr.readNum(i.Src2)
		if err != nil {
			return err
		}
		out := RVal{Kind: RSimd, Lanes: v.Lanes}
		out.Lanes[i.Offset&3] = simdLane(r, f)
		return fr.write(i.Dst, out)
	}
	a, err := fr.read(i.Src1)
	if err != nil {
		return err
	}
	var b RVal
	if form == SimdBinary {
		if b, err = fr.read(i.Src2); err != nil {
			return err
		}
	}
	out := RVal{Kind: RSimd, Lanes: simdApply(i.Op, a.Lanes, b.Lanes)}
	for n := range out.Lanes {
		out.Lanes[n] = simdLane(r, out.Lanes[n])
	}
	return fr.write(i.Dst, out)
}
