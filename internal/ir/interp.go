// interp.go - IR 参考解释器
//
// 按简化的动态语言语义执行优化前后的 IR，用于比较两者的结果。
// 特化指令按其机器语义执行；保护失败时停止执行并报告 bailout。
// 读取未定义的影子符号、越过已消除的边界检查等情况说明优化不正确，
// 以 ErrUnsound 报告。

package ir

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrUnsound 执行中发现违反优化前提的状态
var ErrUnsound = errors.New("unsound optimized code")

// ErrStepLimit 执行步数超限
var ErrStepLimit = errors.New("step limit exceeded")

// RKind 运行时值种类
type RKind uint8

const (
	RUndefined RKind = iota
	RNull
	RBool
	RNumber
	RString
	RObject
	RSimd
)

// RObj 运行时对象
type RObj struct {
	Fields map[PropertyID]RVal
	Array  *RArray
}

// RArray 运行时数组
type RArray struct {
	Type  ObjectType
	Elems []RVal
}

// RVal 运行时值
type RVal struct {
	Kind  RKind
	Num   float64
	Bool  bool
	Str   string
	Obj   *RObj
	Lanes [4]float64
}

// Undef undefined
func Undef() RVal { return RVal{Kind: RUndefined} }

// NullVal null
func NullVal() RVal { return RVal{Kind: RNull} }

// Num 数值
func Num(f float64) RVal { return RVal{Kind: RNumber, Num: f} }

// Str 字符串
func Str(s string) RVal { return RVal{Kind: RString, Str: s} }

// BoolVal 布尔
func BoolVal(b bool) RVal { return RVal{Kind: RBool, Bool: b} }

// NewRArray 创建数组值
func NewRArray(t ObjectType, elems ...float64) RVal {
	a := &RArray{Type: t, Elems: make([]RVal, len(elems))}
	for n, e := range elems {
		a.Elems[n] = Num(a.coerce(e))
	}
	return RVal{Kind: RObject, Obj: &RObj{Fields: map[PropertyID]RVal{}, Array: a}}
}

// NewRObject 创建普通对象
func NewRObject() RVal {
	return RVal{Kind: RObject, Obj: &RObj{Fields: map[PropertyID]RVal{}}}
}

// ValueType 返回值的确定类型
func (v RVal) ValueType() ValueType {
	switch v.Kind {
	case RUndefined:
		return Undefined
	case RNull:
		return Null
	case RBool:
		return Boolean
	case RNumber:
		if IsInt32Value(v.Num) {
			return Int
		}
		return Float
	case RString:
		return String
	case RSimd:
		return Simd128F4
	}
	if v.Obj.Array != nil {
		return ArrayOf(v.Obj.Array.Type)
	}
	return Object
}

// String 返回值文本
func (v RVal) String() string {
	switch v.Kind {
	case RUndefined:
		return "undefined"
	case RNull:
		return "null"
	case RBool:
		return strconv.FormatBool(v.Bool)
	case RNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case RString:
		return strconv.Quote(v.Str)
	case RSimd:
		return fmt.Sprintf("simd%v", v.Lanes)
	}
	if v.Obj.Array != nil {
		return fmt.Sprintf("%s%v", v.Obj.Array.Type, v.Obj.Array.Elems)
	}
	return "object"
}

// DeepEqual 结构相等；数值按位比较（NaN 与自身相等，区分 -0）
func (v RVal) DeepEqual(o RVal) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case RNumber:
		return math.Float64bits(v.Num) == math.Float64bits(o.Num) || (math.IsNaN(v.Num) && math.IsNaN(o.Num))
	case RBool:
		return v.Bool == o.Bool
	case RString:
		return v.Str == o.Str
	case RSimd:
		return v.Lanes == o.Lanes
	case RObject:
		if v.Obj == o.Obj {
			return true
		}
		if len(v.Obj.Fields) != len(o.Obj.Fields) {
			return false
		}
		for k, f := range v.Obj.Fields {
			g, ok := o.Obj.Fields[k]
			if !ok || !f.DeepEqual(g) {
				return false
			}
		}
		if (v.Obj.Array == nil) != (o.Obj.Array == nil) {
			return false
		}
		if v.Obj.Array != nil {
			a, b := v.Obj.Array, o.Obj.Array
			if len(a.Elems) != len(b.Elems) {
				return false
			}
			for n := range a.Elems {
				if !a.Elems[n].DeepEqual(b.Elems[n]) {
					return false
				}
			}
		}
	}
	return true
}

// Clone 深拷贝值（对象深拷贝）
func (v RVal) Clone() RVal {
	if v.Kind != RObject {
		return v
	}
	o := &RObj{Fields: make(map[PropertyID]RVal, len(v.Obj.Fields))}
	for k, f := range v.Obj.Fields {
		o.Fields[k] = f.Clone()
	}
	if a := v.Obj.Array; a != nil {
		o.Array = &RArray{Type: a.Type, Elems: append([]RVal(nil), a.Elems...)}
	}
	v.Obj = o
	return v
}

func (a *RArray) coerce(f float64) float64 {
	switch a.Type {
	case ObjectInt8Array:
		return float64(int8(jsToInt32(f)))
	case ObjectUint8Array:
		return float64(uint8(jsToInt32(f)))
	case ObjectUint8ClampedArray:
		if math.IsNaN(f) || f < 0 {
			return 0
		}
		if f > 255 {
			return 255
		}
		return math.RoundToEven(f)
	case ObjectInt16Array:
		return float64(int16(jsToInt32(f)))
	case ObjectUint16Array:
		return float64(uint16(jsToInt32(f)))
	case ObjectInt32Array:
		return float64(jsToInt32(f))
	case ObjectUint32Array:
		return float64(uint32(jsToInt32(f)))
	case ObjectFloat32Array:
		return float64(float32(f))
	}
	return f
}

func (a *RArray) store(idx int, v RVal) {
	if a.Type.IsTypedArray() {
		if idx < len(a.Elems) {
			a.Elems[idx] = Num(a.coerce(toNumber(v)))
		}
		return
	}
	for len(a.Elems) <= idx {
		a.Elems = append(a.Elems, Undef())
	}
	switch a.Type {
	case ObjectNativeIntArray:
		if v.Kind != RNumber {
			a.Type = ObjectArray
		} else if !IsInt32Value(v.Num) {
			a.Type = ObjectNativeFloatArray
		}
	case ObjectNativeFloatArray:
		if v.Kind != RNumber {
			a.Type = ObjectArray
		}
	}
	a.Elems[idx] = v
}

// ============================================================================
// 语义辅助
// ============================================================================

func toNumber(v RVal) float64 {
	switch v.Kind {
	case RNumber:
		return v.Num
	case RBool:
		if v.Bool {
			return 1
		}
		return 0
	case RNull:
		return 0
	case RString:
		if v.Str == "" {
			return 0
		}
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

func toBoolean(v RVal) bool {
	switch v.Kind {
	case RUndefined, RNull:
		return false
	case RBool:
		return v.Bool
	case RNumber:
		return v.Num != 0 && !math.IsNaN(v.Num)
	case RString:
		return v.Str != ""
	}
	return true
}

func toString(v RVal) string {
	if v.Kind == RString {
		return v.Str
	}
	return v.String()
}

func jsToInt32(f float64) int32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	m := math.Mod(f, 4294967296)
	if m < 0 {
		m += 4294967296
	}
	return int32(uint32(m))
}

func strictEquals(a, b RVal) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case RUndefined, RNull:
		return true
	case RNumber:
		return a.Num == b.Num
	case RBool:
		return a.Bool == b.Bool
	case RString:
		return a.Str == b.Str
	case RObject:
		return a.Obj == b.Obj
	}
	return false
}

func looseEquals(a, b RVal) bool {
	if a.Kind == b.Kind {
		return strictEquals(a, b)
	}
	nullish := func(v RVal) bool { return v.Kind == RUndefined || v.Kind == RNull }
	if nullish(a) || nullish(b) {
		return nullish(a) && nullish(b)
	}
	if a.Kind == RObject || b.Kind == RObject {
		return false
	}
	return toNumber(a) == toNumber(b)
}

func relational(op Opcode, a, b RVal) bool {
	if a.Kind == RString && b.Kind == RString {
		switch op {
		case OpCmLt, OpBrLt:
			return a.Str < b.Str
		case OpCmLe, OpBrLe:
			return a.Str <= b.Str
		case OpCmGt, OpBrGt:
			return a.Str > b.Str
		}
		return a.Str >= b.Str
	}
	x, y := toNumber(a), toNumber(b)
	switch op {
	case OpCmLt, OpBrLt:
		return x < y
	case OpCmLe, OpBrLe:
		return x <= y
	case OpCmGt, OpBrGt:
		return x > y
	}
	return x >= y
}

// ============================================================================
// 解释器
// ============================================================================

// HostFunc 宿主函数
type HostFunc func(args []RVal) RVal

// Interp 参考解释器
type Interp struct {
	Host     map[string]HostFunc
	MaxSteps int
	// Fallback 未优化的函数。设置后 bailout 按恢复点装箱寄存器，在其中继续执行到结束
	Fallback *Func
}

// RunResult 执行结果
type RunResult struct {
	Value     RVal
	BailedOut bool
	BailOut   BailOutKind
	// Resumed bailout 之后在 Fallback 中继续执行
	Resumed bool
	Steps   int
}

type bailOutSignal struct {
	kind    BailOutKind
	restore *RestorePoint
}

func (b *bailOutSignal) Error() string { return "bailout: " + b.kind.String() }

type frame struct {
	f    *Func
	in   *Interp
	regs map[SymID]RVal
	args []RVal
}

func unsound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnsound, fmt.Sprintf(format, args...))
}

// Run 执行函数
func (in *Interp) Run(f *Func, args []RVal) (*RunResult, error) {
	fr := &frame{f: f, in: in, regs: make(map[SymID]RVal), args: args}
	res := &RunResult{}
	entry := f.Blocks[f.Entry]
	err := in.run(fr, entry, entry.first, res)
	var bo *bailOutSignal
	if !errors.As(err, &bo) {
		return res, err
	}
	res.BailedOut, res.BailOut = true, bo.kind
	if in.Fallback == nil {
		return res, nil
	}
	rf, b, start, err := fr.resume(in.Fallback, bo.restore)
	if err != nil {
		return res, err
	}
	res.Resumed = true
	if err := in.run(rf, b, start, res); err != nil {
		if errors.As(err, &bo) {
			return res, fmt.Errorf("fallback bailed out: %s", bo.kind)
		}
		return res, err
	}
	return res, nil
}

// run 从块 b 的 start 指令开始执行。bailout 以 *bailOutSignal 原样返回
func (in *Interp) run(fr *frame, b *Block, start *Instr, res *RunResult) error {
	max := in.MaxSteps
	if max == 0 {
		max = 1000000
	}
	for {
		next := b.Fallthrough()
		for i := start; i != nil; i = i.next {
			res.Steps++
			if res.Steps > max {
				return ErrStepLimit
			}
			jump, ret, done, err := fr.exec(i)
			if err != nil {
				var bo *bailOutSignal
				if errors.As(err, &bo) {
					return bo
				}
				return fmt.Errorf("B%d %s: %w", b.ID, i.Text(fr.f.Syms), err)
			}
			if done {
				res.Value = ret
				return nil
			}
			if jump != NoBlock {
				next = jump
				break
			}
			if i.IsConditionalBranch() {
				next = b.Fallthrough()
			}
		}
		if next == NoBlock {
			res.Value = Undef()
			return nil
		}
		b = fr.f.Blocks[next]
		start = b.first
	}
}

// checkObjType 带类型信息的操作数：对象类型与预期不同时，已检查的访问
// 说明优化不正确，自带检查的访问退出
func (fr *frame) checkObjType(i *Instr, o *Opnd) error {
	t := o.ObjType
	if t == nil {
		return nil
	}
	base := o.Sym
	if o.IsProperty() {
		base = fr.f.Syms.Get(o.Sym).Base
	}
	v := fr.regs[base]
	if v.Kind == RObject && v.Obj.Array == nil && v.Obj.Shape().Equal(t.Shape) {
		return nil
	}
	if t.Checked {
		return unsound("type %s of %s assumed without a check", t.Shape.Text(fr.f.Syms), fr.f.Syms.Get(base).Name)
	}
	return fr.bail(i, BailOutFailedTypeCheck)
}

func (fr *frame) bail(i *Instr, k BailOutKind) error {
	if !i.HasBailOut() {
		return unsound("guard %s failed without bailout", k)
	}
	return &bailOutSignal{kind: i.BailOut.Kind, restore: i.BailOut.Restore}
}

// resume 按恢复点把当前帧的值装箱到 orig 的新帧，返回继续执行的块与指令。
// 共享恢复点从循环头入口继续，其余从字节码偏移相同的指令继续
func (fr *frame) resume(orig *Func, rp *RestorePoint) (*frame, *Block, *Instr, error) {
	if rp == nil {
		return nil, nil, nil, unsound("bailout without restore point")
	}
	nf := &frame{f: orig, in: fr.in, regs: make(map[SymID]RVal), args: fr.args}
	for _, rs := range rp.Syms {
		if int(rs.Sym) >= orig.Syms.Len() {
			continue
		}
		if s := orig.Syms.Get(rs.Sym); s == nil || s.IsTypeSpec() || s.IsProperty() {
			continue
		}
		if v, ok := fr.boxed(rs); ok {
			nf.regs[rs.Sym] = v
		}
	}
	if rp.Shared {
		l := fr.f.Loop(rp.Loop)
		if l == nil || int(l.Header) >= len(orig.Blocks) || orig.Blocks[l.Header].Deleted {
			return nil, nil, nil, unsound("shared restore point without loop header")
		}
		b := orig.Blocks[l.Header]
		return nf, b, b.first, nil
	}
	for _, b := range orig.Blocks {
		if b.Deleted {
			continue
		}
		for i := b.first; i != nil; i = i.next {
			if i.ByteCodeOffset == rp.ByteCodeOffset {
				return nf, b, i, nil
			}
		}
	}
	return nil, nil, nil, unsound("no instruction at byte code offset %d", rp.ByteCodeOffset)
}

// boxed 读取恢复符号在记录表示下的值；该表示未定义时退回变量本身
func (fr *frame) boxed(rs RestoreSym) (RVal, bool) {
	if rs.From != ReprVar {
		if sh := fr.f.Syms.Shadow(rs.Sym, rs.From); sh != NoSym {
			if v, ok := fr.regs[sh]; ok {
				return v, true
			}
		}
	}
	v, ok := fr.regs[rs.Sym]
	return v, ok
}

func (fr *frame) read(o *Opnd) (RVal, error) {
	switch o.Kind {
	case OpndReg:
		v, ok := fr.regs[o.Sym]
		if !ok {
			s := fr.f.Syms.Get(o.Sym)
			if s != nil && s.IsTypeSpec() {
				return v, unsound("read of undefined %s", s.Name)
			}
			return Undef(), nil
		}
		return v, nil
	case OpndIntConst:
		return Num(float64(o.Int)), nil
	case OpndFloatConst:
		return Num(o.Float), nil
	case OpndAddr:
		switch o.Const.Kind {
		case ConstNull:
			return NullVal(), nil
		case ConstBool:
			return BoolVal(o.Const.Bool), nil
		case ConstString:
			return Str(o.Const.Str), nil
		}
		return Undef(), nil
	case OpndProperty:
		s := fr.f.Syms.Get(o.Sym)
		base := fr.regs[s.Base]
		if base.Kind != RObject {
			return Undef(), nil
		}
		if v, ok := base.Obj.Fields[s.PropertyID]; ok {
			return v, nil
		}
		return Undef(), nil
	case OpndIndir:
		base, idx, err := fr.indir(o)
		if err != nil {
			return RVal{}, err
		}
		if base.Kind == RString {
			if idx >= 0 && idx < len(base.Str) {
				return Str(base.Str[idx : idx+1]), nil
			}
			return Undef(), nil
		}
		if base.Kind != RObject || base.Obj.Array == nil {
			return Undef(), nil
		}
		a := base.Obj.Array
		if idx < 0 || idx >= len(a.Elems) {
			if info := o.Array; info != nil && (info.EliminatedLowerBoundCheck && idx < 0 ||
				info.EliminatedUpperBoundCheck && idx >= len(a.Elems)) {
				return RVal{}, unsound("index %d outside [0,%d) with eliminated bound check", idx, len(a.Elems))
			}
			return Undef(), nil
		}
		return a.Elems[idx], nil
	}
	return RVal{}, fmt.Errorf("unknown operand kind %d", o.Kind)
}

func (fr *frame) indir(o *Opnd) (RVal, int, error) {
	base, ok := fr.regs[o.Sym]
	if !ok {
		return Undef(), 0, nil
	}
	idx := int(o.Offset)
	if o.Index != NoSym {
		iv, err := fr.read(fr.f.Reg(o.Index))
		if err != nil {
			return RVal{}, 0, err
		}
		n := toNumber(iv)
		if !IsInt32Value(n) && n != 0 {
			return base, -1 << 40, nil
		}
		idx = int(n)
	}
	return base, idx, nil
}

func (fr *frame) write(o *Opnd, v RVal) error {
	switch o.Kind {
	case OpndReg:
		s := fr.f.Syms.Get(o.Sym)
		if s.Repr == ReprInt32 && (v.Kind != RNumber || !IsInt32Value(v.Num) && v.Num != 0) {
			return unsound("non-int32 %s written to %s", v, s.Name)
		}
		fr.regs[o.Sym] = v
	case OpndProperty:
		s := fr.f.Syms.Get(o.Sym)
		base := fr.regs[s.Base]
		if base.Kind == RObject {
			base.Obj.Fields[s.PropertyID] = v
		}
	case OpndIndir:
		base, idx, err := fr.indir(o)
		if err != nil {
			return err
		}
		if base.Kind != RObject || base.Obj.Array == nil || idx < 0 || idx > 1<<24 {
			if info := o.Array; info != nil && info.EliminatedLowerBoundCheck && idx < 0 {
				return unsound("negative index %d with eliminated bound check", idx)
			}
			return nil
		}
		base.Obj.Array.store(idx, v)
	default:
		return fmt.Errorf("cannot write to operand kind %d", o.Kind)
	}
	return nil
}

func (fr *frame) readNum(o *Opnd) (float64, error) {
	v, err := fr.read(o)
	if err != nil {
		return 0, err
	}
	return toNumber(v), nil
}

func (fr *frame) readI32(o *Opnd) (int32, error) {
	v, err := fr.read(o)
	if err != nil {
		return 0, err
	}
	if v.Kind != RNumber || (!IsInt32Value(v.Num) && v.Num != 0) {
		return 0, unsound("int32 operand holds %s", v)
	}
	return int32(v.Num), nil
}

func (fr *frame) exec(i *Instr) (jump BlockID, ret RVal, done bool, err error) {
	jump = NoBlock
	switch {
	case i.Op.Has(FlagIntSpecialized):
		err = fr.execInt(i)
		return
	case i.Op.Has(FlagFloatSpecialized):
		err = fr.execFloat(i)
		return
	case i.Op.IsBranch():
		var taken bool
		taken, err = fr.evalBranch(i)
		if taken {
			jump = i.Target
		}
		return
	}

	switch i.Op {
	case OpNop, OpByteCodeUses:
	case OpArgIn:
		v := Undef()
		if n := int(i.Src1.Int); n < len(fr.args) {
			v = fr.args[n]
		}
		err = fr.write(i.Dst, v)
	case OpLd:
		var v RVal
		if v, err = fr.read(i.Src1); err == nil {
			err = fr.write(i.Dst, v)
		}
	case OpRet:
		if i.Src1 != nil {
			ret, err = fr.read(i.Src1)
		}
		done = true
	case OpBailOut:
		err = fr.bail(i, BailOutUnconditional)
	case OpToVar:
		var v RVal
		if v, err = fr.read(i.Src1); err == nil {
			err = fr.write(i.Dst, v)
		}
	case OpToInt32:
		var v RVal
		if v, err = fr.read(i.Src1); err != nil {
			return
		}
		if v.Kind != RNumber || !IsInt32Value(v.Num) {
			err = fr.bail(i, BailOutIntOnly)
			return
		}
		err = fr.write(i.Dst, Num(v.Num))
	case OpToInt32Lossy:
		var v RVal
		if v, err = fr.read(i.Src1); err != nil {
			return
		}
		if v.Kind == RObject && i.HasBailOut() && i.BailOut.Kind&BailOutOnImplicitCalls != 0 {
			err = fr.bail(i, BailOutOnImplicitCalls)
			return
		}
		err = fr.write(i.Dst, Num(float64(jsToInt32(toNumber(v)))))
	case OpToFloat64:
		var v RVal
		if v, err = fr.read(i.Src1); err != nil {
			return
		}
		if v.Kind != RNumber {
			k := BailOutKind(0)
			if i.HasBailOut() {
				k = i.BailOut.Kind
			}
			switch {
			case k&BailOutNumberOnly != 0,
				k&BailOutPrimitiveButString != 0 && (v.Kind == RString || v.Kind == RObject):
				err = fr.bail(i, BailOutNumberOnly)
				return
			case k&BailOutPrimitiveButString == 0:
				err = unsound("unguarded float conversion of %s", v)
				return
			}
		}
		err = fr.write(i.Dst, Num(toNumber(v)))
	case OpToSimd128:
		var v RVal
		if v, err = fr.read(i.Src1); err != nil {
			return
		}
		if v.Kind != RSimd {
			err = fr.bail(i, BailOutOnNotSimd)
			return
		}
		err = fr.write(i.Dst, v)
	case OpConvNum:
		var f float64
		if f, err = fr.readNum(i.Src1); err == nil {
			err = fr.write(i.Dst, Num(f))
		}
	case OpAdd:
		var a, b RVal
		if a, err = fr.read(i.Src1); err != nil {
			return
		}
		if b, err = fr.read(i.Src2); err != nil {
			return
		}
		if a.Kind == RString || b.Kind == RString {
			err = fr.write(i.Dst, Str(toString(a)+toString(b)))
			return
		}
		err = fr.write(i.Dst, Num(toNumber(a)+toNumber(b)))
	case OpSub, OpMul, OpDiv, OpRem, OpMathMin, OpMathMax:
		var a, b float64
		if a, err = fr.readNum(i.Src1); err != nil {
			return
		}
		if b, err = fr.readNum(i.Src2); err != nil {
			return
		}
		err = fr.write(i.Dst, Num(floatBinary(i.Op, a, b)))
	case OpNeg, OpIncr, OpDecr, OpMathAbs, OpMathFloor, OpMathCeil, OpMathSqrt:
		var a float64
		if a, err = fr.readNum(i.Src1); err != nil {
			return
		}
		r := floatUnary(i.Op, a)
		if i.Dst.Type == TyInt32 {
			if !IsInt32Value(r) {
				err = fr.bail(i, BailOutIntOnly)
				return
			}
		}
		err = fr.write(i.Dst, Num(r))
	case OpNot, OpAnd, OpOr, OpXor, OpShl, OpShr, OpShrU:
		var a, b float64
		if a, err = fr.readNum(i.Src1); err != nil {
			return
		}
		if i.Src2 != nil {
			if b, err = fr.readNum(i.Src2); err != nil {
				return
			}
		}
		err = fr.write(i.Dst, Num(bitwise(i.Op, jsToInt32(a), jsToInt32(b))))
	case OpLogicalNot:
		var v RVal
		if v, err = fr.read(i.Src1); err == nil {
			err = fr.write(i.Dst, BoolVal(!toBoolean(v)))
		}
	case OpCmEq, OpCmNeq, OpCmSrEq, OpCmSrNeq, OpCmLt, OpCmLe, OpCmGt, OpCmGe:
		var a, b RVal
		if a, err = fr.read(i.Src1); err != nil {
			return
		}
		if b, err = fr.read(i.Src2); err != nil {
			return
		}
		err = fr.write(i.Dst, BoolVal(compare(i.Op, a, b)))
	case OpLdFld:
		if err = fr.checkObjType(i, i.Src1); err != nil {
			return
		}
		var v RVal
		if v, err = fr.read(i.Src1); err == nil {
			err = fr.write(i.Dst, v)
		}
	case OpStFld:
		if err = fr.checkObjType(i, i.Dst); err != nil {
			return
		}
		var v RVal
		if v, err = fr.read(i.Src1); err == nil {
			err = fr.write(i.Dst, v)
		}
	case OpCheckObjType:
		err = fr.checkObjType(i, i.Src1)
	case OpDeleteFld:
		s := fr.f.Syms.Get(i.Src1.Sym)
		if base := fr.regs[s.Base]; base.Kind == RObject {
			delete(base.Obj.Fields, s.PropertyID)
		}
	case OpNewObject:
		err = fr.write(i.Dst, NewRObject())
	case OpNewArray:
		t := ObjectArray
		if i.Profile != nil && i.Profile.ValueType.IsLikelyOptimizedArray() {
			t = i.Profile.ValueType.ObjectType()
		}
		n := 0
		if i.Src1 != nil {
			var f float64
			if f, err = fr.readNum(i.Src1); err != nil {
				return
			}
			if f > 0 && f <= 1<<24 {
				n = int(f)
			}
		}
		err = fr.write(i.Dst, NewRArray(t, make([]float64, n)...))
	case OpLdElem:
		err = fr.execLdElem(i)
	case OpStElem:
		err = fr.execStElem(i)
	case OpLdLen:
		var v RVal
		if v, err = fr.read(i.Src1); err != nil {
			return
		}
		switch {
		case v.Kind == RString:
			err = fr.write(i.Dst, Num(float64(len(v.Str))))
		case v.Kind == RObject && v.Obj.Array != nil:
			err = fr.write(i.Dst, Num(float64(len(v.Obj.Array.Elems))))
		default:
			err = fr.write(i.Dst, Undef())
		}
	case OpStLen:
		var v RVal
		var n float64
		if v, err = fr.read(i.Dst); err != nil {
			return
		}
		if n, err = fr.readNum(i.Src1); err != nil {
			return
		}
		if v.Kind == RObject && v.Obj.Array != nil && !v.Obj.Array.Type.IsTypedArray() && n >= 0 {
			a := v.Obj.Array
			for len(a.Elems) < int(n) {
				a.Elems = append(a.Elems, Undef())
			}
			a.Elems = a.Elems[:int(n)]
		}
	case OpArrayPush:
		var base, v RVal
		if base, err = fr.read(i.Src1); err != nil {
			return
		}
		if v, err = fr.read(i.Src2); err != nil {
			return
		}
		if base.Kind == RObject && base.Obj.Array != nil && !base.Obj.Array.Type.IsTypedArray() {
			a := base.Obj.Array
			a.store(len(a.Elems), v)
		}
	case OpCheckArray:
		var v RVal
		if v, err = fr.read(i.Src1); err != nil {
			return
		}
		want := i.Src1.ValueType
		if v.Kind != RObject || v.Obj.Array == nil || v.Obj.Array.Type != want.ObjectType() {
			err = fr.bail(i, BailOutOnNotArray)
		}
	case OpLdHeadSegment:
		var v RVal
		if v, err = fr.read(i.Src1); err == nil {
			err = fr.write(i.Dst, v)
		}
	case OpLdHeadSegmentLength, OpLdArrayLength:
		var v RVal
		if v, err = fr.read(i.Src1); err != nil {
			return
		}
		if v.Kind != RObject || v.Obj.Array == nil {
			err = unsound("array length of non-array %s", v)
			return
		}
		err = fr.write(i.Dst, Num(float64(len(v.Obj.Array.Elems))))
	case OpBoundCheck:
		var a, b int32
		if a, err = fr.readI32(i.Src1); err != nil {
			return
		}
		if b, err = fr.readI32(i.Src2); err != nil {
			return
		}
		if int64(a) > int64(b)+int64(i.Offset) {
			err = fr.bail(i, BailOutOnFailedHoistedBoundCheck)
		}
	case OpMemset, OpMemcopy:
		err = fr.execMemOp(i)
	case OpSimdSplatF4, OpSimdAddF4, OpSimdSubF4, OpSimdMulF4, OpSimdDivF4, OpSimdMinF4, OpSimdMaxF4,
		OpSimdNegF4, OpSimdAbsF4, OpSimdSqrtF4, OpSimdExtractLaneF4, OpSimdReplaceLaneF4,
		OpSimdSplatI4, OpSimdAddI4, OpSimdSubI4, OpSimdMulI4, OpSimdNegI4, OpSimdAndI4, OpSimdOrI4,
		OpSimdXorI4, OpSimdExtractLaneI4, OpSimdReplaceLaneI4:
		err = fr.execSimd(i)
	case OpCall:
		err = fr.execCall(i)
	default:
		err = fmt.Errorf("unsupported opcode %s", i.Op)
	}
	return
}

func (fr *frame) execCall(i *Instr) error {
	name := i.Src1.Const.Str
	h, ok := fr.in.Host[name]
	if !ok {
		return fmt.Errorf("unknown host function %q", name)
	}
	args := make([]RVal, 0, len(i.Args))
	for _, a := range i.Args {
		v, err := fr.read(a)
		if err != nil {
			return err
		}
		args = append(args, v)
	}
	r := h(args)
	if i.Dst != nil {
		return fr.write(i.Dst, r)
	}
	return nil
}

func (fr *frame) execLdElem(i *Instr) error {
	v, err := fr.read(i.Src1)
	if err != nil {
		return err
	}
	if i.HasBailOut() {
		base, idx, _ := fr.indir(i.Src1)
		k := i.BailOut.Kind
		inBounds := base.Kind == RObject && base.Obj.Array != nil && idx >= 0 && idx < len(base.Obj.Array.Elems)
		if k&(BailOutConventionalAccess|BailOutOnArrayAccessHelperCall) != 0 && !inBounds {
			return fr.bail(i, k)
		}
		if k&BailOutOnMissingValue != 0 && v.Kind == RUndefined {
			return fr.bail(i, BailOutOnMissingValue)
		}
	}
	switch i.Dst.Type {
	case TyInt32:
		if v.Kind != RNumber || !IsInt32Value(v.Num) {
			return fr.bail(i, BailOutIntOnly)
		}
	case TyFloat64:
		if v.Kind != RNumber {
			return fr.bail(i, BailOutNumberOnly)
		}
	}
	return fr.write(i.Dst, v)
}

func (fr *frame) execStElem(i *Instr) error {
	v, err := fr.read(i.Src1)
	if err != nil {
		return err
	}
	if i.HasBailOut() {
		base, idx, err := fr.indir(i.Dst)
		if err != nil {
			return err
		}
		k := i.BailOut.Kind
		if base.Kind != RObject || base.Obj.Array == nil {
			return fr.bail(i, k)
		}
		a := base.Obj.Array
		if k&(BailOutConventionalAccess|BailOutOnArrayAccessHelperCall) != 0 {
			limit := len(a.Elems)
			if !a.Type.IsTypedArray() && k&BailOutConventionalNativeArrayAccessOnly == 0 {
				limit++
			}
			if idx < 0 || idx >= limit {
				return fr.bail(i, k)
			}
		}
		if a.Type == ObjectNativeIntArray && (v.Kind != RNumber || !IsInt32Value(v.Num)) {
			return fr.bail(i, k)
		}
	}
	return fr.write(i.Dst, v)
}

func (fr *frame) execMemOp(i *Instr) error {
	dstBase, start, err := fr.indir(i.Dst)
	if err != nil {
		return err
	}
	cnt, err := fr.readI32(i.Src2)
	if err != nil {
		return err
	}
	if cnt <= 0 {
		return nil
	}
	if dstBase.Kind != RObject || dstBase.Obj.Array == nil {
		return fr.bail(i, BailOutOnMemOpError)
	}
	da := dstBase.Obj.Array
	if start < 0 || start+int(cnt) > len(da.Elems) {
		return fr.bail(i, BailOutOnMemOpError)
	}
	if i.Op == OpMemset {
		v, err := fr.read(i.Src1)
		if err != nil {
			return err
		}
		if da.Type == ObjectNativeIntArray && (v.Kind != RNumber || !IsInt32Value(v.Num)) {
			return fr.bail(i, BailOutOnMemOpError)
		}
		for n := 0; n < int(cnt); n++ {
			da.store(start+n, v)
		}
		return nil
	}
	srcBase, sstart, err := fr.indir(i.Src1)
	if err != nil {
		return err
	}
	if srcBase.Kind != RObject || srcBase.Obj.Array == nil {
		return fr.bail(i, BailOutOnMemOpError)
	}
	sa := srcBase.Obj.Array
	if sstart < 0 || sstart+int(cnt) > len(sa.Elems) || sa.Type != da.Type {
		return fr.bail(i, BailOutOnMemOpError)
	}
	tmp := append([]RVal(nil), sa.Elems[sstart:sstart+int(cnt)]...)
	for n, v := range tmp {
		da.store(start+n, v)
	}
	return nil
}

func (fr *frame) execInt(i *Instr) error {
	a, err := fr.readI32(i.Src1)
	if err != nil {
		return err
	}
	var b int32
	if i.Src2 != nil {
		if b, err = fr.readI32(i.Src2); err != nil {
			return err
		}
	}
	var r int64
	switch i.Op {
	case OpLdI4:
		r = int64(a)
	case OpAddI4:
		r = int64(a) + int64(b)
	case OpSubI4:
		r = int64(a) - int64(b)
	case OpMulI4:
		r = int64(a) * int64(b)
		if r == 0 && (a < 0 || b < 0) && !i.IgnoreNegativeZero {
			return fr.bail(i, BailOutOnNegativeZero)
		}
	case OpDivI4:
		if b == 0 || int64(a)%int64(b) != 0 || (a == 0 && b < 0) {
			return fr.bail(i, BailOutIntOnly)
		}
		r = int64(a) / int64(b)
	case OpRemI4:
		if b == 0 {
			return fr.bail(i, BailOutIntOnly)
		}
		r = int64(a) % int64(b)
		if r == 0 && a < 0 && !i.IgnoreNegativeZero {
			return fr.bail(i, BailOutOnNegativeZero)
		}
	case OpNegI4:
		if a == 0 && !i.IgnoreNegativeZero {
			return fr.bail(i, BailOutOnNegativeZero)
		}
		r = -int64(a)
	default:
		r = int64(int32(bitwise(i.Op, a, b)))
		if i.Op == OpShrUI4 {
			r = int64(uint32(a) >> (uint32(b) & 31))
		}
	}
	if r < math.MinInt32 || r > math.MaxInt32 {
		if !i.IgnoreIntOverflow {
			return fr.bail(i, BailOutOnOverflow)
		}
		r = int64(int32(r))
	}
	return fr.write(i.Dst, Num(float64(r)))
}

func (fr *frame) execFloat(i *Instr) error {
	a, err := fr.readNum(i.Src1)
	if err != nil {
		return err
	}
	var b float64
	if i.Src2 != nil {
		if b, err = fr.readNum(i.Src2); err != nil {
			return err
		}
	}
	var r float64
	switch i.Op {
	case OpLdF8:
		r = a
	case OpAddF8:
		r = a + b
	case OpSubF8:
		r = a - b
	case OpMulF8:
		r = a * b
	case OpDivF8:
		r = a / b
	case OpNegF8:
		r = -a
	}
	return fr.write(i.Dst, Num(r))
}

func (fr *frame) evalBranch(i *Instr) (bool, error) {
	switch i.Op {
	case OpBr:
		return true, nil
	case OpBrTrue, OpBrFalse:
		v, err := fr.read(i.Src1)
		if err != nil {
			return false, err
		}
		return toBoolean(v) == (i.Op == OpBrTrue), nil
	}
	a, err := fr.read(i.Src1)
	if err != nil {
		return false, err
	}
	b, err := fr.read(i.Src2)
	if err != nil {
		return false, err
	}
	return compare(i.Op.Info().Compare, a, b), nil
}

func compare(op Opcode, a, b RVal) bool {
	switch op {
	case OpCmEq:
		return looseEquals(a, b)
	case OpCmNeq:
		return !looseEquals(a, b)
	case OpCmSrEq:
		return strictEquals(a, b)
	case OpCmSrNeq:
		return !strictEquals(a, b)
	}
	return relational(op, a, b)
}

func floatBinary(op Opcode, a, b float64) float64 {
	switch op {
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	case OpRem:
		return math.Mod(a, b)
	case OpMathMin:
		if math.IsNaN(a) || math.IsNaN(b) {
			return math.NaN()
		}
		return math.Min(a, b)
	case OpMathMax:
		if math.IsNaN(a) || math.IsNaN(b) {
			return math.NaN()
		}
		return math.Max(a, b)
	}
	return a + b
}

func floatUnary(op Opcode, a float64) float64 {
	switch op {
	case OpNeg:
		return -a
	case OpIncr:
		return a + 1
	case OpDecr:
		return a - 1
	case OpMathAbs:
		return math.Abs(a)
	case OpMathFloor:
		return math.Floor(a)
	case OpMathCeil:
		return math.Ceil(a)
	case OpMathSqrt:
		return math.Sqrt(a)
	}
	return a
}

func bitwise(op Opcode, a, b int32) float64 {
	switch op {
	case OpNot, OpNotI4:
		return float64(^a)
	case OpAnd, OpAndI4:
		return float64(a & b)
	case OpOr, OpOrI4:
		return float64(a | b)
	case OpXor, OpXorI4:
		return float64(a ^ b)
	case OpShl, OpShlI4:
		return float64(a << (uint32(b) & 31))
	case OpShr, OpShrI4:
		return float64(a >> (uint32(b) & 31))
	case OpShrU, OpShrUI4:
		return float64(uint32(a) >> (uint32(b) & 31))
	}
	return float64(a)
}
