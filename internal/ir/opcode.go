// opcode.go - 操作码与能力表
//
// 操作码集合是封闭的。各优化组件通过 OpInfo 能力表查询操作码属性，
// 而不是在各处维护各自的分支表。

package ir

import "fmt"

// Opcode IR 操作码
type Opcode uint16

const (
	OpNop Opcode = iota

	// 数据移动
	OpLd
	OpLdI4
	OpLdF8
	OpArgIn

	// 表示转换
	OpToVar
	OpToInt32
	OpToInt32Lossy
	OpToFloat64
	OpToSimd128
	OpConvNum

	// 装箱算术
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpNeg
	OpIncr
	OpDecr
	OpNot
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpShrU
	OpLogicalNot

	// int32 算术
	OpAddI4
	OpSubI4
	OpMulI4
	OpDivI4
	OpRemI4
	OpNegI4
	OpNotI4
	OpAndI4
	OpOrI4
	OpXorI4
	OpShlI4
	OpShrI4
	OpShrUI4

	// float64 算术
	OpAddF8
	OpSubF8
	OpMulF8
	OpDivF8
	OpNegF8

	// 内建数学函数
	OpMathAbs
	OpMathFloor
	OpMathCeil
	OpMathSqrt
	OpMathMin
	OpMathMax

	// 比较
	OpCmEq
	OpCmNeq
	OpCmSrEq
	OpCmSrNeq
	OpCmLt
	OpCmLe
	OpCmGt
	OpCmGe

	// 分支
	OpBr
	OpBrTrue
	OpBrFalse
	OpBrEq
	OpBrNeq
	OpBrSrEq
	OpBrSrNeq
	OpBrLt
	OpBrLe
	OpBrGt
	OpBrGe

	// 属性
	OpLdFld
	OpStFld
	OpDeleteFld
	// OpCheckObjType 检查对象类型，失败时退出
	OpCheckObjType

	// 对象与数组
	OpNewObject
	OpNewArray
	OpLdElem
	OpStElem
	OpLdLen
	OpStLen
	OpArrayPush

	// 优化器生成的数组辅助指令
	OpCheckArray
	OpLdHeadSegment
	OpLdHeadSegmentLength
	OpLdArrayLength
	OpBoundCheck
	OpMemset
	OpMemcopy

	// SIMD
	OpSimdSplatF4
	OpSimdAddF4
	OpSimdMulF4
	OpSimdSplatI4
	OpSimdAddI4
	OpSimdSubF4
	OpSimdDivF4
	OpSimdMinF4
	OpSimdMaxF4
	OpSimdNegF4
	OpSimdAbsF4
	OpSimdSqrtF4
	OpSimdExtractLaneF4
	OpSimdReplaceLaneF4
	OpSimdSubI4
	OpSimdMulI4
	OpSimdNegI4
	OpSimdAndI4
	OpSimdOrI4
	OpSimdXorI4
	OpSimdExtractLaneI4
	OpSimdReplaceLaneI4

	// 调用与返回
	OpCall
	OpRet

	// 保护
	OpBailOut
	OpByteCodeUses

	opcodeCount
)

// OpFlags 操作码能力位
type OpFlags uint32

const (
	// FlagPure 操作数均为原始值时无副作用且结果只取决于操作数
	FlagPure OpFlags = 1 << iota
	// FlagCanHoist 满足不变条件时可外提
	FlagCanHoist
	// FlagSideEffects 写内存
	FlagSideEffects
	// FlagCallsUserCode 总是可能回调用户代码
	FlagCallsUserCode
	// FlagImplicitCalls 操作数为非原始值时可能回调用户代码
	FlagImplicitCalls
	FlagBranch
	FlagConditional
	FlagTerminator
	// FlagSymbolicUse 需要符号引用，禁止复制传播
	FlagSymbolicUse
	// FlagConstSrc 源操作数可以是常量
	FlagConstSrc
	FlagCompare
	FlagCommutative
	// FlagBitwise 位运算，可以使用有损 int32
	FlagBitwise
	FlagArith
	FlagUnary
	FlagIntSpecialized
	FlagFloatSpecialized
	FlagArrayAccess
	FlagConversion
	FlagSimd
)

// OpInfo 操作码能力表项
type OpInfo struct {
	Name  string
	Flags OpFlags
	// Int 对应的 int32 特化操作码
	Int Opcode
	// Float 对应的 float64 特化操作码
	Float Opcode
	// Compare 分支对应的比较操作码
	Compare Opcode
}

const (
	arithBinaryFlags = FlagPure | FlagCanHoist | FlagImplicitCalls | FlagConstSrc | FlagArith
	arithUnaryFlags  = arithBinaryFlags | FlagUnary
	intBinaryFlags   = FlagPure | FlagCanHoist | FlagConstSrc | FlagArith | FlagIntSpecialized
	intUnaryFlags    = intBinaryFlags | FlagUnary
	floatBinaryFlags = FlagPure | FlagCanHoist | FlagConstSrc | FlagArith | FlagFloatSpecialized
	compareFlags     = FlagPure | FlagCanHoist | FlagImplicitCalls | FlagConstSrc | FlagCompare
	condBranchFlags  = FlagBranch | FlagConditional | FlagTerminator | FlagImplicitCalls | FlagConstSrc
	mathUnaryFlags   = FlagPure | FlagCanHoist | FlagImplicitCalls | FlagConstSrc | FlagUnary
)

var opInfos = [opcodeCount]OpInfo{
	OpNop:   {Name: "Nop", Flags: FlagPure},
	OpLd:    {Name: "Ld", Flags: FlagPure | FlagCanHoist | FlagConstSrc | FlagUnary, Int: OpLdI4, Float: OpLdF8},
	OpLdI4:  {Name: "Ld_I4", Flags: FlagPure | FlagCanHoist | FlagConstSrc | FlagUnary | FlagIntSpecialized},
	OpLdF8:  {Name: "Ld_F8", Flags: FlagPure | FlagCanHoist | FlagConstSrc | FlagUnary | FlagFloatSpecialized},
	OpArgIn: {Name: "ArgIn", Flags: FlagConstSrc},

	OpToVar:        {Name: "ToVar", Flags: FlagPure | FlagCanHoist | FlagConversion | FlagUnary},
	OpToInt32:      {Name: "ToInt32", Flags: FlagPure | FlagCanHoist | FlagConversion | FlagUnary},
	OpToInt32Lossy: {Name: "ToInt32Lossy", Flags: FlagPure | FlagCanHoist | FlagConversion | FlagUnary},
	OpToFloat64:    {Name: "ToFloat64", Flags: FlagPure | FlagCanHoist | FlagConversion | FlagUnary},
	OpToSimd128:    {Name: "ToSimd128", Flags: FlagPure | FlagCanHoist | FlagConversion | FlagUnary},
	OpConvNum:      {Name: "Conv_Num", Flags: arithUnaryFlags, Int: OpLdI4, Float: OpLdF8},

	OpAdd:        {Name: "Add", Flags: arithBinaryFlags | FlagCommutative, Int: OpAddI4, Float: OpAddF8},
	OpSub:        {Name: "Sub", Flags: arithBinaryFlags, Int: OpSubI4, Float: OpSubF8},
	OpMul:        {Name: "Mul", Flags: arithBinaryFlags | FlagCommutative, Int: OpMulI4, Float: OpMulF8},
	OpDiv:        {Name: "Div", Flags: arithBinaryFlags, Int: OpDivI4, Float: OpDivF8},
	OpRem:        {Name: "Rem", Flags: arithBinaryFlags, Int: OpRemI4},
	OpNeg:        {Name: "Neg", Flags: arithUnaryFlags, Int: OpNegI4, Float: OpNegF8},
	OpIncr:       {Name: "Incr", Flags: arithUnaryFlags, Int: OpAddI4, Float: OpAddF8},
	OpDecr:       {Name: "Decr", Flags: arithUnaryFlags, Int: OpSubI4, Float: OpSubF8},
	OpNot:        {Name: "Not", Flags: arithUnaryFlags | FlagBitwise, Int: OpNotI4},
	OpAnd:        {Name: "And", Flags: arithBinaryFlags | FlagBitwise | FlagCommutative, Int: OpAndI4},
	OpOr:         {Name: "Or", Flags: arithBinaryFlags | FlagBitwise | FlagCommutative, Int: OpOrI4},
	OpXor:        {Name: "Xor", Flags: arithBinaryFlags | FlagBitwise | FlagCommutative, Int: OpXorI4},
	OpShl:        {Name: "Shl", Flags: arithBinaryFlags | FlagBitwise, Int: OpShlI4},
	OpShr:        {Name: "Shr", Flags: arithBinaryFlags | FlagBitwise, Int: OpShrI4},
	OpShrU:       {Name: "ShrU", Flags: arithBinaryFlags | FlagBitwise, Int: OpShrUI4},
	OpLogicalNot: {Name: "LogicalNot", Flags: FlagPure | FlagCanHoist | FlagConstSrc | FlagUnary},

	OpAddI4:  {Name: "Add_I4", Flags: intBinaryFlags | FlagCommutative},
	OpSubI4:  {Name: "Sub_I4", Flags: intBinaryFlags},
	OpMulI4:  {Name: "Mul_I4", Flags: intBinaryFlags | FlagCommutative},
	OpDivI4:  {Name: "Div_I4", Flags: intBinaryFlags},
	OpRemI4:  {Name: "Rem_I4", Flags: intBinaryFlags},
	OpNegI4:  {Name: "Neg_I4", Flags: intUnaryFlags},
	OpNotI4:  {Name: "Not_I4", Flags: intUnaryFlags | FlagBitwise},
	OpAndI4:  {Name: "And_I4", Flags: intBinaryFlags | FlagBitwise | FlagCommutative},
	OpOrI4:   {Name: "Or_I4", Flags: intBinaryFlags | FlagBitwise | FlagCommutative},
	OpXorI4:  {Name: "Xor_I4", Flags: intBinaryFlags | FlagBitwise | FlagCommutative},
	OpShlI4:  {Name: "Shl_I4", Flags: intBinaryFlags | FlagBitwise},
	OpShrI4:  {Name: "Shr_I4", Flags: intBinaryFlags | FlagBitwise},
	OpShrUI4: {Name: "ShrU_I4", Flags: intBinaryFlags | FlagBitwise},

	OpAddF8: {Name: "Add_F8", Flags: floatBinaryFlags | FlagCommutative},
	OpSubF8: {Name: "Sub_F8", Flags: floatBinaryFlags},
	OpMulF8: {Name: "Mul_F8", Flags: floatBinaryFlags | FlagCommutative},
	OpDivF8: {Name: "Div_F8", Flags: floatBinaryFlags},
	OpNegF8: {Name: "Neg_F8", Flags: floatBinaryFlags | FlagUnary},

	OpMathAbs:   {Name: "Math.abs", Flags: mathUnaryFlags},
	OpMathFloor: {Name: "Math.floor", Flags: mathUnaryFlags},
	OpMathCeil:  {Name: "Math.ceil", Flags: mathUnaryFlags},
	OpMathSqrt:  {Name: "Math.sqrt", Flags: mathUnaryFlags},
	OpMathMin:   {Name: "Math.min", Flags: FlagPure | FlagCanHoist | FlagImplicitCalls | FlagConstSrc | FlagCommutative},
	OpMathMax:   {Name: "Math.max", Flags: FlagPure | FlagCanHoist | FlagImplicitCalls | FlagConstSrc | FlagCommutative},

	OpCmEq:    {Name: "CmEq", Flags: compareFlags | FlagCommutative},
	OpCmNeq:   {Name: "CmNeq", Flags: compareFlags | FlagCommutative},
	OpCmSrEq:  {Name: "CmSrEq", Flags: compareFlags &^ FlagImplicitCalls | FlagCommutative},
	OpCmSrNeq: {Name: "CmSrNeq", Flags: compareFlags &^ FlagImplicitCalls | FlagCommutative},
	OpCmLt:    {Name: "CmLt", Flags: compareFlags},
	OpCmLe:    {Name: "CmLe", Flags: compareFlags},
	OpCmGt:    {Name: "CmGt", Flags: compareFlags},
	OpCmGe:    {Name: "CmGe", Flags: compareFlags},

	OpBr:      {Name: "Br", Flags: FlagBranch | FlagTerminator},
	OpBrTrue:  {Name: "BrTrue", Flags: (condBranchFlags &^ FlagImplicitCalls) | FlagUnary},
	OpBrFalse: {Name: "BrFalse", Flags: (condBranchFlags &^ FlagImplicitCalls) | FlagUnary},
	OpBrEq:    {Name: "BrEq", Flags: condBranchFlags | FlagCompare, Compare: OpCmEq},
	OpBrNeq:   {Name: "BrNeq", Flags: condBranchFlags | FlagCompare, Compare: OpCmNeq},
	OpBrSrEq:  {Name: "BrSrEq", Flags: condBranchFlags&^FlagImplicitCalls | FlagCompare, Compare: OpCmSrEq},
	OpBrSrNeq: {Name: "BrSrNeq", Flags: condBranchFlags&^FlagImplicitCalls | FlagCompare, Compare: OpCmSrNeq},
	OpBrLt:    {Name: "BrLt", Flags: condBranchFlags | FlagCompare, Compare: OpCmLt},
	OpBrLe:    {Name: "BrLe", Flags: condBranchFlags | FlagCompare, Compare: OpCmLe},
	OpBrGt:    {Name: "BrGt", Flags: condBranchFlags | FlagCompare, Compare: OpCmGt},
	OpBrGe:    {Name: "BrGe", Flags: condBranchFlags | FlagCompare, Compare: OpCmGe},

	OpLdFld:     {Name: "LdFld", Flags: FlagCanHoist | FlagImplicitCalls},
	OpStFld:     {Name: "StFld", Flags: FlagSideEffects | FlagImplicitCalls | FlagConstSrc},
	OpDeleteFld: {Name: "DeleteFld", Flags: FlagSideEffects | FlagImplicitCalls | FlagSymbolicUse},

	OpCheckObjType: {Name: "CheckObjType", Flags: 0},

	OpNewObject: {Name: "NewObject", Flags: 0},
	OpNewArray:  {Name: "NewArray", Flags: FlagConstSrc},
	OpLdElem:    {Name: "LdElem", Flags: FlagImplicitCalls | FlagArrayAccess},
	OpStElem:    {Name: "StElem", Flags: FlagSideEffects | FlagImplicitCalls | FlagArrayAccess | FlagConstSrc},
	OpLdLen:     {Name: "LdLen", Flags: FlagImplicitCalls},
	OpStLen:     {Name: "StLen", Flags: FlagSideEffects | FlagImplicitCalls | FlagConstSrc},
	OpArrayPush: {Name: "Array.push", Flags: FlagSideEffects | FlagImplicitCalls | FlagConstSrc},

	OpCheckArray:          {Name: "CheckArray", Flags: FlagCanHoist},
	OpLdHeadSegment:       {Name: "LdHeadSegment", Flags: FlagPure | FlagCanHoist},
	OpLdHeadSegmentLength: {Name: "LdHeadSegmentLength", Flags: FlagPure | FlagCanHoist},
	OpLdArrayLength:       {Name: "LdArrayLength", Flags: FlagPure | FlagCanHoist},
	OpBoundCheck:          {Name: "BoundCheck", Flags: FlagCanHoist | FlagConstSrc},
	OpMemset:              {Name: "Memset", Flags: FlagSideEffects | FlagConstSrc},
	OpMemcopy:             {Name: "Memcopy", Flags: FlagSideEffects},

	OpSimdSplatF4: {Name: "Simd128_Splat_F4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagUnary | FlagConstSrc},
	OpSimdAddF4:   {Name: "Simd128_Add_F4", Flags: FlagPure | FlagCanHoist | FlagSimd},
	OpSimdMulF4:   {Name: "Simd128_Mul_F4", Flags: FlagPure | FlagCanHoist | FlagSimd},
	OpSimdSplatI4: {Name: "Simd128_Splat_I4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagUnary | FlagConstSrc},
	OpSimdAddI4:   {Name: "Simd128_Add_I4", Flags: FlagPure | FlagCanHoist | FlagSimd},

	OpSimdSubF4:         {Name: "Simd128_Sub_F4", Flags: FlagPure | FlagCanHoist | FlagSimd},
	OpSimdDivF4:         {Name: "Simd128_Div_F4", Flags: FlagPure | FlagCanHoist | FlagSimd},
	OpSimdMinF4:         {Name: "Simd128_Min_F4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagCommutative},
	OpSimdMaxF4:         {Name: "Simd128_Max_F4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagCommutative},
	OpSimdNegF4:         {Name: "Simd128_Neg_F4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagUnary},
	OpSimdAbsF4:         {Name: "Simd128_Abs_F4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagUnary},
	OpSimdSqrtF4:        {Name: "Simd128_Sqrt_F4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagUnary},
	OpSimdExtractLaneF4: {Name: "Simd128_ExtractLane_F4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagConstSrc},
	OpSimdReplaceLaneF4: {Name: "Simd128_ReplaceLane_F4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagConstSrc},
	OpSimdSubI4:         {Name: "Simd128_Sub_I4", Flags: FlagPure | FlagCanHoist | FlagSimd},
	OpSimdMulI4:         {Name: "Simd128_Mul_I4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagCommutative},
	OpSimdNegI4:         {Name: "Simd128_Neg_I4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagUnary},
	OpSimdAndI4:         {Name: "Simd128_And_I4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagCommutative},
	OpSimdOrI4:          {Name: "Simd128_Or_I4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagCommutative},
	OpSimdXorI4:         {Name: "Simd128_Xor_I4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagCommutative},
	OpSimdExtractLaneI4: {Name: "Simd128_ExtractLane_I4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagConstSrc},
	OpSimdReplaceLaneI4: {Name: "Simd128_ReplaceLane_I4", Flags: FlagPure | FlagCanHoist | FlagSimd | FlagConstSrc},

	OpCall: {Name: "Call", Flags: FlagSideEffects | FlagCallsUserCode | FlagConstSrc},
	OpRet:  {Name: "Ret", Flags: FlagTerminator | FlagConstSrc},

	OpBailOut:      {Name: "BailOut", Flags: FlagTerminator},
	OpByteCodeUses: {Name: "ByteCodeUses", Flags: FlagSymbolicUse},
}

// Info 返回能力表项
func (op Opcode) Info() *OpInfo {
	if op < opcodeCount {
		return &opInfos[op]
	}
	return &opInfos[OpNop]
}

// Has 判断是否具有能力位
func (op Opcode) Has(f OpFlags) bool {
	return op.Info().Flags&f == f
}

// String 返回操作码名称
func (op Opcode) String() string {
	if op < opcodeCount && opInfos[op].Name != "" {
		return opInfos[op].Name
	}
	return fmt.Sprintf("Op(%d)", op)
}

// IsBranch 是否为分支
func (op Opcode) IsBranch() bool { return op.Has(FlagBranch) }

// IsConditionalBranch 是否为条件分支
func (op Opcode) IsConditionalBranch() bool { return op.Has(FlagConditional) }

// IsCompareBranch 是否为比较分支
func (op Opcode) IsCompareBranch() bool { return op.Has(FlagBranch | FlagCompare) }

// HasSideEffects 是否写内存或调用用户代码
func (op Opcode) HasSideEffects() bool {
	f := op.Info().Flags
	return f&(FlagSideEffects|FlagCallsUserCode) != 0
}

// InvertBranch 返回取反后的条件分支。关系比较仅在操作数为 int 时可取反
func (op Opcode) InvertBranch(intOperands bool) (Opcode, bool) {
	switch op {
	case OpBrTrue:
		return OpBrFalse, true
	case OpBrFalse:
		return OpBrTrue, true
	case OpBrEq:
		return OpBrNeq, true
	case OpBrNeq:
		return OpBrEq, true
	case OpBrSrEq:
		return OpBrSrNeq, true
	case OpBrSrNeq:
		return OpBrSrEq, true
	}
	if !intOperands {
		return op, false
	}
	switch op {
	case OpBrLt:
		return OpBrGe, true
	case OpBrGe:
		return OpBrLt, true
	case OpBrLe:
		return OpBrGt, true
	case OpBrGt:
		return OpBrLe, true
	}
	return op, false
}

// SwapBranch 交换操作数后的等价分支
func (op Opcode) SwapBranch() Opcode {
	switch op {
	case OpBrLt:
		return OpBrGt
	case OpBrGt:
		return OpBrLt
	case OpBrLe:
		return OpBrGe
	case OpBrGe:
		return OpBrLe
	}
	return op
}
