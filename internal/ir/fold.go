// fold.go - 常量求值
//
// 优化器折叠常量时使用与解释器完全相同的语义。对象参与的运算可能
// 调用用户代码，一律不折叠。

package ir

// ConstVal 常量操作数对应的运行时值
func ConstVal(o *Opnd) (RVal, bool) {
	switch {
	case o == nil:
		return RVal{}, false
	case o.Kind == OpndIntConst:
		return Num(float64(o.Int)), true
	case o.Kind == OpndFloatConst:
		return Num(o.Float), true
	case o.Kind == OpndAddr:
		switch o.Const.Kind {
		case ConstNull:
			return NullVal(), true
		case ConstBool:
			return BoolVal(o.Const.Bool), true
		case ConstString:
			return Str(o.Const.Str), true
		}
		return Undef(), true
	}
	return RVal{}, false
}

// ConstOpnd 原始值对应的常量操作数（装箱形式）
func ConstOpnd(v RVal) (*Opnd, bool) {
	switch v.Kind {
	case RNumber:
		if IsInt32Value(v.Num) {
			return IntConstOpnd(int32(v.Num), TyVar), true
		}
		o := FloatConstOpnd(v.Num)
		o.Type = TyVar
		return o, true
	case RBool:
		return BoolOpnd(v.Bool), true
	case RNull:
		return AddrOpnd(VarConst{Kind: ConstNull}), true
	case RUndefined:
		return UndefinedOpnd(), true
	case RString:
		return StringOpnd(v.Str), true
	}
	return nil, false
}

// FoldBinary 二元运算求值
func FoldBinary(op Opcode, a, b RVal) (RVal, bool) {
	if a.Kind == RObject || b.Kind == RObject || a.Kind == RSimd || b.Kind == RSimd {
		return RVal{}, false
	}
	switch op {
	case OpAdd:
		if a.Kind == RString || b.Kind == RString {
			return Str(toString(a) + toString(b)), true
		}
		return Num(toNumber(a) + toNumber(b)), true
	case OpSub, OpMul, OpDiv, OpRem, OpMathMin, OpMathMax:
		return Num(floatBinary(op, toNumber(a), toNumber(b))), true
	case OpAnd, OpOr, OpXor, OpShl, OpShr, OpShrU:
		return Num(bitwise(op, jsToInt32(toNumber(a)), jsToInt32(toNumber(b)))), true
	case OpCmEq, OpCmNeq, OpCmSrEq, OpCmSrNeq, OpCmLt, OpCmLe, OpCmGt, OpCmGe:
		return BoolVal(compare(op, a, b)), true
	}
	return RVal{}, false
}

// FoldUnary 一元运算求值
func FoldUnary(op Opcode, a RVal) (RVal, bool) {
	if a.Kind == RObject || a.Kind == RSimd {
		return RVal{}, false
	}
	switch op {
	case OpLd:
		return a, true
	case OpNeg, OpIncr, OpDecr, OpMathAbs, OpMathFloor, OpMathCeil, OpMathSqrt:
		return Num(floatUnary(op, toNumber(a))), true
	case OpNot:
		return Num(bitwise(OpNot, jsToInt32(toNumber(a)), 0)), true
	case OpLogicalNot:
		return BoolVal(!toBoolean(a)), true
	}
	return RVal{}, false
}

// FoldBranch 条件分支在常量操作数下是否跳转
func FoldBranch(op Opcode, a, b RVal) (bool, bool) {
	switch op {
	case OpBrTrue, OpBrFalse:
		if a.Kind == RSimd {
			return false, false
		}
		return toBoolean(a) == (op == OpBrTrue), true
	}
	if !op.IsCompareBranch() || a.Kind == RObject || b.Kind == RObject {
		return false, false
	}
	return compare(op.Info().Compare, a, b), true
}

// ToNumber 原始值按数值语义转换
func ToNumber(v RVal) float64 { return toNumber(v) }

// ToInt32 数值按位运算语义截断为 int32
func ToInt32(f float64) int32 { return jsToInt32(f) }
