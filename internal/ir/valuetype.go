// valuetype.go - 值类型格
//
// ValueType 描述一个运行时值可能的种类。"likely" 表示仅来自 profile 的预期，
// 不能据此省略检查；"definite" 表示已被证明或已被保护（bailout）保证。

package ir

import "strings"

// Kind 运行时值的基本种类（位集合）
type Kind uint16

const (
	KindUndefined Kind = 1 << iota
	KindNull
	KindBoolean
	KindInt   // 可精确表示为 int32 的数值
	KindFloat // 其余数值：小数、-0、NaN、超出 int32 的整数
	KindString
	KindObject
	KindSimd128F4
	KindSimd128I4

	KindNumber    = KindInt | KindFloat
	KindPrimitive = KindUndefined | KindNull | KindBoolean | KindNumber | KindString
	KindSimd128   = KindSimd128F4 | KindSimd128I4
	KindAll       = KindPrimitive | KindObject | KindSimd128
)

// ObjectType 对象子种类
type ObjectType uint8

const (
	ObjectUnknown ObjectType = iota
	ObjectArray
	ObjectNativeIntArray
	ObjectNativeFloatArray
	ObjectInt8Array
	ObjectUint8Array
	ObjectUint8ClampedArray
	ObjectInt16Array
	ObjectUint16Array
	ObjectInt32Array
	ObjectUint32Array
	ObjectFloat32Array
	ObjectFloat64Array
	objectTypeCount
)

var objectTypeNames = [objectTypeCount]string{
	"Object", "Array", "NativeIntArray", "NativeFloatArray",
	"Int8Array", "Uint8Array", "Uint8ClampedArray", "Int16Array", "Uint16Array",
	"Int32Array", "Uint32Array", "Float32Array", "Float64Array",
}

// String 返回对象子种类名称
func (o ObjectType) String() string {
	if o < objectTypeCount {
		return objectTypeNames[o]
	}
	return "Object?"
}

// IsJSArray 是否为 JS 数组（含原生存储）
func (o ObjectType) IsJSArray() bool {
	return o == ObjectArray || o == ObjectNativeIntArray || o == ObjectNativeFloatArray
}

// IsNativeArray 是否为原生存储的 JS 数组
func (o ObjectType) IsNativeArray() bool {
	return o == ObjectNativeIntArray || o == ObjectNativeFloatArray
}

// IsTypedArray 是否为类型化数组
func (o ObjectType) IsTypedArray() bool {
	return o >= ObjectInt8Array && o < objectTypeCount
}

// IsOptimizedArray 是否为优化器可直接访问元素的数组
func (o ObjectType) IsOptimizedArray() bool {
	return o.IsJSArray() || o.IsTypedArray()
}

// ElementKind 元素种类
func (o ObjectType) ElementKind() Kind {
	switch o {
	case ObjectNativeIntArray, ObjectInt8Array, ObjectUint8Array, ObjectUint8ClampedArray,
		ObjectInt16Array, ObjectUint16Array, ObjectInt32Array:
		return KindInt
	case ObjectUint32Array:
		return KindNumber
	case ObjectNativeFloatArray, ObjectFloat32Array, ObjectFloat64Array:
		return KindNumber
	}
	return KindAll
}

// ElementSize 元素字节数
func (o ObjectType) ElementSize() int {
	switch o {
	case ObjectInt8Array, ObjectUint8Array, ObjectUint8ClampedArray:
		return 1
	case ObjectInt16Array, ObjectUint16Array:
		return 2
	case ObjectNativeIntArray, ObjectInt32Array, ObjectUint32Array, ObjectFloat32Array:
		return 4
	}
	return 8
}

// ElementRange 整数元素的取值范围
func (o ObjectType) ElementRange() (lo, hi int64, ok bool) {
	switch o {
	case ObjectInt8Array:
		return -128, 127, true
	case ObjectUint8Array, ObjectUint8ClampedArray:
		return 0, 255, true
	case ObjectInt16Array:
		return -32768, 32767, true
	case ObjectUint16Array:
		return 0, 65535, true
	case ObjectInt32Array, ObjectNativeIntArray:
		return -1 << 31, 1<<31 - 1, true
	case ObjectUint32Array:
		return 0, 1<<32 - 1, true
	}
	return 0, 0, false
}

// ValueType 值类型格元素
type ValueType struct {
	kinds           Kind
	object          ObjectType
	likely          bool
	noMissingValues bool
}

// 常用值类型
var (
	Uninitialized = ValueType{}
	Unknown       = ValueType{kinds: KindAll}
	Undefined     = ValueType{kinds: KindUndefined}
	Null          = ValueType{kinds: KindNull}
	Boolean       = ValueType{kinds: KindBoolean}
	Int           = ValueType{kinds: KindInt}
	Float         = ValueType{kinds: KindFloat}
	Number        = ValueType{kinds: KindNumber}
	String        = ValueType{kinds: KindString}
	Object        = ValueType{kinds: KindObject}
	Simd128F4     = ValueType{kinds: KindSimd128F4}
	Simd128I4     = ValueType{kinds: KindSimd128I4}
)

// KindsOf 构造给定种类集合的确定类型
func KindsOf(k Kind) ValueType {
	return ValueType{kinds: k}
}

// ArrayOf 构造确定的数组类型
func ArrayOf(o ObjectType) ValueType {
	return ValueType{kinds: KindObject, object: o}
}

// Kinds 返回种类集合
func (t ValueType) Kinds() Kind { return t.kinds }

// ObjectType 返回对象子种类
func (t ValueType) ObjectType() ObjectType { return t.object }

// ToLikely 转为 likely
func (t ValueType) ToLikely() ValueType {
	if t.kinds == 0 {
		return t
	}
	t.likely = true
	return t
}

// ToDefinite 转为 definite
func (t ValueType) ToDefinite() ValueType {
	t.likely = false
	return t
}

// WithNoMissingValues 设置"无空洞"标记，仅对 JS 数组有效
func (t ValueType) WithNoMissingValues(b bool) ValueType {
	if !t.object.IsJSArray() {
		b = false
	}
	t.noMissingValues = b
	return t
}

// WithObjectType 替换对象子种类
func (t ValueType) WithObjectType(o ObjectType) ValueType {
	t.object = o
	if !o.IsJSArray() {
		t.noMissingValues = false
	}
	return t
}

// ============================================================================
// 谓词
// ============================================================================

func (t ValueType) IsUninitialized() bool { return t.kinds == 0 }
func (t ValueType) IsLikely() bool        { return t.likely }
func (t ValueType) IsDefinite() bool      { return !t.likely && t.kinds != 0 }
func (t ValueType) IsUnknown() bool       { return t.kinds == KindAll }

func (t ValueType) only(k Kind) bool       { return t.kinds != 0 && t.kinds&^k == 0 }
func (t ValueType) definiteOnly(k Kind) bool { return !t.likely && t.only(k) }

func (t ValueType) IsInt() bool             { return t.definiteOnly(KindInt) }
func (t ValueType) IsLikelyInt() bool       { return t.only(KindInt) }
func (t ValueType) IsFloat() bool           { return t.definiteOnly(KindFloat) }
func (t ValueType) IsLikelyFloat() bool     { return t.only(KindFloat) }
func (t ValueType) IsNumber() bool          { return t.definiteOnly(KindNumber) }
func (t ValueType) IsLikelyNumber() bool    { return t.only(KindNumber) }
func (t ValueType) IsString() bool          { return t.definiteOnly(KindString) }
func (t ValueType) IsLikelyString() bool    { return t.only(KindString) }
func (t ValueType) IsBoolean() bool         { return t.definiteOnly(KindBoolean) }
func (t ValueType) IsLikelyBoolean() bool   { return t.only(KindBoolean) }
func (t ValueType) IsUndefined() bool       { return t.definiteOnly(KindUndefined) }
func (t ValueType) IsNull() bool            { return t.definiteOnly(KindNull) }
func (t ValueType) IsPrimitive() bool       { return t.definiteOnly(KindPrimitive) }
func (t ValueType) IsLikelyPrimitive() bool { return t.only(KindPrimitive) }
func (t ValueType) IsObject() bool          { return t.definiteOnly(KindObject) }
func (t ValueType) IsLikelyObject() bool    { return t.only(KindObject) }
func (t ValueType) IsSimd128F4() bool       { return t.definiteOnly(KindSimd128F4) }
func (t ValueType) IsSimd128I4() bool       { return t.definiteOnly(KindSimd128I4) }
func (t ValueType) IsLikelySimd128() bool   { return t.only(KindSimd128) }

// IsNotInt 确定不可能是 int
func (t ValueType) IsNotInt() bool { return !t.likely && t.kinds != 0 && t.kinds&KindInt == 0 }

// IsNotNumber 确定不可能是数值
func (t ValueType) IsNotNumber() bool { return !t.likely && t.kinds != 0 && t.kinds&KindNumber == 0 }

// IsNotString 确定不可能是字符串
func (t ValueType) IsNotString() bool { return !t.likely && t.kinds != 0 && t.kinds&KindString == 0 }

// IsPrimitiveButNotString 确定是非字符串的原始值
func (t ValueType) IsPrimitiveButNotString() bool {
	return t.IsPrimitive() && t.kinds&KindString == 0
}

// CanCallUserCodeOnConversion 转换为数值时是否可能调用用户代码
func (t ValueType) CanCallUserCodeOnConversion() bool {
	return !t.IsPrimitive()
}

func (t ValueType) IsLikelyOptimizedArray() bool {
	return t.only(KindObject) && t.object.IsOptimizedArray()
}
func (t ValueType) IsOptimizedArray() bool {
	return t.definiteOnly(KindObject) && t.object.IsOptimizedArray()
}
func (t ValueType) IsLikelyJSArray() bool { return t.only(KindObject) && t.object.IsJSArray() }
func (t ValueType) IsJSArray() bool       { return t.definiteOnly(KindObject) && t.object.IsJSArray() }
func (t ValueType) IsLikelyNativeArray() bool {
	return t.only(KindObject) && t.object.IsNativeArray()
}
func (t ValueType) IsNativeArray() bool {
	return t.definiteOnly(KindObject) && t.object.IsNativeArray()
}
func (t ValueType) IsLikelyTypedArray() bool {
	return t.only(KindObject) && t.object.IsTypedArray()
}
func (t ValueType) IsTypedArray() bool {
	return t.definiteOnly(KindObject) && t.object.IsTypedArray()
}

// HasNoMissingValues 数组是否已知没有空洞
func (t ValueType) HasNoMissingValues() bool {
	return t.object.IsJSArray() && t.noMissingValues
}

// HasIntElements 元素是否均为 int32
func (t ValueType) HasIntElements() bool {
	return t.only(KindObject) && t.object.ElementKind() == KindInt
}

// HasFloatElements 元素是否为原生浮点
func (t ValueType) HasFloatElements() bool {
	return t.only(KindObject) && (t.object == ObjectNativeFloatArray ||
		t.object == ObjectFloat32Array || t.object == ObjectFloat64Array)
}

// HasVarElements 元素是否为装箱值
func (t ValueType) HasVarElements() bool {
	return t.only(KindObject) && t.object == ObjectArray
}

// ============================================================================
// 格运算
// ============================================================================

// Merge 求两个类型的最小公共上界
func (t ValueType) Merge(o ValueType) ValueType {
	if t.kinds == 0 {
		return o
	}
	if o.kinds == 0 || t == o {
		return t
	}
	r := ValueType{kinds: t.kinds | o.kinds, likely: t.likely || o.likely}
	if r.kinds&KindObject == 0 {
		return r
	}
	switch {
	case t.kinds&KindObject == 0:
		r.object, r.noMissingValues = o.object, o.noMissingValues
	case o.kinds&KindObject == 0:
		r.object, r.noMissingValues = t.object, t.noMissingValues
	case t.object == o.object:
		r.object = t.object
		r.noMissingValues = t.noMissingValues && o.noMissingValues
	case t.object.IsJSArray() && o.object.IsJSArray():
		// 原生存储种类不一致时只保留预期
		r.likely = true
		if t.object.IsNativeArray() && o.object.IsNativeArray() {
			r.object = ObjectNativeFloatArray
		} else {
			r.object = ObjectArray
		}
		r.noMissingValues = t.noMissingValues && o.noMissingValues
	default:
		r.object = ObjectUnknown
	}
	return r
}

// IsSubsetOf 判断 t 是否至少与 o 一样精确
func (t ValueType) IsSubsetOf(o ValueType) bool {
	return o.Merge(t) == o
}

// String 返回类型名称
func (t ValueType) String() string {
	if t.kinds == 0 {
		return "Uninitialized"
	}
	if t.kinds == KindAll {
		return "Unknown"
	}
	var sb strings.Builder
	if t.likely {
		sb.WriteString("Likely")
	}
	names := []struct {
		k    Kind
		name string
	}{
		{KindUndefined, "Undefined"}, {KindNull, "Null"}, {KindBoolean, "Boolean"},
		{KindInt, "Int"}, {KindFloat, "Float"}, {KindString, "String"},
		{KindObject, ""}, {KindSimd128F4, "Simd128F4"}, {KindSimd128I4, "Simd128I4"},
	}
	if t.kinds&KindNumber == KindNumber {
		names[3].name = "Number"
		names[4].name = ""
	}
	first := true
	for _, n := range names {
		if t.kinds&n.k == 0 || (n.name == "" && n.k != KindObject) {
			continue
		}
		if !first {
			sb.WriteByte('|')
		}
		first = false
		if n.k == KindObject {
			sb.WriteString(t.object.String())
			if t.noMissingValues {
				sb.WriteString("_NoMissingValues")
			}
			continue
		}
		sb.WriteString(n.name)
	}
	return sb.String()
}
