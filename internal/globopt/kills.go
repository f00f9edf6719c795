// kills.go - 数组事实的失效类别
//
// 每条指令（以及每个循环的汇总）都可能使某些数组事实失效。
// 类别之间是独立的：例如越界写只影响头段与长度，不影响数组是否为原生存储。

package globopt

import (
	"strings"

	"github.com/tangzhangming/globopt/internal/ir"
)

// JsArrayKills 数组事实失效类别
type JsArrayKills uint8

const (
	KillsArraysWithNoMissingValues JsArrayKills = 1 << iota
	KillsNativeArrays
	KillsArrayHeadSegments
	KillsArrayHeadSegmentLengths
	KillsArrayLengths
	// KillsTypedArrays 只有回调用户代码的指令会设置
	KillsTypedArrays

	KillsAllArrays = KillsArraysWithNoMissingValues | KillsNativeArrays | KillsArrayHeadSegments |
		KillsArrayHeadSegmentLengths | KillsArrayLengths | KillsTypedArrays
)

var killNames = []string{"NoMissingValues", "NativeArrays", "HeadSegments", "HeadSegmentLengths", "Lengths", "TypedArrays"}

// String 调试文本
func (k JsArrayKills) String() string {
	if k == 0 {
		return "none"
	}
	if k == KillsAllArrays {
		return "all"
	}
	var parts []string
	for n, name := range killNames {
		if k&(1<<uint(n)) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Has 是否包含给定类别
func (k JsArrayKills) Has(o JsArrayKills) bool { return k&o == o }

// Any 是否包含给定类别中的任意一个
func (k JsArrayKills) Any(o JsArrayKills) bool { return k&o != 0 }

// Merge 合并
func (k JsArrayKills) Merge(o JsArrayKills) JsArrayKills { return k | o }

// AreSubsetOf 是否被 o 覆盖
func (k JsArrayKills) AreSubsetOf(o JsArrayKills) bool { return k&^o == 0 }

// KillsValueType 该失效集合是否会使类型 t 的事实失效
func (k JsArrayKills) KillsValueType(t ir.ValueType) bool {
	if !t.IsLikelyOptimizedArray() {
		return false
	}
	o := t.ObjectType()
	switch {
	case o.IsTypedArray():
		return k.Any(KillsTypedArrays)
	case k.Any(KillsArrayHeadSegments | KillsArrayHeadSegmentLengths | KillsArrayLengths):
		return true
	case o.IsNativeArray() && k.Any(KillsNativeArrays):
		return true
	case t.HasNoMissingValues() && k.Any(KillsArraysWithNoMissingValues):
		return true
	}
	return false
}

// KillsTypeFacts 是否使数组的类型事实（原生存储、无空洞、确定性）失效
func (k JsArrayKills) KillsTypeFacts(t ir.ValueType) bool {
	o := t.ObjectType()
	switch {
	case o.IsTypedArray():
		return k.Any(KillsTypedArrays)
	case o.IsNativeArray() && k.Any(KillsNativeArrays):
		return true
	case t.HasNoMissingValues() && k.Any(KillsArraysWithNoMissingValues):
		return true
	}
	return false
}

// ApplyToInfo 返回失效后的值信息
func (k JsArrayKills) ApplyToInfo(info *ValueInfo) *ValueInfo {
	t := info.Type()
	if k == 0 || !t.IsLikelyOptimizedArray() {
		return info
	}
	o := t.ObjectType()
	if o.IsTypedArray() {
		if k.Any(KillsTypedArrays) {
			return info.WithType(t.ToLikely()).WithArraySyms(ir.NoSym, ir.NoSym, ir.NoSym)
		}
		return info
	}
	hs, hsl, length := info.HeadSegmentSym(), info.HeadSegmentLengthSym(), info.LengthSym()
	if k.Any(KillsArrayHeadSegments) {
		hs = ir.NoSym
	}
	if k.Any(KillsArrayHeadSegmentLengths) {
		hsl = ir.NoSym
	}
	if k.Any(KillsArrayLengths) {
		length = ir.NoSym
	}
	if k.Any(KillsNativeArrays) && o.IsNativeArray() {
		// 原生存储可能已转换为装箱存储：只保留预期
		t = t.ToLikely()
		hs, hsl, length = ir.NoSym, ir.NoSym, ir.NoSym
	}
	if k.Any(KillsArraysWithNoMissingValues) && t.HasNoMissingValues() {
		t = t.WithNoMissingValues(false)
	}
	return info.WithType(t).WithArraySyms(hs, hsl, length)
}
