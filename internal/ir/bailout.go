// bailout.go - 去优化（bailout）记录
//
// 每条可能失败的特化指令都带有 BailOutInfo：失败原因（Kind）以及恢复点。
// 恢复点列出需要重新装箱的符号和它们当前所在的表示。同一循环外提的
// 保护共享 landing pad 上的同一个恢复点。

package ir

import (
	"fmt"
	"strings"

	"github.com/segmentio/encoding/json"
)

// BailOutKind bailout 原因位集合
type BailOutKind uint32

const BailOutInvalid BailOutKind = 0

const (
	BailOutIntOnly BailOutKind = 1 << iota
	BailOutNumberOnly
	BailOutPrimitiveButString
	BailOutExpectingInteger
	BailOutExpectingString
	BailOutOnOverflow
	BailOutOnMulOverflow
	BailOutOnNegativeZero
	BailOutOnNotArray
	BailOutOnNotNativeArray
	BailOutOnNotTypedArray
	BailOutOnArrayAccessHelperCall
	BailOutConventionalNativeArrayAccessOnly
	BailOutConventionalTypedArrayAccessOnly
	BailOutOnMissingValue
	BailOutOnInvalidatedArrayHeadSegment
	BailOutOnInvalidatedArrayLength
	BailOutOnFailedHoistedBoundCheck
	BailOutOnFailedHoistedLoopCountBasedBoundCheck
	BailOutOnMemOpError
	BailOutOnImplicitCalls
	BailOutOnNotSimd
	BailOutFailedTypeCheck
	BailOutShared
	BailOutUnconditional
	bailOutKindEnd

	BailOutOnResultConditions = BailOutOnOverflow | BailOutOnMulOverflow | BailOutOnNegativeZero
	BailOutConventionalAccess = BailOutConventionalNativeArrayAccessOnly | BailOutConventionalTypedArrayAccessOnly
)

var bailOutKindNames = []string{
	"IntOnly", "NumberOnly", "PrimitiveButString", "ExpectingInteger", "ExpectingString",
	"OnOverflow", "OnMulOverflow", "OnNegativeZero", "OnNotArray", "OnNotNativeArray",
	"OnNotTypedArray", "OnArrayAccessHelperCall", "ConventionalNativeArrayAccessOnly",
	"ConventionalTypedArrayAccessOnly", "OnMissingValue", "OnInvalidatedArrayHeadSegment",
	"OnInvalidatedArrayLength", "OnFailedHoistedBoundCheck",
	"OnFailedHoistedLoopCountBasedBoundCheck", "OnMemOpError", "OnImplicitCalls", "OnNotSimd",
	"FailedTypeCheck", "Shared", "Unconditional",
}

// String 返回原因名称，多个原因以 | 连接
func (k BailOutKind) String() string {
	if k == BailOutInvalid {
		return "Invalid"
	}
	var parts []string
	for n, name := range bailOutKindNames {
		if k&(1<<uint(n)) != 0 {
			parts = append(parts, name)
		}
	}
	if rest := k &^ (bailOutKindEnd - 1); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// MarshalText 实现 encoding.TextMarshaler
func (k BailOutKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (k *BailOutKind) UnmarshalText(b []byte) error {
	*k = BailOutInvalid
	if string(b) == "Invalid" || len(b) == 0 {
		return nil
	}
outer:
	for _, part := range strings.Split(string(b), "|") {
		for n, name := range bailOutKindNames {
			if name == part {
				*k |= 1 << uint(n)
				continue outer
			}
		}
		return fmt.Errorf("unknown bailout kind %q", part)
	}
	return nil
}

// Has 是否包含全部给定原因
func (k BailOutKind) Has(o BailOutKind) bool { return k&o == o }

// RestoreSym 恢复时需要装箱的符号
type RestoreSym struct {
	Sym  SymID `json:"sym"`
	From Repr  `json:"from"`
}

// RestorePoint 恢复点
type RestorePoint struct {
	ByteCodeOffset int32
	Syms           []RestoreSym
	Shared         bool
	Loop           LoopID
}

// Lookup 返回符号在恢复点所在的表示
func (r *RestorePoint) Lookup(sym SymID) (Repr, bool) {
	for _, s := range r.Syms {
		if s.Sym == sym {
			return s.From, true
		}
	}
	return ReprVar, false
}

// BailOutInfo 指令附带的 bailout 信息
type BailOutInfo struct {
	Kind    BailOutKind
	Restore *RestorePoint
}

// Add 合并原因
func (b *BailOutInfo) Add(k BailOutKind) { b.Kind |= k }

// BailOutRecord 提供给运行时去优化执行器的一条记录
type BailOutRecord struct {
	Instr          InstrID       `json:"instr"`
	Op             string        `json:"op"`
	Block          BlockID       `json:"block"`
	Kind           BailOutKind   `json:"kind"`
	ByteCodeOffset int32         `json:"byteCodeOffset"`
	Shared         bool          `json:"shared,omitempty"`
	Loop           LoopID        `json:"loop"`
	Restore        []RestoreName `json:"restore"`
}

// RestoreName 带名称的恢复符号
type RestoreName struct {
	Sym  SymID  `json:"sym"`
	Name string `json:"name"`
	From Repr   `json:"from"`
}

// BailOutTable 收集函数中所有 bailout 记录
func (f *Func) BailOutTable() []BailOutRecord {
	var out []BailOutRecord
	for _, id := range f.RPO() {
		for i := f.Blocks[id].first; i != nil; i = i.next {
			if !i.HasBailOut() {
				continue
			}
			rec := BailOutRecord{
				Instr: i.ID,
				Op:    i.Op.String(),
				Block: id,
				Kind:  i.BailOut.Kind,
				Loop:  NoLoop,
			}
			if r := i.BailOut.Restore; r != nil {
				rec.ByteCodeOffset = r.ByteCodeOffset
				rec.Shared = r.Shared
				rec.Loop = r.Loop
				for _, s := range r.Syms {
					rec.Restore = append(rec.Restore, RestoreName{
						Sym: s.Sym, Name: f.Syms.Get(s.Sym).Name, From: s.From,
					})
				}
			}
			out = append(out, rec)
		}
	}
	return out
}

// EncodeBailOutTable 将 bailout 表编码为 JSON
func EncodeBailOutTable(f *Func) ([]byte, error) {
	data, err := json.Marshal(f.BailOutTable())
	if err != nil {
		return nil, fmt.Errorf("failed to encode bailout table: %w", err)
	}
	return data, nil
}

// DecodeBailOutTable 解码 bailout 表
func DecodeBailOutTable(data []byte) ([]BailOutRecord, error) {
	var recs []BailOutRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("failed to decode bailout table: %w", err)
	}
	return recs, nil
}
