// Package jit 编译驱动
//
// 对函数的副本依次运行循环识别、活跃分析、前向全局优化与死存储删除。
// 优化中推测与已证明的事实矛盾时，关闭对应的优化族并重新编译；其他
// 错误表示函数只能以未优化形式运行。
package jit

import (
	"errors"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/globopt"
	"github.com/tangzhangming/globopt/internal/ir"
)

// ErrTooManyRecompiles 重新编译次数超过上限
var ErrTooManyRecompiles = errors.New("too many recompiles")

// ErrNilFunc 没有要编译的函数
var ErrNilFunc = errors.New("nil function")

// Result 一次成功编译的结果
type Result struct {
	// Func 优化后的函数（原函数不变）
	Func *ir.Func
	// BailOutTable 交给运行时退出执行器的恢复表
	BailOutTable []byte
	Stats        globopt.Stats
	// DeadStores 死存储删除去掉的指令数
	DeadStores int
	// Attempts 编译次数，含最后成功的一次
	Attempts int
	// Disabled 本函数被关闭的优化族
	Disabled []config.Feature
}
