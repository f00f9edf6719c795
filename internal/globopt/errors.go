// errors.go - 前向优化的错误类型

package globopt

import (
	"errors"
	"fmt"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// ErrValueNumberOverflow 值编号耗尽，本次编译放弃优化
var ErrValueNumberOverflow = errors.New("value number overflow")

// RecompileError 推测与已证明的事实矛盾：关闭 Feature 后整个函数重新编译
type RecompileError struct {
	Feature config.Feature
	Reason  string
}

func (e *RecompileError) Error() string {
	return fmt.Sprintf("recompile without %s: %s", e.Feature, e.Reason)
}

// IsRecompile 判断错误是否要求重新编译
func IsRecompile(err error) (*RecompileError, bool) {
	var re *RecompileError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// InvariantError 调试检查发现的内部不变量破坏
type InvariantError struct {
	Block ir.BlockID
	Instr ir.InstrID
	Msg   string
}

func (e *InvariantError) Error() string {
	if e.Instr != 0 {
		return fmt.Sprintf("B%d instr %d: %s", e.Block, e.Instr, e.Msg)
	}
	return fmt.Sprintf("B%d: %s", e.Block, e.Msg)
}
