// Package globopt 实现方法级 JIT 的前向全局优化：值编号、类型特化、
// 数组边界检查消除与外提、循环不变量外提、归纳变量与批量内存操作识别、
// 复制传播与常量折叠。
//
// 一个 GlobOpt 实例只服务于一个函数的一次编译，所有状态都归它独占。
package globopt

import (
	"math"

	"github.com/bits-and-blooms/bitset"
	"go.uber.org/zap"

	"github.com/tangzhangming/globopt/internal/config"
	"github.com/tangzhangming/globopt/internal/ir"
)

// 默认上限
const (
	DefaultValueNumberLimit = math.MaxInt32 - 1
)

// Options 优化选项
type Options struct {
	// Flags 生效的优化族；nil 表示全部关闭
	Flags *config.Flags
	// Logger 为 nil 时不输出日志
	Logger *zap.Logger
	// Verify 每个块之后检查内部不变量
	Verify bool
	// MaxPrepassDepth 嵌套预扫描的最大深度
	MaxPrepassDepth int
	// ValueNumberLimit 值编号上限，测试用
	ValueNumberLimit int
}

// exprKey 纯运算的表达式键：装箱操作码 + 操作数值编号
type exprKey struct {
	op       ir.Opcode
	src1     ValueNumber
	src2     ValueNumber
	dstRepr  ir.Repr
	hasSrc2  bool
	constArg int32
}

// GlobOpt 前向全局优化器
type GlobOpt struct {
	fn              *ir.Func
	flags           *config.Flags
	log             *zap.Logger
	verify          bool
	maxPrepassDepth int

	nextValueNumber  ValueNumber
	valueNumberLimit ValueNumber
	// origSyms 优化开始时的符号数；之后新建的符号不在活跃信息中
	origSyms int

	data         *BlockData
	currentBlock *ir.Block
	currentInstr *ir.Instr
	// byteCodeUses 当前指令改写之前使用的变量符号，恢复点必须包含它们
	byteCodeUses   []ir.SymID
	byteCodeUsesAt int32

	blockData      map[ir.BlockID]*BlockData
	succsRemaining map[ir.BlockID]int
	processed      *bitset.BitSet

	loops        []*loopState
	prepassStack []*loopState
	prepassData  map[ir.BlockID]*BlockData

	intConstants   map[int32]ValueNumber
	floatConstants map[uint64]ValueNumber
	varConstants   map[ir.VarConst]ValueNumber
	exprs          map[exprKey]ValueNumber
	// mergeValues 同一次汇合中同一对编号得到同一个新编号
	mergeValues map[[2]ValueNumber]ValueNumber
	// notOf LogicalNot 结果编号到操作数编号
	notOf map[ValueNumber]ValueNumber
	// shapeNumbers 对象类型的值编号
	shapeNumbers map[string]ValueNumber
	numberShapes map[ValueNumber]ir.Shape
	// singleDefs 函数内只有一处定义的变量符号
	defCounts map[ir.SymID]int

	stats Stats
	err   error
	// verifyErrs 调试检查累积的问题
	verifyErrs error
}

// New 创建优化器
func New(fn *ir.Func, opts Options) *GlobOpt {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	depth := opts.MaxPrepassDepth
	if depth <= 0 {
		depth = config.DefaultMaxPrepassDepth
	}
	limit := ValueNumber(DefaultValueNumberLimit)
	if opts.ValueNumberLimit > 0 {
		limit = ValueNumber(opts.ValueNumberLimit)
	}
	return &GlobOpt{
		fn:               fn,
		flags:            opts.Flags,
		log:              log.With(zap.String("func", fn.Name)),
		verify:           opts.Verify,
		maxPrepassDepth:  depth,
		valueNumberLimit: limit,
		blockData:        make(map[ir.BlockID]*BlockData),
		succsRemaining:   make(map[ir.BlockID]int),
		intConstants:     make(map[int32]ValueNumber),
		floatConstants:   make(map[uint64]ValueNumber),
		varConstants:     make(map[ir.VarConst]ValueNumber),
		exprs:            make(map[exprKey]ValueNumber),
		notOf:            make(map[ValueNumber]ValueNumber),
		shapeNumbers:     make(map[string]ValueNumber),
		numberShapes:     make(map[ValueNumber]ir.Shape),
		defCounts:        make(map[ir.SymID]int),
	}
}

// Stats 返回本次优化的统计
func (g *GlobOpt) Stats() Stats { return g.stats }

// Func 返回被优化的函数
func (g *GlobOpt) Func() *ir.Func { return g.fn }

func (g *GlobOpt) enabled(f config.Feature) bool { return g.flags.Enabled(f) }

// IsPrepass 当前是否处于循环预扫描
func (g *GlobOpt) IsPrepass() bool { return len(g.prepassStack) > 0 }

// ============================================================================
// 值编号
// ============================================================================

func (g *GlobOpt) newValueNumber() ValueNumber {
	if g.nextValueNumber >= g.valueNumberLimit {
		if g.err == nil {
			g.err = ErrValueNumberOverflow
		}
		return g.nextValueNumber
	}
	g.nextValueNumber++
	g.stats.ValueNumbers++
	return g.nextValueNumber
}

// NewValue 以新编号创建值
func (g *GlobOpt) NewValue(info *ValueInfo) *Value {
	return &Value{Number: g.newValueNumber(), Info: info}
}

// intConstValue 整数常量的值；同一常量总是同一编号
func (g *GlobOpt) intConstValue(v int32) *Value {
	vn, ok := g.intConstants[v]
	if !ok {
		vn = g.newValueNumber()
		g.intConstants[v] = vn
	}
	return &Value{Number: vn, Info: NewIntConstantInfo(v)}
}

// floatConstValue 浮点常量的值，按位模式区分（-0 与 0 不同）
func (g *GlobOpt) floatConstValue(f float64) *Value {
	if ir.IsInt32Value(f) {
		return g.intConstValue(int32(f))
	}
	bits := math.Float64bits(f)
	if math.IsNaN(f) {
		bits = math.Float64bits(math.NaN())
	}
	vn, ok := g.floatConstants[bits]
	if !ok {
		vn = g.newValueNumber()
		g.floatConstants[bits] = vn
	}
	return &Value{Number: vn, Info: NewFloatConstantInfo(f)}
}

func (g *GlobOpt) varConstValue(c ir.VarConst) *Value {
	vn, ok := g.varConstants[c]
	if !ok {
		vn = g.newValueNumber()
		g.varConstants[c] = vn
	}
	return &Value{Number: vn, Info: NewVarConstantInfo(c)}
}

// constOpndValue 常量操作数的值
func (g *GlobOpt) constOpndValue(o *ir.Opnd) *Value {
	switch o.Kind {
	case ir.OpndIntConst:
		return g.intConstValue(o.Int)
	case ir.OpndFloatConst:
		return g.floatConstValue(o.Float)
	case ir.OpndAddr:
		return g.varConstValue(o.Const)
	}
	return nil
}

// ============================================================================
// 符号与指令辅助
// ============================================================================

func (g *GlobOpt) varSym(s ir.SymID) ir.SymID { return g.fn.Syms.VarSym(s) }

func (g *GlobOpt) symName(s ir.SymID) string {
	if sym := g.fn.Syms.Get(s); sym != nil {
		return sym.Name
	}
	return "?"
}

func (g *GlobOpt) isProperty(s ir.SymID) bool {
	sym := g.fn.Syms.Get(s)
	return sym != nil && sym.IsProperty()
}

// shadow 返回变量在给定表示下的影子符号
func (g *GlobOpt) shadow(v ir.SymID, r ir.Repr) ir.SymID {
	return g.fn.Syms.TypeSpecSym(v, r)
}

func (g *GlobOpt) reg(s ir.SymID) *ir.Opnd { return g.fn.Reg(s) }

// newTemp 新建临时变量
func (g *GlobOpt) newTemp() ir.SymID { return g.fn.Syms.NewTemp().ID }

// newInstr 新建指令，字节码位置取自 like
func (g *GlobOpt) newInstr(op ir.Opcode, dst, src1, src2 *ir.Opnd, like *ir.Instr) *ir.Instr {
	i := g.fn.NewInstr(op, dst, src1, src2)
	if like != nil {
		i.ByteCodeOffset = like.ByteCodeOffset
	}
	return i
}

// insertBefore 在 ref 之前插入；ref 为 nil 时插到块尾控制转移之前
func (g *GlobOpt) insertBefore(b *ir.Block, ref, i *ir.Instr) {
	if ref == nil {
		b.InsertBeforeTerminator(i)
		return
	}
	b.InsertBefore(ref, i)
}

// isOrigSym 符号是否在反向活跃分析的结果中
func (g *GlobOpt) isOrigSym(s ir.SymID) bool { return int(s) < g.origSyms }

// isLiveIn 变量在块入口是否活跃；优化中新建的符号总是视为活跃
func (g *GlobOpt) isLiveIn(b *ir.Block, s ir.SymID) bool {
	if !g.isOrigSym(s) || b.Live == nil {
		return true
	}
	return b.Live.LiveIn.Test(uint(s))
}

func (g *GlobOpt) countDefs() {
	for _, b := range g.fn.Blocks {
		if b.Deleted {
			continue
		}
		for i := b.First(); i != nil; i = i.Next() {
			if d := i.DstSym(); d != ir.NoSym {
				g.defCounts[g.varSym(d)]++
			}
		}
	}
}

// isSingleDef 变量在函数内只有一处定义
func (g *GlobOpt) isSingleDef(v ir.SymID) bool { return g.defCounts[v] == 1 }
