// builder.go - IR 构建器
//
// 供 IR 生产者与测试使用。块按程序顺序创建，分支指令同时登记控制流边。

package ir

import "fmt"

// Builder IR 构建器
type Builder struct {
	fn    *Func
	cur   *Block
	names map[string]SymID
	pc    int32
}

// NewBuilder 创建构建器，并建立入口块
func NewBuilder(name string) *Builder {
	b := &Builder{fn: NewFunc(name), names: make(map[string]SymID)}
	b.cur = b.fn.NewBlock()
	return b
}

// Func 返回正在构建的函数
func (b *Builder) Func() *Func { return b.fn }

// Block 返回当前块
func (b *Builder) Block() BlockID { return b.cur.ID }

// NewBlock 创建新块（不切换当前块）
func (b *Builder) NewBlock() BlockID { return b.fn.NewBlock().ID }

// SetBlock 切换当前块
func (b *Builder) SetBlock(id BlockID) { b.cur = b.fn.Blocks[id] }

// Sym 返回具名变量，不存在时创建
func (b *Builder) Sym(name string) SymID {
	if id, ok := b.names[name]; ok {
		return id
	}
	id := b.fn.Syms.NewStackSym(name).ID
	b.names[name] = id
	return id
}

// Temp 创建临时变量
func (b *Builder) Temp() SymID { return b.fn.Syms.NewTemp().ID }

// Reg 寄存器操作数
func (b *Builder) Reg(id SymID) *Opnd { return b.fn.Reg(id) }

// V 具名变量的寄存器操作数
func (b *Builder) V(name string) *Opnd { return b.fn.Reg(b.Sym(name)) }

// Int 装箱整数常量
func (b *Builder) Int(v int32) *Opnd { return IntConstOpnd(v, TyVar) }

// Float 浮点常量
func (b *Builder) Float(v float64) *Opnd {
	o := FloatConstOpnd(v)
	o.Type = TyVar
	return o
}

// Emit 在当前块追加指令
func (b *Builder) Emit(op Opcode, dst, src1, src2 *Opnd) *Instr {
	i := b.fn.NewInstr(op, dst, src1, src2)
	b.pc++
	i.ByteCodeOffset = b.pc
	b.cur.Append(i)
	return i
}

// Param 声明参数，profile 类型为 vt
func (b *Builder) Param(name string, vt ValueType) SymID {
	id := b.Sym(name)
	i := b.Emit(OpArgIn, b.Reg(id), IntConstOpnd(int32(len(b.fn.Params)), TyVar), nil)
	i.Profile = &Profile{ValueType: vt}
	b.fn.Params = append(b.fn.Params, id)
	return id
}

// Ld dst = src
func (b *Builder) Ld(dst SymID, src *Opnd) *Instr {
	return b.Emit(OpLd, b.Reg(dst), src, nil)
}

// Unary dst = op src
func (b *Builder) Unary(op Opcode, dst SymID, src *Opnd) *Instr {
	return b.Emit(op, b.Reg(dst), src, nil)
}

// Binary dst = src1 op src2
func (b *Builder) Binary(op Opcode, dst SymID, src1, src2 *Opnd) *Instr {
	return b.Emit(op, b.Reg(dst), src1, src2)
}

// ExtractLane dst = vec[lane]
func (b *Builder) ExtractLane(op Opcode, dst, vec SymID, lane int32) *Instr {
	return b.Emit(op, b.Reg(dst), b.Reg(vec), IntConstOpnd(lane, TyVar))
}

// ReplaceLane dst = vec，其中 lane 替换为 src
func (b *Builder) ReplaceLane(op Opcode, dst, vec SymID, src *Opnd, lane int32) *Instr {
	i := b.Emit(op, b.Reg(dst), b.Reg(vec), src)
	i.Offset = lane
	return i
}

// Br 无条件跳转
func (b *Builder) Br(target BlockID) *Instr {
	i := b.Emit(OpBr, nil, nil, nil)
	i.Target = target
	b.fn.AddEdge(b.cur.ID, target)
	return i
}

// BrCond 条件分支：条件成立跳到 target，否则顺序执行到 next
func (b *Builder) BrCond(op Opcode, src1, src2 *Opnd, target, next BlockID) *Instr {
	if !op.IsConditionalBranch() {
		panic(fmt.Sprintf("ir: %s is not a conditional branch", op))
	}
	i := b.Emit(op, nil, src1, src2)
	i.Target = target
	b.fn.AddEdge(b.cur.ID, target)
	b.fn.AddEdge(b.cur.ID, next)
	return i
}

// Fallthrough 登记顺序执行边
func (b *Builder) Fallthrough(to BlockID) {
	b.fn.AddEdge(b.cur.ID, to)
}

// Ret 返回
func (b *Builder) Ret(src *Opnd) *Instr {
	return b.Emit(OpRet, nil, src, nil)
}

// LdFld dst = base.prop
func (b *Builder) LdFld(dst, base SymID, prop string) *Instr {
	ps := b.fn.Syms.PropertySym(base, b.fn.Syms.Property(prop))
	return b.Emit(OpLdFld, b.Reg(dst), PropertyOpnd(ps), nil)
}

// StFld base.prop = src
func (b *Builder) StFld(base SymID, prop string, src *Opnd) *Instr {
	ps := b.fn.Syms.PropertySym(base, b.fn.Syms.Property(prop))
	return b.Emit(OpStFld, PropertyOpnd(ps), src, nil)
}

// WithShape 属性访问观察到的对象类型
func (b *Builder) WithShape(i *Instr, props ...string) *Instr {
	ids := make([]PropertyID, len(props))
	for n, p := range props {
		ids[n] = b.fn.Syms.Property(p)
	}
	if i.Profile == nil {
		i.Profile = &Profile{}
	}
	i.Profile.Shape = NewShape(ids...)
	return i
}

// LdElem dst = base[index]
func (b *Builder) LdElem(dst, base, index SymID, arrayType ValueType) *Instr {
	i := b.Emit(OpLdElem, b.Reg(dst), IndirOpnd(base, index), nil)
	i.Profile = &Profile{ArrayType: arrayType}
	return i
}

// StElem base[index] = src
func (b *Builder) StElem(base, index SymID, src *Opnd, arrayType ValueType) *Instr {
	i := b.Emit(OpStElem, IndirOpnd(base, index), src, nil)
	i.Profile = &Profile{ArrayType: arrayType}
	return i
}

// LdLen dst = base.length
func (b *Builder) LdLen(dst, base SymID) *Instr {
	return b.Emit(OpLdLen, b.Reg(dst), b.Reg(base), nil)
}

// NewArray dst = new array(type, length)
func (b *Builder) NewArray(dst SymID, vt ValueType, length int32) *Instr {
	i := b.Emit(OpNewArray, b.Reg(dst), IntConstOpnd(length, TyVar), nil)
	i.Profile = &Profile{ValueType: vt}
	return i
}

// Call dst = fn(args...)，fn 以名称标识
func (b *Builder) Call(dst SymID, fn string, args ...*Opnd) *Instr {
	var d *Opnd
	if dst != NoSym {
		d = b.Reg(dst)
	}
	i := b.Emit(OpCall, d, StringOpnd(fn), nil)
	i.Args = args
	return i
}

// Finish 完成构建：识别循环、计算活跃信息
func (b *Builder) Finish() (*Func, error) {
	if err := b.fn.Validate(); err != nil {
		return nil, err
	}
	b.fn.AnalyzeLoops()
	ComputeLiveness(b.fn)
	return b.fn, nil
}

// Validate 检查控制流边与块尾指令一致
func (f *Func) Validate() error {
	for _, blk := range f.Blocks {
		if blk.Deleted {
			continue
		}
		t := blk.Terminator()
		switch {
		case t == nil:
			if len(blk.Succs) > 1 {
				return fmt.Errorf("block B%d: %d successors without a branch", blk.ID, len(blk.Succs))
			}
		case t.Op == OpRet || t.Op == OpBailOut:
			if len(blk.Succs) != 0 {
				return fmt.Errorf("block B%d: %s with successors", blk.ID, t.Op)
			}
		case t.Op.IsConditionalBranch():
			if len(blk.Succs) != 2 {
				return fmt.Errorf("block B%d: conditional branch needs 2 successors, has %d", blk.ID, len(blk.Succs))
			}
		case t.Op == OpBr:
			if len(blk.Succs) != 1 || blk.Succs[0] != t.Target {
				return fmt.Errorf("block B%d: branch target B%d does not match successors %v", blk.ID, t.Target, blk.Succs)
			}
		}
		for _, s := range blk.Succs {
			found := false
			for _, p := range f.Blocks[s].Preds {
				if p == blk.ID {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("edge B%d->B%d missing from predecessor list", blk.ID, s)
			}
		}
	}
	return nil
}
