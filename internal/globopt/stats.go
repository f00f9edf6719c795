// stats.go - 单次优化的统计

package globopt

import "fmt"

// Stats 单个函数一次优化的统计
type Stats struct {
	ValueNumbers          int
	SpecializedInstrs     int
	Conversions           int
	HoistedInstrs         int
	HoistedConversions    int
	EliminatedBoundChecks int
	HoistedBoundChecks    int
	ArrayChecks           int
	FieldCopyProps        int
	FieldHoists           int
	FieldPREs             int
	TypeChecks            int
	TypeChecksRemoved     int
	TypeCheckHoists       int
	CopyProps             int
	ConstFolds            int
	Peepholes             int
	CSEs                  int
	FoldedBranches        int
	Memsets               int
	Memcopies             int
	BailOuts              int
	TailDups              int
	PrepassLoops          int
}

// Add 累加
func (s *Stats) Add(o Stats) {
	s.ValueNumbers += o.ValueNumbers
	s.SpecializedInstrs += o.SpecializedInstrs
	s.Conversions += o.Conversions
	s.HoistedInstrs += o.HoistedInstrs
	s.HoistedConversions += o.HoistedConversions
	s.EliminatedBoundChecks += o.EliminatedBoundChecks
	s.HoistedBoundChecks += o.HoistedBoundChecks
	s.ArrayChecks += o.ArrayChecks
	s.FieldCopyProps += o.FieldCopyProps
	s.FieldHoists += o.FieldHoists
	s.FieldPREs += o.FieldPREs
	s.TypeChecks += o.TypeChecks
	s.TypeChecksRemoved += o.TypeChecksRemoved
	s.TypeCheckHoists += o.TypeCheckHoists
	s.CopyProps += o.CopyProps
	s.ConstFolds += o.ConstFolds
	s.Peepholes += o.Peepholes
	s.CSEs += o.CSEs
	s.FoldedBranches += o.FoldedBranches
	s.Memsets += o.Memsets
	s.Memcopies += o.Memcopies
	s.BailOuts += o.BailOuts
	s.TailDups += o.TailDups
	s.PrepassLoops += o.PrepassLoops
}

// String 摘要
func (s Stats) String() string {
	return fmt.Sprintf("specialized=%d conv=%d hoisted=%d bce=%d typecheck=%d memop=%d copyprop=%d fold=%d bailouts=%d",
		s.SpecializedInstrs, s.Conversions, s.HoistedInstrs+s.HoistedConversions,
		s.EliminatedBoundChecks+s.HoistedBoundChecks, s.TypeChecksRemoved+s.TypeCheckHoists, s.Memsets+s.Memcopies,
		s.CopyProps+s.FieldCopyProps, s.ConstFolds+s.FoldedBranches, s.BailOuts)
}
