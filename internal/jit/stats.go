// stats.go - 编译器累计统计

package jit

import (
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/tangzhangming/globopt/internal/globopt"
)

// Stats 所有编译的累计计数，可并发更新
type Stats struct {
	Compiled   atomic.Int64
	Recompiles atomic.Int64
	Failed     atomic.Int64

	SpecializedInstrs     atomic.Int64
	HoistedInstrs         atomic.Int64
	EliminatedBoundChecks atomic.Int64
	HoistedBoundChecks    atomic.Int64
	Memops                atomic.Int64
	CopyProps             atomic.Int64
	ConstFolds            atomic.Int64
	BailOuts              atomic.Int64
	DeadStores            atomic.Int64

	CompileTime atomic.Duration
}

// StatsSnapshot 某一时刻的统计值
type StatsSnapshot struct {
	Compiled              int64
	Recompiles            int64
	Failed                int64
	SpecializedInstrs     int64
	HoistedInstrs         int64
	EliminatedBoundChecks int64
	HoistedBoundChecks    int64
	Memops                int64
	CopyProps             int64
	ConstFolds            int64
	BailOuts              int64
	DeadStores            int64
	CompileTime           time.Duration
}

func (s *Stats) record(g globopt.Stats, deadStores int, d time.Duration) {
	s.Compiled.Inc()
	s.SpecializedInstrs.Add(int64(g.SpecializedInstrs))
	s.HoistedInstrs.Add(int64(g.HoistedInstrs))
	s.EliminatedBoundChecks.Add(int64(g.EliminatedBoundChecks))
	s.HoistedBoundChecks.Add(int64(g.HoistedBoundChecks))
	s.Memops.Add(int64(g.Memsets + g.Memcopies))
	s.CopyProps.Add(int64(g.CopyProps + g.FieldCopyProps))
	s.ConstFolds.Add(int64(g.ConstFolds))
	s.BailOuts.Add(int64(g.BailOuts))
	s.DeadStores.Add(int64(deadStores))
	s.CompileTime.Add(d)
}

// Snapshot 读取当前统计
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Compiled:              s.Compiled.Load(),
		Recompiles:            s.Recompiles.Load(),
		Failed:                s.Failed.Load(),
		SpecializedInstrs:     s.SpecializedInstrs.Load(),
		HoistedInstrs:         s.HoistedInstrs.Load(),
		EliminatedBoundChecks: s.EliminatedBoundChecks.Load(),
		HoistedBoundChecks:    s.HoistedBoundChecks.Load(),
		Memops:                s.Memops.Load(),
		CopyProps:             s.CopyProps.Load(),
		ConstFolds:            s.ConstFolds.Load(),
		BailOuts:              s.BailOuts.Load(),
		DeadStores:            s.DeadStores.Load(),
		CompileTime:           s.CompileTime.Load(),
	}
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("compiled=%d recompiles=%d failed=%d specialized=%d hoisted=%d "+
		"bound_checks_eliminated=%d bound_checks_hoisted=%d memops=%d copy_props=%d "+
		"const_folds=%d bailouts=%d dead_stores=%d time=%s",
		s.Compiled, s.Recompiles, s.Failed, s.SpecializedInstrs, s.HoistedInstrs,
		s.EliminatedBoundChecks, s.HoistedBoundChecks, s.Memops, s.CopyProps,
		s.ConstFolds, s.BailOuts, s.DeadStores, s.CompileTime)
}
