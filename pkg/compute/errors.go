package compute

import (
	"errors"
	"fmt"

	"github.com/lanedb/pipejoin/pkg/expr"
)

type FaultKind uint8

const (
	FaultNone FaultKind = iota
	FaultTypeMismatch
	FaultOverflow
	FaultDivByZero
	FaultCapacity
	FaultInternal
)

func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "none"
	case FaultTypeMismatch:
		return "type mismatch"
	case FaultOverflow:
		return "overflow"
	case FaultDivByZero:
		return "division by zero"
	case FaultCapacity:
		return "capacity"
	default:
		return "internal"
	}
}

// PipelineFault is the first error a lane group hit. The launcher
// keeps exactly one per launch; later faults from other groups are
// dropped, not merged.
type PipelineFault struct {
	Kind    FaultKind
	Depth   int32
	GroupId int
	Err     error
}

func (f *PipelineFault) Error() string {
	return fmt.Sprintf("pipeline fault at depth %d group %d: %s: %v",
		f.Depth, f.GroupId, f.Kind, f.Err)
}

func (f *PipelineFault) Unwrap() error {
	return f.Err
}

func newFault(depth int32, groupId int, err error) *PipelineFault {
	var pf *PipelineFault
	if errors.As(err, &pf) {
		return pf
	}
	return &PipelineFault{
		Kind:    classifyFault(err),
		Depth:   depth,
		GroupId: groupId,
		Err:     err,
	}
}

func classifyFault(err error) FaultKind {
	switch {
	case errors.Is(err, expr.ErrTypeMismatch):
		return FaultTypeMismatch
	case errors.Is(err, expr.ErrOverflow):
		return FaultOverflow
	case errors.Is(err, expr.ErrDivisionByZero):
		return FaultDivByZero
	default:
		return FaultInternal
	}
}
