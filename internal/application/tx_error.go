package application

import (
	"errors"
	"fmt"
)

var (
	// ErrTxInfrastructure matches every failure of the boundary itself, as
	// opposed to failures of the work it runs.
	ErrTxInfrastructure = errors.New("transaction infrastructure failure")
	// ErrNestedTransaction is returned under NestingReject when Do is called
	// inside another Do of the same boundary.
	ErrNestedTransaction = errors.New("nested transaction not allowed")
	// ErrRollbackOnly is returned when a joined inner call failed and the outer
	// call tried to commit anyway.
	ErrRollbackOnly = errors.New("transaction marked rollback-only")
)

type TxOp string

const (
	TxOpBegin    TxOp = "begin"
	TxOpCommit   TxOp = "commit"
	TxOpRollback TxOp = "rollback"
)

// TxError reports that a transaction could not be begun, committed or rolled
// back. Work is set when a rollback failed after the work itself had failed.
type TxError struct {
	Op   TxOp
	Err  error
	Work error
}

func (e *TxError) Error() string {
	if e.Work != nil {
		return fmt.Sprintf("tx %s: %v (work error: %v)", e.Op, e.Err, e.Work)
	}
	return fmt.Sprintf("tx %s: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() []error {
	errs := []error{ErrTxInfrastructure, e.Err}
	if e.Work != nil {
		errs = append(errs, e.Work)
	}
	return errs
}

// IsTxInfrastructure reports whether err came from transaction management
// rather than from the work.
func IsTxInfrastructure(err error) bool {
	return errors.Is(err, ErrTxInfrastructure)
}
