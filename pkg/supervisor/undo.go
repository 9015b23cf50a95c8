package supervisor

import (
	"context"
	"fmt"
)

// UndoOp reverses one completed step of a job.
type UndoOp struct {
	Name string
	Fn   func(ctx context.Context) error
}

// UndoStack collects the reversible steps a job has completed so far.
// Rewind runs them newest-first. Not safe for concurrent use; each job
// owns its own stack.
type UndoStack struct {
	ops []UndoOp
}

func NewUndoStack() *UndoStack {
	return &UndoStack{}
}

func (u *UndoStack) Push(name string, fn func(ctx context.Context) error) {
	u.ops = append(u.ops, UndoOp{Name: name, Fn: fn})
}

func (u *UndoStack) Len() int {
	return len(u.ops)
}

// Rewind undoes completed steps newest-first. All steps are attempted even
// when one fails; the first failure is returned.
func (u *UndoStack) Rewind(ctx context.Context) error {
	var firstErr error
	for i := len(u.ops) - 1; i >= 0; i-- {
		op := u.ops[i]
		if err := op.Fn(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("undo %s: %w", op.Name, err)
		}
	}
	u.ops = nil
	return firstErr
}
