package condition

import (
	"errors"
	"fmt"
)

var (
	// ErrEvaluation matches every rule evaluation failure, including
	// *StateVariableNotFoundError.
	ErrEvaluation = errors.New("condition evaluation failed")

	// ErrRootNotFound is returned by Build when the node set has no root
	// operator with the requested id.
	ErrRootNotFound = errors.New("root operator not found")
)

// EvaluationError reports a broken rule: an unknown comparator, a missing
// agent state or operands that cannot be compared.
type EvaluationError struct {
	Message string
}

func (e *EvaluationError) Error() string { return e.Message }

// Is lets errors.Is(err, ErrEvaluation) match.
func (e *EvaluationError) Is(target error) bool { return target == ErrEvaluation }

// StateVariableNotFoundError reports a state variable path that does not
// resolve against the selected state.
type StateVariableNotFoundError struct {
	Path string
}

func (e *StateVariableNotFoundError) Error() string {
	return fmt.Sprintf("State variable name '%s' not found", e.Path)
}

// Is lets errors.Is(err, ErrEvaluation) match.
func (e *StateVariableNotFoundError) Is(target error) bool { return target == ErrEvaluation }

func evaluationErrorf(format string, args ...any) error {
	return &EvaluationError{Message: fmt.Sprintf(format, args...)}
}
