package rule

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a condition tree decode failure.
type ErrorKind int

const (
	KindMalformedInput ErrorKind = iota + 1
	KindInvalidRoot
	KindMissingKey
	KindInvalidType
	KindInvalidChildType
	KindInvalidOperator
	KindInvalidValue
	KindTreeTooDeep
)

// String returns the snake_case name used in logs and metric labels.
func (k ErrorKind) String() string {
	switch k {
	case KindMalformedInput:
		return "malformed_input"
	case KindInvalidRoot:
		return "invalid_root"
	case KindMissingKey:
		return "missing_key"
	case KindInvalidType:
		return "invalid_type"
	case KindInvalidChildType:
		return "invalid_child_type"
	case KindInvalidOperator:
		return "invalid_operator"
	case KindInvalidValue:
		return "invalid_value"
	case KindTreeTooDeep:
		return "tree_too_deep"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. A *DecodeError matches the sentinel of its kind.
var (
	ErrMalformedInput   = errors.New("malformed input")
	ErrInvalidRoot      = errors.New("invalid root")
	ErrMissingKey       = errors.New("missing key")
	ErrInvalidType      = errors.New("invalid type")
	ErrInvalidChildType = errors.New("invalid child type")
	ErrInvalidOperator  = errors.New("invalid operator")
	ErrInvalidValue     = errors.New("invalid value")
	ErrTreeTooDeep      = errors.New("tree too deep")
)

var kindSentinels = map[ErrorKind]error{
	KindMalformedInput:   ErrMalformedInput,
	KindInvalidRoot:      ErrInvalidRoot,
	KindMissingKey:       ErrMissingKey,
	KindInvalidType:      ErrInvalidType,
	KindInvalidChildType: ErrInvalidChildType,
	KindInvalidOperator:  ErrInvalidOperator,
	KindInvalidValue:     ErrInvalidValue,
	KindTreeTooDeep:      ErrTreeTooDeep,
}

const (
	nodeGroup     = "group"
	nodeCondition = "condition"
)

// DecodeError describes why a condition tree could not be decoded.
//
// Node is "group" or "condition" when the failure belongs to one node, Key
// names the offending key and Path locates the node from the root ("$" is
// the root, "$.children[1]" its second child).
type DecodeError struct {
	Kind  ErrorKind
	Node  string
	Key   string
	Path  string
	Value string
	Limit int
	Err   error
}

// Error returns the operator-facing message. MissingKey messages are a
// fixed format so callers can match on the key.
func (e *DecodeError) Error() string {
	switch e.Kind {
	case KindMalformedInput:
		return fmt.Sprintf("malformed input: %v", e.Err)
	case KindInvalidRoot:
		return "invalid root, root must be a group"
	case KindMissingKey:
		return fmt.Sprintf("invalid %s, missing key: %s", e.Node, e.Key)
	case KindInvalidType:
		return fmt.Sprintf("invalid %s, type must be %s", e.Node, e.Node)
	case KindInvalidChildType:
		return fmt.Sprintf("invalid child type at %s: %s", e.Path, e.Value)
	case KindInvalidOperator:
		return fmt.Sprintf("invalid condition operator: %s", e.Value)
	case KindInvalidValue:
		return fmt.Sprintf("invalid %s, bad value for key %s: %s", e.Node, e.Key, e.Value)
	case KindTreeTooDeep:
		return fmt.Sprintf("condition tree exceeds maximum depth of %d at %s", e.Limit, e.Path)
	default:
		return "invalid condition tree"
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *DecodeError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// IsOperatorFacing reports whether err is a decode failure an operator
// editing raw rule data can fix from the message alone. Any other decode
// failure indicates corrupted storage.
func IsOperatorFacing(err error) bool {
	return errors.Is(err, ErrMissingKey) || errors.Is(err, ErrInvalidOperator)
}

// DecodeErrorKind returns the kind of a wrapped *DecodeError, or 0.
func DecodeErrorKind(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}
