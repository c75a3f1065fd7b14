package msgs

import "errors"

var (
	// ErrUnknownOp indicates the control operation is not supported.
	ErrUnknownOp = errors.New("unknown control op")
)
