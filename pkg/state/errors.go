package state

import "errors"

// ErrInvalidOperation is wrapped with the offending state/event pair and
// returned via CmdInvalidOp whenever an application event arrives in a
// state that the transition table does not list as a valid source for
// it.
var ErrInvalidOperation = errors.New("invalid operation for current connection state")
