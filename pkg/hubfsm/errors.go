package hubfsm

import "errors"

// ErrInvalidTransition is returned by ForceTransition when the
// requested state is not reachable from the current one (§4.6).
var ErrInvalidTransition = errors.New("hubfsm: invalid transition")
