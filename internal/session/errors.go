package session

import "errors"

// Failures of Start. Permission failures and start failures are distinct so
// callers can tell "the user said no" from "the sensors are broken".
var (
	ErrPermissionDenied  = errors.New("session: sensor permission denied")
	ErrUnsupported       = errors.New("session: motion sensors not supported")
	ErrPermissionTimeout = errors.New("session: sensor permission request timed out")
	ErrStartFailed       = errors.New("session: sensor start failed")
	ErrStopped           = errors.New("session: stopped while waiting for permission")
)
