package dispatch

import "errors"

// ErrUnknownMethod is returned when the first request's target is neither
// a CONNECT authority nor an absolute-form "http://" URI; the caller
// replies 501 Not Implemented and closes the connection per spec §4.7.
var ErrUnknownMethod = errors.New("dispatch: unrecognised request target")
