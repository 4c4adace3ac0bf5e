package error

import "errors"

var (
	ErrSessionActive        = errors.New("debug session is active")
	ErrNotDebugging         = errors.New("must start debugging first")
	ErrAlreadyDebugging     = errors.New("already debugging")
	ErrRunWhileDebugging    = errors.New("can't run while debugging")
	ErrStepPending          = errors.New("debug step is pending")
	ErrRequestPending       = errors.New("request is still in flight")
	ErrNoCode               = errors.New("no code provided")
	ErrIndexOutOfRange      = errors.New("index out of range")
	ErrNothingToDismiss     = errors.New("no view to dismiss")
	ErrInterpreterClosed    = errors.New("interpreter is closed")
	ErrRequestTimeout       = errors.New("request time out")
	ErrBackendNotSupported  = errors.New("This interpreter backend is not supported")
	ErrLanguageNotSupported = errors.New("This language is not supported")
)
