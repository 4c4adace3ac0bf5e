package protocol

import (
	"github.com/fansqz/debug-playground/inspector"
	"github.com/fansqz/debug-playground/session"
)

type Response struct {
	Sequence uint        `json:"sequence"`
	Success  bool        `json:"success"`
	Message  string      `json:"message"`
	Data     interface{} `json:"data"`
}

// ToggleBreakpointData toggleBreakpoint的响应数据
type ToggleBreakpointData struct {
	Line  int  `json:"line"`
	Added bool `json:"added"`
}

// RunData run的响应数据
type RunData struct {
	Output string `json:"output"`
}

// StateData getState的响应数据
type StateData struct {
	State       *session.UIState     `json:"state"`
	Decorations []session.Decoration `json:"decorations"`
	View        *inspector.View      `json:"view"`
}
