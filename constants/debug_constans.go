package constants

// DebugEventReason 解释器推送调试事件的原因，取值与解释器保持一致
type DebugEventReason int

const (
	DebugRun DebugEventReason = iota
	DebugPause
	DebugBreak
	DebugEntry
	DebugStepInto
	DebugStepOver
	DebugStepOut
	DebugTerminate
	DebugEnterRoutine
	DebugExitRoutine
)

var debugEventReasonNames = map[DebugEventReason]string{
	DebugRun:          "run",
	DebugPause:        "pause",
	DebugBreak:        "break",
	DebugEntry:        "entry",
	DebugStepInto:     "stepInto",
	DebugStepOver:     "stepOver",
	DebugStepOut:      "stepOut",
	DebugTerminate:    "terminate",
	DebugEnterRoutine: "enterRoutine",
	DebugExitRoutine:  "exitRoutine",
}

func (r DebugEventReason) String() string {
	if name, ok := debugEventReasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// SessionState 调试会话的状态
type SessionState string

const (
	// Idle 没有调试会话，Run和Debug可用。调试结束以后也回到该状态
	Idle SessionState = "idle"
	// Debugging 调试中，等待解释器的下一个事件
	Debugging SessionState = "debugging"
	// Paused 程序停在某个断点
	Paused SessionState = "paused"
)

// RequestType 前端请求类型
type RequestType string

const (
	// ToggleBreakpoint 在某行添加或删除断点
	ToggleBreakpoint RequestType = "toggleBreakpoint"
	// Run 直接运行用户代码
	Run RequestType = "run"
	// StartDebug 开始调试，使用当前的断点列表
	StartDebug RequestType = "startDebug"
	// Continue 继续执行程序，直到遇到下一个断点或程序结束
	Continue RequestType = "continue"
	// OpenVariable 展开栈帧中的某个变量
	OpenVariable RequestType = "openVariable"
	// SelectChild 展开当前视图中的某个子元素
	SelectChild RequestType = "selectChild"
	// Dismiss 关闭当前视图，回到上一级
	Dismiss RequestType = "dismiss"
	// GetState 获取当前的会话状态
	GetState RequestType = "getState"
)

// EventType 推送给前端的事件类型
type EventType string

const (
	StateEvent       EventType = "state"
	DecorationsEvent EventType = "decorations"
	StatusEvent      EventType = "status"
	ClipboardEvent   EventType = "clipboard"
	ViewEvent        EventType = "view"
)

// DecorationClass 编辑器行装饰的样式
type DecorationClass string

const (
	BreakpointDecoration        DecorationClass = "debugBreakpoint"
	InvalidBreakpointDecoration DecorationClass = "invalidDebugBreakpoint"
	HighlightedLineDecoration   DecorationClass = "debugHighlightedLine"
)

// InterpreterBackend 解释器的实现
type InterpreterBackend string

const (
	YaegiBackend InterpreterBackend = "yaegi"
	DAPBackend   InterpreterBackend = "dap"
)
