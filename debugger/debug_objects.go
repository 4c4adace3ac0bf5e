package debugger

import "github.com/fansqz/debug-playground/constants"

// BreakpointUpdate 解释器对某个断点的解析结果
type BreakpointUpdate struct {
	LineNumber int    `json:"lineNumber"`
	Position   string `json:"position"` // 解释器分配的位置，只在本次调试中有效
	Valid      bool   `json:"valid"`
}

// Frame 栈帧
type Frame struct {
	Name      string      `json:"name"`     // 函数名称
	Position  string      `json:"position"` // 解释器分配的位置
	Variables []*Variable `json:"variables"`
}

// Variable 变量
// Value 是变量值的字符串形式，结构体、map等复合类型展开为 {"x": 10} 或 [1, 2] 的形式
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// DebugEvent 解释器的一次调试通知
type DebugEvent struct {
	Reason constants.DebugEventReason `json:"reason"`
	Stdout string                     `json:"stdout"`
	Frames []*Frame                   `json:"frames"`
}

func NewDebugEvent(reason constants.DebugEventReason, stdout string, frames []*Frame) *DebugEvent {
	return &DebugEvent{
		Reason: reason,
		Stdout: stdout,
		Frames: frames,
	}
}

// Position 返回当前栈帧的位置，没有栈帧时返回空字符串
func (d *DebugEvent) Position() string {
	if len(d.Frames) == 0 || d.Frames[0] == nil {
		return ""
	}
	return d.Frames[0].Position
}

// Variables 返回当前栈帧的变量列表
func (d *DebugEvent) Variables() []*Variable {
	if len(d.Frames) == 0 || d.Frames[0] == nil {
		return nil
	}
	return d.Frames[0].Variables
}
