package debugger

import (
	"context"

	"github.com/fansqz/debug-playground/constants"
)

// Interpreter
// 执行用户代码的解释器，调试事件通过EventSink异步返回
// 实现需要保证并发安全
type Interpreter interface {
	// Run 直接运行代码，返回程序输出
	Run(ctx context.Context, code string) (string, error)
	// StartDebug
	// 开始调试，breakpoints为用户设置的断点行号。
	// 断点解析结果通过sink.ApplyBreakpointUpdate返回，调试事件通过sink.OnDebugEvent返回
	StartDebug(ctx context.Context, code string, breakpoints []int, sink EventSink) error
	// Continue 继续执行，直到下一个断点或者程序结束
	Continue(ctx context.Context) error
}

// BreakpointSetter 支持在调试过程中重新设置断点的解释器
type BreakpointSetter interface {
	// SetBreakpoints 用新的断点列表替换原来的断点
	SetBreakpoints(ctx context.Context, breakpoints []int) error
}

// EventSink 接收解释器推送的内容
type EventSink interface {
	// OnDebugEvent stdout为程序到目前为止的全部输出，frames[0]为当前栈帧
	OnDebugEvent(reason constants.DebugEventReason, stdout string, frames []*Frame)
	// ApplyBreakpointUpdate 断点被解释器解析以后的位置和有效性
	ApplyBreakpointUpdate(updates []*BreakpointUpdate)
}
