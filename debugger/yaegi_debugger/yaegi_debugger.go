package yaegi_debugger

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/fansqz/debug-playground/constants"
	. "github.com/fansqz/debug-playground/debugger"
	e "github.com/fansqz/debug-playground/error"
	"github.com/fansqz/debug-playground/utils"
	"github.com/sirupsen/logrus"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// YaegiDebugger 使用yaegi在进程内解释执行用户的go代码
// 同一时间只能有一个调试会话
type YaegiDebugger struct {
	lock sync.Mutex

	// statusManager 调试的状态管理
	statusManager *utils.StatusManager

	runTimeout time.Duration

	interpreter *interp.Interpreter
	debugger    *interp.Debugger
	target      interp.BreakpointTarget
	stdout      *outputBuffer

	// sink 调试事件的接收方
	sink EventSink
	// cancel 结束本次调试
	cancel context.CancelFunc
}

func NewYaegiDebugger(runTimeout time.Duration) *YaegiDebugger {
	return &YaegiDebugger{
		statusManager: utils.NewStatusManager(),
		runTimeout:    runTimeout,
	}
}

// Run 直接运行代码，超过runTimeout时中断
func (y *YaegiDebugger) Run(ctx context.Context, code string) (string, error) {
	logrus.Infof("[YaegiDebugger] Run")
	if code == "" {
		return "", e.ErrNoCode
	}
	y.lock.Lock()
	if y.isDebugging() {
		y.lock.Unlock()
		return "", e.ErrRunWhileDebugging
	}
	y.lock.Unlock()

	stdout := &outputBuffer{}
	interpreter := newInterpreter(stdout)
	if y.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.runTimeout)
		defer cancel()
	}
	if _, err := interpreter.EvalWithContext(ctx, code); err != nil {
		logrus.Infof("[YaegiDebugger] Run fail, err = %v", err)
		return stdout.String(), err
	}
	return stdout.String(), nil
}

// StartDebug 编译代码，设置断点并开始执行
// 断点的解析结果在返回前同步推送给sink
func (y *YaegiDebugger) StartDebug(ctx context.Context, code string, breakpoints []int, sink EventSink) error {
	logrus.Infof("[YaegiDebugger] StartDebug, breakpoints = %v", breakpoints)
	if code == "" {
		return e.ErrNoCode
	}
	y.lock.Lock()
	if y.isDebugging() {
		y.lock.Unlock()
		return e.ErrAlreadyDebugging
	}
	y.stdout = &outputBuffer{}
	y.interpreter = newInterpreter(y.stdout)
	program, err := y.interpreter.Compile(code)
	if err != nil {
		y.reset()
		y.lock.Unlock()
		logrus.Infof("[YaegiDebugger] compile fail, err = %v", err)
		return err
	}

	// 调试会话的生命周期和本次请求无关
	debugCtx, cancel := context.WithCancel(context.Background())
	y.cancel = cancel
	y.sink = sink
	y.debugger = y.interpreter.Debug(debugCtx, program, y.onEvent, nil)
	y.target = interp.ProgramBreakpointTarget(program)
	updates := y.setBreakpoints(breakpoints)
	dbg := y.debugger
	y.statusManager.Set(utils.Running)
	y.lock.Unlock()

	sink.ApplyBreakpointUpdate(updates)

	if err = dbg.Continue(0); err != nil {
		logrus.Errorf("[YaegiDebugger] start fail, err = %v", err)
		y.lock.Lock()
		y.reset()
		y.lock.Unlock()
		return err
	}
	return nil
}

// Continue 继续执行
func (y *YaegiDebugger) Continue(ctx context.Context) error {
	logrus.Infof("[YaegiDebugger] Continue")
	y.lock.Lock()
	if !y.isDebugging() {
		y.lock.Unlock()
		return e.ErrNotDebugging
	}
	dbg := y.debugger
	y.lock.Unlock()

	if !y.statusManager.Transfer(utils.Running, utils.Stopped, utils.Running) {
		return e.ErrNotDebugging
	}
	return dbg.Continue(0)
}

// SetBreakpoints 在调试过程中替换全部断点，解析结果推送给sink
func (y *YaegiDebugger) SetBreakpoints(ctx context.Context, breakpoints []int) error {
	logrus.Infof("[YaegiDebugger] SetBreakpoints, breakpoints = %v", breakpoints)
	y.lock.Lock()
	if !y.isDebugging() {
		y.lock.Unlock()
		return e.ErrNotDebugging
	}
	updates := y.setBreakpoints(breakpoints)
	sink := y.sink
	y.lock.Unlock()

	sink.ApplyBreakpointUpdate(updates)
	return nil
}

// Close 结束当前的调试会话
func (y *YaegiDebugger) Close() error {
	y.lock.Lock()
	defer y.lock.Unlock()
	y.reset()
	return nil
}

// onEvent yaegi的调试事件回调，在用户程序的goroutine中执行
func (y *YaegiDebugger) onEvent(event *interp.DebugEvent) {
	reason := constants.DebugEventReason(event.Reason())
	var frames []*Frame
	if reason == constants.DebugBreak {
		frames = convertFrames(event)
	}

	y.lock.Lock()
	sink := y.sink
	stdout := ""
	if y.stdout != nil {
		stdout = y.stdout.String()
	}
	switch reason {
	case constants.DebugBreak:
		y.statusManager.Set(utils.Stopped)
	case constants.DebugTerminate:
		y.reset()
	}
	y.lock.Unlock()

	logrus.Debugf("[YaegiDebugger] event %s", reason)
	if sink != nil {
		sink.OnDebugEvent(reason, stdout, frames)
	}
}

// setBreakpoints 调用方需要持有锁
func (y *YaegiDebugger) setBreakpoints(lines []int) []*BreakpointUpdate {
	requests := make([]interp.BreakpointRequest, len(lines))
	for i, line := range lines {
		requests[i] = interp.LineBreakpoint(line)
	}
	results := y.debugger.SetBreakpoints(y.target, requests...)
	updates := make([]*BreakpointUpdate, len(lines))
	for i, line := range lines {
		updates[i] = &BreakpointUpdate{LineNumber: line, Valid: false}
		if i < len(results) {
			updates[i].Valid = results[i].Valid
			if results[i].Valid {
				updates[i].Position = results[i].Position.String()
			}
		}
		logrus.Debugf("[YaegiDebugger] breakpoint on line %d, valid = %v, position = %s",
			line, updates[i].Valid, updates[i].Position)
	}
	return updates
}

func (y *YaegiDebugger) isDebugging() bool {
	return y.debugger != nil && y.target != nil
}

// reset 调用方需要持有锁
func (y *YaegiDebugger) reset() {
	if y.cancel != nil {
		y.cancel()
	}
	y.interpreter = nil
	y.debugger = nil
	y.target = nil
	y.stdout = nil
	y.sink = nil
	y.cancel = nil
	y.statusManager.Set(utils.Finish)
}

func newInterpreter(stdout *outputBuffer) *interp.Interpreter {
	interpreter := interp.New(interp.Options{
		Stdout: stdout,
		Stderr: stdout,
	})
	interpreter.Use(stdlib.Symbols)
	return interpreter
}

func convertFrames(event *interp.DebugEvent) []*Frame {
	depth := event.FrameDepth()
	if depth <= 0 {
		return nil
	}
	debugFrames := event.Frames(0, depth-1)
	frames := make([]*Frame, 0, len(debugFrames))
	for _, df := range debugFrames {
		frame := &Frame{
			Name:      df.Name(),
			Position:  df.Position().String(),
			Variables: []*Variable{},
		}
		if scopes := df.Scopes(); len(scopes) >= 1 {
			for _, dv := range scopes[0].Variables() {
				value, typeName := FormatValue(dv.Value)
				frame.Variables = append(frame.Variables, &Variable{
					Name:  dv.Name,
					Type:  typeName,
					Value: value,
				})
			}
		}
		frames = append(frames, frame)
	}
	return frames
}

// outputBuffer 用户程序的输出，用户程序和事件回调在不同的goroutine中读写
type outputBuffer struct {
	lock sync.Mutex
	buf  bytes.Buffer
}

func (o *outputBuffer) Write(p []byte) (int, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.buf.Write(p)
}

func (o *outputBuffer) String() string {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.buf.String()
}
