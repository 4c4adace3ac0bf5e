package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/fansqz/debug-playground/breakpoint"
	"github.com/fansqz/debug-playground/constants"
	"github.com/fansqz/debug-playground/debugger"
	e "github.com/fansqz/debug-playground/error"
	"github.com/fansqz/debug-playground/inspector"
	"github.com/fansqz/debug-playground/metrics"
	"github.com/fansqz/debug-playground/utils"
	"github.com/sirupsen/logrus"
)

// Editor 代码编辑器
type Editor interface {
	// Text 编辑器中的全部代码
	Text() string
	SetReadOnly(readOnly bool)
	// SetDecorations 用decorations替换编辑器原来的全部装饰
	SetDecorations(decorations []Decoration)
}

// NotificationCallback 会话状态变化以后的回调
type NotificationCallback func(state *UIState)

// UIState 前端需要展示的会话状态
type UIState struct {
	SessionID       string                 `json:"sessionId"`
	State           constants.SessionState `json:"state"`
	RunEnabled      bool                   `json:"runEnabled"`
	DebugEnabled    bool                   `json:"debugEnabled"`
	ContinueEnabled bool                   `json:"continueEnabled"`
	ReadOnly        bool                   `json:"readOnly"`
	// HighlightedLine 当前命中的断点行，0表示没有
	HighlightedLine int                  `json:"highlightedLine"`
	Output          string               `json:"output"`
	Variables       []*debugger.Variable `json:"variables"`
}

type Options struct {
	// LiveSync 程序暂停时允许修改断点，并把新的断点同步给解释器
	LiveSync bool
}

// Controller 调试会话控制器
// 所有状态的修改都在lock中进行，调用解释器时不持有lock，
// 解释器可能在StartDebug内部同步回调ApplyBreakpointUpdate
type Controller struct {
	lock        sync.Mutex
	interpreter debugger.Interpreter
	editor      Editor
	store       *breakpoint.Store
	inspector   *inspector.Inspector
	callback    NotificationCallback
	options     Options

	state     constants.SessionState
	sessionID string
	output    string
	// pending 有还未返回的解释器请求，此时禁止再次发起请求
	pending bool

	// decorationLock 保护高亮行，加锁顺序为 lock -> decorationLock -> store
	decorationLock sync.Mutex
	highlighted    int

	// editorLock 串行推送编辑器状态，推送时不持有lock，加锁顺序为 editorLock -> lock
	editorLock        sync.Mutex
	editorReadOnly    bool
	editorDecorations []Decoration
}

func NewController(interpreter debugger.Interpreter, editor Editor, inspector *inspector.Inspector,
	callback NotificationCallback, options Options) *Controller {
	c := &Controller{
		interpreter: interpreter,
		editor:      editor,
		store:       breakpoint.NewStore(),
		inspector:   inspector,
		callback:    callback,
		options:     options,
		state:       constants.Idle,
	}
	c.store.OnChange(c.syncEditor)
	return c
}

// StartDebug 使用编辑器中的代码和当前的断点开始调试
// 解释器返回错误时，错误信息追加到输出中，会话回到Idle
func (c *Controller) StartDebug(ctx context.Context) error {
	c.lock.Lock()
	if c.state != constants.Idle || c.pending {
		c.lock.Unlock()
		return e.ErrSessionActive
	}
	code := c.editor.Text()
	if strings.TrimSpace(code) == "" {
		c.lock.Unlock()
		return e.ErrNoCode
	}
	c.inspector.Reset()
	c.setHighlight(0)
	c.output = ""
	c.sessionID = utils.GetUUID()
	c.state = constants.Debugging
	c.setPending(true)
	log := logrus.WithField("session", c.sessionID)
	state := c.snapshot()
	c.lock.Unlock()
	// 断点位置只在一次调试中有效，pending期间断点不会被修改
	c.store.ResetPositions()
	lines := c.store.LineNumbers()
	c.syncEditor()
	c.notify(state)

	log.Infof("[Controller] StartDebug, breakpoints = %v", lines)
	err := c.callInterpreter("StartDebug", func() error {
		return c.interpreter.StartDebug(ctx, code, lines, c)
	})

	c.lock.Lock()
	c.setPending(false)
	if err != nil {
		log.Warnf("[Controller] StartDebug fail, err = %v", err)
		metrics.RecordSession("failed")
		metrics.RecordInterpreterError("startDebug")
		c.appendOutput(err.Error())
		c.state = constants.Idle
		c.setHighlight(0)
		c.inspector.Reset()
	} else {
		metrics.RecordSession("started")
	}
	state = c.snapshot()
	c.lock.Unlock()
	c.syncEditor()
	c.notify(state)
	return err
}

// Run 直接运行代码，输出替换为程序输出
func (c *Controller) Run(ctx context.Context) (string, error) {
	c.lock.Lock()
	if c.state != constants.Idle || c.pending {
		c.lock.Unlock()
		return "", e.ErrSessionActive
	}
	code := c.editor.Text()
	if strings.TrimSpace(code) == "" {
		c.lock.Unlock()
		return "", e.ErrNoCode
	}
	c.setPending(true)
	c.output = ""
	state := c.snapshot()
	c.lock.Unlock()
	c.notify(state)

	logrus.Infof("[Controller] Run")
	var output string
	err := c.callInterpreter("Run", func() error {
		var runErr error
		output, runErr = c.interpreter.Run(ctx, code)
		return runErr
	})

	c.lock.Lock()
	c.setPending(false)
	c.output = output
	if err != nil {
		logrus.Warnf("[Controller] Run fail, err = %v", err)
		metrics.RecordInterpreterError("run")
		c.appendOutput(err.Error())
	}
	output = c.output
	state = c.snapshot()
	c.lock.Unlock()
	c.notify(state)
	return output, err
}

// Continue 继续执行，直到下一个断点或者程序结束
// 失败时错误信息追加到输出中，会话状态不变
func (c *Controller) Continue(ctx context.Context) error {
	c.lock.Lock()
	if c.state == constants.Idle {
		c.lock.Unlock()
		return e.ErrNotDebugging
	}
	if c.pending {
		c.lock.Unlock()
		return e.ErrRequestPending
	}
	previous := c.state
	c.state = constants.Debugging
	c.setPending(true)
	log := logrus.WithField("session", c.sessionID)
	state := c.snapshot()
	c.lock.Unlock()
	c.notify(state)

	log.Infof("[Controller] Continue")
	err := c.callInterpreter("Continue", func() error {
		return c.interpreter.Continue(ctx)
	})

	c.lock.Lock()
	c.setPending(false)
	if err != nil {
		log.Warnf("[Controller] Continue fail, err = %v", err)
		metrics.RecordInterpreterError("continue")
		c.appendOutput(err.Error())
		// 期间没有收到新的事件时恢复原来的状态
		if c.state == constants.Debugging {
			c.state = previous
		}
	}
	state = c.snapshot()
	c.lock.Unlock()
	c.notify(state)
	return err
}

// ToggleBreakpoint 添加或删除某一行的断点，返回true表示添加
// Idle时总是允许；Paused时只有开启LiveSync并且解释器支持重新设置断点才允许
func (c *Controller) ToggleBreakpoint(ctx context.Context, line int) (bool, error) {
	c.lock.Lock()
	if c.pending {
		c.lock.Unlock()
		metrics.RecordToggle("rejected")
		return false, e.ErrStepPending
	}
	switch c.state {
	case constants.Idle:
		c.lock.Unlock()
		added, err := c.store.Toggle(line)
		recordToggle(added, err)
		return added, err
	case constants.Paused:
		setter, ok := c.interpreter.(debugger.BreakpointSetter)
		if !c.options.LiveSync || !ok {
			c.lock.Unlock()
			metrics.RecordToggle("rejected")
			return false, e.ErrSessionActive
		}
		c.pending = true
		c.lock.Unlock()
		added, err := c.syncBreakpoint(ctx, setter, line)
		c.lock.Lock()
		c.pending = false
		c.lock.Unlock()
		recordToggle(added, err)
		return added, err
	default:
		c.lock.Unlock()
		metrics.RecordToggle("rejected")
		return false, e.ErrSessionActive
	}
}

// syncBreakpoint 修改断点并同步给解释器，同步失败时撤销修改
func (c *Controller) syncBreakpoint(ctx context.Context, setter debugger.BreakpointSetter, line int) (bool, error) {
	added, err := c.store.Toggle(line)
	if err != nil {
		return false, err
	}
	lines := utils.DistinctLines(c.store.LineNumbers())
	logrus.Infof("[Controller] sync breakpoints %v", lines)
	err = c.callInterpreter("SetBreakpoints", func() error {
		return setter.SetBreakpoints(ctx, lines)
	})
	if err != nil {
		logrus.Warnf("[Controller] sync breakpoints fail, err = %v", err)
		metrics.RecordInterpreterError("setBreakpoints")
		_, _ = c.store.Toggle(line)
		return false, err
	}
	return added, nil
}

func recordToggle(added bool, err error) {
	switch {
	case err != nil:
		metrics.RecordToggle("rejected")
	case added:
		metrics.RecordToggle("added")
	default:
		metrics.RecordToggle("removed")
	}
}

// OnDebugEvent 解释器推送的调试事件，只有Break和Terminate会改变会话状态
func (c *Controller) OnDebugEvent(reason constants.DebugEventReason, stdout string, frames []*debugger.Frame) {
	metrics.RecordEvent(reason.String())
	event := debugger.NewDebugEvent(reason, stdout, frames)
	c.lock.Lock()
	log := logrus.WithField("session", c.sessionID)
	c.lock.Unlock()
	log.Infof("[Controller] OnDebugEvent, reason = %s, position = %s", reason, event.Position())

	switch reason {
	case constants.DebugBreak:
		c.onBreak(event)
	case constants.DebugTerminate:
		c.onTerminate(event)
	}
}

func (c *Controller) onBreak(event *debugger.DebugEvent) {
	c.lock.Lock()
	if c.state == constants.Idle {
		c.lock.Unlock()
		logrus.Warnf("[Controller] break event without a debug session, ignore")
		return
	}
	if len(event.Frames) == 0 || event.Frames[0] == nil {
		c.lock.Unlock()
		logrus.Debugf("[Controller] break event without frames")
		return
	}
	c.state = constants.Paused
	c.output = event.Stdout
	if bp, ok := c.store.Find(event.Position()); ok {
		c.setHighlight(bp.LineNumber)
	} else {
		// 单步等操作可以停在没有断点的行，不是错误
		logrus.Debugf("[Controller] no breakpoint matches position %q", event.Position())
		c.setHighlight(0)
	}
	c.inspector.ShowVariables(event.Variables())
	state := c.snapshot()
	c.lock.Unlock()
	c.syncEditor()
	c.notify(state)
}

func (c *Controller) onTerminate(event *debugger.DebugEvent) {
	c.lock.Lock()
	c.state = constants.Idle
	if event.Stdout != "" {
		c.output = event.Stdout
	}
	c.setHighlight(0)
	c.inspector.Reset()
	state := c.snapshot()
	c.lock.Unlock()
	c.syncEditor()
	c.notify(state)
}

// ApplyBreakpointUpdate 解释器返回的断点解析结果
func (c *Controller) ApplyBreakpointUpdate(updates []*debugger.BreakpointUpdate) {
	c.store.ApplyInterpreterUpdate(updates)
}

// State 当前会话状态的快照
func (c *Controller) State() *UIState {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.snapshot()
}

func (c *Controller) Breakpoints() *breakpoint.Store {
	return c.store
}

func (c *Controller) Inspector() *inspector.Inspector {
	return c.inspector
}

// Decorations 编辑器当前的装饰
func (c *Controller) Decorations() []Decoration {
	c.decorationLock.Lock()
	defer c.decorationLock.Unlock()
	return Decorations(c.store.Values(), c.highlighted)
}

// callInterpreter 调用解释器，解释器panic时转换为错误
func (c *Controller) callInterpreter(operation string, call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("[Controller] %s panic: %v\n%s", operation, r, debug.Stack())
			err = fmt.Errorf("%s: %v", operation, r)
		}
	}()
	return call()
}

func (c *Controller) setPending(pending bool) {
	c.pending = pending
	c.store.SetStepPending(pending)
}

func (c *Controller) appendOutput(text string) {
	if c.output != "" && !strings.HasSuffix(c.output, "\n") {
		c.output += "\n"
	}
	c.output += text
}

func (c *Controller) setHighlight(line int) {
	c.decorationLock.Lock()
	defer c.decorationLock.Unlock()
	c.highlighted = line
}

// syncEditor 把只读状态和装饰推送给编辑器，只推送变化的部分。
// 编辑器可能阻塞，调用方不能持有lock
func (c *Controller) syncEditor() {
	c.editorLock.Lock()
	defer c.editorLock.Unlock()
	c.lock.Lock()
	readOnly := c.state != constants.Idle
	c.lock.Unlock()
	decorations := c.Decorations()

	if readOnly != c.editorReadOnly {
		c.editorReadOnly = readOnly
		c.editor.SetReadOnly(readOnly)
	}
	if !slices.Equal(decorations, c.editorDecorations) {
		c.editorDecorations = decorations
		c.editor.SetDecorations(decorations)
	}
}

func (c *Controller) highlightedLine() int {
	c.decorationLock.Lock()
	defer c.decorationLock.Unlock()
	return c.highlighted
}

func (c *Controller) snapshot() *UIState {
	idle := c.state == constants.Idle
	return &UIState{
		SessionID:       c.sessionID,
		State:           c.state,
		RunEnabled:      idle && !c.pending,
		DebugEnabled:    idle && !c.pending,
		ContinueEnabled: !idle && !c.pending,
		ReadOnly:        !idle,
		HighlightedLine: c.highlightedLine(),
		Output:          c.output,
		Variables:       c.inspector.Variables(),
	}
}

func (c *Controller) notify(state *UIState) {
	if c.callback != nil {
		c.callback(state)
	}
}
