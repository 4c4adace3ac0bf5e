package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fansqz/debug-playground/breakpoint"
	"github.com/fansqz/debug-playground/constants"
	"github.com/fansqz/debug-playground/debugger"
	e "github.com/fansqz/debug-playground/error"
	"github.com/fansqz/debug-playground/inspector"
	"github.com/maxatome/go-testdeep/td"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCode = `package main

import "fmt"

func main() {
	a := 1
	fmt.Println(a)
}
`

type fakeEditor struct {
	lock        sync.Mutex
	text        string
	readOnly    bool
	decorations []Decoration
}

func (f *fakeEditor) Text() string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.text
}

func (f *fakeEditor) SetReadOnly(readOnly bool) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.readOnly = readOnly
}

func (f *fakeEditor) SetDecorations(decorations []Decoration) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.decorations = decorations
}

func (f *fakeEditor) Decorations() []Decoration {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.decorations
}

func (f *fakeEditor) ReadOnly() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.readOnly
}

type fakeInterpreter struct {
	updates     []*debugger.BreakpointUpdate
	startErr    error
	startPanic  bool
	runOutput   string
	runErr      error
	continueErr error
	// continueGate 不为空时Continue会等待，直到gate被关闭
	continueGate chan struct{}
	onStart      func()

	sink    debugger.EventSink
	started []int
}

func (f *fakeInterpreter) Run(ctx context.Context, code string) (string, error) {
	return f.runOutput, f.runErr
}

func (f *fakeInterpreter) StartDebug(ctx context.Context, code string, breakpoints []int, sink debugger.EventSink) error {
	if f.onStart != nil {
		f.onStart()
	}
	if f.startPanic {
		panic("interpreter crashed")
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.sink = sink
	f.started = breakpoints
	sink.ApplyBreakpointUpdate(f.updates)
	return nil
}

func (f *fakeInterpreter) Continue(ctx context.Context) error {
	if f.continueGate != nil {
		<-f.continueGate
	}
	return f.continueErr
}

type fakeSetterInterpreter struct {
	fakeInterpreter
	setErr error
	lines  [][]int
}

func (f *fakeSetterInterpreter) SetBreakpoints(ctx context.Context, breakpoints []int) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.lines = append(f.lines, breakpoints)
	return nil
}

func newTestController(interpreter debugger.Interpreter, options Options) (*Controller, *fakeEditor, *[]*UIState) {
	editor := &fakeEditor{text: testCode}
	var states []*UIState
	var lock sync.Mutex
	c := NewController(interpreter, editor, inspector.NewInspector(nil, nil), func(state *UIState) {
		lock.Lock()
		defer lock.Unlock()
		states = append(states, state)
	}, options)
	return c, editor, &states
}

func TestController_EndToEnd(t *testing.T) {
	interpreter := &fakeInterpreter{
		updates: []*debugger.BreakpointUpdate{
			{LineNumber: 5, Position: "main.go:5:2", Valid: true},
			{LineNumber: 8, Position: "", Valid: false},
		},
	}
	c, editor, states := newTestController(interpreter, Options{})
	ctx := context.Background()

	state := c.State()
	assert.Equal(t, constants.Idle, state.State)
	assert.True(t, state.RunEnabled)
	assert.True(t, state.DebugEnabled)
	assert.False(t, state.ContinueEnabled)

	_, err := c.ToggleBreakpoint(ctx, 5)
	require.NoError(t, err)
	_, err = c.ToggleBreakpoint(ctx, 8)
	require.NoError(t, err)

	require.NoError(t, c.StartDebug(ctx))
	assert.Equal(t, []int{5, 8}, interpreter.started)
	state = c.State()
	assert.Equal(t, constants.Debugging, state.State)
	assert.False(t, state.RunEnabled)
	assert.False(t, state.DebugEnabled)
	assert.True(t, state.ContinueEnabled)
	assert.True(t, state.ReadOnly)
	assert.True(t, editor.ReadOnly())
	assert.NotEmpty(t, state.SessionID)
	assert.Equal(t, []Decoration{
		{Line: 5, Class: constants.BreakpointDecoration},
		{Line: 8, Class: constants.InvalidBreakpointDecoration},
	}, editor.Decorations())

	variables := []*debugger.Variable{{Name: "a", Type: "int", Value: "1"}}
	c.OnDebugEvent(constants.DebugBreak, "hello\n", []*debugger.Frame{
		{Name: "main.main", Position: "main.go:5:2", Variables: variables},
	})
	state = c.State()
	assert.Equal(t, constants.Paused, state.State)
	assert.Equal(t, 5, state.HighlightedLine)
	assert.Equal(t, variables, state.Variables)
	assert.Equal(t, "hello\n", state.Output)
	assert.Contains(t, editor.Decorations(), Decoration{Line: 5, Class: constants.HighlightedLineDecoration})

	require.NoError(t, c.Continue(ctx))
	assert.Equal(t, constants.Debugging, c.State().State)

	c.OnDebugEvent(constants.DebugTerminate, "hello\n1\n", nil)
	state = c.State()
	td.Cmp(t, state, td.SStruct(&UIState{
		State:           constants.Idle,
		RunEnabled:      true,
		DebugEnabled:    true,
		ContinueEnabled: false,
		ReadOnly:        false,
		HighlightedLine: 0,
		Output:          "hello\n1\n",
	}, td.StructFields{
		"SessionID": td.NotEmpty(),
		"Variables": td.Empty(),
	}))
	assert.False(t, editor.ReadOnly())
	assert.NotContains(t, editor.Decorations(), Decoration{Line: 5, Class: constants.HighlightedLineDecoration})
	assert.NotEmpty(t, *states)
}

func TestController_StartDebugFail(t *testing.T) {
	interpreter := &fakeInterpreter{startErr: errors.New("compile failed")}
	c, editor, _ := newTestController(interpreter, Options{})

	err := c.StartDebug(context.Background())
	assert.EqualError(t, err, "compile failed")
	state := c.State()
	assert.Equal(t, constants.Idle, state.State)
	assert.Contains(t, state.Output, "compile failed")
	assert.False(t, state.ContinueEnabled)
	assert.True(t, state.RunEnabled)
	assert.True(t, state.DebugEnabled)
	assert.False(t, editor.ReadOnly())

	// 可以立即重试
	interpreter.startErr = nil
	assert.NoError(t, c.StartDebug(context.Background()))
}

func TestController_StartDebugPanic(t *testing.T) {
	c, _, _ := newTestController(&fakeInterpreter{startPanic: true}, Options{})
	err := c.StartDebug(context.Background())
	require.Error(t, err)
	state := c.State()
	assert.Equal(t, constants.Idle, state.State)
	assert.Contains(t, state.Output, "interpreter crashed")
}

func TestController_StartDebugNoCode(t *testing.T) {
	c, editor, _ := newTestController(&fakeInterpreter{}, Options{})
	editor.text = "  \n"
	assert.ErrorIs(t, c.StartDebug(context.Background()), e.ErrNoCode)
	assert.Equal(t, constants.Idle, c.State().State)
}

// 开始新的调试前清空上一次的断点位置
func TestController_ResetPositions(t *testing.T) {
	interpreter := &fakeInterpreter{
		updates: []*debugger.BreakpointUpdate{{LineNumber: 3, Position: "main.go:3:1", Valid: false}},
	}
	c, _, _ := newTestController(interpreter, Options{})
	ctx := context.Background()
	_, _ = c.ToggleBreakpoint(ctx, 3)
	require.NoError(t, c.StartDebug(ctx))
	c.OnDebugEvent(constants.DebugTerminate, "", nil)
	assert.Equal(t, []breakpoint.Breakpoint{{LineNumber: 3, Position: "main.go:3:1", Valid: false}}, c.Breakpoints().Values())

	var seen []breakpoint.Breakpoint
	interpreter.updates = nil
	interpreter.onStart = func() { seen = c.Breakpoints().Values() }
	require.NoError(t, c.StartDebug(ctx))
	assert.Equal(t, []breakpoint.Breakpoint{{LineNumber: 3, Position: "", Valid: true}}, seen)
}

func TestController_BreakWithoutMatch(t *testing.T) {
	c, _, _ := newTestController(&fakeInterpreter{}, Options{})
	ctx := context.Background()
	_, _ = c.ToggleBreakpoint(ctx, 5)
	require.NoError(t, c.StartDebug(ctx))

	variables := []*debugger.Variable{{Name: "s", Type: "[]int", Value: "[1, 2]"}}
	c.OnDebugEvent(constants.DebugBreak, "out", []*debugger.Frame{{Position: "main.go:9:1", Variables: variables}})
	state := c.State()
	assert.Equal(t, constants.Paused, state.State)
	assert.Equal(t, 0, state.HighlightedLine)
	assert.Equal(t, variables, state.Variables)
	assert.Equal(t, "out", state.Output)

	// 其他事件只记录日志
	c.OnDebugEvent(constants.DebugStepOver, "", nil)
	c.OnDebugEvent(constants.DebugBreak, "", nil)
	assert.Equal(t, constants.Paused, c.State().State)
}

func TestController_EventWhileIdle(t *testing.T) {
	c, _, _ := newTestController(&fakeInterpreter{}, Options{})
	c.OnDebugEvent(constants.DebugBreak, "x", []*debugger.Frame{{Position: "p"}})
	assert.Equal(t, constants.Idle, c.State().State)
	assert.Empty(t, c.State().Output)
}

// blockingEditor 调用block以后SetDecorations会一直阻塞，直到返回的gate被关闭
type blockingEditor struct {
	fakeEditor
	gate    chan struct{}
	entered chan struct{}
}

func (b *blockingEditor) block() chan struct{} {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.gate = make(chan struct{})
	return b.gate
}

func (b *blockingEditor) SetDecorations(decorations []Decoration) {
	b.lock.Lock()
	gate := b.gate
	b.lock.Unlock()
	if gate != nil {
		b.entered <- struct{}{}
		<-gate
	}
	b.fakeEditor.SetDecorations(decorations)
}

// 编辑器推送阻塞时不能占用控制器的锁
func TestController_BlockedEditor(t *testing.T) {
	interpreter := &fakeInterpreter{
		updates: []*debugger.BreakpointUpdate{{LineNumber: 5, Position: "main.go:5:2", Valid: true}},
	}
	editor := &blockingEditor{fakeEditor: fakeEditor{text: testCode}, entered: make(chan struct{}, 1)}
	c := NewController(interpreter, editor, inspector.NewInspector(nil, nil), nil, Options{})
	ctx := context.Background()
	_, err := c.ToggleBreakpoint(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, c.StartDebug(ctx))

	gate := editor.block()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.OnDebugEvent(constants.DebugBreak, "", []*debugger.Frame{{Name: "main", Position: "main.go:5:2"}})
	}()
	select {
	case <-editor.entered:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "decorations were not pushed")
	}

	states := make(chan *UIState, 1)
	go func() { states <- c.State() }()
	select {
	case state := <-states:
		assert.Equal(t, constants.Paused, state.State)
		assert.Equal(t, 5, state.HighlightedLine)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "state blocked by the editor")
	}

	close(gate)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "break event did not finish")
	}
	assert.Equal(t, []Decoration{
		{Line: 5, Class: constants.BreakpointDecoration},
		{Line: 5, Class: constants.HighlightedLineDecoration},
	}, editor.Decorations())
}

func TestController_Run(t *testing.T) {
	interpreter := &fakeInterpreter{runOutput: "1\n"}
	c, _, _ := newTestController(interpreter, Options{})
	output, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1\n", output)
	assert.Equal(t, "1\n", c.State().Output)

	interpreter.runOutput = "partial"
	interpreter.runErr = errors.New("panic: boom")
	output, err = c.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "partial\npanic: boom", output)
	assert.Equal(t, constants.Idle, c.State().State)

	require.NoError(t, c.StartDebug(context.Background()))
	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, e.ErrSessionActive)
}

func TestController_Continue(t *testing.T) {
	interpreter := &fakeInterpreter{}
	c, _, _ := newTestController(interpreter, Options{})
	ctx := context.Background()
	assert.ErrorIs(t, c.Continue(ctx), e.ErrNotDebugging)

	require.NoError(t, c.StartDebug(ctx))
	c.OnDebugEvent(constants.DebugBreak, "a", []*debugger.Frame{{Position: "p"}})

	interpreter.continueErr = errors.New("must start debugging first")
	assert.Error(t, c.Continue(ctx))
	state := c.State()
	assert.Equal(t, constants.Paused, state.State)
	assert.Equal(t, "a\nmust start debugging first", state.Output)
	assert.True(t, state.ContinueEnabled)
}

func TestController_ContinuePending(t *testing.T) {
	interpreter := &fakeInterpreter{continueGate: make(chan struct{})}
	c, _, _ := newTestController(interpreter, Options{})
	ctx := context.Background()
	require.NoError(t, c.StartDebug(ctx))

	done := make(chan error, 1)
	go func() { done <- c.Continue(ctx) }()
	require.Eventually(t, func() bool { return !c.State().ContinueEnabled }, time.Second, time.Millisecond)

	assert.ErrorIs(t, c.Continue(ctx), e.ErrRequestPending)
	_, err := c.ToggleBreakpoint(ctx, 2)
	assert.ErrorIs(t, err, e.ErrStepPending)

	close(interpreter.continueGate)
	assert.NoError(t, <-done)
	assert.True(t, c.State().ContinueEnabled)
}

func TestController_TogglePolicy(t *testing.T) {
	ctx := context.Background()

	c, _, _ := newTestController(&fakeInterpreter{}, Options{LiveSync: true})
	require.NoError(t, c.StartDebug(ctx))
	_, err := c.ToggleBreakpoint(ctx, 2)
	assert.ErrorIs(t, err, e.ErrSessionActive)
	c.OnDebugEvent(constants.DebugBreak, "", []*debugger.Frame{{Position: "p"}})
	// 解释器不支持重新设置断点
	_, err = c.ToggleBreakpoint(ctx, 2)
	assert.ErrorIs(t, err, e.ErrSessionActive)

	setter := &fakeSetterInterpreter{}
	c, _, _ = newTestController(setter, Options{})
	require.NoError(t, c.StartDebug(ctx))
	c.OnDebugEvent(constants.DebugBreak, "", []*debugger.Frame{{Position: "p"}})
	_, err = c.ToggleBreakpoint(ctx, 2)
	assert.ErrorIs(t, err, e.ErrSessionActive)
}

func TestController_LiveSync(t *testing.T) {
	ctx := context.Background()
	setter := &fakeSetterInterpreter{}
	c, _, _ := newTestController(setter, Options{LiveSync: true})
	_, _ = c.ToggleBreakpoint(ctx, 4)
	require.NoError(t, c.StartDebug(ctx))
	c.OnDebugEvent(constants.DebugBreak, "", []*debugger.Frame{{Position: "p"}})

	added, err := c.ToggleBreakpoint(ctx, 2)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = c.ToggleBreakpoint(ctx, 4)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, [][]int{{2, 4}, {2}}, setter.lines)

	// 同步失败时撤销修改
	setter.setErr = errors.New("adapter gone")
	_, err = c.ToggleBreakpoint(ctx, 7)
	assert.Error(t, err)
	assert.Equal(t, []int{2}, c.Breakpoints().LineNumbers())
}

func TestDecorations(t *testing.T) {
	got := Decorations([]breakpoint.Breakpoint{
		{LineNumber: 9, Valid: true},
		{LineNumber: 2, Valid: false},
	}, 9)
	assert.Equal(t, []Decoration{
		{Line: 2, Class: constants.InvalidBreakpointDecoration},
		{Line: 9, Class: constants.BreakpointDecoration},
		{Line: 9, Class: constants.HighlightedLineDecoration},
	}, got)
	assert.Empty(t, Decorations(nil, 0))
}
