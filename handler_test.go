package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fansqz/debug-playground/config"
	"github.com/fansqz/debug-playground/constants"
	. "github.com/fansqz/debug-playground/debugger"
	"github.com/fansqz/debug-playground/inspector"
	"github.com/fansqz/debug-playground/session"
	"github.com/fansqz/debug-playground/value"
	"github.com/maxatome/go-testdeep/td"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInterpreter 开始调试以后停在第一个断点，continue以后结束
type fakeInterpreter struct {
	lock   sync.Mutex
	sink   EventSink
	closed bool
}

func (f *fakeInterpreter) Run(ctx context.Context, code string) (string, error) {
	return "ran\n", nil
}

func (f *fakeInterpreter) StartDebug(ctx context.Context, code string, breakpoints []int, sink EventSink) error {
	f.lock.Lock()
	f.sink = sink
	f.lock.Unlock()
	updates := make([]*BreakpointUpdate, len(breakpoints))
	for i, line := range breakpoints {
		updates[i] = &BreakpointUpdate{LineNumber: line, Position: fmt.Sprintf("main.go:%d", line), Valid: true}
	}
	sink.ApplyBreakpointUpdate(updates)
	if len(breakpoints) == 0 {
		go sink.OnDebugEvent(constants.DebugTerminate, "", nil)
		return nil
	}
	frames := []*Frame{{
		Name:     "main",
		Position: fmt.Sprintf("main.go:%d", breakpoints[0]),
		Variables: []*Variable{
			{Name: "m", Type: "map[string][]int", Value: `{"x": [1, 2]}`},
		},
	}}
	go sink.OnDebugEvent(constants.DebugBreak, "", frames)
	return nil
}

func (f *fakeInterpreter) Continue(ctx context.Context) error {
	f.lock.Lock()
	sink := f.sink
	f.lock.Unlock()
	go sink.OnDebugEvent(constants.DebugTerminate, "1\n", nil)
	return nil
}

func (f *fakeInterpreter) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.closed = true
	return nil
}

func (f *fakeInterpreter) isClosed() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.closed
}

// wireMessage 响应和各种事件的并集
type wireMessage struct {
	Event       constants.EventType  `json:"event"`
	Sequence    uint                 `json:"sequence"`
	Success     bool                 `json:"success"`
	Message     string               `json:"message"`
	Data        json.RawMessage      `json:"data"`
	State       *session.UIState     `json:"state"`
	Decorations []session.Decoration `json:"decorations"`
	Text        string               `json:"text"`
	View        *inspector.View      `json:"view"`
}

type testClient struct {
	t        *testing.T
	handler  *DebuggerHandler
	encoder  *json.Encoder
	messages chan *wireMessage
	sequence uint
	events   []*wireMessage
	cursor   int
}

func newTestClient(t *testing.T, interpreter Interpreter) *testClient {
	server, client := net.Pipe()
	cfg := config.DefaultConfig()
	cfg.Inspector.FlashMillis = 0
	ctx, cancel := context.WithCancel(context.Background())
	handler := NewDebuggerHandler(ctx, server, interpreter, cfg)
	go handler.Serve(ctx)

	c := &testClient{
		t:        t,
		handler:  handler,
		encoder:  json.NewEncoder(client),
		messages: make(chan *wireMessage, 256),
	}
	go func() {
		defer close(c.messages)
		decoder := json.NewDecoder(client)
		for {
			message := &wireMessage{}
			if err := decoder.Decode(message); err != nil {
				return
			}
			c.messages <- message
		}
	}()
	t.Cleanup(func() {
		_ = client.Close()
		cancel()
	})
	return c
}

func (c *testClient) next() *wireMessage {
	select {
	case message, ok := <-c.messages:
		require.True(c.t, ok, "connection closed")
		return message
	case <-time.After(5 * time.Second):
		require.FailNow(c.t, "wait message time out")
		return nil
	}
}

// request 发送请求并等待对应的响应，期间收到的事件保存下来
func (c *testClient) request(fields map[string]interface{}) *wireMessage {
	c.sequence++
	fields["sequence"] = c.sequence
	require.NoError(c.t, c.encoder.Encode(fields))
	for {
		message := c.next()
		if message.Event != "" {
			c.events = append(c.events, message)
			continue
		}
		if message.Sequence == c.sequence {
			return message
		}
	}
}

// waitEvent 等待满足条件的事件，已经匹配过的事件不会再次匹配
func (c *testClient) waitEvent(match func(message *wireMessage) bool) *wireMessage {
	for {
		for ; c.cursor < len(c.events); c.cursor++ {
			if match(c.events[c.cursor]) {
				c.cursor++
				return c.events[c.cursor-1]
			}
		}
		message := c.next()
		if message.Event != "" {
			c.events = append(c.events, message)
		}
	}
}

func stateIs(state constants.SessionState) func(message *wireMessage) bool {
	return func(message *wireMessage) bool {
		return message.Event == constants.StateEvent && message.State != nil && message.State.State == state
	}
}

func eventIs(event constants.EventType) func(message *wireMessage) bool {
	return func(message *wireMessage) bool {
		return message.Event == event
	}
}

func decodeView(t *testing.T, message *wireMessage) *inspector.View {
	require.True(t, message.Success, message.Message)
	var view *inspector.View
	require.NoError(t, json.Unmarshal(message.Data, &view))
	return view
}

func TestHandler_DebugSession(t *testing.T) {
	interpreter := &fakeInterpreter{}
	c := newTestClient(t, interpreter)
	c.waitEvent(stateIs(constants.Idle))

	response := c.request(map[string]interface{}{"type": constants.ToggleBreakpoint, "line": 7})
	require.True(t, response.Success, response.Message)
	assert.JSONEq(t, `{"line": 7, "added": true}`, string(response.Data))
	decorations := c.waitEvent(eventIs(constants.DecorationsEvent))
	assert.Equal(t, []session.Decoration{{Line: 7, Class: constants.BreakpointDecoration}}, decorations.Decorations)

	response = c.request(map[string]interface{}{"type": constants.StartDebug, "code": "package main"})
	require.True(t, response.Success, response.Message)
	// 断点事件可能在startDebug返回之前到达，等待请求结束以后的状态
	paused := c.waitEvent(func(message *wireMessage) bool {
		return stateIs(constants.Paused)(message) && message.State.ContinueEnabled
	})
	td.Cmp(t, paused.State, td.Struct(&session.UIState{}, td.StructFields{
		"HighlightedLine": 7,
		"ContinueEnabled": true,
		"RunEnabled":      false,
		"ReadOnly":        true,
		"Variables":       td.Len(1),
	}))

	// 只读模式下不能修改断点
	response = c.request(map[string]interface{}{"type": constants.ToggleBreakpoint, "line": 3})
	assert.False(t, response.Success)
	assert.Equal(t, "debug session is active", response.Message)

	view := decodeView(t, c.request(map[string]interface{}{"type": constants.OpenVariable, "index": 0}))
	require.NotNil(t, view)
	assert.Equal(t, "m", view.Header)
	assert.Equal(t, value.Object, view.Kind)
	td.Cmp(t, view.Items, td.Smuggle(func(items []inspector.Item) []string {
		answer := make([]string, len(items))
		for i, item := range items {
			answer[i] = item.Title + " " + item.Path
		}
		return answer
	}, []string{`"x" ["x"]`}))

	view = decodeView(t, c.request(map[string]interface{}{"type": constants.SelectChild, "index": 0}))
	assert.Equal(t, `m["x"]`, view.Header)
	assert.Equal(t, value.List, view.Kind)
	assert.Len(t, view.Items, 2)

	// 叶子节点复制到剪贴板，视图不变
	view = decodeView(t, c.request(map[string]interface{}{"type": constants.SelectChild, "index": 1}))
	assert.Equal(t, `m["x"]`, view.Header)
	assert.Equal(t, "2", c.waitEvent(eventIs(constants.ClipboardEvent)).Text)
	assert.Equal(t, "Copied 2", c.waitEvent(eventIs(constants.StatusEvent)).Message)

	view = decodeView(t, c.request(map[string]interface{}{"type": constants.Dismiss}))
	assert.Equal(t, "m", view.Header)
	view = decodeView(t, c.request(map[string]interface{}{"type": constants.Dismiss}))
	assert.Nil(t, view)
	response = c.request(map[string]interface{}{"type": constants.Dismiss})
	assert.False(t, response.Success)
	assert.Equal(t, "no view to dismiss", response.Message)

	response = c.request(map[string]interface{}{"type": constants.GetState})
	require.True(t, response.Success)
	var state struct {
		State       session.UIState      `json:"state"`
		Decorations []session.Decoration `json:"decorations"`
	}
	require.NoError(t, json.Unmarshal(response.Data, &state))
	assert.Equal(t, constants.Paused, state.State.State)
	assert.Equal(t, []session.Decoration{
		{Line: 7, Class: constants.BreakpointDecoration},
		{Line: 7, Class: constants.HighlightedLineDecoration},
	}, state.Decorations)

	response = c.request(map[string]interface{}{"type": constants.Continue})
	require.True(t, response.Success, response.Message)
	idle := c.waitEvent(stateIs(constants.Idle))
	assert.Equal(t, "1\n", idle.State.Output)
	assert.False(t, idle.State.ReadOnly)
	assert.Equal(t, []session.Decoration{{Line: 7, Class: constants.BreakpointDecoration}}, c.handler.editor.Decorations())

	response = c.request(map[string]interface{}{"type": constants.Continue})
	assert.False(t, response.Success)
	assert.Equal(t, "must start debugging first", response.Message)
}

func TestHandler_Run(t *testing.T) {
	c := newTestClient(t, &fakeInterpreter{})

	response := c.request(map[string]interface{}{"type": constants.Run})
	assert.False(t, response.Success)
	assert.Equal(t, "no code provided", response.Message)

	response = c.request(map[string]interface{}{"type": constants.Run, "code": "package main"})
	require.True(t, response.Success, response.Message)
	assert.JSONEq(t, `{"output": "ran\n"}`, string(response.Data))

	response = c.request(map[string]interface{}{"type": "step"})
	assert.False(t, response.Success)
	assert.Equal(t, "request type not support", response.Message)

	response = c.request(map[string]interface{}{"type": constants.OpenVariable, "index": 0})
	assert.False(t, response.Success)
	assert.Equal(t, "index out of range", response.Message)
}

func TestHandler_CloseInterpreter(t *testing.T) {
	interpreter := &fakeInterpreter{}
	server, client := net.Pipe()
	handler := NewDebuggerHandler(context.Background(), server, interpreter, config.DefaultConfig())
	done := make(chan struct{})
	go func() {
		handler.Serve(context.Background())
		close(done)
	}()
	// 读掉连接建立时推送的状态
	go func() {
		_ = json.NewDecoder(client).Decode(&wireMessage{})
	}()
	require.NoError(t, client.Close())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "handler did not stop")
	}
	assert.True(t, interpreter.isClosed())
}
