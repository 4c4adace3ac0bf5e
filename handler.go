package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/fansqz/debug-playground/config"
	"github.com/fansqz/debug-playground/constants"
	. "github.com/fansqz/debug-playground/debugger"
	"github.com/fansqz/debug-playground/inspector"
	"github.com/fansqz/debug-playground/metrics"
	"github.com/fansqz/debug-playground/protocol"
	"github.com/fansqz/debug-playground/session"
	"github.com/fansqz/debug-playground/utils"
	"github.com/fansqz/debug-playground/utils/gosync"
	"github.com/sirupsen/logrus"
)

// sendQueueSize 待发送消息的缓冲，事件在controller的锁中产生，不能直接写连接
const sendQueueSize = 64

// DebuggerHandler 一个前端连接，每个连接一个调试会话
type DebuggerHandler struct {
	id          string
	conn        net.Conn
	interpreter Interpreter
	controller  *session.Controller
	editor      *remoteEditor
	status      *remoteStatus
	log         *logrus.Entry

	// sendQueue 响应和事件都从这里经过同一个goroutine写入连接，保证顺序
	sendQueue chan interface{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewDebuggerHandler(ctx context.Context, conn net.Conn, interpreter Interpreter, cfg config.Config) *DebuggerHandler {
	d := &DebuggerHandler{
		id:          utils.GetUUID(),
		conn:        conn,
		interpreter: interpreter,
		sendQueue:   make(chan interface{}, sendQueueSize),
		done:        make(chan struct{}),
	}
	d.log = logrus.WithField("connection", d.id)
	d.editor = newRemoteEditor(d)
	d.status = newRemoteStatus(ctx, d, cfg.FlashDuration())
	d.controller = session.NewController(
		interpreter,
		d.editor,
		inspector.NewInspector(&remoteClipboard{sender: d}, d.status),
		func(state *session.UIState) {
			d.send(&protocol.StateEvent{Event: constants.StateEvent, State: state})
		},
		session.Options{LiveSync: cfg.Breakpoints.LiveSync},
	)
	return d
}

// Serve 读取请求直到连接关闭
func (d *DebuggerHandler) Serve(ctx context.Context) {
	d.log.Infof("[Handler] new connection from %s", d.conn.RemoteAddr())
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()
	defer d.close()

	gosync.Go(ctx, func(ctx context.Context) {
		d.sendFromQueue()
	})
	d.send(&protocol.StateEvent{Event: constants.StateEvent, State: d.controller.State()})

	decoder := json.NewDecoder(d.conn)
	for {
		var req json.RawMessage
		if err := decoder.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				d.log.Warnf("[Handler] read request fail, err = %v", err)
				d.sendResponse(0, false, err.Error(), nil)
			}
			return
		}
		d.handle(ctx, req)
	}
}

func (d *DebuggerHandler) handle(ctx context.Context, req []byte) {
	r := protocol.BaseRequest{}
	// 判断请求类型
	if err := json.Unmarshal(req, &r); err != nil {
		d.log.Warnf("parse request error, err = %v", err)
		d.sendResponse(0, false, err.Error(), nil)
		return
	}
	switch r.Type {
	case constants.ToggleBreakpoint:
		d.handleToggleBreakpointRequest(ctx, req)
	case constants.Run:
		d.handleRunRequest(ctx, req)
	case constants.StartDebug:
		d.handleStartDebugRequest(ctx, req)
	case constants.Continue:
		d.handleContinueRequest(ctx, req)
	case constants.OpenVariable:
		d.handleOpenVariableRequest(req)
	case constants.SelectChild:
		d.handleSelectChildRequest(req)
	case constants.Dismiss:
		d.handleDismissRequest(req)
	case constants.GetState:
		d.handleGetStateRequest(r)
	default:
		d.sendResponse(r.Sequence, false, "request type not support", nil)
	}
}

func (d *DebuggerHandler) handleToggleBreakpointRequest(ctx context.Context, reqData []byte) {
	req := protocol.ToggleBreakpointRequest{}
	if !d.parse(reqData, &req, &req.BaseRequest) {
		return
	}
	added, err := d.controller.ToggleBreakpoint(ctx, req.Line)
	if err != nil {
		d.sendResponse(req.Sequence, false, err.Error(), nil)
		return
	}
	d.sendResponse(req.Sequence, true, "", &protocol.ToggleBreakpointData{Line: req.Line, Added: added})
}

func (d *DebuggerHandler) handleRunRequest(ctx context.Context, reqData []byte) {
	req := protocol.RunRequest{}
	if !d.parse(reqData, &req, &req.BaseRequest) {
		return
	}
	if req.Code != "" {
		d.editor.SetText(req.Code)
	}
	output, err := d.controller.Run(ctx)
	if err != nil {
		d.sendResponse(req.Sequence, false, err.Error(), &protocol.RunData{Output: output})
		return
	}
	d.sendResponse(req.Sequence, true, "", &protocol.RunData{Output: output})
}

func (d *DebuggerHandler) handleStartDebugRequest(ctx context.Context, reqData []byte) {
	req := protocol.StartDebugRequest{}
	if !d.parse(reqData, &req, &req.BaseRequest) {
		return
	}
	if req.Code != "" {
		d.editor.SetText(req.Code)
	}
	if err := d.controller.StartDebug(ctx); err != nil {
		d.sendResponse(req.Sequence, false, err.Error(), nil)
		return
	}
	d.sendResponse(req.Sequence, true, "", nil)
}

func (d *DebuggerHandler) handleContinueRequest(ctx context.Context, reqData []byte) {
	req := protocol.ContinueRequest{}
	if !d.parse(reqData, &req, &req.BaseRequest) {
		return
	}
	if err := d.controller.Continue(ctx); err != nil {
		d.sendResponse(req.Sequence, false, err.Error(), nil)
		return
	}
	d.sendResponse(req.Sequence, true, "", nil)
}

func (d *DebuggerHandler) handleOpenVariableRequest(reqData []byte) {
	req := protocol.OpenVariableRequest{}
	if !d.parse(reqData, &req, &req.BaseRequest) {
		return
	}
	view, err := d.controller.Inspector().Open(req.Index)
	d.sendView(req.Sequence, view, err)
}

func (d *DebuggerHandler) handleSelectChildRequest(reqData []byte) {
	req := protocol.SelectChildRequest{}
	if !d.parse(reqData, &req, &req.BaseRequest) {
		return
	}
	view, err := d.controller.Inspector().Select(req.Index)
	d.sendView(req.Sequence, view, err)
}

func (d *DebuggerHandler) handleDismissRequest(reqData []byte) {
	req := protocol.DismissRequest{}
	if !d.parse(reqData, &req, &req.BaseRequest) {
		return
	}
	view, err := d.controller.Inspector().Dismiss()
	d.sendView(req.Sequence, view, err)
}

func (d *DebuggerHandler) handleGetStateRequest(req protocol.BaseRequest) {
	d.sendResponse(req.Sequence, true, "", &protocol.StateData{
		State:       d.controller.State(),
		Decorations: d.controller.Decorations(),
		View:        d.controller.Inspector().Current(),
	})
}

// sendView 视图变化同时以事件推送，view为空表示回到变量表
func (d *DebuggerHandler) sendView(sequence uint, view *inspector.View, err error) {
	if err != nil {
		d.sendResponse(sequence, false, err.Error(), nil)
		return
	}
	d.send(&protocol.ViewEvent{Event: constants.ViewEvent, View: view})
	d.sendResponse(sequence, true, "", view)
}

// parse 解析失败时直接返回失败的响应
func (d *DebuggerHandler) parse(reqData []byte, req interface{}, base *protocol.BaseRequest) bool {
	if err := json.Unmarshal(reqData, req); err != nil {
		d.log.Warnf("parse request error, err = %v", err)
		d.sendResponse(base.Sequence, false, err.Error(), nil)
		return false
	}
	return true
}

func (d *DebuggerHandler) sendResponse(sequence uint, success bool, message string, body interface{}) {
	response := &protocol.Response{
		Sequence: sequence,
		Success:  success,
		Message:  message,
		Data:     body,
	}
	d.send(response)
}

// send 放入发送队列，连接关闭以后丢弃
func (d *DebuggerHandler) send(message interface{}) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.sendQueue <- message:
		return true
	case <-d.done:
		return false
	}
}

func (d *DebuggerHandler) sendFromQueue() {
	encoder := json.NewEncoder(d.conn)
	for {
		select {
		case message := <-d.sendQueue:
			if err := encoder.Encode(message); err != nil {
				d.log.Warnf("[Handler] write message fail, err = %v", err)
				d.close()
				return
			}
		case <-d.done:
			return
		}
	}
}

func (d *DebuggerHandler) close() {
	d.closeOnce.Do(func() {
		d.log.Infof("[Handler] closing connection from %s", d.conn.RemoteAddr())
		close(d.done)
		d.status.Close()
		if closer, ok := d.interpreter.(io.Closer); ok {
			_ = closer.Close()
		}
		_ = d.conn.Close()
	})
}
