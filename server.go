package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fansqz/debug-playground/constants"
	. "github.com/fansqz/debug-playground/debugger"
	"github.com/fansqz/debug-playground/debugger/dap_debugger"
	"github.com/fansqz/debug-playground/debugger/yaegi_debugger"
	e "github.com/fansqz/debug-playground/error"
	"github.com/fansqz/debug-playground/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// mainThreadID yaegi的调试事件不区分goroutine，对外只暴露一个线程
const mainThreadID = 1

// serveDAP 把yaegi解释器包装成debug adapter，每个连接一个调试会话
func serveDAP(ctx context.Context, listener net.Listener, runTimeout time.Duration) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logrus.Warnf("[DAPServer] accept fail, err = %v", err)
			continue
		}
		gosync.Go(ctx, func(ctx context.Context) {
			handleConnection(conn, runTimeout)
		})
	}
}

// handleConnection handles a connection from a single client.
// It reads and decodes the incoming data and dispatches it
// to the request handlers. Events produced by the interpreter
// are written from the interpreter's goroutine, so every write
// goes through DebugSession.send.
func handleConnection(conn net.Conn, runTimeout time.Duration) {
	logrus.Infof("[DAPServer] new connection from %s", conn.RemoteAddr())
	debugSession := &DebugSession{
		conn:     conn,
		rw:       bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		debugger: yaegi_debugger.NewYaegiDebugger(runTimeout),
		mainFile: "main.go",
	}

	for {
		err := debugSession.handleRequest()
		if err == nil {
			continue
		}
		var fieldErr *dap.DecodeProtocolMessageFieldError
		if errors.As(err, &fieldErr) {
			logrus.Warnf("[DAPServer] unsupported message, err = %v", err)
			debugSession.send(newErrorResponse(fieldErr.Seq, fieldErr.SubType,
				fmt.Sprintf("%s is not yet supported", fieldErr.SubType)))
			continue
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, errDisconnected) && !errors.Is(err, net.ErrClosed) {
			logrus.Warnf("[DAPServer] read request fail, err = %v", err)
		}
		break
	}

	logrus.Infof("[DAPServer] closing connection from %s", conn.RemoteAddr())
	_ = debugSession.debugger.Close()
	_ = conn.Close()
}

var errDisconnected = errors.New("client disconnected")

func (d *DebugSession) handleRequest() error {
	request, err := dap.ReadProtocolMessage(d.rw.Reader)
	if err != nil {
		return err
	}
	return d.dispatchRequest(request)
}

func (d *DebugSession) dispatchRequest(request dap.Message) error {
	switch request := request.(type) {
	case *dap.InitializeRequest:
		d.onInitializeRequest(request)
	case *dap.LaunchRequest:
		d.onLaunchRequest(request)
	case *dap.SetBreakpointsRequest:
		d.onSetBreakpointsRequest(request)
	case *dap.ConfigurationDoneRequest:
		d.onConfigurationDoneRequest(request)
	case *dap.ContinueRequest:
		d.onContinueRequest(request)
	case *dap.ThreadsRequest:
		d.onThreadsRequest(request)
	case *dap.StackTraceRequest:
		d.onStackTraceRequest(request)
	case *dap.ScopesRequest:
		d.onScopesRequest(request)
	case *dap.VariablesRequest:
		d.onVariablesRequest(request)
	case *dap.DisconnectRequest:
		d.onDisconnectRequest(request)
		return errDisconnected
	case dap.RequestMessage:
		req := request.GetRequest()
		d.send(newErrorResponse(req.Seq, req.Command, fmt.Sprintf("%s is not yet supported", req.Command)))
	default:
		logrus.Warnf("[DAPServer] unable to process %T", request)
	}
	return nil
}

// send Message响应给客户端，请求处理和解释器事件会并发调用
func (d *DebugSession) send(message dap.Message) {
	d.writeLock.Lock()
	defer d.writeLock.Unlock()
	if err := dap.WriteProtocolMessage(d.rw.Writer, message); err != nil {
		logrus.Warnf("[DAPServer] write message fail, err = %v", err)
		return
	}
	_ = d.rw.Flush()
}

// DebugSession 调试会话，同时作为yaegi解释器的EventSink
type DebugSession struct {
	conn net.Conn
	// rw is used to read requests and write events/responses
	rw        *bufio.ReadWriter
	writeLock sync.Mutex

	debugger *yaegi_debugger.YaegiDebugger
	mainFile string

	lock sync.Mutex
	// code launch请求中携带的用户代码
	code    string
	noDebug bool
	// breakpoints configurationDone之前设置的断点
	breakpoints []int
	started     bool
	// frames 最近一次暂停时的栈帧
	frames []*Frame
	// sentOutput 已经发送给客户端的输出长度
	sentOutput int
	// capturing 为true时断点解析结果放在setBreakpoints的响应中返回
	capturing bool
	updates   []*BreakpointUpdate
}

// -----------------------------------------------------------------------
// Request Handlers

func (d *DebugSession) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportTerminateDebuggee = true
	response.Body.ExceptionBreakpointFilters = []dap.ExceptionBreakpointsFilter{}
	// Notify the client with an 'initialized' event. The client will end
	// the configuration sequence with 'configurationDone' request.
	d.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	d.send(response)
}

func (d *DebugSession) onLaunchRequest(request *dap.LaunchRequest) {
	var arguments dap_debugger.LaunchArguments
	if err := json.Unmarshal(request.Arguments, &arguments); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, fmt.Sprintf("invalid launch arguments: %v", err)))
		return
	}
	if arguments.Language != "" && arguments.Language != constants.LanguageGo {
		d.send(newErrorResponse(request.Seq, request.Command, e.ErrLanguageNotSupported.Error()))
		return
	}
	if arguments.Code == "" {
		d.send(newErrorResponse(request.Seq, request.Command, e.ErrNoCode.Error()))
		return
	}
	d.lock.Lock()
	d.code = arguments.Code
	d.noDebug = arguments.NoDebug
	if arguments.Program != "" {
		d.mainFile = arguments.Program
	}
	d.lock.Unlock()
	logrus.Infof("[DAPServer] launch %s, noDebug = %v", arguments.Program, arguments.NoDebug)
	d.send(&dap.LaunchResponse{Response: *newResponse(request.Seq, request.Command)})
}

func (d *DebugSession) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	lines := make([]int, len(request.Arguments.Breakpoints))
	for i, bp := range request.Arguments.Breakpoints {
		lines[i] = bp.Line
	}
	response := &dap.SetBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)

	d.lock.Lock()
	if !d.started {
		// 程序还没有编译，先记录下来，configurationDone以后通过breakpoint事件返回解析结果
		d.breakpoints = lines
		d.lock.Unlock()
		response.Body.Breakpoints = make([]dap.Breakpoint, len(lines))
		for i, line := range lines {
			response.Body.Breakpoints[i] = d.newBreakpoint(i, &BreakpointUpdate{LineNumber: line, Valid: true})
		}
		d.send(response)
		return
	}
	d.capturing = true
	d.updates = nil
	d.lock.Unlock()

	err := d.debugger.SetBreakpoints(context.Background(), lines)

	d.lock.Lock()
	d.capturing = false
	updates := d.updates
	d.lock.Unlock()
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(updates))
	for i, update := range updates {
		response.Body.Breakpoints[i] = d.newBreakpoint(i, update)
	}
	d.send(response)
}

func (d *DebugSession) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	d.lock.Lock()
	code, noDebug, breakpoints := d.code, d.noDebug, d.breakpoints
	d.lock.Unlock()
	if code == "" {
		d.send(newErrorResponse(request.Seq, request.Command, e.ErrNoCode.Error()))
		return
	}

	if noDebug {
		d.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Seq, request.Command)})
		gosync.Go(context.Background(), func(ctx context.Context) {
			output, err := d.debugger.Run(ctx, code)
			d.sendOutput("stdout", output)
			if err != nil {
				d.sendOutput("stderr", err.Error()+"\n")
			}
			d.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
		})
		return
	}

	d.lock.Lock()
	d.started = true
	d.sentOutput = 0
	d.lock.Unlock()
	if err := d.debugger.StartDebug(context.Background(), code, breakpoints, d); err != nil {
		d.lock.Lock()
		d.started = false
		d.lock.Unlock()
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	d.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Seq, request.Command)})
}

func (d *DebugSession) onContinueRequest(request *dap.ContinueRequest) {
	if err := d.debugger.Continue(context.Background()); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.ContinueResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.AllThreadsContinued = true
	d.send(response)
}

func (d *DebugSession) onThreadsRequest(request *dap.ThreadsRequest) {
	response := &dap.ThreadsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Threads = []dap.Thread{{Id: mainThreadID, Name: "main"}}
	d.send(response)
}

func (d *DebugSession) onStackTraceRequest(request *dap.StackTraceRequest) {
	d.lock.Lock()
	frames := d.frames
	mainFile := d.mainFile
	d.lock.Unlock()

	stackFrames := make([]dap.StackFrame, 0, len(frames))
	for i, frame := range frames {
		if i < request.Arguments.StartFrame {
			continue
		}
		if request.Arguments.Levels > 0 && len(stackFrames) >= request.Arguments.Levels {
			break
		}
		stackFrames = append(stackFrames, dap.StackFrame{
			Id:     i + 1,
			Name:   frame.Name,
			Line:   positionLine(frame.Position),
			Source: &dap.Source{Name: mainFile, Path: mainFile},
		})
	}
	response := &dap.StackTraceResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.StackTraceResponseBody{
		StackFrames: stackFrames,
		TotalFrames: len(frames),
	}
	d.send(response)
}

func (d *DebugSession) onScopesRequest(request *dap.ScopesRequest) {
	if d.frame(request.Arguments.FrameId) == nil {
		d.send(newErrorResponse(request.Seq, request.Command, fmt.Sprintf("frame %d not found", request.Arguments.FrameId)))
		return
	}
	response := &dap.ScopesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.ScopesResponseBody{
		Scopes: []dap.Scope{{
			Name:               "Locals",
			PresentationHint:   "locals",
			VariablesReference: request.Arguments.FrameId,
		}},
	}
	d.send(response)
}

// onVariablesRequest 变量引用就是栈帧id，复合值已经在解释器中格式化，不再展开
func (d *DebugSession) onVariablesRequest(request *dap.VariablesRequest) {
	frame := d.frame(request.Arguments.VariablesReference)
	if frame == nil {
		d.send(newErrorResponse(request.Seq, request.Command,
			fmt.Sprintf("variables reference %d not found", request.Arguments.VariablesReference)))
		return
	}
	variables := make([]dap.Variable, len(frame.Variables))
	for i, v := range frame.Variables {
		variables[i] = dap.Variable{Name: v.Name, Value: v.Value, Type: v.Type}
	}
	response := &dap.VariablesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.VariablesResponseBody{
		Variables: variables,
	}
	d.send(response)
}

func (d *DebugSession) onDisconnectRequest(request *dap.DisconnectRequest) {
	_ = d.debugger.Close()
	d.send(&dap.DisconnectResponse{Response: *newResponse(request.Seq, request.Command)})
}

// -----------------------------------------------------------------------
// EventSink

// OnDebugEvent 在用户程序的goroutine中执行
func (d *DebugSession) OnDebugEvent(reason constants.DebugEventReason, stdout string, frames []*Frame) {
	d.lock.Lock()
	delta := ""
	if len(stdout) > d.sentOutput {
		delta = stdout[d.sentOutput:]
		d.sentOutput = len(stdout)
	}
	switch reason {
	case constants.DebugBreak:
		d.frames = frames
	case constants.DebugTerminate:
		d.frames = nil
		d.started = false
	}
	d.lock.Unlock()

	d.sendOutput("stdout", delta)
	switch reason {
	case constants.DebugBreak:
		event := &dap.StoppedEvent{Event: *newEvent("stopped")}
		event.Body.Reason = "breakpoint"
		event.Body.ThreadId = mainThreadID
		event.Body.AllThreadsStopped = true
		d.send(event)
	case constants.DebugTerminate:
		d.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
	default:
		logrus.Debugf("[DAPServer] ignore debug event %s", reason)
	}
}

// ApplyBreakpointUpdate 开始调试时通过breakpoint事件推送，setBreakpoints请求中直接放进响应
func (d *DebugSession) ApplyBreakpointUpdate(updates []*BreakpointUpdate) {
	d.lock.Lock()
	if d.capturing {
		d.updates = updates
		d.lock.Unlock()
		return
	}
	d.lock.Unlock()
	for i, update := range updates {
		event := &dap.BreakpointEvent{Event: *newEvent("breakpoint")}
		event.Body.Reason = "changed"
		event.Body.Breakpoint = d.newBreakpoint(i, update)
		d.send(event)
	}
}

// newBreakpoint 断点id是断点在请求中的下标加一，有效的断点使用解释器解析以后的行号
func (d *DebugSession) newBreakpoint(index int, update *BreakpointUpdate) dap.Breakpoint {
	d.lock.Lock()
	mainFile := d.mainFile
	d.lock.Unlock()
	line := update.LineNumber
	if update.Valid && update.Position != "" {
		if resolved := positionLine(update.Position); resolved > 0 {
			line = resolved
		}
	}
	return dap.Breakpoint{
		Id:       index + 1,
		Verified: update.Valid,
		Line:     line,
		Source:   &dap.Source{Name: mainFile, Path: mainFile},
	}
}

func (d *DebugSession) frame(id int) *Frame {
	d.lock.Lock()
	defer d.lock.Unlock()
	if id < 1 || id > len(d.frames) {
		return nil
	}
	return d.frames[id-1]
}

func (d *DebugSession) sendOutput(category string, output string) {
	if output == "" {
		return
	}
	event := &dap.OutputEvent{Event: *newEvent("output")}
	event.Body.Category = category
	event.Body.Output = output
	d.send(event)
}

// positionLine 从 file:line:col、line:col 或 file:line 形式的位置中取出行号
func positionLine(position string) int {
	parts := strings.Split(position, ":")
	if len(parts) >= 2 {
		if _, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			if line, err := strconv.Atoi(parts[len(parts)-2]); err == nil {
				return line
			}
		}
	}
	line, _ := strconv.Atoi(parts[len(parts)-1])
	return line
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func newErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(requestSeq, command)
	er.Success = false
	er.Message = message
	er.Body.Error = &dap.ErrorMessage{}
	er.Body.Error.Format = message
	er.Body.Error.Id = 12345
	return er
}
