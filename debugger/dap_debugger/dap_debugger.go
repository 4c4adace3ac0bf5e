package dap_debugger

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fansqz/debug-playground/constants"
	. "github.com/fansqz/debug-playground/debugger"
	e "github.com/fansqz/debug-playground/error"
	"github.com/fansqz/debug-playground/utils"
	"github.com/fansqz/debug-playground/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// maxStackFrames 每次暂停最多获取的栈帧数量
const maxStackFrames = 20

type Options struct {
	// Address adapter监听的地址
	Address  string
	Language constants.LanguageType
	// RequestTimeout 单个请求的超时时间
	RequestTimeout time.Duration
	// RunTimeout 直接运行时等待程序结束的时间
	RunTimeout time.Duration
}

// LaunchArguments launch请求的参数，代码直接传给adapter
type LaunchArguments struct {
	Program  string                 `json:"program"`
	Code     string                 `json:"code"`
	Language constants.LanguageType `json:"language"`
	NoDebug  bool                   `json:"noDebug"`
}

// DAPDebugger 通过Debug Adapter Protocol驱动外部的调试器
type DAPDebugger struct {
	options  Options
	mainFile string

	// statusManager 调试的状态管理
	statusManager *utils.StatusManager

	lock     sync.Mutex
	session  *dapSession
	starting bool
}

func NewDAPDebugger(options Options) (*DAPDebugger, error) {
	mainFile, err := constants.MainFileName(options.Language)
	if err != nil {
		return nil, err
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = 5 * time.Second
	}
	return &DAPDebugger{
		options:       options,
		mainFile:      mainFile,
		statusManager: utils.NewStatusManager(),
	}, nil
}

// Run 以noDebug模式启动程序，等待程序结束并返回输出
func (d *DAPDebugger) Run(ctx context.Context, code string) (string, error) {
	logrus.Infof("[DAPDebugger] Run")
	if code == "" {
		return "", e.ErrNoCode
	}
	d.lock.Lock()
	if d.session != nil || d.starting {
		d.lock.Unlock()
		return "", e.ErrRunWhileDebugging
	}
	d.lock.Unlock()

	if d.options.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.options.RunTimeout)
		defer cancel()
	}
	s, err := d.connect(ctx, nil)
	if err != nil {
		return "", err
	}
	defer s.disconnect()

	if err = s.launch(ctx, code, true); err != nil {
		return s.stdout.String(), err
	}
	if err = s.configurationDone(ctx); err != nil {
		return s.stdout.String(), err
	}
	select {
	case <-s.done:
		return s.stdout.String(), nil
	case <-ctx.Done():
		return s.stdout.String(), ctx.Err()
	case <-s.client.closed:
		return s.stdout.String(), e.ErrInterpreterClosed
	}
}

// StartDebug initialize -> launch -> setBreakpoints -> configurationDone
func (d *DAPDebugger) StartDebug(ctx context.Context, code string, breakpoints []int, sink EventSink) error {
	logrus.Infof("[DAPDebugger] StartDebug, breakpoints = %v", breakpoints)
	if code == "" {
		return e.ErrNoCode
	}
	d.lock.Lock()
	if d.session != nil || d.starting {
		d.lock.Unlock()
		return e.ErrAlreadyDebugging
	}
	d.starting = true
	d.lock.Unlock()

	// 连接过程中不持有锁，读协程处理事件时也需要加锁
	s, err := d.connect(ctx, sink)
	d.lock.Lock()
	d.starting = false
	if err == nil {
		d.session = s
	}
	d.lock.Unlock()
	if err != nil {
		return err
	}

	fail := func(err error) error {
		logrus.Errorf("[DAPDebugger] start debug fail, err = %v", err)
		d.endSession(s)
		s.disconnect()
		return err
	}
	if err = s.launch(ctx, code, false); err != nil {
		return fail(err)
	}
	updates, err := s.setBreakpoints(ctx, breakpoints)
	if err != nil {
		return fail(err)
	}
	sink.ApplyBreakpointUpdate(updates)
	if err = s.configurationDone(ctx); err != nil {
		return fail(err)
	}
	d.statusManager.Set(utils.Running)
	return nil
}

// Continue 继续执行
func (d *DAPDebugger) Continue(ctx context.Context) error {
	logrus.Infof("[DAPDebugger] Continue")
	s := d.current()
	if s == nil {
		return e.ErrNotDebugging
	}
	_, err := s.client.send(ctx, &dap.ContinueRequest{
		Request:   newRequest("continue"),
		Arguments: dap.ContinueArguments{ThreadId: s.threadID()},
	})
	if err == nil {
		d.statusManager.Set(utils.Running)
	}
	return err
}

// SetBreakpoints 在调试过程中替换全部断点
func (d *DAPDebugger) SetBreakpoints(ctx context.Context, breakpoints []int) error {
	logrus.Infof("[DAPDebugger] SetBreakpoints, breakpoints = %v", breakpoints)
	s := d.current()
	if s == nil {
		return e.ErrNotDebugging
	}
	updates, err := s.setBreakpoints(ctx, breakpoints)
	if err != nil {
		return err
	}
	s.sink.ApplyBreakpointUpdate(updates)
	return nil
}

// Close 结束当前的调试会话
func (d *DAPDebugger) Close() error {
	s := d.current()
	if s == nil {
		return nil
	}
	d.endSession(s)
	s.disconnect()
	return nil
}

func (d *DAPDebugger) current() *dapSession {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.session
}

func (d *DAPDebugger) endSession(s *dapSession) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.session == s {
		d.session = nil
		d.statusManager.Set(utils.Finish)
	}
}

// connect 连接adapter并完成initialize请求
func (d *DAPDebugger) connect(ctx context.Context, sink EventSink) (*dapSession, error) {
	dialer := net.Dialer{Timeout: d.options.RequestTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.options.Address)
	if err != nil {
		logrus.Errorf("[DAPDebugger] dial %s fail, err = %v", d.options.Address, err)
		return nil, fmt.Errorf("connect to debug adapter: %w", err)
	}
	s := &dapSession{
		debugger: d,
		client:   newClient(conn, d.options.RequestTimeout),
		sink:     sink,
		stdout:   &outputBuffer{},
		done:     make(chan struct{}),
	}
	s.client.start(s.onEvent)

	_, err = s.client.send(ctx, &dap.InitializeRequest{
		Request: newRequest("initialize"),
		Arguments: dap.InitializeRequestArguments{
			ClientID:        "debug-playground",
			AdapterID:       string(d.options.Language),
			PathFormat:      "path",
			LinesStartAt1:   true,
			ColumnsStartAt1: true,
		},
	})
	if err != nil {
		s.client.close()
		return nil, err
	}
	return s, nil
}

// dapSession 一次运行或调试
type dapSession struct {
	debugger *DAPDebugger
	client   *client
	// sink 为空表示直接运行
	sink   EventSink
	stdout *outputBuffer
	// thread 最近一次暂停的线程
	thread int64

	lock sync.Mutex
	// breakpointLines 断点id到用户设置的行号
	breakpointLines map[int]int

	done     chan struct{}
	doneOnce sync.Once
}

func (s *dapSession) launch(ctx context.Context, code string, noDebug bool) error {
	arguments, err := json.Marshal(&LaunchArguments{
		Program:  s.debugger.mainFile,
		Code:     code,
		Language: s.debugger.options.Language,
		NoDebug:  noDebug,
	})
	if err != nil {
		return err
	}
	if _, err = s.client.send(ctx, &dap.LaunchRequest{
		Request:   newRequest("launch"),
		Arguments: arguments,
	}); err != nil {
		return err
	}
	return s.client.waitInitialized(ctx)
}

func (s *dapSession) setBreakpoints(ctx context.Context, lines []int) ([]*BreakpointUpdate, error) {
	mainFile := s.debugger.mainFile
	sourceBreakpoints := make([]dap.SourceBreakpoint, len(lines))
	for i, line := range lines {
		sourceBreakpoints[i] = dap.SourceBreakpoint{Line: line}
	}
	response, err := s.client.send(ctx, &dap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Name: mainFile, Path: mainFile},
			Breakpoints: sourceBreakpoints,
		},
	})
	if err != nil {
		return nil, err
	}
	resp, ok := response.(*dap.SetBreakpointsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected setBreakpoints response %T", response)
	}
	updates := make([]*BreakpointUpdate, len(lines))
	breakpointLines := make(map[int]int, len(lines))
	for i, line := range lines {
		updates[i] = &BreakpointUpdate{LineNumber: line}
		if i >= len(resp.Body.Breakpoints) {
			continue
		}
		bp := resp.Body.Breakpoints[i]
		if bp.Id != 0 {
			breakpointLines[bp.Id] = line
		}
		updates[i].Valid = bp.Verified
		if bp.Verified {
			updates[i].Position = s.position(bp.Source, bp.Line)
		}
	}
	s.lock.Lock()
	s.breakpointLines = breakpointLines
	s.lock.Unlock()
	return updates, nil
}

func (s *dapSession) configurationDone(ctx context.Context) error {
	_, err := s.client.send(ctx, &dap.ConfigurationDoneRequest{
		Request: newRequest("configurationDone"),
	})
	return err
}

// onEvent 在读协程中执行，需要发送请求时另起协程
func (s *dapSession) onEvent(event dap.EventMessage) {
	switch ev := event.(type) {
	case *dap.OutputEvent:
		if ev.Body.Category != "telemetry" {
			_, _ = s.stdout.Write([]byte(ev.Body.Output))
		}
	case *dap.StoppedEvent:
		atomic.StoreInt64(&s.thread, int64(ev.Body.ThreadId))
		reason := stoppedReason(ev.Body.Reason)
		s.debugger.statusManager.Set(utils.Stopped)
		if reason != constants.DebugBreak {
			s.emit(reason, nil)
			return
		}
		gosync.Go(context.Background(), func(ctx context.Context) {
			frames, err := s.frames(ctx)
			if err != nil {
				logrus.Errorf("[DAPDebugger] get frames fail, err = %v", err)
			}
			s.emit(constants.DebugBreak, frames)
		})
	case *dap.ContinuedEvent:
		s.emit(constants.DebugRun, nil)
	case *dap.BreakpointEvent:
		// adapter解析断点以后可能调整行号，用id找到用户设置的行
		bp := ev.Body.Breakpoint
		s.lock.Lock()
		line, ok := s.breakpointLines[bp.Id]
		s.lock.Unlock()
		if !ok {
			line = bp.Line
		}
		if s.sink != nil && line > 0 {
			update := &BreakpointUpdate{LineNumber: line, Valid: bp.Verified}
			if bp.Verified {
				update.Position = s.position(bp.Source, bp.Line)
			}
			s.sink.ApplyBreakpointUpdate([]*BreakpointUpdate{update})
		}
	case *dap.TerminatedEvent, *dap.ExitedEvent:
		s.finish()
	default:
		logrus.Debugf("[DAPDebugger] ignore event %s", event.GetEvent().Event)
	}
}

// finish 程序结束，terminated和exited事件只处理一次
func (s *dapSession) finish() {
	s.doneOnce.Do(func() {
		close(s.done)
		if s.sink == nil {
			return
		}
		s.debugger.endSession(s)
		s.emit(constants.DebugTerminate, nil)
		gosync.Go(context.Background(), func(ctx context.Context) {
			s.disconnect()
		})
	})
}

func (s *dapSession) emit(reason constants.DebugEventReason, frames []*Frame) {
	if s.sink != nil {
		s.sink.OnDebugEvent(reason, s.stdout.String(), frames)
	}
}

// frames 获取当前线程的栈帧以及每个栈帧的局部变量
func (s *dapSession) frames(ctx context.Context) ([]*Frame, error) {
	response, err := s.client.send(ctx, &dap.StackTraceRequest{
		Request:   newRequest("stackTrace"),
		Arguments: dap.StackTraceArguments{ThreadId: s.threadID(), Levels: maxStackFrames},
	})
	if err != nil {
		return nil, err
	}
	stackTrace, ok := response.(*dap.StackTraceResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected stackTrace response %T", response)
	}
	frames := make([]*Frame, 0, len(stackTrace.Body.StackFrames))
	for _, sf := range stackTrace.Body.StackFrames {
		variables, err := s.variables(ctx, sf.Id)
		if err != nil {
			return frames, err
		}
		frames = append(frames, &Frame{
			Name:      sf.Name,
			Position:  s.position(sf.Source, sf.Line),
			Variables: variables,
		})
	}
	return frames, nil
}

// variables 获取栈帧第一个作用域中的变量
func (s *dapSession) variables(ctx context.Context, frameID int) ([]*Variable, error) {
	response, err := s.client.send(ctx, &dap.ScopesRequest{
		Request:   newRequest("scopes"),
		Arguments: dap.ScopesArguments{FrameId: frameID},
	})
	if err != nil {
		return nil, err
	}
	scopes, ok := response.(*dap.ScopesResponse)
	if !ok || len(scopes.Body.Scopes) == 0 || scopes.Body.Scopes[0].VariablesReference == 0 {
		return []*Variable{}, nil
	}
	response, err = s.client.send(ctx, &dap.VariablesRequest{
		Request:   newRequest("variables"),
		Arguments: dap.VariablesArguments{VariablesReference: scopes.Body.Scopes[0].VariablesReference},
	})
	if err != nil {
		return nil, err
	}
	vars, ok := response.(*dap.VariablesResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected variables response %T", response)
	}
	answer := make([]*Variable, len(vars.Body.Variables))
	for i, v := range vars.Body.Variables {
		answer[i] = &Variable{Name: v.Name, Type: v.Type, Value: v.Value}
	}
	return answer, nil
}

// disconnect 结束程序并关闭连接
func (s *dapSession) disconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.timeout)
	defer cancel()
	_, err := s.client.send(ctx, &dap.DisconnectRequest{
		Request:   newRequest("disconnect"),
		Arguments: &dap.DisconnectArguments{TerminateDebuggee: true},
	})
	if err != nil {
		logrus.Debugf("[DAPDebugger] disconnect, err = %v", err)
	}
	s.client.close()
}

func (s *dapSession) threadID() int {
	return int(atomic.LoadInt64(&s.thread))
}

// position 断点和栈帧的位置统一为 文件名:行号
func (s *dapSession) position(source *dap.Source, line int) string {
	name := s.debugger.mainFile
	if source != nil {
		if source.Path != "" {
			name = path.Base(source.Path)
		} else if source.Name != "" {
			name = source.Name
		}
	}
	return fmt.Sprintf("%s:%d", name, line)
}

func stoppedReason(reason string) constants.DebugEventReason {
	switch reason {
	case "breakpoint", "function breakpoint", "data breakpoint":
		return constants.DebugBreak
	case "step":
		return constants.DebugStepOver
	case "pause":
		return constants.DebugPause
	case "entry":
		return constants.DebugEntry
	default:
		return constants.DebugBreak
	}
}

// outputBuffer 程序输出
type outputBuffer struct {
	lock sync.Mutex
	buf  strings.Builder
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
