package dap_debugger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	e "github.com/fansqz/debug-playground/error"
	"github.com/fansqz/debug-playground/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// client 一个DAP连接，负责请求和响应的配对
// 响应和事件都在读协程中处理，事件回调中不能同步发送请求
type client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration

	seq       int64
	writeLock sync.Mutex

	lock    sync.Mutex
	pending map[int]chan dap.ResponseMessage

	onEvent func(event dap.EventMessage)

	// initialized 收到initialized事件以后关闭
	initialized     chan struct{}
	initializedOnce sync.Once
	closed          chan struct{}
	closeOnce       sync.Once
}

func newClient(conn net.Conn, timeout time.Duration) *client {
	return &client{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		timeout:     timeout,
		pending:     make(map[int]chan dap.ResponseMessage),
		initialized: make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

// start 开始读取adapter的消息
func (c *client) start(onEvent func(event dap.EventMessage)) {
	c.onEvent = onEvent
	gosync.Go(context.Background(), func(ctx context.Context) {
		c.readLoop()
	})
}

func (c *client) readLoop() {
	defer c.close()
	for {
		message, err := dap.ReadProtocolMessage(c.reader)
		if err != nil {
			var fieldErr *dap.DecodeProtocolMessageFieldError
			if errors.As(err, &fieldErr) {
				// 不认识的事件或者命令，跳过
				logrus.Debugf("[DAPClient] skip message, err = %v", err)
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logrus.Warnf("[DAPClient] read message fail, err = %v", err)
			}
			return
		}
		switch m := message.(type) {
		case dap.ResponseMessage:
			c.deliver(m)
		case dap.EventMessage:
			if _, ok := m.(*dap.InitializedEvent); ok {
				c.initializedOnce.Do(func() { close(c.initialized) })
			}
			if c.onEvent != nil {
				c.onEvent(m)
			}
		default:
			logrus.Debugf("[DAPClient] ignore message %T", message)
		}
	}
}

func (c *client) deliver(response dap.ResponseMessage) {
	seq := response.GetResponse().RequestSeq
	c.lock.Lock()
	ch, ok := c.pending[seq]
	delete(c.pending, seq)
	c.lock.Unlock()
	if !ok {
		logrus.Debugf("[DAPClient] no request waiting for seq %d", seq)
		return
	}
	ch <- response
}

// send 发送请求并等待响应，超过timeout返回ErrRequestTimeout
func (c *client) send(ctx context.Context, request dap.RequestMessage) (dap.ResponseMessage, error) {
	req := request.GetRequest()
	req.Seq = int(atomic.AddInt64(&c.seq, 1))
	req.Type = "request"

	ch := make(chan dap.ResponseMessage, 1)
	c.lock.Lock()
	c.pending[req.Seq] = ch
	c.lock.Unlock()
	defer func() {
		c.lock.Lock()
		delete(c.pending, req.Seq)
		c.lock.Unlock()
	}()

	c.writeLock.Lock()
	err := dap.WriteProtocolMessage(c.conn, request)
	c.writeLock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send %s request: %w", req.Command, err)
	}

	select {
	case response := <-ch:
		if !response.GetResponse().Success {
			return response, responseError(response)
		}
		return response, nil
	case <-time.After(c.timeout):
		logrus.Warnf("[DAPClient] %s request time out", req.Command)
		return nil, e.ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, e.ErrInterpreterClosed
	}
}

// waitInitialized 等待adapter发送initialized事件
func (c *client) waitInitialized(ctx context.Context) error {
	select {
	case <-c.initialized:
		return nil
	case <-time.After(c.timeout):
		return e.ErrRequestTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return e.ErrInterpreterClosed
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func responseError(response dap.ResponseMessage) error {
	if er, ok := response.(*dap.ErrorResponse); ok && er.Body.Error != nil && er.Body.Error.Format != "" {
		return errors.New(er.Body.Error.Format)
	}
	if message := response.GetResponse().Message; message != "" {
		return errors.New(message)
	}
	return fmt.Errorf("%s request fail", response.GetResponse().Command)
}

func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}
