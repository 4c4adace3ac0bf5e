package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fansqz/debug-playground/constants"
	"github.com/fansqz/debug-playground/protocol"
	"github.com/fansqz/debug-playground/session"
	"github.com/fansqz/debug-playground/utils"
)

var errConnectionClosed = errors.New("connection closed")

// eventSender 把消息发送给前端，返回false表示连接已经关闭
type eventSender interface {
	send(message interface{}) bool
}

// remoteEditor 前端编辑器在服务端的影子，代码由run/startDebug请求带上来
type remoteEditor struct {
	sender eventSender

	lock        sync.Mutex
	text        string
	readOnly    bool
	decorations []session.Decoration
}

func newRemoteEditor(sender eventSender) *remoteEditor {
	return &remoteEditor{sender: sender}
}

func (r *remoteEditor) Text() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.text
}

func (r *remoteEditor) SetText(text string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.text = text
}

func (r *remoteEditor) SetReadOnly(readOnly bool) {
	r.lock.Lock()
	r.readOnly = readOnly
	event := r.event()
	r.lock.Unlock()
	r.sender.send(event)
}

func (r *remoteEditor) SetDecorations(decorations []session.Decoration) {
	r.lock.Lock()
	r.decorations = decorations
	event := r.event()
	r.lock.Unlock()
	r.sender.send(event)
}

func (r *remoteEditor) Decorations() []session.Decoration {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.decorations
}

func (r *remoteEditor) event() *protocol.DecorationsEvent {
	return &protocol.DecorationsEvent{
		Event:       constants.DecorationsEvent,
		Decorations: r.decorations,
		ReadOnly:    r.readOnly,
	}
}

// remoteClipboard 让前端把内容写入剪贴板
type remoteClipboard struct {
	sender eventSender
}

func (r *remoteClipboard) Write(text string) error {
	if !r.sender.send(&protocol.ClipboardEvent{Event: constants.ClipboardEvent, Text: text}) {
		return errConnectionClosed
	}
	return nil
}

// remoteStatus 状态栏提示，duration以后发送空消息清除
type remoteStatus struct {
	sender   eventSender
	ctx      context.Context
	duration time.Duration
	timeout  *utils.TimeoutManager
}

func newRemoteStatus(ctx context.Context, sender eventSender, duration time.Duration) *remoteStatus {
	return &remoteStatus{
		sender:   sender,
		ctx:      ctx,
		duration: duration,
		timeout:  utils.NewTimeoutManager(),
	}
}

func (r *remoteStatus) Flash(message string) {
	r.sender.send(&protocol.StatusEvent{Event: constants.StatusEvent, Message: message})
	if r.duration <= 0 {
		return
	}
	r.timeout.Start(r.ctx, r.duration, func() {
		r.sender.send(&protocol.StatusEvent{Event: constants.StatusEvent})
	})
}

func (r *remoteStatus) Close() {
	r.timeout.Cancel()
}
