package utils

import (
	"context"
	"sync"
	"time"

	"github.com/fansqz/debug-playground/utils/gosync"
	"github.com/sirupsen/logrus"
)

// TimeoutManager 一个计时器
// 如果在timeout时间内没有执行reset命令，就会执行fun函数，
// 目前用于提示信息的自动消失
type TimeoutManager struct {
	lock          sync.Mutex
	timer         *time.Timer
	timeout       time.Duration
	resetChannel  chan struct{}
	cancelChannel chan struct{}
	fun           func()
}

// NewTimeoutManager 创建一个新的计时器实例
func NewTimeoutManager() *TimeoutManager {
	return &TimeoutManager{}
}

// Start 开始计时
// 在timeout时间内没有执行reset命令，就会执行fun函数。
// 上一次计时还没有结束时会先取消上一次计时
func (t *TimeoutManager) Start(ctx context.Context, timeout time.Duration, option func()) {
	t.Cancel()

	t.lock.Lock()
	timer := time.NewTimer(timeout)
	resetChannel := make(chan struct{}, 1)
	cancelChannel := make(chan struct{}, 1)
	t.timer = timer
	t.timeout = timeout
	t.fun = option
	t.resetChannel = resetChannel
	t.cancelChannel = cancelChannel
	t.lock.Unlock()

	gosync.Go(ctx, func(ctx context.Context) {
		for {
			select {
			case <-timer.C:
				logrus.Debugf("[TimeoutManager] Timer expired, performing action")
				option()
				return
			case <-resetChannel:
				logrus.Debugf("[TimeoutManager] reset")
				timer.Reset(timeout)
			case <-cancelChannel:
				logrus.Debugf("[TimeoutManager] cancel")
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	})
}

// Reset 重置计时器，计时已经结束时不做任何事
func (t *TimeoutManager) Reset() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.resetChannel == nil {
		return
	}
	select {
	case t.resetChannel <- struct{}{}:
	default:
	}
}

// Cancel 取消计时
func (t *TimeoutManager) Cancel() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.cancelChannel == nil {
		return
	}
	select {
	case t.cancelChannel <- struct{}{}:
	default:
	}
	t.cancelChannel = nil
	t.resetChannel = nil
}
