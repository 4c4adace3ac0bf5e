package utils

import "sync"

// Status 解释器后端的运行状态
type Status string

const (
	// Init 还没有开始调试
	Init Status = "init"
	// Stopped 用户程序暂停
	Stopped Status = "stopped"
	// Running 用户程序运行中
	Running Status = "running"
	// Finish 调试结束状态，可以重新开始调试
	Finish Status = "finish"
)

// StatusManager 记录调试器的状态的
type StatusManager struct {
	lock   sync.RWMutex
	status Status
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: Init,
	}
}

func (s *StatusManager) Set(status Status) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

func (s *StatusManager) Get() Status {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...Status) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}

// Transfer 当前状态属于from时切换为to，返回是否切换成功
func (s *StatusManager) Transfer(to Status, from ...Status) bool {
	defer s.lock.Unlock()
	s.lock.Lock()
	for _, status := range from {
		if s.status == status {
			s.status = to
			return true
		}
	}
	return false
}
