package breakpoint

import (
	"fmt"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/fansqz/debug-playground/debugger"
	e "github.com/fansqz/debug-playground/error"
	"github.com/sirupsen/logrus"
)

// Breakpoint 用户设置的断点
type Breakpoint struct {
	LineNumber int `json:"lineNumber"`
	// Position 解释器解析以后分配的位置，空字符串表示还没有解析
	Position string `json:"position"`
	// Valid 解释器报告该断点无法命中时为false
	Valid bool `json:"valid"`
}

// Store 断点记录，以行号为key
// Position和Valid只能由解释器的断点更新修改，用户只能添加和删除
type Store struct {
	lock        sync.RWMutex
	breakpoints *treemap.Map
	// stepPending 调试请求还未完成时，不允许修改断点
	stepPending bool
	// listener 断点发生变化以后的回调，用于刷新编辑器装饰
	listener func()
}

func NewStore() *Store {
	return &Store{
		breakpoints: treemap.NewWithIntComparator(),
	}
}

// OnChange 设置断点变化的回调，回调在锁外执行
func (s *Store) OnChange(listener func()) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.listener = listener
}

// SetStepPending 标记是否有还未完成的调试请求
func (s *Store) SetStepPending(pending bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.stepPending = pending
}

// Toggle 如果该行没有断点就添加一个，否则删除
// 返回true表示添加，false表示删除
func (s *Store) Toggle(line int) (bool, error) {
	if line <= 0 {
		return false, fmt.Errorf("invalid line number %d", line)
	}
	s.lock.Lock()
	if s.stepPending {
		s.lock.Unlock()
		return false, e.ErrStepPending
	}
	_, found := s.breakpoints.Get(line)
	if found {
		s.breakpoints.Remove(line)
	} else {
		s.breakpoints.Put(line, &Breakpoint{LineNumber: line, Valid: true})
	}
	s.lock.Unlock()

	s.notify()
	return !found, nil
}

// ApplyInterpreterUpdate 使用解释器返回的结果更新断点
// 该行的断点已经被用户删除时直接忽略
func (s *Store) ApplyInterpreterUpdate(updates []*debugger.BreakpointUpdate) {
	s.lock.Lock()
	if s.breakpoints.Empty() || len(updates) == 0 {
		s.lock.Unlock()
		return
	}
	applied := 0
	for _, update := range updates {
		if update == nil {
			continue
		}
		value, found := s.breakpoints.Get(update.LineNumber)
		if !found {
			logrus.Debugf("[BreakpointStore] drop update for removed line %d", update.LineNumber)
			continue
		}
		bp := value.(*Breakpoint)
		bp.Position = update.Position
		bp.Valid = update.Valid
		applied++
	}
	s.lock.Unlock()

	if applied > 0 {
		s.notify()
	}
}

// ResetPositions 清空解释器分配的位置
// 位置在重新编译以后不保证一致，每次开始调试前都需要调用
func (s *Store) ResetPositions() {
	s.lock.Lock()
	if s.breakpoints.Empty() {
		s.lock.Unlock()
		return
	}
	it := s.breakpoints.Iterator()
	for it.Next() {
		bp := it.Value().(*Breakpoint)
		bp.Position = ""
		bp.Valid = true
	}
	s.lock.Unlock()

	s.notify()
}

// Values 返回所有断点的拷贝，调用方不要依赖返回的顺序
func (s *Store) Values() []Breakpoint {
	s.lock.RLock()
	defer s.lock.RUnlock()
	answer := make([]Breakpoint, 0, s.breakpoints.Size())
	it := s.breakpoints.Iterator()
	for it.Next() {
		answer = append(answer, *it.Value().(*Breakpoint))
	}
	return answer
}

// LineNumbers 所有断点的行号
func (s *Store) LineNumbers() []int {
	values := s.Values()
	answer := make([]int, len(values))
	for i, bp := range values {
		answer[i] = bp.LineNumber
	}
	return answer
}

// Find 查找位置为position的有效断点
func (s *Store) Find(position string) (Breakpoint, bool) {
	if position == "" {
		return Breakpoint{}, false
	}
	for _, bp := range s.Values() {
		if bp.Valid && bp.Position == position {
			return bp, true
		}
	}
	return Breakpoint{}, false
}

// Has 该行是否有断点
func (s *Store) Has(line int) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, found := s.breakpoints.Get(line)
	return found
}

func (s *Store) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.breakpoints.Size()
}

func (s *Store) notify() {
	s.lock.RLock()
	listener := s.listener
	s.lock.RUnlock()
	if listener != nil {
		listener()
	}
}
