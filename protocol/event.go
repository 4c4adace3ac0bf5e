package protocol

import (
	"github.com/fansqz/debug-playground/constants"
	"github.com/fansqz/debug-playground/inspector"
	"github.com/fansqz/debug-playground/session"
)

// StateEvent
// 会话状态变化，包括按钮是否可用、输出和变量表
type StateEvent struct {
	Event constants.EventType `json:"event"`
	State *session.UIState    `json:"state"`
}

// DecorationsEvent
// 编辑器的全部装饰，前端用它替换原来的装饰
type DecorationsEvent struct {
	Event       constants.EventType  `json:"event"`
	Decorations []session.Decoration `json:"decorations"`
	ReadOnly    bool                 `json:"readOnly"`
}

// StatusEvent
// 状态栏提示，Message为空表示清除
type StatusEvent struct {
	Event   constants.EventType `json:"event"`
	Message string              `json:"message"`
}

// ClipboardEvent
// 需要写入前端剪贴板的内容
type ClipboardEvent struct {
	Event constants.EventType `json:"event"`
	Text  string              `json:"text"`
}

// ViewEvent
// 变量查看器的当前视图，View为空表示回到变量表
type ViewEvent struct {
	Event constants.EventType `json:"event"`
	View  *inspector.View     `json:"view"`
}
