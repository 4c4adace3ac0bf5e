package protocol

import "github.com/fansqz/debug-playground/constants"

// BaseRequest 所有请求共有的字段，用于判断请求类型
type BaseRequest struct {
	Type constants.RequestType `json:"type"`
	// 请求序列号
	Sequence uint `json:"sequence"`
}

// ToggleBreakpointRequest 在某一行添加或删除断点
type ToggleBreakpointRequest struct {
	BaseRequest
	Line int `json:"line"`
}

// RunRequest 直接运行，Code不为空时先替换编辑器中的代码
type RunRequest struct {
	BaseRequest
	Code string `json:"code"`
}

// StartDebugRequest 启动调试请求，断点使用已经设置好的断点
type StartDebugRequest struct {
	BaseRequest
	// 用户代码
	Code string `json:"code"`
}

// ContinueRequest continue
type ContinueRequest struct {
	BaseRequest
}

// OpenVariableRequest 展开变量表中的第Index个变量
type OpenVariableRequest struct {
	BaseRequest
	Index int `json:"index"`
}

// SelectChildRequest 展开当前视图中的第Index个子元素
type SelectChildRequest struct {
	BaseRequest
	Index int `json:"index"`
}

// DismissRequest 关闭当前视图
type DismissRequest struct {
	BaseRequest
}

// GetStateRequest 获取会话状态和编辑器装饰
type GetStateRequest struct {
	BaseRequest
}
