package inspector

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/emirpasic/gods/stacks/arraystack"
	"github.com/fansqz/debug-playground/debugger"
	e "github.com/fansqz/debug-playground/error"
	"github.com/fansqz/debug-playground/value"
	"github.com/sirupsen/logrus"
)

// Clipboard 剪贴板
type Clipboard interface {
	Write(text string) error
}

// Status 短暂显示的提示信息
type Status interface {
	Flash(message string)
}

// Item 视图中的一个子元素
type Item struct {
	Title string           `json:"title"`
	Path  string           `json:"path"`  // 子元素的访问路径，如 [0]、.Name、["key"]
	Value string           `json:"value"` // 子元素的值，展开时再次解析
	Token value.ScopeToken `json:"token"`
}

// View 复合值某一层的展示内容
type View struct {
	Header string     `json:"header"` // 面包屑拼接以后的完整访问路径
	Kind   value.Kind `json:"kind"`
	Items  []Item     `json:"items"`
}

// crumb 面包屑中的一项，记录路径和该层的值，返回上一层时重新解析
type crumb struct {
	segment string
	value   string
}

// Inspector 变量查看器
// 每次只解析一层，展开子元素时压栈，关闭视图时出栈
type Inspector struct {
	lock       sync.Mutex
	clipboard  Clipboard
	status     Status
	variables  []*debugger.Variable
	breadcrumb *arraystack.Stack
}

func NewInspector(clipboard Clipboard, status Status) *Inspector {
	return &Inspector{
		clipboard:  clipboard,
		status:     status,
		breadcrumb: arraystack.New(),
	}
}

// ShowVariables 重新渲染栈帧的变量表，面包屑清空
func (i *Inspector) ShowVariables(variables []*debugger.Variable) {
	i.lock.Lock()
	defer i.lock.Unlock()
	i.variables = variables
	i.breadcrumb.Clear()
}

// Reset 调试结束，清空变量表和面包屑
func (i *Inspector) Reset() {
	i.lock.Lock()
	defer i.lock.Unlock()
	i.variables = nil
	i.breadcrumb.Clear()
}

// Variables 当前的变量表
func (i *Inspector) Variables() []*debugger.Variable {
	i.lock.Lock()
	defer i.lock.Unlock()
	return i.variables
}

// Render 把path压入面包屑并展示text的一层
// text是叶子节点时，把叶子的内容复制到剪贴板并出栈，返回nil
func (i *Inspector) Render(path string, text string) *View {
	i.lock.Lock()
	defer i.lock.Unlock()
	return i.render(path, text)
}

func (i *Inspector) render(path string, text string) *View {
	i.breadcrumb.Push(&crumb{segment: path, value: text})
	view := i.current()
	if view == nil {
		i.breadcrumb.Pop()
		i.copyLeaf(text)
	}
	return view
}

// Open 展开变量表中的第index个变量
func (i *Inspector) Open(index int) (*View, error) {
	i.lock.Lock()
	defer i.lock.Unlock()
	if index < 0 || index >= len(i.variables) {
		return nil, e.ErrIndexOutOfRange
	}
	i.breadcrumb.Clear()
	variable := i.variables[index]
	return i.render(variable.Name, variable.Value), nil
}

// Select 展开当前视图中的第index个子元素
func (i *Inspector) Select(index int) (*View, error) {
	i.lock.Lock()
	defer i.lock.Unlock()
	view := i.current()
	if view == nil || index < 0 || index >= len(view.Items) {
		return nil, e.ErrIndexOutOfRange
	}
	item := view.Items[index]
	child := i.render(item.Path, item.Value)
	if child == nil {
		// 叶子节点，停留在当前视图
		return view, nil
	}
	return child, nil
}

// Dismiss 关闭当前视图，返回上一层视图，回到变量表时返回nil
func (i *Inspector) Dismiss() (*View, error) {
	i.lock.Lock()
	defer i.lock.Unlock()
	if _, ok := i.breadcrumb.Pop(); !ok {
		return nil, e.ErrNothingToDismiss
	}
	return i.current(), nil
}

// Current 当前视图，在变量表时返回nil
func (i *Inspector) Current() *View {
	i.lock.Lock()
	defer i.lock.Unlock()
	return i.current()
}

// Breadcrumb 从变量名开始的完整访问路径
func (i *Inspector) Breadcrumb() string {
	i.lock.Lock()
	defer i.lock.Unlock()
	return i.header()
}

// Depth 面包屑的层数
func (i *Inspector) Depth() int {
	i.lock.Lock()
	defer i.lock.Unlock()
	return i.breadcrumb.Size()
}

// current 根据栈顶重新解析当前视图
func (i *Inspector) current() *View {
	top, ok := i.breadcrumb.Peek()
	if !ok {
		return nil
	}
	switch node := value.Parse(top.(*crumb).value).(type) {
	case value.Container:
		return &View{
			Header: i.header(),
			Kind:   node.Kind,
			Items:  Items(node.Kind, node.Children),
		}
	default:
		// 叶子节点没有视图
		return nil
	}
}

func (i *Inspector) header() string {
	values := i.breadcrumb.Values()
	var sb strings.Builder
	// 栈的Values是后进先出的顺序
	for j := len(values) - 1; j >= 0; j-- {
		sb.WriteString(values[j].(*crumb).segment)
	}
	return sb.String()
}

func (i *Inspector) copyLeaf(text string) {
	text = strings.TrimSpace(text)
	if i.clipboard == nil {
		return
	}
	if err := i.clipboard.Write(text); err != nil {
		logrus.Warnf("[Inspector] copy to clipboard fail, err = %v", err)
		i.flash(fmt.Sprintf("Copy failed: %v", err))
		return
	}
	i.flash(fmt.Sprintf("Copied %s", text))
}

func (i *Inspector) flash(message string) {
	if i.status != nil {
		i.status.Flash(message)
	}
}

// Items 计算每个子元素的标题、访问路径和值
// 数组的标题为下标，路径为 [i]；对象的标题为冒号前的key，
// key是标识符时路径为 .key，否则为 [key]
func Items(kind value.Kind, tokens []value.ScopeToken) []Item {
	items := make([]Item, len(tokens))
	for idx, token := range tokens {
		if kind == value.List {
			items[idx] = Item{
				Title: strconv.Itoa(idx),
				Path:  fmt.Sprintf("[%d]", idx),
				Value: token.Text,
				Token: token,
			}
			continue
		}
		key, val := value.SplitEntry(token.Text)
		if key == "" {
			key = strconv.Itoa(idx)
		}
		path := "[" + key + "]"
		if isIdentifier(key) {
			path = "." + key
		}
		items[idx] = Item{
			Title: key,
			Path:  path,
			Value: val,
			Token: token,
		}
	}
	return items
}

func isIdentifier(key string) bool {
	if key == "" {
		return false
	}
	for idx, r := range key {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if idx > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}
