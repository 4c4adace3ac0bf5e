package value

import (
	"fmt"
	"strings"
)

// Kind 复合值的容器类型
type Kind int

const (
	// List 数组、切片，子元素按下标访问
	List Kind = iota
	// Object 结构体、map，子元素为 key: value
	Object
)

func (k Kind) String() string {
	if k == Object {
		return "object"
	}
	return "list"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "object":
		*k = Object
	case "list":
		*k = List
	default:
		return fmt.Errorf("unknown kind %q", text)
	}
	return nil
}

// Classify 判断值的容器类型
// 第一个非空白字符是 [ 为List，是 { 为Object；否则看 [ 和 { 谁先出现（如指针 0xc000: {...}）。
// 没有括号的标量约定为List，Tokenize会返回空列表，不影响结果
func Classify(text string) Kind {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return List
	}
	switch trimmed[0] {
	case '[':
		return List
	case '{':
		return Object
	}
	square := strings.IndexByte(trimmed, '[')
	curly := strings.IndexByte(trimmed, '{')
	if curly >= 0 && (square < 0 || curly < square) {
		return Object
	}
	return List
}

// Node 按需解析出来的一层值，只有Leaf和Container两种
type Node interface {
	isNode()
}

// Leaf 不能再展开的值
type Leaf struct {
	Text string
}

// Container 可以展开的值，Children只包含直接子元素
type Container struct {
	Kind     Kind
	Children []ScopeToken
}

func (Leaf) isNode()      {}
func (Container) isNode() {}

// Parse 解析一层，不会递归，子元素需要再次调用Parse
func Parse(text string) Node {
	children := Tokenize(text)
	if len(children) == 0 {
		return Leaf{Text: strings.TrimSpace(text)}
	}
	return Container{Kind: Classify(text), Children: children}
}

// SplitEntry 把对象的一个元素拆成key和value，分隔符是第一个不在引号内的冒号。
// 没有冒号时key为空，value为整个元素
func SplitEntry(entry string) (key string, val string) {
	inQuote := false
	for i := 0; i < len(entry); i++ {
		switch c := entry[i]; {
		case inQuote && c == '\\':
			i++
		case c == '"':
			inQuote = !inQuote
		case !inQuote && c == ':':
			return strings.TrimSpace(entry[:i]), strings.TrimSpace(entry[i+1:])
		}
	}
	return "", strings.TrimSpace(entry)
}
