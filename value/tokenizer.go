package value

import "strings"

// ScopeToken 复合值中的一个直接子元素
// Start、End 是父字符串中包围该元素的分隔符位置（左括号或逗号、逗号或右括号）
type ScopeToken struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Tokenize 把复合值的字符串形式拆分为直接子元素
//
// 只使用一个深度计数器和一个引号标记：引号内的括号、逗号都不生效；
// 深度为1时遇到逗号产生一个元素，深度回到0时产生最后一个元素并结束扫描。
// 第一个左括号决定了回到深度0时期望的右括号类型，内部的混合括号只计数不配对。
// 标量、括号不平衡、引号未闭合的字符串都返回空列表，调用方会把它当作叶子节点。
func Tokenize(text string) []ScopeToken {
	var (
		tokens  []ScopeToken
		depth   int
		inQuote bool
		closer  byte
		start   = -1
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inQuote {
			switch c {
			case '\\':
				i++
			case '"':
				inQuote = false
			}
			continue
		}
		switch c {
		case '"':
			inQuote = true
		case '{', '[':
			depth++
			if depth == 1 {
				closer = closing(c)
				start = i
			}
		case '}', ']':
			if depth == 0 {
				return nil
			}
			depth--
			if depth == 0 {
				if c != closer {
					return nil
				}
				return appendToken(tokens, text, start, i)
			}
		case ',':
			if depth == 1 {
				tokens = appendToken(tokens, text, start, i)
				start = i
			}
		}
	}
	// 没有遇到容器，或者容器没有闭合
	return nil
}

func closing(open byte) byte {
	if open == '{' {
		return '}'
	}
	return ']'
}

// appendToken 截取两个分隔符之间的内容，空内容（尾逗号、空容器）直接丢弃
func appendToken(tokens []ScopeToken, text string, start, end int) []ScopeToken {
	content := strings.TrimSpace(text[start+1 : end])
	if content == "" {
		return tokens
	}
	return append(tokens, ScopeToken{Text: content, Start: start, End: end})
}
