package session

import (
	"sort"

	"github.com/fansqz/debug-playground/breakpoint"
	"github.com/fansqz/debug-playground/constants"
)

// Decoration 编辑器某一行的装饰
type Decoration struct {
	Line  int                       `json:"line"`
	Class constants.DecorationClass `json:"class"`
}

// Decorations 根据断点和当前高亮的行计算编辑器的全部装饰，highlighted为0表示没有高亮。
// 每次都整体重新计算，编辑器用结果替换原来的装饰
func Decorations(breakpoints []breakpoint.Breakpoint, highlighted int) []Decoration {
	answer := make([]Decoration, 0, len(breakpoints)+1)
	for _, bp := range breakpoints {
		class := constants.BreakpointDecoration
		if !bp.Valid {
			class = constants.InvalidBreakpointDecoration
		}
		answer = append(answer, Decoration{Line: bp.LineNumber, Class: class})
	}
	if highlighted > 0 {
		answer = append(answer, Decoration{Line: highlighted, Class: constants.HighlightedLineDecoration})
	}
	sort.SliceStable(answer, func(i, j int) bool {
		return answer[i].Line < answer[j].Line
	})
	return answer
}
