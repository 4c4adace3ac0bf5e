package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(tokens []ScopeToken) []string {
	answer := make([]string, len(tokens))
	for i, token := range tokens {
		answer[i] = token.Text
	}
	return answer
}

func TestTokenize_List(t *testing.T) {
	tokens := Tokenize("[1, 2, 3]")
	assert.Equal(t, []string{"1", "2", "3"}, texts(tokens))
	// 边界为括号和逗号的位置
	assert.Equal(t, ScopeToken{Text: "1", Start: 0, End: 2}, tokens[0])
	assert.Equal(t, ScopeToken{Text: "2", Start: 2, End: 5}, tokens[1])
	assert.Equal(t, ScopeToken{Text: "3", Start: 5, End: 8}, tokens[2])
}

func TestTokenize_Object(t *testing.T) {
	tokens := Tokenize(`{"x": 10, "y": 20}`)
	assert.Equal(t, []string{`"x": 10`, `"y": 20`}, texts(tokens))
}

func TestTokenize_QuotedComma(t *testing.T) {
	tokens := Tokenize(`{"a": "x,y", "b": 2}`)
	assert.Len(t, tokens, 2)
	assert.Equal(t, `"a": "x,y"`, tokens[0].Text)
}

func TestTokenize_QuotedBrackets(t *testing.T) {
	tokens := Tokenize(`["}", "[", "\"]"]`)
	assert.Equal(t, []string{`"}"`, `"["`, `"\"]"`}, texts(tokens))
}

func TestTokenize_Nested(t *testing.T) {
	tokens := Tokenize(`{Name: "Alice", Tags: ["a", "b"], Pos: {X: 1, Y: [2, {Z: 3}]}}`)
	assert.Equal(t, []string{
		`Name: "Alice"`,
		`Tags: ["a", "b"]`,
		`Pos: {X: 1, Y: [2, {Z: 3}]}`,
	}, texts(tokens))

	// 递归在上一层完成：再次对子元素调用
	_, pos := SplitEntry(tokens[2].Text)
	assert.Equal(t, []string{"X: 1", "Y: [2, {Z: 3}]"}, texts(Tokenize(pos)))
}

func TestTokenize_Leaf(t *testing.T) {
	assert.Empty(t, Tokenize("42"))
	assert.Empty(t, Tokenize(`"hello"`))
	assert.Empty(t, Tokenize(`"[not, a, list]"`))
	assert.Empty(t, Tokenize("nil"))
	assert.Empty(t, Tokenize(""))
}

func TestTokenize_EmptyAndTrailing(t *testing.T) {
	assert.Empty(t, Tokenize("[]"))
	assert.Empty(t, Tokenize("{}"))
	assert.Empty(t, Tokenize("[ , ]"))
	assert.Equal(t, []string{"1", "2"}, texts(Tokenize("[1, 2, ]")))
}

func TestTokenize_Malformed(t *testing.T) {
	assert.Empty(t, Tokenize("[1, 2"))
	assert.Empty(t, Tokenize("1, 2]"))
	assert.Empty(t, Tokenize(`["open, 2]`))
	assert.Empty(t, Tokenize("[1, 2}"))
}

func TestTokenize_Pointer(t *testing.T) {
	// 指针的值形如 0xc000010000: {...}，只对第一个容器拆分
	tokens := Tokenize(`0xc000010000: {Name: "Alice", Age: 30}`)
	assert.Equal(t, []string{`Name: "Alice"`, "Age: 30"}, texts(tokens))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, List, Classify("[1]"))
	assert.Equal(t, Object, Classify(`  {"a": 1}`))
	assert.Equal(t, Object, Classify("0xc000: {A: [1]}"))
	assert.Equal(t, List, Classify("0xc000: [{A: 1}]"))
	assert.Equal(t, List, Classify("42"))
}

func TestParse(t *testing.T) {
	assert.Equal(t, Leaf{Text: "42"}, Parse(" 42 "))
	assert.Equal(t, Leaf{Text: "[1, 2"}, Parse("[1, 2"))

	node := Parse(`{"x": 10}`)
	container, ok := node.(Container)
	assert.True(t, ok)
	assert.Equal(t, Object, container.Kind)
	assert.Len(t, container.Children, 1)
}

func TestSplitEntry(t *testing.T) {
	key, val := SplitEntry(`"a:b": {X: 1}`)
	assert.Equal(t, `"a:b"`, key)
	assert.Equal(t, "{X: 1}", val)

	key, val = SplitEntry("Age: 30")
	assert.Equal(t, "Age", key)
	assert.Equal(t, "30", val)

	key, val = SplitEntry("30")
	assert.Equal(t, "", key)
	assert.Equal(t, "30", val)
}

func TestKind_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]Kind{"a": List, "b": Object})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": "list", "b": "object"}`, string(data))

	var kind Kind
	require.NoError(t, json.Unmarshal([]byte(`"object"`), &kind))
	assert.Equal(t, Object, kind)
	assert.Error(t, json.Unmarshal([]byte(`"tree"`), &kind))
}
