package utils

import (
	"sort"

	"github.com/emirpasic/gods/sets"
	"github.com/emirpasic/gods/sets/hashset"
)

func List2set[T any](list []T) sets.Set {
	set := hashset.New()
	for _, value := range list {
		set.Add(value)
	}
	return set
}

// DistinctLines 行号去重并排序
func DistinctLines(lines []int) []int {
	set := List2set(lines)
	answer := make([]int, 0, set.Size())
	for _, value := range set.Values() {
		answer = append(answer, value.(int))
	}
	sort.Ints(answer)
	return answer
}
