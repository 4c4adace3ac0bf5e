package yaegi_debugger

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// maxFormatDepth 防止循环引用的指针无限展开
const maxFormatDepth = 16

// FormatValue 把变量转换为字符串形式，返回值和类型名称
// 复合类型展开为 [1, 2] 或 {"x": 10} 的形式，map按key排序，保证多次展示的结果一致
func FormatValue(v reflect.Value) (string, string) {
	if !v.IsValid() {
		return "nil", "invalid"
	}
	return formatValue(v, 0), v.Type().String()
}

func formatValue(v reflect.Value, depth int) string {
	if !v.IsValid() {
		return "nil"
	}
	if depth > maxFormatDepth {
		return "..."
	}

	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%d", v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return fmt.Sprintf("%d", v.Uint())
	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%g", v.Float())
	case reflect.Complex64, reflect.Complex128:
		c := v.Complex()
		return fmt.Sprintf("(%g+%gi)", real(c), imag(c))
	case reflect.Bool:
		if v.Bool() {
			return "true"
		}
		return "false"
	case reflect.String:
		return fmt.Sprintf("%q", v.String())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return "[]"
		}
		elems := make([]string, v.Len())
		for i := 0; i < v.Len(); i++ {
			elems[i] = formatValue(v.Index(i), depth+1)
		}
		return "[" + strings.Join(elems, ", ") + "]"
	case reflect.Map:
		pairs := make([]string, 0, v.Len())
		for _, key := range v.MapKeys() {
			pairs = append(pairs, formatValue(key, depth+1)+": "+formatValue(v.MapIndex(key), depth+1))
		}
		sort.Strings(pairs)
		return "{" + strings.Join(pairs, ", ") + "}"
	case reflect.Struct:
		fields := make([]string, v.NumField())
		for i := 0; i < v.NumField(); i++ {
			fields[i] = v.Type().Field(i).Name + ": " + formatValue(v.Field(i), depth+1)
		}
		return "{" + strings.Join(fields, ", ") + "}"
	case reflect.Interface:
		if v.IsNil() {
			return "nil"
		}
		return formatValue(v.Elem(), depth+1)
	case reflect.Pointer:
		if v.IsNil() {
			return "nil"
		}
		return fmt.Sprintf("0x%x: %s", v.Pointer(), formatValue(v.Elem(), depth+1))
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		if v.IsNil() {
			return "nil"
		}
		return fmt.Sprintf("0x%x", v.Pointer())
	default:
		if v.CanInterface() {
			return fmt.Sprintf("%v", v.Interface())
		}
		return v.String()
	}
}
